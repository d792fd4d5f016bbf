// Package repository — хранилища checkout сервиса на GORM (MySQL).
// Модели отделены от доменных сущностей; составные записи идут в одной транзакции вместе с outbox.
package repository

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"example.com/tap-checkout/pkg/outbox"
	"example.com/tap-checkout/services/checkout/internal/domain"
)

// Models — все таблицы сервиса для AutoMigrate.
func Models() []any {
	return []any{
		&UserModel{},
		&ProductModel{},
		&ProductVariantModel{},
		&PromoCodeModel{},
		&AddressModel{},
		&OrderModel{},
		&OrderItemModel{},
		&PaymentModel{},
		&InvoiceCounterModel{},
		&InvoiceModel{},
		&ShipmentModel{},
		&WebhookEventModel{},
		&outbox.RecordModel{},
	}
}

// =============================================================================
// Заказы
// =============================================================================

// OrderModel — таблица orders.
type OrderModel struct {
	ID                 string           `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderNumber        string           `gorm:"column:order_number;type:varchar(32);not null;uniqueIndex"`
	UserID             uint64           `gorm:"column:user_id;not null;index"`
	AddressID          uint64           `gorm:"column:address_id;not null"`
	Subtotal           decimal.Decimal  `gorm:"column:subtotal;type:decimal(10,2);not null"`
	Tax                decimal.Decimal  `gorm:"column:tax;type:decimal(10,2);not null"`
	Shipping           decimal.Decimal  `gorm:"column:shipping;type:decimal(10,2);not null"`
	Discount           decimal.Decimal  `gorm:"column:discount;type:decimal(10,2);not null;default:0"`
	Total              decimal.Decimal  `gorm:"column:total;type:decimal(10,2);not null"`
	Currency           string           `gorm:"column:currency;type:varchar(3);not null"`
	PaymentMethod      string           `gorm:"column:payment_method;type:varchar(16);not null"`
	Status             string           `gorm:"column:status;type:varchar(16);not null;index"`
	PaymentStatus      string           `gorm:"column:payment_status;type:varchar(16);not null;index"`
	FulfillmentStatus  string           `gorm:"column:fulfillment_status;type:varchar(16);not null;default:unfulfilled"`
	GatewayChargeID    *string          `gorm:"column:gateway_charge_id;type:varchar(64);index"`
	GatewayRawResponse datatypes.JSON   `gorm:"column:gateway_raw_response"`
	PromoCode          *string          `gorm:"column:promo_code;type:varchar(64)"`
	StockRestored      bool             `gorm:"column:stock_restored;not null;default:false"`
	IdempotencyKey     *string          `gorm:"column:idempotency_key;type:varchar(64);uniqueIndex"`
	CreatedAt          time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time        `gorm:"column:updated_at;autoUpdateTime"`
	Items              []OrderItemModel `gorm:"foreignKey:OrderID;references:ID"`
	Address            *AddressModel    `gorm:"foreignKey:AddressID"`
}

func (OrderModel) TableName() string { return "orders" }

// OrderItemModel — таблица order_items.
type OrderItemModel struct {
	ID           uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID      string          `gorm:"column:order_id;type:varchar(36);not null;index"`
	ProductID    uint64          `gorm:"column:product_id;not null;index"`
	VariantID    *uint64         `gorm:"column:variant_id"`
	ProductName  string          `gorm:"column:product_name;type:varchar(255);not null"`
	SKU          string          `gorm:"column:sku;type:varchar(64)"`
	VariantName  string          `gorm:"column:variant_name;type:varchar(64)"`
	VariantValue string          `gorm:"column:variant_value;type:varchar(64)"`
	Quantity     int             `gorm:"column:quantity;not null"`
	UnitPrice    decimal.Decimal `gorm:"column:unit_price;type:decimal(10,2);not null"`
	LineTotal    decimal.Decimal `gorm:"column:line_total;type:decimal(10,2);not null"`
}

func (OrderItemModel) TableName() string { return "order_items" }

// AddressModel — снимок адреса заказа.
type AddressModel struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	UserID     uint64    `gorm:"column:user_id;not null;index"`
	FullName   string    `gorm:"column:full_name;type:varchar(128);not null"`
	Phone      string    `gorm:"column:phone;type:varchar(32);not null"`
	Line1      string    `gorm:"column:line1;type:varchar(255);not null"`
	Line2      string    `gorm:"column:line2;type:varchar(255)"`
	City       string    `gorm:"column:city;type:varchar(64)"`
	State      string    `gorm:"column:state;type:varchar(64)"`
	PostalCode string    `gorm:"column:postal_code;type:varchar(16)"`
	Country    string    `gorm:"column:country;type:varchar(64)"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (AddressModel) TableName() string { return "addresses" }

func (m *OrderModel) toDomain() *domain.Order {
	o := &domain.Order{
		ID:                 m.ID,
		OrderNumber:        m.OrderNumber,
		UserID:             m.UserID,
		AddressID:          m.AddressID,
		Subtotal:           m.Subtotal,
		Tax:                m.Tax,
		Shipping:           m.Shipping,
		Discount:           m.Discount,
		Total:              m.Total,
		Currency:           m.Currency,
		PaymentMethod:      domain.PaymentMethod(m.PaymentMethod),
		Status:             domain.OrderStatus(m.Status),
		PaymentStatus:      domain.PaymentStatus(m.PaymentStatus),
		FulfillmentStatus:  domain.FulfillmentStatus(m.FulfillmentStatus),
		GatewayChargeID:    m.GatewayChargeID,
		GatewayRawResponse: []byte(m.GatewayRawResponse),
		PromoCode:          m.PromoCode,
		StockRestored:      m.StockRestored,
		IdempotencyKey:     m.IdempotencyKey,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
		Items:              make([]domain.OrderItem, len(m.Items)),
	}
	for i := range m.Items {
		o.Items[i] = m.Items[i].toDomain()
	}
	if m.Address != nil {
		addr := m.Address.toDomain()
		o.Address = &addr
	}
	return o
}

func orderModelFromDomain(o *domain.Order) *OrderModel {
	m := &OrderModel{
		ID:                 o.ID,
		OrderNumber:        o.OrderNumber,
		UserID:             o.UserID,
		AddressID:          o.AddressID,
		Subtotal:           o.Subtotal,
		Tax:                o.Tax,
		Shipping:           o.Shipping,
		Discount:           o.Discount,
		Total:              o.Total,
		Currency:           o.Currency,
		PaymentMethod:      string(o.PaymentMethod),
		Status:             string(o.Status),
		PaymentStatus:      string(o.PaymentStatus),
		FulfillmentStatus:  string(o.FulfillmentStatus),
		GatewayChargeID:    o.GatewayChargeID,
		GatewayRawResponse: rawJSON(o.GatewayRawResponse),
		PromoCode:          o.PromoCode,
		StockRestored:      o.StockRestored,
		IdempotencyKey:     o.IdempotencyKey,
	}
	if m.FulfillmentStatus == "" {
		m.FulfillmentStatus = string(domain.FulfillmentUnfulfilled)
	}
	return m
}

func (m *OrderItemModel) toDomain() domain.OrderItem {
	return domain.OrderItem{
		ID:           m.ID,
		OrderID:      m.OrderID,
		ProductID:    m.ProductID,
		VariantID:    m.VariantID,
		ProductName:  m.ProductName,
		SKU:          m.SKU,
		VariantName:  m.VariantName,
		VariantValue: m.VariantValue,
		Quantity:     m.Quantity,
		UnitPrice:    m.UnitPrice,
		LineTotal:    m.LineTotal,
	}
}

func orderItemModelFromDomain(orderID string, it *domain.OrderItem) *OrderItemModel {
	return &OrderItemModel{
		OrderID:      orderID,
		ProductID:    it.ProductID,
		VariantID:    it.VariantID,
		ProductName:  it.ProductName,
		SKU:          it.SKU,
		VariantName:  it.VariantName,
		VariantValue: it.VariantValue,
		Quantity:     it.Quantity,
		UnitPrice:    it.UnitPrice,
		LineTotal:    it.LineTotal,
	}
}

func (m *AddressModel) toDomain() domain.Address {
	return domain.Address{
		ID:         m.ID,
		UserID:     m.UserID,
		FullName:   m.FullName,
		Phone:      m.Phone,
		Line1:      m.Line1,
		Line2:      m.Line2,
		City:       m.City,
		State:      m.State,
		PostalCode: m.PostalCode,
		Country:    m.Country,
	}
}

func addressModelFromDomain(a domain.Address) *AddressModel {
	return &AddressModel{
		UserID:     a.UserID,
		FullName:   a.FullName,
		Phone:      a.Phone,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

// =============================================================================
// Платежи
// =============================================================================

// PaymentModel — таблица payments.
type PaymentModel struct {
	ID                 uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID            string          `gorm:"column:order_id;type:varchar(36);not null;index"`
	UserID             uint64          `gorm:"column:user_id;not null"`
	PaymentReference   string          `gorm:"column:payment_reference;type:varchar(64);not null;uniqueIndex"`
	PaymentMethod      string          `gorm:"column:payment_method;type:varchar(16);not null"`
	Amount             decimal.Decimal `gorm:"column:amount;type:decimal(10,2);not null"`
	Currency           string          `gorm:"column:currency;type:varchar(3);not null"`
	Status             string          `gorm:"column:status;type:varchar(16);not null"`
	GatewayRawResponse datatypes.JSON  `gorm:"column:gateway_raw_response"`
	RefundReference    *string         `gorm:"column:refund_reference;type:varchar(64)"`
	RefundDate         *time.Time      `gorm:"column:refund_date"`
	CreatedAt          time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentModel) TableName() string { return "payments" }

func (m *PaymentModel) toDomain() *domain.Payment {
	return &domain.Payment{
		ID:                 m.ID,
		OrderID:            m.OrderID,
		UserID:             m.UserID,
		PaymentReference:   m.PaymentReference,
		PaymentMethod:      domain.PaymentMethod(m.PaymentMethod),
		Amount:             m.Amount,
		Currency:           m.Currency,
		Status:             domain.PaymentRecordStatus(m.Status),
		GatewayRawResponse: []byte(m.GatewayRawResponse),
		RefundReference:    m.RefundReference,
		RefundDate:         m.RefundDate,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func paymentModelFromDomain(p *domain.Payment) *PaymentModel {
	return &PaymentModel{
		ID:                 p.ID,
		OrderID:            p.OrderID,
		UserID:             p.UserID,
		PaymentReference:   p.PaymentReference,
		PaymentMethod:      string(p.PaymentMethod),
		Amount:             p.Amount,
		Currency:           p.Currency,
		Status:             string(p.Status),
		GatewayRawResponse: rawJSON(p.GatewayRawResponse),
		RefundReference:    p.RefundReference,
		RefundDate:         p.RefundDate,
		CreatedAt:          p.CreatedAt,
	}
}

// =============================================================================
// Счета
// =============================================================================

// InvoiceModel — таблица invoices. Один счёт на заказ.
type InvoiceModel struct {
	ID             uint64                                  `gorm:"column:id;primaryKey;autoIncrement"`
	InvoiceNumber  string                                  `gorm:"column:invoice_number;type:varchar(32);not null;uniqueIndex"`
	OrderID        string                                  `gorm:"column:order_id;type:varchar(36);not null;uniqueIndex"`
	OrderNumber    string                                  `gorm:"column:order_number;type:varchar(32);not null"`
	UserID         uint64                                  `gorm:"column:user_id;not null;index"`
	BillingName    string                                  `gorm:"column:billing_name;type:varchar(128)"`
	BillingEmail   string                                  `gorm:"column:billing_email;type:varchar(128)"`
	BillingPhone   string                                  `gorm:"column:billing_phone;type:varchar(32)"`
	BillingAddress string                                  `gorm:"column:billing_address;type:text"`
	Items          datatypes.JSONSlice[domain.InvoiceItem] `gorm:"column:items;not null"`
	Subtotal       decimal.Decimal                         `gorm:"column:subtotal;type:decimal(10,2);not null"`
	VATPercentage  decimal.Decimal                         `gorm:"column:vat_percentage;type:decimal(5,2);not null"`
	VATAmount      decimal.Decimal                         `gorm:"column:vat_amount;type:decimal(10,2);not null"`
	ShippingFee    decimal.Decimal                         `gorm:"column:shipping_fee;type:decimal(10,2);not null"`
	Discount       decimal.Decimal                         `gorm:"column:discount;type:decimal(10,2);not null"`
	GrandTotal     decimal.Decimal                         `gorm:"column:grand_total;type:decimal(10,2);not null"`
	Currency       string                                  `gorm:"column:currency;type:varchar(3);not null"`
	VATNumber      string                                  `gorm:"column:vat_number;type:varchar(32)"`
	PaymentMethod  string                                  `gorm:"column:payment_method;type:varchar(16)"`
	PaymentStatus  string                                  `gorm:"column:payment_status;type:varchar(16)"`
	DocumentPath   *string                                 `gorm:"column:document_path;type:varchar(255)"`
	CreatedAt      time.Time                               `gorm:"column:created_at;autoCreateTime"`
}

func (InvoiceModel) TableName() string { return "invoices" }

// InvoiceCounterModel — последний номер счёта за год.
type InvoiceCounterModel struct {
	Year      int   `gorm:"column:year;primaryKey;autoIncrement:false"`
	LastValue int64 `gorm:"column:last_value;not null"`
}

func (InvoiceCounterModel) TableName() string { return "invoice_counters" }

func (m *InvoiceModel) toDomain() *domain.Invoice {
	return &domain.Invoice{
		ID:             m.ID,
		InvoiceNumber:  m.InvoiceNumber,
		OrderID:        m.OrderID,
		OrderNumber:    m.OrderNumber,
		UserID:         m.UserID,
		BillingName:    m.BillingName,
		BillingEmail:   m.BillingEmail,
		BillingPhone:   m.BillingPhone,
		BillingAddress: m.BillingAddress,
		Items:          []domain.InvoiceItem(m.Items),
		Subtotal:       m.Subtotal,
		VATPercentage:  m.VATPercentage,
		VATAmount:      m.VATAmount,
		ShippingFee:    m.ShippingFee,
		Discount:       m.Discount,
		GrandTotal:     m.GrandTotal,
		Currency:       m.Currency,
		VATNumber:      m.VATNumber,
		PaymentMethod:  domain.PaymentMethod(m.PaymentMethod),
		PaymentStatus:  domain.PaymentStatus(m.PaymentStatus),
		DocumentPath:   m.DocumentPath,
		CreatedAt:      m.CreatedAt,
	}
}

func invoiceModelFromDomain(i *domain.Invoice) *InvoiceModel {
	return &InvoiceModel{
		InvoiceNumber:  i.InvoiceNumber,
		OrderID:        i.OrderID,
		OrderNumber:    i.OrderNumber,
		UserID:         i.UserID,
		BillingName:    i.BillingName,
		BillingEmail:   i.BillingEmail,
		BillingPhone:   i.BillingPhone,
		BillingAddress: i.BillingAddress,
		Items:          datatypes.JSONSlice[domain.InvoiceItem](i.Items),
		Subtotal:       i.Subtotal,
		VATPercentage:  i.VATPercentage,
		VATAmount:      i.VATAmount,
		ShippingFee:    i.ShippingFee,
		Discount:       i.Discount,
		GrandTotal:     i.GrandTotal,
		Currency:       i.Currency,
		VATNumber:      i.VATNumber,
		PaymentMethod:  string(i.PaymentMethod),
		PaymentStatus:  string(i.PaymentStatus),
		DocumentPath:   i.DocumentPath,
	}
}

// =============================================================================
// Отгрузки и webhook
// =============================================================================

// ShipmentModel — таблица shipments.
type ShipmentModel struct {
	ID             uint64     `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID        string     `gorm:"column:order_id;type:varchar(36);not null;index"`
	Status         string     `gorm:"column:status;type:varchar(16);not null"`
	CourierName    string     `gorm:"column:courier_name;type:varchar(64)"`
	TrackingNumber string     `gorm:"column:tracking_number;type:varchar(64);index"`
	ShippedDate    *time.Time `gorm:"column:shipped_date"`
	DeliveryDate   *time.Time `gorm:"column:delivery_date"`
	AdminComment   string     `gorm:"column:admin_comment;type:text"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (ShipmentModel) TableName() string { return "shipments" }

func (m *ShipmentModel) toDomain() *domain.Shipment {
	return &domain.Shipment{
		ID:             m.ID,
		OrderID:        m.OrderID,
		Status:         domain.ShipmentStatus(m.Status),
		CourierName:    m.CourierName,
		TrackingNumber: m.TrackingNumber,
		ShippedDate:    m.ShippedDate,
		DeliveryDate:   m.DeliveryDate,
		AdminComment:   m.AdminComment,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func shipmentModelFromDomain(s *domain.Shipment) *ShipmentModel {
	return &ShipmentModel{
		ID:             s.ID,
		OrderID:        s.OrderID,
		Status:         string(s.Status),
		CourierName:    s.CourierName,
		TrackingNumber: s.TrackingNumber,
		ShippedDate:    s.ShippedDate,
		DeliveryDate:   s.DeliveryDate,
		AdminComment:   s.AdminComment,
		CreatedAt:      s.CreatedAt,
	}
}

// WebhookEventModel — обработанные уведомления шлюза.
type WebhookEventModel struct {
	EventKey  string    `gorm:"column:event_key;type:varchar(128);primaryKey"`
	ChargeID  string    `gorm:"column:charge_id;type:varchar(64);index;not null"`
	Status    string    `gorm:"column:status;type:varchar(32);not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (WebhookEventModel) TableName() string { return "webhook_events" }

// =============================================================================
// Каталог (только чтение и остатки)
// =============================================================================

// UserModel — покупатели. Сервис только читает.
type UserModel struct {
	ID    uint64 `gorm:"column:id;primaryKey"`
	Name  string `gorm:"column:name;type:varchar(128)"`
	Email string `gorm:"column:email;type:varchar(128)"`
	Phone string `gorm:"column:phone;type:varchar(32)"`
}

func (UserModel) TableName() string { return "users" }

// ProductModel — товары.
type ProductModel struct {
	ID       uint64                `gorm:"column:id;primaryKey"`
	Name     string                `gorm:"column:name;type:varchar(255);not null"`
	SKU      string                `gorm:"column:sku;type:varchar(64)"`
	Price    decimal.Decimal       `gorm:"column:price;type:decimal(10,2);not null"`
	Stock    int                   `gorm:"column:stock;not null"`
	Variants []ProductVariantModel `gorm:"foreignKey:ProductID"`
}

func (ProductModel) TableName() string { return "products" }

// ProductVariantModel — варианты товаров.
type ProductVariantModel struct {
	ID        uint64          `gorm:"column:id;primaryKey"`
	ProductID uint64          `gorm:"column:product_id;not null;index"`
	Name      string          `gorm:"column:name;type:varchar(64)"`
	Value     string          `gorm:"column:value;type:varchar(64)"`
	SKU       string          `gorm:"column:sku;type:varchar(64)"`
	Price     decimal.Decimal `gorm:"column:price;type:decimal(10,2);not null"`
	Stock     int             `gorm:"column:stock;not null"`
}

func (ProductVariantModel) TableName() string { return "product_variants" }

// PromoCodeModel — промокоды.
type PromoCodeModel struct {
	ID            uint64           `gorm:"column:id;primaryKey"`
	Code          string           `gorm:"column:code;type:varchar(64);not null;uniqueIndex"`
	DiscountType  string           `gorm:"column:discount_type;type:varchar(16);not null"`
	DiscountValue decimal.Decimal  `gorm:"column:discount_value;type:decimal(10,2);not null"`
	MinPurchase   decimal.Decimal  `gorm:"column:min_purchase;type:decimal(10,2);not null;default:0"`
	MaxDiscount   *decimal.Decimal `gorm:"column:max_discount;type:decimal(10,2)"`
	UsageLimit    *int             `gorm:"column:usage_limit"`
	UsedCount     int              `gorm:"column:used_count;not null;default:0"`
	ValidFrom     time.Time        `gorm:"column:valid_from;not null"`
	ValidUntil    time.Time        `gorm:"column:valid_until;not null"`
	IsActive      bool             `gorm:"column:is_active;not null;default:true"`
}

func (PromoCodeModel) TableName() string { return "promo_codes" }

func (m *ProductModel) toDomain() domain.Product {
	p := domain.Product{
		ID:       m.ID,
		Name:     m.Name,
		SKU:      m.SKU,
		Price:    m.Price,
		Stock:    m.Stock,
		Variants: make([]domain.ProductVariant, len(m.Variants)),
	}
	for i, v := range m.Variants {
		p.Variants[i] = domain.ProductVariant{
			ID: v.ID, ProductID: v.ProductID, Name: v.Name, Value: v.Value,
			SKU: v.SKU, Price: v.Price, Stock: v.Stock,
		}
	}
	return p
}

func (m *PromoCodeModel) toDomain() *domain.PromoCode {
	return &domain.PromoCode{
		ID:            m.ID,
		Code:          m.Code,
		DiscountType:  domain.DiscountType(m.DiscountType),
		DiscountValue: m.DiscountValue,
		MinPurchase:   m.MinPurchase,
		MaxDiscount:   m.MaxDiscount,
		UsageLimit:    m.UsageLimit,
		UsedCount:     m.UsedCount,
		ValidFrom:     m.ValidFrom,
		ValidUntil:    m.ValidUntil,
		IsActive:      m.IsActive,
	}
}

func rawJSON(b []byte) datatypes.JSON {
	if len(b) == 0 {
		return nil
	}
	return datatypes.JSON(b)
}
