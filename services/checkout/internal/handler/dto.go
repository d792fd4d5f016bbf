package handler

import (
	"time"

	"example.com/tap-checkout/services/checkout/internal/domain"
	"example.com/tap-checkout/services/checkout/internal/service"
)

// =============================================================================
// Запросы
// =============================================================================

// CreateOrderRequest — оформление заказа.
type CreateOrderRequest struct {
	Items          []OrderItemRequest `json:"items" binding:"required,min=1,max=100,dive"`
	Address        AddressRequest     `json:"address"`
	PaymentMethod  string             `json:"payment_method" binding:"omitempty,payment_method"`
	PromoCode      string             `json:"promo_code" binding:"omitempty,max=50"`
	IdempotencyKey string             `json:"idempotency_key" binding:"omitempty,max=100"`
}

// OrderItemRequest — позиция заказа.
type OrderItemRequest struct {
	ProductID uint64  `json:"product_id" binding:"required"`
	VariantID *uint64 `json:"variant_id"`
	Quantity  int     `json:"quantity" binding:"required,min=1,max=1000"`
}

// AddressRequest — адрес доставки. Пустые обязательные поля заполняются значениями по умолчанию.
type AddressRequest struct {
	FullName   string `json:"full_name" binding:"max=255"`
	Phone      string `json:"phone" binding:"max=32"`
	Line1      string `json:"address_line_1" binding:"max=255"`
	Line2      string `json:"address_line_2" binding:"max=255"`
	City       string `json:"city" binding:"max=100"`
	State      string `json:"state" binding:"max=100"`
	PostalCode string `json:"postal_code" binding:"max=20"`
	Country    string `json:"country" binding:"omitempty,len=2"`
}

// CreateShipmentRequest — новая отгрузка.
type CreateShipmentRequest struct {
	OrderNumber    string     `json:"order_number" binding:"required"`
	Status         string     `json:"status" binding:"omitempty,shipment_status"`
	CourierName    string     `json:"courier_name" binding:"max=100"`
	TrackingNumber string     `json:"tracking_number" binding:"max=100"`
	ShippedDate    *time.Time `json:"shipped_date"`
	DeliveryDate   *time.Time `json:"delivery_date"`
	AdminComment   string     `json:"admin_comment" binding:"max=1000"`
}

// UpdateShipmentRequest — изменение отгрузки. Отсутствующие поля не меняются.
type UpdateShipmentRequest struct {
	Status         *string    `json:"status" binding:"omitempty,shipment_status"`
	CourierName    *string    `json:"courier_name" binding:"omitempty,max=100"`
	TrackingNumber *string    `json:"tracking_number" binding:"omitempty,max=100"`
	ShippedDate    *time.Time `json:"shipped_date"`
	DeliveryDate   *time.Time `json:"delivery_date"`
	AdminComment   *string    `json:"admin_comment" binding:"omitempty,max=1000"`
}

// =============================================================================
// Ответы
// =============================================================================

// OrderResponse — заказ. Суммы строками с двумя знаками.
type OrderResponse struct {
	ID                string              `json:"id"`
	OrderNumber       string              `json:"order_number"`
	UserID            uint64              `json:"user_id"`
	Status            string              `json:"status"`
	PaymentStatus     string              `json:"payment_status"`
	FulfillmentStatus string              `json:"fulfillment_status"`
	PaymentMethod     string              `json:"payment_method"`
	Subtotal          string              `json:"subtotal"`
	Tax               string              `json:"tax"`
	Shipping          string              `json:"shipping"`
	Discount          string              `json:"discount"`
	Total             string              `json:"total"`
	Currency          string              `json:"currency"`
	GatewayChargeID   *string             `json:"gateway_charge_id,omitempty"`
	PromoCode         *string             `json:"promo_code,omitempty"`
	Items             []OrderItemResponse `json:"items,omitempty"`
	Address           *AddressResponse    `json:"address,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// OrderItemResponse — позиция заказа.
type OrderItemResponse struct {
	ProductID    uint64  `json:"product_id"`
	VariantID    *uint64 `json:"variant_id,omitempty"`
	ProductName  string  `json:"product_name"`
	SKU          string  `json:"sku,omitempty"`
	VariantName  string  `json:"variant_name,omitempty"`
	VariantValue string  `json:"variant_value,omitempty"`
	Quantity     int     `json:"quantity"`
	UnitPrice    string  `json:"unit_price"`
	LineTotal    string  `json:"line_total"`
}

// AddressResponse — снимок адреса.
type AddressResponse struct {
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	Line1      string `json:"address_line_1"`
	Line2      string `json:"address_line_2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// CheckoutResponse — результат оформления или повторной оплаты.
type CheckoutResponse struct {
	Order          OrderResponse `json:"order"`
	TapCheckoutURL string        `json:"tap_checkout_url,omitempty"`
}

// GatewayErrorResponse — ошибка шлюза вместе с уже сохранённым заказом.
type GatewayErrorResponse struct {
	ErrorResponse
	Order OrderResponse `json:"order"`
}

// PaymentResponse — запись платежа.
type PaymentResponse struct {
	ID              uint64     `json:"id"`
	Reference       string     `json:"payment_reference"`
	Method          string     `json:"payment_method"`
	Status          string     `json:"status"`
	Amount          string     `json:"amount"`
	Currency        string     `json:"currency"`
	RefundReference *string    `json:"refund_reference,omitempty"`
	RefundDate      *time.Time `json:"refund_date,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// PaymentResultResponse — заказ и платёж после операции со шлюзом.
type PaymentResultResponse struct {
	Order   OrderResponse    `json:"order"`
	Payment *PaymentResponse `json:"payment,omitempty"`
}

// ShipmentResponse — отгрузка.
type ShipmentResponse struct {
	ID             uint64     `json:"id"`
	OrderNumber    string     `json:"order_number,omitempty"`
	Status         string     `json:"status"`
	CourierName    string     `json:"courier_name,omitempty"`
	TrackingNumber string     `json:"tracking_number,omitempty"`
	TrackingURL    string     `json:"tracking_url,omitempty"`
	ShippedDate    *time.Time `json:"shipped_date,omitempty"`
	DeliveryDate   *time.Time `json:"delivery_date,omitempty"`
	AdminComment   string     `json:"admin_comment,omitempty"`
}

// InvoiceResponse — счёт.
type InvoiceResponse struct {
	InvoiceNumber string    `json:"invoice_number"`
	OrderID       string    `json:"order_id"`
	OrderNumber   string    `json:"order_number"`
	Subtotal      string    `json:"subtotal"`
	VATPercentage string    `json:"vat_percentage"`
	VATAmount     string    `json:"vat_amount"`
	ShippingFee   string    `json:"shipping_fee"`
	Discount      string    `json:"discount"`
	GrandTotal    string    `json:"grand_total"`
	Currency      string    `json:"currency"`
	DocumentPath  *string   `json:"document_path,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// OrderDetailsResponse — заказ со связанными данными.
type OrderDetailsResponse struct {
	Order     OrderResponse      `json:"order"`
	Payments  []PaymentResponse  `json:"payments"`
	Shipments []ShipmentResponse `json:"shipments"`
	Invoice   *InvoiceResponse   `json:"invoice,omitempty"`
}

// PaginationResponse — информация о пагинации.
type PaginationResponse struct {
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
	TotalItems  int64 `json:"total_items"`
	TotalPages  int   `json:"total_pages"`
}

// ListOrdersResponse — страница заказов.
type ListOrdersResponse struct {
	Orders     []OrderResponse    `json:"orders"`
	Pagination PaginationResponse `json:"pagination"`
}

// =============================================================================
// Преобразования
// =============================================================================

func orderToResponse(o *domain.Order) OrderResponse {
	resp := OrderResponse{
		ID:                o.ID,
		OrderNumber:       o.OrderNumber,
		UserID:            o.UserID,
		Status:            string(o.Status),
		PaymentStatus:     string(o.PaymentStatus),
		FulfillmentStatus: string(o.FulfillmentStatus),
		PaymentMethod:     string(o.PaymentMethod),
		Subtotal:          o.Subtotal.StringFixed(2),
		Tax:               o.Tax.StringFixed(2),
		Shipping:          o.Shipping.StringFixed(2),
		Discount:          o.Discount.StringFixed(2),
		Total:             o.Total.StringFixed(2),
		Currency:          o.Currency,
		GatewayChargeID:   o.GatewayChargeID,
		PromoCode:         o.PromoCode,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}

	for _, it := range o.Items {
		resp.Items = append(resp.Items, OrderItemResponse{
			ProductID:    it.ProductID,
			VariantID:    it.VariantID,
			ProductName:  it.ProductName,
			SKU:          it.SKU,
			VariantName:  it.VariantName,
			VariantValue: it.VariantValue,
			Quantity:     it.Quantity,
			UnitPrice:    it.UnitPrice.StringFixed(2),
			LineTotal:    it.LineTotal.StringFixed(2),
		})
	}

	if a := o.Address; a != nil {
		resp.Address = &AddressResponse{
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
	return resp
}

func paymentToResponse(p *domain.Payment) PaymentResponse {
	return PaymentResponse{
		ID:              p.ID,
		Reference:       p.PaymentReference,
		Method:          string(p.PaymentMethod),
		Status:          string(p.Status),
		Amount:          p.Amount.StringFixed(2),
		Currency:        p.Currency,
		RefundReference: p.RefundReference,
		RefundDate:      p.RefundDate,
		CreatedAt:       p.CreatedAt,
	}
}

func paymentResultToResponse(r *service.PaymentResult) PaymentResultResponse {
	resp := PaymentResultResponse{Order: orderToResponse(r.Order)}
	if r.Payment != nil {
		p := paymentToResponse(r.Payment)
		resp.Payment = &p
	}
	return resp
}

func shipmentToResponse(s *domain.Shipment) ShipmentResponse {
	return ShipmentResponse{
		ID:             s.ID,
		OrderNumber:    s.OrderNumber,
		Status:         string(s.Status),
		CourierName:    s.CourierName,
		TrackingNumber: s.TrackingNumber,
		TrackingURL:    s.TrackingURL(),
		ShippedDate:    s.ShippedDate,
		DeliveryDate:   s.DeliveryDate,
		AdminComment:   s.AdminComment,
	}
}

func invoiceToResponse(inv *domain.Invoice) InvoiceResponse {
	return InvoiceResponse{
		InvoiceNumber: inv.InvoiceNumber,
		OrderID:       inv.OrderID,
		OrderNumber:   inv.OrderNumber,
		Subtotal:      inv.Subtotal.StringFixed(2),
		VATPercentage: inv.VATPercentage.StringFixed(2),
		VATAmount:     inv.VATAmount.StringFixed(2),
		ShippingFee:   inv.ShippingFee.StringFixed(2),
		Discount:      inv.Discount.StringFixed(2),
		GrandTotal:    inv.GrandTotal.StringFixed(2),
		Currency:      inv.Currency,
		DocumentPath:  inv.DocumentPath,
		CreatedAt:     inv.CreatedAt,
	}
}

func viewToResponse(v *service.OrderView) OrderDetailsResponse {
	resp := OrderDetailsResponse{
		Order:     orderToResponse(v.Order),
		Payments:  make([]PaymentResponse, 0, len(v.Payments)),
		Shipments: make([]ShipmentResponse, 0, len(v.Shipments)),
	}
	for i := range v.Payments {
		resp.Payments = append(resp.Payments, paymentToResponse(&v.Payments[i]))
	}
	for _, s := range v.Shipments {
		resp.Shipments = append(resp.Shipments, shipmentToResponse(s))
	}
	if v.Invoice != nil {
		inv := invoiceToResponse(v.Invoice)
		resp.Invoice = &inv
	}
	return resp
}
