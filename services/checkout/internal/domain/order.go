package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus — статус заказа.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentStatus — статус оплаты заказа.
type PaymentStatus string

const (
	PaymentStatusUnpaid    PaymentStatus = "unpaid"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
	PaymentStatusRefunded  PaymentStatus = "refunded"
	PaymentStatusUnknown   PaymentStatus = "unknown"
)

// FulfillmentStatus — стадия доставки. Пишется из отгрузок.
type FulfillmentStatus string

const (
	FulfillmentUnfulfilled FulfillmentStatus = "unfulfilled"
	FulfillmentProcessing  FulfillmentStatus = "processing"
	FulfillmentShipped     FulfillmentStatus = "shipped"
	FulfillmentDelivered   FulfillmentStatus = "delivered"
	FulfillmentReturned    FulfillmentStatus = "returned"
)

// PaymentMethod — способ оплаты.
type PaymentMethod string

const (
	PaymentMethodTap   PaymentMethod = "tap"
	PaymentMethodOther PaymentMethod = "other"
)

// IsValid проверяет, что способ оплаты поддерживается.
func (m PaymentMethod) IsValid() bool {
	return m == PaymentMethodTap || m == PaymentMethodOther
}

// orderTransitions — разрешённые переходы Order.status.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusCompleted, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusFailed:    {OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusCompleted: {OrderStatusCancelled},
}

// CanTransition сообщает, разрешён ли переход from → to.
// Переход в тот же статус всегда разрешён.
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return true
	}
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Order — заказ со снимком адреса и позициями.
type Order struct {
	ID                 string
	OrderNumber        string
	UserID             uint64
	AddressID          uint64
	Address            *Address
	Items              []OrderItem
	Subtotal           decimal.Decimal
	Tax                decimal.Decimal
	Shipping           decimal.Decimal
	Discount           decimal.Decimal
	Total              decimal.Decimal
	Currency           string
	PaymentMethod      PaymentMethod
	Status             OrderStatus
	PaymentStatus      PaymentStatus
	FulfillmentStatus  FulfillmentStatus
	GatewayChargeID    *string
	GatewayRawResponse []byte
	PromoCode          *string
	StockRestored      bool
	IdempotencyKey     *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SetStatus применяет переход, если он разрешён.
// Возвращает false и не меняет заказ, если переход запрещён.
func (o *Order) SetStatus(to OrderStatus) bool {
	if !CanTransition(o.Status, to) {
		return false
	}
	o.Status = to
	return true
}

// CanCancel: отгруженный или доставленный заказ не отменяется.
func (o *Order) CanCancel() error {
	switch o.FulfillmentStatus {
	case FulfillmentShipped, FulfillmentDelivered:
		return ErrOrderCannotCancel
	}
	return nil
}

// OrderState — пара статусов, от которой считается обновление заказа.
type OrderState struct {
	Status        OrderStatus
	PaymentStatus PaymentStatus
}

// State возвращает текущие статусы заказа.
func (o *Order) State() OrderState {
	return OrderState{Status: o.Status, PaymentStatus: o.PaymentStatus}
}

// NeedsRefund — заказ отменён, но деньги ещё не возвращены.
func (o *Order) NeedsRefund() bool {
	return o.Status == OrderStatusCancelled && o.PaymentStatus == PaymentStatusPaid
}

// IsPaid — заказ оплачен и завершён, по нему можно выставить счёт.
func (o *Order) IsPaid() bool {
	return o.PaymentStatus == PaymentStatusPaid && o.Status == OrderStatusCompleted
}

// Chargeable — можно ли создать новый платёж Tap по заказу.
func (o *Order) Chargeable() bool {
	if o.Status != OrderStatusPending && o.Status != OrderStatusFailed {
		return false
	}
	switch o.PaymentStatus {
	case PaymentStatusUnpaid, PaymentStatusFailed, PaymentStatusUnknown:
		return true
	}
	return false
}

// OwnedBy проверяет владельца заказа.
func (o *Order) OwnedBy(userID uint64) bool {
	return o.UserID == userID
}

// OrderItem — позиция заказа с ценой на момент покупки.
type OrderItem struct {
	ID           uint64
	OrderID      string
	ProductID    uint64
	VariantID    *uint64
	ProductName  string
	SKU          string
	VariantName  string
	VariantValue string
	Quantity     int
	UnitPrice    decimal.Decimal
	LineTotal    decimal.Decimal
}

// Address — снимок адреса доставки.
type Address struct {
	ID         uint64
	UserID     uint64
	FullName   string
	Phone      string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// Значения по умолчанию для пустого адреса.
const (
	DefaultFullName = "N/A"
	DefaultPhone    = "0000000000"
	DefaultLine1    = "No Address Provided"
)

// WithDefaults заполняет обязательные поля снимка.
func (a Address) WithDefaults() Address {
	if strings.TrimSpace(a.FullName) == "" {
		a.FullName = DefaultFullName
	}
	if strings.TrimSpace(a.Phone) == "" {
		a.Phone = DefaultPhone
	}
	if strings.TrimSpace(a.Line1) == "" {
		a.Line1 = DefaultLine1
	}
	return a
}

// Formatted склеивает непустые части адреса через запятую.
func (a Address) Formatted() string {
	parts := make([]string, 0, 6)
	for _, p := range []string{a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Country} {
		p = strings.TrimSpace(p)
		if p == "" || p == DefaultLine1 {
			continue
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, ", ")
}

// User — покупатель (только чтение).
type User struct {
	ID    uint64
	Name  string
	Email string
	Phone string
}

// Product — товар с ценой и остатком.
type Product struct {
	ID       uint64
	Name     string
	SKU      string
	Price    decimal.Decimal
	Stock    int
	Variants []ProductVariant
}

// ProductVariant — вариант товара со своей ценой и остатком.
type ProductVariant struct {
	ID        uint64
	ProductID uint64
	Name      string
	Value     string
	SKU       string
	Price     decimal.Decimal
	Stock     int
}

// Variant возвращает вариант товара по ID.
func (p *Product) Variant(id uint64) (*ProductVariant, bool) {
	for i := range p.Variants {
		if p.Variants[i].ID == id {
			return &p.Variants[i], true
		}
	}
	return nil, false
}
