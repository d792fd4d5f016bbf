package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceItem — позиция в снимке счёта.
type InvoiceItem struct {
	ProductName  string          `json:"product_name"`
	SKU          string          `json:"sku,omitempty"`
	VariantName  string          `json:"variant_name,omitempty"`
	VariantValue string          `json:"variant_value,omitempty"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TotalPrice   decimal.Decimal `json:"total_price"`
}

// Invoice — неизменяемый снимок оплаченного заказа.
type Invoice struct {
	ID             uint64
	InvoiceNumber  string
	OrderID        string
	OrderNumber    string
	UserID         uint64
	BillingName    string
	BillingEmail   string
	BillingPhone   string
	BillingAddress string
	Items          []InvoiceItem
	Subtotal       decimal.Decimal
	VATPercentage  decimal.Decimal
	VATAmount      decimal.Decimal
	ShippingFee    decimal.Decimal
	Discount       decimal.Decimal
	GrandTotal     decimal.Decimal
	Currency       string
	VATNumber      string
	PaymentMethod  PaymentMethod
	PaymentStatus  PaymentStatus
	DocumentPath   *string
	CreatedAt      time.Time
}

// FormatInvoiceNumber — INV-<год>-<шестизначный номер>.
func FormatInvoiceNumber(year int, seq int64) string {
	return fmt.Sprintf("INV-%d-%06d", year, seq)
}

// DocumentName — имя файла печатной формы счёта.
func (i *Invoice) DocumentName() string {
	return "invoices/Invoice-" + i.InvoiceNumber + ".txt"
}

// NewInvoice строит снимок счёта по оплаченному заказу.
// vatRate — доля (0.15). Номер счёта назначается при вставке.
func NewInvoice(order *Order, user *User, vatRate decimal.Decimal, vatNumber string) (*Invoice, error) {
	if !order.IsPaid() {
		return nil, ErrOrderNotPaid
	}

	items := make([]InvoiceItem, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, InvoiceItem{
			ProductName:  it.ProductName,
			SKU:          it.SKU,
			VariantName:  it.VariantName,
			VariantValue: it.VariantValue,
			Quantity:     it.Quantity,
			UnitPrice:    it.UnitPrice,
			TotalPrice:   it.LineTotal,
		})
	}

	vat := order.Subtotal.Mul(vatRate).Round(2)
	inv := &Invoice{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Items:         items,
		Subtotal:      order.Subtotal,
		VATPercentage: vatRate.Mul(decimal.NewFromInt(100)).Round(2),
		VATAmount:     vat,
		ShippingFee:   order.Shipping,
		Discount:      order.Discount,
		GrandTotal:    order.Subtotal.Add(vat).Add(order.Shipping).Sub(order.Discount).Round(2),
		Currency:      order.Currency,
		VATNumber:     vatNumber,
		PaymentMethod: order.PaymentMethod,
		PaymentStatus: order.PaymentStatus,
	}
	inv.fillBilling(order.Address, user)

	return inv, nil
}

// fillBilling: данные адреса приоритетнее профиля пользователя.
func (i *Invoice) fillBilling(addr *Address, user *User) {
	if addr != nil {
		if addr.FullName != DefaultFullName {
			i.BillingName = strings.TrimSpace(addr.FullName)
		}
		if addr.Phone != DefaultPhone {
			i.BillingPhone = strings.TrimSpace(addr.Phone)
		}
		i.BillingAddress = addr.Formatted()
	}
	if user != nil {
		if i.BillingName == "" {
			i.BillingName = user.Name
		}
		if i.BillingPhone == "" {
			i.BillingPhone = user.Phone
		}
		i.BillingEmail = user.Email
	}
}
