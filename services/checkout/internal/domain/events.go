package domain

import "github.com/shopspring/decimal"

// Типы доменных событий в топике checkout.order-events.
const (
	EventOrderCreated         = "order.created"
	EventOrderPaymentUpdated  = "order.payment_updated"
	EventOrderPaid            = "order.paid"
	EventOrderCancelled       = "order.cancelled"
	EventPaymentRefunded      = "payment.refunded"
	EventPaymentRefundPending = "payment.refund_pending"
	EventShipmentUpdated      = "shipment.updated"
)

// Типы агрегатов outbox.
const (
	AggregateOrder    = "order"
	AggregateShipment = "shipment"
)

// OrderEvent — payload событий заказа.
type OrderEvent struct {
	OrderID           string            `json:"order_id"`
	OrderNumber       string            `json:"order_number"`
	UserID            uint64            `json:"user_id"`
	Status            OrderStatus       `json:"status"`
	PaymentStatus     PaymentStatus     `json:"payment_status"`
	FulfillmentStatus FulfillmentStatus `json:"fulfillment_status,omitempty"`
	Total             decimal.Decimal   `json:"total"`
	Currency          string            `json:"currency"`
	ChargeID          string            `json:"charge_id,omitempty"`
	GatewayStatus     string            `json:"gateway_status,omitempty"`
}

// NewOrderEvent собирает payload из текущего состояния заказа.
func NewOrderEvent(o *Order, gatewayStatus string) OrderEvent {
	ev := OrderEvent{
		OrderID:           o.ID,
		OrderNumber:       o.OrderNumber,
		UserID:            o.UserID,
		Status:            o.Status,
		PaymentStatus:     o.PaymentStatus,
		FulfillmentStatus: o.FulfillmentStatus,
		Total:             o.Total,
		Currency:          o.Currency,
		GatewayStatus:     gatewayStatus,
	}
	if o.GatewayChargeID != nil {
		ev.ChargeID = *o.GatewayChargeID
	}
	return ev
}

// ShipmentEvent — payload события shipment.updated.
type ShipmentEvent struct {
	ShipmentID     uint64         `json:"shipment_id,omitempty"`
	OrderID        string         `json:"order_id"`
	OrderNumber    string         `json:"order_number"`
	Status         ShipmentStatus `json:"status"`
	CourierName    string         `json:"courier_name,omitempty"`
	TrackingNumber string         `json:"tracking_number,omitempty"`
	TrackingURL    string         `json:"tracking_url,omitempty"`
}
