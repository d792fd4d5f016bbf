// Package statusmap переводит статус charge Tap в статусы заказа и платежа.
package statusmap

import (
	"strings"

	"example.com/tap-checkout/services/checkout/internal/domain"
)

// Result — результат сопоставления. OrderStatus == nil означает
// «статус заказа не меняется».
type Result struct {
	GatewayStatus      string
	OrderPaymentStatus domain.PaymentStatus
	PaymentStatus      domain.PaymentRecordStatus
	OrderStatus        *domain.OrderStatus
}

// Restock — отмена платежа возвращает товар на склад.
func (r Result) Restock() bool {
	return r.OrderPaymentStatus == domain.PaymentStatusCancelled
}

// Captured — деньги списаны.
func (r Result) Captured() bool {
	return r.GatewayStatus == "CAPTURED"
}

func status(s domain.OrderStatus) *domain.OrderStatus { return &s }

type row struct {
	payment domain.PaymentStatus
	record  domain.PaymentRecordStatus
	order   *domain.OrderStatus
}

var table = map[string]row{
	"CAPTURED":   {domain.PaymentStatusPaid, domain.PaymentRecordSuccessful, status(domain.OrderStatusCompleted)},
	"DECLINED":   {domain.PaymentStatusFailed, domain.PaymentRecordFailed, status(domain.OrderStatusFailed)},
	"INITIATED":  {domain.PaymentStatusUnpaid, domain.PaymentRecordPending, nil},
	"CANCELLED":  {domain.PaymentStatusCancelled, domain.PaymentRecordFailed, status(domain.OrderStatusCancelled)},
	"REFUNDED":   {domain.PaymentStatusRefunded, domain.PaymentRecordRefunded, nil},
	"AUTHORIZED": {domain.PaymentStatusUnpaid, domain.PaymentRecordPending, nil},
	"ABANDONED":  {domain.PaymentStatusCancelled, domain.PaymentRecordFailed, status(domain.OrderStatusCancelled)},
	"VOID":       {domain.PaymentStatusCancelled, domain.PaymentRecordFailed, status(domain.OrderStatusCancelled)},
	"FAILED":     {domain.PaymentStatusFailed, domain.PaymentRecordFailed, status(domain.OrderStatusFailed)},
	"TIMEDOUT":   {domain.PaymentStatusFailed, domain.PaymentRecordFailed, status(domain.OrderStatusFailed)},
	"RESTRICTED": {domain.PaymentStatusFailed, domain.PaymentRecordFailed, status(domain.OrderStatusFailed)},
}

// Map сопоставляет статус без учёта регистра. Неизвестный статус даёт
// payment_status unknown и pending запись платежа.
func Map(gatewayStatus string) Result {
	normalized := strings.ToUpper(strings.TrimSpace(gatewayStatus))
	r, ok := table[normalized]
	if !ok {
		return Result{
			GatewayStatus:      normalized,
			OrderPaymentStatus: domain.PaymentStatusUnknown,
			PaymentStatus:      domain.PaymentRecordPending,
		}
	}

	res := Result{
		GatewayStatus:      normalized,
		OrderPaymentStatus: r.payment,
		PaymentStatus:      r.record,
	}
	if r.order != nil {
		res.OrderStatus = status(*r.order)
	}
	return res
}

// Apply переносит результат на заказ. Статус заказа меняется, только если
// переход разрешён. Возвращает true, если статус заказа изменился.
func (r Result) Apply(o *domain.Order) bool {
	o.PaymentStatus = r.OrderPaymentStatus
	if r.OrderStatus == nil || o.Status == *r.OrderStatus {
		return false
	}
	return o.SetStatus(*r.OrderStatus)
}
