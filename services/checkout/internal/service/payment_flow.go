package service

import (
	"context"
	"fmt"

	"example.com/tap-checkout/pkg/logger"
	"example.com/tap-checkout/pkg/metrics"
	"example.com/tap-checkout/services/checkout/internal/domain"
	"example.com/tap-checkout/services/checkout/internal/repository"
	"example.com/tap-checkout/services/checkout/internal/statusmap"
	"example.com/tap-checkout/services/checkout/internal/tap"
)

// =============================================================================
// Capture и синхронизация статуса
// =============================================================================

func (s *orderService) CaptureOrderPayment(ctx context.Context, chargeID string) (*PaymentResult, error) {
	log := logger.FromContext(ctx)

	unlock, err := s.lockByCharge(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	order, payment, err := s.loadByCharge(ctx, chargeID)
	if err != nil {
		return nil, err
	}

	// Уже списано: выравниваем локальное состояние без вызова шлюза
	if payment.Status == domain.PaymentRecordSuccessful || tap.RawStatus(payment.GatewayRawResponse) == "CAPTURED" {
		log.Info().
			Str("order_number", order.OrderNumber).
			Str("charge_id", chargeID).
			Msg("Платёж уже списан, повторный capture не выполняется")
		return s.applyCharge(ctx, "capture", order, payment, statusmap.Map("CAPTURED"), nil)
	}

	ch, err := s.Gateway.CaptureCharge(ctx, chargeID)
	if err != nil {
		log.Error().Err(err).Str("charge_id", chargeID).Msg("Ошибка capture в Tap")
		return nil, err
	}

	res := statusmap.Map(ch.Status)
	if !res.Captured() {
		// запись платежа failed, заказ остаётся неоплаченным (если не оплачен другим charge)
		paymentStatus := domain.PaymentStatusUnpaid
		if order.PaymentStatus == domain.PaymentStatusPaid || order.PaymentStatus == domain.PaymentStatusRefunded {
			paymentStatus = order.PaymentStatus
		}
		res = statusmap.Result{
			GatewayStatus:      res.GatewayStatus,
			OrderPaymentStatus: paymentStatus,
			PaymentStatus:      domain.PaymentRecordFailed,
		}
		log.Warn().
			Str("order_number", order.OrderNumber).
			Str("charge_id", chargeID).
			Str("gateway_status", ch.Status).
			Msg("Capture не прошёл")
	}

	return s.applyCharge(ctx, "capture", order, payment, res, ch.Raw)
}

func (s *orderService) SyncPaymentStatus(ctx context.Context, chargeID string) (*PaymentResult, error) {
	unlock, err := s.lockByCharge(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	order, payment, err := s.loadByCharge(ctx, chargeID)
	if err != nil {
		return nil, err
	}

	ch, err := s.Gateway.GetCharge(ctx, chargeID)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("charge_id", chargeID).Msg("Ошибка получения статуса из Tap")
		return nil, err
	}

	return s.applyCharge(ctx, "sync", order, payment, statusmap.Map(ch.Status), ch.Raw)
}

func (s *orderService) VerifyPayment(ctx context.Context, chargeID string, actor Actor) (*PaymentResult, error) {
	order, err := s.Orders.GetByChargeID(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(order.UserID) {
		return nil, domain.ErrForbidden
	}
	return s.SyncPaymentStatus(ctx, chargeID)
}

// lockByCharge берёт блокировку заказа, которому принадлежит charge: capture,
// синхронизация, отмена и возврат по одному заказу выполняются по очереди.
func (s *orderService) lockByCharge(ctx context.Context, chargeID string) (func(), error) {
	order, err := s.Orders.GetByChargeID(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	return s.lockOrder(ctx, order.OrderNumber)
}

func (s *orderService) lockOrder(ctx context.Context, orderNumber string) (func(), error) {
	return s.Locker.Lock(ctx, orderLockPrefix+orderNumber)
}

// loadByCharge находит заказ и запись платежа. Если записи платежа нет, она создаётся при записи.
func (s *orderService) loadByCharge(ctx context.Context, chargeID string) (*domain.Order, *domain.Payment, error) {
	order, err := s.Orders.GetByChargeID(ctx, chargeID)
	if err != nil {
		return nil, nil, err
	}

	payments, err := s.Payments.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка загрузки платежей: %w", err)
	}

	if p := domain.PaymentByReference(payments, chargeID); p != nil {
		return order, p, nil
	}
	return order, &domain.Payment{
		OrderID:          order.ID,
		UserID:           order.UserID,
		PaymentReference: chargeID,
		PaymentMethod:    domain.PaymentMethodTap,
		Amount:           order.Total,
		Currency:         order.Currency,
		Status:           domain.PaymentRecordPending,
	}, nil
}

// applyCharge переносит результат шлюза на заказ и платёж и пишет всё одной транзакцией.
// raw == nil — ответа шлюза не было, сохранённые снимки не меняются.
func (s *orderService) applyCharge(ctx context.Context, source string, order *domain.Order, payment *domain.Payment, res statusmap.Result, raw []byte) (*PaymentResult, error) {
	log := logger.FromContext(ctx)

	fromPayment, fromStatus, fromRecord := order.PaymentStatus, order.Status, payment.Status
	ref := payment.PaymentReference

	// Успешный старый charge становится текущим, если заказ ещё не оплачен
	if res.Captured() && order.PaymentStatus != domain.PaymentStatusPaid &&
		(order.GatewayChargeID == nil || *order.GatewayChargeID != ref) {
		order.GatewayChargeID = &ref
	}
	current := order.GatewayChargeID == nil || *order.GatewayChargeID == ref

	// Возврат уже проведён локально: статус charge не откатывает его
	refunded := order.PaymentStatus == domain.PaymentStatusRefunded &&
		res.OrderPaymentStatus != domain.PaymentStatusRefunded

	touchOrder := current && !refunded
	if touchOrder {
		res.Apply(order)
		if raw != nil {
			order.GatewayRawResponse = raw
		}
	}
	if payment.Status != domain.PaymentRecordRefunded || res.PaymentStatus == domain.PaymentRecordRefunded {
		payment.Status = res.PaymentStatus
	}
	if raw != nil {
		payment.GatewayRawResponse = raw
	}

	result := &PaymentResult{Order: order, Payment: payment}
	if raw == nil && payment.ID != 0 &&
		fromPayment == order.PaymentStatus && fromStatus == order.Status && fromRecord == payment.Status {
		return result, nil
	}

	events, err := s.events(ctx, order, res.GatewayStatus, paymentEventTypes(fromPayment, fromStatus, order)...)
	if err != nil {
		return nil, err
	}

	if err := s.Payments.Apply(ctx, repository.PaymentUpdate{
		Order:   order,
		Payment: payment,
		Restock: touchOrder && res.Restock(),
		Expect:  &domain.OrderState{Status: fromStatus, PaymentStatus: fromPayment},
		Events:  events,
	}); err != nil {
		return nil, fmt.Errorf("ошибка сохранения статуса платежа: %w", err)
	}

	metrics.RecordPaymentTransition(source, string(fromPayment), string(order.PaymentStatus))
	log.Info().
		Str("order_number", order.OrderNumber).
		Str("charge_id", ref).
		Str("gateway_status", res.GatewayStatus).
		Str("payment_status", string(order.PaymentStatus)).
		Str("status", string(order.Status)).
		Msg("Статус платежа обновлён")

	return result, nil
}

// =============================================================================
// Отмена и возврат
// =============================================================================

func (s *orderService) CancelOrder(ctx context.Context, orderNumber string, actor Actor) (*domain.Order, error) {
	log := logger.FromContext(ctx)

	unlock, err := s.lockOrder(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	defer unlock()

	order, err := s.Orders.GetByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(order.UserID) {
		return nil, domain.ErrForbidden
	}
	if err := order.CanCancel(); err != nil {
		return nil, err
	}

	if order.Status != domain.OrderStatusCancelled {
		prev := order.State()
		order.SetStatus(domain.OrderStatusCancelled)

		events, err := s.events(ctx, order, "", domain.EventOrderCancelled)
		if err != nil {
			return nil, err
		}
		if err := s.Payments.Apply(ctx, repository.PaymentUpdate{
			Order:   order,
			Restock: true,
			Expect:  &prev,
			Events:  events,
		}); err != nil {
			return nil, fmt.Errorf("ошибка отмены заказа: %w", err)
		}

		log.Info().
			Str("order_number", order.OrderNumber).
			Str("payment_status", string(order.PaymentStatus)).
			Bool("admin", actor.Admin).
			Msg("Заказ отменён")
	}

	if order.NeedsRefund() {
		if _, err := s.refund(ctx, order); err != nil {
			log.Error().Err(err).Str("order_number", order.OrderNumber).Msg("Ошибка обработки возврата")
		}
	}

	return order, nil
}

func (s *orderService) RetryRefund(ctx context.Context, orderNumber string) (bool, error) {
	unlock, err := s.lockOrder(ctx, orderNumber)
	if err != nil {
		return false, err
	}
	defer unlock()

	order, err := s.Orders.GetByNumber(ctx, orderNumber)
	if err != nil {
		return false, err
	}
	if !order.NeedsRefund() {
		return order.PaymentStatus == domain.PaymentStatusRefunded, nil
	}
	return s.refund(ctx, order)
}

// refund возвращает последний успешный платёж. Отказ шлюза не ошибка:
// платёж переводится в pending, заказ остаётся paid до успешного повтора.
func (s *orderService) refund(ctx context.Context, order *domain.Order) (bool, error) {
	log := logger.FromContext(ctx)

	payments, err := s.Payments.ListByOrder(ctx, order.ID)
	if err != nil {
		return false, fmt.Errorf("ошибка загрузки платежей: %w", err)
	}

	payment := domain.LatestSuccessful(payments)
	if payment == nil && order.GatewayChargeID != nil {
		// после неудачного возврата запись в pending
		payment = domain.PaymentByReference(payments, *order.GatewayChargeID)
	}
	if payment == nil {
		return false, fmt.Errorf("%w: нет платежа для возврата по заказу %s", domain.ErrPaymentNotFound, order.OrderNumber)
	}

	amount, err := domain.ToMinorUnits(payment.Amount, payment.Currency)
	if err != nil {
		return false, err
	}

	prev := order.State()
	fromPayment := order.PaymentStatus
	refund, gwErr := s.Gateway.RefundCharge(ctx, payment.PaymentReference, &amount, payment.Currency)

	refunded := gwErr == nil && refund.Refunded()
	eventType := domain.EventPaymentRefundPending
	gatewayStatus := ""
	if refund != nil {
		gatewayStatus = refund.Status
	}

	if refunded {
		now := s.now()
		refundID := refund.ID
		payment.Status = domain.PaymentRecordRefunded
		payment.RefundReference = &refundID
		payment.RefundDate = &now
		order.PaymentStatus = domain.PaymentStatusRefunded
		eventType = domain.EventPaymentRefunded
	} else {
		payment.Status = domain.PaymentRecordPending
		log.Error().
			Err(gwErr).
			Str("order_number", order.OrderNumber).
			Str("charge_id", payment.PaymentReference).
			Str("refund_status", gatewayStatus).
			Msg("Возврат не подтверждён, платёж ожидает повтора")
	}

	events, err := s.events(ctx, order, gatewayStatus, eventType)
	if err != nil {
		return false, err
	}
	if err := s.Payments.Apply(ctx, repository.PaymentUpdate{
		Order:   order,
		Payment: payment,
		Expect:  &prev,
		Events:  events,
	}); err != nil {
		return false, fmt.Errorf("ошибка сохранения возврата: %w", err)
	}

	metrics.RecordPaymentTransition("refund", string(fromPayment), string(order.PaymentStatus))
	if refunded {
		log.Info().
			Str("order_number", order.OrderNumber).
			Str("refund_id", refund.ID).
			Msg("Деньги возвращены")
	}
	return refunded, nil
}
