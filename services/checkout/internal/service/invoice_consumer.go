package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"example.com/tap-checkout/pkg/kafka"
	"example.com/tap-checkout/pkg/logger"
	"example.com/tap-checkout/services/checkout/internal/domain"
)

// InvoiceEventHandler выставляет счёт по событию order.paid.
type InvoiceEventHandler struct {
	invoices InvoiceService
}

// NewInvoiceEventHandler создаёт обработчик событий заказа для счетов.
func NewInvoiceEventHandler(invoices InvoiceService) *InvoiceEventHandler {
	return &InvoiceEventHandler{invoices: invoices}
}

// Handle подходит как kafka.MessageHandler. Остальные события пропускаются.
func (h *InvoiceEventHandler) Handle(ctx context.Context, msg *kafka.Message) error {
	if msg.Headers[kafka.HeaderEventType] != domain.EventOrderPaid {
		return nil
	}

	var ev domain.OrderEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return fmt.Errorf("некорректное событие %s: %w", domain.EventOrderPaid, err)
	}

	inv, err := h.invoices.CreateInvoice(ctx, ev.OrderNumber, SystemActor)
	if err != nil {
		// заказ мог уйти в возврат до обработки события
		if errors.Is(err, domain.ErrOrderNotPaid) {
			logger.Ctx(ctx).Warn().Str("order_number", ev.OrderNumber).Msg("Заказ больше не оплачен, счёт не выставлен")
			return nil
		}
		return err
	}

	logger.Ctx(ctx).Debug().
		Str("order_number", ev.OrderNumber).
		Str("invoice_number", inv.InvoiceNumber).
		Msg("Счёт по событию order.paid")
	return nil
}
