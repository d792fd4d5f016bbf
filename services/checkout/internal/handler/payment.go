package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/tap-checkout/pkg/logger"
	"example.com/tap-checkout/services/checkout/internal/domain"
	"example.com/tap-checkout/services/checkout/internal/service"
)

// HeaderTapHashstring — подпись уведомления Tap.
const HeaderTapHashstring = "hashstring"

// maxWebhookBody — ограничение размера уведомления.
const maxWebhookBody = 1 << 20

// PaymentHandler — обработчик платежей и уведомлений Tap.
type PaymentHandler struct {
	orders service.OrderService
}

// NewPaymentHandler создаёт обработчик платежей.
func NewPaymentHandler(orders service.OrderService) *PaymentHandler {
	return &PaymentHandler{orders: orders}
}

// Verify — возврат покупателя со страницы оплаты.
// GET /api/v1/payments/verify?tap_id=chg_xxx
func (h *PaymentHandler) Verify(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}

	chargeID := c.Query("tap_id")
	if chargeID == "" {
		badRequest(c, "не указан tap_id")
		return
	}

	res, err := h.orders.VerifyPayment(c.Request.Context(), chargeID, actor)
	if err != nil {
		HandleError(c, err, "VerifyPayment")
		return
	}

	c.JSON(http.StatusOK, paymentResultToResponse(res))
}

// Capture списывает авторизованный платёж.
// POST /api/v1/payments/:charge_id/capture
func (h *PaymentHandler) Capture(c *gin.Context) {
	res, err := h.orders.CaptureOrderPayment(c.Request.Context(), c.Param("charge_id"))
	if err != nil {
		HandleError(c, err, "CapturePayment")
		return
	}
	c.JSON(http.StatusOK, paymentResultToResponse(res))
}

// Sync принудительно сверяет платёж с Tap.
// POST /api/v1/payments/:charge_id/sync
func (h *PaymentHandler) Sync(c *gin.Context) {
	res, err := h.orders.SyncPaymentStatus(c.Request.Context(), c.Param("charge_id"))
	if err != nil {
		HandleError(c, err, "SyncPayment")
		return
	}
	c.JSON(http.StatusOK, paymentResultToResponse(res))
}

// Webhook принимает уведомление Tap. Повторное уведомление подтверждается 200.
// POST /api/v1/webhooks/tap
func (h *PaymentHandler) Webhook(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "не удалось прочитать тело уведомления")
		return
	}

	res, err := h.orders.HandleWebhook(ctx, body, c.GetHeader(HeaderTapHashstring))
	switch {
	case errors.Is(err, domain.ErrDuplicateWebhook):
		log.Debug().Msg("Повторное уведомление Tap")
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	case err != nil:
		HandleError(c, err, "Webhook")
		return
	}

	resp := gin.H{"status": "processed"}
	if res != nil && res.Order != nil {
		resp["order_number"] = res.Order.OrderNumber
		resp["payment_status"] = res.Order.PaymentStatus
	}
	c.JSON(http.StatusOK, resp)
}
