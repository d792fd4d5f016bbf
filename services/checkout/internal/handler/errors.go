// Package handler содержит HTTP обработчики checkout API.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/tap-checkout/pkg/logger"
	"example.com/tap-checkout/services/checkout/internal/domain"
)

// ErrorResponse — стандартный формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type errorClass struct {
	target error
	status int
	code   string
}

// errorClasses — порядок важен: первое совпадение по errors.Is.
var errorClasses = []errorClass{
	{domain.ErrValidation, http.StatusBadRequest, "invalid_request"},
	{domain.ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature"},
	{domain.ErrForbidden, http.StatusForbidden, "forbidden"},
	{domain.ErrProductNotFound, http.StatusUnprocessableEntity, "product_not_found"},
	{domain.ErrInsufficientStock, http.StatusUnprocessableEntity, "insufficient_stock"},
	{domain.ErrInvalidPromoCode, http.StatusUnprocessableEntity, "invalid_promo_code"},
	{domain.ErrOrderNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrPaymentNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrInvoiceNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrShipmentNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrOrderCannotCancel, http.StatusConflict, "order_cannot_cancel"},
	{domain.ErrOrderNotPaid, http.StatusConflict, "order_not_paid"},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{domain.ErrOrderNotChargeable, http.StatusConflict, "order_not_chargeable"},
	{domain.ErrDuplicateOrder, http.StatusConflict, "duplicate_order"},
	{domain.ErrChargeBusy, http.StatusConflict, "charge_busy"},
	{domain.ErrOrderChanged, http.StatusConflict, "order_changed"},
	{domain.ErrGateway, http.StatusBadGateway, "gateway_error"},
}

// classify возвращает HTTP статус и код ошибки. Неизвестная ошибка — 500.
func classify(err error) (int, string) {
	for _, ec := range errorClasses {
		if errors.Is(err, ec.target) {
			return ec.status, ec.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// HandleError преобразует ошибку сервиса в HTTP ответ.
// Используется всеми handlers для единообразной обработки ошибок.
func HandleError(c *gin.Context, err error, method string) {
	status, code := classify(err)
	c.JSON(status, errorBody(c, err, method, status, code))
}

func errorBody(c *gin.Context, err error, method string, status int, code string) ErrorResponse {
	log := logger.FromContext(c.Request.Context())

	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		log.Error().Err(err).Str("method", method).Msg("Внутренняя ошибка")
		return ErrorResponse{Error: code, Message: "Внутренняя ошибка сервера"}
	}

	log.Debug().Err(err).Str("method", method).Int("status", status).Msg("Ошибка запроса")
	return ErrorResponse{Error: code, Message: err.Error()}
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: message})
}
