package handler

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"example.com/tap-checkout/services/checkout/internal/domain"
)

var registerOnce sync.Once

// registerValidators добавляет в валидатор gin правила payment_method и shipment_status.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("payment_method", func(fl validator.FieldLevel) bool {
			return domain.PaymentMethod(fl.Field().String()).IsValid()
		})
		_ = v.RegisterValidation("shipment_status", func(fl validator.FieldLevel) bool {
			return domain.ShipmentStatus(fl.Field().String()).IsValid()
		})
	})
}
