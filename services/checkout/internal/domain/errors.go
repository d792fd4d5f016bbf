// Package domain содержит сущности checkout: заказ, платёж, счёт, отгрузку,
// правила переходов статусов и доменные ошибки.
package domain

import "errors"

// Доменные ошибки. HTTP слой сопоставляет их со статусами ответов.
var (
	// ErrValidation — некорректные входные данные.
	ErrValidation = errors.New("некорректные данные запроса")

	ErrProductNotFound   = errors.New("товар не найден")
	ErrInsufficientStock = errors.New("недостаточно товара на складе")
	ErrInvalidPromoCode  = errors.New("промокод недействителен")

	// ErrGateway — ошибка платёжного шлюза. Повторяемая: заказ уже сохранён.
	ErrGateway = errors.New("ошибка платёжного шлюза")

	ErrOrderNotFound    = errors.New("заказ не найден")
	ErrPaymentNotFound  = errors.New("платёж не найден")
	ErrInvoiceNotFound  = errors.New("счёт не найден")
	ErrShipmentNotFound = errors.New("отгрузка не найдена")

	// ErrOrderCannotCancel — заказ уже отгружен или доставлен.
	ErrOrderCannotCancel = errors.New("заказ нельзя отменить в текущем статусе")

	// ErrOrderNotPaid — счёт можно выставить только по оплаченному заказу.
	ErrOrderNotPaid = errors.New("заказ не оплачен")

	// ErrInvalidTransition — переход статуса запрещён.
	ErrInvalidTransition = errors.New("недопустимый переход статуса")

	// ErrOrderNotChargeable — по заказу нельзя создать новый платёж.
	ErrOrderNotChargeable = errors.New("по заказу нельзя создать платёж")

	ErrForbidden        = errors.New("доступ запрещён")
	ErrInvalidSignature = errors.New("некорректная подпись уведомления")

	// ErrDuplicateOrder — заказ с таким idempotency_key уже создан.
	ErrDuplicateOrder = errors.New("заказ с таким idempotency_key уже существует")

	// ErrChargeBusy — по этому charge уже выполняется операция.
	ErrChargeBusy = errors.New("платёж уже обрабатывается, повторите позже")

	// ErrOrderChanged — заказ изменён параллельным запросом после чтения.
	ErrOrderChanged = errors.New("заказ изменён параллельно, повторите запрос")

	// ErrDuplicateInvoice — счёт по заказу уже выставлен.
	ErrDuplicateInvoice = errors.New("счёт по заказу уже существует")

	// ErrDuplicateWebhook — уведомление уже обработано.
	ErrDuplicateWebhook = errors.New("уведомление уже обработано")
)
