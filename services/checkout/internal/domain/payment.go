package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentRecordStatus — статус записи платежа.
type PaymentRecordStatus string

const (
	PaymentRecordPending    PaymentRecordStatus = "pending"
	PaymentRecordSuccessful PaymentRecordStatus = "successful"
	PaymentRecordFailed     PaymentRecordStatus = "failed"
	PaymentRecordRefunded   PaymentRecordStatus = "refunded"
)

// Payment — попытка оплаты через шлюз.
type Payment struct {
	ID                 uint64
	OrderID            string
	UserID             uint64
	PaymentReference   string // ID charge в Tap
	PaymentMethod      PaymentMethod
	Amount             decimal.Decimal
	Currency           string
	Status             PaymentRecordStatus
	GatewayRawResponse []byte
	RefundReference    *string
	RefundDate         *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// LatestSuccessful выбирает последнюю успешную запись платежа.
func LatestSuccessful(payments []Payment) *Payment {
	var latest *Payment
	for i := range payments {
		p := &payments[i]
		if p.Status != PaymentRecordSuccessful {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) ||
			(p.CreatedAt.Equal(latest.CreatedAt) && p.ID > latest.ID) {
			latest = p
		}
	}
	return latest
}

// PaymentByReference ищет запись платежа по ID charge.
func PaymentByReference(payments []Payment, reference string) *Payment {
	for i := range payments {
		if payments[i].PaymentReference == reference {
			return &payments[i]
		}
	}
	return nil
}
