// Package outbox реализует Outbox Pattern: доменное событие пишется в одной
// транзакции с изменением заказа, а Worker доставляет его в Kafka.
package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record — запись таблицы outbox.
type Record struct {
	ID            string
	AggregateType string // order / invoice / shipment
	AggregateID   string
	EventType     string // order.paid, payment.refunded ...
	Topic         string
	MessageKey    string // ключ партиционирования, обычно номер заказа
	Payload       []byte
	Headers       map[string]string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	RetryCount    int
	LastError     *string
}

// NewRecord сериализует payload и готовит запись к вставке.
func NewRecord(aggregateType, aggregateID, eventType, topic string, payload any, headers map[string]string) (*Record, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации события %s: %w", eventType, err)
	}

	h := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		if v != "" {
			h[k] = v
		}
	}
	h["event_type"] = eventType

	return &Record{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Topic:         topic,
		MessageKey:    aggregateID,
		Payload:       data,
		Headers:       h,
		CreatedAt:     time.Now().UTC(),
	}, nil
}
