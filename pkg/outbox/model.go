package outbox

import (
	"time"

	"gorm.io/datatypes"
)

// RecordModel — GORM модель таблицы outbox.
type RecordModel struct {
	ID            string                                `gorm:"column:id;type:varchar(36);primaryKey"`
	AggregateType string                                `gorm:"column:aggregate_type;type:varchar(50);not null;index:idx_outbox_aggregate"`
	AggregateID   string                                `gorm:"column:aggregate_id;type:varchar(64);not null;index:idx_outbox_aggregate"`
	EventType     string                                `gorm:"column:event_type;type:varchar(100);not null"`
	Topic         string                                `gorm:"column:topic;type:varchar(100);not null"`
	MessageKey    string                                `gorm:"column:message_key;type:varchar(100);not null"`
	Payload       datatypes.JSON                        `gorm:"column:payload;not null"`
	Headers       datatypes.JSONType[map[string]string] `gorm:"column:headers"`
	CreatedAt     time.Time                             `gorm:"column:created_at;autoCreateTime"`
	ProcessedAt   *time.Time                            `gorm:"column:processed_at;index:idx_outbox_unprocessed"`
	RetryCount    int                                   `gorm:"column:retry_count;not null;default:0"`
	LastError     *string                               `gorm:"column:last_error;type:text"`
}

// TableName возвращает имя таблицы в БД.
func (RecordModel) TableName() string {
	return "outbox"
}

func (m *RecordModel) toDomain() *Record {
	return &Record{
		ID:            m.ID,
		AggregateType: m.AggregateType,
		AggregateID:   m.AggregateID,
		EventType:     m.EventType,
		Topic:         m.Topic,
		MessageKey:    m.MessageKey,
		Payload:       []byte(m.Payload),
		Headers:       m.Headers.Data(),
		CreatedAt:     m.CreatedAt,
		ProcessedAt:   m.ProcessedAt,
		RetryCount:    m.RetryCount,
		LastError:     m.LastError,
	}
}

func modelFromDomain(r *Record) *RecordModel {
	return &RecordModel{
		ID:            r.ID,
		AggregateType: r.AggregateType,
		AggregateID:   r.AggregateID,
		EventType:     r.EventType,
		Topic:         r.Topic,
		MessageKey:    r.MessageKey,
		Payload:       datatypes.JSON(r.Payload),
		Headers:       datatypes.NewJSONType(r.Headers),
		CreatedAt:     r.CreatedAt,
		ProcessedAt:   r.ProcessedAt,
		RetryCount:    r.RetryCount,
		LastError:     r.LastError,
	}
}
