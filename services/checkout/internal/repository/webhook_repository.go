package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// WebhookRepository — журнал обработанных уведомлений шлюза.
type WebhookRepository interface {
	// Record сохраняет ключ уведомления. false — ключ уже был.
	Record(ctx context.Context, eventKey, chargeID, status string) (bool, error)

	// Exists — уведомление с таким ключом уже обработано.
	Exists(ctx context.Context, eventKey string) (bool, error)
}

type webhookRepository struct {
	db *gorm.DB
}

// NewWebhookRepository создаёт GORM журнал уведомлений.
func NewWebhookRepository(db *gorm.DB) WebhookRepository {
	return &webhookRepository{db: db}
}

func (r *webhookRepository) Record(ctx context.Context, eventKey, chargeID, status string) (bool, error) {
	err := r.db.WithContext(ctx).Create(&WebhookEventModel{
		EventKey: eventKey,
		ChargeID: chargeID,
		Status:   status,
	}).Error
	if err != nil {
		if isDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка записи уведомления: %w", err)
	}
	return true, nil
}

func (r *webhookRepository) Exists(ctx context.Context, eventKey string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&WebhookEventModel{}).
		Where("event_key = ?", eventKey).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
