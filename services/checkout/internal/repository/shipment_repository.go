package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"example.com/tap-checkout/pkg/outbox"
	"example.com/tap-checkout/services/checkout/internal/domain"
)

// ShipmentRepository — отгрузки заказов.
type ShipmentRepository interface {
	// Save вставляет (ID == 0) или обновляет отгрузку, переносит её статус
	// в orders.fulfillment_status и пишет события в outbox. Всё в одной транзакции.
	Save(ctx context.Context, s *domain.Shipment, events []*outbox.Record) error

	GetByID(ctx context.Context, id uint64) (*domain.Shipment, error)
	ListByOrder(ctx context.Context, orderID string) ([]*domain.Shipment, error)
	GetByTracking(ctx context.Context, trackingNumber string) (*domain.Shipment, error)
}

type shipmentRepository struct {
	db *gorm.DB
}

// NewShipmentRepository создаёт GORM репозиторий отгрузок.
func NewShipmentRepository(db *gorm.DB) ShipmentRepository {
	return &shipmentRepository{db: db}
}

func (r *shipmentRepository) Save(ctx context.Context, s *domain.Shipment, events []*outbox.Record) error {
	model := shipmentModelFromDomain(s)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.ID == 0 {
			if err := tx.Create(model).Error; err != nil {
				return fmt.Errorf("ошибка сохранения отгрузки: %w", err)
			}
			s.ID, s.CreatedAt, s.UpdatedAt = model.ID, model.CreatedAt, model.UpdatedAt
		} else {
			res := tx.Model(&ShipmentModel{}).
				Where("id = ?", s.ID).
				Updates(map[string]any{
					"status":          string(s.Status),
					"courier_name":    s.CourierName,
					"tracking_number": s.TrackingNumber,
					"shipped_date":    s.ShippedDate,
					"delivery_date":   s.DeliveryDate,
					"admin_comment":   s.AdminComment,
				})
			if res.Error != nil {
				return fmt.Errorf("ошибка обновления отгрузки: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return domain.ErrShipmentNotFound
			}
		}

		if err := tx.Model(&OrderModel{}).
			Where("id = ?", s.OrderID).
			Updates(map[string]any{
				"fulfillment_status": string(s.Status.Fulfillment()),
				"updated_at":         time.Now().UTC(),
			}).Error; err != nil {
			return fmt.Errorf("ошибка обновления статуса выполнения: %w", err)
		}

		if err := outbox.Insert(tx, events...); err != nil {
			return fmt.Errorf("ошибка записи outbox: %w", err)
		}
		return nil
	})
}

func (r *shipmentRepository) GetByID(ctx context.Context, id uint64) (*domain.Shipment, error) {
	return r.find(ctx, "id = ?", id)
}

func (r *shipmentRepository) GetByTracking(ctx context.Context, trackingNumber string) (*domain.Shipment, error) {
	return r.find(ctx, "tracking_number = ?", trackingNumber)
}

func (r *shipmentRepository) find(ctx context.Context, query string, args ...any) (*domain.Shipment, error) {
	var model ShipmentModel
	err := r.db.WithContext(ctx).Where(query, args...).Order("id DESC").First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrShipmentNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}

func (r *shipmentRepository) ListByOrder(ctx context.Context, orderID string) ([]*domain.Shipment, error) {
	var models []ShipmentModel
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	shipments := make([]*domain.Shipment, len(models))
	for i := range models {
		shipments[i] = models[i].toDomain()
	}
	return shipments, nil
}
