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

// NewOrder — всё, что пишется при создании заказа.
type NewOrder struct {
	Order   *domain.Order
	Address domain.Address
	// PromoCodeID — промокод, чей used_count увеличивается в той же транзакции.
	PromoCodeID *uint64
	Events      []*outbox.Record
}

// ListFilter — параметры выборки заказов.
type ListFilter struct {
	UserID *uint64
	Status *domain.OrderStatus
	Offset int
	Limit  int
}

// OrderRepository — хранилище агрегата заказа.
type OrderRepository interface {
	// Create пишет адрес, промокод, списание остатков, заказ, позиции и outbox в одной транзакции.
	// Нехватка товара откатывает всё и возвращает domain.ErrInsufficientStock.
	Create(ctx context.Context, in NewOrder) error

	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByNumber(ctx context.Context, orderNumber string) (*domain.Order, error)
	GetByChargeID(ctx context.Context, chargeID string) (*domain.Order, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
	List(ctx context.Context, f ListFilter) ([]*domain.Order, int64, error)

	// HasPurchased — есть ли у пользователя завершённый оплаченный заказ с товаром.
	HasPurchased(ctx context.Context, userID, productID uint64) (bool, error)

	// ListStaleUnpaid — заказы с charge, не получившие финальный статус до before.
	ListStaleUnpaid(ctx context.Context, before time.Time, limit int) ([]*domain.Order, error)

	// ListPendingRefunds — отменённые, но всё ещё оплаченные заказы.
	ListPendingRefunds(ctx context.Context, limit int) ([]*domain.Order, error)
}

type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository создаёт GORM репозиторий заказов.
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(ctx context.Context, in NewOrder) error {
	order := in.Order

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		addr := addressModelFromDomain(in.Address)
		if err := tx.Create(addr).Error; err != nil {
			return fmt.Errorf("ошибка сохранения адреса: %w", err)
		}
		order.AddressID = addr.ID
		saved := addr.toDomain()
		order.Address = &saved

		if in.PromoCodeID != nil {
			if err := usePromoCode(tx, *in.PromoCodeID); err != nil {
				return err
			}
		}

		for i := range order.Items {
			if err := adjustStock(tx, &order.Items[i], -order.Items[i].Quantity); err != nil {
				return err
			}
		}

		model := orderModelFromDomain(order)
		if err := tx.Omit("Items", "Address").Create(model).Error; err != nil {
			if isDuplicateKeyError(err) {
				return domain.ErrDuplicateOrder
			}
			return fmt.Errorf("ошибка сохранения заказа: %w", err)
		}
		order.CreatedAt, order.UpdatedAt = model.CreatedAt, model.UpdatedAt

		items := make([]*OrderItemModel, len(order.Items))
		for i := range order.Items {
			items[i] = orderItemModelFromDomain(order.ID, &order.Items[i])
		}
		if err := tx.Create(&items).Error; err != nil {
			return fmt.Errorf("ошибка сохранения позиций: %w", err)
		}
		for i := range items {
			order.Items[i].ID = items[i].ID
			order.Items[i].OrderID = order.ID
		}

		if err := outbox.Insert(tx, in.Events...); err != nil {
			return fmt.Errorf("ошибка записи outbox: %w", err)
		}
		return nil
	})

	return err
}

// usePromoCode увеличивает used_count, если лимит не исчерпан.
func usePromoCode(tx *gorm.DB, id uint64) error {
	res := tx.Model(&PromoCodeModel{}).
		Where("id = ? AND is_active = ? AND (usage_limit IS NULL OR used_count < usage_limit)", id, true).
		Update("used_count", gorm.Expr("used_count + 1"))
	if res.Error != nil {
		return fmt.Errorf("ошибка применения промокода: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrInvalidPromoCode
	}
	return nil
}

// adjustStock меняет остаток товара или варианта на delta.
// Списание условное: stock >= quantity, иначе domain.ErrInsufficientStock.
func adjustStock(tx *gorm.DB, item *domain.OrderItem, delta int) error {
	var q *gorm.DB
	if item.VariantID != nil {
		q = tx.Model(&ProductVariantModel{}).Where("id = ? AND product_id = ?", *item.VariantID, item.ProductID)
	} else {
		q = tx.Model(&ProductModel{}).Where("id = ?", item.ProductID)
	}

	var res *gorm.DB
	if delta < 0 {
		res = q.Where("stock >= ?", -delta).Update("stock", gorm.Expr("stock - ?", -delta))
	} else {
		res = q.Update("stock", gorm.Expr("stock + ?", delta))
	}
	if res.Error != nil {
		return fmt.Errorf("ошибка обновления остатка товара %d: %w", item.ProductID, res.Error)
	}
	if res.RowsAffected == 0 {
		if delta < 0 {
			return fmt.Errorf("%w: товар %d (%s)", domain.ErrInsufficientStock, item.ProductID, item.ProductName)
		}
		return fmt.Errorf("%w: товар %d", domain.ErrProductNotFound, item.ProductID)
	}
	return nil
}

func (r *orderRepository) find(ctx context.Context, query string, args ...any) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Address").
		Where(query, args...).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}

func (r *orderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.find(ctx, "id = ?", id)
}

func (r *orderRepository) GetByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return r.find(ctx, "order_number = ?", orderNumber)
}

// GetByChargeID ищет заказ по текущему charge или по любой его записи платежа.
func (r *orderRepository) GetByChargeID(ctx context.Context, chargeID string) (*domain.Order, error) {
	return r.find(ctx,
		"gateway_charge_id = ? OR id IN (SELECT order_id FROM payments WHERE payment_reference = ?)",
		chargeID, chargeID)
}

func (r *orderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	return r.find(ctx, "idempotency_key = ?", key)
}

func (r *orderRepository) List(ctx context.Context, f ListFilter) ([]*domain.Order, int64, error) {
	q := r.db.WithContext(ctx).Model(&OrderModel{})
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.Status != nil {
		q = q.Where("status = ?", string(*f.Status))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []OrderModel
	if err := q.Preload("Items").
		Order("created_at DESC").
		Offset(f.Offset).
		Limit(f.Limit).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}

	orders := make([]*domain.Order, len(models))
	for i := range models {
		orders[i] = models[i].toDomain()
	}
	return orders, total, nil
}

func (r *orderRepository) HasPurchased(ctx context.Context, userID, productID uint64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&OrderModel{}).
		Joins("JOIN order_items ON order_items.order_id = orders.id").
		Where("orders.user_id = ? AND order_items.product_id = ? AND orders.status = ? AND orders.payment_status = ?",
			userID, productID, string(domain.OrderStatusCompleted), string(domain.PaymentStatusPaid)).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *orderRepository) ListStaleUnpaid(ctx context.Context, before time.Time, limit int) ([]*domain.Order, error) {
	return r.list(ctx, limit,
		"gateway_charge_id IS NOT NULL AND payment_status IN ? AND status IN ? AND updated_at < ?",
		[]string{string(domain.PaymentStatusUnpaid), string(domain.PaymentStatusUnknown)},
		[]string{string(domain.OrderStatusPending), string(domain.OrderStatusFailed)},
		before)
}

func (r *orderRepository) ListPendingRefunds(ctx context.Context, limit int) ([]*domain.Order, error) {
	return r.list(ctx, limit, "status = ? AND payment_status = ?",
		string(domain.OrderStatusCancelled), string(domain.PaymentStatusPaid))
}

func (r *orderRepository) list(ctx context.Context, limit int, query string, args ...any) ([]*domain.Order, error) {
	var models []OrderModel
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where(query, args...).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	orders := make([]*domain.Order, len(models))
	for i := range models {
		orders[i] = models[i].toDomain()
	}
	return orders, nil
}
