package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/tap-checkout/pkg/outbox"
	"example.com/tap-checkout/services/checkout/internal/domain"
)

// PaymentUpdate — согласованная запись заказа и платежа.
type PaymentUpdate struct {
	Order *domain.Order
	// Payment вставляется при ID == 0, иначе обновляется. nil — только заказ.
	Payment *domain.Payment
	// Restock возвращает позиции на склад, если это ещё не сделано.
	Restock bool
	// Expect — статусы заказа, из которых посчитано обновление. Если строка
	// в БД уже в другом состоянии, Apply возвращает domain.ErrOrderChanged.
	Expect *domain.OrderState
	Events []*outbox.Record
}

// PaymentRepository — записи платежей.
type PaymentRepository interface {
	// Apply пишет заказ, платёж, возврат остатков и outbox в одной транзакции.
	Apply(ctx context.Context, u PaymentUpdate) error

	GetByReference(ctx context.Context, reference string) (*domain.Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error)
}

type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository создаёт GORM репозиторий платежей.
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Apply(ctx context.Context, u PaymentUpdate) error {
	order := u.Order

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockOrder(tx, order.ID, u.Expect); err != nil {
			return err
		}

		if u.Payment != nil {
			if err := savePayment(tx, u.Payment); err != nil {
				return err
			}
		}

		res := tx.Model(&OrderModel{}).
			Where("id = ?", order.ID).
			Updates(map[string]any{
				"status":               string(order.Status),
				"payment_status":       string(order.PaymentStatus),
				"gateway_charge_id":    order.GatewayChargeID,
				"gateway_raw_response": rawJSON(order.GatewayRawResponse),
				"updated_at":           time.Now().UTC(),
			})
		if res.Error != nil {
			return fmt.Errorf("ошибка обновления заказа: %w", res.Error)
		}

		if u.Restock {
			if err := restock(tx, order); err != nil {
				return err
			}
		}

		if err := outbox.Insert(tx, u.Events...); err != nil {
			return fmt.Errorf("ошибка записи outbox: %w", err)
		}
		return nil
	})
}

// lockOrder блокирует строку заказа до конца транзакции и сверяет её статусы с expect.
func lockOrder(tx *gorm.DB, orderID string, expect *domain.OrderState) error {
	var current OrderModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "status", "payment_status").
		Where("id = ?", orderID).
		Take(&current).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrOrderNotFound
		}
		return fmt.Errorf("ошибка блокировки заказа: %w", err)
	}

	if expect != nil &&
		(current.Status != string(expect.Status) || current.PaymentStatus != string(expect.PaymentStatus)) {
		return fmt.Errorf("%w: ожидался %s/%s, в БД %s/%s", domain.ErrOrderChanged,
			expect.Status, expect.PaymentStatus, current.Status, current.PaymentStatus)
	}
	return nil
}

// savePayment вставляет или обновляет платёж. Строка уже прочитана вызывающим,
// поэтому UPDATE без изменений (0 затронутых строк в MySQL) не ошибка.
func savePayment(tx *gorm.DB, p *domain.Payment) error {
	if p.ID == 0 {
		model := paymentModelFromDomain(p)
		if err := tx.Create(model).Error; err != nil {
			return fmt.Errorf("ошибка сохранения платежа: %w", err)
		}
		p.ID, p.CreatedAt, p.UpdatedAt = model.ID, model.CreatedAt, model.UpdatedAt
		return nil
	}

	err := tx.Model(&PaymentModel{}).
		Where("id = ?", p.ID).
		Updates(map[string]any{
			"status":               string(p.Status),
			"gateway_raw_response": rawJSON(p.GatewayRawResponse),
			"refund_reference":     p.RefundReference,
			"refund_date":          p.RefundDate,
		}).Error
	if err != nil {
		return fmt.Errorf("ошибка обновления платежа: %w", err)
	}
	return nil
}

// restock возвращает остатки один раз: флаг stock_restored ставится условным UPDATE.
func restock(tx *gorm.DB, order *domain.Order) error {
	res := tx.Model(&OrderModel{}).
		Where("id = ? AND stock_restored = ?", order.ID, false).
		Update("stock_restored", true)
	if res.Error != nil {
		return fmt.Errorf("ошибка пометки возврата остатков: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}

	for i := range order.Items {
		if err := adjustStock(tx, &order.Items[i], order.Items[i].Quantity); err != nil {
			return err
		}
	}
	order.StockRestored = true
	return nil
}

func (r *paymentRepository) GetByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	var model PaymentModel
	err := r.db.WithContext(ctx).Where("payment_reference = ?", reference).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}

func (r *paymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	var models []PaymentModel
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	payments := make([]domain.Payment, len(models))
	for i := range models {
		payments[i] = *models[i].toDomain()
	}
	return payments, nil
}
