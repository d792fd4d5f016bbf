package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"example.com/tap-checkout/services/checkout/internal/domain"
)

// InvoiceRepository — счета.
type InvoiceRepository interface {
	// Create назначает номер счёта и сохраняет его. Если счёт по заказу уже есть,
	// возвращается существующий и created == false.
	Create(ctx context.Context, inv *domain.Invoice) (saved *domain.Invoice, created bool, err error)

	GetByOrderID(ctx context.Context, orderID string) (*domain.Invoice, error)
	GetByNumber(ctx context.Context, invoiceNumber string) (*domain.Invoice, error)

	// SetDocumentPath записывает путь печатной формы, если он ещё не задан.
	SetDocumentPath(ctx context.Context, id uint64, path string) error
}

type invoiceRepository struct {
	db *gorm.DB
}

// NewInvoiceRepository создаёт GORM репозиторий счетов.
func NewInvoiceRepository(db *gorm.DB) InvoiceRepository {
	return &invoiceRepository{db: db}
}

func (r *invoiceRepository) Create(ctx context.Context, inv *domain.Invoice) (*domain.Invoice, bool, error) {
	existing, err := r.GetByOrderID(ctx, inv.OrderID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrInvoiceNotFound) {
		return nil, false, err
	}

	year := inv.CreatedAt.Year()
	model := invoiceModelFromDomain(inv)

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, err := nextInvoiceSeq(tx, year)
		if err != nil {
			return err
		}
		model.InvoiceNumber = domain.FormatInvoiceNumber(year, seq)
		model.CreatedAt = inv.CreatedAt

		if err := tx.Create(model).Error; err != nil {
			if isDuplicateKeyError(err) {
				return domain.ErrDuplicateInvoice
			}
			return fmt.Errorf("ошибка сохранения счёта: %w", err)
		}
		return nil
	})
	if errors.Is(err, domain.ErrDuplicateInvoice) {
		// параллельная вставка по тому же заказу
		existing, getErr := r.GetByOrderID(ctx, inv.OrderID)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	return model.toDomain(), true, nil
}

// nextInvoiceSeq увеличивает счётчик года. Строка счётчика остаётся заблокированной до конца транзакции.
func nextInvoiceSeq(tx *gorm.DB, year int) (int64, error) {
	if err := tx.Exec(
		"INSERT INTO invoice_counters (year, last_value) VALUES (?, 1) ON DUPLICATE KEY UPDATE last_value = last_value + 1",
		year,
	).Error; err != nil {
		return 0, fmt.Errorf("ошибка счётчика счетов: %w", err)
	}

	var counter InvoiceCounterModel
	if err := tx.Where("year = ?", year).First(&counter).Error; err != nil {
		return 0, fmt.Errorf("ошибка чтения счётчика счетов: %w", err)
	}
	return counter.LastValue, nil
}

func (r *invoiceRepository) GetByOrderID(ctx context.Context, orderID string) (*domain.Invoice, error) {
	return r.find(ctx, "order_id = ?", orderID)
}

func (r *invoiceRepository) GetByNumber(ctx context.Context, invoiceNumber string) (*domain.Invoice, error) {
	return r.find(ctx, "invoice_number = ?", invoiceNumber)
}

func (r *invoiceRepository) find(ctx context.Context, query string, args ...any) (*domain.Invoice, error) {
	var model InvoiceModel
	err := r.db.WithContext(ctx).Where(query, args...).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrInvoiceNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}

func (r *invoiceRepository) SetDocumentPath(ctx context.Context, id uint64, path string) error {
	return r.db.WithContext(ctx).
		Model(&InvoiceModel{}).
		Where("id = ? AND document_path IS NULL", id).
		Update("document_path", path).Error
}
