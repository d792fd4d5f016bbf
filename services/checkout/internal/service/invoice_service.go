package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"example.com/tap-checkout/pkg/logger"
	"example.com/tap-checkout/services/checkout/internal/domain"
	"example.com/tap-checkout/services/checkout/internal/repository"
)

// Document — печатная форма.
type Document struct {
	Name    string
	Content []byte
}

// InvoiceService — счета по оплаченным заказам.
type InvoiceService interface {
	// CreateInvoice выставляет счёт. Повторный вызов возвращает уже выставленный счёт.
	CreateInvoice(ctx context.Context, orderNumber string, actor Actor) (*domain.Invoice, error)

	// RenderInvoiceDocument печатает счёт и сохраняет его в DocumentStore.
	RenderInvoiceDocument(ctx context.Context, orderID string, actor Actor) (*Document, error)

	GetInvoiceByOrder(ctx context.Context, orderID string, actor Actor) (*domain.Invoice, error)
}

// InvoiceConfig — налоговые реквизиты счёта.
type InvoiceConfig struct {
	VATRate   decimal.Decimal
	VATNumber string
}

type invoiceService struct {
	orders   repository.OrderRepository
	invoices repository.InvoiceRepository
	catalog  repository.CatalogRepository
	store    DocumentStore
	cfg      InvoiceConfig
	now      func() time.Time
}

// NewInvoiceService создаёт сервис счетов.
func NewInvoiceService(
	orders repository.OrderRepository,
	invoices repository.InvoiceRepository,
	catalog repository.CatalogRepository,
	store DocumentStore,
	cfg InvoiceConfig,
) InvoiceService {
	return &invoiceService{
		orders:   orders,
		invoices: invoices,
		catalog:  catalog,
		store:    store,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *invoiceService) CreateInvoice(ctx context.Context, orderNumber string, actor Actor) (*domain.Invoice, error) {
	log := logger.FromContext(ctx)

	order, err := s.orders.GetByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(order.UserID) {
		return nil, domain.ErrForbidden
	}

	// выставленный счёт остаётся в силе и после отмены или возврата
	existing, err := s.invoices.GetByOrderID(ctx, order.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrInvoiceNotFound) {
		return nil, fmt.Errorf("ошибка поиска счёта: %w", err)
	}

	user, err := s.catalog.GetUser(ctx, order.UserID)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки покупателя: %w", err)
	}

	inv, err := domain.NewInvoice(order, user, s.cfg.VATRate, s.cfg.VATNumber)
	if err != nil {
		return nil, err
	}
	inv.CreatedAt = s.now()

	saved, created, err := s.invoices.Create(ctx, inv)
	if err != nil {
		log.Error().Err(err).Str("order_number", orderNumber).Msg("Ошибка выставления счёта")
		return nil, err
	}

	if created {
		log.Info().
			Str("order_number", orderNumber).
			Str("invoice_number", saved.InvoiceNumber).
			Str("grand_total", saved.GrandTotal.StringFixed(2)).
			Msg("Счёт выставлен")
	}
	return saved, nil
}

func (s *invoiceService) RenderInvoiceDocument(ctx context.Context, orderID string, actor Actor) (*Document, error) {
	inv, err := s.GetInvoiceByOrder(ctx, orderID, actor)
	if err != nil {
		return nil, err
	}

	content, err := RenderInvoice(inv)
	if err != nil {
		return nil, err
	}

	name := inv.DocumentName()
	if err := s.store.Save(ctx, name, content); err != nil {
		return nil, fmt.Errorf("ошибка сохранения документа: %w", err)
	}
	if inv.DocumentPath == nil {
		if err := s.invoices.SetDocumentPath(ctx, inv.ID, name); err != nil {
			return nil, fmt.Errorf("ошибка сохранения пути документа: %w", err)
		}
		inv.DocumentPath = &name
	}

	return &Document{Name: name, Content: content}, nil
}

func (s *invoiceService) GetInvoiceByOrder(ctx context.Context, orderID string, actor Actor) (*domain.Invoice, error) {
	inv, err := s.invoices.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(inv.UserID) {
		return nil, domain.ErrForbidden
	}
	return inv, nil
}
