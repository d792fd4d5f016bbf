package service

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"example.com/tap-checkout/pkg/outbox"
	"example.com/tap-checkout/services/checkout/internal/domain"
	"example.com/tap-checkout/services/checkout/internal/repository"
	"example.com/tap-checkout/services/checkout/internal/tap"
)

// =============================================================================
// Моки репозиториев
// =============================================================================

type mockOrderRepo struct{ mock.Mock }

func (m *mockOrderRepo) Create(ctx context.Context, in repository.NewOrder) error {
	return m.Called(ctx, in).Error(0)
}

func (m *mockOrderRepo) order(args mock.Arguments) (*domain.Order, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *mockOrderRepo) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return m.order(m.Called(ctx, id))
}

func (m *mockOrderRepo) GetByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return m.order(m.Called(ctx, orderNumber))
}

func (m *mockOrderRepo) GetByChargeID(ctx context.Context, chargeID string) (*domain.Order, error) {
	return m.order(m.Called(ctx, chargeID))
}

func (m *mockOrderRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	return m.order(m.Called(ctx, key))
}

func (m *mockOrderRepo) List(ctx context.Context, f repository.ListFilter) ([]*domain.Order, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*domain.Order), args.Get(1).(int64), args.Error(2)
}

func (m *mockOrderRepo) HasPurchased(ctx context.Context, userID, productID uint64) (bool, error) {
	args := m.Called(ctx, userID, productID)
	return args.Bool(0), args.Error(1)
}

func (m *mockOrderRepo) ListStaleUnpaid(ctx context.Context, before time.Time, limit int) ([]*domain.Order, error) {
	args := m.Called(ctx, before, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Order), args.Error(1)
}

func (m *mockOrderRepo) ListPendingRefunds(ctx context.Context, limit int) ([]*domain.Order, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Order), args.Error(1)
}

type mockPaymentRepo struct{ mock.Mock }

func (m *mockPaymentRepo) Apply(ctx context.Context, u repository.PaymentUpdate) error {
	return m.Called(ctx, u).Error(0)
}

func (m *mockPaymentRepo) GetByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

func (m *mockPaymentRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Payment), args.Error(1)
}

type mockCatalogRepo struct{ mock.Mock }

func (m *mockCatalogRepo) GetProducts(ctx context.Context, ids []uint64) (map[uint64]domain.Product, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[uint64]domain.Product), args.Error(1)
}

func (m *mockCatalogRepo) GetPromoCode(ctx context.Context, code string) (*domain.PromoCode, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PromoCode), args.Error(1)
}

func (m *mockCatalogRepo) GetUser(ctx context.Context, id uint64) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

type mockInvoiceRepo struct{ mock.Mock }

func (m *mockInvoiceRepo) Create(ctx context.Context, inv *domain.Invoice) (*domain.Invoice, bool, error) {
	args := m.Called(ctx, inv)
	if args.Get(0) == nil {
		return nil, false, args.Error(2)
	}
	return args.Get(0).(*domain.Invoice), args.Bool(1), args.Error(2)
}

func (m *mockInvoiceRepo) invoice(args mock.Arguments) (*domain.Invoice, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Invoice), args.Error(1)
}

func (m *mockInvoiceRepo) GetByOrderID(ctx context.Context, orderID string) (*domain.Invoice, error) {
	return m.invoice(m.Called(ctx, orderID))
}

func (m *mockInvoiceRepo) GetByNumber(ctx context.Context, invoiceNumber string) (*domain.Invoice, error) {
	return m.invoice(m.Called(ctx, invoiceNumber))
}

func (m *mockInvoiceRepo) SetDocumentPath(ctx context.Context, id uint64, path string) error {
	return m.Called(ctx, id, path).Error(0)
}

type mockShipmentRepo struct{ mock.Mock }

func (m *mockShipmentRepo) Save(ctx context.Context, s *domain.Shipment, events []*outbox.Record) error {
	return m.Called(ctx, s, events).Error(0)
}

func (m *mockShipmentRepo) shipment(args mock.Arguments) (*domain.Shipment, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Shipment), args.Error(1)
}

func (m *mockShipmentRepo) GetByID(ctx context.Context, id uint64) (*domain.Shipment, error) {
	return m.shipment(m.Called(ctx, id))
}

func (m *mockShipmentRepo) GetByTracking(ctx context.Context, trackingNumber string) (*domain.Shipment, error) {
	return m.shipment(m.Called(ctx, trackingNumber))
}

func (m *mockShipmentRepo) ListByOrder(ctx context.Context, orderID string) ([]*domain.Shipment, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Shipment), args.Error(1)
}

type mockWebhookRepo struct{ mock.Mock }

func (m *mockWebhookRepo) Record(ctx context.Context, eventKey, chargeID, status string) (bool, error) {
	args := m.Called(ctx, eventKey, chargeID, status)
	return args.Bool(0), args.Error(1)
}

func (m *mockWebhookRepo) Exists(ctx context.Context, eventKey string) (bool, error) {
	args := m.Called(ctx, eventKey)
	return args.Bool(0), args.Error(1)
}

// =============================================================================
// Мок шлюза
// =============================================================================

type mockGateway struct{ mock.Mock }

func (m *mockGateway) charge(args mock.Arguments) (*tap.Charge, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tap.Charge), args.Error(1)
}

func (m *mockGateway) CreateCharge(ctx context.Context, req tap.ChargeRequest) (*tap.Charge, error) {
	return m.charge(m.Called(ctx, req))
}

func (m *mockGateway) CaptureCharge(ctx context.Context, chargeID string) (*tap.Charge, error) {
	return m.charge(m.Called(ctx, chargeID))
}

func (m *mockGateway) GetCharge(ctx context.Context, chargeID string) (*tap.Charge, error) {
	return m.charge(m.Called(ctx, chargeID))
}

func (m *mockGateway) RefundCharge(ctx context.Context, chargeID string, amountMinor *int64, currency string) (*tap.Refund, error) {
	args := m.Called(ctx, chargeID, amountMinor, currency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tap.Refund), args.Error(1)
}

func (m *mockGateway) VerifyWebhook(ch *tap.Charge, hashstring string) bool {
	return m.Called(ch, hashstring).Bool(0)
}

// =============================================================================
// Прочие заглушки
// =============================================================================

type fixedNumbers struct{ number string }

func (f fixedNumbers) Next() string { return f.number }

type mockOrderService struct {
	mock.Mock
	OrderService
}

func (m *mockOrderService) SyncPaymentStatus(ctx context.Context, chargeID string) (*PaymentResult, error) {
	args := m.Called(ctx, chargeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PaymentResult), args.Error(1)
}

func (m *mockOrderService) RetryRefund(ctx context.Context, orderNumber string) (bool, error) {
	args := m.Called(ctx, orderNumber)
	return args.Bool(0), args.Error(1)
}

type mockInvoiceService struct {
	mock.Mock
	InvoiceService
}

func (m *mockInvoiceService) CreateInvoice(ctx context.Context, orderNumber string, actor Actor) (*domain.Invoice, error) {
	args := m.Called(ctx, orderNumber, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Invoice), args.Error(1)
}
