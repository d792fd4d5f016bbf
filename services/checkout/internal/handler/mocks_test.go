package handler

import (
	"context"
	"errors"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"

	"example.com/tap-checkout/pkg/jwt"
	"example.com/tap-checkout/services/checkout/internal/domain"
	"example.com/tap-checkout/services/checkout/internal/service"
)

var errNotImplemented = errors.New("не задано в тесте")

// mockOrderService — мок service.OrderService.
type mockOrderService struct {
	CreateOrderFunc         func(ctx context.Context, in service.CreateOrderInput) (*service.CheckoutResult, error)
	RetryChargeFunc         func(ctx context.Context, orderNumber string, actor service.Actor) (*service.CheckoutResult, error)
	CaptureOrderPaymentFunc func(ctx context.Context, chargeID string) (*service.PaymentResult, error)
	SyncPaymentStatusFunc   func(ctx context.Context, chargeID string) (*service.PaymentResult, error)
	VerifyPaymentFunc       func(ctx context.Context, chargeID string, actor service.Actor) (*service.PaymentResult, error)
	CancelOrderFunc         func(ctx context.Context, orderNumber string, actor service.Actor) (*domain.Order, error)
	RetryRefundFunc         func(ctx context.Context, orderNumber string) (bool, error)
	GetOrderFunc            func(ctx context.Context, orderNumber string, actor service.Actor) (*service.OrderView, error)
	ListOrdersFunc          func(ctx context.Context, actor service.Actor, status *domain.OrderStatus, page, pageSize int) ([]*domain.Order, int64, error)
	HasPurchasedProductFunc func(ctx context.Context, userID, productID uint64) (bool, error)
	HandleWebhookFunc       func(ctx context.Context, body []byte, hashstring string) (*service.PaymentResult, error)
}

func (m *mockOrderService) CreateOrder(ctx context.Context, in service.CreateOrderInput) (*service.CheckoutResult, error) {
	if m.CreateOrderFunc != nil {
		return m.CreateOrderFunc(ctx, in)
	}
	return nil, errNotImplemented
}

func (m *mockOrderService) RetryCharge(ctx context.Context, orderNumber string, actor service.Actor) (*service.CheckoutResult, error) {
	if m.RetryChargeFunc != nil {
		return m.RetryChargeFunc(ctx, orderNumber, actor)
	}
	return nil, errNotImplemented
}

func (m *mockOrderService) CaptureOrderPayment(ctx context.Context, chargeID string) (*service.PaymentResult, error) {
	if m.CaptureOrderPaymentFunc != nil {
		return m.CaptureOrderPaymentFunc(ctx, chargeID)
	}
	return nil, errNotImplemented
}

func (m *mockOrderService) SyncPaymentStatus(ctx context.Context, chargeID string) (*service.PaymentResult, error) {
	if m.SyncPaymentStatusFunc != nil {
		return m.SyncPaymentStatusFunc(ctx, chargeID)
	}
	return nil, errNotImplemented
}

func (m *mockOrderService) VerifyPayment(ctx context.Context, chargeID string, actor service.Actor) (*service.PaymentResult, error) {
	if m.VerifyPaymentFunc != nil {
		return m.VerifyPaymentFunc(ctx, chargeID, actor)
	}
	return nil, errNotImplemented
}

func (m *mockOrderService) CancelOrder(ctx context.Context, orderNumber string, actor service.Actor) (*domain.Order, error) {
	if m.CancelOrderFunc != nil {
		return m.CancelOrderFunc(ctx, orderNumber, actor)
	}
	return nil, errNotImplemented
}

func (m *mockOrderService) RetryRefund(ctx context.Context, orderNumber string) (bool, error) {
	if m.RetryRefundFunc != nil {
		return m.RetryRefundFunc(ctx, orderNumber)
	}
	return false, errNotImplemented
}

func (m *mockOrderService) GetOrder(ctx context.Context, orderNumber string, actor service.Actor) (*service.OrderView, error) {
	if m.GetOrderFunc != nil {
		return m.GetOrderFunc(ctx, orderNumber, actor)
	}
	return nil, errNotImplemented
}

func (m *mockOrderService) ListOrders(ctx context.Context, actor service.Actor, status *domain.OrderStatus, page, pageSize int) ([]*domain.Order, int64, error) {
	if m.ListOrdersFunc != nil {
		return m.ListOrdersFunc(ctx, actor, status, page, pageSize)
	}
	return nil, 0, errNotImplemented
}

func (m *mockOrderService) HasPurchasedProduct(ctx context.Context, userID, productID uint64) (bool, error) {
	if m.HasPurchasedProductFunc != nil {
		return m.HasPurchasedProductFunc(ctx, userID, productID)
	}
	return false, errNotImplemented
}

func (m *mockOrderService) HandleWebhook(ctx context.Context, body []byte, hashstring string) (*service.PaymentResult, error) {
	if m.HandleWebhookFunc != nil {
		return m.HandleWebhookFunc(ctx, body, hashstring)
	}
	return nil, errNotImplemented
}

// mockInvoiceService — мок service.InvoiceService.
type mockInvoiceService struct {
	CreateInvoiceFunc         func(ctx context.Context, orderNumber string, actor service.Actor) (*domain.Invoice, error)
	RenderInvoiceDocumentFunc func(ctx context.Context, orderID string, actor service.Actor) (*service.Document, error)
	GetInvoiceByOrderFunc     func(ctx context.Context, orderID string, actor service.Actor) (*domain.Invoice, error)
}

func (m *mockInvoiceService) CreateInvoice(ctx context.Context, orderNumber string, actor service.Actor) (*domain.Invoice, error) {
	if m.CreateInvoiceFunc != nil {
		return m.CreateInvoiceFunc(ctx, orderNumber, actor)
	}
	return nil, errNotImplemented
}

func (m *mockInvoiceService) RenderInvoiceDocument(ctx context.Context, orderID string, actor service.Actor) (*service.Document, error) {
	if m.RenderInvoiceDocumentFunc != nil {
		return m.RenderInvoiceDocumentFunc(ctx, orderID, actor)
	}
	return nil, errNotImplemented
}

func (m *mockInvoiceService) GetInvoiceByOrder(ctx context.Context, orderID string, actor service.Actor) (*domain.Invoice, error) {
	if m.GetInvoiceByOrderFunc != nil {
		return m.GetInvoiceByOrderFunc(ctx, orderID, actor)
	}
	return nil, errNotImplemented
}

// mockShipmentService — мок service.ShipmentService.
type mockShipmentService struct {
	CreateShipmentFunc func(ctx context.Context, in service.ShipmentInput) (*domain.Shipment, error)
	UpdateShipmentFunc func(ctx context.Context, id uint64, patch service.ShipmentPatch) (*domain.Shipment, error)
	ListByOrderFunc    func(ctx context.Context, orderNumber string, actor service.Actor) ([]*domain.Shipment, error)
	TrackFunc          func(ctx context.Context, trackingNumber string) (*service.Tracking, error)
}

func (m *mockShipmentService) CreateShipment(ctx context.Context, in service.ShipmentInput) (*domain.Shipment, error) {
	if m.CreateShipmentFunc != nil {
		return m.CreateShipmentFunc(ctx, in)
	}
	return nil, errNotImplemented
}

func (m *mockShipmentService) UpdateShipment(ctx context.Context, id uint64, patch service.ShipmentPatch) (*domain.Shipment, error) {
	if m.UpdateShipmentFunc != nil {
		return m.UpdateShipmentFunc(ctx, id, patch)
	}
	return nil, errNotImplemented
}

func (m *mockShipmentService) ListByOrder(ctx context.Context, orderNumber string, actor service.Actor) ([]*domain.Shipment, error) {
	if m.ListByOrderFunc != nil {
		return m.ListByOrderFunc(ctx, orderNumber, actor)
	}
	return nil, errNotImplemented
}

func (m *mockShipmentService) Track(ctx context.Context, trackingNumber string) (*service.Tracking, error) {
	if m.TrackFunc != nil {
		return m.TrackFunc(ctx, trackingNumber)
	}
	return nil, errNotImplemented
}

// fakeTokens — валидатор с фиксированными токенами покупателя (42) и администратора (1).
type fakeTokens struct{}

const (
	userToken  = "user-token"
	adminToken = "admin-token"
)

func (fakeTokens) ValidateWithBlacklist(_ context.Context, token string) (*jwt.Claims, error) {
	switch token {
	case userToken:
		return &jwt.Claims{RegisteredClaims: gojwt.RegisteredClaims{ID: "jti-user"}, CustomerID: 42, Role: jwt.RoleCustomer}, nil
	case adminToken:
		return &jwt.Claims{RegisteredClaims: gojwt.RegisteredClaims{ID: "jti-admin"}, CustomerID: 1, Role: jwt.RoleAdmin}, nil
	}
	return nil, errors.New("неизвестный токен")
}

var fixedTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func sampleOrder() *domain.Order {
	charge := "chg_1"
	return &domain.Order{
		ID:                "order-uuid-1",
		OrderNumber:       "ORD-1001",
		UserID:            42,
		Subtotal:          decimal.NewFromInt(200),
		Tax:               decimal.NewFromInt(10),
		Shipping:          decimal.NewFromInt(20),
		Discount:          decimal.Zero,
		Total:             decimal.NewFromInt(230),
		Currency:          "SAR",
		PaymentMethod:     domain.PaymentMethodTap,
		Status:            domain.OrderStatusPending,
		PaymentStatus:     domain.PaymentStatusUnpaid,
		FulfillmentStatus: domain.FulfillmentUnfulfilled,
		GatewayChargeID:   &charge,
		Items: []domain.OrderItem{{
			ProductID:   7,
			ProductName: "Кофе",
			Quantity:    2,
			UnitPrice:   decimal.NewFromInt(100),
			LineTotal:   decimal.NewFromInt(200),
		}},
		CreatedAt: fixedTime,
		UpdatedAt: fixedTime,
	}
}
