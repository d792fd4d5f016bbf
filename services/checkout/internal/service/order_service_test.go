package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/tap-checkout/pkg/outbox"
	"example.com/tap-checkout/services/checkout/internal/domain"
	"example.com/tap-checkout/services/checkout/internal/repository"
	"example.com/tap-checkout/services/checkout/internal/tap"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	orders    *mockOrderRepo
	payments  *mockPaymentRepo
	catalog   *mockCatalogRepo
	invoices  *mockInvoiceRepo
	shipments *mockShipmentRepo
	webhooks  *mockWebhookRepo
	gateway   *mockGateway
	redis     *miniredis.Miniredis
	svc       *orderService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &fixture{
		orders:    new(mockOrderRepo),
		payments:  new(mockPaymentRepo),
		catalog:   new(mockCatalogRepo),
		invoices:  new(mockInvoiceRepo),
		shipments: new(mockShipmentRepo),
		webhooks:  new(mockWebhookRepo),
		gateway:   new(mockGateway),
		redis:     mr,
	}

	svc := NewOrderService(OrderServiceDeps{
		Orders:    f.orders,
		Payments:  f.payments,
		Catalog:   f.catalog,
		Invoices:  f.invoices,
		Shipments: f.shipments,
		Webhooks:  f.webhooks,
		Gateway:   f.gateway,
		Locker:    NewChargeLocker(rdb, 200*time.Millisecond),
		Deduper:   NewWebhookDeduper(rdb, time.Hour),
		Numbers:   fixedNumbers{number: "ORD-1001"},
	}, OrderServiceConfig{
		Pricing: domain.Pricing{
			Currency:    "SAR",
			TaxRate:     decimal.RequireFromString("0.05"),
			ShippingFee: decimal.NewFromInt(20),
		},
		RedirectURL:   "https://shop.example/return",
		WebhookURL:    "https://shop.example/api/v1/webhooks/tap",
		VerifyWebhook: true,
	}).(*orderService)
	svc.now = func() time.Time { return fixedNow }
	f.svc = svc

	return f
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func strPtr(s string) *string { return &s }

func eventTypes(records []*outbox.Record) []string {
	types := make([]string, 0, len(records))
	for _, r := range records {
		types = append(types, r.Headers["event_type"])
	}
	return types
}

// paidOrder — оплаченный заказ на 230 SAR с charge chg_1.
func paidOrder() *domain.Order {
	return &domain.Order{
		ID:                "order-uuid-1",
		OrderNumber:       "ORD-1001",
		UserID:            42,
		Subtotal:          dec("200"),
		Tax:               dec("10"),
		Shipping:          dec("20"),
		Total:             dec("230"),
		Currency:          "SAR",
		PaymentMethod:     domain.PaymentMethodTap,
		Status:            domain.OrderStatusCompleted,
		PaymentStatus:     domain.PaymentStatusPaid,
		FulfillmentStatus: domain.FulfillmentUnfulfilled,
		GatewayChargeID:   strPtr("chg_1"),
	}
}

func pendingOrder() *domain.Order {
	o := paidOrder()
	o.Status = domain.OrderStatusPending
	o.PaymentStatus = domain.PaymentStatusUnpaid
	return o
}

func checkoutInput() CreateOrderInput {
	return CreateOrderInput{
		UserID:        42,
		Items:         []OrderItemInput{{ProductID: 7, Quantity: 2}},
		Address:       domain.Address{FullName: "Ahmed Ali", Phone: "+966501234567", City: "Riyadh"},
		PaymentMethod: domain.PaymentMethodTap,
	}
}

func (f *fixture) expectCatalog() {
	f.catalog.On("GetProducts", mock.Anything, []uint64{7}).
		Return(map[uint64]domain.Product{7: {ID: 7, Name: "Кофе", SKU: "COF-7", Price: dec("100"), Stock: 10}}, nil)
	f.catalog.On("GetUser", mock.Anything, uint64(42)).
		Return(&domain.User{ID: 42, Name: "Ahmed", Email: "ahmed@example.com", Phone: "0501234567"}, nil).Maybe()
}

// =============================================================================
// CreateOrder
// =============================================================================

func TestOrderService_CreateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("заказ на 230 SAR: INITIATED, затем CAPTURED", func(t *testing.T) {
		f := newFixture(t)
		f.expectCatalog()

		f.orders.On("Create", mock.Anything, mock.MatchedBy(func(in repository.NewOrder) bool {
			return in.Order.Total.Equal(dec("230")) &&
				in.Address.City == "Riyadh" &&
				assert.ObjectsAreEqual([]string{domain.EventOrderCreated}, eventTypes(in.Events))
		})).Return(nil)

		f.gateway.On("CreateCharge", mock.Anything, mock.MatchedBy(func(r tap.ChargeRequest) bool {
			return r.AmountMinor == 23000 && r.Currency == "SAR" &&
				r.OrderReference == "ORD-1001" && r.Method == tap.MethodCreate
		})).Return(&tap.Charge{
			ID:             "chg_1",
			Status:         "INITIATED",
			TransactionURL: "https://checkout.tap.company/pay/chg_1",
			Raw:            []byte(`{"id":"chg_1","status":"INITIATED"}`),
		}, nil)

		f.payments.On("Apply", mock.Anything, mock.MatchedBy(func(u repository.PaymentUpdate) bool {
			return u.Payment != nil && u.Payment.Status == domain.PaymentRecordPending &&
				u.Payment.PaymentReference == "chg_1" &&
				u.Order.PaymentStatus == domain.PaymentStatusUnpaid && !u.Restock
		})).Return(nil).Once()

		res, err := f.svc.CreateOrder(ctx, checkoutInput())

		require.NoError(t, err)
		assert.Equal(t, "https://checkout.tap.company/pay/chg_1", res.CheckoutURL)
		assert.True(t, res.Order.Subtotal.Equal(dec("200")))
		assert.True(t, res.Order.Tax.Equal(dec("10")))
		assert.True(t, res.Order.Shipping.Equal(dec("20")))
		assert.True(t, res.Order.Total.Equal(dec("230")))
		assert.Equal(t, domain.OrderStatusPending, res.Order.Status)
		assert.Equal(t, domain.PaymentStatusUnpaid, res.Order.PaymentStatus)
		require.NotNil(t, res.Order.GatewayChargeID)
		assert.Equal(t, "chg_1", *res.Order.GatewayChargeID)

		// синхронизация после оплаты
		f.orders.On("GetByChargeID", mock.Anything, "chg_1").Return(res.Order, nil)
		f.payments.On("ListByOrder", mock.Anything, res.Order.ID).Return([]domain.Payment{
			{ID: 5, OrderID: res.Order.ID, PaymentReference: "chg_1", Status: domain.PaymentRecordPending, Amount: dec("230"), Currency: "SAR"},
		}, nil)
		f.gateway.On("GetCharge", mock.Anything, "chg_1").
			Return(&tap.Charge{ID: "chg_1", Status: "CAPTURED", Raw: []byte(`{"id":"chg_1","status":"CAPTURED"}`)}, nil)
		f.payments.On("Apply", mock.Anything, mock.MatchedBy(func(u repository.PaymentUpdate) bool {
			return u.Order.PaymentStatus == domain.PaymentStatusPaid &&
				assert.ObjectsAreEqual([]string{domain.EventOrderPaymentUpdated, domain.EventOrderPaid}, eventTypes(u.Events))
		})).Return(nil).Once()

		synced, err := f.svc.SyncPaymentStatus(ctx, "chg_1")

		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCompleted, synced.Order.Status)
		assert.Equal(t, domain.PaymentStatusPaid, synced.Order.PaymentStatus)
		assert.Equal(t, domain.PaymentRecordSuccessful, synced.Payment.Status)
		f.payments.AssertExpectations(t)
		f.gateway.AssertExpectations(t)
	})

	t.Run("ошибка валидации: пустой заказ", func(t *testing.T) {
		f := newFixture(t)
		in := checkoutInput()
		in.Items = nil

		_, err := f.svc.CreateOrder(ctx, in)

		assert.ErrorIs(t, err, domain.ErrValidation)
		f.catalog.AssertNotCalled(t, "GetProducts", mock.Anything, mock.Anything)
	})

	t.Run("товар не найден", func(t *testing.T) {
		f := newFixture(t)
		f.catalog.On("GetProducts", mock.Anything, []uint64{7}).Return(map[uint64]domain.Product{}, nil)

		_, err := f.svc.CreateOrder(ctx, checkoutInput())

		assert.ErrorIs(t, err, domain.ErrProductNotFound)
		f.orders.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("недостаточно товара: шлюз не вызывается", func(t *testing.T) {
		f := newFixture(t)
		f.expectCatalog()
		f.orders.On("Create", mock.Anything, mock.Anything).
			Return(errors.Join(domain.ErrInsufficientStock, errors.New("product 7")))

		_, err := f.svc.CreateOrder(ctx, checkoutInput())

		assert.ErrorIs(t, err, domain.ErrInsufficientStock)
		f.gateway.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
	})

	t.Run("ошибка шлюза: заказ сохранён и возвращается с ошибкой", func(t *testing.T) {
		f := newFixture(t)
		f.expectCatalog()
		f.orders.On("Create", mock.Anything, mock.Anything).Return(nil)
		f.gateway.On("CreateCharge", mock.Anything, mock.Anything).
			Return(nil, &tap.GatewayError{Op: "create_charge", StatusCode: 502, Message: "bad gateway"})

		res, err := f.svc.CreateOrder(ctx, checkoutInput())

		assert.ErrorIs(t, err, domain.ErrGateway)
		require.NotNil(t, res)
		assert.Equal(t, "ORD-1001", res.Order.OrderNumber)
		assert.Equal(t, domain.PaymentStatusUnpaid, res.Order.PaymentStatus)
		assert.Nil(t, res.Order.GatewayChargeID)
		f.payments.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything)
	})

	t.Run("повтор по ключу идемпотентности", func(t *testing.T) {
		f := newFixture(t)
		existing := pendingOrder()
		existing.GatewayRawResponse = []byte(`{"id":"chg_1","status":"INITIATED","transaction":{"url":"https://checkout.tap.company/pay/chg_1"}}`)
		f.orders.On("GetByIdempotencyKey", mock.Anything, "key-1").Return(existing, nil)

		in := checkoutInput()
		in.IdempotencyKey = "key-1"
		res, err := f.svc.CreateOrder(ctx, in)

		require.NoError(t, err)
		assert.Same(t, existing, res.Order)
		assert.Equal(t, "https://checkout.tap.company/pay/chg_1", res.CheckoutURL)
		f.catalog.AssertNotCalled(t, "GetProducts", mock.Anything, mock.Anything)
		f.gateway.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
	})

	t.Run("оплата не через Tap: без charge", func(t *testing.T) {
		f := newFixture(t)
		f.expectCatalog()
		f.orders.On("Create", mock.Anything, mock.Anything).Return(nil)

		in := checkoutInput()
		in.PaymentMethod = domain.PaymentMethodOther
		res, err := f.svc.CreateOrder(ctx, in)

		require.NoError(t, err)
		assert.Empty(t, res.CheckoutURL)
		f.gateway.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
	})
}

// =============================================================================
// Capture
// =============================================================================

func TestOrderService_CaptureOrderPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("уже списан: шлюз не вызывается и запись не повторяется", func(t *testing.T) {
		f := newFixture(t)
		order := paidOrder()
		f.orders.On("GetByChargeID", mock.Anything, "chg_1").Return(order, nil)
		f.payments.On("ListByOrder", mock.Anything, order.ID).Return([]domain.Payment{
			{ID: 5, PaymentReference: "chg_1", Status: domain.PaymentRecordSuccessful},
		}, nil)

		res, err := f.svc.CaptureOrderPayment(ctx, "chg_1")

		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusPaid, res.Order.PaymentStatus)
		f.gateway.AssertNotCalled(t, "CaptureCharge", mock.Anything, mock.Anything)
		f.payments.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything)
	})

	t.Run("сохранённый ответ CAPTURED выравнивает заказ без вызова шлюза", func(t *testing.T) {
		f := newFixture(t)
		order := pendingOrder()
		f.orders.On("GetByChargeID", mock.Anything, "chg_1").Return(order, nil)
		f.payments.On("ListByOrder", mock.Anything, order.ID).Return([]domain.Payment{
			{ID: 5, PaymentReference: "chg_1", Status: domain.PaymentRecordPending, GatewayRawResponse: []byte(`{"status":"CAPTURED"}`)},
		}, nil)
		f.payments.On("Apply", mock.Anything, mock.MatchedBy(func(u repository.PaymentUpdate) bool {
			return u.Order.PaymentStatus == domain.PaymentStatusPaid && u.Payment.Status == domain.PaymentRecordSuccessful
		})).Return(nil)

		res, err := f.svc.CaptureOrderPayment(ctx, "chg_1")

		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCompleted, res.Order.Status)
		f.gateway.AssertNotCalled(t, "CaptureCharge", mock.Anything, mock.Anything)
	})

	t.Run("capture отклонён: платёж failed, заказ не оплачен", func(t *testing.T) {
		f := newFixture(t)
		order := pendingOrder()
		f.orders.On("GetByChargeID", mock.Anything, "chg_1").Return(order, nil)
		f.payments.On("ListByOrder", mock.Anything, order.ID).Return([]domain.Payment{
			{ID: 5, PaymentReference: "chg_1", Status: domain.PaymentRecordPending},
		}, nil)
		f.gateway.On("CaptureCharge", mock.Anything, "chg_1").
			Return(&tap.Charge{ID: "chg_1", Status: "DECLINED", Raw: []byte(`{"status":"DECLINED"}`)}, nil)
		f.payments.On("Apply", mock.Anything, mock.MatchedBy(func(u repository.PaymentUpdate) bool {
			return u.Payment.Status == domain.PaymentRecordFailed && u.Order.PaymentStatus == domain.PaymentStatusUnpaid
		})).Return(nil)

		res, err := f.svc.CaptureOrderPayment(ctx, "chg_1")

		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusPending, res.Order.Status)
		assert.Equal(t, domain.PaymentRecordFailed, res.Payment.Status)
	})

	t.Run("capture отклонён: статус unknown сменяется на unpaid", func(t *testing.T) {
		f := newFixture(t)
		order := pendingOrder()
		order.PaymentStatus = domain.PaymentStatusUnknown
		f.orders.On("GetByChargeID", mock.Anything, "chg_1").Return(order, nil)
		f.payments.On("ListByOrder", mock.Anything, order.ID).Return([]domain.Payment{
			{ID: 5, PaymentReference: "chg_1", Status: domain.PaymentRecordPending},
		}, nil)
		f.gateway.On("CaptureCharge", mock.Anything, "chg_1").
			Return(&tap.Charge{ID: "chg_1", Status: "TIMEDOUT", Raw: []byte(`{"status":"TIMEDOUT"}`)}, nil)
		f.payments.On("Apply", mock.Anything, mock.MatchedBy(func(u repository.PaymentUpdate) bool {
			return u.Order.PaymentStatus == domain.PaymentStatusUnpaid &&
				*u.Expect == domain.OrderState{Status: domain.OrderStatusPending, PaymentStatus: domain.PaymentStatusUnknown}
		})).Return(nil)

		res, err := f.svc.CaptureOrderPayment(ctx, "chg_1")

		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusUnpaid, res.Order.PaymentStatus)
		assert.Equal(t, domain.PaymentRecordFailed, res.Payment.Status)
	})

	t.Run("заказ занят другим процессом", func(t *testing.T) {
		f := newFixture(t)
		f.orders.On("GetByChargeID", mock.Anything, "chg_1").Return(pendingOrder(), nil)
		require.NoError(t, f.redis.Set(chargeLockPrefix+orderLockPrefix+"ORD-1001", "other-owner"))

		_, err := f.svc.CaptureOrderPayment(ctx, "chg_1")

		assert.ErrorIs(t, err, domain.ErrChargeBusy)
		f.payments.AssertNotCalled(t, "ListByOrder", mock.Anything, mock.Anything)
		f.gateway.AssertNotCalled(t, "CaptureCharge", mock.Anything, mock.Anything)
	})
}

// =============================================================================
// Синхронизация
// =============================================================================

func TestOrderService_VerifyPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("чужой заказ: шлюз не вызывается", func(t *testing.T) {
		f := newFixture(t)
		f.orders.On("GetByChargeID", mock.Anything, "chg_1").Return(pendingOrder(), nil)

		_, err := f.svc.VerifyPayment(ctx, "chg_1", Actor{UserID: 7})

		assert.ErrorIs(t, err, domain.ErrForbidden)
		f.gateway.AssertNotCalled(t, "GetCharge", mock.Anything, mock.Anything)
		f.payments.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything)
	})

	t.Run("владелец заказа", func(t *testing.T) {
		f := newFixture(t)
		order := pendingOrder()
		f.orders.On("GetByChargeID", mock.Anything, "chg_1").Return(order, nil)
		f.payments.On("ListByOrder", mock.Anything, order.ID).Return([]domain.Payment{
			{ID: 5, PaymentReference: "chg_1", Status: domain.PaymentRecordPending},
		}, nil)
		f.gateway.On("GetCharge", mock.Anything, "chg_1").
			Return(&tap.Charge{ID: "chg_1", Status: "CAPTURED", Raw: []byte(`{"status":"CAPTURED"}`)}, nil)
		f.payments.On("Apply", mock.Anything, mock.Anything).Return(nil)

		res, err := f.svc.VerifyPayment(ctx, "chg_1", Actor{UserID: 42})

		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusPaid, res.Order.PaymentStatus)
	})
}

func TestOrderService_SyncPaymentStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("CANCELLED возвращает товар на склад", func(t *testing.T) {
		f := newFixture(t)
		order := pendingOrder()
		f.orders.On("GetByChargeID", mock.Anything, "chg_1").Return(order, nil)
		f.payments.On("ListByOrder", mock.Anything, order.ID).Return([]domain.Payment{
			{ID: 5, PaymentReference: "chg_1", Status: domain.PaymentRecordPending},
		}, nil)
		f.gateway.On("GetCharge", mock.Anything, "chg_1").
			Return(&tap.Charge{ID: "chg_1", Status: "CANCELLED", Raw: []byte(`{"status":"CANCELLED"}`)}, nil)
		f.payments.On("Apply", mock.Anything, mock.MatchedBy(func(u repository.PaymentUpdate) bool {
			return u.Restock && u.Order.Status == domain.OrderStatusCancelled &&
				assert.ObjectsAreEqual([]string{domain.EventOrderPaymentUpdated, domain.EventOrderCancelled}, eventTypes(u.Events))
		})).Return(nil)

		res, err := f.svc.SyncPaymentStatus(ctx, "chg_1")

		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusCancelled, res.Order.PaymentStatus)
		assert.Equal(t, domain.PaymentRecordFailed, res.Payment.Status)
	})

	t.Run("проведённый возврат не откатывается статусом CAPTURED", func(t *testing.T) {
		f := newFixture(t)
		order := paidOrder()
		order.Status = domain.OrderStatusCancelled
		order.PaymentStatus = domain.PaymentStatusRefunded
		f.orders.On("GetByChargeID", mock.Anything, "chg_1").Return(order, nil)
		f.payments.On("ListByOrder", mock.Anything, order.ID).Return([]domain.Payment{
			{ID: 5, PaymentReference: "chg_1", Status: domain.PaymentRecordRefunded},
		}, nil)
		f.gateway.On("GetCharge", mock.Anything, "chg_1").
			Return(&tap.Charge{ID: "chg_1", Status: "CAPTURED", Raw: []byte(`{"status":"CAPTURED"}`)}, nil)
		f.payments.On("Apply", mock.Anything, mock.Anything).Return(nil)

		res, err := f.svc.SyncPaymentStatus(ctx, "chg_1")

		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCancelled, res.Order.Status)
		assert.Equal(t, domain.PaymentStatusRefunded, res.Order.PaymentStatus)
		assert.Equal(t, domain.PaymentRecordRefunded, res.Payment.Status)
	})

	t.Run("старый charge не трогает заказ", func(t *testing.T) {
		f := newFixture(t)
		order := pendingOrder()
		order.GatewayChargeID = strPtr("chg_2")
		f.orders.On("GetByChargeID", mock.Anything, "chg_1").Return(order, nil)
		f.payments.On("ListByOrder", mock.Anything, order.ID).Return([]domain.Payment{
			{ID: 5, PaymentReference: "chg_1", Status: domain.PaymentRecordPending},
			{ID: 6, PaymentReference: "chg_2", Status: domain.PaymentRecordPending},
		}, nil)
		f.gateway.On("GetCharge", mock.Anything, "chg_1").
			Return(&tap.Charge{ID: "chg_1", Status: "DECLINED", Raw: []byte(`{"status":"DECLINED"}`)}, nil)
		f.payments.On("Apply", mock.Anything, mock.MatchedBy(func(u repository.PaymentUpdate) bool {
			return u.Payment.ID == 5 && !u.Restock
		})).Return(nil)

		res, err := f.svc.SyncPaymentStatus(ctx, "chg_1")

		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusPending, res.Order.Status)
		assert.Equal(t, domain.PaymentStatusUnpaid, res.Order.PaymentStatus)
		assert.Equal(t, "chg_2", *res.Order.GatewayChargeID)
		assert.Equal(t, domain.PaymentRecordFailed, res.Payment.Status)
	})

	t.Run("ошибка шлюза", func(t *testing.T) {
		f := newFixture(t)
		order := pendingOrder()
		f.orders.On("GetByChargeID", mock.Anything, "chg_1").Return(order, nil)
		f.payments.On("ListByOrder", mock.Anything, order.ID).Return([]domain.Payment{}, nil)
		f.gateway.On("GetCharge", mock.Anything, "chg_1").
			Return(nil, &tap.GatewayError{Op: "get_charge", Err: errors.New("timeout")})

		_, err := f.svc.SyncPaymentStatus(ctx, "chg_1")

		assert.ErrorIs(t, err, domain.ErrGateway)
		f.payments.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything)
	})

	t.Run("заказ не найден", func(t *testing.T) {
		f := newFixture(t)
		f.orders.On("GetByChargeID", mock.Anything, "chg_x").Return(nil, domain.ErrOrderNotFound)

		_, err := f.svc.SyncPaymentStatus(ctx, "chg_x")

		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})

	t.Run("повторная синхронизация с тем же ответом шлюза", func(t *testing.T) {
		f := newFixture(t)
		order := pendingOrder()
		f.orders.On("GetByChargeID", mock.Anything, "chg_1").Return(order, nil)
		f.payments.On("ListByOrder", mock.Anything, order.ID).Return([]domain.Payment{
			{ID: 5, PaymentReference: "chg_1", Status: domain.PaymentRecordPending},
		}, nil)
		f.gateway.On("GetCharge", mock.Anything, "chg_1").
			Return(&tap.Charge{ID: "chg_1", Status: "CAPTURED", Raw: []byte(`{"status":"CAPTURED"}`)}, nil)
		f.payments.On("Apply", mock.Anything, mock.MatchedBy(func(u repository.PaymentUpdate) bool {
			return *u.Expect == domain.OrderState{Status: domain.OrderStatusPending, PaymentStatus: domain.PaymentStatusUnpaid}
		})).Return(nil).Once()
		f.payments.On("Apply", mock.Anything, mock.MatchedBy(func(u repository.PaymentUpdate) bool {
			return *u.Expect == domain.OrderState{Status: domain.OrderStatusCompleted, PaymentStatus: domain.PaymentStatusPaid} &&
				!u.Restock
		})).Return(nil).Once()

		first, err := f.svc.SyncPaymentStatus(ctx, "chg_1")
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusPaid, first.Order.PaymentStatus)

		second, err := f.svc.SyncPaymentStatus(ctx, "chg_1")
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCompleted, second.Order.Status)
		assert.Equal(t, domain.PaymentStatusPaid, second.Order.PaymentStatus)
		assert.Equal(t, domain.PaymentRecordSuccessful, second.Payment.Status)
		f.payments.AssertExpectations(t)
	})

	t.Run("отмена во время синхронизации ждёт блокировку заказа", func(t *testing.T) {
		f := newFixture(t)
		order := pendingOrder()
		f.orders.On("GetByChargeID", mock.Anything, "chg_1").Return(order, nil)
		f.payments.On("ListByOrder", mock.Anything, order.ID).Return([]domain.Payment{
			{ID: 5, PaymentReference: "chg_1", Status: domain.PaymentRecordPending},
		}, nil)

		var cancelErr error
		f.gateway.On("GetCharge", mock.Anything, "chg_1").
			Run(func(mock.Arguments) {
				_, cancelErr = f.svc.CancelOrder(ctx, "ORD-1001", Actor{UserID: 42})
			}).
			Return(&tap.Charge{ID: "chg_1", Status: "CAPTURED", Raw: []byte(`{"status":"CAPTURED"}`)}, nil)
		f.payments.On("Apply", mock.Anything, mock.MatchedBy(func(u repository.PaymentUpdate) bool {
			return !u.Restock && u.Order.Status == domain.OrderStatusCompleted
		})).Return(nil).Once()

		res, err := f.svc.SyncPaymentStatus(ctx, "chg_1")

		require.NoError(t, err)
		assert.ErrorIs(t, cancelErr, domain.ErrChargeBusy)
		assert.Equal(t, domain.OrderStatusCompleted, res.Order.Status)
		assert.Equal(t, domain.PaymentStatusPaid, res.Order.PaymentStatus)
		assert.False(t, res.Order.StockRestored)
		f.orders.AssertNotCalled(t, "GetByNumber", mock.Anything, mock.Anything)
		f.payments.AssertExpectations(t)
	})

	t.Run("заказ изменён после чтения: запись отклонена", func(t *testing.T) {
		f := newFixture(t)
		order := pendingOrder()
		f.orders.On("GetByChargeID", mock.Anything, "chg_1").Return(order, nil)
		f.payments.On("ListByOrder", mock.Anything, order.ID).Return([]domain.Payment{
			{ID: 5, PaymentReference: "chg_1", Status: domain.PaymentRecordPending},
		}, nil)
		f.gateway.On("GetCharge", mock.Anything, "chg_1").
			Return(&tap.Charge{ID: "chg_1", Status: "CAPTURED", Raw: []byte(`{"status":"CAPTURED"}`)}, nil)
		f.payments.On("Apply", mock.Anything, mock.Anything).
			Return(fmt.Errorf("%w: в БД cancelled/unpaid", domain.ErrOrderChanged))

		_, err := f.svc.SyncPaymentStatus(ctx, "chg_1")

		assert.ErrorIs(t, err, domain.ErrOrderChanged)
	})
}

// =============================================================================
// Отмена и возврат
// =============================================================================

func TestOrderService_CancelOrder(t *testing.T) {
	ctx := context.Background()
	owner := Actor{UserID: 42}

	successful := func() []domain.Payment {
		return []domain.Payment{{
			ID: 5, OrderID: "order-uuid-1", PaymentReference: "chg_1",
			Status: domain.PaymentRecordSuccessful, Amount: dec("230"), Currency: "SAR",
		}}
	}
	amount23000 := mock.MatchedBy(func(a *int64) bool { return a != nil && *a == 23000 })

	t.Run("оплаченный заказ: отмена и возврат", func(t *testing.T) {
		f := newFixture(t)
		order := paidOrder()
		f.orders.On("GetByNumber", mock.Anything, "ORD-1001").Return(order, nil)
		f.payments.On("Apply", mock.Anything, mock.MatchedBy(func(u repository.PaymentUpdate) bool {
			return u.Payment == nil && u.Restock &&
				assert.ObjectsAreEqual([]string{domain.EventOrderCancelled}, eventTypes(u.Events))
		})).Return(nil).Once()
		f.payments.On("ListByOrder", mock.Anything, order.ID).Return(successful(), nil)
		f.gateway.On("RefundCharge", mock.Anything, "chg_1", amount23000, "SAR").
			Return(&tap.Refund{ID: "re_1", ChargeID: "chg_1", Status: "REFUNDED"}, nil)
		f.payments.On("Apply", mock.Anything, mock.MatchedBy(func(u repository.PaymentUpdate) bool {
			return u.Payment != nil && u.Payment.Status == domain.PaymentRecordRefunded &&
				*u.Payment.RefundReference == "re_1" &&
				assert.ObjectsAreEqual([]string{domain.EventPaymentRefunded}, eventTypes(u.Events))
		})).Return(nil).Once()

		got, err := f.svc.CancelOrder(ctx, "ORD-1001", owner)

		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCancelled, got.Status)
		assert.Equal(t, domain.PaymentStatusRefunded, got.PaymentStatus)
		f.payments.AssertExpectations(t)
	})

	t.Run("отказ возврата: платёж pending, ошибки нет", func(t *testing.T) {
		f := newFixture(t)
		order := paidOrder()
		f.orders.On("GetByNumber", mock.Anything, "ORD-1001").Return(order, nil)
		f.payments.On("Apply", mock.Anything, mock.MatchedBy(func(u repository.PaymentUpdate) bool {
			return u.Payment == nil
		})).Return(nil).Once()
		f.payments.On("ListByOrder", mock.Anything, order.ID).Return(successful(), nil)
		f.gateway.On("RefundCharge", mock.Anything, "chg_1", amount23000, "SAR").
			Return(nil, &tap.GatewayError{Op: "refund", StatusCode: 400, Code: "1126", Message: "refund not allowed"})
		f.payments.On("Apply", mock.Anything, mock.MatchedBy(func(u repository.PaymentUpdate) bool {
			return u.Payment != nil && u.Payment.Status == domain.PaymentRecordPending &&
				assert.ObjectsAreEqual([]string{domain.EventPaymentRefundPending}, eventTypes(u.Events))
		})).Return(nil).Once()

		got, err := f.svc.CancelOrder(ctx, "ORD-1001", owner)

		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCancelled, got.Status)
		assert.Equal(t, domain.PaymentStatusPaid, got.PaymentStatus)
		assert.True(t, got.NeedsRefund())
	})

	t.Run("неоплаченный заказ: без возврата", func(t *testing.T) {
		f := newFixture(t)
		order := pendingOrder()
		f.orders.On("GetByNumber", mock.Anything, "ORD-1001").Return(order, nil)
		f.payments.On("Apply", mock.Anything, mock.Anything).Return(nil).Once()

		got, err := f.svc.CancelOrder(ctx, "ORD-1001", owner)

		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCancelled, got.Status)
		f.gateway.AssertNotCalled(t, "RefundCharge", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("отгруженный заказ не отменяется", func(t *testing.T) {
		f := newFixture(t)
		order := paidOrder()
		order.FulfillmentStatus = domain.FulfillmentShipped
		f.orders.On("GetByNumber", mock.Anything, "ORD-1001").Return(order, nil)

		_, err := f.svc.CancelOrder(ctx, "ORD-1001", owner)

		assert.ErrorIs(t, err, domain.ErrOrderCannotCancel)
		f.payments.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything)
	})

	t.Run("чужой заказ", func(t *testing.T) {
		f := newFixture(t)
		f.orders.On("GetByNumber", mock.Anything, "ORD-1001").Return(paidOrder(), nil)

		_, err := f.svc.CancelOrder(ctx, "ORD-1001", Actor{UserID: 99})

		assert.ErrorIs(t, err, domain.ErrForbidden)
	})
}

func TestOrderService_RetryRefund(t *testing.T) {
	ctx := context.Background()

	t.Run("повтор после неудачи берёт pending платёж текущего charge", func(t *testing.T) {
		f := newFixture(t)
		order := paidOrder()
		order.Status = domain.OrderStatusCancelled
		f.orders.On("GetByNumber", mock.Anything, "ORD-1001").Return(order, nil)
		f.payments.On("ListByOrder", mock.Anything, order.ID).Return([]domain.Payment{
			{ID: 5, PaymentReference: "chg_1", Status: domain.PaymentRecordPending, Amount: dec("230"), Currency: "SAR"},
		}, nil)
		f.gateway.On("RefundCharge", mock.Anything, "chg_1", mock.Anything, "SAR").
			Return(&tap.Refund{ID: "re_2", Status: "REFUNDED"}, nil)
		f.payments.On("Apply", mock.Anything, mock.Anything).Return(nil)

		refunded, err := f.svc.RetryRefund(ctx, "ORD-1001")

		require.NoError(t, err)
		assert.True(t, refunded)
		assert.Equal(t, domain.PaymentStatusRefunded, order.PaymentStatus)
	})

	t.Run("возврат отклонён дважды подряд: платёж остаётся pending", func(t *testing.T) {
		f := newFixture(t)
		order := paidOrder()
		f.orders.On("GetByNumber", mock.Anything, "ORD-1001").Return(order, nil)
		f.payments.On("ListByOrder", mock.Anything, order.ID).Return([]domain.Payment{
			{ID: 5, PaymentReference: "chg_1", Status: domain.PaymentRecordSuccessful, Amount: dec("230"), Currency: "SAR"},
		}, nil)
		f.gateway.On("RefundCharge", mock.Anything, "chg_1", mock.Anything, "SAR").
			Return(nil, &tap.GatewayError{Op: "refund", StatusCode: 400, Message: "refund not allowed"})
		f.payments.On("Apply", mock.Anything, mock.MatchedBy(func(u repository.PaymentUpdate) bool {
			return u.Payment == nil && u.Restock
		})).Return(nil).Once()
		f.payments.On("Apply", mock.Anything, mock.MatchedBy(func(u repository.PaymentUpdate) bool {
			return u.Payment != nil && u.Payment.Status == domain.PaymentRecordPending &&
				*u.Expect == domain.OrderState{Status: domain.OrderStatusCancelled, PaymentStatus: domain.PaymentStatusPaid} &&
				assert.ObjectsAreEqual([]string{domain.EventPaymentRefundPending}, eventTypes(u.Events))
		})).Return(nil).Twice()

		_, err := f.svc.CancelOrder(ctx, "ORD-1001", Actor{UserID: 42})
		require.NoError(t, err)

		refunded, err := f.svc.RetryRefund(ctx, "ORD-1001")

		require.NoError(t, err)
		assert.False(t, refunded)
		assert.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)
		assert.True(t, order.NeedsRefund())
		f.payments.AssertExpectations(t)
	})

	t.Run("возврат уже проведён", func(t *testing.T) {
		f := newFixture(t)
		order := paidOrder()
		order.Status = domain.OrderStatusCancelled
		order.PaymentStatus = domain.PaymentStatusRefunded
		f.orders.On("GetByNumber", mock.Anything, "ORD-1001").Return(order, nil)

		refunded, err := f.svc.RetryRefund(ctx, "ORD-1001")

		require.NoError(t, err)
		assert.True(t, refunded)
		f.gateway.AssertNotCalled(t, "RefundCharge", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

// =============================================================================
// RetryCharge и чтение
// =============================================================================

func TestOrderService_RetryCharge(t *testing.T) {
	ctx := context.Background()

	t.Run("оплаченный заказ нельзя оплатить повторно", func(t *testing.T) {
		f := newFixture(t)
		f.orders.On("GetByNumber", mock.Anything, "ORD-1001").Return(paidOrder(), nil)

		_, err := f.svc.RetryCharge(ctx, "ORD-1001", Actor{UserID: 42})

		assert.ErrorIs(t, err, domain.ErrOrderNotChargeable)
	})

	t.Run("новый charge для отклонённого заказа", func(t *testing.T) {
		f := newFixture(t)
		order := pendingOrder()
		order.Status = domain.OrderStatusFailed
		order.PaymentStatus = domain.PaymentStatusFailed
		f.orders.On("GetByNumber", mock.Anything, "ORD-1001").Return(order, nil)
		f.catalog.On("GetUser", mock.Anything, uint64(42)).Return(nil, nil)
		f.gateway.On("CreateCharge", mock.Anything, mock.Anything).
			Return(&tap.Charge{ID: "chg_2", Status: "INITIATED", TransactionURL: "https://checkout.tap.company/pay/chg_2"}, nil)
		f.payments.On("Apply", mock.Anything, mock.MatchedBy(func(u repository.PaymentUpdate) bool {
			return u.Payment.ID == 0 && u.Payment.PaymentReference == "chg_2"
		})).Return(nil)

		res, err := f.svc.RetryCharge(ctx, "ORD-1001", Actor{UserID: 42})

		require.NoError(t, err)
		assert.Equal(t, "https://checkout.tap.company/pay/chg_2", res.CheckoutURL)
		assert.Equal(t, "chg_2", *res.Order.GatewayChargeID)
		assert.Equal(t, domain.PaymentStatusUnpaid, res.Order.PaymentStatus)
	})
}

func TestOrderService_ListOrders(t *testing.T) {
	f := newFixture(t)
	userID := uint64(42)
	f.orders.On("List", mock.Anything, repository.ListFilter{UserID: &userID, Offset: 0, Limit: maxPageSize}).
		Return([]*domain.Order{paidOrder()}, int64(1), nil)

	orders, total, err := f.svc.ListOrders(context.Background(), Actor{UserID: 42}, nil, 0, 1000)

	require.NoError(t, err)
	assert.Len(t, orders, 1)
	assert.Equal(t, int64(1), total)
}

func TestOrderService_GetOrder(t *testing.T) {
	f := newFixture(t)
	order := paidOrder()
	f.orders.On("GetByNumber", mock.Anything, "ORD-1001").Return(order, nil)
	f.payments.On("ListByOrder", mock.Anything, order.ID).Return([]domain.Payment{{ID: 5}}, nil)
	f.shipments.On("ListByOrder", mock.Anything, order.ID).Return([]*domain.Shipment{}, nil)
	f.invoices.On("GetByOrderID", mock.Anything, order.ID).Return(nil, domain.ErrInvoiceNotFound)

	view, err := f.svc.GetOrder(context.Background(), "ORD-1001", Actor{Admin: true})

	require.NoError(t, err)
	assert.Same(t, order, view.Order)
	assert.Len(t, view.Payments, 1)
	assert.Nil(t, view.Invoice)
}
