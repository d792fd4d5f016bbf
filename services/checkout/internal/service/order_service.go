// Package service содержит бизнес-логику checkout: жизненный цикл заказа и оплаты,
// счета, отгрузки и фоновую сверку с Tap.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"example.com/tap-checkout/pkg/kafka"
	"example.com/tap-checkout/pkg/logger"
	"example.com/tap-checkout/pkg/outbox"
	"example.com/tap-checkout/services/checkout/internal/domain"
	"example.com/tap-checkout/services/checkout/internal/repository"
	"example.com/tap-checkout/services/checkout/internal/statusmap"
	"example.com/tap-checkout/services/checkout/internal/tap"
)

// Константы для валидации пагинации.
const (
	defaultPage     = 1
	defaultPageSize = 20
	maxPageSize     = 100
	minPageSize     = 1
)

// defaultPhoneCode — код страны для телефона покупателя в Tap.
const defaultPhoneCode = "966"

// OrderItemInput — позиция в запросе на создание заказа.
type OrderItemInput struct {
	ProductID uint64
	VariantID *uint64
	Quantity  int
}

// CreateOrderInput — запрос на создание заказа.
type CreateOrderInput struct {
	UserID         uint64
	Items          []OrderItemInput
	Address        domain.Address
	PaymentMethod  domain.PaymentMethod
	PromoCode      string
	IdempotencyKey string
}

func (in *CreateOrderInput) validate() error {
	if in.UserID == 0 {
		return fmt.Errorf("%w: не указан пользователь", domain.ErrValidation)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: заказ должен содержать хотя бы одну позицию", domain.ErrValidation)
	}
	for i, it := range in.Items {
		if it.ProductID == 0 {
			return fmt.Errorf("%w: позиция %d без product_id", domain.ErrValidation, i+1)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: количество в позиции %d должно быть больше нуля", domain.ErrValidation, i+1)
		}
	}
	if !in.PaymentMethod.IsValid() {
		return fmt.Errorf("%w: неизвестный способ оплаты %q", domain.ErrValidation, in.PaymentMethod)
	}
	return nil
}

// CheckoutResult — заказ и ссылка на оплату Tap (пустая для способа other).
type CheckoutResult struct {
	Order       *domain.Order
	CheckoutURL string
}

// PaymentResult — состояние заказа и платежа после операции со шлюзом.
type PaymentResult struct {
	Order   *domain.Order
	Payment *domain.Payment
}

// OrderView — заказ со всеми связанными данными.
type OrderView struct {
	Order     *domain.Order
	Payments  []domain.Payment
	Shipments []*domain.Shipment
	Invoice   *domain.Invoice
}

// OrderService — координатор жизненного цикла заказа.
type OrderService interface {
	// CreateOrder создаёт заказ и, для оплаты через Tap, charge.
	// Ошибка шлюза возвращается вместе с уже сохранённым заказом.
	CreateOrder(ctx context.Context, in CreateOrderInput) (*CheckoutResult, error)

	// RetryCharge создаёт новый charge для неоплаченного заказа.
	RetryCharge(ctx context.Context, orderNumber string, actor Actor) (*CheckoutResult, error)

	// CaptureOrderPayment списывает авторизованный платёж. Идемпотентна.
	CaptureOrderPayment(ctx context.Context, chargeID string) (*PaymentResult, error)

	// SyncPaymentStatus подтягивает статус charge из Tap и записывает его в заказ.
	SyncPaymentStatus(ctx context.Context, chargeID string) (*PaymentResult, error)

	// VerifyPayment синхронизирует charge по запросу покупателя. Доступ к заказу
	// проверяется до обращения к шлюзу.
	VerifyPayment(ctx context.Context, chargeID string, actor Actor) (*PaymentResult, error)

	// CancelOrder отменяет заказ и возвращает деньги, если он оплачен.
	// Ошибка возврата не возвращается: платёж остаётся в pending до повтора.
	CancelOrder(ctx context.Context, orderNumber string, actor Actor) (*domain.Order, error)

	// RetryRefund повторяет возврат по отменённому оплаченному заказу.
	// true — деньги возвращены.
	RetryRefund(ctx context.Context, orderNumber string) (bool, error)

	GetOrder(ctx context.Context, orderNumber string, actor Actor) (*OrderView, error)
	ListOrders(ctx context.Context, actor Actor, status *domain.OrderStatus, page, pageSize int) ([]*domain.Order, int64, error)
	HasPurchasedProduct(ctx context.Context, userID, productID uint64) (bool, error)

	// HandleWebhook обрабатывает уведомление Tap. Повтор — domain.ErrDuplicateWebhook.
	HandleWebhook(ctx context.Context, body []byte, hashstring string) (*PaymentResult, error)
}

// OrderServiceConfig — политика сервиса заказов.
type OrderServiceConfig struct {
	Pricing       domain.Pricing
	CaptureMode   string // tap.MethodCreate | tap.MethodAuthorize
	RedirectURL   string
	WebhookURL    string
	VerifyWebhook bool
}

// OrderServiceDeps — зависимости сервиса заказов.
type OrderServiceDeps struct {
	Orders    repository.OrderRepository
	Payments  repository.PaymentRepository
	Catalog   repository.CatalogRepository
	Invoices  repository.InvoiceRepository
	Shipments repository.ShipmentRepository
	Webhooks  repository.WebhookRepository
	Gateway   Gateway
	Locker    ChargeLocker
	Deduper   WebhookDeduper
	Numbers   OrderNumberGenerator
}

type orderService struct {
	OrderServiceDeps
	cfg OrderServiceConfig
	now func() time.Time
}

// NewOrderService создаёт координатор заказов.
func NewOrderService(deps OrderServiceDeps, cfg OrderServiceConfig) OrderService {
	if cfg.CaptureMode == "" {
		cfg.CaptureMode = tap.MethodCreate
	}
	return &orderService{
		OrderServiceDeps: deps,
		cfg:              cfg,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// Создание заказа
// =============================================================================

func (s *orderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*CheckoutResult, error) {
	log := logger.FromContext(ctx)

	if err := in.validate(); err != nil {
		log.Warn().Err(err).Uint64("user_id", in.UserID).Msg("Ошибка валидации заказа")
		return nil, err
	}

	// Проверяем идемпотентность: повтор запроса возвращает уже созданный заказ
	if in.IdempotencyKey != "" {
		existing, err := s.Orders.GetByIdempotencyKey(ctx, in.IdempotencyKey)
		if err == nil {
			log.Info().
				Str("order_number", existing.OrderNumber).
				Str("idempotency_key", in.IdempotencyKey).
				Msg("Возвращён существующий заказ по ключу идемпотентности")
			return existingCheckout(existing), nil
		}
		if !errors.Is(err, domain.ErrOrderNotFound) {
			return nil, fmt.Errorf("ошибка проверки идемпотентности: %w", err)
		}
	}

	order, promoID, err := s.buildOrder(ctx, in)
	if err != nil {
		log.Warn().Err(err).Uint64("user_id", in.UserID).Msg("Заказ не может быть оформлен")
		return nil, err
	}

	events, err := s.events(ctx, order, "", domain.EventOrderCreated)
	if err != nil {
		return nil, err
	}

	addr := in.Address.WithDefaults()
	addr.UserID = in.UserID

	err = s.Orders.Create(ctx, repository.NewOrder{
		Order:       order,
		Address:     addr,
		PromoCodeID: promoID,
		Events:      events,
	})
	if errors.Is(err, domain.ErrDuplicateOrder) && in.IdempotencyKey != "" {
		existing, getErr := s.Orders.GetByIdempotencyKey(ctx, in.IdempotencyKey)
		if getErr != nil {
			return nil, getErr
		}
		return existingCheckout(existing), nil
	}
	if err != nil {
		log.Warn().Err(err).Uint64("user_id", in.UserID).Msg("Ошибка сохранения заказа")
		return nil, err
	}

	log.Info().
		Str("order_number", order.OrderNumber).
		Str("total", order.Total.StringFixed(2)).
		Str("payment_method", string(order.PaymentMethod)).
		Msg("Заказ создан")

	result := &CheckoutResult{Order: order}
	if order.PaymentMethod != domain.PaymentMethodTap {
		return result, nil
	}

	url, err := s.startCharge(ctx, order, s.customerFor(ctx, order))
	if err != nil {
		return result, err
	}
	result.CheckoutURL = url
	return result, nil
}

// buildOrder считает цены по каталогу, скидку и итоги.
func (s *orderService) buildOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, *uint64, error) {
	ids := make([]uint64, 0, len(in.Items))
	for _, it := range in.Items {
		ids = append(ids, it.ProductID)
	}

	products, err := s.Catalog.GetProducts(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка загрузки товаров: %w", err)
	}

	items := make([]domain.OrderItem, 0, len(in.Items))
	for _, it := range in.Items {
		p, ok := products[it.ProductID]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %d", domain.ErrProductNotFound, it.ProductID)
		}

		item := domain.OrderItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			SKU:         p.SKU,
			Quantity:    it.Quantity,
			UnitPrice:   p.Price,
		}
		if it.VariantID != nil {
			v, ok := p.Variant(*it.VariantID)
			if !ok {
				return nil, nil, fmt.Errorf("%w: вариант %d товара %d", domain.ErrProductNotFound, *it.VariantID, p.ID)
			}
			item.VariantID = &v.ID
			item.VariantName = v.Name
			item.VariantValue = v.Value
			item.UnitPrice = v.Price
			if v.SKU != "" {
				item.SKU = v.SKU
			}
		}
		item.LineTotal = domain.LineTotal(item.UnitPrice, item.Quantity)
		items = append(items, item)
	}

	subtotal := domain.Subtotal(items)
	discount := decimal.Zero
	var promoID *uint64
	var promoCode *string

	if code := strings.TrimSpace(in.PromoCode); code != "" {
		promo, err := s.Catalog.GetPromoCode(ctx, code)
		if err != nil {
			return nil, nil, err
		}
		discount, err = promo.Discount(subtotal, s.now())
		if err != nil {
			return nil, nil, err
		}
		promoID = &promo.ID
		promoCode = &promo.Code
	}

	totals := s.cfg.Pricing.Compute(subtotal, discount)

	order := &domain.Order{
		ID:                uuid.NewString(),
		OrderNumber:       s.Numbers.Next(),
		UserID:            in.UserID,
		Items:             items,
		Subtotal:          totals.Subtotal,
		Tax:               totals.Tax,
		Shipping:          totals.Shipping,
		Discount:          totals.Discount,
		Total:             totals.Total,
		Currency:          s.cfg.Pricing.Currency,
		PaymentMethod:     in.PaymentMethod,
		Status:            domain.OrderStatusPending,
		PaymentStatus:     domain.PaymentStatusUnpaid,
		FulfillmentStatus: domain.FulfillmentUnfulfilled,
		PromoCode:         promoCode,
	}
	if in.IdempotencyKey != "" {
		key := in.IdempotencyKey
		order.IdempotencyKey = &key
	}
	return order, promoID, nil
}

// existingCheckout восстанавливает ссылку на оплату из сохранённого ответа Tap.
func existingCheckout(order *domain.Order) *CheckoutResult {
	result := &CheckoutResult{Order: order}
	if order.PaymentStatus != domain.PaymentStatusUnpaid || len(order.GatewayRawResponse) == 0 {
		return result
	}
	if ch, err := tap.ParseWebhook(order.GatewayRawResponse); err == nil {
		result.CheckoutURL = ch.TransactionURL
	}
	return result
}

// customerFor собирает покупателя для Tap из адреса и профиля.
func (s *orderService) customerFor(ctx context.Context, order *domain.Order) tap.Customer {
	var c tap.Customer

	user, err := s.Catalog.GetUser(ctx, order.UserID)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Uint64("user_id", order.UserID).Msg("Не удалось загрузить покупателя")
	}
	if user != nil {
		c.FirstName = user.Name
		c.Email = user.Email
		c.Phone = user.Phone
	}

	if a := order.Address; a != nil {
		if a.FullName != "" && a.FullName != domain.DefaultFullName {
			c.FirstName = a.FullName
		}
		if a.Phone != "" && a.Phone != domain.DefaultPhone {
			c.Phone = a.Phone
		}
	}

	if c.FirstName == "" {
		c.FirstName = "Customer"
	}
	if c.Phone != "" {
		c.Phone = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(c.Phone), "+"), defaultPhoneCode)
		c.PhoneCode = defaultPhoneCode
	}
	return c
}

// RetryCharge — новая попытка оплаты для неоплаченного заказа.
func (s *orderService) RetryCharge(ctx context.Context, orderNumber string, actor Actor) (*CheckoutResult, error) {
	unlock, err := s.lockOrder(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	defer unlock()

	order, err := s.Orders.GetByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(order.UserID) {
		return nil, domain.ErrForbidden
	}
	if order.PaymentMethod != domain.PaymentMethodTap || !order.Chargeable() {
		return nil, domain.ErrOrderNotChargeable
	}

	result := &CheckoutResult{Order: order}
	url, err := s.startCharge(ctx, order, s.customerFor(ctx, order))
	if err != nil {
		return result, err
	}
	result.CheckoutURL = url
	return result, nil
}

// startCharge создаёт charge в Tap и одной транзакцией пишет платёж,
// поля шлюза заказа и событие.
func (s *orderService) startCharge(ctx context.Context, order *domain.Order, customer tap.Customer) (string, error) {
	log := logger.FromContext(ctx)

	amount, err := domain.ToMinorUnits(order.Total, order.Currency)
	if err != nil {
		return "", err
	}

	ch, err := s.Gateway.CreateCharge(ctx, tap.ChargeRequest{
		AmountMinor:    amount,
		Currency:       order.Currency,
		Customer:       customer,
		OrderID:        order.ID,
		OrderReference: order.OrderNumber,
		Description:    "Order " + order.OrderNumber,
		RedirectURL:    s.cfg.RedirectURL,
		PostURL:        s.cfg.WebhookURL,
		Method:         s.cfg.CaptureMode,
	})
	if err != nil {
		log.Error().Err(err).Str("order_number", order.OrderNumber).Msg("Ошибка создания платежа Tap")
		return "", err
	}

	snapshot := *order
	payment := &domain.Payment{
		OrderID:          order.ID,
		UserID:           order.UserID,
		PaymentReference: ch.ID,
		PaymentMethod:    domain.PaymentMethodTap,
		Amount:           order.Total,
		Currency:         order.Currency,
	}
	order.GatewayChargeID = &ch.ID

	if _, err := s.applyCharge(ctx, "create", order, payment, statusmap.Map(ch.Status), ch.Raw); err != nil {
		*order = snapshot
		log.Error().
			Err(err).
			Str("order_number", order.OrderNumber).
			Str("charge_id", ch.ID).
			Msg("Charge создан в Tap, но не сохранён: нужна ручная сверка")
		return "", err
	}

	log.Info().
		Str("order_number", order.OrderNumber).
		Str("charge_id", ch.ID).
		Str("gateway_status", ch.Status).
		Msg("Платёж Tap создан")
	return ch.TransactionURL, nil
}

// =============================================================================
// Чтение
// =============================================================================

func (s *orderService) GetOrder(ctx context.Context, orderNumber string, actor Actor) (*OrderView, error) {
	order, err := s.Orders.GetByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(order.UserID) {
		return nil, domain.ErrForbidden
	}

	view := &OrderView{Order: order}

	if view.Payments, err = s.Payments.ListByOrder(ctx, order.ID); err != nil {
		return nil, fmt.Errorf("ошибка загрузки платежей: %w", err)
	}
	if view.Shipments, err = s.Shipments.ListByOrder(ctx, order.ID); err != nil {
		return nil, fmt.Errorf("ошибка загрузки отгрузок: %w", err)
	}

	inv, err := s.Invoices.GetByOrderID(ctx, order.ID)
	switch {
	case err == nil:
		view.Invoice = inv
	case !errors.Is(err, domain.ErrInvoiceNotFound):
		return nil, fmt.Errorf("ошибка загрузки счёта: %w", err)
	}

	return view, nil
}

func (s *orderService) ListOrders(ctx context.Context, actor Actor, status *domain.OrderStatus, page, pageSize int) ([]*domain.Order, int64, error) {
	if page < defaultPage {
		page = defaultPage
	}
	if pageSize < minPageSize {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	filter := repository.ListFilter{
		Status: status,
		Offset: (page - 1) * pageSize,
		Limit:  pageSize,
	}
	if !actor.Admin {
		userID := actor.UserID
		filter.UserID = &userID
	}

	orders, total, err := s.Orders.List(ctx, filter)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Uint64("user_id", actor.UserID).Msg("Ошибка получения списка заказов")
		return nil, 0, fmt.Errorf("ошибка получения списка заказов: %w", err)
	}
	return orders, total, nil
}

func (s *orderService) HasPurchasedProduct(ctx context.Context, userID, productID uint64) (bool, error) {
	return s.Orders.HasPurchased(ctx, userID, productID)
}

// =============================================================================
// События
// =============================================================================

// events готовит записи outbox по текущему состоянию заказа.
func (s *orderService) events(ctx context.Context, order *domain.Order, gatewayStatus string, types ...string) ([]*outbox.Record, error) {
	headers := map[string]string{
		kafka.HeaderTraceID:       logger.TraceIDFromContext(ctx),
		kafka.HeaderCorrelationID: logger.CorrelationIDFromContext(ctx),
	}
	payload := domain.NewOrderEvent(order, gatewayStatus)

	records := make([]*outbox.Record, 0, len(types))
	for _, t := range types {
		rec, err := outbox.NewRecord(domain.AggregateOrder, order.ID, t, kafka.TopicOrderEvents, payload, headers)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// paymentEventTypes: order.payment_updated всегда, order.paid и order.cancelled при переходе.
func paymentEventTypes(fromPayment domain.PaymentStatus, fromStatus domain.OrderStatus, order *domain.Order) []string {
	types := []string{domain.EventOrderPaymentUpdated}
	if fromPayment != domain.PaymentStatusPaid && order.PaymentStatus == domain.PaymentStatusPaid {
		types = append(types, domain.EventOrderPaid)
	}
	if fromStatus != domain.OrderStatusCancelled && order.Status == domain.OrderStatusCancelled {
		types = append(types, domain.EventOrderCancelled)
	}
	return types
}
