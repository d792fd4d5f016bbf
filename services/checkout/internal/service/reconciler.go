package service

import (
	"context"
	"time"

	"example.com/tap-checkout/pkg/logger"
	"example.com/tap-checkout/pkg/metrics"
	"example.com/tap-checkout/services/checkout/internal/repository"
)

// =============================================================================
// Reconciler — фоновая сверка заказов с Tap
// =============================================================================

// ReconcilerConfig — настройки сверки.
type ReconcilerConfig struct {
	// Interval — период между проходами.
	Interval time.Duration

	// StaleAfter — через сколько неоплаченный заказ с charge считается зависшим.
	StaleAfter time.Duration

	// BatchSize — максимум заказов каждого вида за проход.
	BatchSize int
}

// DefaultReconcilerConfig возвращает конфигурацию по умолчанию.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Interval:   time.Minute,
		StaleAfter: 15 * time.Minute,
		BatchSize:  50,
	}
}

// Reconciler подтягивает статусы зависших платежей и повторяет
// возвраты по отменённым оплаченным заказам.
type Reconciler struct {
	orders  repository.OrderRepository
	service OrderService
	cfg     ReconcilerConfig
	now     func() time.Time
}

// NewReconciler создаёт воркер сверки.
func NewReconciler(orders repository.OrderRepository, service OrderService, cfg ReconcilerConfig) *Reconciler {
	return &Reconciler{
		orders:  orders,
		service: service,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run запускает сверку. Блокирует выполнение до отмены контекста.
func (r *Reconciler) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("interval", r.cfg.Interval).
		Dur("stale_after", r.cfg.StaleAfter).
		Int("batch_size", r.cfg.BatchSize).
		Msg("Запуск сверки с Tap")

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка сверки с Tap")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce — один проход сверки. Возвращает число обработанных заказов.
func (r *Reconciler) RunOnce(ctx context.Context) int {
	return r.syncStale(ctx) + r.retryRefunds(ctx)
}

func (r *Reconciler) syncStale(ctx context.Context) int {
	log := logger.FromContext(ctx)

	orders, err := r.orders.ListStaleUnpaid(ctx, r.now().Add(-r.cfg.StaleAfter), r.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка поиска зависших платежей")
		return 0
	}

	for _, o := range orders {
		if ctx.Err() != nil {
			return 0
		}
		if o.GatewayChargeID == nil {
			continue
		}
		if _, err := r.service.SyncPaymentStatus(ctx, *o.GatewayChargeID); err != nil {
			metrics.ReconcilerItems.WithLabelValues("sync", "error").Inc()
			log.Warn().Err(err).Str("order_number", o.OrderNumber).Msg("Сверка платежа не удалась")
			continue
		}
		metrics.ReconcilerItems.WithLabelValues("sync", "ok").Inc()
	}
	return len(orders)
}

func (r *Reconciler) retryRefunds(ctx context.Context) int {
	log := logger.FromContext(ctx)

	orders, err := r.orders.ListPendingRefunds(ctx, r.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка поиска незавершённых возвратов")
		return 0
	}

	for _, o := range orders {
		if ctx.Err() != nil {
			return 0
		}
		refunded, err := r.service.RetryRefund(ctx, o.OrderNumber)
		switch {
		case err != nil:
			metrics.ReconcilerItems.WithLabelValues("refund", "error").Inc()
			log.Warn().Err(err).Str("order_number", o.OrderNumber).Msg("Повтор возврата не удался")
		case refunded:
			metrics.ReconcilerItems.WithLabelValues("refund", "ok").Inc()
		default:
			metrics.ReconcilerItems.WithLabelValues("refund", "pending").Inc()
		}
	}
	return len(orders)
}
