// Checkout Service — оформление заказов и оплата через Tap Payments.
// HTTP API витрины, webhook Tap, outbox доменных событий в Kafka,
// выставление счетов по событию order.paid и фоновая сверка платежей.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	dbpkg "example.com/tap-checkout/pkg/db"
	"example.com/tap-checkout/pkg/healthcheck"
	"example.com/tap-checkout/pkg/jwt"
	"example.com/tap-checkout/pkg/kafka"
	"example.com/tap-checkout/pkg/logger"
	"example.com/tap-checkout/pkg/metrics"
	grpcmw "example.com/tap-checkout/pkg/middleware"
	"example.com/tap-checkout/pkg/outbox"
	"example.com/tap-checkout/pkg/tracing"
	"example.com/tap-checkout/services/checkout/internal/config"
	"example.com/tap-checkout/services/checkout/internal/domain"
	"example.com/tap-checkout/services/checkout/internal/handler"
	"example.com/tap-checkout/services/checkout/internal/middleware"
	"example.com/tap-checkout/services/checkout/internal/repository"
	"example.com/tap-checkout/services/checkout/internal/service"
	"example.com/tap-checkout/services/checkout/internal/tap"
)

const serviceName = "checkout"

func main() {
	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Pretty: cfg.App.LogPretty,
	})

	log := logger.With().Str("service", serviceName).Logger()

	log.Info().
		Str("env", cfg.App.Env).
		Str("addr", cfg.HTTP.Addr()).
		Str("capture_mode", cfg.Tap.CaptureMode).
		Msg("Запуск Checkout Service")

	// === Observability: Tracing ===

	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName:    serviceName,
		Environment:    cfg.App.Env,
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Не удалось инициализировать tracing")
	}

	// === Подключение к зависимостям ===

	db, err := dbpkg.ConnectMySQL(cfg.MySQL, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к MySQL")
	}
	log.Info().Msg("Подключение к MySQL установлено")

	rdb, err := dbpkg.ConnectRedis(context.Background(), cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к Redis")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Redis")
		}
	}()
	log.Info().Str("addr", cfg.Redis.Addr()).Msg("Подключение к Redis установлено")

	readinessCheck := healthcheck.Composite(
		healthcheck.MySQL(db),
		healthcheck.Redis(rdb),
	)

	// === Observability: Metrics ===

	var metricsServer *metrics.Server
	var metricsWg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(
			cfg.Metrics.Addr(),
			serviceName,
			metrics.WithReadinessCheck(metrics.ReadinessChecker(readinessCheck)),
		)
		metricsWg.Add(1)
		go func() {
			defer metricsWg.Done()
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Ошибка Metrics Server")
			}
		}()
	}

	// === Инициализация бизнес-логики ===

	orderRepo := repository.NewOrderRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	shipmentRepo := repository.NewShipmentRepository(db)
	webhookRepo := repository.NewWebhookRepository(db)

	tapClient := tap.NewClient(tap.Config{
		BaseURL:             cfg.Tap.BaseURL,
		SecretKey:           cfg.Tap.SecretKey,
		Timeout:             cfg.Tap.Timeout,
		StatementDescriptor: cfg.Tap.Descriptor,
	})
	log.Info().Str("tap", tapClient.String()).Msg("Клиент Tap создан")

	numbers, err := service.NewOrderNumberGenerator(cfg.Service.SnowflakeNode)
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка создания генератора номеров заказов")
	}

	orderService := service.NewOrderService(service.OrderServiceDeps{
		Orders:    orderRepo,
		Payments:  paymentRepo,
		Catalog:   catalogRepo,
		Invoices:  invoiceRepo,
		Shipments: shipmentRepo,
		Webhooks:  webhookRepo,
		Gateway:   tapClient,
		Locker:    service.NewChargeLocker(rdb, cfg.Service.ChargeLockTTL),
		Deduper:   service.NewWebhookDeduper(rdb, cfg.Service.WebhookDedupTTL),
		Numbers:   numbers,
	}, service.OrderServiceConfig{
		Pricing: domain.Pricing{
			Currency:    cfg.Pricing.Currency,
			TaxRate:     cfg.Pricing.TaxRate,
			ShippingFee: cfg.Pricing.ShippingFee,
		},
		CaptureMode:   cfg.Tap.CaptureMode,
		RedirectURL:   cfg.Tap.RedirectURL(),
		WebhookURL:    cfg.Tap.WebhookURL(),
		VerifyWebhook: cfg.Tap.VerifyWebhook,
	})

	invoiceService := service.NewInvoiceService(
		orderRepo,
		invoiceRepo,
		catalogRepo,
		service.NewFileStore(cfg.Service.DocumentDir),
		service.InvoiceConfig{VATRate: cfg.Pricing.VATRate, VATNumber: cfg.Pricing.VATNumber},
	)
	shipmentService := service.NewShipmentService(orderRepo, shipmentRepo)

	// Контекст фоновых воркеров
	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), log))
	defer cancel()

	var workersWg sync.WaitGroup
	runWorker := func(name string, fn func(ctx context.Context)) {
		workersWg.Add(1)
		go func() {
			defer workersWg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("worker", name).Msg("Паника в фоновом воркере")
				}
			}()
			fn(ctx)
		}()
	}

	// === Kafka: outbox и счета по order.paid ===

	var kafkaProducer *kafka.Producer
	var invoiceConsumer *kafka.Consumer
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := kafka.Config{Brokers: cfg.Kafka.Brokers, ConsumerGroup: cfg.Kafka.ConsumerGroup}

		kafkaProducer, err = kafka.NewProducer(kafkaCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
		}

		outboxWorker := outbox.NewWorker(outbox.NewRepository(db), kafkaProducer, outbox.WorkerConfig{
			PollInterval: cfg.Outbox.PollInterval,
			BatchSize:    cfg.Outbox.BatchSize,
			MaxRetries:   cfg.Outbox.MaxRetries,
			Retention:    outbox.DefaultWorkerConfig().Retention,
		})
		runWorker("outbox", outboxWorker.Run)

		invoiceConsumer, err = kafka.NewConsumer(kafkaCfg, kafka.TopicOrderEvents)
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Consumer")
		}
		invoiceConsumer.SetDLQ(kafkaProducer)

		invoiceHandler := service.NewInvoiceEventHandler(invoiceService)
		runWorker("invoices", func(ctx context.Context) {
			if err := invoiceConsumer.Consume(ctx, invoiceHandler.Handle); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Ошибка обработчика событий счетов")
			}
		})

		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("Outbox Worker и обработчик счетов запущены")
	} else {
		log.Warn().Msg("Kafka не настроена — события копятся в outbox, счета выставляются только через API")
	}

	// === Сверка с Tap ===

	if cfg.Reconciler.Enabled {
		reconciler := service.NewReconciler(orderRepo, orderService, service.ReconcilerConfig{
			Interval:   cfg.Reconciler.Interval,
			StaleAfter: cfg.Reconciler.StaleAfter,
			BatchSize:  cfg.Reconciler.BatchSize,
		})
		runWorker("reconciler", reconciler.Run)
	}

	// === Auth ===

	jwtManager, err := jwt.NewManager(jwt.Config{
		PrivateKeyPath: cfg.JWT.PrivateKeyPath,
		PublicKeyPath:  cfg.JWT.PublicKeyPath,
		Issuer:         cfg.JWT.Issuer,
		AccessTokenTTL: cfg.JWT.AccessTokenTTL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка загрузки ключей JWT")
	}
	jwtManager.SetBlacklist(jwt.NewBlacklist(rdb))

	var rateLimitMW *middleware.RateLimitMiddleware
	if cfg.HTTP.RateLimit > 0 {
		rateLimitMW = middleware.NewRateLimitMiddleware(middleware.RateLimitConfig{
			Redis:  rdb,
			Limit:  cfg.HTTP.RateLimit,
			Window: cfg.HTTP.RateLimitWindow,
		})
		log.Info().
			Int("limit", cfg.HTTP.RateLimit).
			Dur("window", cfg.HTTP.RateLimitWindow).
			Msg("Rate limiting включён")
	}

	// === HTTP сервер ===

	router := handler.NewRouter(handler.RouterConfig{
		Orders:         orderService,
		Invoices:       invoiceService,
		Shipments:      shipmentService,
		AuthMW:         middleware.NewAuthMiddleware(jwtManager),
		RateLimitMW:    rateLimitMW,
		CORS:           middleware.DefaultCORSConfig(cfg.Tap.FrontendURL),
		ReadinessCheck: handler.ReadinessChecker(readinessCheck),
		ServiceName:    serviceName,
		Debug:          cfg.IsDevelopment(),
	})

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router.Engine(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr()).Msg("HTTP сервер запущен")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Ошибка HTTP сервера")
		}
	}()

	// === gRPC health для probes ===

	var grpcServer *grpc.Server
	if cfg.GRPC.Enabled {
		grpcServer = grpc.NewServer(
			grpc.ChainUnaryInterceptor(grpcmw.UnaryInterceptors()...),
			grpc.ChainStreamInterceptor(grpcmw.StreamInterceptors()...),
		)
		healthServer := health.NewServer()
		healthpb.RegisterHealthServer(grpcServer, healthServer)

		runWorker("grpc-health", func(ctx context.Context) {
			watchHealth(ctx, healthServer, readinessCheck)
		})

		listener, err := net.Listen("tcp", cfg.GRPC.Addr())
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.GRPC.Addr()).Msg("Ошибка создания listener")
		}
		go func() {
			log.Info().Str("addr", cfg.GRPC.Addr()).Msg("gRPC health сервер запущен")
			if err := grpcServer.Serve(listener); err != nil {
				log.Error().Err(err).Msg("Ошибка gRPC сервера")
			}
		}()
	}

	// === Graceful Shutdown ===

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Получен сигнал завершения, останавливаем сервер...")

	// Даём 30 секунд на завершение текущих запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка при остановке HTTP сервера")
	}
	if grpcServer != nil {
		stopGRPC(shutdownCtx, grpcServer)
	}

	// Останавливаем воркеры до закрытия ресурсов
	cancel()
	workersWg.Wait()

	if invoiceConsumer != nil {
		if err := invoiceConsumer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Kafka Consumer")
		}
	}
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Kafka Producer")
		}
	}

	if err := dbpkg.Close(db); err != nil {
		log.Error().Err(err).Msg("Ошибка закрытия MySQL")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Metrics Server")
		}
		metricsWg.Wait()
	}

	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Tracing")
		}
	}

	log.Info().Msg("Checkout Service остановлен")
}

// stopGRPC ждёт GracefulStop, пока не истечёт ctx. Открытые health Watch стримы сами не завершаются.
func stopGRPC(ctx context.Context, srv *grpc.Server) {
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		srv.Stop()
	}
}

// watchHealth раз в 10 секунд переводит gRPC health в SERVING или NOT_SERVING по readiness.
func watchHealth(ctx context.Context, hs *health.Server, check healthcheck.Check) {
	update := func() {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if err := check(checkCtx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(serviceName, status)
	}

	update()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			update()
		}
	}
}
