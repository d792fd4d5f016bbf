package main

import (
	"context"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	dbpkg "example.com/tap-checkout/pkg/db"
	"example.com/tap-checkout/pkg/logger"
	"example.com/tap-checkout/services/checkout/internal/config"
	"example.com/tap-checkout/services/checkout/internal/domain"
	"example.com/tap-checkout/services/checkout/internal/repository"
	"example.com/tap-checkout/services/checkout/internal/service"
	"example.com/tap-checkout/services/checkout/internal/tap"
)

// cliEnv лениво поднимает зависимости: команде migrate не нужен Tap, token не нужна БД.
type cliEnv struct {
	stdout io.Writer
	stderr io.Writer

	cfg *config.Config
	db  *gorm.DB
	rdb *redis.Client

	orders   service.OrderService
	invoices service.InvoiceService
	orderRep repository.OrderRepository
}

func (e *cliEnv) config() (*config.Config, error) {
	if e.cfg != nil {
		return e.cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Init(logger.Config{Level: cfg.App.LogLevel, Pretty: true, Output: e.stderr})
	e.cfg = cfg
	return cfg, nil
}

func (e *cliEnv) database() (*gorm.DB, error) {
	if e.db != nil {
		return e.db, nil
	}
	cfg, err := e.config()
	if err != nil {
		return nil, err
	}
	db, err := dbpkg.ConnectMySQL(cfg.MySQL, false)
	if err != nil {
		return nil, err
	}
	e.db = db
	return db, nil
}

// services собирает сервисы так же, как checkout: Tap, Redis блокировки, репозитории.
func (e *cliEnv) services(ctx context.Context) error {
	if e.orders != nil {
		return nil
	}
	cfg, err := e.config()
	if err != nil {
		return err
	}
	db, err := e.database()
	if err != nil {
		return err
	}
	rdb, err := dbpkg.ConnectRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	e.rdb = rdb

	numbers, err := service.NewOrderNumberGenerator(cfg.Service.SnowflakeNode)
	if err != nil {
		return fmt.Errorf("генератор номеров: %w", err)
	}

	e.orderRep = repository.NewOrderRepository(db)
	catalog := repository.NewCatalogRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)

	e.orders = service.NewOrderService(service.OrderServiceDeps{
		Orders:    e.orderRep,
		Payments:  repository.NewPaymentRepository(db),
		Catalog:   catalog,
		Invoices:  invoiceRepo,
		Shipments: repository.NewShipmentRepository(db),
		Webhooks:  repository.NewWebhookRepository(db),
		Gateway: tap.NewClient(tap.Config{
			BaseURL:             cfg.Tap.BaseURL,
			SecretKey:           cfg.Tap.SecretKey,
			Timeout:             cfg.Tap.Timeout,
			StatementDescriptor: cfg.Tap.Descriptor,
		}),
		Locker:  service.NewChargeLocker(rdb, cfg.Service.ChargeLockTTL),
		Deduper: service.NewWebhookDeduper(rdb, cfg.Service.WebhookDedupTTL),
		Numbers: numbers,
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

	e.invoices = service.NewInvoiceService(
		e.orderRep,
		invoiceRepo,
		catalog,
		service.NewFileStore(cfg.Service.DocumentDir),
		service.InvoiceConfig{VATRate: cfg.Pricing.VATRate, VATNumber: cfg.Pricing.VATNumber},
	)
	return nil
}

func (e *cliEnv) close() {
	if e.rdb != nil {
		_ = e.rdb.Close()
	}
	if e.db != nil {
		_ = dbpkg.Close(e.db)
	}
}
