// Package config содержит настройки checkout сервиса: инфраструктура из pkg/config
// плюс Tap, ценовая политика и фоновые задачи.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/shopspring/decimal"

	sharedcfg "example.com/tap-checkout/pkg/config"
)

// Config — полная конфигурация сервиса.
type Config struct {
	*sharedcfg.Config

	Tap        TapConfig
	Pricing    PricingConfig
	Reconciler ReconcilerConfig
	Outbox     OutboxConfig
	Service    ServiceConfig
}

// TapConfig — доступ к Tap Payments.
type TapConfig struct {
	SecretKey     string        `env:"TAP_SECRET_KEY"`
	BaseURL       string        `env:"TAP_BASE_URL" envDefault:"https://api.tap.company/v2"`
	Timeout       time.Duration `env:"TAP_TIMEOUT" envDefault:"20s"`
	FrontendURL   string        `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	PublicAPIURL  string        `env:"PUBLIC_API_URL" envDefault:"http://localhost:8080"`
	Descriptor    string        `env:"TAP_STATEMENT_DESCRIPTOR" envDefault:"Store"`
	VerifyWebhook bool          `env:"TAP_VERIFY_WEBHOOK" envDefault:"true"`
	// CaptureMode: CREATE — списание сразу, AUTHORIZE — требуется capture.
	CaptureMode string `env:"TAP_CAPTURE_MODE" envDefault:"CREATE"`
}

// RedirectURL — куда Tap вернёт покупателя после 3DS.
func (c TapConfig) RedirectURL() string {
	return c.FrontendURL + "/payment-callback"
}

// WebhookURL — адрес, на который Tap шлёт уведомления (post.url).
func (c TapConfig) WebhookURL() string {
	return strings.TrimRight(c.PublicAPIURL, "/") + "/api/v1/webhooks/tap"
}

// PricingConfig — политика расчёта сумм. decimal.Decimal читается через TextUnmarshaler.
type PricingConfig struct {
	Currency    string          `env:"CURRENCY" envDefault:"SAR"`
	TaxRate     decimal.Decimal `env:"TAX_RATE" envDefault:"0.05"`
	ShippingFee decimal.Decimal `env:"SHIPPING_FEE" envDefault:"20"`
	VATRate     decimal.Decimal `env:"INVOICE_VAT_RATE" envDefault:"0.15"`
	VATNumber   string          `env:"VAT_NUMBER"`
}

// ReconcilerConfig — периодическая сверка с Tap.
type ReconcilerConfig struct {
	Enabled    bool          `env:"RECONCILER_ENABLED" envDefault:"true"`
	Interval   time.Duration `env:"RECONCILER_INTERVAL" envDefault:"1m"`
	StaleAfter time.Duration `env:"RECONCILER_STALE_AFTER" envDefault:"15m"`
	BatchSize  int           `env:"RECONCILER_BATCH_SIZE" envDefault:"50"`
}

// OutboxConfig — доставка доменных событий.
type OutboxConfig struct {
	PollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	BatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	MaxRetries   int           `env:"OUTBOX_MAX_RETRIES" envDefault:"5"`
}

// ServiceConfig — прочие настройки.
type ServiceConfig struct {
	SnowflakeNode   int64         `env:"SNOWFLAKE_NODE" envDefault:"1"`
	DocumentDir     string        `env:"DOCUMENT_DIR" envDefault:"storage"`
	ChargeLockTTL   time.Duration `env:"CHARGE_LOCK_TTL" envDefault:"30s"`
	WebhookDedupTTL time.Duration `env:"WEBHOOK_DEDUP_TTL" envDefault:"24h"`
}

// Load загружает общую и сервисную конфигурацию.
func Load() (*Config, error) {
	shared, err := sharedcfg.Load()
	if err != nil {
		return nil, err
	}

	cfg := &Config{Config: shared}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации сервиса: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет значения, без которых сервис не может работать.
func (c *Config) Validate() error {
	if c.IsProduction() && c.Tap.SecretKey == "" {
		return fmt.Errorf("TAP_SECRET_KEY обязателен в production")
	}
	if c.Tap.CaptureMode != "CREATE" && c.Tap.CaptureMode != "AUTHORIZE" {
		return fmt.Errorf("TAP_CAPTURE_MODE должен быть CREATE или AUTHORIZE, получено %q", c.Tap.CaptureMode)
	}
	if c.Pricing.TaxRate.IsNegative() || c.Pricing.ShippingFee.IsNegative() || c.Pricing.VATRate.IsNegative() {
		return fmt.Errorf("ставки и стоимость доставки не могут быть отрицательными")
	}
	return nil
}
