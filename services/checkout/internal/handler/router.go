package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/tap-checkout/pkg/metrics"
	"example.com/tap-checkout/services/checkout/internal/middleware"
	"example.com/tap-checkout/services/checkout/internal/service"
)

// ReadinessChecker — функция проверки готовности сервиса.
type ReadinessChecker func(ctx context.Context) error

// Router — конфигурация роутера.
type Router struct {
	engine         *gin.Engine
	orders         service.OrderService
	invoices       service.InvoiceService
	shipments      service.ShipmentService
	authMW         *middleware.AuthMiddleware
	rateLimitMW    *middleware.RateLimitMiddleware
	serviceName    string
	readinessCheck ReadinessChecker
}

// RouterConfig — параметры для создания роутера.
type RouterConfig struct {
	Orders         service.OrderService
	Invoices       service.InvoiceService
	Shipments      service.ShipmentService
	AuthMW         *middleware.AuthMiddleware
	RateLimitMW    *middleware.RateLimitMiddleware // nil — без rate limiting
	CORS           middleware.CORSConfig
	ReadinessCheck ReadinessChecker // опциональная проверка готовности для /readyz
	ServiceName    string
	Debug          bool
}

// NewRouter создаёт и настраивает HTTP роутер.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "checkout"
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(cfg.CORS))
	engine.Use(middleware.SecurityHeaders())
	engine.Use(otelgin.Middleware(cfg.ServiceName))
	engine.Use(metrics.GinMetricsMiddleware(cfg.ServiceName))
	engine.Use(middleware.RequestContext())

	r := &Router{
		engine:         engine,
		orders:         cfg.Orders,
		invoices:       cfg.Invoices,
		shipments:      cfg.Shipments,
		authMW:         cfg.AuthMW,
		rateLimitMW:    cfg.RateLimitMW,
		serviceName:    cfg.ServiceName,
		readinessCheck: cfg.ReadinessCheck,
	}

	r.setupRoutes()
	return r
}

// setupRoutes настраивает все маршруты API.
func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.healthCheck)
	r.engine.GET("/healthz", r.livenessCheck)
	r.engine.GET("/readyz", r.readinessCheckHandler)

	v1 := r.engine.Group("/api/v1")

	orderHandler := NewOrderHandler(r.orders, r.invoices)
	paymentHandler := NewPaymentHandler(r.orders)
	shipmentHandler := NewShipmentHandler(r.shipments)

	// Уведомления Tap приходят с фиксированных адресов шлюза: без rate limiting, проверяются подписью
	v1.POST("/webhooks/tap", paymentHandler.Webhook)

	api := v1.Group("")
	if r.rateLimitMW != nil {
		api.Use(r.rateLimitMW.Handle())
	}

	// === Публичные ===
	api.GET("/shipments/track/:tracking_number", shipmentHandler.Track)

	// === Покупатель и администратор ===
	auth := api.Group("")
	auth.Use(r.authMW.Handle())
	{
		auth.POST("/orders", orderHandler.CreateOrder)
		auth.GET("/orders", orderHandler.ListOrders)
		auth.GET("/orders/:order_number", orderHandler.GetOrder)
		auth.POST("/orders/:order_number/cancel", orderHandler.CancelOrder)
		auth.POST("/orders/:order_number/charge", orderHandler.RetryCharge)
		auth.POST("/orders/:order_number/invoice", orderHandler.CreateInvoice)
		auth.GET("/orders/:order_number/shipments", shipmentHandler.ListByOrder)
		auth.GET("/invoices/order/:order_id/document", orderHandler.InvoiceDocument)
		auth.GET("/products/:product_id/purchased", orderHandler.HasPurchased)
		auth.GET("/payments/verify", paymentHandler.Verify)
	}

	// === Только администратор ===
	admin := auth.Group("")
	admin.Use(middleware.RequireAdmin())
	{
		admin.POST("/payments/:charge_id/capture", paymentHandler.Capture)
		admin.POST("/payments/:charge_id/sync", paymentHandler.Sync)
		admin.POST("/admin/shipments", shipmentHandler.Create)
		admin.PATCH("/admin/shipments/:id", shipmentHandler.Update)
	}
}

// Engine возвращает Gin engine для запуска сервера.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": r.serviceName,
	})
}

// livenessCheck — liveness probe: процесс жив, если сервер отвечает.
func (r *Router) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// readinessCheckHandler — readiness probe: MySQL и Redis доступны.
func (r *Router) readinessCheckHandler(c *gin.Context) {
	if r.readinessCheck == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := r.readinessCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
