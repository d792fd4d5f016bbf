package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"example.com/tap-checkout/pkg/logger"
	"example.com/tap-checkout/services/checkout/internal/domain"
	"example.com/tap-checkout/services/checkout/internal/middleware"
	"example.com/tap-checkout/services/checkout/internal/service"
)

// HeaderIdempotencyKey — альтернатива полю idempotency_key в теле запроса.
const HeaderIdempotencyKey = "Idempotency-Key"

// OrderHandler — обработчик заказов.
type OrderHandler struct {
	orders   service.OrderService
	invoices service.InvoiceService
}

// NewOrderHandler создаёт новый обработчик заказов.
func NewOrderHandler(orders service.OrderService, invoices service.InvoiceService) *OrderHandler {
	registerValidators()
	return &OrderHandler{orders: orders, invoices: invoices}
}

// CreateOrder оформляет заказ.
// POST /api/v1/orders
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	actor, ok := getActor(c)
	if !ok {
		return
	}

	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	in := service.CreateOrderInput{
		UserID:         actor.UserID,
		Items:          make([]service.OrderItemInput, 0, len(req.Items)),
		PaymentMethod:  domain.PaymentMethodTap,
		PromoCode:      req.PromoCode,
		IdempotencyKey: req.IdempotencyKey,
		Address: domain.Address{
			FullName:   req.Address.FullName,
			Phone:      req.Address.Phone,
			Line1:      req.Address.Line1,
			Line2:      req.Address.Line2,
			City:       req.Address.City,
			State:      req.Address.State,
			PostalCode: req.Address.PostalCode,
			Country:    strings.ToUpper(req.Address.Country),
		},
	}
	if req.PaymentMethod != "" {
		in.PaymentMethod = domain.PaymentMethod(req.PaymentMethod)
	}
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = c.GetHeader(HeaderIdempotencyKey)
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, service.OrderItemInput{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
		})
	}

	res, err := h.orders.CreateOrder(ctx, in)
	if err != nil {
		// заказ уже сохранён, оплату можно повторить через /charge
		if errors.Is(err, domain.ErrGateway) && res != nil && res.Order != nil {
			log.Warn().Err(err).Str("order_number", res.Order.OrderNumber).Msg("Заказ создан, но charge не создан")
			c.JSON(http.StatusBadGateway, GatewayErrorResponse{
				ErrorResponse: ErrorResponse{Error: "gateway_error", Message: err.Error()},
				Order:         orderToResponse(res.Order),
			})
			return
		}
		HandleError(c, err, "CreateOrder")
		return
	}

	log.Info().
		Str("order_number", res.Order.OrderNumber).
		Str("total", res.Order.Total.StringFixed(2)).
		Msg("Заказ оформлен")

	c.JSON(http.StatusCreated, CheckoutResponse{
		Order:          orderToResponse(res.Order),
		TapCheckoutURL: res.CheckoutURL,
	})
}

// ListOrders возвращает заказы пользователя, администратору — все.
// GET /api/v1/orders?page=1&page_size=20&status=pending
func (h *OrderHandler) ListOrders(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	var status *domain.OrderStatus
	if s := c.Query("status"); s != "" {
		st := domain.OrderStatus(s)
		status = &st
	}

	orders, total, err := h.orders.ListOrders(c.Request.Context(), actor, status, page, pageSize)
	if err != nil {
		HandleError(c, err, "ListOrders")
		return
	}

	// сервис приводит page/page_size к допустимым границам, повторяем это в ответе
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	resp := ListOrdersResponse{
		Orders: make([]OrderResponse, 0, len(orders)),
		Pagination: PaginationResponse{
			CurrentPage: page,
			PageSize:    pageSize,
			TotalItems:  total,
			TotalPages:  int((total + int64(pageSize) - 1) / int64(pageSize)),
		},
	}
	for _, o := range orders {
		resp.Orders = append(resp.Orders, orderToResponse(o))
	}

	c.JSON(http.StatusOK, resp)
}

// GetOrder возвращает заказ с платежами, отгрузками и счётом.
// GET /api/v1/orders/:order_number
func (h *OrderHandler) GetOrder(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}

	view, err := h.orders.GetOrder(c.Request.Context(), c.Param("order_number"), actor)
	if err != nil {
		HandleError(c, err, "GetOrder")
		return
	}

	c.JSON(http.StatusOK, viewToResponse(view))
}

// CancelOrder отменяет заказ.
// POST /api/v1/orders/:order_number/cancel
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}

	order, err := h.orders.CancelOrder(c.Request.Context(), c.Param("order_number"), actor)
	if err != nil {
		HandleError(c, err, "CancelOrder")
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": orderToResponse(order)})
}

// RetryCharge создаёт новую ссылку на оплату.
// POST /api/v1/orders/:order_number/charge
func (h *OrderHandler) RetryCharge(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}

	res, err := h.orders.RetryCharge(c.Request.Context(), c.Param("order_number"), actor)
	if err != nil {
		HandleError(c, err, "RetryCharge")
		return
	}

	c.JSON(http.StatusOK, CheckoutResponse{
		Order:          orderToResponse(res.Order),
		TapCheckoutURL: res.CheckoutURL,
	})
}

// CreateInvoice выставляет счёт по оплаченному заказу.
// POST /api/v1/orders/:order_number/invoice
func (h *OrderHandler) CreateInvoice(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}

	inv, err := h.invoices.CreateInvoice(c.Request.Context(), c.Param("order_number"), actor)
	if err != nil {
		HandleError(c, err, "CreateInvoice")
		return
	}

	c.JSON(http.StatusOK, gin.H{"invoice": invoiceToResponse(inv)})
}

// InvoiceDocument отдаёт печатную форму счёта.
// GET /api/v1/invoices/order/:order_id/document
func (h *OrderHandler) InvoiceDocument(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}

	doc, err := h.invoices.RenderInvoiceDocument(c.Request.Context(), c.Param("order_id"), actor)
	if err != nil {
		HandleError(c, err, "InvoiceDocument")
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+doc.Name+`"`)
	c.Data(http.StatusOK, "text/plain; charset=utf-8", doc.Content)
}

// HasPurchased — покупал ли пользователь товар (для отзывов).
// GET /api/v1/products/:product_id/purchased
func (h *OrderHandler) HasPurchased(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}

	productID, err := strconv.ParseUint(c.Param("product_id"), 10, 64)
	if err != nil || productID == 0 {
		badRequest(c, "некорректный product_id")
		return
	}

	purchased, err := h.orders.HasPurchasedProduct(c.Request.Context(), actor.UserID, productID)
	if err != nil {
		HandleError(c, err, "HasPurchased")
		return
	}

	c.JSON(http.StatusOK, gin.H{"purchased": purchased})
}

// getActor извлекает пользователя, выставленный AuthMiddleware.
func getActor(c *gin.Context) (service.Actor, bool) {
	userID := c.GetUint64(middleware.KeyUserID)
	admin := c.GetBool(middleware.KeyAdmin)
	if userID == 0 && !admin {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "Требуется аутентификация",
		})
		return service.Actor{}, false
	}
	return service.Actor{UserID: userID, Admin: admin}, true
}
