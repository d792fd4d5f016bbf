package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"example.com/tap-checkout/pkg/logger"
	"example.com/tap-checkout/services/checkout/internal/domain"
	"example.com/tap-checkout/services/checkout/internal/service"
)

// ShipmentHandler — обработчик отгрузок.
type ShipmentHandler struct {
	shipments service.ShipmentService
}

// NewShipmentHandler создаёт обработчик отгрузок.
func NewShipmentHandler(shipments service.ShipmentService) *ShipmentHandler {
	registerValidators()
	return &ShipmentHandler{shipments: shipments}
}

// ListByOrder — отгрузки заказа.
// GET /api/v1/orders/:order_number/shipments
func (h *ShipmentHandler) ListByOrder(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}

	list, err := h.shipments.ListByOrder(c.Request.Context(), c.Param("order_number"), actor)
	if err != nil {
		HandleError(c, err, "ListShipments")
		return
	}

	resp := make([]ShipmentResponse, 0, len(list))
	for _, s := range list {
		resp = append(resp, shipmentToResponse(s))
	}
	c.JSON(http.StatusOK, gin.H{"shipments": resp})
}

// Create добавляет отгрузку.
// POST /api/v1/admin/shipments
func (h *ShipmentHandler) Create(c *gin.Context) {
	var req CreateShipmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	in := service.ShipmentInput{
		OrderNumber:    req.OrderNumber,
		Status:         domain.ShipmentProcessing,
		CourierName:    req.CourierName,
		TrackingNumber: req.TrackingNumber,
		ShippedDate:    req.ShippedDate,
		DeliveryDate:   req.DeliveryDate,
		AdminComment:   req.AdminComment,
	}
	if req.Status != "" {
		in.Status = domain.ShipmentStatus(req.Status)
	}

	shipment, err := h.shipments.CreateShipment(c.Request.Context(), in)
	if err != nil {
		HandleError(c, err, "CreateShipment")
		return
	}

	logger.Ctx(c.Request.Context()).Info().
		Str("order_number", req.OrderNumber).
		Uint64("shipment_id", shipment.ID).
		Str("status", string(shipment.Status)).
		Msg("Отгрузка создана")

	c.JSON(http.StatusCreated, gin.H{"shipment": shipmentToResponse(shipment)})
}

// Update меняет статус и реквизиты отгрузки.
// PATCH /api/v1/admin/shipments/:id
func (h *ShipmentHandler) Update(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "некорректный id отгрузки")
		return
	}

	var req UpdateShipmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	patch := service.ShipmentPatch{
		CourierName:    req.CourierName,
		TrackingNumber: req.TrackingNumber,
		ShippedDate:    req.ShippedDate,
		DeliveryDate:   req.DeliveryDate,
		AdminComment:   req.AdminComment,
	}
	if req.Status != nil {
		st := domain.ShipmentStatus(*req.Status)
		patch.Status = &st
	}

	shipment, err := h.shipments.UpdateShipment(c.Request.Context(), id, patch)
	if err != nil {
		HandleError(c, err, "UpdateShipment")
		return
	}

	c.JSON(http.StatusOK, gin.H{"shipment": shipmentToResponse(shipment)})
}

// Track — публичное отслеживание по трек-номеру.
// GET /api/v1/shipments/track/:tracking_number
func (h *ShipmentHandler) Track(c *gin.Context) {
	tr, err := h.shipments.Track(c.Request.Context(), c.Param("tracking_number"))
	if err != nil {
		HandleError(c, err, "TrackShipment")
		return
	}

	resp := shipmentToResponse(tr.Shipment)
	resp.TrackingURL = tr.TrackingURL
	// администраторский комментарий наружу не отдаём
	resp.AdminComment = ""
	c.JSON(http.StatusOK, gin.H{"shipment": resp})
}
