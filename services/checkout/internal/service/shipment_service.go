package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"example.com/tap-checkout/pkg/kafka"
	"example.com/tap-checkout/pkg/logger"
	"example.com/tap-checkout/pkg/outbox"
	"example.com/tap-checkout/services/checkout/internal/domain"
	"example.com/tap-checkout/services/checkout/internal/repository"
)

// ShipmentInput — данные новой отгрузки.
type ShipmentInput struct {
	OrderNumber    string
	Status         domain.ShipmentStatus
	CourierName    string
	TrackingNumber string
	ShippedDate    *time.Time
	DeliveryDate   *time.Time
	AdminComment   string
}

// ShipmentPatch — изменяемые поля отгрузки. nil — без изменений.
type ShipmentPatch struct {
	Status         *domain.ShipmentStatus
	CourierName    *string
	TrackingNumber *string
	ShippedDate    *time.Time
	DeliveryDate   *time.Time
	AdminComment   *string
}

// Tracking — публичная информация об отгрузке.
type Tracking struct {
	Shipment    *domain.Shipment
	TrackingURL string
}

// ShipmentService — отгрузки заказов.
type ShipmentService interface {
	CreateShipment(ctx context.Context, in ShipmentInput) (*domain.Shipment, error)
	UpdateShipment(ctx context.Context, id uint64, patch ShipmentPatch) (*domain.Shipment, error)
	ListByOrder(ctx context.Context, orderNumber string, actor Actor) ([]*domain.Shipment, error)
	Track(ctx context.Context, trackingNumber string) (*Tracking, error)
}

type shipmentService struct {
	orders    repository.OrderRepository
	shipments repository.ShipmentRepository
	now       func() time.Time
}

// NewShipmentService создаёт сервис отгрузок.
func NewShipmentService(orders repository.OrderRepository, shipments repository.ShipmentRepository) ShipmentService {
	return &shipmentService{
		orders:    orders,
		shipments: shipments,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *shipmentService) CreateShipment(ctx context.Context, in ShipmentInput) (*domain.Shipment, error) {
	order, err := s.orders.GetByNumber(ctx, in.OrderNumber)
	if err != nil {
		return nil, err
	}
	if order.Status == domain.OrderStatusCancelled {
		return nil, fmt.Errorf("%w: заказ %s отменён", domain.ErrInvalidTransition, order.OrderNumber)
	}

	shipment := &domain.Shipment{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Status:         in.Status,
		CourierName:    strings.TrimSpace(in.CourierName),
		TrackingNumber: strings.TrimSpace(in.TrackingNumber),
		ShippedDate:    in.ShippedDate,
		DeliveryDate:   in.DeliveryDate,
		AdminComment:   in.AdminComment,
	}
	if shipment.Status == "" {
		shipment.Status = domain.ShipmentProcessing
	}

	if err := s.save(ctx, shipment); err != nil {
		return nil, err
	}
	return shipment, nil
}

func (s *shipmentService) UpdateShipment(ctx context.Context, id uint64, patch ShipmentPatch) (*domain.Shipment, error) {
	shipment, err := s.shipments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Status != nil {
		shipment.Status = *patch.Status
	}
	if patch.CourierName != nil {
		shipment.CourierName = strings.TrimSpace(*patch.CourierName)
	}
	if patch.TrackingNumber != nil {
		shipment.TrackingNumber = strings.TrimSpace(*patch.TrackingNumber)
	}
	if patch.ShippedDate != nil {
		shipment.ShippedDate = patch.ShippedDate
	}
	if patch.DeliveryDate != nil {
		shipment.DeliveryDate = patch.DeliveryDate
	}
	if patch.AdminComment != nil {
		shipment.AdminComment = *patch.AdminComment
	}

	order, err := s.orders.GetByID(ctx, shipment.OrderID)
	if err != nil {
		return nil, err
	}
	shipment.OrderNumber = order.OrderNumber

	if err := s.save(ctx, shipment); err != nil {
		return nil, err
	}
	return shipment, nil
}

// save проверяет отгрузку и пишет её вместе со статусом выполнения заказа и событием.
func (s *shipmentService) save(ctx context.Context, shipment *domain.Shipment) error {
	if err := shipment.Normalize(s.now()); err != nil {
		return err
	}

	payload := domain.ShipmentEvent{
		ShipmentID:     shipment.ID,
		OrderID:        shipment.OrderID,
		OrderNumber:    shipment.OrderNumber,
		Status:         shipment.Status,
		CourierName:    shipment.CourierName,
		TrackingNumber: shipment.TrackingNumber,
		TrackingURL:    shipment.TrackingURL(),
	}
	rec, err := outbox.NewRecord(domain.AggregateShipment, shipment.OrderID, domain.EventShipmentUpdated,
		kafka.TopicOrderEvents, payload, map[string]string{
			kafka.HeaderTraceID:       logger.TraceIDFromContext(ctx),
			kafka.HeaderCorrelationID: logger.CorrelationIDFromContext(ctx),
		})
	if err != nil {
		return err
	}

	if err := s.shipments.Save(ctx, shipment, []*outbox.Record{rec}); err != nil {
		return err
	}

	logger.Ctx(ctx).Info().
		Str("order_number", shipment.OrderNumber).
		Str("shipment_id", strconv.FormatUint(shipment.ID, 10)).
		Str("status", string(shipment.Status)).
		Msg("Отгрузка сохранена")
	return nil
}

func (s *shipmentService) ListByOrder(ctx context.Context, orderNumber string, actor Actor) ([]*domain.Shipment, error) {
	order, err := s.orders.GetByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(order.UserID) {
		return nil, domain.ErrForbidden
	}

	shipments, err := s.shipments.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	for _, sh := range shipments {
		sh.OrderNumber = order.OrderNumber
	}
	return shipments, nil
}

func (s *shipmentService) Track(ctx context.Context, trackingNumber string) (*Tracking, error) {
	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return nil, fmt.Errorf("%w: пустой трек-номер", domain.ErrValidation)
	}

	shipment, err := s.shipments.GetByTracking(ctx, trackingNumber)
	if err != nil {
		return nil, err
	}
	return &Tracking{Shipment: shipment, TrackingURL: shipment.TrackingURL()}, nil
}
