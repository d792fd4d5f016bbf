package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ShipmentStatus — статус отгрузки.
type ShipmentStatus string

const (
	ShipmentProcessing ShipmentStatus = "processing"
	ShipmentShipped    ShipmentStatus = "shipped"
	ShipmentDelivered  ShipmentStatus = "delivered"
	ShipmentReturned   ShipmentStatus = "returned"
)

// IsValid проверяет статус отгрузки.
func (s ShipmentStatus) IsValid() bool {
	switch s {
	case ShipmentProcessing, ShipmentShipped, ShipmentDelivered, ShipmentReturned:
		return true
	}
	return false
}

// Fulfillment — соответствующая стадия выполнения заказа.
func (s ShipmentStatus) Fulfillment() FulfillmentStatus {
	return FulfillmentStatus(s)
}

// Shipment — отгрузка заказа.
type Shipment struct {
	ID             uint64
	OrderID        string
	OrderNumber    string
	Status         ShipmentStatus
	CourierName    string
	TrackingNumber string
	ShippedDate    *time.Time
	DeliveryDate   *time.Time
	AdminComment   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Normalize проверяет обязательные поля и проставляет даты.
func (s *Shipment) Normalize(now time.Time) error {
	if !s.Status.IsValid() {
		return fmt.Errorf("%w: неизвестный статус отгрузки %q", ErrValidation, s.Status)
	}
	switch s.Status {
	case ShipmentShipped:
		if strings.TrimSpace(s.CourierName) == "" || strings.TrimSpace(s.TrackingNumber) == "" {
			return fmt.Errorf("%w: для статуса shipped нужны курьер и трек-номер", ErrValidation)
		}
		if s.ShippedDate == nil {
			s.ShippedDate = &now
		}
	case ShipmentDelivered:
		if s.DeliveryDate == nil {
			s.DeliveryDate = &now
		}
	}
	return nil
}

var trackingURLs = map[string]string{
	"aramex": "https://www.aramex.com/track/track-results?trackingNumber=%s",
	"smsa":   "https://www.smsaexpress.com/tracking-details?trackNumbers=%s",
	"fetchr": "https://fetchr.com/track?tracking_number=%s",
	"dhl":    "https://www.dhl.com/en/express/tracking.html?AWB=%s",
	"fedex":  "https://www.fedex.com/fedextrack/?trknbr=%s",
	"ups":    "https://www.ups.com/track?tracknum=%s",
}

// TrackingURL возвращает ссылку отслеживания у курьера или "" для неизвестного курьера.
func (s *Shipment) TrackingURL() string {
	if s.TrackingNumber == "" || s.CourierName == "" {
		return ""
	}
	tmpl, ok := trackingURLs[strings.ToLower(strings.TrimSpace(s.CourierName))]
	if !ok {
		return ""
	}
	return fmt.Sprintf(tmpl, url.QueryEscape(s.TrackingNumber))
}
