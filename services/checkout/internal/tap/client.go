// Package tap — HTTP клиент Tap Payments (charges, capture, refund) и
// проверка подписи webhook. Клиент не обращается к хранилищу и не повторяет запросы.
package tap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"example.com/tap-checkout/pkg/circuitbreaker"
	"example.com/tap-checkout/pkg/logger"
	"example.com/tap-checkout/pkg/metrics"
	"example.com/tap-checkout/pkg/tracing"
)

const gatewayName = "tap"

// Config — параметры клиента.
type Config struct {
	BaseURL             string
	SecretKey           string
	Timeout             time.Duration
	StatementDescriptor string
}

// Client вызывает REST API Tap.
type Client struct {
	baseURL    string
	secretKey  string
	descriptor string
	http       *http.Client
	breaker    *circuitbreaker.Breaker
}

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient подменяет http.Client (тесты, прокси).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBreaker подменяет настройки circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// NewClient создаёт клиент. Ошибки 4xx не открывают breaker.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}

	settings := circuitbreaker.DefaultSettings()
	settings.IsFailure = func(err error) bool {
		var gwErr *GatewayError
		if errors.As(err, &gwErr) {
			return gwErr.Temporary()
		}
		return true
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:  cfg.SecretKey,
		descriptor: cfg.StatementDescriptor,
		http:       &http.Client{Timeout: cfg.Timeout},
		breaker:    circuitbreaker.NewWithSettings(gatewayName, settings),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateCharge создаёт charge и возвращает ссылку на оплату.
func (c *Client) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	method := req.Method
	if method == "" {
		method = MethodCreate
	}

	body := chargeRequestJSON{
		Amount:              wireAmount(req.AmountMinor, req.Currency),
		Currency:            req.Currency,
		ThreeDSecure:        true,
		SaveCard:            false,
		Description:         req.Description,
		StatementDescriptor: c.descriptor,
		Metadata:            map[string]string{"order_id": req.OrderID},
		Reference:           map[string]string{"order": req.OrderReference},
		Customer: customerJSON{
			FirstName: req.Customer.FirstName,
			Email:     req.Customer.Email,
		},
		Source:   map[string]string{"id": "src_all"},
		Redirect: map[string]string{"url": req.RedirectURL},
		Method:   method,
	}
	if req.Customer.Phone != "" {
		body.Customer.Phone = &phoneJSON{CountryCode: req.Customer.PhoneCode, Number: req.Customer.Phone}
	}
	if req.PostURL != "" {
		body.Post = map[string]string{"url": req.PostURL}
	}

	raw, err := c.do(ctx, "create", http.MethodPost, "/charges", body)
	if err != nil {
		return nil, err
	}
	return decodeCharge("create", raw)
}

// CaptureCharge списывает авторизованный charge.
func (c *Client) CaptureCharge(ctx context.Context, chargeID string) (*Charge, error) {
	raw, err := c.do(ctx, "capture", http.MethodPost, "/charges/"+url.PathEscape(chargeID)+"/capture", struct{}{})
	if err != nil {
		return nil, err
	}
	return decodeCharge("capture", raw)
}

// GetCharge читает текущее состояние charge.
func (c *Client) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	raw, err := c.do(ctx, "status", http.MethodGet, "/charges/"+url.PathEscape(chargeID), nil)
	if err != nil {
		return nil, err
	}
	return decodeCharge("status", raw)
}

// RefundCharge возвращает деньги. amountMinor == nil — полный возврат.
func (c *Client) RefundCharge(ctx context.Context, chargeID string, amountMinor *int64, currency string) (*Refund, error) {
	body := refundRequestJSON{Reason: "requested_by_customer"}
	if amountMinor != nil {
		body.Amount = wireAmount(*amountMinor, currency)
		body.Currency = currency
	}

	raw, err := c.do(ctx, "refund", http.MethodPost, "/charges/"+url.PathEscape(chargeID)+"/refund", body)
	if err != nil {
		return nil, err
	}

	var rj refundJSON
	if err := json.Unmarshal(raw, &rj); err != nil {
		return nil, &GatewayError{Op: "refund", Message: "некорректный ответ", Body: raw, Err: err}
	}
	if rj.ChargeID == "" {
		rj.ChargeID = chargeID
	}
	return &Refund{
		ID:       rj.ID,
		ChargeID: rj.ChargeID,
		Status:   strings.ToUpper(rj.Status),
		Amount:   rj.Amount,
		Currency: rj.Currency,
		Raw:      raw,
	}, nil
}

func decodeCharge(op string, raw []byte) (*Charge, error) {
	var cj chargeJSON
	if err := json.Unmarshal(raw, &cj); err != nil {
		return nil, &GatewayError{Op: op, Message: "некорректный ответ", Body: raw, Err: err}
	}
	if cj.ID == "" {
		return nil, &GatewayError{Op: op, Message: "в ответе нет id charge", Body: raw}
	}
	return cj.toCharge(raw), nil
}

// do выполняет запрос через breaker, пишет span и метрики.
func (c *Client) do(ctx context.Context, op, method, path string, body any) (raw []byte, err error) {
	ctx, span := tracing.StartSpan(ctx, "tap."+op,
		attribute.String("payment.gateway", gatewayName),
		attribute.String("http.method", method),
	)
	start := time.Now()
	defer func() {
		metrics.RecordGatewayCall(gatewayName, op, err, time.Since(start))
		tracing.EndSpan(span, err)
	}()

	breakerErr := c.breaker.Execute(func() error {
		var callErr error
		raw, callErr = c.roundTrip(ctx, op, method, path, body)
		return callErr
	})
	if breakerErr == nil {
		return raw, nil
	}

	var gwErr *GatewayError
	if !errors.As(breakerErr, &gwErr) {
		gwErr = &GatewayError{Op: op, Err: breakerErr}
	}

	logger.Ctx(ctx).Warn().
		Err(gwErr).
		Str("operation", op).
		Int("http_status", gwErr.StatusCode).
		Msg("Ошибка вызова Tap")

	return nil, gwErr
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &GatewayError{Op: op, Message: "ошибка сериализации запроса", Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		gwErr := &GatewayError{Op: op, StatusCode: resp.StatusCode, Body: raw}
		var ej errorJSON
		if json.Unmarshal(raw, &ej) == nil && len(ej.Errors) > 0 {
			gwErr.Code = ej.Errors[0].Code
			gwErr.Message = ej.Errors[0].Description
		} else {
			gwErr.Message = http.StatusText(resp.StatusCode)
		}
		return nil, gwErr
	}

	return raw, nil
}

// String для логов без секретного ключа.
func (c *Client) String() string {
	return fmt.Sprintf("tap.Client{%s}", c.baseURL)
}
