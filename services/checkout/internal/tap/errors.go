package tap

import (
	"fmt"

	"example.com/tap-checkout/services/checkout/internal/domain"
)

// GatewayError — сбой вызова Tap: сеть, 4xx, 5xx или открытый breaker.
// errors.Is(err, domain.ErrGateway) истинно для любого GatewayError.
type GatewayError struct {
	Op         string // create|capture|status|refund
	StatusCode int    // 0 — ответа не было
	Code       string // код ошибки Tap
	Message    string
	Body       []byte
	Err        error
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("tap %s", e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": HTTP %d", e.StatusCode)
	}
	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap отдаёт domain.ErrGateway и исходную причину.
func (e *GatewayError) Unwrap() []error {
	if e.Err == nil {
		return []error{domain.ErrGateway}
	}
	return []error{domain.ErrGateway, e.Err}
}

// Temporary — 5xx, сеть или breaker; 4xx означает ошибку запроса.
func (e *GatewayError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}
