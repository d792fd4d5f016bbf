package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
)

func TestServer_Readyz(t *testing.T) {
	t.Run("готов без проверки", func(t *testing.T) {
		srv := NewServer(":0", "test")

		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ready"}`, w.Body.String())
	})

	t.Run("503 при ошибке зависимости", func(t *testing.T) {
		srv := NewServer(":0", "test", WithReadinessCheck(func(context.Context) error {
			return errors.New("mysql недоступен")
		}))

		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.NotContains(t, w.Body.String(), "mysql")
	})
}

func TestRecordPaymentTransition(t *testing.T) {
	before := counterValue(t, "sync", "unpaid", "paid")

	RecordPaymentTransition("sync", "unpaid", "paid")
	RecordPaymentTransition("sync", "paid", "paid") // без изменения не учитывается

	after := counterValue(t, "sync", "unpaid", "paid")
	assert.Equal(t, before+1, after)
}

// counterValue читает текущее значение счётчика переходов.
func counterValue(t *testing.T, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := PaymentStatusTransitions.WithLabelValues(labels...).Write(m); err != nil {
		t.Fatalf("ошибка чтения метрики: %v", err)
	}
	return m.GetCounter().GetValue()
}
