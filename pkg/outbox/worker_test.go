package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/tap-checkout/pkg/kafka"
)

// =============================================================================
// Моки
// =============================================================================

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) GetUnprocessed(ctx context.Context, limit int) ([]*Record, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Record), args.Error(1)
}

func (m *mockRepository) MarkProcessed(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockRepository) MarkFailed(ctx context.Context, id string, err error) error {
	return m.Called(ctx, id, err).Error(0)
}

func (m *mockRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) SendMessage(ctx context.Context, msg *kafka.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *mockPublisher) SendToDLQ(ctx context.Context, msg *kafka.Message, processingErr error) error {
	return m.Called(ctx, msg, processingErr).Error(0)
}

// =============================================================================
// Тесты
// =============================================================================

func TestNewRecord(t *testing.T) {
	rec, err := NewRecord("order", "ORD-1", "order.paid", kafka.TopicOrderEvents,
		map[string]string{"order_number": "ORD-1"},
		map[string]string{"trace_id": "t-1", "correlation_id": ""})

	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "ORD-1", rec.MessageKey)
	assert.JSONEq(t, `{"order_number":"ORD-1"}`, string(rec.Payload))
	assert.Equal(t, "order.paid", rec.Headers["event_type"])
	assert.Equal(t, "t-1", rec.Headers["trace_id"])
	_, hasEmpty := rec.Headers["correlation_id"]
	assert.False(t, hasEmpty, "пустые headers не сохраняются")
}

func TestWorker_Publish(t *testing.T) {
	ctx := context.Background()
	record := &Record{
		ID:         "outbox-1",
		Topic:      kafka.TopicOrderEvents,
		MessageKey: "ORD-1",
		Payload:    []byte(`{}`),
		Headers:    map[string]string{"trace_id": "trace-1"},
	}

	t.Run("успешная отправка", func(t *testing.T) {
		repo := new(mockRepository)
		pub := new(mockPublisher)
		pub.On("SendMessage", ctx, mock.MatchedBy(func(m *kafka.Message) bool {
			return string(m.Key) == "ORD-1" && m.Topic == kafka.TopicOrderEvents
		})).Return(nil)
		repo.On("MarkProcessed", ctx, "outbox-1").Return(nil)

		err := NewWorker(repo, pub, DefaultWorkerConfig()).Publish(ctx, record)

		require.NoError(t, err)
		repo.AssertExpectations(t)
		pub.AssertExpectations(t)
	})

	t.Run("ошибка Kafka увеличивает retry_count", func(t *testing.T) {
		repo := new(mockRepository)
		pub := new(mockPublisher)
		sendErr := errors.New("kafka unavailable")
		pub.On("SendMessage", ctx, mock.Anything).Return(sendErr)
		repo.On("MarkFailed", ctx, "outbox-1", sendErr).Return(nil)

		err := NewWorker(repo, pub, DefaultWorkerConfig()).Publish(ctx, record)

		assert.ErrorIs(t, err, sendErr)
		repo.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything)
	})
}

func TestWorker_ProcessBatch(t *testing.T) {
	ctx := context.Background()
	cfg := WorkerConfig{PollInterval: 10 * time.Millisecond, BatchSize: 10, MaxRetries: 3}

	t.Run("dead letter уходит в DLQ", func(t *testing.T) {
		repo := new(mockRepository)
		pub := new(mockPublisher)
		lastErr := "broker down"
		dead := &Record{ID: "outbox-dead", Topic: kafka.TopicOrderEvents, MessageKey: "ORD-9", RetryCount: 3, LastError: &lastErr}

		repo.On("GetUnprocessed", ctx, 10).Return([]*Record{dead}, nil)
		pub.On("SendToDLQ", ctx, mock.Anything, mock.MatchedBy(func(err error) bool {
			return err.Error() == "broker down"
		})).Return(nil)
		repo.On("MarkProcessed", ctx, "outbox-dead").Return(nil)

		NewWorker(repo, pub, cfg).processBatch(ctx)

		repo.AssertExpectations(t)
		pub.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
	})

	t.Run("пачка записей", func(t *testing.T) {
		repo := new(mockRepository)
		pub := new(mockPublisher)
		records := []*Record{
			{ID: "outbox-1", Topic: kafka.TopicOrderEvents, MessageKey: "ORD-1", Payload: []byte(`{}`)},
			{ID: "outbox-2", Topic: kafka.TopicOrderEvents, MessageKey: "ORD-2", Payload: []byte(`{}`)},
		}
		repo.On("GetUnprocessed", ctx, 10).Return(records, nil)
		pub.On("SendMessage", ctx, mock.Anything).Return(nil).Times(2)
		repo.On("MarkProcessed", ctx, "outbox-1").Return(nil)
		repo.On("MarkProcessed", ctx, "outbox-2").Return(nil)

		NewWorker(repo, pub, cfg).processBatch(ctx)

		repo.AssertExpectations(t)
		pub.AssertExpectations(t)
	})
}

func TestWorker_Run_ContextCancel(t *testing.T) {
	repo := new(mockRepository)
	pub := new(mockPublisher)
	repo.On("GetUnprocessed", mock.Anything, mock.Anything).Return([]*Record{}, nil).Maybe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewWorker(repo, pub, WorkerConfig{PollInterval: 5 * time.Millisecond, BatchSize: 1, MaxRetries: 1}).Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Worker не остановился после отмены контекста")
	}
}
