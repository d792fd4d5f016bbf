package outbox

import (
	"context"
	"fmt"
	"time"

	"example.com/tap-checkout/pkg/kafka"
	"example.com/tap-checkout/pkg/logger"
)

// Publisher — отправка сообщений в Kafka.
type Publisher interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
	SendToDLQ(ctx context.Context, original *kafka.Message, processingErr error) error
}

// WorkerConfig — настройки Worker.
type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxRetries — после стольких неудачных попыток запись уходит в DLQ.
	MaxRetries int
	Retention  time.Duration
}

// DefaultWorkerConfig возвращает конфигурацию по умолчанию.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval: time.Second,
		BatchSize:    100,
		MaxRetries:   5,
		Retention:    7 * 24 * time.Hour,
	}
}

// Worker доставляет записи outbox в Kafka (at-least-once).
type Worker struct {
	repo      Repository
	publisher Publisher
	cfg       WorkerConfig
}

// NewWorker создаёт Worker.
func NewWorker(repo Repository, publisher Publisher, cfg WorkerConfig) *Worker {
	return &Worker{repo: repo, publisher: publisher, cfg: cfg}
}

const cleanupInterval = time.Hour

// Run блокирует выполнение до отмены контекста.
func (w *Worker) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("Запуск Outbox Worker")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка Outbox Worker")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		case <-cleanupTicker.C:
			w.cleanup(ctx)
		}
	}
}

func (w *Worker) cleanup(ctx context.Context) {
	deleted, err := w.repo.DeleteProcessedBefore(ctx, time.Now().Add(-w.cfg.Retention))
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Ошибка очистки outbox")
		return
	}
	if deleted > 0 {
		logger.Ctx(ctx).Info().Int64("deleted", deleted).Msg("Очистка обработанных записей outbox")
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	log := logger.FromContext(ctx)

	records, err := w.repo.GetUnprocessed(ctx, w.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка чтения outbox")
		return
	}

	for _, record := range records {
		if ctx.Err() != nil {
			return
		}

		if record.RetryCount >= w.cfg.MaxRetries {
			w.deadLetter(ctx, record)
			continue
		}

		if err := w.Publish(ctx, record); err != nil {
			log.Warn().
				Err(err).
				Str("outbox_id", record.ID).
				Str("event_type", record.EventType).
				Msg("Не удалось отправить событие, повтор на следующем цикле")
		}
	}
}

// deadLetter перекладывает запись в DLQ и выводит её из очереди.
func (w *Worker) deadLetter(ctx context.Context, record *Record) {
	log := logger.FromContext(ctx)

	lastErr := "превышен лимит попыток"
	if record.LastError != nil {
		lastErr = *record.LastError
	}

	if err := w.publisher.SendToDLQ(ctx, toMessage(record), fmt.Errorf("%s", lastErr)); err != nil {
		log.Error().Err(err).Str("outbox_id", record.ID).Msg("Ошибка отправки outbox в DLQ")
		return
	}

	log.Warn().
		Str("outbox_id", record.ID).
		Str("event_type", record.EventType).
		Str("aggregate_id", record.AggregateID).
		Int("retry_count", record.RetryCount).
		Msg("Dead letter: запись отправлена в DLQ")

	if err := w.repo.MarkProcessed(ctx, record.ID); err != nil {
		log.Error().Err(err).Str("outbox_id", record.ID).Msg("Ошибка пометки dead letter")
	}
}

// Publish отправляет одну запись и отмечает результат в таблице.
func (w *Worker) Publish(ctx context.Context, record *Record) error {
	if err := w.publisher.SendMessage(ctx, toMessage(record)); err != nil {
		_ = w.repo.MarkFailed(ctx, record.ID, err)
		return err
	}
	return w.repo.MarkProcessed(ctx, record.ID)
}

func toMessage(record *Record) *kafka.Message {
	return &kafka.Message{
		Topic:   record.Topic,
		Key:     []byte(record.MessageKey),
		Value:   record.Payload,
		Headers: record.Headers,
	}
}
