package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/tap-checkout/pkg/logger"
)

// MessageHandler обрабатывает сообщение. Context содержит trace_id и correlation_id из headers.
type MessageHandler func(ctx context.Context, msg *Message) error

// DeadLetterSender отправляет необработанные сообщения в DLQ.
type DeadLetterSender interface {
	SendToDLQ(ctx context.Context, original *Message, processingErr error) error
}

// messageReader — часть kafka.Reader, которой пользуется Consumer.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer читает сообщения топика в consumer group.
type Consumer struct {
	reader     messageReader
	dlq        DeadLetterSender
	topic      string
	maxRetries int
}

// NewConsumer создаёт Consumer для топика.
func NewConsumer(cfg Config, topic string) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("не указаны брокеры Kafka")
	}
	if topic == "" {
		return nil, fmt.Errorf("не указан топик")
	}
	if cfg.ConsumerGroup == "" {
		return nil, fmt.Errorf("не указан group ID")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        250 * time.Millisecond,
		CommitInterval: 0, // коммит вручную после обработки
		StartOffset:    kafka.FirstOffset,
	})

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", topic).
		Str("group_id", cfg.ConsumerGroup).
		Msg("Создан Kafka Consumer")

	return &Consumer{reader: reader, topic: topic, maxRetries: 3}, nil
}

// SetDLQ подключает отправку необработанных сообщений в DLQ.
func (c *Consumer) SetDLQ(dlq DeadLetterSender) {
	c.dlq = dlq
}

// Consume читает сообщения до отмены context.
// Обработчик повторяется с экспоненциальной задержкой, после исчерпания
// попыток сообщение уходит в DLQ. Offset коммитится в любом случае.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	logger.Info().Str("topic", c.topic).Msg("Запуск чтения сообщений из Kafka")

	for {
		raw, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				logger.Info().Str("topic", c.topic).Msg("Остановка Consumer")
				return nil
			}
			logger.Error().Err(err).Str("topic", c.topic).Msg("Ошибка чтения сообщения из Kafka")
			continue
		}

		msg := fromKafkaMessage(raw)
		msgCtx := contextFromMessage(ctx, msg)

		if err := c.handleWithRetry(msgCtx, msg, handler); err != nil {
			logger.Ctx(msgCtx).Error().
				Err(err).
				Str("topic", msg.Topic).
				Str("key", string(msg.Key)).
				Int64("offset", msg.Offset).
				Msg("Ошибка обработки сообщения")

			if c.dlq != nil {
				if dlqErr := c.dlq.SendToDLQ(msgCtx, msg, err); dlqErr != nil {
					logger.Error().Err(dlqErr).Msg("Ошибка отправки в DLQ")
				}
			}
		}

		if err := c.reader.CommitMessages(ctx, raw); err != nil {
			logger.Error().Err(err).Msg("Ошибка коммита offset")
		}
	}
}

// handleWithRetry вызывает обработчик с задержками 100ms, 200ms, 400ms...
func (c *Consumer) handleWithRetry(ctx context.Context, msg *Message, handler MessageHandler) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(100*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if lastErr = handler(ctx, msg); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("исчерпаны попытки обработки: %w", lastErr)
}

// Close закрывает Consumer.
func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия consumer: %w", err)
	}
	logger.Info().Str("topic", c.topic).Msg("Kafka Consumer закрыт")
	return nil
}
