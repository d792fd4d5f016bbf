package service

import (
	"context"
	"strings"

	"example.com/tap-checkout/pkg/logger"
	"example.com/tap-checkout/pkg/metrics"
	"example.com/tap-checkout/services/checkout/internal/domain"
	"example.com/tap-checkout/services/checkout/internal/tap"
)

const gatewayName = "tap"

// HandleWebhook проверяет подпись, отбрасывает повторы по ключу
// <charge id>:<status> и запускает capture или синхронизацию.
func (s *orderService) HandleWebhook(ctx context.Context, body []byte, hashstring string) (*PaymentResult, error) {
	log := logger.FromContext(ctx)

	ch, err := tap.ParseWebhook(body)
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues(gatewayName, "rejected").Inc()
		return nil, err
	}
	if s.cfg.VerifyWebhook && !s.Gateway.VerifyWebhook(ch, hashstring) {
		metrics.WebhooksTotal.WithLabelValues(gatewayName, "rejected").Inc()
		log.Warn().Str("charge_id", ch.ID).Msg("Уведомление Tap с неверной подписью")
		return nil, domain.ErrInvalidSignature
	}

	status := strings.ToUpper(ch.Status)
	key := ch.ID + ":" + status
	log = log.With().Str("charge_id", ch.ID).Str("gateway_status", status).Logger()

	seen, err := s.Webhooks.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if seen {
		metrics.WebhooksTotal.WithLabelValues(gatewayName, "duplicate").Inc()
		return nil, domain.ErrDuplicateWebhook
	}

	first, err := s.Deduper.FirstSeen(ctx, key)
	if err != nil {
		// Redis недоступен: полагаемся на журнал в БД и идемпотентность операций
		log.Warn().Err(err).Msg("Не удалось проверить повтор уведомления в Redis")
		first = true
	}
	if !first {
		metrics.WebhooksTotal.WithLabelValues(gatewayName, "duplicate").Inc()
		return nil, domain.ErrDuplicateWebhook
	}

	var result *PaymentResult
	if status == "AUTHORIZED" {
		result, err = s.CaptureOrderPayment(ctx, ch.ID)
	} else {
		result, err = s.SyncPaymentStatus(ctx, ch.ID)
	}
	if err != nil {
		if forgetErr := s.Deduper.Forget(ctx, key); forgetErr != nil {
			log.Warn().Err(forgetErr).Msg("Не удалось сбросить ключ уведомления")
		}
		metrics.WebhooksTotal.WithLabelValues(gatewayName, "failed").Inc()
		log.Error().Err(err).Msg("Ошибка обработки уведомления Tap")
		return nil, err
	}

	if _, err := s.Webhooks.Record(ctx, key, ch.ID, status); err != nil {
		log.Warn().Err(err).Msg("Не удалось записать уведомление в журнал")
	}

	metrics.WebhooksTotal.WithLabelValues(gatewayName, "processed").Inc()
	log.Info().Msg("Уведомление Tap обработано")
	return result, nil
}
