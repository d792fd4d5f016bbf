// ChargeLocker и WebhookDeduper на Redis.

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"example.com/tap-checkout/services/checkout/internal/domain"
)

const (
	chargeLockPrefix   = "checkout:lock:"
	orderLockPrefix    = "order:"
	webhookDedupPrefix = "checkout:webhook:"

	lockRetryInterval = 50 * time.Millisecond
)

// ChargeLocker сериализует операции над одним charge или заказом между репликами.
type ChargeLocker interface {
	// Lock ждёт блокировку не дольше ttl. Вернувшаяся функция снимает её.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// WebhookDeduper — быстрый фильтр повторных уведомлений.
type WebhookDeduper interface {
	// FirstSeen возвращает true, если ключ встретился впервые.
	FirstSeen(ctx context.Context, key string) (bool, error)
	// Forget удаляет ключ, чтобы повтор уведомления обработался заново.
	Forget(ctx context.Context, key string) error
}

// =============================================================================
// Redis
// =============================================================================

type redisLocker struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewChargeLocker создаёт блокировку на SET NX PX.
func NewChargeLocker(rdb redis.UniversalClient, ttl time.Duration) ChargeLocker {
	return &redisLocker{rdb: rdb, ttl: ttl}
}

// unlockScript удаляет ключ, только если он всё ещё принадлежит владельцу.
var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

func (l *redisLocker) Lock(ctx context.Context, key string) (func(), error) {
	key = chargeLockPrefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(l.ttl)

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("ошибка блокировки %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, domain.ErrChargeBusy
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}

	return func() {
		// контекст запроса может быть уже отменён
		_ = unlockScript.Run(context.WithoutCancel(ctx), l.rdb, []string{key}, token).Err()
	}, nil
}

type redisDeduper struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewWebhookDeduper создаёт фильтр на SETNX с TTL.
func NewWebhookDeduper(rdb redis.UniversalClient, ttl time.Duration) WebhookDeduper {
	return &redisDeduper{rdb: rdb, ttl: ttl}
}

func (d *redisDeduper) FirstSeen(ctx context.Context, key string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, webhookDedupPrefix+key, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("ошибка проверки уведомления: %w", err)
	}
	return ok, nil
}

func (d *redisDeduper) Forget(ctx context.Context, key string) error {
	err := d.rdb.Del(ctx, webhookDedupPrefix+key).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("ошибка сброса уведомления: %w", err)
	}
	return nil
}
