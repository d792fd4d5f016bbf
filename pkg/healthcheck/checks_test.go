package healthcheck

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	require.NoError(t, Redis(rdb)(context.Background()))

	mr.Close()
	assert.Error(t, Redis(rdb)(context.Background()))
}

func TestComposite(t *testing.T) {
	boom := errors.New("недоступно")
	calls := 0
	ok := func(context.Context) error { calls++; return nil }
	fail := func(context.Context) error { calls++; return boom }

	t.Run("все проверки успешны", func(t *testing.T) {
		calls = 0
		assert.NoError(t, Composite(ok, ok)(context.Background()))
		assert.Equal(t, 2, calls)
	})

	t.Run("останавливается на первой ошибке", func(t *testing.T) {
		calls = 0
		err := Composite(ok, fail, ok)(context.Background())
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 2, calls)
	})
}
