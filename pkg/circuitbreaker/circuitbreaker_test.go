package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errUpstream = errors.New("upstream 503")
	errBusiness = errors.New("карта отклонена")
)

func testSettings() Settings {
	return Settings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  2,
		IsFailure: func(err error) bool {
			return errors.Is(err, errUpstream)
		},
	}
}

func TestBreaker_OpensOnInfrastructureFailures(t *testing.T) {
	b := NewWithSettings("tap-test", testSettings())

	for i := 0; i < 2; i++ {
		err := b.Execute(func() error { return errUpstream })
		require.ErrorIs(t, err, errUpstream)
	}

	assert.Equal(t, gobreaker.StateOpen, b.State())

	called := false
	err := b.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called, "при открытом breaker функция не вызывается")
}

func TestBreaker_BusinessErrorsDoNotTrip(t *testing.T) {
	b := NewWithSettings("tap-test", testSettings())

	for i := 0; i < 5; i++ {
		err := b.Execute(func() error { return errBusiness })
		assert.ErrorIs(t, err, errBusiness)
	}

	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Equal(t, "tap-test", b.Name())
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()

	assert.Equal(t, uint32(1), s.MaxRequests)
	assert.Equal(t, 30*time.Second, s.Timeout)
	assert.Equal(t, 0.5, s.FailureRatio)
	assert.Nil(t, s.IsFailure)
}
