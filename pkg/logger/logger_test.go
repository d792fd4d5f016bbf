package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext_AddsIDs(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Output: &buf, Service: "checkout"})
	t.Cleanup(func() { Init(Config{Level: "info"}) })

	ctx := NewContextWithIDs(context.Background(), "trace-1", "ORD-42")
	Ctx(ctx).Info().Msg("Заказ создан")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "trace-1", entry["trace_id"])
	assert.Equal(t, "ORD-42", entry["correlation_id"])
	assert.Equal(t, "checkout", entry["service"])
	assert.Equal(t, "Заказ создан", entry["message"])
}

func TestFromContext_WithoutIDs(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, TraceIDFromContext(ctx))
	assert.Empty(t, CorrelationIDFromContext(ctx))
	assert.NotNil(t, Ctx(ctx))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"WARNING": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"мусор":   zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}

	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}
