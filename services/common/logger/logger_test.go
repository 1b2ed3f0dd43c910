package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Environments(t *testing.T) {
	for _, env := range []string{"production", "development", ""} {
		l, err := New(env)
		require.NoError(t, err, env)
		assert.NotNil(t, l)
	}
}

func TestFor_TagsRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := WithRequestID(context.Background(), "req-42")
	For(ctx, base).Info("cart created")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "req-42", logs.All()[0].ContextMap()[RequestIDKey])
}

func TestRequestID_Unknown(t *testing.T) {
	assert.Equal(t, "unknown", RequestID(context.Background()))
}

func TestTee_CopiesInfoAndAbove(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	var buf bytes.Buffer

	l := Tee(zap.New(core), &buf)
	l.Debug("debug only")
	l.Info("cart created", zap.Int64("cart_id", 7))

	assert.Equal(t, 2, logs.Len())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "cart created", entry["msg"])
	assert.Equal(t, float64(7), entry["cart_id"])
	assert.Contains(t, entry, "timestamp")
}
