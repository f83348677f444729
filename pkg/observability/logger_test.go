package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("action", "payroll.lock_period").Info("dispatch complete")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "dispatch complete", entry["msg"])
	assert.Equal(t, "payroll.lock_period", entry["action"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WarnLevel, &buf)

	logger.Debug("should be filtered")
	logger.Info("should be filtered")
	assert.Zero(t, buf.Len())

	logger.Warn("should appear")
	assert.NotZero(t, buf.Len())
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), logger)
	ctx = WithRequestID(ctx, "req-123")
	ctx = WithPrincipalID(ctx, "user-9")

	FromContext(ctx).Info("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "user-9", entry["principal_id"])
}

func TestGetPrincipalIDMissing(t *testing.T) {
	assert.Empty(t, GetPrincipalID(context.Background()))
	assert.Empty(t, GetRequestID(context.Background()))
}
