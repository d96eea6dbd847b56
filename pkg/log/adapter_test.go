package log

import (
	"context"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedAdapter() (*KratosAdapter, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return &KratosAdapter{zl: zap.New(core)}, logs
}

func TestAdapterExtractsMessage(t *testing.T) {
	adapter, logs := newObservedAdapter()

	err := adapter.Log(log.LevelInfo, log.DefaultMessageKey, "request handled", "status", 200)
	require.NoError(t, err)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "request handled", entries[0].Message)

	fields := entries[0].ContextMap()
	assert.NotContains(t, fields, log.DefaultMessageKey)
	assert.EqualValues(t, 200, fields["status"])
}

func TestAdapterLevels(t *testing.T) {
	adapter, logs := newObservedAdapter()

	_ = adapter.Log(log.LevelDebug, "msg", "d")
	_ = adapter.Log(log.LevelInfo, "msg", "i")
	_ = adapter.Log(log.LevelWarn, "msg", "w")
	_ = adapter.Log(log.LevelError, "msg", "e")
	_ = adapter.Log(log.LevelFatal, "msg", "f")

	entries := logs.All()
	require.Len(t, entries, 5)
	assert.Equal(t, zap.DebugLevel, entries[0].Level)
	assert.Equal(t, zap.InfoLevel, entries[1].Level)
	assert.Equal(t, zap.WarnLevel, entries[2].Level)
	assert.Equal(t, zap.ErrorLevel, entries[3].Level)
	// Fatal maps to Error so the adapter never exits the process.
	assert.Equal(t, zap.ErrorLevel, entries[4].Level)
}

func TestAdapterDanglingKey(t *testing.T) {
	adapter, logs := newObservedAdapter()

	_ = adapter.Log(log.LevelInfo, "msg", "text", "dangling")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "dangling", entries[0].ContextMap()["orphan"])
}

func TestAdapterNonStringKey(t *testing.T) {
	adapter, logs := newObservedAdapter()

	_ = adapter.Log(log.LevelInfo, 42, "value")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "value", entries[0].ContextMap()["42"])
}

func TestAdapterEmptyKeyvals(t *testing.T) {
	adapter, logs := newObservedAdapter()
	require.NoError(t, adapter.Log(log.LevelInfo))
	assert.Zero(t, logs.Len())
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))

	ctx = WithRequestID(ctx, "req-123")
	assert.Equal(t, "req-123", RequestID(ctx))
}

func TestNewRequestIDUnique(t *testing.T) {
	a := NewRequestID()
	b := NewRequestID()
	assert.Len(t, a, 16)
	assert.NotEqual(t, a, b)
}
