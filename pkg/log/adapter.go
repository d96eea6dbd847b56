package log

import (
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// KratosAdapter exposes a zap logger through the kratos log.Logger
// interface so framework internals and application code share one sink.
type KratosAdapter struct {
	zl *zap.Logger
}

var _ log.Logger = (*KratosAdapter)(nil)

// NewKratosAdapter wraps zl. CallerSkip accounts for the kratos helper
// frames so caller locations point at application code.
func NewKratosAdapter(zl *zap.Logger) *KratosAdapter {
	return &KratosAdapter{zl: zl.WithOptions(zap.AddCallerSkip(2))}
}

// Log implements log.Logger. keyvals is the usual alternating
// key/value list; a dangling key is logged as-is rather than dropped.
func (a *KratosAdapter) Log(level log.Level, keyvals ...interface{}) error {
	if len(keyvals) == 0 {
		return nil
	}
	fields := make([]zap.Field, 0, len(keyvals)/2+1)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		fields = append(fields, zap.Any(key, keyvals[i+1]))
	}
	if len(keyvals)%2 == 1 {
		fields = append(fields, zap.Any("orphan", keyvals[len(keyvals)-1]))
	}

	msg := ""
	if len(fields) > 0 && fields[0].Key == log.DefaultMessageKey {
		if fields[0].Type == zapcore.StringType {
			msg = fields[0].String
			fields = fields[1:]
		}
	}

	switch level {
	case log.LevelDebug:
		a.zl.Debug(msg, fields...)
	case log.LevelWarn:
		a.zl.Warn(msg, fields...)
	case log.LevelError, log.LevelFatal:
		a.zl.Error(msg, fields...)
	default:
		a.zl.Info(msg, fields...)
	}
	return nil
}
