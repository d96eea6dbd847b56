package errors

import (
	"fmt"
	"testing"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/stretchr/testify/assert"
)

func TestProtectionErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      *kerrors.Error
		wantCode int32
		matcher  func(error) bool
		retry    int64
	}{
		{"validation", ValidationError("NESTING_TOO_DEEP", "body"), 400, nil, 0},
		{"rate limited", RateLimited("ip", 42), 429, IsRateLimited, 42},
		{"blocked", Blocked(3600), 429, IsBlocked, 3600},
		{"queue full", QueueFull(), 503, IsQueueFull, 0},
		{"queue expired", QueueExpired(), 503, IsQueueExpired, 0},
		{"overloaded", Overloaded(), 503, IsOverloaded, 0},
		{"circuit open", CircuitOpen("engine", 17), 503, IsCircuitOpen, 17},
		{"store unavailable", StoreUnavailable(fmt.Errorf("conn refused")), 500, IsStoreUnavailable, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, tt.err.Code)
			if tt.matcher != nil {
				assert.True(t, tt.matcher(tt.err))
			}
			assert.Equal(t, tt.retry, RetryAfterSeconds(tt.err))
		})
	}
}

func TestMatchersRejectOtherReasons(t *testing.T) {
	assert.False(t, IsRateLimited(Blocked(1)))
	assert.False(t, IsBlocked(RateLimited("ip", 1)))
	assert.False(t, IsCircuitOpen(QueueFull()))
	assert.False(t, IsRateLimited(fmt.Errorf("plain error")))
}

func TestValidationErrorMetadata(t *testing.T) {
	err := ValidationError("EMBEDDED_NULL", "body")
	assert.Equal(t, "EMBEDDED_NULL", err.Metadata["check"])
	assert.Equal(t, "body", err.Metadata["field"])
}

func TestRetryAfterSeconds_NoHint(t *testing.T) {
	assert.Equal(t, int64(0), RetryAfterSeconds(QueueFull()))
	assert.Equal(t, int64(0), RetryAfterSeconds(fmt.Errorf("plain")))
	assert.Equal(t, int64(0), RetryAfterSeconds(nil))
}

func TestStoreUnavailableWrapsCause(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := StoreUnavailable(cause)
	assert.True(t, IsStoreUnavailable(err))
	assert.ErrorIs(t, err, cause)
}
