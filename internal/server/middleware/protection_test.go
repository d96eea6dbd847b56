package middleware

import (
	"context"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"Bastion/internal/biz"
	"Bastion/internal/conf"
	"Bastion/internal/data"
	pkgerrors "Bastion/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

// filterConf uses an hour-long IP window so a burst of test requests
// never straddles a window boundary.
func filterConf() *conf.Protection {
	return &conf.Protection{
		RateLimit: &conf.Protection_RateLimit{
			IP:                 &conf.Protection_Quota{Limit: 3, Window: durationpb.New(time.Hour)},
			User:               &conf.Protection_Quota{Limit: 100, Window: durationpb.New(time.Hour)},
			Endpoint:           map[string]*conf.Protection_Quota{},
			ViolationThreshold: 2,
			ViolationWindow:    durationpb.New(5 * time.Minute),
			BlockDuration:      durationpb.New(time.Hour),
		},
		Breaker: &conf.Protection_Breaker{
			FailureThreshold: 3,
			CoolDown:         durationpb.New(30 * time.Second),
			CallTimeout:      durationpb.New(time.Second),
		},
		Queue: &conf.Protection_Queue{
			Capacity:  4,
			MaxWait:   durationpb.New(60 * time.Millisecond),
			DrainRate: 1000,
		},
		Backpressure: &conf.Protection_Backpressure{
			EnterThreshold:     0.8,
			ExitThreshold:      0.5,
			MaxInFlight:        10,
			StoreLatencyBudget: durationpb.New(100 * time.Millisecond),
		},
		Validation: &conf.Protection_Validation{
			MaxContentLength:    512,
			AllowedContentTypes: map[string][]string{"*": {"application/json"}},
			MaxJSONDepth:        4,
			MaxJSONElements:     20,
		},
	}
}

type filterFixture struct {
	handler      stdhttp.Handler
	queue        *biz.RequestQueue
	backpressure *biz.BackpressureManager
	nextCalls    int
	lastBody     []byte
}

func newFilterFixture(t *testing.T) *filterFixture {
	t.Helper()
	p := filterConf()
	logger := log.DefaultLogger

	validator := biz.NewRequestValidator(p, logger)
	queue := biz.NewRequestQueue(p, logger)
	breaker := biz.NewCircuitBreakerUseCase(nil, p, nil, logger)
	backpressure := biz.NewBackpressureManager(p, queue, breaker, logger)

	// No redis configured: the limiter runs entirely on the in-process
	// fallback, which is also the production degraded mode.
	store := data.NewRedisCounterStore(&conf.Data{Redis: &conf.Data_Redis{}}, nil, logger)
	fallback := data.NewMemoryStore(logger)
	limiter := biz.NewRateLimiterUseCase(store, fallback, p, nil, logger)

	f := &filterFixture{queue: queue, backpressure: backpressure}
	next := stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		f.nextCalls++
		if r.Body != nil {
			f.lastBody, _ = io.ReadAll(r.Body)
		}
		w.WriteHeader(stdhttp.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	f.handler = Protection(validator, backpressure, queue, limiter, logger)(next)
	return f
}

func (f *filterFixture) do(method, path, ip, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-Real-IP", ip)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeDenial(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestProtectionFilter_UnprotectedPathBypassesChain(t *testing.T) {
	f := newFilterFixture(t)

	rec := f.do(stdhttp.MethodGet, "/healthz", "10.0.0.1", "")
	assert.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Equal(t, 1, f.nextCalls)
	assert.Empty(t, rec.Header().Get("X-Request-ID"))
}

func TestProtectionFilter_AllowsAndRestoresBody(t *testing.T) {
	f := newFilterFixture(t)

	rec := f.do(stdhttp.MethodPost, "/v1/simulations", "10.0.0.2", `{"scenario":"flood-basin"}`)
	assert.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Equal(t, 1, f.nextCalls)
	assert.Equal(t, `{"scenario":"flood-basin"}`, string(f.lastBody))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestProtectionFilter_PropagatesCallerRequestID(t *testing.T) {
	f := newFilterFixture(t)

	req := httptest.NewRequest(stdhttp.MethodPost, "/v1/simulations", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Real-IP", "10.0.0.3")
	req.Header.Set("X-Request-ID", "caller-supplied")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, "caller-supplied", rec.Header().Get("X-Request-ID"))
}

func TestProtectionFilter_ValidationDenials(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantCheck   string
	}{
		{"unsupported content type", "text/plain", "hello", biz.ReasonUnsupportedContentType},
		{"malformed json", "application/json", `{"broken":`, biz.ReasonMalformedBody},
		{"nesting too deep", "application/json", `[[[[[1]]]]]`, biz.ReasonNestingTooDeep},
		{"oversized body", "application/json", `{"pad":"` + strings.Repeat("x", 600) + `"}`, biz.ReasonContentTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFilterFixture(t)

			req := httptest.NewRequest(stdhttp.MethodPost, "/v1/simulations", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			req.Header.Set("X-Real-IP", "10.0.0.4")
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, req)

			assert.Equal(t, stdhttp.StatusBadRequest, rec.Code)
			assert.Equal(t, 0, f.nextCalls)
			body := decodeDenial(t, rec)
			assert.Equal(t, pkgerrors.ReasonValidationFailed, body.Reason)
			assert.Equal(t, tt.wantCheck, body.Metadata["check"])
		})
	}
}

func TestProtectionFilter_RateLimitDenial(t *testing.T) {
	f := newFilterFixture(t)

	for i := 0; i < 3; i++ {
		rec := f.do(stdhttp.MethodPost, "/v1/simulations", "10.0.1.1", `{}`)
		require.Equal(t, stdhttp.StatusOK, rec.Code)
	}

	rec := f.do(stdhttp.MethodPost, "/v1/simulations", "10.0.1.1", `{}`)
	assert.Equal(t, stdhttp.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	body := decodeDenial(t, rec)
	assert.Equal(t, pkgerrors.ReasonRateLimited, body.Reason)
	assert.Equal(t, "ip", body.Metadata["scope"])

	// A different caller is unaffected.
	rec = f.do(stdhttp.MethodPost, "/v1/simulations", "10.0.1.2", `{}`)
	assert.Equal(t, stdhttp.StatusOK, rec.Code)
}

func TestProtectionFilter_RepeatedViolationsEscalateToBlock(t *testing.T) {
	f := newFilterFixture(t)

	// Three allowed, then two violations crossing the threshold.
	for i := 0; i < 5; i++ {
		f.do(stdhttp.MethodPost, "/v1/simulations", "10.0.2.1", `{}`)
	}

	rec := f.do(stdhttp.MethodPost, "/v1/simulations", "10.0.2.1", `{}`)
	assert.Equal(t, stdhttp.StatusTooManyRequests, rec.Code)
	body := decodeDenial(t, rec)
	assert.Equal(t, pkgerrors.ReasonBlocked, body.Reason)

	retry, err := time.ParseDuration(rec.Header().Get("Retry-After") + "s")
	require.NoError(t, err)
	assert.Greater(t, retry, 59*time.Minute)
}

func TestProtectionFilter_ShedsWhenOverloaded(t *testing.T) {
	f := newFilterFixture(t)

	// 16 in-flight against a cap of 10 pushes the load score to the
	// enter threshold.
	for i := 0; i < 16; i++ {
		f.backpressure.StartRequest()
	}
	defer func() {
		for i := 0; i < 16; i++ {
			f.backpressure.FinishRequest()
		}
	}()

	rec := f.do(stdhttp.MethodPost, "/v1/simulations", "10.0.3.1", `{}`)
	assert.Equal(t, stdhttp.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 0, f.nextCalls)
	assert.Equal(t, pkgerrors.ReasonOverloaded, decodeDenial(t, rec).Reason)
}

func TestProtectionFilter_QueuedRequestExpiresWithoutDrainer(t *testing.T) {
	f := newFilterFixture(t)

	// Enter shedding, then settle between the exit and enter thresholds
	// so the hysteresis band queues instead of rejecting.
	for i := 0; i < 16; i++ {
		f.backpressure.StartRequest()
	}
	f.backpressure.Decide(f.backpressure.Sample())
	for i := 0; i < 3; i++ {
		f.backpressure.FinishRequest()
	}
	defer func() {
		for i := 0; i < 13; i++ {
			f.backpressure.FinishRequest()
		}
	}()

	start := time.Now()
	rec := f.do(stdhttp.MethodPost, "/v1/simulations", "10.0.4.1", `{}`)
	assert.Equal(t, stdhttp.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, pkgerrors.ReasonQueueExpired, decodeDenial(t, rec).Reason)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestProtectionFilter_QueuedRequestProceedsWhenDrained(t *testing.T) {
	f := newFilterFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.queue.StartDrainer(ctx)

	for i := 0; i < 16; i++ {
		f.backpressure.StartRequest()
	}
	f.backpressure.Decide(f.backpressure.Sample())
	for i := 0; i < 3; i++ {
		f.backpressure.FinishRequest()
	}
	defer func() {
		for i := 0; i < 13; i++ {
			f.backpressure.FinishRequest()
		}
	}()

	rec := f.do(stdhttp.MethodPost, "/v1/simulations", "10.0.5.1", `{}`)
	assert.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Equal(t, 1, f.nextCalls)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		realIP     string
		forwarded  string
		remoteAddr string
		want       string
	}{
		{"x-real-ip wins", "1.2.3.4", "5.6.7.8", "9.9.9.9:1234", "1.2.3.4"},
		{"first forwarded hop", "", "5.6.7.8, 10.0.0.1", "9.9.9.9:1234", "5.6.7.8"},
		{"remote addr fallback", "", "", "9.9.9.9:1234", "9.9.9.9"},
		{"remote addr without port", "", "", "9.9.9.9", "9.9.9.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(stdhttp.MethodGet, "/v1/simulations", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}
