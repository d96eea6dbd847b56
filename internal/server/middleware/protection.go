package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"strconv"
	"strings"
	"time"

	"Bastion/internal/biz"
	"Bastion/internal/model"
	pkgerrors "Bastion/pkg/errors"
	pkglog "Bastion/pkg/log"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// userIDHeader carries the authenticated user identity set by the edge.
// Requests without it are limited by IP scope only.
const userIDHeader = "X-User-ID"

// protectedPrefix selects the paths the admission chain guards. Admin
// and health endpoints stay reachable while the gateway sheds load.
const protectedPrefix = "/v1/"

// Protection returns the HTTP filter implementing the admission chain:
// structural validation, backpressure verdict, optional queue wait, then
// rate limiting. Only requests that clear every stage reach the handler.
//
// The filter runs before routing so denials never allocate handler-side
// resources and the raw body is inspected exactly once.
func Protection(
	validator *biz.RequestValidator,
	backpressure *biz.BackpressureManager,
	queue *biz.RequestQueue,
	limiter *biz.RateLimiterUseCase,
	logger log.Logger,
) http.FilterFunc {
	helper := log.NewHelper(logger)

	return func(next stdhttp.Handler) stdhttp.Handler {
		return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
			if !strings.HasPrefix(r.URL.Path, protectedPrefix) {
				next.ServeHTTP(w, r)
				return
			}

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = pkglog.NewRequestID()
			}
			ctx := pkglog.WithRequestID(r.Context(), requestID)
			r = r.WithContext(ctx)
			w.Header().Set("X-Request-ID", requestID)

			ip := ClientIP(r)
			userID := r.Header.Get(userIDHeader)

			// Stage 1: structural validation. The read is capped one byte
			// past the limit so oversized chunked bodies fail the length
			// check instead of being buffered whole.
			body, err := readBody(r, validator.MaxContentLength()+1)
			if err != nil {
				writeError(w, pkgerrors.ValidationError(biz.ReasonMalformedBody, "body"))
				return
			}
			meta := &biz.RequestMeta{
				IP:            ip,
				UserID:        userID,
				Endpoint:      r.URL.Path,
				ContentType:   r.Header.Get("Content-Type"),
				ContentLength: int64(len(body)),
				Body:          body,
			}
			if r.ContentLength > meta.ContentLength {
				meta.ContentLength = r.ContentLength
			}
			if result := validator.Validate(meta); !result.Passed {
				helper.WithContext(ctx).Infow(
					"msg", "request rejected by validator",
					"request_id", requestID,
					"ip", ip,
					"reason", result.ReasonCode,
					"field", result.OffendingField,
				)
				writeError(w, pkgerrors.ValidationError(result.ReasonCode, result.OffendingField))
				return
			}

			// Stage 2: backpressure verdict.
			switch backpressure.Decide(backpressure.Sample()) {
			case model.DecisionReject:
				helper.WithContext(ctx).Warnw("msg", "request shed", "request_id", requestID, "ip", ip)
				writeError(w, pkgerrors.Overloaded())
				return
			case model.DecisionQueue:
				// Stage 3: wait for the drainer or give up at the deadline.
				entry, qerr := queue.Enqueue(requestID)
				if qerr != nil {
					writeError(w, qerr)
					return
				}
				select {
				case <-entry.Ready():
				case <-time.After(time.Until(entry.Deadline)):
					writeError(w, pkgerrors.QueueExpired())
					return
				case <-ctx.Done():
					// Client gave up; the drainer will discard the entry.
					return
				}
			}

			// Stage 4: rate limiting. The store round trip is timed and
			// fed back into the load score.
			start := time.Now()
			decision := limiter.CheckAndRecord(ctx, ip, userID, r.URL.Path)
			backpressure.ObserveStoreLatency(time.Since(start))

			if !decision.Allowed {
				retry := int64((decision.RetryAfter + time.Second - 1) / time.Second)
				if decision.Reason == pkgerrors.ReasonBlocked {
					writeError(w, pkgerrors.Blocked(retry))
				} else {
					writeError(w, pkgerrors.RateLimited(string(decision.Scope), retry))
				}
				return
			}

			backpressure.StartRequest()
			defer backpressure.FinishRequest()

			next.ServeHTTP(w, r)
		})
	}
}

// readBody consumes and restores the request body so later stages and
// the handler can bind it again.
func readBody(r *stdhttp.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit))
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// errorBody mirrors the kratos error JSON shape so filter denials look
// identical to handler errors.
type errorBody struct {
	Code     int32             `json:"code"`
	Reason   string            `json:"reason"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// writeError renders err as JSON and sets Retry-After when the error
// carries a retry hint.
func writeError(w stdhttp.ResponseWriter, err error) {
	ke := kerrors.FromError(err)
	if retry := pkgerrors.RetryAfterSeconds(ke); retry > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(int(ke.Code))
	_ = json.NewEncoder(w).Encode(errorBody{
		Code:     ke.Code,
		Reason:   ke.Reason,
		Message:  ke.Message,
		Metadata: ke.Metadata,
	})
}
