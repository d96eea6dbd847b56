// Package middleware holds the HTTP middleware and filters of the
// protection gateway.
package middleware

import (
	"context"
	"net"
	stdhttp "net/http"
	"strings"
	"time"

	pkglog "Bastion/pkg/log"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// slowRequestThreshold marks requests worth a dedicated warning.
const slowRequestThreshold = 5 * time.Second

// Logging returns a middleware that logs one line per request with
// method, path, status, duration and the correlation request ID.
func Logging(logger log.Logger) middleware.Middleware {
	helper := log.NewHelper(logger)
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			start := time.Now()

			var method, path, ip string
			if tr, ok := transport.FromServerContext(ctx); ok {
				method = tr.Operation()
				path = tr.Operation()
				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()
					method = httpReq.Method
					path = httpReq.URL.Path
					ip = ClientIP(httpReq)
				}
			}

			requestID := pkglog.RequestID(ctx)
			if requestID == "" {
				requestID = pkglog.NewRequestID()
				ctx = pkglog.WithRequestID(ctx, requestID)
			}

			reply, err := handler(ctx, req)

			duration := time.Since(start)
			status := 200
			if err != nil {
				status = int(kerrors.FromError(err).Code)
			}

			helper.WithContext(ctx).Infow(
				"msg", "request handled",
				"request_id", requestID,
				"method", method,
				"path", path,
				"status", status,
				"duration_ms", duration.Milliseconds(),
				"ip", ip,
			)
			if duration > slowRequestThreshold {
				helper.WithContext(ctx).Warnw(
					"msg", "slow request",
					"request_id", requestID,
					"path", path,
					"duration_ms", duration.Milliseconds(),
				)
			}

			return reply, err
		}
	}
}

// ClientIP extracts the client address, preferring proxy headers.
// Priority: X-Real-IP > first X-Forwarded-For entry > RemoteAddr.
func ClientIP(req *stdhttp.Request) string {
	if ip := req.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
