package http

import (
	"context"
	"errors"
	"fmt"
	"go-exchange-rate-gateway/cache"
	"go-exchange-rate-gateway/domain"
	"go-exchange-rate-gateway/exchange"
	"go-exchange-rate-gateway/ratelimit"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log/level"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-Id"

// requestID tags every response with the caller's request id, or a new one.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		rw.Header().Set(requestIDHeader, id)
		next.ServeHTTP(rw, r)
	})
}

// statusRecorder remembers the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: rw, status: http.StatusOK}
		defer func(begin time.Time) {
			level.Info(s.Logger).Log(
				"msg", "http request",
				"request_id", r.Header.Get(requestIDHeader),
				"client", s.clientID(r),
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"took", time.Since(begin),
			)
		}(time.Now())
		next.ServeHTTP(rec, r)
	})
}

// clientID identifies the caller by the host of the remote address. When a
// ClientIDHeader is configured, the first address it lists takes precedence.
func (s *Server) clientID(r *http.Request) string {
	if s.ClientIDHeader != "" {
		if v := r.Header.Get(s.ClientIDHeader); v != "" {
			first, _, _ := strings.Cut(v, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// admissionContext carries the caller's identity into the gateway and collects
// its admission decision.
func (s *Server) admissionContext(r *http.Request) (context.Context, *ratelimit.Result) {
	admission := &ratelimit.Result{}
	ctx := exchange.WithClientID(r.Context(), s.clientID(r))
	return exchange.WithAdmission(ctx, admission), admission
}

// errorResponse is the JSON body of every failed request
type errorResponse struct {
	Error  string          `json:"error"`
	Target domain.Currency `json:"target,omitempty"`
}

// StatusCode maps gateway errors onto HTTP statuses.
func StatusCode(err error) int {
	var upstreamErr *domain.UpstreamError
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, cache.ErrUnknownCache):
		return http.StatusNotFound
	case errors.As(err, &upstreamErr):
		if upstreamErr.Timeout() {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(rw http.ResponseWriter, err error) {
	res := errorResponse{Error: err.Error()}

	var batchErr *domain.BatchError
	if errors.As(err, &batchErr) {
		res.Target = batchErr.Target
	}
	var throttled *domain.ThrottledError
	if errors.As(err, &throttled) {
		rw.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(throttled.RetryAfter.Seconds()))))
	}

	writeJSON(rw, StatusCode(err), res)
}

func invalidAmount(q string) error {
	return fmt.Errorf("%w: amount %q", domain.ErrInvalidRequest, q)
}
