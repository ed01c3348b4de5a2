// Package middleware wraps the API router with access logging and request metrics.
package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/testerbesterkali/marketer/internal/logger"
	"github.com/testerbesterkali/marketer/internal/metrics"
)

// RequestLogger logs one line per API request and records its latency.
type RequestLogger struct {
	Log     *logger.Logger
	Metrics *metrics.Metrics
	// SkipPaths are prefixes that are neither logged nor measured.
	SkipPaths []string
}

func NewRequestLogger(log *logger.Logger, m *metrics.Metrics) *RequestLogger {
	return &RequestLogger{
		Log:       logger.OrNop(log).With("component", "HTTP"),
		Metrics:   metrics.OrNoop(m),
		SkipPaths: []string{"/health", "/metrics"},
	}
}

// Middleware is a mux.MiddlewareFunc.
func (rl *RequestLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.shouldSkip(r) {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		route := routeTemplate(r)
		elapsed := time.Since(start)
		rl.Metrics.HTTPDuration.WithLabelValues(route, r.Method, strconv.Itoa(status)).Observe(elapsed.Seconds())

		kv := []interface{}{"method", r.Method, "route", route, "status", status, "duration_ms", elapsed.Milliseconds()}
		switch {
		case rec.hijacked:
			rl.Log.Debug("request_upgraded", kv...)
		case status >= 500:
			rl.Log.Warn("request_failed", kv...)
		default:
			rl.Log.Debug("request_served", kv...)
		}
	})
}

func (rl *RequestLogger) shouldSkip(r *http.Request) bool {
	for _, p := range rl.SkipPaths {
		if strings.HasPrefix(r.URL.Path, p) {
			return true
		}
	}
	return false
}

// routeTemplate keeps label cardinality bounded: ids stay in the template, not the label.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status   int
	hijacked bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack passes through so the progress websocket can take over the connection.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.hijacked = true
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}
