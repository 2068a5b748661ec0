package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestRequestLoggingMiddleware_LogsRequest(t *testing.T) {
	var buf bytes.Buffer
	mw := NewRequestLoggingMiddleware(slog.New(slog.NewTextHandler(&buf, nil)))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	})

	req := httptest.NewRequest("POST", "/api/v1/generate", nil)
	req.RemoteAddr = "10.0.0.1:8080"
	req.Header.Set("X-Forwarded-For", "203.0.113.195, 10.0.0.1")
	req.Header.Set("X-User-ID", "user-9")
	req.Header.Set("User-Agent", "kerf-web/1.0")
	rec := httptest.NewRecorder()

	mw.Handler(next).ServeHTTP(rec, req)

	out := buf.String()
	for _, want := range []string{
		"method=POST",
		"path=/api/v1/generate",
		"status=402",
		"duration_ms=",
		"ip=203.0.113.195",
		"user_id=user-9",
		"kerf-web/1.0",
		"request_id=",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q: %s", want, out)
		}
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("response should carry a request id")
	}
}

func TestRequestLoggingMiddleware_ServerErrorIsWarn(t *testing.T) {
	var buf bytes.Buffer
	mw := NewRequestLoggingMiddleware(slog.New(slog.NewTextHandler(&buf, nil)))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.WriteHeader(http.StatusOK) // superfluous, must not change the logged status
	})
	mw.Handler(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/usage/u", nil))

	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "status=503") {
		t.Errorf("expected WARN with status 503, got: %s", out)
	}
}

func TestRequestLoggingMiddleware_KeepsCallerRequestID(t *testing.T) {
	mw := NewRequestLoggingMiddleware(discardLogger())
	req := httptest.NewRequest("GET", "/api/v1/usage/u", nil)
	req.Header.Set(RequestIDHeader, "req-abc")
	rec := httptest.NewRecorder()

	mw.Handler(okHandler).ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "req-abc" {
		t.Errorf("request id = %q, want req-abc", got)
	}
}

func TestRequestLoggingMiddleware_SkipsProbes(t *testing.T) {
	for _, path := range []string{"/health", "/ready", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			var buf bytes.Buffer
			mw := NewRequestLoggingMiddleware(slog.New(slog.NewTextHandler(&buf, nil)))

			mw.Handler(okHandler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))

			if buf.Len() != 0 {
				t.Errorf("%s should not be logged, got: %s", path, buf.String())
			}
		})
	}
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		path, query, want string
	}{
		{"/api/v1/usage/u", "", "/api/v1/usage/u"},
		{"/cb", "token=abc123&day=2026-01-02", "/cb?token=[REDACTED]&day=2026-01-02"},
		{"/cb", "API_KEY=xyz", "/cb?API_KEY=[REDACTED]"},
		{"/cb", "session_id=cs_1", "/cb?session_id=[REDACTED]"},
		{"/cb", "flag", "/cb"},
	}
	for _, tt := range tests {
		if got := sanitizePath(tt.path, tt.query); got != tt.want {
			t.Errorf("sanitizePath(%q, %q) = %q, want %q", tt.path, tt.query, got, tt.want)
		}
	}
}

func TestRequestLoggingMiddleware_IncludesTraceID(t *testing.T) {
	var buf bytes.Buffer
	mw := NewRequestLoggingMiddleware(slog.New(slog.NewTextHandler(&buf, nil)))

	traceID := trace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  trace.SpanID{0, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7},
	})
	req := httptest.NewRequest("GET", "/api/v1/usage/u1", nil)
	req = req.WithContext(trace.ContextWithSpanContext(req.Context(), sc))

	mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(httptest.NewRecorder(), req)

	if want := "trace_id=" + traceID.String(); !strings.Contains(buf.String(), want) {
		t.Errorf("log missing %q: %s", want, buf.String())
	}
}
