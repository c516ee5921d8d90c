package shield

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/medifind/idgen"
	"github.com/hazyhaar/medifind/kit"
)

// RequestID assigns every request an ID, echoed in X-Request-ID and stored
// in the context (kit.RequestIDKey) with a per-request logger. A well formed
// inbound X-Request-ID is kept.
func RequestID(gen idgen.Generator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if !validRequestID(id) {
				id = gen()
			}
			w.Header().Set("X-Request-ID", id)

			ctx := kit.WithRequestID(r.Context(), id)
			ctx = kit.WithTransport(ctx, "http")
			ctx = kit.WithRemoteAddr(ctx, ExtractIP(r))

			logger := slog.Default().With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)
			ctx = context.WithValue(ctx, LoggerKey, logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// RequestLogger persists access log entries.
type RequestLogger interface {
	LogRequest(ctx context.Context, r AccessEntry)
}

// AccessEntry is one served request.
type AccessEntry struct {
	Method     string
	Path       string
	StatusCode int
	Duration   time.Duration
	RequestID  string
	IPAddress  string
	UserAgent  string
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// AccessLog records each request through log once it has been served.
func AccessLog(log RequestLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			entry := AccessEntry{
				Method:     r.Method,
				Path:       r.URL.Path,
				StatusCode: rec.status,
				Duration:   time.Since(start),
				RequestID:  kit.GetRequestID(r.Context()),
				IPAddress:  ExtractIP(r),
				UserAgent:  r.UserAgent(),
			}
			log.LogRequest(context.WithoutCancel(r.Context()), entry)
			GetLogger(r.Context()).Info("request", "status", rec.status, "duration", entry.Duration)
		})
	}
}
