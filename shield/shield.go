// Package shield is the HTTP middleware stack in front of the medifind API:
// security headers, request IDs, per-client rate limiting, body limits and
// access logging.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(shield.StackConfig{RequestLog: searchLog}) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/medifind/idgen"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// GetLogger returns the per-request logger, or slog.Default().
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// StackConfig configures APIStack. Zero values pick defaults.
type StackConfig struct {
	Headers      *HeaderConfig
	MaxBodyBytes int64           // default 16 KiB
	RatePerIP    float64         // requests per second, 0 disables
	Burst        int             // default 10
	IDs          idgen.Generator // default idgen.RequestID()
	RequestLog   RequestLogger   // nil disables access logging
	Exclude      []string        // path prefixes exempt from rate limiting
}

// APIStack returns the middlewares for the JSON API, outermost first:
// RequestID, AccessLog, SecurityHeaders, MaxBody, RateLimit.
func APIStack(cfg StackConfig) []func(http.Handler) http.Handler {
	headers := DefaultHeaders()
	if cfg.Headers != nil {
		headers = *cfg.Headers
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 16 << 10
	}
	if cfg.IDs == nil {
		cfg.IDs = idgen.RequestID()
	}

	stack := []func(http.Handler) http.Handler{
		RequestID(cfg.IDs),
	}
	if cfg.RequestLog != nil {
		stack = append(stack, AccessLog(cfg.RequestLog))
	}
	stack = append(stack,
		SecurityHeaders(headers),
		MaxBody(cfg.MaxBodyBytes),
	)
	if cfg.RatePerIP > 0 {
		stack = append(stack, NewRateLimiter(cfg.RatePerIP, cfg.Burst, cfg.Exclude...).Middleware)
	}
	return stack
}
