package middleware

import (
	"log/slog"
	"net/http"

	"github.com/mihaisavezi/sider-gateway/internal/config"
)

// Middleware represents a middleware function
type Middleware func(http.Handler) http.Handler

// Chain represents a middleware chain
type Chain struct {
	middlewares []Middleware
}

// New creates a new middleware chain
func New(middlewares ...Middleware) Chain {
	return Chain{middlewares: middlewares}
}

// Then adds more middleware to the chain
func (c Chain) Then(middlewares ...Middleware) Chain {
	combined := make([]Middleware, 0, len(c.middlewares)+len(middlewares))
	combined = append(combined, c.middlewares...)
	combined = append(combined, middlewares...)

	return Chain{middlewares: combined}
}

// Handler applies all middleware in the chain to the given handler
func (c Chain) Handler(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}

	return handler
}

// MiddlewareSet contains all configured middleware for easy composition
type MiddlewareSet struct {
	CORS             Middleware
	TelemetryBlocker Middleware
	Logging          Middleware
	Auth             Middleware
}

func NewMiddlewareSet(config *config.Manager, logger *slog.Logger) MiddlewareSet {
	return MiddlewareSet{
		CORS:             NewCORSMiddleware(),
		TelemetryBlocker: NewTelemetryBlockerMiddleware(logger),
		Logging:          NewLoggingMiddleware(logger),
		Auth:             NewAuthMiddleware(config, logger),
	}
}

// DefaultChain is used for the Messages API and gateway management routes.
func (ms MiddlewareSet) DefaultChain() Chain {
	return New(
		ms.CORS,
		ms.TelemetryBlocker,
		ms.Logging,
		ms.Auth,
	)
}

// HealthChain skips authentication.
func (ms MiddlewareSet) HealthChain() Chain {
	return New(
		ms.CORS,
		ms.TelemetryBlocker,
		ms.Logging,
	)
}

// PublicChain returns the middleware chain for public endpoints (no auth, minimal logging)
func (ms MiddlewareSet) PublicChain() Chain {
	return New(
		ms.CORS,
		ms.TelemetryBlocker,
	)
}
