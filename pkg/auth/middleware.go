package auth

import (
	"net/http"
)

// Middleware applies a Handler to HTTP requests.
type Middleware struct {
	handler       Handler
	excludedPaths map[string]bool
	subject       string
	metrics       *Metrics
}

// MiddlewareOption configures a Middleware.
type MiddlewareOption func(*Middleware)

// WithExcludedPaths lets requests to the given paths through without
// authorization. Paths are matched exactly.
func WithExcludedPaths(paths ...string) MiddlewareOption {
	return func(m *Middleware) {
		for _, p := range paths {
			m.excludedPaths[p] = true
		}
	}
}

// WithSubject sets the subject recorded on the Identity of authorized requests.
func WithSubject(subject string) MiddlewareOption {
	return func(m *Middleware) {
		m.subject = subject
	}
}

// WithMetrics records each decision in metrics.
func WithMetrics(metrics *Metrics) MiddlewareOption {
	return func(m *Middleware) {
		m.metrics = metrics
	}
}

// NewMiddleware creates a new authorization middleware for h.
func NewMiddleware(h Handler, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{
		handler:       h,
		excludedPaths: make(map[string]bool),
		subject:       "system:authenticated",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Wrap wraps next so that it only sees authorized requests.
// Rejected requests get the handler's 401 response and next is not called.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.excludedPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		if !m.handler.CheckAuthorization(w, r) {
			m.metrics.Record(TransportHTTP, false)
			return
		}
		m.metrics.Record(TransportHTTP, true)

		id := &Identity{
			Subject: m.subject,
			Method:  MethodOf(m.handler),
		}
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
	})
}
