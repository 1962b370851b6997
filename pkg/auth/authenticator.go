// Package auth provides the request-time authentication gate for the
// panelgate control surface.
//
// A Handler decides whether an inbound HTTP request, an upgraded WebSocket
// connection or an RPC call carries valid credentials. Concrete strategies
// implement the Handler interface; SharedTokenOrPassword is the strategy
// used by the server and accepts either a shared token or a shared
// password. Handlers can be combined with Chain and applied to HTTP
// handlers with Middleware or to Connect services with Interceptor.
package auth

import (
	"context"
	"errors"
	"net/http"
)

// ErrUnsupported is returned when a handler is asked to perform an
// operation it does not implement. It signals incorrect wiring, never an
// untrusted-input condition.
var ErrUnsupported = errors.New("operation not supported by this authentication handler")

// ErrUnauthorized is the error reported to RPC clients whose credentials
// were rejected. It intentionally carries no detail about the reason.
var ErrUnauthorized = errors.New("unauthorized")

// Capabilities describes optional operations supported by a Handler.
// Callers check capabilities instead of relying on a failing call.
type Capabilities struct {
	// Invalidate reports whether InvalidateAuthorization revokes anything.
	Invalidate bool
}

// Handler authenticates requests for the control surface.
// Implementations must be safe for concurrent use.
type Handler interface {
	// CheckAuthorization reports whether r is authorized. On failure the
	// handler writes the standard 401 response to w and marks the
	// connection to be closed. On success nothing is written.
	CheckAuthorization(w http.ResponseWriter, r *http.Request) bool

	// IsAuthorized reports whether r carries valid credentials in its
	// headers or query string. It has no side effects.
	IsAuthorized(r *http.Request) bool

	// IsAuthorizedHeaders reports whether h carries valid credentials.
	IsAuthorizedHeaders(h http.Header) bool

	// IsAuthorizedCredentials checks a credential pair obtained out of band,
	// for example from a WebSocket authentication message.
	IsAuthorizedCredentials(username, password string) bool

	// InvalidateAuthorization revokes the authorization carried by r.
	// Handlers without session state return an error wrapping ErrUnsupported.
	InvalidateAuthorization(w http.ResponseWriter, r *http.Request) error

	// Capabilities reports the optional operations this handler supports.
	Capabilities() Capabilities
}

// Descriptor is implemented by handlers that can name their method.
type Descriptor interface {
	Method() string
}

// Identity describes an authorized caller.
// It is attached to the request context by Middleware.
type Identity struct {
	// Subject identifies the caller. Shared secrets carry no user identity,
	// so this is the subject configured on the middleware.
	Subject string

	// Method is the authentication method that accepted the request,
	// for example "shared-token-or-password".
	Method string
}

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey int

const (
	identityKey contextKey = iota
)

// IdentityFromContext retrieves the authorized Identity from the context.
// Returns nil if no identity is present.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// ContextWithIdentity returns a new context with the given Identity attached.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// MethodOf returns the method name of h, or "unknown".
func MethodOf(h Handler) string {
	if d, ok := h.(Descriptor); ok {
		return d.Method()
	}
	return "unknown"
}
