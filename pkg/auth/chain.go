package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// ChainHandler combines several handlers. A request is authorized when any
// handler in the chain authorizes it.
type ChainHandler struct {
	handlers []Handler
}

// NewChain creates a new chain handler.
// Handlers are consulted in the order provided.
//
// The chain follows these rules:
//  1. Any handler authorizing the request authorizes it
//  2. A rejected request receives the rejection of the first handler
//  3. Invalidation is forwarded to every handler that supports it
func NewChain(handlers ...Handler) *ChainHandler {
	// Copy to prevent mutation
	handlersCopy := make([]Handler, len(handlers))
	copy(handlersCopy, handlers)

	return &ChainHandler{
		handlers: handlersCopy,
	}
}

// CheckAuthorization implements Handler.
func (c *ChainHandler) CheckAuthorization(w http.ResponseWriter, r *http.Request) bool {
	if c.IsAuthorized(r) {
		return true
	}
	if len(c.handlers) == 0 {
		w.Header().Set("Connection", "close")
		DefaultResponder.Unauthorized(w, r)
		return false
	}
	return c.handlers[0].CheckAuthorization(w, r)
}

// IsAuthorized implements Handler.
func (c *ChainHandler) IsAuthorized(r *http.Request) bool {
	for _, h := range c.handlers {
		if h.IsAuthorized(r) {
			return true
		}
	}
	return false
}

// IsAuthorizedHeaders implements Handler.
func (c *ChainHandler) IsAuthorizedHeaders(hdr http.Header) bool {
	for _, h := range c.handlers {
		if h.IsAuthorizedHeaders(hdr) {
			return true
		}
	}
	return false
}

// IsAuthorizedCredentials implements Handler.
func (c *ChainHandler) IsAuthorizedCredentials(username, password string) bool {
	for _, h := range c.handlers {
		if h.IsAuthorizedCredentials(username, password) {
			return true
		}
	}
	return false
}

// InvalidateAuthorization implements Handler.
// Errors from individual handlers are joined.
func (c *ChainHandler) InvalidateAuthorization(w http.ResponseWriter, r *http.Request) error {
	var errs []error
	supported := false
	for _, h := range c.handlers {
		if !h.Capabilities().Invalidate {
			continue
		}
		supported = true
		if err := h.InvalidateAuthorization(w, r); err != nil {
			errs = append(errs, err)
		}
	}
	if !supported {
		return fmt.Errorf("chain: invalidate: %w", ErrUnsupported)
	}
	return errors.Join(errs...)
}

// Capabilities implements Handler.
func (c *ChainHandler) Capabilities() Capabilities {
	var caps Capabilities
	for _, h := range c.handlers {
		if h.Capabilities().Invalidate {
			caps.Invalidate = true
		}
	}
	return caps
}

// Method implements Descriptor.
func (c *ChainHandler) Method() string {
	return "chain"
}

// Methods returns the method names of all handlers in the chain.
func (c *ChainHandler) Methods() []string {
	var methods []string
	for _, h := range c.handlers {
		if desc, ok := h.(Descriptor); ok {
			methods = append(methods, desc.Method())
		}
	}
	return methods
}
