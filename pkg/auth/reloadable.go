package auth

import (
	"net/http"
	"sync/atomic"
)

// Reloadable is a Handler whose SharedTokenOrPassword can be replaced at
// runtime, for example after the configuration file changed. Each gate is
// still immutable; a request sees either the old or the new one.
type Reloadable struct {
	current atomic.Pointer[SharedTokenOrPassword]
}

// NewReloadable creates a reloadable handler starting with initial.
func NewReloadable(initial *SharedTokenOrPassword) *Reloadable {
	r := &Reloadable{}
	r.current.Store(initial)
	return r
}

// Load returns the gate currently in effect.
func (r *Reloadable) Load() *SharedTokenOrPassword {
	return r.current.Load()
}

// Swap installs next if its secrets differ from the current gate and
// reports whether it did. A nil gate is ignored.
func (r *Reloadable) Swap(next *SharedTokenOrPassword) bool {
	if next == nil {
		return false
	}
	for {
		cur := r.current.Load()
		if cur.Equal(next) {
			return false
		}
		if r.current.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// CheckAuthorization implements Handler.
func (r *Reloadable) CheckAuthorization(w http.ResponseWriter, req *http.Request) bool {
	return r.Load().CheckAuthorization(w, req)
}

// IsAuthorized implements Handler.
func (r *Reloadable) IsAuthorized(req *http.Request) bool {
	return r.Load().IsAuthorized(req)
}

// IsAuthorizedHeaders implements Handler.
func (r *Reloadable) IsAuthorizedHeaders(h http.Header) bool {
	return r.Load().IsAuthorizedHeaders(h)
}

// IsAuthorizedCredentials implements Handler.
func (r *Reloadable) IsAuthorizedCredentials(username, password string) bool {
	return r.Load().IsAuthorizedCredentials(username, password)
}

// InvalidateAuthorization implements Handler.
func (r *Reloadable) InvalidateAuthorization(w http.ResponseWriter, req *http.Request) error {
	return r.Load().InvalidateAuthorization(w, req)
}

// Capabilities implements Handler.
func (r *Reloadable) Capabilities() Capabilities {
	return r.Load().Capabilities()
}

// Method implements Descriptor.
func (r *Reloadable) Method() string {
	return r.Load().Method()
}
