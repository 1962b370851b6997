package auth

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// DebugSink receives diagnostic lines about rejected requests.
type DebugSink interface {
	// Enabled reports whether diagnostics should be produced at all.
	Enabled() bool

	// Println writes a single diagnostic line.
	Println(line string)
}

// SlogDebugSink writes diagnostic lines through a slog.Logger at debug
// level. The enabled flag can be toggled at runtime, for example when the
// configuration is reloaded.
type SlogDebugSink struct {
	logger  *slog.Logger
	enabled atomic.Bool
}

// NewSlogDebugSink creates a debug sink backed by logger.
// If logger is nil, slog.Default() is used.
func NewSlogDebugSink(logger *slog.Logger, enabled bool) *SlogDebugSink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SlogDebugSink{logger: logger}
	s.enabled.Store(enabled)
	return s
}

// Enabled implements DebugSink.
func (s *SlogDebugSink) Enabled() bool {
	return s.enabled.Load()
}

// SetEnabled turns diagnostics on or off.
func (s *SlogDebugSink) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
}

// Println implements DebugSink.
func (s *SlogDebugSink) Println(line string) {
	s.logger.Log(context.Background(), slog.LevelDebug, line)
}

type nopDebugSink struct{}

func (nopDebugSink) Enabled() bool  { return false }
func (nopDebugSink) Println(string) {}

// NopDebugSink returns a sink that is never enabled.
func NopDebugSink() DebugSink {
	return nopDebugSink{}
}

// Responder writes the rejection response for unauthorized requests.
// The status code is always 401; the body is up to the implementation.
type Responder interface {
	Unauthorized(w http.ResponseWriter, r *http.Request)
}

// ResponderFunc is an adapter to allow plain functions to be used as Responders.
type ResponderFunc func(w http.ResponseWriter, r *http.Request)

// Unauthorized implements Responder.
func (f ResponderFunc) Unauthorized(w http.ResponseWriter, r *http.Request) {
	f(w, r)
}

// DefaultResponder writes a plain-text 401 with a WWW-Authenticate challenge.
var DefaultResponder Responder = ResponderFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", `webauth realm="panelgate"`)
	http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
})
