package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
)

// Credential locations accepted by SharedTokenOrPassword.
const (
	// HeaderPassword carries the shared password.
	HeaderPassword = "password"

	// HeaderToken carries the shared token.
	HeaderToken = "webauth"

	// QueryToken is the query parameter that carries the shared token.
	// Browsers cannot set headers on WebSocket upgrades, so this is the
	// usual path for socket clients.
	QueryToken = "webauth"

	// oauthPrefix is an alternate encoding some clients put in front of
	// the password. "oauth:"+password is accepted as the password.
	oauthPrefix = "oauth:"
)

// SharedTokenOrPassword authorizes requests that present either a shared
// token or a shared password.
//
// The token is accepted in the webauth header or the webauth query
// parameter. The password is accepted in the password header, either
// verbatim or prefixed with "oauth:". All comparisons are exact and
// constant time.
//
// Secrets are fixed at construction and the value is safe for concurrent use.
type SharedTokenOrPassword struct {
	token         []byte
	password      []byte
	oauthPassword []byte
	fingerprint   string

	debug     DebugSink
	responder Responder
}

// Option configures a SharedTokenOrPassword.
type Option func(*SharedTokenOrPassword)

// WithDebugSink sets the sink that receives "401 <METHOD>: <PATH>" lines.
func WithDebugSink(sink DebugSink) Option {
	return func(s *SharedTokenOrPassword) {
		if sink != nil {
			s.debug = sink
		}
	}
}

// WithResponder sets the collaborator that writes the 401 response.
func WithResponder(r Responder) Option {
	return func(s *SharedTokenOrPassword) {
		if r != nil {
			s.responder = r
		}
	}
}

// NewSharedTokenOrPassword creates a handler for the given token and password.
//
// An empty secret matches an empty submitted value: a request with an empty
// webauth query parameter (or none at all) is authorized when token is "".
// Configuration should never supply empty secrets; config.Validate rejects them.
func NewSharedTokenOrPassword(token, password string, opts ...Option) *SharedTokenOrPassword {
	s := &SharedTokenOrPassword{
		token:         []byte(token),
		password:      []byte(password),
		oauthPassword: []byte(oauthPrefix + password),
		fingerprint:   fingerprint(token, password),
		debug:         NopDebugSink(),
		responder:     DefaultResponder,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckAuthorization implements Handler.
func (s *SharedTokenOrPassword) CheckAuthorization(w http.ResponseWriter, r *http.Request) bool {
	if s.IsAuthorized(r) {
		return true
	}

	if s.debug.Enabled() {
		s.debug.Println(fmt.Sprintf("401 %s: %s", r.Method, requestPath(r)))
	}

	w.Header().Set("Connection", "close")
	s.responder.Unauthorized(w, r)
	return false
}

// IsAuthorized implements Handler.
func (s *SharedTokenOrPassword) IsAuthorized(r *http.Request) bool {
	return s.IsAuthorizedHeaders(r.Header) || secretEqual(queryValue(r, QueryToken), s.token)
}

// IsAuthorizedHeaders implements Handler.
func (s *SharedTokenOrPassword) IsAuthorizedHeaders(h http.Header) bool {
	if pass, ok := headerValue(h, HeaderPassword); ok && s.matchesPassword(pass) {
		return true
	}
	if token, ok := headerValue(h, HeaderToken); ok && secretEqual(token, s.token) {
		return true
	}
	return false
}

// IsAuthorizedCredentials implements Handler. The username is ignored;
// password may be the shared password (optionally "oauth:" prefixed) or
// the shared token.
func (s *SharedTokenOrPassword) IsAuthorizedCredentials(_, password string) bool {
	return s.matchesPassword(password) || secretEqual(password, s.token)
}

// InvalidateAuthorization implements Handler. Shared secrets carry no
// session, so this always fails with ErrUnsupported.
func (s *SharedTokenOrPassword) InvalidateAuthorization(http.ResponseWriter, *http.Request) error {
	return fmt.Errorf("%s: invalidate: %w", s.Method(), ErrUnsupported)
}

// Capabilities implements Handler.
func (s *SharedTokenOrPassword) Capabilities() Capabilities {
	return Capabilities{Invalidate: false}
}

// Method implements Descriptor.
func (s *SharedTokenOrPassword) Method() string {
	return "shared-token-or-password"
}

// Equal reports whether s and other were built from identical secrets.
// Collaborators such as the debug sink do not take part in equality.
func (s *SharedTokenOrPassword) Equal(other *SharedTokenOrPassword) bool {
	if s == nil || other == nil {
		return s == other
	}
	return subtle.ConstantTimeCompare(s.token, other.token) == 1 &&
		subtle.ConstantTimeCompare(s.password, other.password) == 1
}

// Fingerprint returns a stable digest of the secrets. Handlers with equal
// secrets have equal fingerprints, so it can key maps and detect
// configuration changes without holding the plaintext.
func (s *SharedTokenOrPassword) Fingerprint() string {
	return s.fingerprint
}

// String keeps secrets out of fmt output.
func (s *SharedTokenOrPassword) String() string {
	return fmt.Sprintf("%s(%s)", s.Method(), s.fingerprint[:12])
}

// LogValue keeps secrets out of structured logs.
func (s *SharedTokenOrPassword) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("method", s.Method()),
		slog.String("fingerprint", s.fingerprint[:12]),
	)
}

func (s *SharedTokenOrPassword) matchesPassword(value string) bool {
	// Evaluate both forms so timing does not reveal which one matched.
	plain := secretEqual(value, s.password)
	prefixed := secretEqual(value, s.oauthPassword)
	return plain || prefixed
}

func secretEqual(provided string, secret []byte) bool {
	return subtle.ConstantTimeCompare([]byte(provided), secret) == 1
}

// headerValue returns the first value of the named header. ok is false when
// the header is absent, which never matches, even against an empty secret.
func headerValue(h http.Header, name string) (value string, ok bool) {
	values := h.Values(name)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// queryValue returns the first value of the named query parameter, or ""
// when it is absent.
func queryValue(r *http.Request, name string) string {
	if r.URL == nil {
		return ""
	}
	values := r.URL.Query()[name]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func requestPath(r *http.Request) string {
	if r.URL == nil {
		return ""
	}
	return r.URL.Path
}

func fingerprint(token, password string) string {
	h := sha256.New()
	var n [8]byte
	for _, part := range []string{token, password} {
		binary.BigEndian.PutUint64(n[:], uint64(len(part)))
		h.Write(n[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}
