package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// stubHandler is a Handler with fixed answers.
type stubHandler struct {
	allow         bool
	invalidate    bool
	invalidateErr error

	checked     int
	invalidated int
}

func (s *stubHandler) CheckAuthorization(w http.ResponseWriter, r *http.Request) bool {
	s.checked++
	if s.allow {
		return true
	}
	w.WriteHeader(http.StatusUnauthorized)
	return false
}

func (s *stubHandler) IsAuthorized(*http.Request) bool { return s.allow }
func (s *stubHandler) IsAuthorizedHeaders(http.Header) bool { return s.allow }
func (s *stubHandler) IsAuthorizedCredentials(string, string) bool { return s.allow }
func (s *stubHandler) Capabilities() Capabilities { return Capabilities{Invalidate: s.invalidate} }
func (s *stubHandler) InvalidateAuthorization(http.ResponseWriter, *http.Request) error {
	if !s.invalidate {
		return ErrUnsupported
	}
	s.invalidated++
	return s.invalidateErr
}

func TestChain_AnyHandlerAuthorizes(t *testing.T) {
	chain := NewChain(&stubHandler{allow: false}, &stubHandler{allow: true})
	req := httptest.NewRequest("GET", "/", nil)

	if !chain.IsAuthorized(req) {
		t.Error("Expected request to be authorized")
	}
	if !chain.IsAuthorizedHeaders(req.Header) {
		t.Error("Expected headers to be authorized")
	}
	if !chain.IsAuthorizedCredentials("u", "p") {
		t.Error("Expected credentials to be authorized")
	}
	if !chain.CheckAuthorization(httptest.NewRecorder(), req) {
		t.Error("Expected CheckAuthorization to succeed")
	}
}

func TestChain_SharedSecretsAreOred(t *testing.T) {
	chain := NewChain(
		NewSharedTokenOrPassword("T1", "P1"),
		NewSharedTokenOrPassword("T2", "P2"),
	)

	for _, token := range []string{"T1", "T2"} {
		req := httptest.NewRequest("GET", "/?webauth="+token, nil)
		if !chain.IsAuthorized(req) {
			t.Errorf("Expected token %s to be accepted", token)
		}
	}
	if chain.IsAuthorized(httptest.NewRequest("GET", "/?webauth=T3", nil)) {
		t.Error("Expected unknown token to be rejected")
	}
}

func TestChain_RejectionUsesFirstHandler(t *testing.T) {
	first := &stubHandler{}
	second := &stubHandler{}
	chain := NewChain(first, second)

	rec := httptest.NewRecorder()
	if chain.CheckAuthorization(rec, httptest.NewRequest("GET", "/", nil)) {
		t.Fatal("Expected rejection")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rec.Code)
	}
	if first.checked != 1 || second.checked != 0 {
		t.Errorf("Expected only the first handler to respond, got %d/%d", first.checked, second.checked)
	}
}

func TestChain_Empty(t *testing.T) {
	chain := NewChain()

	rec := httptest.NewRecorder()
	if chain.CheckAuthorization(rec, httptest.NewRequest("GET", "/", nil)) {
		t.Error("Expected empty chain to reject")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rec.Code)
	}
	if rec.Header().Get("Connection") != "close" {
		t.Error("Expected Connection: close")
	}
}

func TestChain_InvalidateUnsupported(t *testing.T) {
	chain := NewChain(NewSharedTokenOrPassword("T1", "P1"), &stubHandler{})

	if chain.Capabilities().Invalidate {
		t.Error("Expected no invalidate capability")
	}
	err := chain.InvalidateAuthorization(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported, got %v", err)
	}
}

func TestChain_InvalidateFansOut(t *testing.T) {
	expectedErr := errors.New("revoke failed")
	a := &stubHandler{invalidate: true}
	b := &stubHandler{invalidate: true, invalidateErr: expectedErr}
	shared := NewSharedTokenOrPassword("T1", "P1")
	chain := NewChain(a, shared, b)

	if !chain.Capabilities().Invalidate {
		t.Fatal("Expected invalidate capability")
	}

	err := chain.InvalidateAuthorization(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if !errors.Is(err, expectedErr) {
		t.Errorf("Expected %v, got %v", expectedErr, err)
	}
	if errors.Is(err, ErrUnsupported) {
		t.Error("Unsupported handlers should be skipped, not reported")
	}
	if a.invalidated != 1 || b.invalidated != 1 {
		t.Errorf("Expected both capable handlers to be invalidated, got %d/%d", a.invalidated, b.invalidated)
	}
}

func TestChain_Methods(t *testing.T) {
	chain := NewChain(NewSharedTokenOrPassword("T1", "P1"), &stubHandler{}, NewChain())

	methods := chain.Methods()
	if len(methods) != 2 || methods[0] != "shared-token-or-password" || methods[1] != "chain" {
		t.Errorf("Unexpected methods %v", methods)
	}
}

func TestChain_CopiesHandlers(t *testing.T) {
	handlers := []Handler{&stubHandler{allow: false}}
	chain := NewChain(handlers...)
	handlers[0] = &stubHandler{allow: true}

	if chain.IsAuthorized(httptest.NewRequest("GET", "/", nil)) {
		t.Error("Chain should not observe mutation of the caller's slice")
	}
}
