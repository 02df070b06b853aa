package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestTranslator(t *testing.T) *Translator {
	t.Helper()
	tr, err := New("en", nil)
	if err != nil {
		t.Fatalf("new translator: %v", err)
	}
	return tr
}

func TestTd_DefaultLanguage(t *testing.T) {
	tr := newTestTranslator(t)
	got := tr.Td(context.Background(), "hint_fallback", map[string]any{"Concept": "a group"})
	if !strings.HasPrefix(got, "Consider the definition of a group") {
		t.Fatalf("unexpected fallback hint: %q", got)
	}
}

func TestT_MissingIDReturnsID(t *testing.T) {
	tr := newTestTranslator(t)
	if got := tr.T(context.Background(), "no_such_message"); got != "no_such_message" {
		t.Fatalf("got %q, want message id", got)
	}
}

func TestMiddleware_AcceptLanguage(t *testing.T) {
	tr := newTestTranslator(t)

	tests := []struct {
		header string
		want   string
	}{
		{"de-DE,de;q=0.9,en;q=0.8", "Dieses Quiz wurde bereits abgegeben."},
		{"en-US", "This quiz has already been submitted."},
		{"fr", "This quiz has already been submitted."},
		{"", "This quiz has already been submitted."},
	}
	for _, tt := range tests {
		var got string
		h := tr.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = tr.T(r.Context(), "error_already_graded")
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Accept-Language", tt.header)
		}
		h.ServeHTTP(httptest.NewRecorder(), req)
		if got != tt.want {
			t.Errorf("Accept-Language %q: got %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestNew_BadLanguage(t *testing.T) {
	if _, err := New("not a tag!", nil); err == nil {
		t.Fatal("expected parse error")
	}
}
