package api

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
})

func TestCORSAllowlist(t *testing.T) {
	mw := CORSAllowlist([]string{"https://clips.example.com", "https://blog.example.com/"})(okHandler)

	tests := []struct {
		name        string
		method      string
		origin      string
		wantStatus  int
		wantAllowed string
	}{
		{"no origin", http.MethodGet, "", http.StatusOK, ""},
		{"allowed get", http.MethodGet, "https://blog.example.com", http.StatusOK, "https://blog.example.com"},
		{"allowed preflight", http.MethodOptions, "https://blog.example.com", http.StatusNoContent, "https://blog.example.com"},
		{"other origin get", http.MethodGet, "https://evil.example.com", http.StatusOK, ""},
		{"other origin preflight", http.MethodOptions, "https://evil.example.com", http.StatusForbidden, ""},
		{"scheme mismatch", http.MethodOptions, "http://blog.example.com", http.StatusForbidden, ""},
		{"origin with path", http.MethodOptions, "https://blog.example.com/x", http.StatusForbidden, ""},
		{"null origin", http.MethodOptions, "null", http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/videos/abc/file", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := httptest.NewRecorder()
			mw.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllowed {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllowed)
			}
			if tt.origin != "" && rr.Header().Get("Vary") != "Origin" {
				t.Errorf("Vary = %q", rr.Header().Get("Vary"))
			}
		})
	}
}

func TestCORSAllowlist_Preflight(t *testing.T) {
	mw := CORSAllowlist([]string{"*"})(okHandler)
	req := httptest.NewRequest(http.MethodOptions, "/videos/abc/file", nil)
	req.Header.Set("Origin", "https://anywhere.example.org")
	rr := httptest.NewRecorder()
	mw.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rr.Code)
	}
	h := rr.Header()
	if !strings.Contains(h.Get("Access-Control-Allow-Headers"), "Range") {
		t.Errorf("Allow-Headers = %q, want Range", h.Get("Access-Control-Allow-Headers"))
	}
	if !strings.Contains(h.Get("Access-Control-Expose-Headers"), "Content-Range") {
		t.Errorf("Expose-Headers = %q", h.Get("Access-Control-Expose-Headers"))
	}
	if strings.Contains(h.Get("Access-Control-Allow-Methods"), "POST") {
		t.Errorf("Allow-Methods = %q, want read-only", h.Get("Access-Control-Allow-Methods"))
	}
}

func TestAuthMiddleware_EmptyTokenDisables(t *testing.T) {
	mw := AuthMiddleware("", slog.Default())(okHandler)
	rr := httptest.NewRecorder()
	mw.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/clips", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestAuthMiddleware_DoesNotLogToken(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	mw := AuthMiddleware("right-token", logger)(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/clips", nil)
	req.Header.Set("Authorization", "Bearer wrong-token-value")
	rr := httptest.NewRecorder()
	mw.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
	if strings.Contains(buf.String(), "wrong-token-value") {
		t.Errorf("log contains raw token: %s", buf.String())
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	rr := httptest.NewRecorder()
	RecoveryMiddleware(slog.New(slog.NewTextHandler(io.Discard, nil)))(panicking).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assertError(t, rr, http.StatusInternalServerError, "INTERNAL_ERROR")
}

func TestRecoveryMiddleware_RepanicsAbort(t *testing.T) {
	aborting := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	})
	defer func() {
		if recover() != http.ErrAbortHandler {
			t.Error("expected ErrAbortHandler to propagate")
		}
	}()
	RecoveryMiddleware(slog.New(slog.NewTextHandler(io.Discard, nil)))(aborting).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(RequestIDKey).(string)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if len(seen) != 8 {
		t.Errorf("request id = %q, want 8 chars", seen)
	}
	if rr.Header().Get("X-Request-ID") != seen {
		t.Errorf("header = %q, context = %q", rr.Header().Get("X-Request-ID"), seen)
	}
}

func TestResponseWriter_CapturesFirstStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	w := wrapResponseWriter(rec)
	if again := wrapResponseWriter(w); again != w {
		t.Error("wrapResponseWriter should reuse an existing wrapper")
	}

	w.WriteHeader(http.StatusAccepted)
	w.WriteHeader(http.StatusTeapot)
	w.Write([]byte("hello"))

	if w.status != http.StatusAccepted {
		t.Errorf("status = %d, want 202", w.status)
	}
	if w.written != 5 {
		t.Errorf("written = %d, want 5", w.written)
	}
}
