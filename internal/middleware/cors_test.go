package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const testAllowedOrigins = "http://localhost:3000, https://shop.example.com"

func corsHandler(called *bool) http.Handler {
	return NewCORSMiddleware(testAllowedOrigins)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCORSMiddleware_AllowedOrigins(t *testing.T) {
	for _, origin := range []string{"http://localhost:3000", "https://shop.example.com"} {
		t.Run(origin, func(t *testing.T) {
			called := false
			req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
			req.Header.Set("Origin", origin)

			w := serve(corsHandler(&called), req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != origin {
				t.Errorf("Allow-Origin = %q, want %q", got, origin)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
				t.Errorf("Allow-Credentials = %q, want true", got)
			}
			if got := w.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, X-CSRF-Token, Idempotency-Key" {
				t.Errorf("Allow-Headers = %q", got)
			}
			if got := w.Header().Get("Access-Control-Expose-Headers"); got != "Retry-After, X-Request-Id" {
				t.Errorf("Expose-Headers = %q, want Retry-After, X-Request-Id", got)
			}
			if got := w.Header().Get("Vary"); got != "Origin" {
				t.Errorf("Vary = %q, want Origin", got)
			}
			if !called {
				t.Error("handler should be called")
			}
		})
	}
}

func TestCORSMiddleware_DisallowedOrigin(t *testing.T) {
	called := false
	req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	req.Header.Set("Origin", "https://evil.example.com")

	w := serve(corsHandler(&called), req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("許可されていないOriginに Allow-Origin を返してはならない: %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("Allow-Credentials = %q, want empty", got)
	}
	if !called {
		t.Error("CORSヘッダーなしでハンドラーは実行される")
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	called := false
	req := httptest.NewRequest(http.MethodOptions, "/api/cart/items", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	w := serve(corsHandler(&called), req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if called {
		t.Error("プリフライトはハンドラーに到達してはならない")
	}
	if got := w.Header().Get("Access-Control-Max-Age"); got != "86400" {
		t.Errorf("Max-Age = %q, want 86400", got)
	}
}

func TestCORSMiddleware_PreflightAllowsCheckoutHeaders(t *testing.T) {
	called := false
	req := httptest.NewRequest(http.MethodOptions, "/api/checkout", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type,x-csrf-token,idempotency-key")

	w := serve(corsHandler(&called), req)

	allowed := map[string]bool{}
	for _, h := range strings.Split(w.Header().Get("Access-Control-Allow-Headers"), ",") {
		allowed[strings.ToLower(strings.TrimSpace(h))] = true
	}
	for _, h := range strings.Split(req.Header.Get("Access-Control-Request-Headers"), ",") {
		if !allowed[h] {
			t.Errorf("プリフライトで %s が許可されていない: %q", h, w.Header().Get("Access-Control-Allow-Headers"))
		}
	}

	exposed := w.Header().Get("Access-Control-Expose-Headers")
	if !strings.Contains(exposed, RequestIDHeader) {
		t.Errorf("Expose-Headers = %q, want %s", exposed, RequestIDHeader)
	}
}

func TestCORSMiddleware_PlainOptionsPassesThrough(t *testing.T) {
	called := false
	req := httptest.NewRequest(http.MethodOptions, "/api/products", nil)

	w := serve(corsHandler(&called), req)

	if w.Code != http.StatusOK || !called {
		t.Errorf("status = %d, called = %v", w.Code, called)
	}
}
