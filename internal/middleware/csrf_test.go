package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/marketplace/internal/model"
)

func csrfProtected(config CSRFConfig, called *bool) http.Handler {
	return NewCSRFMiddleware(config)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	}))
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestCSRFMiddleware_SafeMethodsPass(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			called := false
			w := serve(csrfProtected(CSRFConfig{}, &called), httptest.NewRequest(method, "/api/cart", nil))

			if w.Code != http.StatusOK || !called {
				t.Errorf("status = %d, called = %v", w.Code, called)
			}
		})
	}
}

func TestCSRFMiddleware_SafeMethodIssuesCookie(t *testing.T) {
	called := false
	w := serve(csrfProtected(CSRFConfig{CookieSecure: true}, &called), httptest.NewRequest(http.MethodGet, "/api/cart", nil))

	cookie := findCookie(w.Result(), csrfCookieName)
	if cookie == nil {
		t.Fatal("CSRFトークンCookieが発行されていない")
	}
	if len(cookie.Value) != 64 {
		t.Errorf("token length = %d, want 64", len(cookie.Value))
	}
	if cookie.HttpOnly {
		t.Error("CSRFトークンCookieはJavaScriptから読み取れる必要がある")
	}
	if !cookie.Secure {
		t.Error("CookieSecure=true の場合はSecure属性が必要")
	}
	if cookie.MaxAge != defaultCSRFMaxAge {
		t.Errorf("MaxAge = %d, want %d", cookie.MaxAge, defaultCSRFMaxAge)
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", cookie.SameSite)
	}
}

func TestCSRFMiddleware_ExistingCookieIsKept(t *testing.T) {
	called := false
	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing"})

	w := serve(csrfProtected(CSRFConfig{}, &called), req)

	if findCookie(w.Result(), csrfCookieName) != nil {
		t.Error("既存のCSRFトークンがある場合は再発行してはならない")
	}
}

func TestCSRFMiddleware_CustomMaxAge(t *testing.T) {
	called := false
	w := serve(csrfProtected(CSRFConfig{MaxAge: 600}, &called), httptest.NewRequest(http.MethodGet, "/", nil))

	cookie := findCookie(w.Result(), csrfCookieName)
	if cookie == nil || cookie.MaxAge != 600 {
		t.Errorf("MaxAge cookie = %+v, want 600", cookie)
	}
}

func TestCSRFMiddleware_StateChangingMethods(t *testing.T) {
	tests := []struct {
		name       string
		cookie     string
		header     string
		wantStatus int
	}{
		{name: "一致", cookie: "token-abc", header: "token-abc", wantStatus: http.StatusOK},
		{name: "Cookieなし", header: "token-abc", wantStatus: http.StatusForbidden},
		{name: "ヘッダーなし", cookie: "token-abc", wantStatus: http.StatusForbidden},
		{name: "不一致", cookie: "token-abc", header: "token-xyz", wantStatus: http.StatusForbidden},
		{name: "長さ違い", cookie: "token-abc", header: "token-abcd", wantStatus: http.StatusForbidden},
	}

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		for _, tt := range tests {
			t.Run(method+"/"+tt.name, func(t *testing.T) {
				called := false
				req := httptest.NewRequest(method, "/api/cart/items", strings.NewReader(`{}`))
				if tt.cookie != "" {
					req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
				}
				if tt.header != "" {
					req.Header.Set(CSRFHeaderName, tt.header)
				}

				w := serve(csrfProtected(CSRFConfig{}, &called), req)

				if w.Code != tt.wantStatus {
					t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
				}
				if tt.wantStatus == http.StatusOK {
					if !called {
						t.Error("handler should be called")
					}
					return
				}
				if called {
					t.Error("handler should not be called")
				}
				if body := decodeErrorBody(t, w); body.Code != model.ErrCodeCSRFInvalid {
					t.Errorf("code = %q, want %q", body.Code, model.ErrCodeCSRFInvalid)
				}
			})
		}
	}
}

func TestValidateCSRF_Reasons(t *testing.T) {
	tests := []struct {
		cookie string
		header string
		want   string
	}{
		{cookie: "", header: "a", want: "missing_cookie"},
		{cookie: "a", header: "", want: "missing_header"},
		{cookie: "a", header: "b", want: "mismatch"},
		{cookie: "a", header: "a", want: ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if tt.cookie != "" {
			req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
		}
		if tt.header != "" {
			req.Header.Set(CSRFHeaderName, tt.header)
		}
		if got := validateCSRF(req); got != tt.want {
			t.Errorf("validateCSRF(cookie=%q, header=%q) = %q, want %q", tt.cookie, tt.header, got, tt.want)
		}
	}
}

func TestCSRFTokenHandler_IssuesNewToken(t *testing.T) {
	w := serve(NewCSRFTokenHandler(CSRFConfig{}), httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	cookie := findCookie(w.Result(), csrfCookieName)
	if cookie == nil {
		t.Fatal("Cookieが発行されていない")
	}
	if body["token"] != cookie.Value {
		t.Errorf("body token %q does not match cookie %q", body["token"], cookie.Value)
	}
}

func TestCSRFTokenHandler_ReturnsExistingToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing-token"})

	w := serve(NewCSRFTokenHandler(CSRFConfig{}), req)

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["token"] != "existing-token" {
		t.Errorf("token = %q, want existing-token", body["token"])
	}
}

func TestGenerateCSRFToken_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		token, err := generateCSRFToken()
		if err != nil {
			t.Fatalf("generateCSRFToken: %v", err)
		}
		if seen[token] {
			t.Fatalf("duplicate token %q", token)
		}
		seen[token] = true
	}
}
