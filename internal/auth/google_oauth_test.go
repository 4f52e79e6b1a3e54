package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGoogle はトークンエンドポイントとユーザー情報エンドポイントを1つのサーバーで模擬する。
type fakeGoogle struct {
	tokenStatus    int
	tokenBody      map[string]interface{}
	userInfoStatus int
	userInfoBody   map[string]interface{}
	gotForm        url.Values
}

func (f *fakeGoogle) start(t *testing.T) (*httptest.Server, GoogleOAuthConfig) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		f.gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.tokenStatus)
		json.NewEncoder(w).Encode(f.tokenBody)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.userInfoStatus)
		json.NewEncoder(w).Encode(f.userInfoBody)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv, GoogleOAuthConfig{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RedirectURL:  "https://shop.example.com/auth/google/callback",
		TokenURL:     srv.URL + "/token",
		UserInfoURL:  srv.URL + "/userinfo",
	}
}

func validFakeGoogle() *fakeGoogle {
	return &fakeGoogle{
		tokenStatus:    http.StatusOK,
		tokenBody:      map[string]interface{}{"access_token": "access-1", "token_type": "Bearer", "expires_in": 3600},
		userInfoStatus: http.StatusOK,
		userInfoBody: map[string]interface{}{
			"sub":            "google-sub-1",
			"email":          "buyer@example.com",
			"email_verified": true,
			"name":           "Buyer One",
		},
	}
}

func TestGoogleOAuthProvider_GetLoginURL(t *testing.T) {
	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:    "client-1",
		RedirectURL: "https://shop.example.com/auth/google/callback",
	})

	loginURL, err := url.Parse(provider.GetLoginURL("state-1"))
	require.NoError(t, err)

	assert.Equal(t, "accounts.google.com", loginURL.Host)
	q := loginURL.Query()
	assert.Equal(t, "client-1", q.Get("client_id"))
	assert.Equal(t, "https://shop.example.com/auth/google/callback", q.Get("redirect_uri"))
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "openid email profile", q.Get("scope"))
	assert.Equal(t, "select_account", q.Get("prompt"))
}

func TestGoogleOAuthProvider_ExchangeCode(t *testing.T) {
	fake := validFakeGoogle()
	_, cfg := fake.start(t)

	info, err := NewGoogleOAuthProvider(cfg).ExchangeCode(context.Background(), "code-1")
	require.NoError(t, err)

	assert.Equal(t, &OAuthUserInfo{
		ProviderUserID: "google-sub-1",
		Email:          "buyer@example.com",
		EmailVerified:  true,
		Name:           "Buyer One",
		Provider:       "google",
	}, info)
	assert.Equal(t, "code-1", fake.gotForm.Get("code"))
	assert.Equal(t, "authorization_code", fake.gotForm.Get("grant_type"))
	assert.Equal(t, "secret-1", fake.gotForm.Get("client_secret"))
}

func TestGoogleOAuthProvider_ExchangeCode_UnverifiedEmail(t *testing.T) {
	fake := validFakeGoogle()
	fake.userInfoBody["email_verified"] = false
	_, cfg := fake.start(t)

	info, err := NewGoogleOAuthProvider(cfg).ExchangeCode(context.Background(), "code-1")
	require.NoError(t, err)
	assert.False(t, info.EmailVerified)
}

func TestGoogleOAuthProvider_ExchangeCode_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *fakeGoogle)
	}{
		{
			name: "認可コードの再利用",
			mutate: func(f *fakeGoogle) {
				f.tokenStatus = http.StatusBadRequest
				f.tokenBody = map[string]interface{}{"error": "invalid_grant", "error_description": "Code was already redeemed."}
			},
		},
		{
			name:   "アクセストークンなし",
			mutate: func(f *fakeGoogle) { f.tokenBody = map[string]interface{}{"token_type": "Bearer"} },
		},
		{
			name:   "ユーザー情報の取得失敗",
			mutate: func(f *fakeGoogle) { f.userInfoStatus = http.StatusInternalServerError },
		},
		{
			name:   "subなし",
			mutate: func(f *fakeGoogle) { delete(f.userInfoBody, "sub") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := validFakeGoogle()
			tt.mutate(fake)
			_, cfg := fake.start(t)

			_, err := NewGoogleOAuthProvider(cfg).ExchangeCode(context.Background(), "code-1")
			assert.Error(t, err)
		})
	}
}

func TestGoogleOAuthProvider_ExchangeCode_OAuthErrorDetails(t *testing.T) {
	fake := validFakeGoogle()
	fake.tokenStatus = http.StatusBadRequest
	fake.tokenBody = map[string]interface{}{"error": "invalid_grant", "error_description": "Code was already redeemed."}
	_, cfg := fake.start(t)

	_, err := NewGoogleOAuthProvider(cfg).ExchangeCode(context.Background(), "code-1")

	var oauthErr *OAuthError
	require.True(t, errors.As(err, &oauthErr))
	assert.Equal(t, http.StatusBadRequest, oauthErr.StatusCode)
	assert.Equal(t, "invalid_grant", oauthErr.Code)
	assert.Contains(t, err.Error(), "already redeemed")
}
