// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/marketplace/internal/auth"
	"github.com/hitoshi/marketplace/internal/middleware"
	"github.com/hitoshi/marketplace/internal/model"
)

const (
	sessionCookieName  = "session_id"
	oauthStateCookie   = "oauth_state"
	oauthReturnCookie  = "oauth_return_to"
	oauthCookieMaxAge  = 600
	maxReturnPathBytes = 512
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*auth.LoginResult, error)
	Logout(ctx context.Context, sessionID string) error
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// Login はGoogle OAuthフローを開始する。
// return_to にサイト内のパスを指定すると、ログイン後にそのページへ戻る（カートからのチェックアウト等）。
// GET /auth/google/login?return_to=/cart
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	h.setShortLivedCookie(w, oauthStateCookie, state)
	if returnTo := safeReturnPath(r.URL.Query().Get("return_to")); returnTo != "" {
		h.setShortLivedCookie(w, oauthReturnCookie, returnTo)
	}

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// 同意画面でキャンセルされた場合やメールアドレス未確認の場合は、
// フロントエンドのログイン画面へエラーコード付きでリダイレクトする。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	state := query.Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		slog.Warn("oauth state mismatch")
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("invalid oauth state"))
		return
	}
	h.clearCookie(w, oauthStateCookie, "")

	returnTo := ""
	if c, err := r.Cookie(oauthReturnCookie); err == nil {
		returnTo = safeReturnPath(c.Value)
		h.clearCookie(w, oauthReturnCookie, "")
	}

	if oauthErr := query.Get("error"); oauthErr != "" {
		slog.Info("oauth login was not completed", slog.String("reason", oauthErr))
		http.Redirect(w, r, h.loginErrorURL(oauthErr), http.StatusTemporaryRedirect)
		return
	}

	code := query.Get("code")
	if code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("missing authorization code"))
		return
	}

	result, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			http.Redirect(w, r, h.loginErrorURL(apiErr.Code), http.StatusTemporaryRedirect)
			return
		}
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    result.Session.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	slog.Info("login succeeded",
		slog.String("user_id", result.User.ID),
		slog.Bool("new_user", result.NewUser),
	)

	http.Redirect(w, r, h.siteURL(returnTo), http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	// セッションCookieの取得
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		// セッションをDBから削除
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	h.clearCookie(w, sessionCookieName, h.config.CookieDomain)
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Me は現在のログインユーザー情報を返す。出品者の場合は店舗名も含む。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), cookie.Value)
	if err != nil {
		slog.Warn("failed to get current user", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *AuthHandler) setShortLivedCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   oauthCookieMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter, name, domain string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// siteURL はフロントエンドのURLを返す。pathが空の場合はBaseURLそのもの。
func (h *AuthHandler) siteURL(path string) string {
	if path == "" {
		return h.config.BaseURL
	}
	return strings.TrimRight(h.config.BaseURL, "/") + path
}

func (h *AuthHandler) loginErrorURL(code string) string {
	return h.siteURL("/login?" + url.Values{"error": {code}}.Encode())
}

// safeReturnPath はログイン後の戻り先として安全なサイト内パスのみを返す。
// 外部サイトへのオープンリダイレクトになり得る値は空文字にする。
func safeReturnPath(raw string) string {
	if raw == "" || len(raw) > maxReturnPathBytes || !strings.HasPrefix(raw, "/") {
		return ""
	}
	if strings.HasPrefix(raw, "//") || strings.ContainsAny(raw, "\\\r\n\t") {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	return raw
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
