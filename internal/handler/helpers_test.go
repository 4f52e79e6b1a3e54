package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/marketplace/internal/middleware"
	"github.com/hitoshi/marketplace/internal/model"
)

// withUserID はセッションミドルウェア通過後と同じコンテキストを持つリクエストを返す。
func withUserID(req *http.Request, userID string) *http.Request {
	return req.WithContext(middleware.ContextWithUserID(req.Context(), userID))
}

// withSeller はRequireSellerミドルウェア通過後と同じコンテキストを持つリクエストを返す。
func withSeller(t *testing.T, req *http.Request, seller *model.User) *http.Request {
	t.Helper()
	req = withUserID(req, seller.ID)

	var out *http.Request
	finder := sellerFinder{seller}
	middleware.NewRequireSellerMiddleware(finder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out = r
	})).ServeHTTP(httptest.NewRecorder(), req)
	if out == nil {
		t.Fatal("seller context was not injected")
	}
	return out
}

type sellerFinder struct {
	user *model.User
}

func (f sellerFinder) FindByID(ctx context.Context, id string) (*model.User, error) {
	if f.user != nil && f.user.ID == id {
		return f.user, nil
	}
	return nil, nil
}

func testSeller() *model.User {
	return &model.User{ID: "seller-1", Name: "Alice", IsSeller: true, StoreName: "Alice's Pottery"}
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeJSONBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response body: %v\nraw: %s", err, w.Body.String())
	}
}

// assertAPIError はステータスコードと統一エラーフォーマットのcodeを検証する。
func assertAPIError(t *testing.T, w *httptest.ResponseRecorder, wantStatus int, wantCode string) {
	t.Helper()
	if w.Code != wantStatus {
		t.Errorf("status = %d, want %d (body: %s)", w.Code, wantStatus, w.Body.String())
	}
	var body middleware.ErrorResponseBody
	decodeJSONBody(t, w, &body)
	if body.Code != wantCode {
		t.Errorf("code = %q, want %q", body.Code, wantCode)
	}
}
