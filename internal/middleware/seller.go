package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/marketplace/internal/model"
)

// UserFinder はユーザーの検索に必要なインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// NewRequireSellerMiddleware は出品者登録済みのユーザーのみを通過させるミドルウェアを返す。
// セッションミドルウェアの後に配置する。出品者でない場合は403を返す。
// 通過したリクエストのコンテキストには出品者のユーザー情報が注入される。
func NewRequireSellerMiddleware(users UserFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			user, err := users.FindByID(r.Context(), userID)
			if err != nil {
				slog.Error("failed to find user",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if user == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if !user.IsSeller {
				WriteErrorResponse(w, http.StatusForbidden, model.NewSellerOnlyError())
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
