package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/marketplace/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	GetProfile(ctx context.Context, userID string) (*model.User, error)
	BecomeSeller(ctx context.Context, userID, storeName string) (*model.User, error)
	// Withdraw はユーザーの退会処理を実行する。
	// 未完了の注文がある場合は拒否される。
	Withdraw(ctx context.Context, userID string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

type becomeSellerRequest struct {
	StoreName string `json:"store_name" validate:"required,max=100"`
}

type userResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	IsSeller    bool      `json:"is_seller"`
	StoreName   string    `json:"store_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// GetMe はログインユーザーのプロフィールを返す。
// GET /api/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	user, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// BecomeSeller はログインユーザーを出品者として登録する。
// POST /api/users/me/seller
func (h *UserHandler) BecomeSeller(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req becomeSellerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.service.BecomeSeller(r.Context(), userID, req.StoreName)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		DisplayName: u.DisplayName(),
		IsSeller:    u.IsSeller,
		StoreName:   u.StoreName,
		CreatedAt:   u.CreatedAt,
	}
}
