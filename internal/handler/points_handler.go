package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/marketplace/internal/middleware"
	"github.com/hitoshi/marketplace/internal/model"
	"github.com/hitoshi/marketplace/internal/points"
)

// PointsServiceInterface はポイントハンドラーが必要とするサービスインターフェース。
type PointsServiceInterface interface {
	GetProgram(ctx context.Context, sellerID string) (*model.RewardsProgram, error)
	PutProgram(ctx context.Context, sellerID string, in points.ProgramInput) (*model.RewardsProgram, error)
	ListBalances(ctx context.Context, buyerID string) ([]model.PointsBalance, error)
	ListLedger(ctx context.Context, buyerID string, limit int) ([]model.PointsEntry, error)
	ListRewards(ctx context.Context, sellerID string) ([]*model.Reward, error)
	ListSellerRewards(ctx context.Context, sellerID string) ([]*model.Reward, error)
	CreateReward(ctx context.Context, sellerID string, in points.RewardInput) (*model.Reward, error)
	UpdateReward(ctx context.Context, sellerID, rewardID string, in points.RewardUpdate) (*model.Reward, error)
	Redeem(ctx context.Context, buyerID, rewardID string) (*model.Redemption, error)
	ListRedemptions(ctx context.Context, sellerID string, limit int) ([]model.Redemption, error)
}

// PointsHandler はポイント、特典、ポイントプログラムのHTTPハンドラー。
type PointsHandler struct {
	service PointsServiceInterface
}

// NewPointsHandler はPointsHandlerを生成する。
func NewPointsHandler(service PointsServiceInterface) *PointsHandler {
	return &PointsHandler{service: service}
}

type programRequest struct {
	Enabled          bool  `json:"enabled"`
	MinPurchaseCents int64 `json:"min_purchase_cents" validate:"min=0"`
	PointsPerOrder   int64 `json:"points_per_order" validate:"min=0"`
	PointsPerUnit    int64 `json:"points_per_unit" validate:"min=0"`
	UnitCents        int64 `json:"unit_cents" validate:"min=0"`
}

type createRewardRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
	PointsCost  int64  `json:"points_cost" validate:"required,min=1"`
	Stock       *int   `json:"stock" validate:"omitempty,min=0"`
	IsActive    *bool  `json:"is_active"`
}

type updateRewardRequest struct {
	Title          *string `json:"title" validate:"omitempty,max=200"`
	Description    *string `json:"description" validate:"omitempty,max=2000"`
	PointsCost     *int64  `json:"points_cost" validate:"omitempty,min=1"`
	Stock          *int    `json:"stock" validate:"omitempty,min=0"`
	UnlimitedStock bool    `json:"unlimited_stock"`
	IsActive       *bool   `json:"is_active"`
}

type programResponse struct {
	SellerID         string `json:"seller_id"`
	Enabled          bool   `json:"enabled"`
	MinPurchaseCents int64  `json:"min_purchase_cents"`
	PointsPerOrder   int64  `json:"points_per_order"`
	PointsPerUnit    int64  `json:"points_per_unit"`
	UnitCents        int64  `json:"unit_cents"`
}

type balanceResponse struct {
	SellerID       string `json:"seller_id"`
	SellerName     string `json:"seller_name"`
	Balance        int64  `json:"balance"`
	LifetimeEarned int64  `json:"lifetime_earned"`
}

type ledgerEntryResponse struct {
	ID           string    `json:"id"`
	SellerID     string    `json:"seller_id"`
	OrderID      string    `json:"order_id,omitempty"`
	RedemptionID string    `json:"redemption_id,omitempty"`
	Delta        int64     `json:"delta"`
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"created_at"`
}

type rewardResponse struct {
	ID          string `json:"id"`
	SellerID    string `json:"seller_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	PointsCost  int64  `json:"points_cost"`
	Stock       *int   `json:"stock"`
	IsActive    bool   `json:"is_active"`
	Available   bool   `json:"available"`
}

type redemptionResponse struct {
	ID          string    `json:"id"`
	RewardID    string    `json:"reward_id"`
	RewardTitle string    `json:"reward_title"`
	BuyerID     string    `json:"buyer_id"`
	SellerID    string    `json:"seller_id"`
	PointsSpent int64     `json:"points_spent"`
	CreatedAt   time.Time `json:"created_at"`
}

// --- 購入者向け ---

// ListBalances は出品者ごとのポイント残高を返す。
// GET /api/points
func (h *PointsHandler) ListBalances(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	balances, err := h.service.ListBalances(r.Context(), buyerID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]balanceResponse, len(balances))
	for i, b := range balances {
		resp[i] = balanceResponse{
			SellerID:       b.SellerID,
			SellerName:     b.SellerName,
			Balance:        b.Balance,
			LifetimeEarned: b.LifetimeEarned,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"balances": resp})
}

// ListLedger はポイント履歴を返す。
// GET /api/points/history?limit=50
func (h *PointsHandler) ListLedger(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	entries, err := h.service.ListLedger(r.Context(), buyerID, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]ledgerEntryResponse, len(entries))
	for i, e := range entries {
		resp[i] = ledgerEntryResponse{
			ID:           e.ID,
			SellerID:     e.SellerID,
			OrderID:      e.OrderID,
			RedemptionID: e.RedemptionID,
			Delta:        e.Delta,
			Reason:       string(e.Reason),
			CreatedAt:    e.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": resp})
}

// ListRewards は出品者の交換可能な特典を返す。
// GET /api/rewards?seller_id=xxx
func (h *PointsHandler) ListRewards(w http.ResponseWriter, r *http.Request) {
	sellerID := r.URL.Query().Get("seller_id")
	if sellerID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("seller_id is required"))
		return
	}

	rewards, err := h.service.ListRewards(r.Context(), sellerID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rewards": toRewardResponses(rewards)})
}

// Redeem はポイントを特典と交換する。
// POST /api/rewards/{id}/redeem
func (h *PointsHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	redemption, err := h.service.Redeem(r.Context(), buyerID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRedemptionResponse(*redemption))
}

// --- 出品者向け ---

// GetProgram は出品者のポイントプログラムを返す。
// GET /api/seller/rewards-program
func (h *PointsHandler) GetProgram(w http.ResponseWriter, r *http.Request) {
	seller, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusForbidden, model.NewSellerOnlyError())
		return
	}

	p, err := h.service.GetProgram(r.Context(), seller.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProgramResponse(p))
}

// PutProgram は出品者のポイントプログラムを作成または更新する。
// PUT /api/seller/rewards-program
func (h *PointsHandler) PutProgram(w http.ResponseWriter, r *http.Request) {
	seller, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusForbidden, model.NewSellerOnlyError())
		return
	}

	var req programRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.service.PutProgram(r.Context(), seller.ID, points.ProgramInput{
		Enabled:          req.Enabled,
		MinPurchaseCents: req.MinPurchaseCents,
		PointsPerOrder:   req.PointsPerOrder,
		PointsPerUnit:    req.PointsPerUnit,
		UnitCents:        req.UnitCents,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProgramResponse(p))
}

// ListSellerRewards は出品者自身の全特典を返す。
// GET /api/seller/rewards
func (h *PointsHandler) ListSellerRewards(w http.ResponseWriter, r *http.Request) {
	seller, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusForbidden, model.NewSellerOnlyError())
		return
	}

	rewards, err := h.service.ListSellerRewards(r.Context(), seller.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rewards": toRewardResponses(rewards)})
}

// CreateReward は特典を作成する。is_active省略時は公開状態で作成する。
// POST /api/seller/rewards
func (h *PointsHandler) CreateReward(w http.ResponseWriter, r *http.Request) {
	seller, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusForbidden, model.NewSellerOnlyError())
		return
	}

	var req createRewardRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	reward, err := h.service.CreateReward(r.Context(), seller.ID, points.RewardInput{
		Title:       req.Title,
		Description: req.Description,
		PointsCost:  req.PointsCost,
		Stock:       req.Stock,
		IsActive:    active,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRewardResponse(reward))
}

// UpdateReward は特典を部分更新する。
// PATCH /api/seller/rewards/{id}
func (h *PointsHandler) UpdateReward(w http.ResponseWriter, r *http.Request) {
	seller, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusForbidden, model.NewSellerOnlyError())
		return
	}

	var req updateRewardRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	reward, err := h.service.UpdateReward(r.Context(), seller.ID, chi.URLParam(r, "id"), points.RewardUpdate{
		Title:          req.Title,
		Description:    req.Description,
		PointsCost:     req.PointsCost,
		Stock:          req.Stock,
		UnlimitedStock: req.UnlimitedStock,
		IsActive:       req.IsActive,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardResponse(reward))
}

// ListRedemptions は特典の交換履歴を返す。
// GET /api/seller/redemptions?limit=50
func (h *PointsHandler) ListRedemptions(w http.ResponseWriter, r *http.Request) {
	seller, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusForbidden, model.NewSellerOnlyError())
		return
	}

	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	redemptions, err := h.service.ListRedemptions(r.Context(), seller.ID, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]redemptionResponse, len(redemptions))
	for i, rd := range redemptions {
		resp[i] = toRedemptionResponse(rd)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"redemptions": resp})
}

func toProgramResponse(p *model.RewardsProgram) programResponse {
	return programResponse{
		SellerID:         p.SellerID,
		Enabled:          p.Enabled,
		MinPurchaseCents: p.MinPurchaseCents,
		PointsPerOrder:   p.PointsPerOrder,
		PointsPerUnit:    p.PointsPerUnit,
		UnitCents:        p.UnitCents,
	}
}

func toRewardResponse(r *model.Reward) rewardResponse {
	return rewardResponse{
		ID:          r.ID,
		SellerID:    r.SellerID,
		Title:       r.Title,
		Description: r.Description,
		PointsCost:  r.PointsCost,
		Stock:       r.Stock,
		IsActive:    r.IsActive,
		Available:   r.Available(),
	}
}

func toRewardResponses(rewards []*model.Reward) []rewardResponse {
	resp := make([]rewardResponse, len(rewards))
	for i, r := range rewards {
		resp[i] = toRewardResponse(r)
	}
	return resp
}

func toRedemptionResponse(r model.Redemption) redemptionResponse {
	return redemptionResponse{
		ID:          r.ID,
		RewardID:    r.RewardID,
		RewardTitle: r.RewardTitle,
		BuyerID:     r.BuyerID,
		SellerID:    r.SellerID,
		PointsSpent: r.PointsSpent,
		CreatedAt:   r.CreatedAt,
	}
}
