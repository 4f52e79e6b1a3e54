package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/marketplace/internal/model"
	"github.com/hitoshi/marketplace/internal/points"
)

// mockPointsService はPointsServiceInterfaceのモック実装。
// 未設定のメソッドはゼロ値を返す。
type mockPointsService struct {
	getProgramFn        func(ctx context.Context, sellerID string) (*model.RewardsProgram, error)
	putProgramFn        func(ctx context.Context, sellerID string, in points.ProgramInput) (*model.RewardsProgram, error)
	listBalancesFn      func(ctx context.Context, buyerID string) ([]model.PointsBalance, error)
	listLedgerFn        func(ctx context.Context, buyerID string, limit int) ([]model.PointsEntry, error)
	listRewardsFn       func(ctx context.Context, sellerID string) ([]*model.Reward, error)
	listSellerRewardsFn func(ctx context.Context, sellerID string) ([]*model.Reward, error)
	createRewardFn      func(ctx context.Context, sellerID string, in points.RewardInput) (*model.Reward, error)
	updateRewardFn      func(ctx context.Context, sellerID, rewardID string, in points.RewardUpdate) (*model.Reward, error)
	redeemFn            func(ctx context.Context, buyerID, rewardID string) (*model.Redemption, error)
	listRedemptionsFn   func(ctx context.Context, sellerID string, limit int) ([]model.Redemption, error)
}

func (m *mockPointsService) GetProgram(ctx context.Context, sellerID string) (*model.RewardsProgram, error) {
	if m.getProgramFn != nil {
		return m.getProgramFn(ctx, sellerID)
	}
	return &model.RewardsProgram{SellerID: sellerID}, nil
}

func (m *mockPointsService) PutProgram(ctx context.Context, sellerID string, in points.ProgramInput) (*model.RewardsProgram, error) {
	if m.putProgramFn != nil {
		return m.putProgramFn(ctx, sellerID, in)
	}
	return &model.RewardsProgram{SellerID: sellerID}, nil
}

func (m *mockPointsService) ListBalances(ctx context.Context, buyerID string) ([]model.PointsBalance, error) {
	if m.listBalancesFn != nil {
		return m.listBalancesFn(ctx, buyerID)
	}
	return nil, nil
}

func (m *mockPointsService) ListLedger(ctx context.Context, buyerID string, limit int) ([]model.PointsEntry, error) {
	if m.listLedgerFn != nil {
		return m.listLedgerFn(ctx, buyerID, limit)
	}
	return nil, nil
}

func (m *mockPointsService) ListRewards(ctx context.Context, sellerID string) ([]*model.Reward, error) {
	if m.listRewardsFn != nil {
		return m.listRewardsFn(ctx, sellerID)
	}
	return nil, nil
}

func (m *mockPointsService) ListSellerRewards(ctx context.Context, sellerID string) ([]*model.Reward, error) {
	if m.listSellerRewardsFn != nil {
		return m.listSellerRewardsFn(ctx, sellerID)
	}
	return nil, nil
}

func (m *mockPointsService) CreateReward(ctx context.Context, sellerID string, in points.RewardInput) (*model.Reward, error) {
	if m.createRewardFn != nil {
		return m.createRewardFn(ctx, sellerID, in)
	}
	return &model.Reward{ID: "r-1", SellerID: sellerID, Title: in.Title, PointsCost: in.PointsCost, Stock: in.Stock, IsActive: in.IsActive}, nil
}

func (m *mockPointsService) UpdateReward(ctx context.Context, sellerID, rewardID string, in points.RewardUpdate) (*model.Reward, error) {
	if m.updateRewardFn != nil {
		return m.updateRewardFn(ctx, sellerID, rewardID, in)
	}
	return &model.Reward{ID: rewardID, SellerID: sellerID}, nil
}

func (m *mockPointsService) Redeem(ctx context.Context, buyerID, rewardID string) (*model.Redemption, error) {
	if m.redeemFn != nil {
		return m.redeemFn(ctx, buyerID, rewardID)
	}
	return &model.Redemption{ID: "rd-1", RewardID: rewardID, BuyerID: buyerID}, nil
}

func (m *mockPointsService) ListRedemptions(ctx context.Context, sellerID string, limit int) ([]model.Redemption, error) {
	if m.listRedemptionsFn != nil {
		return m.listRedemptionsFn(ctx, sellerID, limit)
	}
	return nil, nil
}

func intPtr(v int) *int { return &v }

// --- 購入者向け ---

func TestPointsHandler_ListBalances(t *testing.T) {
	h := NewPointsHandler(&mockPointsService{
		listBalancesFn: func(ctx context.Context, buyerID string) ([]model.PointsBalance, error) {
			return []model.PointsBalance{
				{BuyerID: buyerID, SellerID: "seller-1", SellerName: "Alice's Pottery", Balance: 120, LifetimeEarned: 300},
			}, nil
		},
	})

	w := httptest.NewRecorder()
	h.ListBalances(w, withUserID(httptest.NewRequest(http.MethodGet, "/api/points", nil), "buyer-1"))

	var body struct {
		Balances []balanceResponse `json:"balances"`
	}
	decodeJSONBody(t, w, &body)
	if len(body.Balances) != 1 || body.Balances[0].Balance != 120 || body.Balances[0].LifetimeEarned != 300 {
		t.Errorf("balances = %+v", body.Balances)
	}
}

func TestPointsHandler_ListLedger(t *testing.T) {
	var gotLimit int
	h := NewPointsHandler(&mockPointsService{
		listLedgerFn: func(ctx context.Context, buyerID string, limit int) ([]model.PointsEntry, error) {
			gotLimit = limit
			return []model.PointsEntry{
				{ID: "e-1", SellerID: "seller-1", OrderID: "order-1", Delta: 30, Reason: model.PointsReasonOrderAward},
				{ID: "e-2", SellerID: "seller-1", RedemptionID: "rd-1", Delta: -50, Reason: model.PointsReasonRedemption},
			}, nil
		},
	})

	w := httptest.NewRecorder()
	h.ListLedger(w, withUserID(httptest.NewRequest(http.MethodGet, "/api/points/history?limit=10", nil), "buyer-1"))

	if gotLimit != 10 {
		t.Errorf("limit = %d, want 10", gotLimit)
	}
	var body struct {
		Entries []ledgerEntryResponse `json:"entries"`
	}
	decodeJSONBody(t, w, &body)
	if len(body.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(body.Entries))
	}
	if body.Entries[1].Delta != -50 || body.Entries[1].Reason != "redemption" {
		t.Errorf("entry = %+v", body.Entries[1])
	}
}

func TestPointsHandler_ListRewards_RequiresSellerID(t *testing.T) {
	h := NewPointsHandler(&mockPointsService{})

	w := httptest.NewRecorder()
	h.ListRewards(w, httptest.NewRequest(http.MethodGet, "/api/rewards", nil))

	assertAPIError(t, w, http.StatusBadRequest, model.ErrCodeInvalidRequest)
}

func TestPointsHandler_ListRewards(t *testing.T) {
	h := NewPointsHandler(&mockPointsService{
		listRewardsFn: func(ctx context.Context, sellerID string) ([]*model.Reward, error) {
			return []*model.Reward{
				{ID: "r-1", SellerID: sellerID, Title: "送料無料クーポン", PointsCost: 100, IsActive: true},
				{ID: "r-2", SellerID: sellerID, Title: "限定マグ", PointsCost: 500, Stock: intPtr(0), IsActive: true},
			}, nil
		},
	})

	w := httptest.NewRecorder()
	h.ListRewards(w, httptest.NewRequest(http.MethodGet, "/api/rewards?seller_id=seller-1", nil))

	var body struct {
		Rewards []rewardResponse `json:"rewards"`
	}
	decodeJSONBody(t, w, &body)
	if len(body.Rewards) != 2 {
		t.Fatalf("rewards = %d, want 2", len(body.Rewards))
	}
	if !body.Rewards[0].Available || body.Rewards[0].Stock != nil {
		t.Errorf("unlimited reward = %+v", body.Rewards[0])
	}
	if body.Rewards[1].Available {
		t.Error("out of stock reward should not be available")
	}
}

func TestPointsHandler_Redeem(t *testing.T) {
	h := NewPointsHandler(&mockPointsService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/rewards/r-1/redeem", nil)
	h.Redeem(w, withChiParams(withUserID(req, "buyer-1"), "id", "r-1"))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	var body redemptionResponse
	decodeJSONBody(t, w, &body)
	if body.RewardID != "r-1" || body.BuyerID != "buyer-1" {
		t.Errorf("body = %+v", body)
	}
}

func TestPointsHandler_Redeem_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "ポイント不足", err: model.NewInsufficientPointsError(10, 100), wantStatus: http.StatusConflict, wantCode: model.ErrCodeInsufficientPoints},
		{name: "在庫切れ", err: model.NewRewardOutOfStockError(), wantStatus: http.StatusConflict, wantCode: model.ErrCodeRewardOutOfStock},
		{name: "特典なし", err: model.NewRewardNotFoundError("r-9"), wantStatus: http.StatusNotFound, wantCode: model.ErrCodeRewardNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewPointsHandler(&mockPointsService{
				redeemFn: func(ctx context.Context, buyerID, rewardID string) (*model.Redemption, error) {
					return nil, tt.err
				},
			})

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/rewards/r-1/redeem", nil)
			h.Redeem(w, withChiParams(withUserID(req, "buyer-1"), "id", "r-1"))

			assertAPIError(t, w, tt.wantStatus, tt.wantCode)
		})
	}
}

// --- 出品者向け ---

func TestPointsHandler_SellerEndpoints_RequireSellerContext(t *testing.T) {
	h := NewPointsHandler(&mockPointsService{})

	handlers := map[string]http.HandlerFunc{
		"GetProgram":        h.GetProgram,
		"PutProgram":        h.PutProgram,
		"ListSellerRewards": h.ListSellerRewards,
		"CreateReward":      h.CreateReward,
		"UpdateReward":      h.UpdateReward,
		"ListRedemptions":   h.ListRedemptions,
	}
	for name, fn := range handlers {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			fn(w, withUserID(jsonRequest(http.MethodPost, "/api/seller/x", `{}`), "buyer-1"))

			assertAPIError(t, w, http.StatusForbidden, model.ErrCodeForbidden)
		})
	}
}

func TestPointsHandler_PutProgram(t *testing.T) {
	var gotSeller string
	var gotInput points.ProgramInput
	h := NewPointsHandler(&mockPointsService{
		putProgramFn: func(ctx context.Context, sellerID string, in points.ProgramInput) (*model.RewardsProgram, error) {
			gotSeller, gotInput = sellerID, in
			return &model.RewardsProgram{SellerID: sellerID, Enabled: in.Enabled, PointsPerOrder: in.PointsPerOrder, PointsPerUnit: in.PointsPerUnit, UnitCents: in.UnitCents}, nil
		},
	})

	w := httptest.NewRecorder()
	req := jsonRequest(http.MethodPut, "/api/seller/rewards-program", `{"enabled":true,"min_purchase_cents":1000,"points_per_order":10,"points_per_unit":1,"unit_cents":100}`)
	h.PutProgram(w, withSeller(t, req, testSeller()))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}
	want := points.ProgramInput{Enabled: true, MinPurchaseCents: 1000, PointsPerOrder: 10, PointsPerUnit: 1, UnitCents: 100}
	if gotSeller != "seller-1" || gotInput != want {
		t.Errorf("PutProgram called with (%q, %+v)", gotSeller, gotInput)
	}
}

func TestPointsHandler_PutProgram_Invalid(t *testing.T) {
	h := NewPointsHandler(&mockPointsService{
		putProgramFn: func(ctx context.Context, sellerID string, in points.ProgramInput) (*model.RewardsProgram, error) {
			return nil, model.NewInvalidRewardsProgramError("unit_cents is required when points_per_unit is set")
		},
	})

	w := httptest.NewRecorder()
	req := jsonRequest(http.MethodPut, "/api/seller/rewards-program", `{"enabled":true,"points_per_unit":1}`)
	h.PutProgram(w, withSeller(t, req, testSeller()))

	assertAPIError(t, w, http.StatusBadRequest, model.ErrCodeInvalidRewardsProgram)
}

func TestPointsHandler_CreateReward_DefaultsActive(t *testing.T) {
	var gotInput points.RewardInput
	h := NewPointsHandler(&mockPointsService{
		createRewardFn: func(ctx context.Context, sellerID string, in points.RewardInput) (*model.Reward, error) {
			gotInput = in
			return &model.Reward{ID: "r-1", SellerID: sellerID, Title: in.Title, PointsCost: in.PointsCost, Stock: in.Stock, IsActive: in.IsActive}, nil
		},
	})

	w := httptest.NewRecorder()
	req := jsonRequest(http.MethodPost, "/api/seller/rewards", `{"title":"送料無料クーポン","points_cost":100,"stock":5}`)
	h.CreateReward(w, withSeller(t, req, testSeller()))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, http.StatusCreated, w.Body.String())
	}
	if !gotInput.IsActive {
		t.Error("reward should be active when is_active is omitted")
	}
	if gotInput.Stock == nil || *gotInput.Stock != 5 {
		t.Errorf("Stock = %v, want 5", gotInput.Stock)
	}
}

func TestPointsHandler_CreateReward_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "タイトルなし", body: `{"points_cost":100}`},
		{name: "ポイント0", body: `{"title":"x","points_cost":0}`},
		{name: "在庫が負", body: `{"title":"x","points_cost":10,"stock":-1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewPointsHandler(&mockPointsService{
				createRewardFn: func(ctx context.Context, sellerID string, in points.RewardInput) (*model.Reward, error) {
					t.Fatal("service should not be called")
					return nil, nil
				},
			})

			w := httptest.NewRecorder()
			h.CreateReward(w, withSeller(t, jsonRequest(http.MethodPost, "/api/seller/rewards", tt.body), testSeller()))

			assertAPIError(t, w, http.StatusBadRequest, model.ErrCodeInvalidRequest)
		})
	}
}

func TestPointsHandler_UpdateReward(t *testing.T) {
	var gotID string
	var gotUpdate points.RewardUpdate
	h := NewPointsHandler(&mockPointsService{
		updateRewardFn: func(ctx context.Context, sellerID, rewardID string, in points.RewardUpdate) (*model.Reward, error) {
			gotID, gotUpdate = rewardID, in
			return &model.Reward{ID: rewardID, SellerID: sellerID, Title: "x", PointsCost: 100, IsActive: false}, nil
		},
	})

	w := httptest.NewRecorder()
	req := jsonRequest(http.MethodPatch, "/api/seller/rewards/r-1", `{"is_active":false,"unlimited_stock":true}`)
	h.UpdateReward(w, withChiParams(withSeller(t, req, testSeller()), "id", "r-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}
	if gotID != "r-1" {
		t.Errorf("rewardID = %q", gotID)
	}
	if gotUpdate.IsActive == nil || *gotUpdate.IsActive {
		t.Errorf("IsActive = %v, want false", gotUpdate.IsActive)
	}
	if !gotUpdate.UnlimitedStock || gotUpdate.Title != nil {
		t.Errorf("update = %+v", gotUpdate)
	}
}

func TestPointsHandler_ListRedemptions(t *testing.T) {
	h := NewPointsHandler(&mockPointsService{
		listRedemptionsFn: func(ctx context.Context, sellerID string, limit int) ([]model.Redemption, error) {
			return []model.Redemption{{ID: "rd-1", RewardTitle: "限定マグ", SellerID: sellerID, PointsSpent: 500}}, nil
		},
	})

	w := httptest.NewRecorder()
	h.ListRedemptions(w, withSeller(t, httptest.NewRequest(http.MethodGet, "/api/seller/redemptions", nil), testSeller()))

	var body struct {
		Redemptions []redemptionResponse `json:"redemptions"`
	}
	decodeJSONBody(t, w, &body)
	if len(body.Redemptions) != 1 || body.Redemptions[0].PointsSpent != 500 {
		t.Errorf("redemptions = %+v", body.Redemptions)
	}
}
