// Package points は出品者ごとのポイントプログラムと特典交換のドメインロジックを提供する。
package points

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/marketplace/internal/model"
	"github.com/hitoshi/marketplace/internal/repository"
)

const (
	maxRewardTitleLength       = 100
	maxRewardDescriptionLength = 1000
	maxPointsCost              = 10_000_000
	maxRewardStock             = 1_000_000
	defaultHistoryLimit        = 50
	maxHistoryLimit            = 200
)

// Metrics はポイントメトリクスの記録インターフェース。
type Metrics interface {
	RecordPointsAwarded(points int64)
	RecordRewardRedeemed()
}

// Sanitizer は利用者入力をプレーンテキストに変換するインターフェース。
type Sanitizer interface {
	PlainText(input string) string
}

// Service はポイントのサービス層。
type Service struct {
	repo      repository.PointsRepository
	sanitizer Sanitizer
	metrics   Metrics
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.PointsRepository, sanitizer Sanitizer, metrics Metrics) *Service {
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		metrics:   metrics,
		now:       time.Now,
	}
}

// ProgramInput はポイントプログラム設定の入力を表す。
type ProgramInput struct {
	Enabled          bool
	MinPurchaseCents int64
	PointsPerOrder   int64
	PointsPerUnit    int64
	UnitCents        int64
}

// GetProgram は出品者のポイントプログラムを返す。未設定の場合は無効なプログラムを返す。
func (s *Service) GetProgram(ctx context.Context, sellerID string) (*model.RewardsProgram, error) {
	p, err := s.repo.FindProgram(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return &model.RewardsProgram{SellerID: sellerID}, nil
	}
	return p, nil
}

// PutProgram は出品者のポイントプログラムを作成または更新する。
// 変更は以後に完了した注文から適用される。
func (s *Service) PutProgram(ctx context.Context, sellerID string, in ProgramInput) (*model.RewardsProgram, error) {
	p := &model.RewardsProgram{
		SellerID:         sellerID,
		Enabled:          in.Enabled,
		MinPurchaseCents: in.MinPurchaseCents,
		PointsPerOrder:   in.PointsPerOrder,
		PointsPerUnit:    in.PointsPerUnit,
		UnitCents:        in.UnitCents,
		UpdatedAt:        s.now(),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.UpsertProgram(ctx, p); err != nil {
		return nil, err
	}

	slog.Info("ポイントプログラムを更新しました",
		slog.String("seller_id", sellerID),
		slog.Bool("enabled", p.Enabled),
	)
	return p, nil
}

// ListBalances は購入者の出品者ごとのポイント残高を返す。
func (s *Service) ListBalances(ctx context.Context, buyerID string) ([]model.PointsBalance, error) {
	return s.repo.ListBalances(ctx, buyerID)
}

// ListLedger は購入者のポイント履歴を新しい順に返す。
func (s *Service) ListLedger(ctx context.Context, buyerID string, limit int) ([]model.PointsEntry, error) {
	return s.repo.ListLedger(ctx, buyerID, clampLimit(limit))
}

// ListRewards は出品者の交換可能な特典を返す。
func (s *Service) ListRewards(ctx context.Context, sellerID string) ([]*model.Reward, error) {
	return s.repo.ListRewards(ctx, sellerID, true)
}

// ListSellerRewards は出品者自身の全特典（停止中を含む）を返す。
func (s *Service) ListSellerRewards(ctx context.Context, sellerID string) ([]*model.Reward, error) {
	return s.repo.ListRewards(ctx, sellerID, false)
}

// RewardInput は特典作成の入力を表す。Stockがnilの場合は無制限。
type RewardInput struct {
	Title       string
	Description string
	PointsCost  int64
	Stock       *int
	IsActive    bool
}

// CreateReward は特典を作成する。
func (s *Service) CreateReward(ctx context.Context, sellerID string, in RewardInput) (*model.Reward, error) {
	now := s.now()
	r := &model.Reward{
		ID:          uuid.New().String(),
		SellerID:    sellerID,
		Title:       s.plain(in.Title),
		Description: s.plain(in.Description),
		PointsCost:  in.PointsCost,
		Stock:       in.Stock,
		IsActive:    in.IsActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := validateReward(r); err != nil {
		return nil, err
	}
	if err := s.repo.CreateReward(ctx, r); err != nil {
		return nil, err
	}

	slog.Info("特典を作成しました",
		slog.String("seller_id", sellerID),
		slog.String("reward_id", r.ID),
	)
	return r, nil
}

// RewardUpdate は特典の部分更新を表す。nilのフィールドは変更しない。
// UnlimitedStockがtrueの場合は在庫を無制限にする。
type RewardUpdate struct {
	Title          *string
	Description    *string
	PointsCost     *int64
	Stock          *int
	UnlimitedStock bool
	IsActive       *bool
}

// UpdateReward は出品者自身の特典を更新する。
func (s *Service) UpdateReward(ctx context.Context, sellerID, rewardID string, in RewardUpdate) (*model.Reward, error) {
	r, err := s.repo.FindReward(ctx, rewardID)
	if err != nil {
		return nil, err
	}
	if r == nil || r.SellerID != sellerID {
		return nil, model.NewRewardNotFoundError(rewardID)
	}

	if in.Title != nil {
		r.Title = s.plain(*in.Title)
	}
	if in.Description != nil {
		r.Description = s.plain(*in.Description)
	}
	if in.PointsCost != nil {
		r.PointsCost = *in.PointsCost
	}
	switch {
	case in.UnlimitedStock:
		r.Stock = nil
	case in.Stock != nil:
		stock := *in.Stock
		r.Stock = &stock
	}
	if in.IsActive != nil {
		r.IsActive = *in.IsActive
	}
	r.UpdatedAt = s.now()

	if err := validateReward(r); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateReward(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Redeem は購入者のポイントを特典と交換する。残高と特典在庫は負にならない。
func (s *Service) Redeem(ctx context.Context, buyerID, rewardID string) (*model.Redemption, error) {
	redemption, err := s.repo.Redeem(ctx, buyerID, rewardID, s.now())
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordRewardRedeemed()
	}
	slog.Info("特典を交換しました",
		slog.String("buyer_id", buyerID),
		slog.String("reward_id", rewardID),
		slog.Int64("points", redemption.PointsSpent),
	)
	return redemption, nil
}

// ListRedemptions は出品者の特典交換履歴を返す。
func (s *Service) ListRedemptions(ctx context.Context, sellerID string, limit int) ([]model.Redemption, error) {
	return s.repo.ListRedemptionsBySeller(ctx, sellerID, clampLimit(limit))
}

func (s *Service) plain(input string) string {
	if s.sanitizer != nil {
		input = s.sanitizer.PlainText(input)
	}
	return strings.TrimSpace(input)
}

func validateReward(r *model.Reward) error {
	switch {
	case r.Title == "":
		return model.NewValidationError("title is required")
	case utf8.RuneCountInString(r.Title) > maxRewardTitleLength:
		return model.NewValidationError(fmt.Sprintf("title must be at most %d characters", maxRewardTitleLength))
	case utf8.RuneCountInString(r.Description) > maxRewardDescriptionLength:
		return model.NewValidationError(fmt.Sprintf("description must be at most %d characters", maxRewardDescriptionLength))
	case r.PointsCost <= 0 || r.PointsCost > maxPointsCost:
		return model.NewValidationError(fmt.Sprintf("points_cost must be between 1 and %d", maxPointsCost))
	case r.Stock != nil && (*r.Stock < 0 || *r.Stock > maxRewardStock):
		return model.NewValidationError(fmt.Sprintf("stock must be between 0 and %d", maxRewardStock))
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
