package model

import (
	"fmt"
	"time"
)

// RewardsProgram は出品者ごとのポイントプログラム設定を表す。
// 注文合計がMinPurchaseCents以上のとき、PointsPerOrderに加えて
// UnitCentsごとにPointsPerUnitを付与する（UnitCentsが0なら比例分は付与しない）。
type RewardsProgram struct {
	SellerID         string
	Enabled          bool
	MinPurchaseCents int64
	PointsPerOrder   int64
	PointsPerUnit    int64
	UnitCents        int64
	UpdatedAt        time.Time
}

// PointsFor は注文合計金額に対する付与ポイントを返す。
func (p *RewardsProgram) PointsFor(totalCents int64) int64 {
	if p == nil || !p.Enabled || totalCents < p.MinPurchaseCents {
		return 0
	}
	points := p.PointsPerOrder
	if p.UnitCents > 0 && p.PointsPerUnit > 0 {
		points += (totalCents / p.UnitCents) * p.PointsPerUnit
	}
	return points
}

// Validate は設定値の整合性を検証する。
func (p *RewardsProgram) Validate() error {
	switch {
	case p.MinPurchaseCents < 0:
		return NewInvalidRewardsProgramError("min_purchase_cents must not be negative")
	case p.PointsPerOrder < 0 || p.PointsPerUnit < 0 || p.UnitCents < 0:
		return NewInvalidRewardsProgramError("points and unit must not be negative")
	case p.PointsPerUnit > 0 && p.UnitCents == 0:
		return NewInvalidRewardsProgramError("unit_cents is required when points_per_unit is set")
	case p.Enabled && p.PointsPerOrder == 0 && p.PointsPerUnit == 0:
		return NewInvalidRewardsProgramError("an enabled program must award points")
	}
	return nil
}

// PointsBalance は購入者が出品者ごとに保有するポイント（user_points）を表す。
type PointsBalance struct {
	BuyerID        string
	SellerID       string
	SellerName     string
	Balance        int64
	LifetimeEarned int64
	UpdatedAt      time.Time
}

// CanRedeem は残高で cost ポイントの特典と交換できるか判定する。
func CanRedeem(balance, cost int64) error {
	if cost <= 0 {
		return NewValidationError(fmt.Sprintf("invalid points cost: %d", cost))
	}
	if balance < cost {
		return NewInsufficientPointsError(balance, cost)
	}
	return nil
}

// PointsReason はポイント増減の理由を表す。
type PointsReason string

const (
	// PointsReasonOrderAward は注文完了による付与。
	PointsReasonOrderAward PointsReason = "order_award"
	// PointsReasonRedemption は特典交換による消費。
	PointsReasonRedemption PointsReason = "redemption"
)

// PointsEntry はポイント台帳（points_ledger）の1行を表す。
type PointsEntry struct {
	ID           string
	BuyerID      string
	SellerID     string
	OrderID      string
	RedemptionID string
	Delta        int64
	Reason       PointsReason
	CreatedAt    time.Time
}

// PointsAward は注文完了時の付与内容を表す。
// (OrderID, PointsReasonOrderAward) で一意となり、重複適用されない。
type PointsAward struct {
	BuyerID  string
	SellerID string
	OrderID  string
	Points   int64
	At       time.Time
}

// Reward は出品者が用意するポイント交換特典を表す。
type Reward struct {
	ID          string
	SellerID    string
	Title       string
	Description string
	PointsCost  int64
	Stock       *int // nilは無制限
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Available は特典が交換可能な状態かどうかを返す。
func (r *Reward) Available() bool {
	return r.IsActive && (r.Stock == nil || *r.Stock > 0)
}

// Redemption は特典交換の記録を表す。
type Redemption struct {
	ID          string
	RewardID    string
	RewardTitle string
	BuyerID     string
	SellerID    string
	PointsSpent int64
	CreatedAt   time.Time
}
