package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/marketplace/internal/model"
)

const rewardColumns = `id, seller_id, title, description, points_cost, stock, is_active, created_at, updated_at`

// PostgresPointsRepo はPostgreSQLを使用したポイントリポジトリ。
// 残高（user_points）は台帳（points_ledger）と同一トランザクションで更新する。
type PostgresPointsRepo struct {
	db *sql.DB
}

// NewPostgresPointsRepo はPostgresPointsRepoを生成する。
func NewPostgresPointsRepo(db *sql.DB) *PostgresPointsRepo {
	return &PostgresPointsRepo{db: db}
}

// FindProgram は出品者のポイントプログラムを取得する。見つからない場合はnilを返す。
func (r *PostgresPointsRepo) FindProgram(ctx context.Context, sellerID string) (*model.RewardsProgram, error) {
	p := &model.RewardsProgram{}
	err := r.db.QueryRowContext(ctx,
		`SELECT seller_id, enabled, min_purchase_cents, points_per_order, points_per_unit, unit_cents, updated_at
		 FROM rewards_programs WHERE seller_id = $1`,
		sellerID,
	).Scan(&p.SellerID, &p.Enabled, &p.MinPurchaseCents, &p.PointsPerOrder, &p.PointsPerUnit, &p.UnitCents, &p.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ポイントプログラムの取得に失敗しました: %w", err)
	}
	return p, nil
}

// UpsertProgram はポイントプログラムを作成または更新する。
func (r *PostgresPointsRepo) UpsertProgram(ctx context.Context, p *model.RewardsProgram) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rewards_programs (seller_id, enabled, min_purchase_cents, points_per_order, points_per_unit, unit_cents, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (seller_id) DO UPDATE SET
		    enabled = EXCLUDED.enabled,
		    min_purchase_cents = EXCLUDED.min_purchase_cents,
		    points_per_order = EXCLUDED.points_per_order,
		    points_per_unit = EXCLUDED.points_per_unit,
		    unit_cents = EXCLUDED.unit_cents,
		    updated_at = EXCLUDED.updated_at`,
		p.SellerID, p.Enabled, p.MinPurchaseCents, p.PointsPerOrder, p.PointsPerUnit, p.UnitCents, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ポイントプログラムの保存に失敗しました: %w", err)
	}
	return nil
}

// ListBalances は購入者の出品者ごとのポイント残高を返す。
func (r *PostgresPointsRepo) ListBalances(ctx context.Context, buyerID string) ([]model.PointsBalance, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT up.buyer_id, up.seller_id, COALESCE(u.store_name, u.name), up.balance, up.lifetime_earned, up.updated_at
		 FROM user_points up
		 INNER JOIN users u ON u.id = up.seller_id
		 WHERE up.buyer_id = $1
		 ORDER BY up.balance DESC, up.updated_at DESC`,
		buyerID,
	)
	if err != nil {
		return nil, fmt.Errorf("ポイント残高の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	balances := []model.PointsBalance{}
	for rows.Next() {
		var b model.PointsBalance
		if err := rows.Scan(&b.BuyerID, &b.SellerID, &b.SellerName, &b.Balance, &b.LifetimeEarned, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ポイント残高の読み取りに失敗しました: %w", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// ListLedger は購入者のポイント履歴を新しい順に返す。
func (r *PostgresPointsRepo) ListLedger(ctx context.Context, buyerID string, limit int) ([]model.PointsEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, buyer_id, seller_id, order_id, redemption_id, delta, reason, created_at
		 FROM points_ledger
		 WHERE buyer_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		buyerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ポイント履歴の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	entries := []model.PointsEntry{}
	for rows.Next() {
		var e model.PointsEntry
		var orderID, redemptionID sql.NullString
		if err := rows.Scan(&e.ID, &e.BuyerID, &e.SellerID, &orderID, &redemptionID, &e.Delta, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ポイント履歴の読み取りに失敗しました: %w", err)
		}
		e.OrderID = nullStringValue(orderID)
		e.RedemptionID = nullStringValue(redemptionID)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Award はポイントを付与する。同じ注文に対する付与が既にある場合は何もせずfalseを返す。
func (r *PostgresPointsRepo) Award(ctx context.Context, award model.PointsAward, event *model.OutboxEvent) (bool, error) {
	awarded := false
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`INSERT INTO points_ledger (id, buyer_id, seller_id, order_id, delta, reason, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (order_id, reason) WHERE order_id IS NOT NULL DO NOTHING`,
			uuid.New().String(), award.BuyerID, award.SellerID, award.OrderID, award.Points,
			model.PointsReasonOrderAward, award.At,
		)
		if err != nil {
			return fmt.Errorf("ポイント台帳の記録に失敗しました: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_points (buyer_id, seller_id, balance, lifetime_earned, updated_at)
			 VALUES ($1, $2, $3, $3, $4)
			 ON CONFLICT (buyer_id, seller_id) DO UPDATE SET
			    balance = user_points.balance + EXCLUDED.balance,
			    lifetime_earned = user_points.lifetime_earned + EXCLUDED.lifetime_earned,
			    updated_at = EXCLUDED.updated_at`,
			award.BuyerID, award.SellerID, award.Points, award.At,
		); err != nil {
			return fmt.Errorf("ポイント残高の更新に失敗しました: %w", err)
		}

		awarded = true
		return insertOutboxEvent(ctx, tx, event)
	})
	if err != nil {
		return false, err
	}
	return awarded, nil
}

func scanReward(s rowScanner) (*model.Reward, error) {
	rw := &model.Reward{}
	var stock sql.NullInt64
	if err := s.Scan(&rw.ID, &rw.SellerID, &rw.Title, &rw.Description, &rw.PointsCost, &stock,
		&rw.IsActive, &rw.CreatedAt, &rw.UpdatedAt); err != nil {
		return nil, err
	}
	rw.Stock = nullIntPtr(stock)
	return rw, nil
}

// FindReward は指定IDの特典を取得する。見つからない場合はnilを返す。
func (r *PostgresPointsRepo) FindReward(ctx context.Context, id string) (*model.Reward, error) {
	rw, err := scanReward(r.db.QueryRowContext(ctx, `SELECT `+rewardColumns+` FROM rewards WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("特典の取得に失敗しました: %w", err)
	}
	return rw, nil
}

// ListRewards は出品者の特典一覧を返す。activeOnlyがtrueの場合は交換可能なもののみ返す。
func (r *PostgresPointsRepo) ListRewards(ctx context.Context, sellerID string, activeOnly bool) ([]*model.Reward, error) {
	query := `SELECT ` + rewardColumns + ` FROM rewards WHERE seller_id = $1`
	if activeOnly {
		query += ` AND is_active = TRUE AND (stock IS NULL OR stock > 0)`
	}
	query += ` ORDER BY points_cost ASC, created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, sellerID)
	if err != nil {
		return nil, fmt.Errorf("特典一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	rewards := []*model.Reward{}
	for rows.Next() {
		rw, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("特典の読み取りに失敗しました: %w", err)
		}
		rewards = append(rewards, rw)
	}
	return rewards, rows.Err()
}

// CreateReward は特典を作成する。
func (r *PostgresPointsRepo) CreateReward(ctx context.Context, rw *model.Reward) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rewards (id, seller_id, title, description, points_cost, stock, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rw.ID, rw.SellerID, rw.Title, rw.Description, rw.PointsCost, intPtrArg(rw.Stock), rw.IsActive,
		rw.CreatedAt, rw.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("特典の作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateReward は出品者の特典を更新する。該当がない場合はREWARD_NOT_FOUNDを返す。
func (r *PostgresPointsRepo) UpdateReward(ctx context.Context, rw *model.Reward) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE rewards SET title = $3, description = $4, points_cost = $5, stock = $6, is_active = $7, updated_at = $8
		 WHERE id = $1 AND seller_id = $2`,
		rw.ID, rw.SellerID, rw.Title, rw.Description, rw.PointsCost, intPtrArg(rw.Stock), rw.IsActive, rw.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("特典の更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.NewRewardNotFoundError(rw.ID)
	}
	return nil
}

// Redeem は残高と特典在庫をロックして特典と交換する。
// 交換記録、台帳、残高、在庫、reward.redeemedイベントを1トランザクションで更新する。
func (r *PostgresPointsRepo) Redeem(ctx context.Context, buyerID, rewardID string, now time.Time) (*model.Redemption, error) {
	var redemption *model.Redemption
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		rw, err := scanReward(tx.QueryRowContext(ctx,
			`SELECT `+rewardColumns+` FROM rewards WHERE id = $1 FOR UPDATE`, rewardID))
		if err == sql.ErrNoRows {
			return model.NewRewardNotFoundError(rewardID)
		}
		if err != nil {
			return fmt.Errorf("特典のロックに失敗しました: %w", err)
		}
		if !rw.IsActive {
			return model.NewRewardNotFoundError(rewardID)
		}
		if !rw.Available() {
			return model.NewRewardOutOfStockError()
		}

		var balance int64
		err = tx.QueryRowContext(ctx,
			`SELECT balance FROM user_points WHERE buyer_id = $1 AND seller_id = $2 FOR UPDATE`,
			buyerID, rw.SellerID,
		).Scan(&balance)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("ポイント残高のロックに失敗しました: %w", err)
		}
		if err := model.CanRedeem(balance, rw.PointsCost); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE user_points SET balance = balance - $3, updated_at = $4
			 WHERE buyer_id = $1 AND seller_id = $2`,
			buyerID, rw.SellerID, rw.PointsCost, now,
		); err != nil {
			return fmt.Errorf("ポイント残高の減算に失敗しました: %w", err)
		}

		if rw.Stock != nil {
			if _, err := tx.ExecContext(ctx,
				`UPDATE rewards SET stock = stock - 1, updated_at = $2 WHERE id = $1`,
				rw.ID, now,
			); err != nil {
				return fmt.Errorf("特典在庫の減算に失敗しました: %w", err)
			}
		}

		redemption = &model.Redemption{
			ID:          uuid.New().String(),
			RewardID:    rw.ID,
			RewardTitle: rw.Title,
			BuyerID:     buyerID,
			SellerID:    rw.SellerID,
			PointsSpent: rw.PointsCost,
			CreatedAt:   now,
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO redemptions (id, reward_id, buyer_id, seller_id, points_spent, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			redemption.ID, redemption.RewardID, redemption.BuyerID, redemption.SellerID, redemption.PointsSpent, now,
		); err != nil {
			return fmt.Errorf("交換記録の作成に失敗しました: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO points_ledger (id, buyer_id, seller_id, redemption_id, delta, reason, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.New().String(), buyerID, rw.SellerID, redemption.ID, -rw.PointsCost,
			model.PointsReasonRedemption, now,
		); err != nil {
			return fmt.Errorf("ポイント台帳の記録に失敗しました: %w", err)
		}

		event, err := model.NewPointsEvent(uuid.New().String(), model.EventRewardRedeemed, redemption.ID,
			model.PointsEventPayload{
				BuyerID:     buyerID,
				SellerID:    rw.SellerID,
				RewardID:    rw.ID,
				RewardTitle: rw.Title,
				Points:      rw.PointsCost,
			}, now)
		if err != nil {
			return err
		}
		return insertOutboxEvent(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}
	return redemption, nil
}

// ListRedemptionsBySeller は出品者の特典交換履歴を新しい順に返す。
func (r *PostgresPointsRepo) ListRedemptionsBySeller(ctx context.Context, sellerID string, limit int) ([]model.Redemption, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT rd.id, rd.reward_id, rw.title, rd.buyer_id, rd.seller_id, rd.points_spent, rd.created_at
		 FROM redemptions rd
		 INNER JOIN rewards rw ON rw.id = rd.reward_id
		 WHERE rd.seller_id = $1
		 ORDER BY rd.created_at DESC
		 LIMIT $2`,
		sellerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("交換履歴の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	redemptions := []model.Redemption{}
	for rows.Next() {
		var rd model.Redemption
		if err := rows.Scan(&rd.ID, &rd.RewardID, &rd.RewardTitle, &rd.BuyerID, &rd.SellerID, &rd.PointsSpent, &rd.CreatedAt); err != nil {
			return nil, fmt.Errorf("交換履歴の読み取りに失敗しました: %w", err)
		}
		redemptions = append(redemptions, rd)
	}
	return redemptions, rows.Err()
}

// compile-time interface check
var _ PointsRepository = (*PostgresPointsRepo)(nil)
