package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/marketplace/internal/model"
)

const orderColumns = `id, buyer_id, seller_id, status, total_cents, currency, shipping_address, note,
        idempotency_key, cancel_reason, cancelled_by, placed_at, confirmed_at, delivered_at,
        completed_at, cancelled_at, updated_at`

// statusTimestampColumns は遷移先ステータスごとに記録する日時カラム。
var statusTimestampColumns = map[model.OrderStatus]string{
	model.OrderStatusConfirmed: "confirmed_at",
	model.OrderStatusDelivered: "delivered_at",
	model.OrderStatusCompleted: "completed_at",
	model.OrderStatusCancelled: "cancelled_at",
}

// errIdempotentReplay は同じ冪等キーの注文が並行して作成されたことを示す。
var errIdempotentReplay = errors.New("order with the same idempotency key already exists")

// PostgresOrderRepo はPostgreSQLを使用した注文リポジトリ。
type PostgresOrderRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresOrderRepo はPostgresOrderRepoを生成する。
func NewPostgresOrderRepo(db *sql.DB) *PostgresOrderRepo {
	return &PostgresOrderRepo{db: db, now: time.Now}
}

func scanOrder(s rowScanner) (*model.Order, error) {
	o := &model.Order{}
	var idempotencyKey, cancelReason, cancelledBy sql.NullString
	var confirmedAt, deliveredAt, completedAt, cancelledAt sql.NullTime

	err := s.Scan(
		&o.ID, &o.BuyerID, &o.SellerID, &o.Status, &o.TotalCents, &o.Currency, &o.ShippingAddress, &o.Note,
		&idempotencyKey, &cancelReason, &cancelledBy, &o.PlacedAt, &confirmedAt, &deliveredAt,
		&completedAt, &cancelledAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.IdempotencyKey = nullStringValue(idempotencyKey)
	o.CancelReason = nullStringValue(cancelReason)
	o.CancelledBy = model.ActorRole(nullStringValue(cancelledBy))
	o.ConfirmedAt = nullTimePtr(confirmedAt)
	o.DeliveredAt = nullTimePtr(deliveredAt)
	o.CompletedAt = nullTimePtr(completedAt)
	o.CancelledAt = nullTimePtr(cancelledAt)
	return o, nil
}

// PlaceOrder はカート内容から注文を作成する。
// 同じ冪等キーの注文が既にある場合はその注文とfalseを返す。
func (r *PostgresOrderRepo) PlaceOrder(ctx context.Context, params model.PlaceOrderParams) (*model.Order, bool, error) {
	var order *model.Order
	var existingID string

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		// 同じ購入者のチェックアウトはカートのロックで直列化される。
		// キーの検索はロック取得後に行い、先行リクエストのコミット結果を参照する。
		if _, err := lockCart(ctx, tx, params.BuyerID); err != nil {
			return err
		}

		if params.IdempotencyKey != "" {
			err := tx.QueryRowContext(ctx,
				`SELECT id FROM orders WHERE buyer_id = $1 AND idempotency_key = $2`,
				params.BuyerID, params.IdempotencyKey,
			).Scan(&existingID)
			if err == nil {
				return nil
			}
			if err != sql.ErrNoRows {
				return fmt.Errorf("冪等キーによる注文の検索に失敗しました: %w", err)
			}
		}

		lines, err := queryCartItems(ctx, tx,
			cartItemSelect+` WHERE ci.buyer_id = $1 ORDER BY ci.added_at ASC FOR UPDATE OF sp`,
			params.BuyerID,
		)
		if err != nil {
			return err
		}

		now := r.now().UTC()
		order, err = model.BuildOrder(params, lines, now)
		if err != nil {
			return err
		}
		order.ID = uuid.New().String()

		_, err = tx.ExecContext(ctx,
			`INSERT INTO orders (id, buyer_id, seller_id, status, total_cents, currency,
			                     shipping_address, note, idempotency_key, placed_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			order.ID, order.BuyerID, order.SellerID, order.Status, order.TotalCents, order.Currency,
			order.ShippingAddress, order.Note, nullString(order.IdempotencyKey), order.PlacedAt, order.UpdatedAt,
		)
		if isUniqueViolation(err) {
			return errIdempotentReplay
		}
		if err != nil {
			return fmt.Errorf("注文の作成に失敗しました: %w", err)
		}

		for i := range order.Items {
			item := &order.Items[i]
			item.ID = uuid.New().String()
			item.OrderID = order.ID

			if _, err := tx.ExecContext(ctx,
				`INSERT INTO order_items (id, order_id, listing_id, product_id, product_name, quantity, unit_price_cents)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				item.ID, item.OrderID, item.ListingID, item.ProductID, item.ProductName, item.Quantity, item.UnitPriceCents,
			); err != nil {
				return fmt.Errorf("注文明細の作成に失敗しました: %w", err)
			}

			result, err := tx.ExecContext(ctx,
				`UPDATE seller_products SET stock = stock - $2, updated_at = now()
				 WHERE id = $1 AND stock >= $2`,
				item.ListingID, item.Quantity,
			)
			if err != nil {
				return fmt.Errorf("在庫の減算に失敗しました: %w", err)
			}
			if n, err := result.RowsAffected(); err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			} else if n == 0 {
				return model.NewInsufficientStockError(item.ProductName, 0)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO payments (id, order_id, method, amount_cents, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
			uuid.New().String(), order.ID, model.PaymentMethodBankTransfer, order.TotalCents,
			model.PaymentStatusPending, now,
		); err != nil {
			return fmt.Errorf("支払いの作成に失敗しました: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE buyer_id = $1`, params.BuyerID); err != nil {
			return fmt.Errorf("カートのクリアに失敗しました: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE carts SET active_seller_id = NULL, updated_at = now() WHERE buyer_id = $1`,
			params.BuyerID,
		); err != nil {
			return fmt.Errorf("カートの更新に失敗しました: %w", err)
		}

		event, err := model.NewOrderEvent(uuid.New().String(), model.EventOrderPlaced, order, model.ActorBuyer, "", now)
		if err != nil {
			return err
		}
		return insertOutboxEvent(ctx, tx, event)
	})

	if errors.Is(err, errIdempotentReplay) {
		existing, ferr := r.findByIdempotencyKey(ctx, params.BuyerID, params.IdempotencyKey)
		if ferr != nil {
			return nil, false, ferr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if existingID != "" {
		existing, err := r.FindByID(ctx, existingID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return order, true, nil
}

func (r *PostgresOrderRepo) findByIdempotencyKey(ctx context.Context, buyerID, key string) (*model.Order, error) {
	var id string
	if err := r.db.QueryRowContext(ctx,
		`SELECT id FROM orders WHERE buyer_id = $1 AND idempotency_key = $2`,
		buyerID, key,
	).Scan(&id); err != nil {
		return nil, fmt.Errorf("冪等キーによる注文の検索に失敗しました: %w", err)
	}
	return r.FindByID(ctx, id)
}

// FindByID は指定IDの注文を明細付きで取得する。見つからない場合はnilを返す。
func (r *PostgresOrderRepo) FindByID(ctx context.Context, id string) (*model.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("注文の取得に失敗しました: %w", err)
	}

	if err := r.attachItems(ctx, []*model.Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

// List はユーザーの注文一覧を新しい順に返す。Roleが空の場合は購入・販売の両方を返す。
func (r *PostgresOrderRepo) List(ctx context.Context, userID string, filter model.OrderFilter) ([]*model.Order, error) {
	args := []interface{}{userID}
	var where string
	switch filter.Role {
	case model.ActorBuyer:
		where = "buyer_id = $1"
	case model.ActorSeller:
		where = "seller_id = $1"
	default:
		where = "(buyer_id = $1 OR seller_id = $1)"
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE `+where+
			fmt.Sprintf(` ORDER BY placed_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("注文一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	orders := []*model.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("注文の読み取りに失敗しました: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("注文の走査に失敗しました: %w", err)
	}

	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// attachItems は注文一覧の明細をまとめて取得して設定する。
func (r *PostgresOrderRepo) attachItems(ctx context.Context, orders []*model.Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[string]*model.Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		o.Items = []model.OrderItem{}
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, order_id, listing_id, product_id, product_name, quantity, unit_price_cents
		 FROM order_items WHERE order_id = ANY($1)
		 ORDER BY product_name ASC`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("注文明細の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item model.OrderItem
		var listingID sql.NullString
		if err := rows.Scan(&item.ID, &item.OrderID, &listingID, &item.ProductID, &item.ProductName,
			&item.Quantity, &item.UnitPriceCents); err != nil {
			return fmt.Errorf("注文明細の読み取りに失敗しました: %w", err)
		}
		item.ListingID = nullStringValue(listingID)
		if o, ok := byID[item.OrderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	return rows.Err()
}

// CountOpenByUser はユーザーが当事者の未完了注文数を返す。
func (r *PostgresOrderRepo) CountOpenByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM orders
		 WHERE (buyer_id = $1 OR seller_id = $1)
		   AND status NOT IN ('completed', 'cancelled')`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("未完了注文数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// ApplyTransition はステータスがFromの場合のみToへ更新し、付随する変更とイベントを同一トランザクションで記録する。
func (r *PostgresOrderRepo) ApplyTransition(ctx context.Context, t model.OrderTransition) error {
	column, ok := statusTimestampColumns[t.To]
	if !ok {
		return fmt.Errorf("unsupported transition target: %s", t.To)
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		var result sql.Result
		var err error
		if t.To == model.OrderStatusCancelled {
			result, err = tx.ExecContext(ctx,
				`UPDATE orders SET status = $3, cancelled_at = $4, cancel_reason = $5, cancelled_by = $6, updated_at = $4
				 WHERE id = $1 AND status = $2`,
				t.OrderID, t.From, t.To, t.At, nullString(t.Reason), string(t.Actor),
			)
		} else {
			result, err = tx.ExecContext(ctx,
				`UPDATE orders SET status = $3, `+column+` = $4, updated_at = $4
				 WHERE id = $1 AND status = $2`,
				t.OrderID, t.From, t.To, t.At,
			)
		}
		if err != nil {
			return fmt.Errorf("注文ステータスの更新に失敗しました: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return model.NewOrderConflictError(t.OrderID)
		}

		if t.VerifyPayment {
			result, err := tx.ExecContext(ctx,
				`UPDATE payments SET status = 'verified', verified_at = $2, updated_at = $2
				 WHERE order_id = $1 AND status = 'submitted'`,
				t.OrderID, t.At,
			)
			if err != nil {
				return fmt.Errorf("支払いの確認に失敗しました: %w", err)
			}
			if n, err := result.RowsAffected(); err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			} else if n == 0 {
				return model.NewPaymentProofRequiredError()
			}
		}

		if t.Restock {
			if _, err := tx.ExecContext(ctx,
				`UPDATE seller_products sp
				 SET stock = sp.stock + oi.quantity, updated_at = now()
				 FROM order_items oi
				 WHERE oi.order_id = $1 AND oi.listing_id = sp.id`,
				t.OrderID,
			); err != nil {
				return fmt.Errorf("在庫の戻しに失敗しました: %w", err)
			}
		}

		return insertOutboxEvent(ctx, tx, t.Event)
	})
}

// compile-time interface check
var _ OrderRepository = (*PostgresOrderRepo)(nil)
