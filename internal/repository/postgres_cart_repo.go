package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/marketplace/internal/model"
)

// cartItemSelect はカート内商品を出品・商品情報と結合して取得するSELECT句。
const cartItemSelect = `SELECT ci.id, ci.buyer_id, ci.listing_id, sp.product_id, p.name, sp.seller_id,
        ci.quantity, sp.price_cents, sp.stock, sp.is_active, ci.added_at, ci.updated_at
 FROM cart_items ci
 INNER JOIN seller_products sp ON sp.id = ci.listing_id
 INNER JOIN products p ON p.id = sp.product_id`

// queryer は*sql.DBと*sql.Txの共通インターフェース。
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func queryCartItems(ctx context.Context, q queryer, query string, args ...interface{}) ([]model.CartItem, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("カート内商品の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	items := []model.CartItem{}
	for rows.Next() {
		var ci model.CartItem
		if err := rows.Scan(
			&ci.ID, &ci.BuyerID, &ci.ListingID, &ci.ProductID, &ci.ProductName, &ci.SellerID,
			&ci.Quantity, &ci.UnitPriceCents, &ci.Stock, &ci.IsActive, &ci.AddedAt, &ci.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("カート内商品の読み取りに失敗しました: %w", err)
		}
		items = append(items, ci)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("カート内商品の走査に失敗しました: %w", err)
	}
	return items, nil
}

// lockCart は購入者のカート行を（なければ作成して）ロックし、現在の出品者IDを返す。
func lockCart(ctx context.Context, tx *sql.Tx, buyerID string) (string, error) {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO carts (buyer_id) VALUES ($1) ON CONFLICT (buyer_id) DO NOTHING`,
		buyerID,
	); err != nil {
		return "", fmt.Errorf("カートの作成に失敗しました: %w", err)
	}

	var activeSellerID sql.NullString
	if err := tx.QueryRowContext(ctx,
		`SELECT active_seller_id FROM carts WHERE buyer_id = $1 FOR UPDATE`,
		buyerID,
	).Scan(&activeSellerID); err != nil {
		return "", fmt.Errorf("カートのロックに失敗しました: %w", err)
	}
	return nullStringValue(activeSellerID), nil
}

// resetCartSellerIfEmpty はカートが空になった場合に出品者IDをクリアする。
func resetCartSellerIfEmpty(ctx context.Context, tx *sql.Tx, buyerID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE carts SET active_seller_id = NULL, updated_at = now()
		 WHERE buyer_id = $1
		   AND NOT EXISTS (SELECT 1 FROM cart_items WHERE buyer_id = $1)`,
		buyerID,
	)
	if err != nil {
		return fmt.Errorf("カートの出品者のリセットに失敗しました: %w", err)
	}
	return nil
}

// PostgresCartRepo はPostgreSQLを使用したカートリポジトリ。
type PostgresCartRepo struct {
	db *sql.DB
}

// NewPostgresCartRepo はPostgresCartRepoを生成する。
func NewPostgresCartRepo(db *sql.DB) *PostgresCartRepo {
	return &PostgresCartRepo{db: db}
}

// Get は購入者のカートを出品情報付きで返す。カートが存在しない場合は空のカートを返す。
func (r *PostgresCartRepo) Get(ctx context.Context, buyerID string) (*model.Cart, error) {
	cart := &model.Cart{BuyerID: buyerID, Items: []model.CartItem{}}

	var activeSellerID sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT active_seller_id, updated_at FROM carts WHERE buyer_id = $1`,
		buyerID,
	).Scan(&activeSellerID, &cart.UpdatedAt)
	if err == sql.ErrNoRows {
		return cart, nil
	}
	if err != nil {
		return nil, fmt.Errorf("カートの取得に失敗しました: %w", err)
	}
	cart.ActiveSellerID = nullStringValue(activeSellerID)

	items, err := queryCartItems(ctx, r.db, cartItemSelect+` WHERE ci.buyer_id = $1 ORDER BY ci.added_at ASC`, buyerID)
	if err != nil {
		return nil, err
	}
	cart.Items = items
	if len(items) == 0 {
		cart.ActiveSellerID = ""
	}
	return cart, nil
}

// AddItem は出品をカートに追加する。既に入っている場合は数量を加算する。
func (r *PostgresCartRepo) AddItem(ctx context.Context, buyerID, listingID string, quantity int, replace bool) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		activeSellerID, err := lockCart(ctx, tx, buyerID)
		if err != nil {
			return err
		}

		var sellerID, productName string
		var stock int
		var isActive bool
		err = tx.QueryRowContext(ctx,
			`SELECT sp.seller_id, sp.stock, sp.is_active, p.name
			 FROM seller_products sp
			 INNER JOIN products p ON p.id = sp.product_id
			 WHERE sp.id = $1`,
			listingID,
		).Scan(&sellerID, &stock, &isActive, &productName)
		if err == sql.ErrNoRows {
			return model.NewListingNotFoundError(listingID)
		}
		if err != nil {
			return fmt.Errorf("出品の取得に失敗しました: %w", err)
		}

		if sellerID == buyerID {
			return model.NewOwnListingError()
		}
		if !isActive {
			return model.NewListingInactiveError(listingID)
		}

		var itemCount int
		if err := tx.QueryRowContext(ctx,
			`SELECT count(*) FROM cart_items WHERE buyer_id = $1`, buyerID,
		).Scan(&itemCount); err != nil {
			return fmt.Errorf("カート内商品数の取得に失敗しました: %w", err)
		}

		clear, err := model.CheckCartSeller(activeSellerID, itemCount, sellerID, replace)
		if err != nil {
			return err
		}
		if clear {
			if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE buyer_id = $1`, buyerID); err != nil {
				return fmt.Errorf("カートのクリアに失敗しました: %w", err)
			}
		}

		var existing int
		err = tx.QueryRowContext(ctx,
			`SELECT quantity FROM cart_items WHERE buyer_id = $1 AND listing_id = $2`,
			buyerID, listingID,
		).Scan(&existing)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("カート内商品の取得に失敗しました: %w", err)
		}

		newQuantity := existing + quantity
		if newQuantity > model.MaxCartQuantity {
			return model.NewInvalidQuantityError(newQuantity)
		}
		if newQuantity > stock {
			return model.NewInsufficientStockError(productName, stock)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cart_items (buyer_id, listing_id, quantity)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (buyer_id, listing_id) DO UPDATE SET quantity = $3, updated_at = now()`,
			buyerID, listingID, newQuantity,
		); err != nil {
			return fmt.Errorf("カートへの追加に失敗しました: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE carts SET active_seller_id = $2, updated_at = now() WHERE buyer_id = $1`,
			buyerID, sellerID,
		); err != nil {
			return fmt.Errorf("カートの更新に失敗しました: %w", err)
		}
		return nil
	})
}

// UpdateItemQuantity はカート内商品の数量を変更する。0の場合は削除する。
func (r *PostgresCartRepo) UpdateItemQuantity(ctx context.Context, buyerID, itemID string, quantity int) error {
	if quantity == 0 {
		return r.RemoveItem(ctx, buyerID, itemID)
	}
	if quantity < 0 || quantity > model.MaxCartQuantity {
		return model.NewInvalidQuantityError(quantity)
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := lockCart(ctx, tx, buyerID); err != nil {
			return err
		}

		var stock int
		var productName string
		err := tx.QueryRowContext(ctx,
			`SELECT sp.stock, p.name
			 FROM cart_items ci
			 INNER JOIN seller_products sp ON sp.id = ci.listing_id
			 INNER JOIN products p ON p.id = sp.product_id
			 WHERE ci.id = $1 AND ci.buyer_id = $2`,
			itemID, buyerID,
		).Scan(&stock, &productName)
		if err == sql.ErrNoRows {
			return model.NewCartItemNotFoundError(itemID)
		}
		if err != nil {
			return fmt.Errorf("カート内商品の取得に失敗しました: %w", err)
		}
		if quantity > stock {
			return model.NewInsufficientStockError(productName, stock)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE cart_items SET quantity = $3, updated_at = now() WHERE id = $1 AND buyer_id = $2`,
			itemID, buyerID, quantity,
		); err != nil {
			return fmt.Errorf("カート内商品の数量変更に失敗しました: %w", err)
		}
		return nil
	})
}

// RemoveItem はカート内商品を削除する。カートが空になった場合は出品者IDもクリアする。
func (r *PostgresCartRepo) RemoveItem(ctx context.Context, buyerID, itemID string) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := lockCart(ctx, tx, buyerID); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx,
			`DELETE FROM cart_items WHERE id = $1 AND buyer_id = $2`,
			itemID, buyerID,
		)
		if err != nil {
			return fmt.Errorf("カート内商品の削除に失敗しました: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return model.NewCartItemNotFoundError(itemID)
		}

		return resetCartSellerIfEmpty(ctx, tx, buyerID)
	})
}

// Clear はカートを空にする。
func (r *PostgresCartRepo) Clear(ctx context.Context, buyerID string) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE buyer_id = $1`, buyerID); err != nil {
			return fmt.Errorf("カートのクリアに失敗しました: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE carts SET active_seller_id = NULL, updated_at = now() WHERE buyer_id = $1`,
			buyerID,
		); err != nil {
			return fmt.Errorf("カートの更新に失敗しました: %w", err)
		}
		return nil
	})
}

// compile-time interface check
var _ CartRepository = (*PostgresCartRepo)(nil)
