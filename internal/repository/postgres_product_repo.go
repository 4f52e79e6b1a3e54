package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/marketplace/internal/model"
)

// listingSelect は出品・商品・出品者名を結合して取得するSELECT句。
const listingSelect = `SELECT sp.id, sp.seller_id, sp.product_id, sp.price_cents, sp.stock, sp.is_active,
        sp.external_id, sp.created_at, sp.updated_at,
        p.name, p.description, p.category, p.image_url, p.created_at, p.updated_at,
        COALESCE(u.store_name, u.name)
 FROM seller_products sp
 INNER JOIN products p ON p.id = sp.product_id
 INNER JOIN users u ON u.id = sp.seller_id`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(s rowScanner) (model.ListingWithProduct, error) {
	var l model.ListingWithProduct
	var externalID, imageURL sql.NullString
	err := s.Scan(
		&l.ID, &l.SellerID, &l.ProductID, &l.PriceCents, &l.Stock, &l.IsActive,
		&externalID, &l.CreatedAt, &l.UpdatedAt,
		&l.Product.Name, &l.Product.Description, &l.Product.Category, &imageURL,
		&l.Product.CreatedAt, &l.Product.UpdatedAt,
		&l.SellerName,
	)
	if err != nil {
		return l, err
	}
	l.ExternalID = nullStringValue(externalID)
	l.Product.ID = l.ProductID
	l.Product.ImageURL = nullStringValue(imageURL)
	return l, nil
}

func scanListings(rows *sql.Rows) ([]model.ListingWithProduct, error) {
	defer rows.Close()

	var listings []model.ListingWithProduct
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("出品の読み取りに失敗しました: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("出品の走査に失敗しました: %w", err)
	}
	return listings, nil
}

// PostgresProductRepo はPostgreSQLを使用した商品・出品リポジトリ。
type PostgresProductRepo struct {
	db *sql.DB
}

// NewPostgresProductRepo はPostgresProductRepoを生成する。
func NewPostgresProductRepo(db *sql.DB) *PostgresProductRepo {
	return &PostgresProductRepo{db: db}
}

// FindProductByID は指定IDの商品を取得する。見つからない場合はnilを返す。
func (r *PostgresProductRepo) FindProductByID(ctx context.Context, id string) (*model.Product, error) {
	p := &model.Product{}
	var imageURL sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, description, category, image_url, created_at, updated_at
		 FROM products WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Name, &p.Description, &p.Category, &imageURL, &p.CreatedAt, &p.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("商品の取得に失敗しました: %w", err)
	}
	p.ImageURL = nullStringValue(imageURL)
	return p, nil
}

// FindListingByID は指定IDの出品を商品情報付きで取得する。見つからない場合はnilを返す。
func (r *PostgresProductRepo) FindListingByID(ctx context.Context, id string) (*model.ListingWithProduct, error) {
	l, err := scanListing(r.db.QueryRowContext(ctx, listingSelect+` WHERE sp.id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("出品の取得に失敗しました: %w", err)
	}
	return &l, nil
}

// ListOffersByProduct は商品に対する販売中の出品を価格の安い順に返す。
func (r *PostgresProductRepo) ListOffersByProduct(ctx context.Context, productID string) ([]model.ListingWithProduct, error) {
	rows, err := r.db.QueryContext(ctx,
		listingSelect+` WHERE sp.product_id = $1 AND sp.is_active = TRUE ORDER BY sp.price_cents ASC, sp.created_at ASC`,
		productID,
	)
	if err != nil {
		return nil, fmt.Errorf("商品の出品一覧の取得に失敗しました: %w", err)
	}
	return scanListings(rows)
}

// buildSearchWhere は検索条件からWHERE句と引数を組み立てる。
func buildSearchWhere(q model.SearchQuery) (string, []interface{}) {
	conds := []string{"sp.is_active = TRUE"}
	var args []interface{}

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(args))))
	}

	if q.InStockOnly {
		conds = append(conds, "sp.stock > 0")
	}
	if text := strings.TrimSpace(q.Text); text != "" {
		add("(p.name ILIKE ? OR p.description ILIKE ?)", "%"+escapeLike(text)+"%")
	}
	if q.Category != "" {
		add("p.category = ?", q.Category)
	}
	if q.SellerID != "" {
		add("sp.seller_id = ?", q.SellerID)
	}
	if q.MinPriceCents > 0 {
		add("sp.price_cents >= ?", q.MinPriceCents)
	}
	if q.MaxPriceCents > 0 {
		add("sp.price_cents <= ?", q.MaxPriceCents)
	}

	return " WHERE " + strings.Join(conds, " AND "), args
}

// escapeLike はLIKEパターンの特殊文字をエスケープする。
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Search は検索条件に一致する販売中の出品と総件数を返す。
func (r *PostgresProductRepo) Search(ctx context.Context, q model.SearchQuery) ([]model.ListingWithProduct, int, error) {
	q = q.Normalize()
	where, args := buildSearchWhere(q)

	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM seller_products sp INNER JOIN products p ON p.id = sp.product_id`+where,
		args...,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("検索件数の取得に失敗しました: %w", err)
	}
	if total == 0 {
		return []model.ListingWithProduct{}, 0, nil
	}

	args = append(args, q.Limit, q.Offset)
	rows, err := r.db.QueryContext(ctx,
		listingSelect+where+fmt.Sprintf(` ORDER BY p.name ASC, sp.price_cents ASC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("商品検索に失敗しました: %w", err)
	}
	listings, err := scanListings(rows)
	if err != nil {
		return nil, 0, err
	}
	return listings, total, nil
}

// ListBySeller は出品者の全出品（販売停止中を含む）を返す。
func (r *PostgresProductRepo) ListBySeller(ctx context.Context, sellerID string, limit, offset int) ([]model.ListingWithProduct, error) {
	rows, err := r.db.QueryContext(ctx,
		listingSelect+` WHERE sp.seller_id = $1 ORDER BY sp.updated_at DESC LIMIT $2 OFFSET $3`,
		sellerID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("出品者の出品一覧の取得に失敗しました: %w", err)
	}
	return scanListings(rows)
}

// ListCategories は販売中の出品が存在するカテゴリ一覧を返す。
func (r *PostgresProductRepo) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT p.category
		 FROM products p
		 INNER JOIN seller_products sp ON sp.product_id = p.id
		 WHERE sp.is_active = TRUE AND p.category <> ''
		 ORDER BY p.category`,
	)
	if err != nil {
		return nil, fmt.Errorf("カテゴリ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	categories := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("カテゴリの読み取りに失敗しました: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// CreateListing は商品と出品を同一トランザクションで作成する。
func (r *PostgresProductRepo) CreateListing(ctx context.Context, product *model.Product, listing *model.Listing) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := insertProduct(ctx, tx, product); err != nil {
			return err
		}
		listing.ProductID = product.ID
		_, err := tx.ExecContext(ctx,
			`INSERT INTO seller_products (id, seller_id, product_id, price_cents, stock, is_active, external_id, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			listing.ID, listing.SellerID, listing.ProductID, listing.PriceCents, listing.Stock, listing.IsActive,
			nullString(listing.ExternalID), listing.CreatedAt, listing.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("出品の作成に失敗しました: %w", err)
		}
		return nil
	})
}

func insertProduct(ctx context.Context, tx *sql.Tx, p *model.Product) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO products (id, name, description, category, image_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Name, p.Description, p.Category, nullString(p.ImageURL), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("商品の作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateListing は出品の価格、在庫、販売状態を更新する。
// 出品者本人の出品でない場合はLISTING_NOT_FOUNDを返す。
func (r *PostgresProductRepo) UpdateListing(ctx context.Context, listing *model.Listing) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE seller_products SET price_cents = $3, stock = $4, is_active = $5, updated_at = now()
		 WHERE id = $1 AND seller_id = $2`,
		listing.ID, listing.SellerID, listing.PriceCents, listing.Stock, listing.IsActive,
	)
	if err != nil {
		return fmt.Errorf("出品の更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.NewListingNotFoundError(listing.ID)
	}
	return nil
}

// UpsertImported はカタログフィード由来の出品を (seller_id, external_id) で作成または更新する。
// フィードに数量がない場合、新規作成時は在庫ありならdefaultStock、更新時は既存の在庫を維持する。
func (r *PostgresProductRepo) UpsertImported(ctx context.Context, sellerID string, item model.ImportedListing, defaultStock int) (bool, error) {
	created := false
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var listingID, productID string
		err := tx.QueryRowContext(ctx,
			`SELECT id, product_id FROM seller_products
			 WHERE seller_id = $1 AND external_id = $2
			 FOR UPDATE`,
			sellerID, item.ExternalID,
		).Scan(&listingID, &productID)

		if err == sql.ErrNoRows {
			created = true
			return r.insertImported(ctx, tx, sellerID, item, defaultStock)
		}
		if err != nil {
			return fmt.Errorf("取込済み出品の検索に失敗しました: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE products SET name = $2, description = $3, category = $4, image_url = $5, updated_at = now()
			 WHERE id = $1`,
			productID, item.Name, item.Description, item.Category, nullString(item.ImageURL),
		); err != nil {
			return fmt.Errorf("取込商品の更新に失敗しました: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE seller_products SET
			    price_cents = $2,
			    is_active = $3,
			    stock = COALESCE($4, stock),
			    updated_at = now()
			 WHERE id = $1`,
			listingID, item.PriceCents, item.Available, intPtrArg(item.Stock),
		); err != nil {
			return fmt.Errorf("取込出品の更新に失敗しました: %w", err)
		}
		return nil
	})
	return created, err
}

func (r *PostgresProductRepo) insertImported(ctx context.Context, tx *sql.Tx, sellerID string, item model.ImportedListing, defaultStock int) error {
	product := &model.Product{
		ID:          uuid.New().String(),
		Name:        item.Name,
		Description: item.Description,
		Category:    item.Category,
		ImageURL:    item.ImageURL,
	}
	if err := tx.QueryRowContext(ctx, `SELECT now()`).Scan(&product.CreatedAt); err != nil {
		return fmt.Errorf("failed to read clock: %w", err)
	}
	product.UpdatedAt = product.CreatedAt
	if err := insertProduct(ctx, tx, product); err != nil {
		return err
	}

	stock := 0
	switch {
	case item.Stock != nil:
		stock = *item.Stock
	case item.Available:
		stock = defaultStock
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO seller_products (id, seller_id, product_id, price_cents, stock, is_active, external_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New().String(), sellerID, product.ID, item.PriceCents, stock, item.Available, item.ExternalID,
	)
	if err != nil {
		return fmt.Errorf("取込出品の作成に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ProductRepository = (*PostgresProductRepo)(nil)
