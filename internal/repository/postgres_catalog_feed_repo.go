package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/marketplace/internal/model"
)

const catalogFeedColumns = `id, seller_id, feed_url, site_url, title, etag, last_modified,
        fetch_status, consecutive_errors, error_message, fetch_interval_minutes,
        last_imported_count, next_fetch_at, created_at, updated_at`

// PostgresCatalogFeedRepo はPostgreSQLを使用したカタログフィードリポジトリ。
type PostgresCatalogFeedRepo struct {
	db *sql.DB
}

// NewPostgresCatalogFeedRepo はPostgresCatalogFeedRepoを生成する。
func NewPostgresCatalogFeedRepo(db *sql.DB) *PostgresCatalogFeedRepo {
	return &PostgresCatalogFeedRepo{db: db}
}

func scanCatalogFeed(s rowScanner) (*model.CatalogFeed, error) {
	feed := &model.CatalogFeed{}
	var siteURL, etag, lastModified, errorMessage sql.NullString

	err := s.Scan(
		&feed.ID, &feed.SellerID, &feed.FeedURL, &siteURL, &feed.Title, &etag, &lastModified,
		&feed.FetchStatus, &feed.ConsecutiveErrors, &errorMessage, &feed.FetchIntervalMinutes,
		&feed.LastImportedCount, &feed.NextFetchAt, &feed.CreatedAt, &feed.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	feed.SiteURL = nullStringValue(siteURL)
	feed.ETag = nullStringValue(etag)
	feed.LastModified = nullStringValue(lastModified)
	feed.ErrorMessage = nullStringValue(errorMessage)
	return feed, nil
}

// FindByID は指定IDのカタログフィードを取得する。見つからない場合はnilを返す。
func (r *PostgresCatalogFeedRepo) FindByID(ctx context.Context, id string) (*model.CatalogFeed, error) {
	feed, err := scanCatalogFeed(r.db.QueryRowContext(ctx,
		`SELECT `+catalogFeedColumns+` FROM catalog_feeds WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("カタログフィードの取得に失敗しました: %w", err)
	}
	return feed, nil
}

// FindBySellerAndURL は出品者とフィードURLで検索する。見つからない場合はnilを返す。
func (r *PostgresCatalogFeedRepo) FindBySellerAndURL(ctx context.Context, sellerID, feedURL string) (*model.CatalogFeed, error) {
	feed, err := scanCatalogFeed(r.db.QueryRowContext(ctx,
		`SELECT `+catalogFeedColumns+` FROM catalog_feeds WHERE seller_id = $1 AND feed_url = $2`,
		sellerID, feedURL))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フィードURLによるカタログフィードの検索に失敗しました: %w", err)
	}
	return feed, nil
}

// ListBySeller は出品者のカタログフィード一覧を返す。
func (r *PostgresCatalogFeedRepo) ListBySeller(ctx context.Context, sellerID string) ([]*model.CatalogFeed, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+catalogFeedColumns+` FROM catalog_feeds WHERE seller_id = $1 ORDER BY created_at ASC`,
		sellerID,
	)
	if err != nil {
		return nil, fmt.Errorf("カタログフィード一覧の取得に失敗しました: %w", err)
	}
	return scanCatalogFeeds(rows)
}

func scanCatalogFeeds(rows *sql.Rows) ([]*model.CatalogFeed, error) {
	defer rows.Close()

	var feeds []*model.CatalogFeed
	for rows.Next() {
		feed, err := scanCatalogFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("カタログフィードの読み取りに失敗しました: %w", err)
		}
		feeds = append(feeds, feed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("カタログフィードの走査に失敗しました: %w", err)
	}
	return feeds, nil
}

// Create はカタログフィードを作成する。同じURLが登録済みの場合はDUPLICATE_CATALOG_FEEDを返す。
func (r *PostgresCatalogFeedRepo) Create(ctx context.Context, feed *model.CatalogFeed) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO catalog_feeds (id, seller_id, feed_url, site_url, title, fetch_status,
		                            fetch_interval_minutes, next_fetch_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		feed.ID, feed.SellerID, feed.FeedURL, nullString(feed.SiteURL), feed.Title, feed.FetchStatus,
		feed.FetchIntervalMinutes, feed.NextFetchAt, feed.CreatedAt, feed.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return model.NewDuplicateCatalogFeedError()
	}
	if err != nil {
		return fmt.Errorf("カタログフィードの作成に失敗しました: %w", err)
	}
	return nil
}

// Delete は出品者のカタログフィードを削除する。該当がない場合はfalseを返す。
// 取込済みの出品は削除しない。
func (r *PostgresCatalogFeedRepo) Delete(ctx context.Context, sellerID, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM catalog_feeds WHERE id = $1 AND seller_id = $2`,
		id, sellerID,
	)
	if err != nil {
		return false, fmt.Errorf("カタログフィードの削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// ClaimDue はフェッチ対象のフィードを最大limit件取り出し、lease分だけnext_fetch_atを先送りする。
// 取り出したフィードは処理中に他のワーカーから選ばれない。
func (r *PostgresCatalogFeedRepo) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*model.CatalogFeed, error) {
	var feeds []*model.CatalogFeed
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+catalogFeedColumns+`
			 FROM catalog_feeds
			 WHERE next_fetch_at <= now()
			   AND fetch_status = 'active'
			 ORDER BY next_fetch_at ASC
			 LIMIT $1
			 FOR UPDATE SKIP LOCKED`,
			limit,
		)
		if err != nil {
			return fmt.Errorf("フェッチ対象フィードの取得に失敗しました: %w", err)
		}
		feeds, err = scanCatalogFeeds(rows)
		if err != nil {
			return err
		}
		if len(feeds) == 0 {
			return nil
		}

		ids := make([]string, len(feeds))
		for i, f := range feeds {
			ids[i] = f.ID
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE catalog_feeds SET next_fetch_at = now() + make_interval(secs => $2)
			 WHERE id = ANY($1)`,
			pq.Array(ids), lease.Seconds(),
		); err != nil {
			return fmt.Errorf("フェッチ対象フィードのリースに失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return feeds, nil
}

// UpdateFetchState はフェッチ結果を更新する。
func (r *PostgresCatalogFeedRepo) UpdateFetchState(ctx context.Context, feed *model.CatalogFeed) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE catalog_feeds SET
		    title = $2,
		    site_url = $3,
		    fetch_status = $4,
		    consecutive_errors = $5,
		    error_message = $6,
		    next_fetch_at = $7,
		    etag = $8,
		    last_modified = $9,
		    last_imported_count = $10,
		    updated_at = now()
		 WHERE id = $1`,
		feed.ID,
		feed.Title,
		nullString(feed.SiteURL),
		feed.FetchStatus,
		feed.ConsecutiveErrors,
		nullString(feed.ErrorMessage),
		feed.NextFetchAt,
		nullString(feed.ETag),
		nullString(feed.LastModified),
		feed.LastImportedCount,
	)
	if err != nil {
		return fmt.Errorf("フェッチ状態の更新に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ CatalogFeedRepository = (*PostgresCatalogFeedRepo)(nil)
