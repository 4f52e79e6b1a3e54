package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/marketplace/internal/model"
)

// PostgresNotificationRepo はPostgreSQLを使用した通知リポジトリ。
type PostgresNotificationRepo struct {
	db *sql.DB
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db *sql.DB) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

// Create は通知を作成する。同じIDの通知が既にある場合は何もしない。
func (r *PostgresNotificationRepo) Create(ctx context.Context, n *model.Notification) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, type, title, message, order_id, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		 ON CONFLICT (id) DO NOTHING`,
		n.ID, n.UserID, n.Type, n.Title, n.Message, nullString(n.OrderID), n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("通知の作成に失敗しました: %w", err)
	}
	return nil
}

// ListByUser はユーザーの通知を新しい順に返す。
func (r *PostgresNotificationRepo) ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*model.Notification, error) {
	query := `SELECT id, user_id, type, title, message, order_id, is_read, read_at, created_at
		 FROM notifications WHERE user_id = $1`
	if unreadOnly {
		query += ` AND is_read = FALSE`
	}
	query += ` ORDER BY created_at DESC LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	notifications := []*model.Notification{}
	for rows.Next() {
		n := &model.Notification{}
		var orderID sql.NullString
		var readAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &orderID,
			&n.IsRead, &readAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("通知の読み取りに失敗しました: %w", err)
		}
		n.OrderID = nullStringValue(orderID)
		n.ReadAt = nullTimePtr(readAt)
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("通知の走査に失敗しました: %w", err)
	}
	return notifications, nil
}

// CountUnread は未読通知数を返す。
func (r *PostgresNotificationRepo) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM notifications WHERE user_id = $1 AND is_read = FALSE`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("未読通知数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// MarkRead は通知を既読にする。既読済みでも該当すればtrueを返す。
func (r *PostgresNotificationRepo) MarkRead(ctx context.Context, userID, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE, read_at = COALESCE(read_at, now())
		 WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("通知の既読化に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// MarkAllRead はユーザーの未読通知をすべて既読にし、更新件数を返す。
func (r *PostgresNotificationRepo) MarkAllRead(ctx context.Context, userID string) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE, read_at = now()
		 WHERE user_id = $1 AND is_read = FALSE`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("通知の一括既読化に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rowsAffected), nil
}

// compile-time interface check
var _ NotificationRepository = (*PostgresNotificationRepo)(nil)
