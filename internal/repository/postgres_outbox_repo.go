package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/marketplace/internal/model"
)

// PostgresOutboxRepo はPostgreSQLを使用したアウトボックスリポジトリ。
type PostgresOutboxRepo struct {
	db *sql.DB
}

// NewPostgresOutboxRepo はPostgresOutboxRepoを生成する。
func NewPostgresOutboxRepo(db *sql.DB) *PostgresOutboxRepo {
	return &PostgresOutboxRepo{db: db}
}

// Claim は処理待ちのイベントを古い順に最大limit件取り出し、processingにする。
// ワーカーが停止してprocessingのまま残ったイベントはstaleAfter経過後に再取得する。
// 再取得したイベントは中断された配送を1回の試行として数える。
func (r *PostgresOutboxRepo) Claim(ctx context.Context, limit int, staleAfter time.Duration) ([]*model.OutboxEvent, error) {
	var events []*model.OutboxEvent
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, aggregate_type, aggregate_id, event_type, payload, status, attempts,
			        last_error, next_attempt_at, created_at
			 FROM outbox_events
			 WHERE (status = 'pending' AND next_attempt_at <= now())
			    OR (status = 'processing' AND locked_at < now() - make_interval(secs => $2))
			 ORDER BY created_at ASC
			 LIMIT $1
			 FOR UPDATE SKIP LOCKED`,
			limit, staleAfter.Seconds(),
		)
		if err != nil {
			return fmt.Errorf("アウトボックスイベントの取得に失敗しました: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			evt := &model.OutboxEvent{}
			var lastError sql.NullString
			if err := rows.Scan(&evt.ID, &evt.AggregateType, &evt.AggregateID, &evt.EventType, &evt.Payload,
				&evt.Status, &evt.Attempts, &lastError, &evt.NextAttemptAt, &evt.CreatedAt); err != nil {
				return fmt.Errorf("アウトボックスイベントの読み取りに失敗しました: %w", err)
			}
			evt.LastError = nullStringValue(lastError)
			events = append(events, evt)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("アウトボックスイベントの走査に失敗しました: %w", err)
		}
		if len(events) == 0 {
			return nil
		}

		ids := make([]string, len(events))
		for i, evt := range events {
			ids[i] = evt.ID
			if evt.Status == model.OutboxStatusProcessing {
				evt.Attempts++
			}
			evt.Status = model.OutboxStatusProcessing
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE outbox_events
			 SET attempts = attempts + CASE WHEN status = 'processing' THEN 1 ELSE 0 END,
			     status = 'processing', locked_at = now()
			 WHERE id = ANY($1)`,
			pq.Array(ids),
		); err != nil {
			return fmt.Errorf("アウトボックスイベントのロックに失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// MarkDone はイベントを処理済みにする。
func (r *PostgresOutboxRepo) MarkDone(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox_events SET status = 'done', processed_at = now(), locked_at = NULL, last_error = NULL
		 WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("アウトボックスイベントの完了記録に失敗しました: %w", err)
	}
	return nil
}

// MarkFailed はイベントの失敗を記録する。deadがtrueの場合は再試行しない。
func (r *PostgresOutboxRepo) MarkFailed(ctx context.Context, id string, attempts int, lastError string, nextAttemptAt time.Time, dead bool) error {
	status := model.OutboxStatusPending
	if dead {
		status = model.OutboxStatusDead
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox_events SET status = $2, attempts = $3, last_error = $4, next_attempt_at = $5, locked_at = NULL
		 WHERE id = $1`,
		id, status, attempts, nullString(lastError), nextAttemptAt,
	)
	if err != nil {
		return fmt.Errorf("アウトボックスイベントの失敗記録に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ OutboxRepository = (*PostgresOutboxRepo)(nil)
