// Package cleanup は不要になったデータの定期削除ジョブを提供する。
// 期限切れのセッション、保持期間を過ぎた既読通知、処理済みのアウトボックスイベントを
// 日次バッチで削除する。
package cleanup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Config はクリーンアップジョブの保持期間設定。
type Config struct {
	// NotificationRetentionDays は既読通知の保持日数（デフォルト: 90）。
	NotificationRetentionDays int
	// OutboxRetentionDays は処理済みアウトボックスイベントの保持日数（デフォルト: 14）。
	OutboxRetentionDays int
}

// task は1種類の削除処理。retentionDaysが0の場合は期間パラメータを使わない。
type task struct {
	name          string
	query         string
	retentionDays int
}

// CleanupJob は不要データの自動削除ジョブ。
// 各削除は条件付きDELETEのため、何度実行しても結果は変わらない。
type CleanupJob struct {
	db     Executor
	logger *slog.Logger
	tasks  []task
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger, config Config) *CleanupJob {
	if config.NotificationRetentionDays <= 0 {
		config.NotificationRetentionDays = 90
	}
	if config.OutboxRetentionDays <= 0 {
		config.OutboxRetentionDays = 14
	}
	return &CleanupJob{
		db:     db,
		logger: logger,
		tasks: []task{
			{
				name:  "expired_sessions",
				query: `DELETE FROM sessions WHERE expires_at < now()`,
			},
			{
				name:          "read_notifications",
				query:         `DELETE FROM notifications WHERE is_read = TRUE AND created_at < now() - $1::interval`,
				retentionDays: config.NotificationRetentionDays,
			},
			{
				// dead のイベントは調査用に残す
				name:          "processed_outbox_events",
				query:         `DELETE FROM outbox_events WHERE status = 'done' AND processed_at < now() - $1::interval`,
				retentionDays: config.OutboxRetentionDays,
			},
		},
	}
}

// Run は全ての削除処理を実行する。
// 1つの削除が失敗しても残りは実行し、失敗をまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	var errs []error
	var total int64
	for _, t := range j.tasks {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		deleted, err := j.runTask(ctx, t)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		total += deleted
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", total),
		slog.Int("failed_tasks", len(errs)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return errors.Join(errs...)
}

func (j *CleanupJob) runTask(ctx context.Context, t task) (int64, error) {
	var args []interface{}
	if t.retentionDays > 0 {
		args = append(args, fmt.Sprintf("%d days", t.retentionDays))
	}

	result, err := j.db.ExecContext(ctx, t.query, args...)
	if err != nil {
		j.logger.Error("クリーンアップの実行に失敗しました",
			slog.String("task", t.name),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("%s のクリーンアップに失敗: %w", t.name, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("task", t.name),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("%s の削除件数の取得に失敗: %w", t.name, err)
	}

	attrs := []any{
		slog.String("task", t.name),
		slog.Int64("deleted_count", deleted),
	}
	if t.retentionDays > 0 {
		attrs = append(attrs, slog.Int("retention_days", t.retentionDays))
	}
	j.logger.Info("クリーンアップを実行しました", attrs...)

	return deleted, nil
}

// Start はinterval間隔でRunを実行する。起動直後に1回実行し、コンテキストのキャンセルで停止する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.runAndLog(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runAndLog(ctx)
		}
	}
}

func (j *CleanupJob) runAndLog(ctx context.Context) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("クリーンアップジョブが失敗しました", slog.String("error", err.Error()))
	}
}
