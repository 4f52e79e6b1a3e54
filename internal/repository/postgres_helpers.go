package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/marketplace/internal/model"
)

// pgUniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const pgUniqueViolation = "23505"

// nullString は空文字列をNULLとして扱うsql.NullStringを返す。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullTimePtr はsql.NullTimeを*time.Timeに変換する。
func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// nullIntPtr はsql.NullInt64を*intに変換する。
func nullIntPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

// intPtrArg は*intをSQL引数に変換する。nilはNULLになる。
func intPtrArg(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

// isUniqueViolation は一意制約違反のエラーかどうかを返す。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation
}

// withTx はトランザクション内でfnを実行する。fnがエラーを返した場合はロールバックする。
// fnが返したエラーはラップせずにそのまま返すため、APIErrorを呼び出し側で判定できる。
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// insertOutboxEvent はアウトボックスイベントをトランザクション内で記録する。
func insertOutboxEvent(ctx context.Context, tx *sql.Tx, evt *model.OutboxEvent) error {
	if evt == nil {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO outbox_events (id, aggregate_type, aggregate_id, event_type, payload, status, next_attempt_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7)`,
		evt.ID, evt.AggregateType, evt.AggregateID, evt.EventType, string(evt.Payload), evt.NextAttemptAt, evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}
