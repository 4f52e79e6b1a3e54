package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/marketplace/internal/model"
)

var outboxRowColumns = []string{
	"id", "aggregate_type", "aggregate_id", "event_type", "payload", "status", "attempts",
	"last_error", "next_attempt_at", "created_at",
}

func TestPostgresOutboxRepo_Claim_LocksClaimedEvents(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresOutboxRepo(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM outbox_events .* FOR UPDATE SKIP LOCKED`).
		WithArgs(10, float64(300)).
		WillReturnRows(sqlmock.NewRows(outboxRowColumns).
			AddRow("evt-1", "order", "order-1", "order.placed", []byte(`{"order_id":"order-1"}`), "pending", 0, nil, now, now).
			AddRow("evt-2", "order", "order-2", "order.completed", []byte(`{"order_id":"order-2"}`), "processing", 2, "timeout", now, now))
	mock.ExpectExec(`UPDATE outbox_events\s+SET attempts = attempts \+ CASE WHEN status = 'processing' THEN 1 ELSE 0 END,\s+status = 'processing', locked_at = now\(\)`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	events, err := repo.Claim(context.Background(), 10, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.OutboxStatusProcessing, events[0].Status)
	assert.Equal(t, "timeout", events[1].LastError)
	assert.Equal(t, 0, events[0].Attempts, "pendingから取得したイベントは試行回数を変えない")
	assert.Equal(t, 3, events[1].Attempts, "processingから再取得したイベントは中断を1回と数える")
	assert.JSONEq(t, `{"order_id":"order-1"}`, string(events[0].Payload))
}

func TestPostgresOutboxRepo_Claim_Empty(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresOutboxRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM outbox_events`).WillReturnRows(sqlmock.NewRows(outboxRowColumns))
	mock.ExpectCommit()

	events, err := repo.Claim(context.Background(), 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestPostgresOutboxRepo_MarkFailed(t *testing.T) {
	tests := []struct {
		name       string
		dead       bool
		wantStatus string
	}{
		{name: "再試行", dead: false, wantStatus: "pending"},
		{name: "上限到達", dead: true, wantStatus: "dead"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewPostgresOutboxRepo(db)
			next := time.Now().Add(time.Minute)

			mock.ExpectExec(`UPDATE outbox_events SET status = \$2`).
				WithArgs("evt-1", tt.wantStatus, 3, "handler failed", next).
				WillReturnResult(sqlmock.NewResult(0, 1))

			require.NoError(t, repo.MarkFailed(context.Background(), "evt-1", 3, "handler failed", next, tt.dead))
		})
	}
}

func TestPostgresOutboxRepo_MarkDone(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresOutboxRepo(db)

	mock.ExpectExec(`UPDATE outbox_events SET status = 'done'`).
		WithArgs("evt-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkDone(context.Background(), "evt-1"))
}
