// Package outbox はアウトボックスイベントを取り出して登録済みハンドラに配送するリレーを提供する。
// 注文確定やポイント付与の副作用（通知作成、ポイント付与）はこのリレー経由で非同期に実行される。
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/marketplace/internal/model"
	"github.com/hitoshi/marketplace/internal/repository"
)

// 配送結果（メトリクスのresultラベル）
const (
	ResultDone    = "done"
	ResultRetry   = "retry"
	ResultDead    = "dead"
	ResultSkipped = "skipped"
)

// maxLastErrorLength はlast_errorに保存するエラーメッセージの最大文字数。
const maxLastErrorLength = 1000

// Handler はイベント1件を処理する関数。エラーを返すとバックオフ後に再試行される。
// 同じイベントが複数回配送されても結果が変わらないように実装する。
type Handler func(ctx context.Context, event *model.OutboxEvent) error

// Metrics はリレーのメトリクス記録インターフェース。
type Metrics interface {
	RecordOutboxResult(eventType, result string, duration time.Duration)
}

// RelayConfig はリレーの設定パラメータ。
type RelayConfig struct {
	// Interval はポーリング間隔（デフォルト: 5秒）。
	Interval time.Duration
	// BatchSize は1サイクルで取り出す最大件数（デフォルト: 50）。
	BatchSize int
	// MaxAttempts はデッドレターにするまでの最大試行回数（デフォルト: 10）。
	MaxAttempts int
	// StaleAfter はprocessingのまま放置されたイベントを再取得するまでの時間（デフォルト: 5分）。
	StaleAfter time.Duration
	// BaseBackoff は初回失敗後の再試行間隔（デフォルト: 30秒）。失敗ごとに倍になる。
	BaseBackoff time.Duration
	// MaxBackoff は再試行間隔の上限（デフォルト: 1時間）。
	MaxBackoff time.Duration
}

// DefaultRelayConfig はデフォルトのリレー設定を返す。
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		Interval:    5 * time.Second,
		BatchSize:   50,
		MaxAttempts: 10,
		StaleAfter:  5 * time.Minute,
		BaseBackoff: 30 * time.Second,
		MaxBackoff:  time.Hour,
	}
}

// Relay はアウトボックスのイベントを取り出し、イベント種別ごとのハンドラへ配送する。
// 複数プロセスで動かしても、取り出しは FOR UPDATE SKIP LOCKED で排他される。
type Relay struct {
	repo     repository.OutboxRepository
	logger   *slog.Logger
	config   RelayConfig
	metrics  Metrics
	handlers map[string][]Handler
	now      func() time.Time
}

// NewRelay はRelayの新しいインスタンスを生成する。metricsはnilでもよい。
func NewRelay(repo repository.OutboxRepository, logger *slog.Logger, config RelayConfig, metrics Metrics) *Relay {
	return &Relay{
		repo:     repo,
		logger:   logger,
		config:   config,
		metrics:  metrics,
		handlers: make(map[string][]Handler),
		now:      time.Now,
	}
}

// Register はイベント種別にハンドラを登録する。
// 同じ種別に複数登録した場合は登録順に実行し、すべて成功したときに処理済みとする。
func (r *Relay) Register(eventType string, handler Handler) {
	r.handlers[eventType] = append(r.handlers[eventType], handler)
}

// Start はリレーをティッカーで定期実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (r *Relay) Start(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.logger.Info("アウトボックスリレーを開始しました",
		slog.Duration("interval", r.config.Interval),
		slog.Int("batch_size", r.config.BatchSize),
		slog.Int("max_attempts", r.config.MaxAttempts),
	)

	r.runAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("アウトボックスリレーを停止しました")
			return
		case <-ticker.C:
			r.runAndLog(ctx)
		}
	}
}

func (r *Relay) runAndLog(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Error("アウトボックスリレーの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は1回の配送サイクルを実行し、処理したイベント数を返す。
// 1件の失敗は他のイベントの配送を妨げない。
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.repo.Claim(ctx, r.config.BatchSize, r.config.StaleAfter)
	if err != nil {
		return 0, fmt.Errorf("アウトボックスイベントの取り出しに失敗しました: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	for i, event := range events {
		if ctx.Err() != nil {
			return i, ctx.Err()
		}
		r.deliver(ctx, event)
	}
	return len(events), nil
}

func (r *Relay) deliver(ctx context.Context, event *model.OutboxEvent) {
	start := r.now()
	if r.config.MaxAttempts > 0 && event.Attempts >= r.config.MaxAttempts {
		r.markAbandoned(ctx, event)
		if r.metrics != nil {
			r.metrics.RecordOutboxResult(event.EventType, ResultDead, r.now().Sub(start))
		}
		return
	}
	handlers := r.handlers[event.EventType]

	var handlerErr error
	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			handlerErr = err
			break
		}
	}

	result := ResultDone
	if handlerErr != nil {
		result = r.recordFailure(ctx, event, handlerErr)
	} else {
		if len(handlers) == 0 {
			result = ResultSkipped
			r.logger.Debug("ハンドラが登録されていないイベントを処理済みにします",
				slog.String("event_id", event.ID),
				slog.String("event_type", event.EventType),
			)
		}
		if err := r.repo.MarkDone(ctx, event.ID); err != nil {
			r.logger.Error("アウトボックスイベントの完了記録に失敗しました",
				slog.String("event_id", event.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.metrics != nil {
		r.metrics.RecordOutboxResult(event.EventType, result, r.now().Sub(start))
	}
}

// recordFailure は失敗回数に応じて再試行時刻を設定し、上限に達したらデッドレターにする。
func (r *Relay) recordFailure(ctx context.Context, event *model.OutboxEvent, handlerErr error) string {
	attempts := event.Attempts + 1
	dead := r.config.MaxAttempts > 0 && attempts >= r.config.MaxAttempts
	next := r.now().Add(Backoff(attempts, r.config.BaseBackoff, r.config.MaxBackoff))

	msg := truncateRunes(handlerErr.Error(), maxLastErrorLength)

	if err := r.repo.MarkFailed(ctx, event.ID, attempts, msg, next, dead); err != nil {
		r.logger.Error("アウトボックスイベントの失敗記録に失敗しました",
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)
	}

	if dead {
		r.logger.Error("アウトボックスイベントを最大試行回数に達したためデッドレターにしました",
			slog.String("event_id", event.ID),
			slog.String("event_type", event.EventType),
			slog.Int("attempts", attempts),
			slog.String("error", msg),
		)
		return ResultDead
	}

	r.logger.Warn("アウトボックスイベントの処理に失敗しました。再試行します",
		slog.String("event_id", event.ID),
		slog.String("event_type", event.EventType),
		slog.Int("attempts", attempts),
		slog.Time("next_attempt_at", next),
		slog.String("error", msg),
	)
	return ResultRetry
}

// markAbandoned は配送中の中断を繰り返して試行回数の上限に達したイベントを、
// ハンドラを実行せずにデッドレターにする。
func (r *Relay) markAbandoned(ctx context.Context, event *model.OutboxEvent) {
	msg := "配送が完了しないまま最大試行回数に達しました"
	if event.LastError != "" {
		msg = truncateRunes(msg+": "+event.LastError, maxLastErrorLength)
	}
	if err := r.repo.MarkFailed(ctx, event.ID, event.Attempts, msg, r.now(), true); err != nil {
		r.logger.Error("アウトボックスイベントの失敗記録に失敗しました",
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)
	}
	r.logger.Error("アウトボックスイベントを最大試行回数に達したためデッドレターにしました",
		slog.String("event_id", event.ID),
		slog.String("event_type", event.EventType),
		slog.Int("attempts", event.Attempts),
	)
}

// Backoff は失敗回数に対する再試行間隔を返す。
// base から失敗ごとに倍になり、max で頭打ちになる。
func Backoff(attempts int, base, max time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// truncateRunes はsを最大n文字に切り詰める。マルチバイト文字の途中では切らない。
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
