// Package fetch は出品者のカタログフィードをバックグラウンドで取り込む処理を提供する。
// スケジューラ、フェッチャー、Google Merchant形式の変換、リトライ/バックオフ戦略を含む。
package fetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/marketplace/internal/model"
)

// FeedClaimer はフェッチ対象フィードの取り出しインターフェース。
type FeedClaimer interface {
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*model.CatalogFeed, error)
}

// FeedFetcherService はカタログフィードフェッチの実行インターフェース。
type FeedFetcherService interface {
	// Fetch は指定フィードをフェッチし、結果に応じてフィード状態を更新する。
	Fetch(ctx context.Context, feed *model.CatalogFeed) error
}

// SchedulerConfig はスケジューラの設定パラメータ。
type SchedulerConfig struct {
	// MaxConcurrency は同時にフェッチするフィード数の上限（デフォルト: 5）。
	MaxConcurrency int
	// BatchSize は1サイクルで取り出す最大フィード数（デフォルト: 100）。
	BatchSize int
	// Lease は取り出したフィードを他のワーカーが取らないよう先送りする時間（デフォルト: 10分）。
	// フェッチ完了時にnext_fetch_atが上書きされる。
	Lease time.Duration
}

// Scheduler はカタログフィードフェッチのスケジューリングと並列制御を行う。
// ティッカーでフェッチ対象フィードを取り出し、
// semaphoreパターンで最大並列数を制御しながらフェッチを実行する。
type Scheduler struct {
	feeds   FeedClaimer
	fetcher FeedFetcherService
	logger  *slog.Logger
	config  SchedulerConfig
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(feeds FeedClaimer, fetcher FeedFetcherService, logger *slog.Logger, config SchedulerConfig) *Scheduler {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 5
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.Lease <= 0 {
		config.Lease = 10 * time.Minute
	}
	return &Scheduler{
		feeds:   feeds,
		fetcher: fetcher,
		logger:  logger,
		config:  config,
	}
}

// Start はinterval間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("カタログ取込スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.config.MaxConcurrency),
	)

	// 起動直後に1回実行
	s.runAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("カタログ取込スケジューラを停止しました")
			return
		case <-ticker.C:
			s.runAndLog(ctx)
		}
	}
}

func (s *Scheduler) runAndLog(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("カタログ取込サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce はフェッチ対象フィードを1回取り出し、並列でフェッチを実行する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	feeds, err := s.feeds.ClaimDue(ctx, s.config.BatchSize, s.config.Lease)
	if err != nil {
		return err
	}
	if len(feeds) == 0 {
		s.logger.Debug("フェッチ対象のカタログフィードはありません")
		return nil
	}

	s.logger.Info("カタログ取込サイクルを開始します",
		slog.Int("feed_count", len(feeds)),
	)

	sem := make(chan struct{}, s.config.MaxConcurrency)
	var wg sync.WaitGroup

	for _, feed := range feeds {
		wg.Add(1)
		sem <- struct{}{}

		go func(f *model.CatalogFeed) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.fetcher.Fetch(ctx, f); err != nil {
				s.logger.Error("カタログフィードのフェッチに失敗しました",
					slog.String("feed_id", f.ID),
					slog.String("feed_url", f.FeedURL),
					slog.String("error", err.Error()),
				)
			}
		}(feed)
	}

	wg.Wait()

	s.logger.Info("カタログ取込サイクルが完了しました",
		slog.Int("feed_count", len(feeds)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}
