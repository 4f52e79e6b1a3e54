package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/marketplace/internal/model"
	"github.com/hitoshi/marketplace/internal/repository"
)

// fetchUserAgent はカタログフィード取得時のUser-Agent。
const fetchUserAgent = "MarketplaceCatalogBot/1.0"

// ListingUpserter はカタログフィード由来の出品を保存するインターフェース。
type ListingUpserter interface {
	UpsertImported(ctx context.Context, sellerID string, item model.ImportedListing, defaultStock int) (bool, error)
}

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// Metrics はカタログ取込のメトリクス記録インターフェース。
type Metrics interface {
	RecordFetchSuccess(feedID string)
	RecordFetchFailure(feedID string, reason string)
	RecordParseFailure(feedID string)
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
	RecordListingsImported(count int)
}

// FetcherConfig はFetcherの設定パラメータ。
type FetcherConfig struct {
	// Timeout はHTTPリクエストのタイムアウト。
	Timeout time.Duration
	// MaxBodySize はレスポンスボディの最大バイト数。
	MaxBodySize int64
	// DefaultStock はg:quantityのない新規出品に設定する在庫数。
	DefaultStock int
	// Currency はマーケットプレイスの通貨。異なる通貨の価格は取り込まない。
	Currency string
	// MaxItemsPerFeed は1回の取込で扱う最大エントリ数。
	MaxItemsPerFeed int
}

// Fetcher は個別カタログフィードのHTTPフェッチ、パース、出品の取込を行う。
// ETag/Last-Modifiedを使用した条件付きGET、SSRF検証、gofeedによるパースを実行する。
type Fetcher struct {
	feedRepo  repository.CatalogFeedRepository
	listings  ListingUpserter
	ssrfGuard SSRFValidator
	sanitizer Sanitizer
	metrics   Metrics
	logger    *slog.Logger
	config    FetcherConfig
	now       func() time.Time
}

// NewFetcher はFetcherの新しいインスタンスを生成する。metricsはnilでもよい。
func NewFetcher(
	feedRepo repository.CatalogFeedRepository,
	listings ListingUpserter,
	ssrfGuard SSRFValidator,
	sanitizer Sanitizer,
	metrics Metrics,
	logger *slog.Logger,
	config FetcherConfig,
) *Fetcher {
	if config.MaxItemsPerFeed <= 0 {
		config.MaxItemsPerFeed = 1000
	}
	return &Fetcher{
		feedRepo:  feedRepo,
		listings:  listings,
		ssrfGuard: ssrfGuard,
		sanitizer: sanitizer,
		metrics:   metrics,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
}

// Fetch はカタログフィードをフェッチし、出品を取り込んでフィード状態を更新する。
func (f *Fetcher) Fetch(ctx context.Context, feed *model.CatalogFeed) error {
	start := f.now()

	if err := f.ssrfGuard.ValidateURL(feed.FeedURL); err != nil {
		f.logger.Error("SSRF検証に失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("feed_url", feed.FeedURL),
			slog.String("error", err.Error()),
		)
		f.recordFailure(feed.ID, "ssrf")
		ApplyStopFeed(feed, fmt.Sprintf("SSRF検証失敗: %s", err.Error()), f.now())
		f.saveState(ctx, feed)
		return fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	client := f.ssrfGuard.NewSafeClient(f.config.Timeout, f.config.MaxBodySize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.FeedURL, nil)
	if err != nil {
		return fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")
	if feed.ETag != "" {
		req.Header.Set("If-None-Match", feed.ETag)
	}
	if feed.LastModified != "" {
		req.Header.Set("If-Modified-Since", feed.LastModified)
	}

	resp, err := client.Do(req)
	if err != nil {
		f.logger.Error("HTTPリクエストに失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("feed_url", feed.FeedURL),
			slog.String("error", err.Error()),
		)
		f.recordFailure(feed.ID, "network")
		ApplyBackoff(feed, fmt.Sprintf("HTTPリクエスト失敗: %s", err.Error()), f.now())
		f.saveState(ctx, feed)
		return fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	if f.metrics != nil {
		f.metrics.RecordHTTPStatus(resp.StatusCode)
		f.metrics.RecordFetchLatency(f.now().Sub(start))
	}

	switch ClassifyHTTPStatus(resp.StatusCode) {
	case FetchResultOK:
	case FetchResultNotModified:
		f.logger.Info("カタログフィードは未変更です（304）",
			slog.String("feed_id", feed.ID),
			slog.String("feed_url", feed.FeedURL),
		)
		if f.metrics != nil {
			f.metrics.RecordFetchSuccess(feed.ID)
		}
		ApplySuccess(feed, f.now())
		return f.feedRepo.UpdateFetchState(ctx, feed)
	case FetchResultClientError:
		f.logger.Warn("カタログフィードがクライアントエラーを返しました",
			slog.String("feed_id", feed.ID),
			slog.String("feed_url", feed.FeedURL),
			slog.Int("http_status", resp.StatusCode),
			slog.Int("consecutive_errors", feed.ConsecutiveErrors+1),
		)
		f.recordFailure(feed.ID, "http_4xx")
		ApplyClientError(feed, resp.StatusCode, f.now())
		return f.feedRepo.UpdateFetchState(ctx, feed)
	case FetchResultBackoff:
		f.logger.Warn("カタログフィードのフェッチにバックオフを適用します",
			slog.String("feed_id", feed.ID),
			slog.String("feed_url", feed.FeedURL),
			slog.Int("http_status", resp.StatusCode),
			slog.Int("consecutive_errors", feed.ConsecutiveErrors+1),
		)
		f.recordFailure(feed.ID, "http_retryable")
		ApplyBackoff(feed, fmt.Sprintf("HTTPステータス %d によりバックオフを適用しました", resp.StatusCode), f.now())
		return f.feedRepo.UpdateFetchState(ctx, feed)
	default:
		f.logger.Warn("予期しないHTTPステータスコード",
			slog.String("feed_id", feed.ID),
			slog.Int("http_status", resp.StatusCode),
		)
		f.recordFailure(feed.ID, "http_unexpected")
		ApplyBackoff(feed, fmt.Sprintf("予期しないHTTPステータス: %d", resp.StatusCode), f.now())
		return f.feedRepo.UpdateFetchState(ctx, feed)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodySize))
	if err != nil {
		f.logger.Error("レスポンスボディの読み取りに失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("error", err.Error()),
		)
		f.recordFailure(feed.ID, "read")
		ApplyBackoff(feed, fmt.Sprintf("レスポンス読み取り失敗: %s", err.Error()), f.now())
		return f.feedRepo.UpdateFetchState(ctx, feed)
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		feed.ETag = etag
	}
	if lastMod := resp.Header.Get("Last-Modified"); lastMod != "" {
		feed.LastModified = lastMod
	}

	parsedFeed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		f.logger.Error("カタログフィードのパースに失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("feed_url", feed.FeedURL),
			slog.String("error", err.Error()),
		)
		if f.metrics != nil {
			f.metrics.RecordParseFailure(feed.ID)
		}
		ApplyParseFailure(feed, err.Error(), f.now())
		f.saveState(ctx, feed)
		return nil
	}

	if parsedFeed.Title != "" {
		feed.Title = f.sanitizer.PlainText(parsedFeed.Title)
	}
	if parsedFeed.Link != "" {
		if site := httpsURL(parsedFeed.Link); site != "" {
			feed.SiteURL = site
		}
	}

	listings, skipped := ConvertItems(parsedFeed.Items, f.config.Currency, f.sanitizer, f.config.MaxItemsPerFeed)

	var created, updated, failed int
	for _, listing := range listings {
		isNew, err := f.listings.UpsertImported(ctx, feed.SellerID, listing, f.config.DefaultStock)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			f.logger.Error("出品の取込に失敗しました",
				slog.String("feed_id", feed.ID),
				slog.String("external_id", listing.ExternalID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if isNew {
			created++
		} else {
			updated++
		}
	}

	if failed > 0 && created+updated == 0 {
		f.recordFailure(feed.ID, "upsert")
		ApplyBackoff(feed, fmt.Sprintf("出品の取込に失敗しました（%d件）", failed), f.now())
		return f.feedRepo.UpdateFetchState(ctx, feed)
	}

	feed.LastImportedCount = created + updated
	ApplySuccess(feed, f.now())
	if err := f.feedRepo.UpdateFetchState(ctx, feed); err != nil {
		f.logger.Error("フィード状態の更新に失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("error", err.Error()),
		)
		return err
	}

	if f.metrics != nil {
		f.metrics.RecordFetchSuccess(feed.ID)
		f.metrics.RecordListingsImported(created + updated)
	}

	skippedTotal := 0
	for _, n := range skipped {
		skippedTotal += n
	}
	f.logger.Info("カタログフィードの取込が完了しました",
		slog.String("feed_id", feed.ID),
		slog.String("seller_id", feed.SellerID),
		slog.Int("http_status", resp.StatusCode),
		slog.Int("listings_created", created),
		slog.Int("listings_updated", updated),
		slog.Int("listings_failed", failed),
		slog.Int("entries_skipped", skippedTotal),
		slog.Float64("duration_ms", float64(f.now().Sub(start).Milliseconds())),
	)

	return nil
}

func (f *Fetcher) recordFailure(feedID, reason string) {
	if f.metrics != nil {
		f.metrics.RecordFetchFailure(feedID, reason)
	}
}

// saveState はエラー経路でフィード状態を保存する。保存の失敗はログのみ出力する。
func (f *Fetcher) saveState(ctx context.Context, feed *model.CatalogFeed) {
	if err := f.feedRepo.UpdateFetchState(ctx, feed); err != nil {
		f.logger.Error("フィード状態の更新に失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("error", err.Error()),
		)
	}
}
