package fetch

import (
	"fmt"
	"time"

	"github.com/hitoshi/marketplace/internal/model"
)

// FetchResult はHTTPステータスコードに基づくフェッチ結果の分類。
type FetchResult int

const (
	// FetchResultOK はフェッチ成功（200）。
	FetchResultOK FetchResult = iota
	// FetchResultNotModified はコンテンツ未変更（304）。
	FetchResultNotModified
	// FetchResultClientError は出品者側の設定不備が疑われるステータス（404/410/401/403）。
	// 連続した場合にフェッチを停止する。
	FetchResultClientError
	// FetchResultBackoff はバックオフが必要なステータス（429/5xx）。
	FetchResultBackoff
	// FetchResultUnknown は未知のステータスコード。
	FetchResultUnknown
)

const (
	// initialBackoff は指数バックオフの初回遅延（30分）。
	initialBackoff = 30 * time.Minute
	// maxBackoff は指数バックオフの最大遅延（12時間）。
	maxBackoff = 12 * time.Hour
	// clientErrorThreshold は4xxによるフェッチ停止の閾値。
	clientErrorThreshold = 3
	// parseFailureThreshold はパース失敗によるフェッチ停止の閾値。
	parseFailureThreshold = 10
	// defaultIntervalMinutes はフィードにフェッチ間隔が設定されていない場合の間隔。
	defaultIntervalMinutes = 60
)

// ClassifyHTTPStatus はHTTPステータスコードをフェッチ結果に分類する。
func ClassifyHTTPStatus(statusCode int) FetchResult {
	switch {
	case statusCode == 200:
		return FetchResultOK
	case statusCode == 304:
		return FetchResultNotModified
	case statusCode == 404 || statusCode == 410:
		return FetchResultClientError
	case statusCode == 401 || statusCode == 403:
		return FetchResultClientError
	case statusCode == 429:
		return FetchResultBackoff
	case statusCode >= 500:
		return FetchResultBackoff
	default:
		return FetchResultUnknown
	}
}

// CalculateBackoff は連続エラー回数に基づいて指数バックオフ遅延を計算する。
// 初回30分、2倍ずつ増加、最大12時間。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// ApplyStopFeed はフィードのフェッチを停止する。
// 出品者がフィードを登録し直すまで再開しない。
func ApplyStopFeed(feed *model.CatalogFeed, reason string, now time.Time) {
	feed.FetchStatus = model.FetchStatusStopped
	feed.ErrorMessage = reason
	feed.UpdatedAt = now
}

// ApplyBackoff は連続エラー回数をインクリメントし、指数バックオフでnext_fetch_atを設定する。
func ApplyBackoff(feed *model.CatalogFeed, reason string, now time.Time) {
	feed.ConsecutiveErrors++
	feed.ErrorMessage = reason
	feed.NextFetchAt = now.Add(CalculateBackoff(feed.ConsecutiveErrors - 1))
	feed.UpdatedAt = now
}

// ApplyClientError は4xx応答を記録する。clientErrorThreshold回連続した場合はフェッチを停止する。
func ApplyClientError(feed *model.CatalogFeed, statusCode int, now time.Time) {
	ApplyBackoff(feed, fmt.Sprintf("HTTPステータス %d", statusCode), now)
	if feed.ConsecutiveErrors >= clientErrorThreshold {
		ApplyStopFeed(feed,
			fmt.Sprintf("HTTPステータス %d が%d回連続したためフェッチを停止しました", statusCode, feed.ConsecutiveErrors),
			now)
	}
}

// ApplySuccess はフェッチ成功時にフィードの状態をリセットし、次回フェッチ時刻を設定する。
func ApplySuccess(feed *model.CatalogFeed, now time.Time) {
	interval := feed.FetchIntervalMinutes
	if interval <= 0 {
		interval = defaultIntervalMinutes
	}
	feed.FetchStatus = model.FetchStatusActive
	feed.ConsecutiveErrors = 0
	feed.ErrorMessage = ""
	feed.NextFetchAt = now.Add(time.Duration(interval) * time.Minute)
	feed.UpdatedAt = now
}

// ApplyParseFailure はパース失敗時に連続エラー回数をインクリメントする。
// 閾値に達した場合はエラー状態にしてフェッチを停止する。
func ApplyParseFailure(feed *model.CatalogFeed, reason string, now time.Time) {
	ApplyBackoff(feed, fmt.Sprintf("パース失敗 (%d回連続): %s", feed.ConsecutiveErrors+1, reason), now)

	if feed.ConsecutiveErrors >= parseFailureThreshold {
		feed.FetchStatus = model.FetchStatusError
		feed.ErrorMessage = fmt.Sprintf("パース失敗が%d回連続したためフェッチを停止しました: %s", feed.ConsecutiveErrors, reason)
	}
}
