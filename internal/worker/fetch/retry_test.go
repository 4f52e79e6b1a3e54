package fetch

import (
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/marketplace/internal/model"
)

var retryNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		want   FetchResult
	}{
		{200, FetchResultOK},
		{304, FetchResultNotModified},
		{401, FetchResultClientError},
		{403, FetchResultClientError},
		{404, FetchResultClientError},
		{410, FetchResultClientError},
		{429, FetchResultBackoff},
		{500, FetchResultBackoff},
		{502, FetchResultBackoff},
		{503, FetchResultBackoff},
		{204, FetchResultUnknown},
		{302, FetchResultUnknown},
		{418, FetchResultUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyHTTPStatus(tt.status); got != tt.want {
			t.Errorf("ClassifyHTTPStatus(%d) = %d, want %d", tt.status, got, tt.want)
		}
	}
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		errors int
		want   time.Duration
	}{
		{0, 30 * time.Minute},
		{1, time.Hour},
		{2, 2 * time.Hour},
		{4, 8 * time.Hour},
		{5, 12 * time.Hour},
		{50, 12 * time.Hour},
	}
	for _, tt := range tests {
		if got := CalculateBackoff(tt.errors); got != tt.want {
			t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.errors, got, tt.want)
		}
	}
}

func TestApplyStopFeed(t *testing.T) {
	feed := &model.CatalogFeed{FetchStatus: model.FetchStatusActive}

	ApplyStopFeed(feed, "blocked", retryNow)

	if feed.FetchStatus != model.FetchStatusStopped {
		t.Errorf("FetchStatus = %q, want %q", feed.FetchStatus, model.FetchStatusStopped)
	}
	if feed.ErrorMessage != "blocked" {
		t.Errorf("ErrorMessage = %q, want %q", feed.ErrorMessage, "blocked")
	}
	if !feed.UpdatedAt.Equal(retryNow) {
		t.Errorf("UpdatedAt = %v, want %v", feed.UpdatedAt, retryNow)
	}
}

func TestApplyBackoff(t *testing.T) {
	feed := &model.CatalogFeed{FetchStatus: model.FetchStatusActive, ConsecutiveErrors: 1}

	ApplyBackoff(feed, "HTTP 503", retryNow)

	if feed.ConsecutiveErrors != 2 {
		t.Errorf("ConsecutiveErrors = %d, want 2", feed.ConsecutiveErrors)
	}
	if want := retryNow.Add(time.Hour); !feed.NextFetchAt.Equal(want) {
		t.Errorf("NextFetchAt = %v, want %v", feed.NextFetchAt, want)
	}
	if feed.FetchStatus != model.FetchStatusActive {
		t.Errorf("バックオフでフェッチ状態を変更してはならない: %q", feed.FetchStatus)
	}
}

func TestApplyClientError_StopsAtThreshold(t *testing.T) {
	feed := &model.CatalogFeed{FetchStatus: model.FetchStatusActive}

	for i := 1; i < clientErrorThreshold; i++ {
		ApplyClientError(feed, 404, retryNow)
		if feed.FetchStatus != model.FetchStatusActive {
			t.Fatalf("%d回目の404で停止してはならない", i)
		}
	}

	ApplyClientError(feed, 404, retryNow)
	if feed.FetchStatus != model.FetchStatusStopped {
		t.Errorf("FetchStatus = %q, want %q", feed.FetchStatus, model.FetchStatusStopped)
	}
	if !strings.Contains(feed.ErrorMessage, "404") {
		t.Errorf("ErrorMessage にステータスコードが含まれていない: %q", feed.ErrorMessage)
	}
}

func TestApplySuccess(t *testing.T) {
	feed := &model.CatalogFeed{
		FetchStatus:          model.FetchStatusActive,
		ConsecutiveErrors:    4,
		ErrorMessage:         "old error",
		FetchIntervalMinutes: 180,
	}

	ApplySuccess(feed, retryNow)

	if feed.ConsecutiveErrors != 0 {
		t.Errorf("ConsecutiveErrors = %d, want 0", feed.ConsecutiveErrors)
	}
	if feed.ErrorMessage != "" {
		t.Errorf("ErrorMessage = %q, want empty", feed.ErrorMessage)
	}
	if want := retryNow.Add(3 * time.Hour); !feed.NextFetchAt.Equal(want) {
		t.Errorf("NextFetchAt = %v, want %v", feed.NextFetchAt, want)
	}
}

func TestApplySuccess_DefaultInterval(t *testing.T) {
	feed := &model.CatalogFeed{FetchStatus: model.FetchStatusError}

	ApplySuccess(feed, retryNow)

	if want := retryNow.Add(60 * time.Minute); !feed.NextFetchAt.Equal(want) {
		t.Errorf("NextFetchAt = %v, want %v", feed.NextFetchAt, want)
	}
	if feed.FetchStatus != model.FetchStatusActive {
		t.Errorf("FetchStatus = %q, want %q", feed.FetchStatus, model.FetchStatusActive)
	}
}

func TestApplyParseFailure(t *testing.T) {
	feed := &model.CatalogFeed{FetchStatus: model.FetchStatusActive}

	ApplyParseFailure(feed, "unexpected EOF", retryNow)

	if feed.ConsecutiveErrors != 1 {
		t.Errorf("ConsecutiveErrors = %d, want 1", feed.ConsecutiveErrors)
	}
	if feed.FetchStatus != model.FetchStatusActive {
		t.Errorf("1回目のパース失敗で停止してはならない: %q", feed.FetchStatus)
	}
	if !strings.Contains(feed.ErrorMessage, "unexpected EOF") {
		t.Errorf("ErrorMessage にパースエラーが含まれていない: %q", feed.ErrorMessage)
	}
}

func TestApplyParseFailure_StopsAtThreshold(t *testing.T) {
	feed := &model.CatalogFeed{FetchStatus: model.FetchStatusActive, ConsecutiveErrors: parseFailureThreshold - 1}

	ApplyParseFailure(feed, "invalid xml", retryNow)

	if feed.ConsecutiveErrors != parseFailureThreshold {
		t.Errorf("ConsecutiveErrors = %d, want %d", feed.ConsecutiveErrors, parseFailureThreshold)
	}
	if feed.FetchStatus != model.FetchStatusError {
		t.Errorf("FetchStatus = %q, want %q", feed.FetchStatus, model.FetchStatusError)
	}
}
