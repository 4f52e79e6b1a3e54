package middleware

import (
	"net/http"
	"time"
)

// RequestRecorder はAPIリクエストのメトリクス記録インターフェース。
type RequestRecorder interface {
	RecordRequest(method string, statusCode int, duration time.Duration)
}

// NewMetricsMiddleware はリクエストのメソッド、ステータスコード、処理時間を記録するミドルウェアを返す。
func NewMetricsMiddleware(recorder RequestRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newStatusRecorder(w)

			next.ServeHTTP(rec, r)

			recorder.RecordRequest(r.Method, rec.statusCode, time.Since(start))
		})
	}
}
