package middleware

import (
	"encoding/json"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/marketplace/internal/model"
)

// RequestIDHeader はレスポンスにリクエストIDを返すヘッダー名。
const RequestIDHeader = "X-Request-Id"

// IdempotencyKeyHeader はチェックアウトの冪等キーを送るヘッダー名。
const IdempotencyKeyHeader = "Idempotency-Key"

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// request_id はアクセスログの同じキーと一致し、問い合わせ時の突き合わせに使う。
type ErrorResponseBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Category  string `json:"category"`
	Action    string `json:"action"`
	RequestID string `json:"request_id,omitempty"`
}

// NewRequestIDHeaderMiddleware はchiのRequestIDミドルウェアが採番したIDをレスポンスヘッダーに設定する。
// chimw.RequestIDより後に登録すること。
func NewRequestIDHeaderMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if reqID := chimw.GetReqID(r.Context()); reqID != "" {
				w.Header().Set(RequestIDHeader, reqID)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		Category:  apiErr.Category,
		Action:    apiErr.Action,
		RequestID: w.Header().Get(RequestIDHeader),
	})
}

// WriteInternalServerError は500の統一レスポンスを書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
