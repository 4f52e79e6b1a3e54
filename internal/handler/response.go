package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/marketplace/internal/middleware"
	"github.com/hitoshi/marketplace/internal/model"
)

// maxJSONBodyBytes はJSONリクエストボディの最大サイズ。
const maxJSONBodyBytes = 1 << 20

// validate はリクエストDTOの検証に使用する共有バリデーター。
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON はリクエストボディをJSONとしてデコードし、validateタグで検証する。
// 失敗した場合は400の統一エラーを書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidRequest,
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}

	if err := validate.Struct(dst); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError(validationMessage(err)))
		return false
	}
	return true
}

// validationMessage はvalidatorのエラーを「field: tag」形式の説明に変換する。
func validationMessage(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}
	messages := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		if fieldErr.Param() != "" {
			messages = append(messages, fmt.Sprintf("%s: %s=%s", fieldErr.Field(), fieldErr.Tag(), fieldErr.Param()))
			continue
		}
		messages = append(messages, fmt.Sprintf("%s: %s", fieldErr.Field(), fieldErr.Tag()))
	}
	return strings.Join(messages, ", ")
}

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// requireUserID はコンテキストから認証済みユーザーIDを取得する。
// 取得できない場合は401を書き込みfalseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden, model.ErrCodeForbiddenActor, model.ErrCodeOwnListing,
		model.ErrCodeCSRFInvalid, model.ErrCodeSSRFBlocked, model.ErrCodeEmailNotVerified:
		return http.StatusForbidden
	case model.ErrCodeInvalidRequest, model.ErrCodeInvalidQuantity, model.ErrCodeInvalidURL,
		model.ErrCodeInvalidRewardsProgram, model.ErrCodePaymentProofRequired:
		return http.StatusBadRequest
	case model.ErrCodeUserNotFound, model.ErrCodeProductNotFound, model.ErrCodeListingNotFound,
		model.ErrCodeCartItemNotFound, model.ErrCodeOrderNotFound, model.ErrCodePaymentNotFound,
		model.ErrCodeProofNotFound, model.ErrCodeNotificationNotFound, model.ErrCodeRewardNotFound,
		model.ErrCodeCatalogFeedNotFound:
		return http.StatusNotFound
	case model.ErrCodeCartSellerConflict, model.ErrCodeInsufficientStock, model.ErrCodeListingInactive,
		model.ErrCodeCartEmpty, model.ErrCodeInvalidTransition, model.ErrCodeOrderConflict,
		model.ErrCodeInvalidPaymentState, model.ErrCodeRewardOutOfStock, model.ErrCodeInsufficientPoints,
		model.ErrCodeOpenOrdersExist, model.ErrCodeDuplicateCatalogFeed:
		return http.StatusConflict
	case model.ErrCodeProofTooLarge:
		return http.StatusRequestEntityTooLarge
	case model.ErrCodeUnsupportedProofType:
		return http.StatusUnsupportedMediaType
	case model.ErrCodeFeedNotDetected, model.ErrCodeParseFailed:
		return http.StatusUnprocessableEntity
	case model.ErrCodeFetchFailed:
		return http.StatusBadGateway
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// queryInt はクエリパラメータを整数として読み取る。未指定の場合はdefを返す。
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, model.NewValidationError(fmt.Sprintf("%s must be an integer", name))
	}
	return v, nil
}

// queryCents はクエリパラメータを最小通貨単位の金額として読み取る。未指定の場合は0を返す。
func queryCents(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, model.NewValidationError(fmt.Sprintf("%s must be a non-negative integer amount in minor units", name))
	}
	return v, nil
}

func notFoundError() *model.APIError {
	return &model.APIError{
		Code:     "NOT_FOUND",
		Message:  "指定されたエンドポイントが見つかりません。",
		Category: "system",
		Action:   "URLを確認してください。",
	}
}

func methodNotAllowedError() *model.APIError {
	return &model.APIError{
		Code:     "METHOD_NOT_ALLOWED",
		Message:  "このエンドポイントでは許可されていないメソッドです。",
		Category: "system",
		Action:   "HTTPメソッドを確認してください。",
	}
}
