// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, cart, order, payment, points, catalog, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInternal              = "INTERNAL_ERROR"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeEmailNotVerified      = "EMAIL_NOT_VERIFIED"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeCSRFInvalid           = "CSRF_INVALID"
	ErrCodeRateLimited           = "RATE_LIMITED"
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
	ErrCodeUserNotFound          = "USER_NOT_FOUND"
	ErrCodeOpenOrdersExist       = "OPEN_ORDERS_EXIST"
	ErrCodeProductNotFound       = "PRODUCT_NOT_FOUND"
	ErrCodeListingNotFound       = "LISTING_NOT_FOUND"
	ErrCodeListingInactive       = "LISTING_INACTIVE"
	ErrCodeOwnListing            = "OWN_LISTING"
	ErrCodeInsufficientStock     = "INSUFFICIENT_STOCK"
	ErrCodeInvalidQuantity       = "INVALID_QUANTITY"
	ErrCodeCartSellerConflict    = "CART_SELLER_CONFLICT"
	ErrCodeCartItemNotFound      = "CART_ITEM_NOT_FOUND"
	ErrCodeCartEmpty             = "CART_EMPTY"
	ErrCodeOrderNotFound         = "ORDER_NOT_FOUND"
	ErrCodeInvalidTransition     = "INVALID_TRANSITION"
	ErrCodeForbiddenActor        = "FORBIDDEN_ACTOR"
	ErrCodeOrderConflict         = "ORDER_CONFLICT"
	ErrCodePaymentProofRequired  = "PAYMENT_PROOF_REQUIRED"
	ErrCodePaymentNotFound       = "PAYMENT_NOT_FOUND"
	ErrCodeInvalidPaymentState   = "INVALID_PAYMENT_STATE"
	ErrCodeProofTooLarge         = "PROOF_TOO_LARGE"
	ErrCodeUnsupportedProofType  = "UNSUPPORTED_PROOF_TYPE"
	ErrCodeProofNotFound         = "PROOF_NOT_FOUND"
	ErrCodeNotificationNotFound  = "NOTIFICATION_NOT_FOUND"
	ErrCodeRewardNotFound        = "REWARD_NOT_FOUND"
	ErrCodeRewardOutOfStock      = "REWARD_OUT_OF_STOCK"
	ErrCodeInsufficientPoints    = "INSUFFICIENT_POINTS"
	ErrCodeInvalidRewardsProgram = "INVALID_REWARDS_PROGRAM"
	ErrCodeFeedNotDetected       = "FEED_NOT_DETECTED"
	ErrCodeInvalidURL            = "INVALID_URL"
	ErrCodeSSRFBlocked           = "SSRF_BLOCKED"
	ErrCodeFetchFailed           = "FETCH_FAILED"
	ErrCodeParseFailed           = "PARSE_FAILED"
	ErrCodeCatalogFeedNotFound   = "CATALOG_FEED_NOT_FOUND"
	ErrCodeDuplicateCatalogFeed  = "DUPLICATE_CATALOG_FEED"
)

// NewInternalError は内部エラーを生成する。原因はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。問い合わせの際はrequest_idをお伝えください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewEmailNotVerifiedError はOAuthアカウントのメールアドレスが未確認の場合のエラーを生成する。
// メールアドレスは注文の連絡先として使用するため、確認済みのものに限る。
func NewEmailNotVerifiedError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailNotVerified,
		Message:  "Googleアカウントのメールアドレスが確認されていません。",
		Category: "auth",
		Action:   "メールアドレスを確認済みのアカウントでログインしてください。",
	}
}

// NewSellerOnlyError は出品者専用操作を出品者以外が呼び出した場合のエラーを生成する。
func NewSellerOnlyError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作は出品者のみ実行できます。",
		Category: "auth",
		Action:   "出品者登録を行ってから再度お試しください。",
	}
}

// NewCSRFInvalidError はCSRFトークンの検証失敗エラーを生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("入力値が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewOpenOrdersExistError は未完了の注文があるため退会できない場合のエラーを生成する。
func NewOpenOrdersExistError(count int) *APIError {
	return &APIError{
		Code:     ErrCodeOpenOrdersExist,
		Message:  fmt.Sprintf("未完了の注文が%d件あるため退会できません。", count),
		Category: "order",
		Action:   "すべての注文が完了またはキャンセルされてから退会してください。",
	}
}

// NewProductNotFoundError は商品未検出エラーを生成する。
func NewProductNotFoundError(productID string) *APIError {
	return &APIError{
		Code:     ErrCodeProductNotFound,
		Message:  fmt.Sprintf("指定された商品が見つかりません: %s", productID),
		Category: "catalog",
		Action:   "商品IDを確認してください。",
	}
}

// NewListingNotFoundError は出品未検出エラーを生成する。
func NewListingNotFoundError(listingID string) *APIError {
	return &APIError{
		Code:     ErrCodeListingNotFound,
		Message:  fmt.Sprintf("指定された出品が見つかりません: %s", listingID),
		Category: "catalog",
		Action:   "出品IDを確認してください。",
	}
}

// NewListingInactiveError は販売停止中の出品に対するエラーを生成する。
func NewListingInactiveError(listingID string) *APIError {
	return &APIError{
		Code:     ErrCodeListingInactive,
		Message:  fmt.Sprintf("この出品は現在販売されていません: %s", listingID),
		Category: "cart",
		Action:   "別の出品者の商品をお選びください。",
	}
}

// NewOwnListingError は出品者が自分の出品を購入しようとした場合のエラーを生成する。
func NewOwnListingError() *APIError {
	return &APIError{
		Code:     ErrCodeOwnListing,
		Message:  "自分の出品した商品は購入できません。",
		Category: "cart",
		Action:   "他の出品者の商品をお選びください。",
	}
}

// NewInsufficientStockError は在庫不足エラーを生成する。
func NewInsufficientStockError(productName string, available int) *APIError {
	return &APIError{
		Code:     ErrCodeInsufficientStock,
		Message:  fmt.Sprintf("在庫が不足しています: %s（残り%d点）", productName, available),
		Category: "cart",
		Action:   "数量を減らしてから再度お試しください。",
	}
}

// NewInvalidQuantityError は数量が不正な場合のエラーを生成する。
func NewInvalidQuantityError(quantity int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidQuantity,
		Message:  fmt.Sprintf("無効な数量です: %d", quantity),
		Category: "validation",
		Action:   "数量には1以上の整数を指定してください。",
	}
}

// NewCartSellerConflictError はカートに別の出品者の商品が入っている場合のエラーを生成する。
func NewCartSellerConflictError(activeSellerID string) *APIError {
	return &APIError{
		Code:     ErrCodeCartSellerConflict,
		Message:  fmt.Sprintf("カートには別の出品者の商品が入っています: %s", activeSellerID),
		Category: "cart",
		Action:   "カートを空にしてから追加するか、replaceを指定してカートを置き換えてください。",
	}
}

// NewCartItemNotFoundError はカート内の商品が見つからない場合のエラーを生成する。
func NewCartItemNotFoundError(itemID string) *APIError {
	return &APIError{
		Code:     ErrCodeCartItemNotFound,
		Message:  fmt.Sprintf("カート内に指定された商品が見つかりません: %s", itemID),
		Category: "cart",
		Action:   "カートを再読み込みしてください。",
	}
}

// NewCartEmptyError はカートが空の状態でチェックアウトした場合のエラーを生成する。
func NewCartEmptyError() *APIError {
	return &APIError{
		Code:     ErrCodeCartEmpty,
		Message:  "カートが空です。",
		Category: "cart",
		Action:   "商品をカートに追加してから購入手続きを行ってください。",
	}
}

// NewOrderNotFoundError は注文未検出エラーを生成する。
func NewOrderNotFoundError(orderID string) *APIError {
	return &APIError{
		Code:     ErrCodeOrderNotFound,
		Message:  fmt.Sprintf("指定された注文が見つかりません: %s", orderID),
		Category: "order",
		Action:   "注文IDを確認してください。",
	}
}

// NewInvalidTransitionError は現在の注文ステータスから実行できない操作のエラーを生成する。
func NewInvalidTransitionError(from OrderStatus, action OrderAction) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTransition,
		Message:  fmt.Sprintf("ステータス %s の注文に %s は実行できません。", from, action),
		Category: "order",
		Action:   "注文の最新ステータスを確認してください。",
	}
}

// NewForbiddenActorError は操作を実行できない立場の利用者が遷移を要求した場合のエラーを生成する。
func NewForbiddenActorError(action OrderAction, role ActorRole) *APIError {
	return &APIError{
		Code:     ErrCodeForbiddenActor,
		Message:  fmt.Sprintf("%s は %s として実行できません。", action, role),
		Category: "order",
		Action:   "購入者または出品者として正しい操作を選択してください。",
	}
}

// NewOrderConflictError は注文が同時に更新された場合のエラーを生成する。
func NewOrderConflictError(orderID string) *APIError {
	return &APIError{
		Code:     ErrCodeOrderConflict,
		Message:  fmt.Sprintf("注文が他の操作によって更新されました: %s", orderID),
		Category: "order",
		Action:   "注文を再読み込みしてから再度お試しください。",
	}
}

// NewPaymentProofRequiredError は振込証明が未提出のまま注文確認しようとした場合のエラーを生成する。
func NewPaymentProofRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodePaymentProofRequired,
		Message:  "振込証明が提出されていません。",
		Category: "payment",
		Action:   "購入者が振込証明をアップロードするまでお待ちください。",
	}
}

// NewPaymentNotFoundError は支払い情報が見つからない場合のエラーを生成する。
func NewPaymentNotFoundError(orderID string) *APIError {
	return &APIError{
		Code:     ErrCodePaymentNotFound,
		Message:  fmt.Sprintf("注文の支払い情報が見つかりません: %s", orderID),
		Category: "payment",
		Action:   "注文IDを確認してください。",
	}
}

// NewInvalidPaymentStateError は支払いステータスが操作に適さない場合のエラーを生成する。
func NewInvalidPaymentStateError(status PaymentStatus) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPaymentState,
		Message:  fmt.Sprintf("支払いステータス %s ではこの操作を実行できません。", status),
		Category: "payment",
		Action:   "支払いの最新ステータスを確認してください。",
	}
}

// NewProofTooLargeError は振込証明ファイルのサイズ超過エラーを生成する。
func NewProofTooLargeError(maxBytes int64) *APIError {
	return &APIError{
		Code:     ErrCodeProofTooLarge,
		Message:  fmt.Sprintf("ファイルサイズが上限（%dバイト）を超えています。", maxBytes),
		Category: "payment",
		Action:   "ファイルを圧縮するか、より小さい画像をアップロードしてください。",
	}
}

// NewUnsupportedProofTypeError は振込証明ファイルの形式が不正な場合のエラーを生成する。
func NewUnsupportedProofTypeError(contentType string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedProofType,
		Message:  fmt.Sprintf("対応していないファイル形式です: %s", contentType),
		Category: "payment",
		Action:   "JPEG、PNG、WebP、PDFのいずれかをアップロードしてください。",
	}
}

// NewProofNotFoundError は振込証明が見つからない場合のエラーを生成する。
func NewProofNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeProofNotFound,
		Message:  "振込証明がアップロードされていません。",
		Category: "payment",
		Action:   "振込証明をアップロードしてください。",
	}
}

// NewNotificationNotFoundError は通知が見つからない場合のエラーを生成する。
func NewNotificationNotFoundError(notificationID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotificationNotFound,
		Message:  fmt.Sprintf("指定された通知が見つかりません: %s", notificationID),
		Category: "validation",
		Action:   "通知一覧を再読み込みしてください。",
	}
}

// NewRewardNotFoundError は特典が見つからない場合のエラーを生成する。
func NewRewardNotFoundError(rewardID string) *APIError {
	return &APIError{
		Code:     ErrCodeRewardNotFound,
		Message:  fmt.Sprintf("指定された特典が見つかりません: %s", rewardID),
		Category: "points",
		Action:   "特典IDを確認してください。",
	}
}

// NewRewardOutOfStockError は特典の在庫切れエラーを生成する。
func NewRewardOutOfStockError() *APIError {
	return &APIError{
		Code:     ErrCodeRewardOutOfStock,
		Message:  "この特典は在庫切れです。",
		Category: "points",
		Action:   "別の特典をお選びください。",
	}
}

// NewInsufficientPointsError はポイント不足エラーを生成する。
func NewInsufficientPointsError(balance, required int64) *APIError {
	return &APIError{
		Code:     ErrCodeInsufficientPoints,
		Message:  fmt.Sprintf("ポイントが不足しています（保有%d / 必要%d）。", balance, required),
		Category: "points",
		Action:   "対象出品者での購入でポイントを貯めてから交換してください。",
	}
}

// NewInvalidRewardsProgramError はポイントプログラム設定が不正な場合のエラーを生成する。
func NewInvalidRewardsProgramError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRewardsProgram,
		Message:  fmt.Sprintf("ポイントプログラムの設定が不正です: %s", reason),
		Category: "validation",
		Action:   "付与ポイントと最低購入金額を確認してください。",
	}
}

// NewFeedNotDetectedError はカタログフィード未検出エラーを生成する。
func NewFeedNotDetectedError(url string) *APIError {
	return &APIError{
		Code:     ErrCodeFeedNotDetected,
		Message:  fmt.Sprintf("指定されたURLから商品フィードを検出できませんでした: %s", url),
		Category: "catalog",
		Action:   "RSS/Atom形式の商品フィードURLを直接入力するか、ショップページのURLを確認してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewFetchFailedError はフェッチ失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("URLの取得に失敗しました: %s", reason),
		Category: "catalog",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewParseFailedError はパース失敗エラーを生成する。
func NewParseFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeParseFailed,
		Message:  "商品フィードの解析に失敗しました。",
		Category: "catalog",
		Action:   "有効なRSS/Atomフィードかどうか確認してください。",
	}
}

// NewCatalogFeedNotFoundError はカタログフィードが見つからない場合のエラーを生成する。
func NewCatalogFeedNotFoundError(feedID string) *APIError {
	return &APIError{
		Code:     ErrCodeCatalogFeedNotFound,
		Message:  fmt.Sprintf("指定されたカタログフィードが見つかりません: %s", feedID),
		Category: "catalog",
		Action:   "カタログフィードIDを確認してください。",
	}
}

// NewDuplicateCatalogFeedError は登録済みのカタログフィードを再登録しようとした場合のエラーを生成する。
func NewDuplicateCatalogFeedError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateCatalogFeed,
		Message:  "このカタログフィードは既に登録されています。",
		Category: "catalog",
		Action:   "カタログフィード一覧から該当フィードを確認してください。",
	}
}
