// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/marketplace/internal/model"
)

// UserRepository はユーザー（profile）データの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdateSellerProfile は出品者フラグと店舗名を更新する。
	UpdateSellerProfile(ctx context.Context, id string, isSeller bool, storeName string) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessions、carts、出品、注文履歴はCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// ProductRepository は商品マスタと出品（seller_products）の永続化インターフェース。
type ProductRepository interface {
	// FindProductByID は指定IDの商品を取得する。見つからない場合はnilを返す。
	FindProductByID(ctx context.Context, id string) (*model.Product, error)

	// FindListingByID は指定IDの出品を商品情報付きで取得する。見つからない場合はnilを返す。
	FindListingByID(ctx context.Context, id string) (*model.ListingWithProduct, error)

	// ListOffersByProduct は商品に対する販売中の出品を価格の安い順に返す。
	ListOffersByProduct(ctx context.Context, productID string) ([]model.ListingWithProduct, error)

	// Search は検索条件に一致する販売中の出品と総件数を返す。
	Search(ctx context.Context, q model.SearchQuery) ([]model.ListingWithProduct, int, error)

	// ListBySeller は出品者の全出品（販売停止中を含む）を返す。
	ListBySeller(ctx context.Context, sellerID string, limit, offset int) ([]model.ListingWithProduct, error)

	// ListCategories は販売中の出品が存在するカテゴリ一覧を返す。
	ListCategories(ctx context.Context) ([]string, error)

	// CreateListing は商品と出品を同一トランザクションで作成する。
	CreateListing(ctx context.Context, product *model.Product, listing *model.Listing) error

	// UpdateListing は出品の価格、在庫、販売状態を更新する。
	UpdateListing(ctx context.Context, listing *model.Listing) error

	// UpsertImported はカタログフィード由来の出品を (seller_id, external_id) で作成または更新する。
	// 新規作成した場合はtrueを返す。
	UpsertImported(ctx context.Context, sellerID string, item model.ImportedListing, defaultStock int) (bool, error)
}

// CartRepository はカートの永続化インターフェース。
// カートの変更はcartsの行ロック下で行い、単一出品者の制約を保つ。
type CartRepository interface {
	// Get は購入者のカートを出品情報付きで返す。カートが存在しない場合は空のカートを返す。
	Get(ctx context.Context, buyerID string) (*model.Cart, error)

	// AddItem は出品をカートに追加する。既に入っている場合は数量を加算する。
	// 別の出品者の商品が入っている場合、replaceがtrueならカートを空にしてから追加する。
	AddItem(ctx context.Context, buyerID, listingID string, quantity int, replace bool) error

	// UpdateItemQuantity はカート内商品の数量を変更する。0の場合は削除する。
	UpdateItemQuantity(ctx context.Context, buyerID, itemID string, quantity int) error

	// RemoveItem はカート内商品を削除する。
	RemoveItem(ctx context.Context, buyerID, itemID string) error

	// Clear はカートを空にする。
	Clear(ctx context.Context, buyerID string) error
}

// OrderRepository は注文の永続化インターフェース。
type OrderRepository interface {
	// PlaceOrder はカート内容から注文を作成する。
	// カートと出品をロックし、在庫の減算、注文・明細・支払いの作成、カートの削除、
	// order.placedイベントの記録を1トランザクションで行う。
	// 同じ冪等キーの注文が既にある場合はその注文とfalseを返す。
	PlaceOrder(ctx context.Context, params model.PlaceOrderParams) (*model.Order, bool, error)

	// FindByID は指定IDの注文を明細付きで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Order, error)

	// List はユーザーの注文一覧を立場（購入者/出品者）ごとに返す。
	List(ctx context.Context, userID string, filter model.OrderFilter) ([]*model.Order, error)

	// CountOpenByUser はユーザーが当事者の未完了注文数を返す。
	CountOpenByUser(ctx context.Context, userID string) (int, error)

	// ApplyTransition はステータスがFromの場合のみToへ更新し、付随する変更とイベントを同一トランザクションで記録する。
	// ステータスが既に変わっていた場合はORDER_CONFLICTを返す。
	ApplyTransition(ctx context.Context, t model.OrderTransition) error
}

// PaymentRepository は支払いと振込証明の永続化インターフェース。
type PaymentRepository interface {
	// FindByOrderID は注文の支払いを取得する。見つからない場合はnilを返す。
	FindByOrderID(ctx context.Context, orderID string) (*model.Payment, error)

	// SaveProof は振込証明を保存し、支払いをsubmittedにしてイベントを記録する。
	SaveProof(ctx context.Context, proof *model.PaymentProof, event *model.OutboxEvent) error

	// FindProof は支払いの振込証明を取得する。見つからない場合はnilを返す。
	FindProof(ctx context.Context, paymentID string) (*model.PaymentProof, error)

	// Reject はsubmittedの支払いをrejectedにしてイベントを記録する。
	Reject(ctx context.Context, paymentID, reason string, event *model.OutboxEvent) error
}

// NotificationRepository は通知の永続化インターフェース。
type NotificationRepository interface {
	// Create は通知を作成する。同じIDの通知が既にある場合は何もしない。
	Create(ctx context.Context, n *model.Notification) error

	// ListByUser はユーザーの通知を新しい順に返す。
	ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*model.Notification, error)

	// CountUnread は未読通知数を返す。
	CountUnread(ctx context.Context, userID string) (int, error)

	// MarkRead は通知を既読にする。該当がない場合はfalseを返す。
	MarkRead(ctx context.Context, userID, id string) (bool, error)

	// MarkAllRead はユーザーの全通知を既読にし、更新件数を返す。
	MarkAllRead(ctx context.Context, userID string) (int, error)
}

// PointsRepository はポイントプログラム、残高、台帳、特典の永続化インターフェース。
type PointsRepository interface {
	// FindProgram は出品者のポイントプログラムを取得する。見つからない場合はnilを返す。
	FindProgram(ctx context.Context, sellerID string) (*model.RewardsProgram, error)

	// UpsertProgram はポイントプログラムを作成または更新する。
	UpsertProgram(ctx context.Context, p *model.RewardsProgram) error

	// ListBalances は購入者の出品者ごとのポイント残高を返す。
	ListBalances(ctx context.Context, buyerID string) ([]model.PointsBalance, error)

	// ListLedger は購入者のポイント履歴を新しい順に返す。
	ListLedger(ctx context.Context, buyerID string, limit int) ([]model.PointsEntry, error)

	// Award はポイントを付与する。同じ注文に対する付与が既にある場合は何もせずfalseを返す。
	// 付与した場合はeventを同一トランザクションで記録する。
	Award(ctx context.Context, award model.PointsAward, event *model.OutboxEvent) (bool, error)

	// FindReward は指定IDの特典を取得する。見つからない場合はnilを返す。
	FindReward(ctx context.Context, id string) (*model.Reward, error)

	// ListRewards は出品者の特典一覧を返す。activeOnlyがtrueの場合は交換可能なもののみ返す。
	ListRewards(ctx context.Context, sellerID string, activeOnly bool) ([]*model.Reward, error)

	// CreateReward は特典を作成する。
	CreateReward(ctx context.Context, r *model.Reward) error

	// UpdateReward は特典を更新する。
	UpdateReward(ctx context.Context, r *model.Reward) error

	// Redeem は残高と特典在庫をロックして特典と交換する。
	// 残高不足や在庫切れの場合はAPIErrorを返す。
	Redeem(ctx context.Context, buyerID, rewardID string, now time.Time) (*model.Redemption, error)

	// ListRedemptionsBySeller は出品者の特典交換履歴を返す。
	ListRedemptionsBySeller(ctx context.Context, sellerID string, limit int) ([]model.Redemption, error)
}

// OutboxRepository はアウトボックスイベントの取り出しと状態更新のインターフェース。
type OutboxRepository interface {
	// Claim は処理待ちのイベントを最大limit件取り出し、processingにする。
	// staleAfterより長くprocessingのままのイベントも再取得する。
	Claim(ctx context.Context, limit int, staleAfter time.Duration) ([]*model.OutboxEvent, error)

	// MarkDone はイベントを処理済みにする。
	MarkDone(ctx context.Context, id string) error

	// MarkFailed はイベントの失敗を記録する。deadがtrueの場合は再試行しない。
	MarkFailed(ctx context.Context, id string, attempts int, lastError string, nextAttemptAt time.Time, dead bool) error
}

// CatalogFeedRepository は出品者のカタログフィードの永続化インターフェース。
type CatalogFeedRepository interface {
	// FindByID は指定IDのカタログフィードを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.CatalogFeed, error)

	// FindBySellerAndURL は出品者とフィードURLで検索する。見つからない場合はnilを返す。
	FindBySellerAndURL(ctx context.Context, sellerID, feedURL string) (*model.CatalogFeed, error)

	// ListBySeller は出品者のカタログフィード一覧を返す。
	ListBySeller(ctx context.Context, sellerID string) ([]*model.CatalogFeed, error)

	// Create はカタログフィードを作成する。
	Create(ctx context.Context, feed *model.CatalogFeed) error

	// Delete は出品者のカタログフィードを削除する。該当がない場合はfalseを返す。
	Delete(ctx context.Context, sellerID, id string) (bool, error)

	// ClaimDue はフェッチ対象のフィードを最大limit件取り出し、lease分だけnext_fetch_atを先送りする。
	// 複数ワーカーが同じフィードを同時に処理しないよう FOR UPDATE SKIP LOCKED で選択する。
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*model.CatalogFeed, error)

	// UpdateFetchState はフェッチ結果（状態、エラー、次回時刻、条件付きGET用ヘッダ、取込件数）を更新する。
	UpdateFetchState(ctx context.Context, feed *model.CatalogFeed) error
}
