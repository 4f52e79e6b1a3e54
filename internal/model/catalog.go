package model

import "time"

// Product は出品者をまたいで共有される商品マスタを表す。
type Product struct {
	ID          string
	Name        string
	Description string // サニタイズ済みHTML
	Category    string
	ImageURL    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Listing は出品者ごとの販売条件（seller_products）を表す。
// 価格は通貨の最小単位（セント等）の整数で保持する。
type Listing struct {
	ID         string
	SellerID   string
	ProductID  string
	PriceCents int64
	Stock      int
	IsActive   bool
	ExternalID string // カタログフィード由来の商品ID（g:id）
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Purchasable は出品が購入可能な状態かどうかを返す。
func (l *Listing) Purchasable() bool {
	return l.IsActive && l.Stock > 0
}

// ListingWithProduct は出品と商品情報、出品者名を結合したモデル。
type ListingWithProduct struct {
	Listing
	Product    Product
	SellerName string
}

// SearchQuery は商品検索条件を表す。
// ゼロ値のフィールドは条件に含めない。
type SearchQuery struct {
	Text          string
	Category      string
	SellerID      string
	MinPriceCents int64
	MaxPriceCents int64
	InStockOnly   bool
	Limit         int
	Offset        int
}

// 検索件数の既定値と上限
const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

// Normalize は検索条件の件数指定を既定値と上限の範囲に収める。
func (q SearchQuery) Normalize() SearchQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultSearchLimit
	}
	if q.Limit > MaxSearchLimit {
		q.Limit = MaxSearchLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// CatalogFeed は出品者が登録した商品カタログフィード（RSS/Atom、Google Merchant形式）を表す。
type CatalogFeed struct {
	ID                   string
	SellerID             string
	FeedURL              string
	SiteURL              string
	Title                string
	ETag                 string
	LastModified         string
	FetchStatus          FetchStatus
	ConsecutiveErrors    int
	ErrorMessage         string
	FetchIntervalMinutes int
	LastImportedCount    int
	NextFetchAt          time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// FetchStatus はカタログフィードのフェッチ状態を表す。
type FetchStatus string

const (
	// FetchStatusActive はアクティブなフェッチ状態。
	FetchStatusActive FetchStatus = "active"
	// FetchStatusStopped は停止されたフェッチ状態。
	FetchStatusStopped FetchStatus = "stopped"
	// FetchStatusError はエラーによるフェッチ停止状態。
	FetchStatusError FetchStatus = "error"
)

// ImportedListing はカタログフィードの1エントリから得られた出品情報。
type ImportedListing struct {
	ExternalID  string
	Name        string
	Description string
	Category    string
	ImageURL    string
	Link        string
	PriceCents  int64
	Currency    string
	Stock       *int // フィードに数量がない場合はnil
	Available   bool
}
