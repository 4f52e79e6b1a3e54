// Package catalog は商品検索、出品管理、カタログフィード登録のドメインロジックを提供する。
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/marketplace/internal/model"
	"github.com/hitoshi/marketplace/internal/repository"
)

// 入力値の上限
const (
	maxProductNameLength     = 200
	maxCategoryLength        = 100
	maxDescriptionLength     = 20000
	maxPriceCents            = int64(10_000_000_000)
	maxStock                 = 1_000_000
	maxCatalogFeedsPerSeller = 10
)

// defaultFetchIntervalMinutes は新規カタログフィードのフェッチ間隔（分）。
const defaultFetchIntervalMinutes = 60

// FeedDetector はカタログフィードURL検出のインターフェース。
type FeedDetector interface {
	DetectFeedURL(ctx context.Context, inputURL string) (string, error)
}

// Sanitizer は商品説明と短いテキスト項目のサニタイズのインターフェース。
type Sanitizer interface {
	Sanitize(rawHTML string) string
	PlainText(raw string) string
}

// Service はカタログのサービス層。
type Service struct {
	products  repository.ProductRepository
	feeds     repository.CatalogFeedRepository
	detector  FeedDetector
	sanitizer Sanitizer
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	products repository.ProductRepository,
	feeds repository.CatalogFeedRepository,
	detector FeedDetector,
	sanitizer Sanitizer,
) *Service {
	return &Service{
		products:  products,
		feeds:     feeds,
		detector:  detector,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// SearchResult は検索結果とページング情報を表す。
type SearchResult struct {
	Listings []model.ListingWithProduct
	Total    int
	Limit    int
	Offset   int
}

// Search は販売中の出品を検索する。
func (s *Service) Search(ctx context.Context, q model.SearchQuery) (*SearchResult, error) {
	if q.MinPriceCents < 0 || q.MaxPriceCents < 0 {
		return nil, model.NewValidationError("price range must not be negative")
	}
	if q.MaxPriceCents > 0 && q.MinPriceCents > q.MaxPriceCents {
		return nil, model.NewValidationError("min_price must not exceed max_price")
	}
	q.Text = strings.TrimSpace(q.Text)
	q.Category = strings.TrimSpace(q.Category)
	q = q.Normalize()

	listings, total, err := s.products.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("商品の検索に失敗しました: %w", err)
	}
	return &SearchResult{Listings: listings, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}

// ProductDetail は商品と出品者ごとの販売条件を表す。
type ProductDetail struct {
	Product model.Product
	Offers  []model.ListingWithProduct
}

// GetProduct は商品と販売中の全出品を価格の安い順に返す。
func (s *Service) GetProduct(ctx context.Context, productID string) (*ProductDetail, error) {
	product, err := s.products.FindProductByID(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("商品の取得に失敗しました: %w", err)
	}
	if product == nil {
		return nil, model.NewProductNotFoundError(productID)
	}

	offers, err := s.products.ListOffersByProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("出品一覧の取得に失敗しました: %w", err)
	}
	return &ProductDetail{Product: *product, Offers: offers}, nil
}

// ListCategories は販売中の出品があるカテゴリを返す。
func (s *Service) ListCategories(ctx context.Context) ([]string, error) {
	return s.products.ListCategories(ctx)
}

// ListingInput は出品作成の入力を表す。
type ListingInput struct {
	Name        string
	Description string
	Category    string
	ImageURL    string
	PriceCents  int64
	Stock       int
	IsActive    bool
}

// CreateListing は新しい商品と出品を作成する。
func (s *Service) CreateListing(ctx context.Context, sellerID string, in ListingInput) (*model.ListingWithProduct, error) {
	name := s.sanitizer.PlainText(in.Name)
	category := s.sanitizer.PlainText(in.Category)
	switch {
	case name == "":
		return nil, model.NewValidationError("name is required")
	case utf8.RuneCountInString(name) > maxProductNameLength:
		return nil, model.NewValidationError(fmt.Sprintf("name must be at most %d characters", maxProductNameLength))
	case utf8.RuneCountInString(category) > maxCategoryLength:
		return nil, model.NewValidationError(fmt.Sprintf("category must be at most %d characters", maxCategoryLength))
	case utf8.RuneCountInString(in.Description) > maxDescriptionLength:
		return nil, model.NewValidationError("description is too long")
	}
	if err := validatePriceAndStock(in.PriceCents, in.Stock); err != nil {
		return nil, err
	}
	imageURL, err := normalizeImageURL(in.ImageURL)
	if err != nil {
		return nil, err
	}

	now := s.now()
	product := &model.Product{
		ID:          uuid.New().String(),
		Name:        name,
		Description: s.sanitizer.Sanitize(in.Description),
		Category:    category,
		ImageURL:    imageURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	listing := &model.Listing{
		ID:         uuid.New().String(),
		SellerID:   sellerID,
		ProductID:  product.ID,
		PriceCents: in.PriceCents,
		Stock:      in.Stock,
		IsActive:   in.IsActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.products.CreateListing(ctx, product, listing); err != nil {
		return nil, err
	}

	slog.Info("出品を作成しました",
		slog.String("seller_id", sellerID),
		slog.String("listing_id", listing.ID),
		slog.String("product_id", product.ID),
	)

	return &model.ListingWithProduct{Listing: *listing, Product: *product}, nil
}

// ListingUpdate は出品更新の入力を表す。nilのフィールドは変更しない。
type ListingUpdate struct {
	PriceCents *int64
	Stock      *int
	IsActive   *bool
}

// UpdateListing は出品者本人の出品の価格、在庫、販売状態を更新する。
func (s *Service) UpdateListing(ctx context.Context, sellerID, listingID string, in ListingUpdate) (*model.ListingWithProduct, error) {
	current, err := s.products.FindListingByID(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("出品の取得に失敗しました: %w", err)
	}
	if current == nil || current.SellerID != sellerID {
		return nil, model.NewListingNotFoundError(listingID)
	}

	updated := *current
	if in.PriceCents != nil {
		updated.PriceCents = *in.PriceCents
	}
	if in.Stock != nil {
		updated.Stock = *in.Stock
	}
	if in.IsActive != nil {
		updated.IsActive = *in.IsActive
	}
	if err := validatePriceAndStock(updated.PriceCents, updated.Stock); err != nil {
		return nil, err
	}

	if err := s.products.UpdateListing(ctx, &updated.Listing); err != nil {
		return nil, err
	}
	updated.UpdatedAt = s.now()
	return &updated, nil
}

// ListSellerListings は出品者の全出品を返す。
func (s *Service) ListSellerListings(ctx context.Context, sellerID string, limit, offset int) ([]model.ListingWithProduct, error) {
	page := model.SearchQuery{Limit: limit, Offset: offset}.Normalize()
	return s.products.ListBySeller(ctx, sellerID, page.Limit, page.Offset)
}

// RegisterCatalogFeed は入力URLからカタログフィードを検出して登録する。
// フロー: 登録上限チェック → フィード検出 → 重複チェック → 保存
// 保存直後のフィードはnext_fetch_atが現在時刻のため、次回のワーカー実行で取り込まれる。
func (s *Service) RegisterCatalogFeed(ctx context.Context, sellerID, inputURL string) (*model.CatalogFeed, error) {
	existing, err := s.feeds.ListBySeller(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("カタログフィード一覧の取得に失敗しました: %w", err)
	}
	if len(existing) >= maxCatalogFeedsPerSeller {
		return nil, model.NewValidationError(fmt.Sprintf("a seller can register at most %d catalog feeds", maxCatalogFeedsPerSeller))
	}

	feedURL, err := s.detector.DetectFeedURL(ctx, inputURL)
	if err != nil {
		return nil, err
	}

	dup, err := s.feeds.FindBySellerAndURL(ctx, sellerID, feedURL)
	if err != nil {
		return nil, fmt.Errorf("カタログフィードの検索に失敗しました: %w", err)
	}
	if dup != nil {
		return nil, model.NewDuplicateCatalogFeedError()
	}

	now := s.now()
	feed := &model.CatalogFeed{
		ID:                   uuid.New().String(),
		SellerID:             sellerID,
		FeedURL:              feedURL,
		SiteURL:              siteRoot(inputURL),
		Title:                feedURL,
		FetchStatus:          model.FetchStatusActive,
		FetchIntervalMinutes: defaultFetchIntervalMinutes,
		NextFetchAt:          now,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.feeds.Create(ctx, feed); err != nil {
		return nil, err
	}

	slog.Info("カタログフィードを登録しました",
		slog.String("seller_id", sellerID),
		slog.String("feed_id", feed.ID),
		slog.String("feed_url", feedURL),
	)
	return feed, nil
}

// ListCatalogFeeds は出品者のカタログフィード一覧を返す。
func (s *Service) ListCatalogFeeds(ctx context.Context, sellerID string) ([]*model.CatalogFeed, error) {
	return s.feeds.ListBySeller(ctx, sellerID)
}

// DeleteCatalogFeed はカタログフィードを削除する。取込済みの出品は残る。
func (s *Service) DeleteCatalogFeed(ctx context.Context, sellerID, feedID string) error {
	deleted, err := s.feeds.Delete(ctx, sellerID, feedID)
	if err != nil {
		return err
	}
	if !deleted {
		return model.NewCatalogFeedNotFoundError(feedID)
	}
	return nil
}

func validatePriceAndStock(priceCents int64, stock int) error {
	if priceCents <= 0 || priceCents > maxPriceCents {
		return model.NewValidationError("price must be a positive amount")
	}
	if stock < 0 || stock > maxStock {
		return model.NewValidationError(fmt.Sprintf("stock must be between 0 and %d", maxStock))
	}
	return nil
}

// normalizeImageURL は画像URLがhttpsの絶対URLであることを検証する。空は許可する。
func normalizeImageURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return "", model.NewValidationError("image_url must be an absolute https URL")
	}
	return u.String(), nil
}

// siteRoot は入力URLのスキームとホストのみを返す。
func siteRoot(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host}).String()
}
