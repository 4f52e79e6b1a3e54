package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/marketplace/internal/catalog"
	"github.com/hitoshi/marketplace/internal/middleware"
	"github.com/hitoshi/marketplace/internal/model"
)

// CatalogServiceInterface は商品検索と出品管理のハンドラーが必要とするサービスインターフェース。
type CatalogServiceInterface interface {
	Search(ctx context.Context, q model.SearchQuery) (*catalog.SearchResult, error)
	GetProduct(ctx context.Context, productID string) (*catalog.ProductDetail, error)
	ListCategories(ctx context.Context) ([]string, error)
	CreateListing(ctx context.Context, sellerID string, in catalog.ListingInput) (*model.ListingWithProduct, error)
	UpdateListing(ctx context.Context, sellerID, listingID string, in catalog.ListingUpdate) (*model.ListingWithProduct, error)
	ListSellerListings(ctx context.Context, sellerID string, limit, offset int) ([]model.ListingWithProduct, error)
	RegisterCatalogFeed(ctx context.Context, sellerID, inputURL string) (*model.CatalogFeed, error)
	ListCatalogFeeds(ctx context.Context, sellerID string) ([]*model.CatalogFeed, error)
	DeleteCatalogFeed(ctx context.Context, sellerID, feedID string) error
}

// CatalogHandler は商品検索、商品詳細、出品者の出品管理のHTTPハンドラー。
type CatalogHandler struct {
	service CatalogServiceInterface
}

// NewCatalogHandler はCatalogHandlerを生成する。
func NewCatalogHandler(service CatalogServiceInterface) *CatalogHandler {
	return &CatalogHandler{service: service}
}

type createListingRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=20000"`
	Category    string `json:"category" validate:"max=100"`
	ImageURL    string `json:"image_url" validate:"omitempty,url"`
	PriceCents  int64  `json:"price_cents" validate:"min=0"`
	Stock       int    `json:"stock" validate:"min=0"`
	IsActive    *bool  `json:"is_active"`
}

type updateListingRequest struct {
	PriceCents *int64 `json:"price_cents" validate:"omitempty,min=0"`
	Stock      *int   `json:"stock" validate:"omitempty,min=0"`
	IsActive   *bool  `json:"is_active"`
}

type registerCatalogFeedRequest struct {
	URL string `json:"url" validate:"required,max=2048"`
}

type productResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	ImageURL    string `json:"image_url"`
}

type listingResponse struct {
	ID         string          `json:"id"`
	SellerID   string          `json:"seller_id"`
	SellerName string          `json:"seller_name,omitempty"`
	PriceCents int64           `json:"price_cents"`
	Stock      int             `json:"stock"`
	IsActive   bool            `json:"is_active"`
	ExternalID string          `json:"external_id,omitempty"`
	Product    productResponse `json:"product"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type searchResponse struct {
	Listings []listingResponse `json:"listings"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

type productDetailResponse struct {
	Product productResponse   `json:"product"`
	Offers  []listingResponse `json:"offers"`
}

type catalogFeedResponse struct {
	ID                   string    `json:"id"`
	FeedURL              string    `json:"feed_url"`
	SiteURL              string    `json:"site_url"`
	Title                string    `json:"title"`
	FetchStatus          string    `json:"fetch_status"`
	ErrorMessage         string    `json:"error_message,omitempty"`
	FetchIntervalMinutes int       `json:"fetch_interval_minutes"`
	LastImportedCount    int       `json:"last_imported_count"`
	NextFetchAt          time.Time `json:"next_fetch_at"`
}

// Search は販売中の出品を検索する。
// GET /api/search?q=mug&category=Kitchen&min_price=1000&max_price=5000&seller_id=&in_stock=true&limit=20&offset=0
func (h *CatalogHandler) Search(w http.ResponseWriter, r *http.Request) {
	query, err := parseSearchQuery(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	result, err := h.service.Search(r.Context(), query)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Listings: toListingResponses(result.Listings),
		Total:    result.Total,
		Limit:    result.Limit,
		Offset:   result.Offset,
	})
}

// GetProduct は商品と全出品者の販売条件を返す。
// GET /api/products/{id}
func (h *CatalogHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, productDetailResponse{
		Product: toProductResponse(detail.Product),
		Offers:  toListingResponses(detail.Offers),
	})
}

// ListCategories は販売中の出品があるカテゴリ一覧を返す。
// GET /api/products/categories
func (h *CatalogHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.ListCategories(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if categories == nil {
		categories = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"categories": categories})
}

// CreateListing は新しい商品と出品を作成する。is_active省略時は販売中で作成する。
// POST /api/seller/listings
func (h *CatalogHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	seller, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusForbidden, model.NewSellerOnlyError())
		return
	}

	var req createListingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	listing, err := h.service.CreateListing(r.Context(), seller.ID, catalog.ListingInput{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		ImageURL:    req.ImageURL,
		PriceCents:  req.PriceCents,
		Stock:       req.Stock,
		IsActive:    active,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toListingResponse(*listing))
}

// UpdateListing は出品の価格、在庫、販売状態を更新する。
// PATCH /api/seller/listings/{id}
func (h *CatalogHandler) UpdateListing(w http.ResponseWriter, r *http.Request) {
	seller, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusForbidden, model.NewSellerOnlyError())
		return
	}

	var req updateListingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	listing, err := h.service.UpdateListing(r.Context(), seller.ID, chi.URLParam(r, "id"), catalog.ListingUpdate{
		PriceCents: req.PriceCents,
		Stock:      req.Stock,
		IsActive:   req.IsActive,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingResponse(*listing))
}

// ListSellerListings は出品者自身の出品一覧を返す。
// GET /api/seller/listings?limit=20&offset=0
func (h *CatalogHandler) ListSellerListings(w http.ResponseWriter, r *http.Request) {
	seller, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusForbidden, model.NewSellerOnlyError())
		return
	}

	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	listings, err := h.service.ListSellerListings(r.Context(), seller.ID, limit, offset)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"listings": toListingResponses(listings)})
}

// RegisterCatalogFeed はカタログフィードまたはショップページのURLを登録する。
// POST /api/seller/catalog-feeds
func (h *CatalogHandler) RegisterCatalogFeed(w http.ResponseWriter, r *http.Request) {
	seller, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusForbidden, model.NewSellerOnlyError())
		return
	}

	var req registerCatalogFeedRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	feed, err := h.service.RegisterCatalogFeed(r.Context(), seller.ID, req.URL)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCatalogFeedResponse(feed))
}

// ListCatalogFeeds は出品者のカタログフィード一覧を返す。
// GET /api/seller/catalog-feeds
func (h *CatalogHandler) ListCatalogFeeds(w http.ResponseWriter, r *http.Request) {
	seller, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusForbidden, model.NewSellerOnlyError())
		return
	}

	feeds, err := h.service.ListCatalogFeeds(r.Context(), seller.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]catalogFeedResponse, len(feeds))
	for i, f := range feeds {
		resp[i] = toCatalogFeedResponse(f)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"feeds": resp})
}

// DeleteCatalogFeed はカタログフィードを削除する。取込済みの出品は残る。
// DELETE /api/seller/catalog-feeds/{id}
func (h *CatalogHandler) DeleteCatalogFeed(w http.ResponseWriter, r *http.Request) {
	seller, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusForbidden, model.NewSellerOnlyError())
		return
	}

	if err := h.service.DeleteCatalogFeed(r.Context(), seller.ID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseSearchQuery はクエリパラメータから検索条件を組み立てる。
func parseSearchQuery(r *http.Request) (model.SearchQuery, error) {
	q := r.URL.Query()
	query := model.SearchQuery{
		Text:        q.Get("q"),
		Category:    q.Get("category"),
		SellerID:    q.Get("seller_id"),
		InStockOnly: q.Get("in_stock") == "true",
	}

	var err error
	if query.MinPriceCents, err = queryCents(r, "min_price"); err != nil {
		return query, err
	}
	if query.MaxPriceCents, err = queryCents(r, "max_price"); err != nil {
		return query, err
	}
	if query.Limit, err = queryInt(r, "limit", 0); err != nil {
		return query, err
	}
	if query.Offset, err = queryInt(r, "offset", 0); err != nil {
		return query, err
	}
	return query, nil
}

func toProductResponse(p model.Product) productResponse {
	return productResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		ImageURL:    p.ImageURL,
	}
}

func toListingResponse(l model.ListingWithProduct) listingResponse {
	return listingResponse{
		ID:         l.ID,
		SellerID:   l.SellerID,
		SellerName: l.SellerName,
		PriceCents: l.PriceCents,
		Stock:      l.Stock,
		IsActive:   l.IsActive,
		ExternalID: l.ExternalID,
		Product:    toProductResponse(l.Product),
		UpdatedAt:  l.UpdatedAt,
	}
}

func toListingResponses(listings []model.ListingWithProduct) []listingResponse {
	resp := make([]listingResponse, len(listings))
	for i := range listings {
		resp[i] = toListingResponse(listings[i])
	}
	return resp
}

func toCatalogFeedResponse(f *model.CatalogFeed) catalogFeedResponse {
	return catalogFeedResponse{
		ID:                   f.ID,
		FeedURL:              f.FeedURL,
		SiteURL:              f.SiteURL,
		Title:                f.Title,
		FetchStatus:          string(f.FetchStatus),
		ErrorMessage:         f.ErrorMessage,
		FetchIntervalMinutes: f.FetchIntervalMinutes,
		LastImportedCount:    f.LastImportedCount,
		NextFetchAt:          f.NextFetchAt,
	}
}
