package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/marketplace/internal/model"
)

// CartServiceInterface はカートハンドラーが必要とするサービスインターフェース。
type CartServiceInterface interface {
	Get(ctx context.Context, buyerID string) (*model.Cart, error)
	AddItem(ctx context.Context, buyerID, listingID string, quantity int, replace bool) (*model.Cart, error)
	UpdateItem(ctx context.Context, buyerID, itemID string, quantity int) (*model.Cart, error)
	RemoveItem(ctx context.Context, buyerID, itemID string) (*model.Cart, error)
	Clear(ctx context.Context, buyerID string) error
}

// CartHandler はカート操作のHTTPハンドラー。
type CartHandler struct {
	service CartServiceInterface
}

// NewCartHandler はCartHandlerを生成する。
func NewCartHandler(service CartServiceInterface) *CartHandler {
	return &CartHandler{service: service}
}

// addCartItemRequest はカート追加リクエストのボディ。
// replaceがtrueの場合、別の出品者の商品が入っていればカートを空にしてから追加する。
type addCartItemRequest struct {
	ListingID string `json:"listing_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=999"`
	Replace   bool   `json:"replace"`
}

// updateCartItemRequest は数量変更リクエストのボディ。0は削除を意味する。
type updateCartItemRequest struct {
	Quantity *int `json:"quantity" validate:"required,min=0,max=999"`
}

type cartItemResponse struct {
	ID             string    `json:"id"`
	ListingID      string    `json:"listing_id"`
	ProductID      string    `json:"product_id"`
	ProductName    string    `json:"product_name"`
	SellerID       string    `json:"seller_id"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	LineTotalCents int64     `json:"line_total_cents"`
	Available      bool      `json:"available"`
	AddedAt        time.Time `json:"added_at"`
}

type cartResponse struct {
	ActiveSellerID string             `json:"active_seller_id,omitempty"`
	Items          []cartItemResponse `json:"items"`
	ItemCount      int                `json:"item_count"`
	SubtotalCents  int64              `json:"subtotal_cents"`
}

// GetCart はカートの内容を返す。
// GET /api/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	cart, err := h.service.Get(r.Context(), buyerID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(cart))
}

// AddItem はカートに商品を追加する。同じ出品が既にある場合は数量を加算する。
// POST /api/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req addCartItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cart, err := h.service.AddItem(r.Context(), buyerID, req.ListingID, req.Quantity, req.Replace)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(cart))
}

// UpdateItem はカート内商品の数量を変更する。
// PATCH /api/cart/items/{itemID}
func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateCartItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cart, err := h.service.UpdateItem(r.Context(), buyerID, chi.URLParam(r, "itemID"), *req.Quantity)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(cart))
}

// RemoveItem はカートから商品を削除する。
// DELETE /api/cart/items/{itemID}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	cart, err := h.service.RemoveItem(r.Context(), buyerID, chi.URLParam(r, "itemID"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(cart))
}

// ClearCart はカートを空にする。
// DELETE /api/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Clear(r.Context(), buyerID); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toCartResponse(cart *model.Cart) cartResponse {
	resp := cartResponse{
		ActiveSellerID: cart.ActiveSellerID,
		Items:          make([]cartItemResponse, len(cart.Items)),
		SubtotalCents:  cart.SubtotalCents(),
	}
	for i := range cart.Items {
		item := &cart.Items[i]
		resp.ItemCount += item.Quantity
		resp.Items[i] = cartItemResponse{
			ID:             item.ID,
			ListingID:      item.ListingID,
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			SellerID:       item.SellerID,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			LineTotalCents: item.LineTotalCents(),
			Available:      item.IsActive && item.Stock >= item.Quantity,
			AddedAt:        item.AddedAt,
		}
	}
	return resp
}
