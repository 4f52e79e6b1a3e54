package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/marketplace/internal/middleware"
	"github.com/hitoshi/marketplace/internal/model"
	"github.com/hitoshi/marketplace/internal/order"
)

// OrderServiceInterface は注文ハンドラーが必要とするサービスインターフェース。
type OrderServiceInterface interface {
	Checkout(ctx context.Context, buyerID string, in order.CheckoutInput) (*model.Order, bool, error)
	Get(ctx context.Context, userID, orderID string) (*model.Order, error)
	List(ctx context.Context, userID string, filter model.OrderFilter) ([]*model.Order, error)
	Transition(ctx context.Context, userID, orderID string, action model.OrderAction, reason string) (*model.Order, error)
}

// OrderHandler はチェックアウトと注文管理のHTTPハンドラー。
type OrderHandler struct {
	service OrderServiceInterface
}

// NewOrderHandler はOrderHandlerを生成する。
func NewOrderHandler(service OrderServiceInterface) *OrderHandler {
	return &OrderHandler{service: service}
}

type checkoutRequest struct {
	ShippingAddress string `json:"shipping_address" validate:"required,max=500"`
	Note            string `json:"note" validate:"max=1000"`
}

type transitionRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type orderItemResponse struct {
	ID             string `json:"id"`
	ListingID      string `json:"listing_id"`
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	LineTotalCents int64  `json:"line_total_cents"`
}

type orderResponse struct {
	ID              string              `json:"id"`
	BuyerID         string              `json:"buyer_id"`
	SellerID        string              `json:"seller_id"`
	Status          string              `json:"status"`
	TotalCents      int64               `json:"total_cents"`
	Currency        string              `json:"currency"`
	ShippingAddress string              `json:"shipping_address"`
	Note            string              `json:"note,omitempty"`
	CancelReason    string              `json:"cancel_reason,omitempty"`
	CancelledBy     string              `json:"cancelled_by,omitempty"`
	PlacedAt        time.Time           `json:"placed_at"`
	ConfirmedAt     *time.Time          `json:"confirmed_at,omitempty"`
	DeliveredAt     *time.Time          `json:"delivered_at,omitempty"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
	CancelledAt     *time.Time          `json:"cancelled_at,omitempty"`
	Items           []orderItemResponse `json:"items"`
}

// Checkout はカートの内容から注文を作成する。
// POST /api/checkout
// 同じIdempotency-Keyの再送には元の注文を200で返す。
func (h *OrderHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	idempotencyKey := r.Header.Get(middleware.IdempotencyKeyHeader)
	if err := model.ValidateIdempotencyKey(idempotencyKey); err != nil {
		handleServiceError(w, err)
		return
	}

	var req checkoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	placed, created, err := h.service.Checkout(r.Context(), buyerID, order.CheckoutInput{
		ShippingAddress: req.ShippingAddress,
		Note:            req.Note,
		IdempotencyKey:  idempotencyKey,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, toOrderResponse(placed))
}

// ListOrders は注文一覧を返す。
// GET /api/orders?role=buyer|seller&status=placed&limit=20&offset=0
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
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

	q := r.URL.Query()
	orders, err := h.service.List(r.Context(), userID, model.OrderFilter{
		Role:   model.ActorRole(q.Get("role")),
		Status: model.OrderStatus(q.Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]orderResponse, len(orders))
	for i, o := range orders {
		resp[i] = toOrderResponse(o)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": resp})
}

// GetOrder は注文詳細を返す。注文の購入者と出品者のみ参照できる。
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	o, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

// Transition は注文ステータスの遷移を処理する。
// POST /api/orders/{id}/{action}  (action: confirm, deliver, complete, cancel)
func (h *OrderHandler) Transition(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	action, valid := model.ParseOrderAction(chi.URLParam(r, "action"))
	if !valid {
		writeAPIErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     model.ErrCodeInvalidRequest,
			Message:  "不明な注文操作です。",
			Category: "order",
			Action:   "confirm, deliver, complete, cancel のいずれかを指定してください。",
		})
		return
	}

	var req transitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	o, err := h.service.Transition(r.Context(), userID, chi.URLParam(r, "id"), action, req.Reason)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func toOrderResponse(o *model.Order) orderResponse {
	resp := orderResponse{
		ID:              o.ID,
		BuyerID:         o.BuyerID,
		SellerID:        o.SellerID,
		Status:          string(o.Status),
		TotalCents:      o.TotalCents,
		Currency:        o.Currency,
		ShippingAddress: o.ShippingAddress,
		Note:            o.Note,
		CancelReason:    o.CancelReason,
		CancelledBy:     string(o.CancelledBy),
		PlacedAt:        o.PlacedAt,
		ConfirmedAt:     o.ConfirmedAt,
		DeliveredAt:     o.DeliveredAt,
		CompletedAt:     o.CompletedAt,
		CancelledAt:     o.CancelledAt,
		Items:           make([]orderItemResponse, len(o.Items)),
	}
	for i := range o.Items {
		item := &o.Items[i]
		resp.Items[i] = orderItemResponse{
			ID:             item.ID,
			ListingID:      item.ListingID,
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			LineTotalCents: item.LineTotalCents(),
		}
	}
	return resp
}
