package model

import (
	"fmt"
	"time"
)

// OrderStatus は注文ステータスを表す。
type OrderStatus string

const (
	// OrderStatusPlaced は購入者が注文を確定した状態。
	OrderStatusPlaced OrderStatus = "placed"
	// OrderStatusConfirmed は出品者が入金を確認し注文を受け付けた状態。
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusDelivered は出品者が配送完了を報告した状態。
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCompleted は購入者が受け取りを確認した状態。終端。
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled はキャンセルされた状態。終端。
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Valid は定義済みのステータスかどうかを返す。
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPlaced, OrderStatusConfirmed, OrderStatusDelivered, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// Terminal はこれ以上遷移しないステータスかどうかを返す。
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// OrderAction は注文に対する遷移操作を表す。
type OrderAction string

const (
	// OrderActionConfirm は出品者による注文確認（入金確認）。
	OrderActionConfirm OrderAction = "confirm"
	// OrderActionDeliver は出品者による配送完了の報告。
	OrderActionDeliver OrderAction = "deliver"
	// OrderActionComplete は購入者による受け取り確認。
	OrderActionComplete OrderAction = "complete"
	// OrderActionCancel は注文のキャンセル。
	OrderActionCancel OrderAction = "cancel"

	// 以下は注文ステータスを変えない支払い操作。placedの注文でのみ実行できる。
	OrderActionUploadProof   OrderAction = "upload_proof"
	OrderActionRejectPayment OrderAction = "reject_payment"
)

// ActorRole は注文に対する利用者の立場を表す。
type ActorRole string

const (
	// ActorBuyer は注文の購入者。
	ActorBuyer ActorRole = "buyer"
	// ActorSeller は注文の出品者。
	ActorSeller ActorRole = "seller"
)

// transitionRule は1つの操作について、遷移元ごとに実行できる立場と遷移先を定義する。
type transitionRule struct {
	to      OrderStatus
	allowed map[OrderStatus][]ActorRole
}

var transitionRules = map[OrderAction]transitionRule{
	OrderActionConfirm: {
		to:      OrderStatusConfirmed,
		allowed: map[OrderStatus][]ActorRole{OrderStatusPlaced: {ActorSeller}},
	},
	OrderActionDeliver: {
		to:      OrderStatusDelivered,
		allowed: map[OrderStatus][]ActorRole{OrderStatusConfirmed: {ActorSeller}},
	},
	OrderActionComplete: {
		to:      OrderStatusCompleted,
		allowed: map[OrderStatus][]ActorRole{OrderStatusDelivered: {ActorBuyer}},
	},
	OrderActionCancel: {
		to: OrderStatusCancelled,
		allowed: map[OrderStatus][]ActorRole{
			OrderStatusPlaced:    {ActorBuyer, ActorSeller},
			OrderStatusConfirmed: {ActorSeller},
		},
	},
}

// ParseOrderAction は文字列を遷移操作に変換する。
func ParseOrderAction(s string) (OrderAction, bool) {
	a := OrderAction(s)
	_, ok := transitionRules[a]
	return a, ok
}

// NextStatus は current の注文に role の利用者が action を実行した後のステータスを返す。
// 既に遷移先のステータスにある場合は noop=true を返し、呼び出し側は何も変更しない。
// 実行できない立場の場合はFORBIDDEN_ACTOR、遷移元が不正な場合はINVALID_TRANSITIONを返す。
func NextStatus(current OrderStatus, action OrderAction, role ActorRole) (next OrderStatus, noop bool, err error) {
	rule, ok := transitionRules[action]
	if !ok {
		return "", false, NewValidationError(fmt.Sprintf("unknown order action: %s", action))
	}

	if !roleAllowedForAction(rule, role) {
		return "", false, NewForbiddenActorError(action, role)
	}

	if current == rule.to {
		return current, true, nil
	}

	roles, ok := rule.allowed[current]
	if !ok {
		return "", false, NewInvalidTransitionError(current, action)
	}
	if !containsRole(roles, role) {
		return "", false, NewForbiddenActorError(action, role)
	}

	return rule.to, false, nil
}

func roleAllowedForAction(rule transitionRule, role ActorRole) bool {
	for _, roles := range rule.allowed {
		if containsRole(roles, role) {
			return true
		}
	}
	return false
}

func containsRole(roles []ActorRole, role ActorRole) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// Order は1人の購入者と1人の出品者の間の注文を表す。
type Order struct {
	ID              string
	BuyerID         string
	SellerID        string
	Status          OrderStatus
	TotalCents      int64
	Currency        string
	ShippingAddress string
	Note            string
	IdempotencyKey  string
	CancelReason    string
	CancelledBy     ActorRole
	PlacedAt        time.Time
	ConfirmedAt     *time.Time
	DeliveredAt     *time.Time
	CompletedAt     *time.Time
	CancelledAt     *time.Time
	UpdatedAt       time.Time
	Items           []OrderItem
}

// OrderItem は注文時点の商品名と単価のスナップショットを保持する。
type OrderItem struct {
	ID             string
	OrderID        string
	ListingID      string
	ProductID      string
	ProductName    string
	Quantity       int
	UnitPriceCents int64
}

// LineTotalCents は数量×単価を返す。
func (i *OrderItem) LineTotalCents() int64 {
	return int64(i.Quantity) * i.UnitPriceCents
}

// RoleOf は userID がこの注文でどの立場かを返す。当事者でなければfalseを返す。
func (o *Order) RoleOf(userID string) (ActorRole, bool) {
	switch userID {
	case o.BuyerID:
		return ActorBuyer, true
	case o.SellerID:
		return ActorSeller, true
	}
	return "", false
}

// Open は注文が終端ステータスに達していないかどうかを返す。
func (o *Order) Open() bool {
	return !o.Status.Terminal()
}

// MaxIdempotencyKeyLength はIdempotency-Keyの最大バイト数。
const MaxIdempotencyKeyLength = 128

// ValidateIdempotencyKey は冪等キーの長さを検証する。空のキーは許可する。
func ValidateIdempotencyKey(key string) error {
	if len(key) > MaxIdempotencyKeyLength {
		return NewValidationError(fmt.Sprintf("Idempotency-Key must be at most %d bytes", MaxIdempotencyKeyLength))
	}
	return nil
}

// PlaceOrderParams はチェックアウトの入力を表す。
type PlaceOrderParams struct {
	BuyerID         string
	ShippingAddress string
	Note            string
	IdempotencyKey  string
	Currency        string
}

// OrderTransition は1回の注文ステータス遷移で同一トランザクション内に適用する変更を表す。
type OrderTransition struct {
	OrderID       string
	From          OrderStatus
	To            OrderStatus
	Actor         ActorRole
	At            time.Time
	Reason        string
	VerifyPayment bool // 入金確認として支払いをverifiedにする
	Restock       bool // キャンセル時に在庫を戻す
	Event         *OutboxEvent
}

// OrderFilter は注文一覧の絞り込み条件を表す。
type OrderFilter struct {
	Role   ActorRole
	Status OrderStatus // 空の場合は全ステータス
	Limit  int
	Offset int
}

// BuildOrder はロック済みのカート内容から注文を組み立てる。
// 全商品が同じ出品者のもので、販売中かつ在庫が足りていることを検証し、合計金額を計算する。
// IDは呼び出し側で採番する。
func BuildOrder(params PlaceOrderParams, lines []CartItem, now time.Time) (*Order, error) {
	if len(lines) == 0 {
		return nil, NewCartEmptyError()
	}

	sellerID := lines[0].SellerID
	if sellerID == params.BuyerID {
		return nil, NewOwnListingError()
	}

	order := &Order{
		BuyerID:         params.BuyerID,
		SellerID:        sellerID,
		Status:          OrderStatusPlaced,
		Currency:        params.Currency,
		ShippingAddress: params.ShippingAddress,
		Note:            params.Note,
		IdempotencyKey:  params.IdempotencyKey,
		PlacedAt:        now,
		UpdatedAt:       now,
		Items:           make([]OrderItem, 0, len(lines)),
	}

	for _, line := range lines {
		if line.SellerID != sellerID {
			return nil, NewCartSellerConflictError(sellerID)
		}
		if line.Quantity <= 0 {
			return nil, NewInvalidQuantityError(line.Quantity)
		}
		if !line.IsActive {
			return nil, NewListingInactiveError(line.ListingID)
		}
		if line.Stock < line.Quantity {
			return nil, NewInsufficientStockError(line.ProductName, line.Stock)
		}

		item := OrderItem{
			ListingID:      line.ListingID,
			ProductID:      line.ProductID,
			ProductName:    line.ProductName,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
		}
		order.TotalCents += item.LineTotalCents()
		order.Items = append(order.Items, item)
	}

	return order, nil
}
