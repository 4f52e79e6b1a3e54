package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// OutboxStatus はアウトボックスイベントの処理状態を表す。
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusDone       OutboxStatus = "done"
	OutboxStatusDead       OutboxStatus = "dead"
)

// イベント種別
const (
	EventOrderPlaced      = "order.placed"
	EventOrderConfirmed   = "order.confirmed"
	EventOrderDelivered   = "order.delivered"
	EventOrderCompleted   = "order.completed"
	EventOrderCancelled   = "order.cancelled"
	EventPaymentSubmitted = "payment.submitted"
	EventPaymentRejected  = "payment.rejected"
	EventPointsAwarded    = "points.awarded"
	EventRewardRedeemed   = "reward.redeemed"
)

// OutboxEvent はドメイン変更と同一トランザクションで記録される副作用イベントを表す。
// ワーカーが非同期に取り出して通知作成やポイント付与を行う。
type OutboxEvent struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Status        OutboxStatus
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

// OrderEventPayload は注文関連イベントのペイロード。
type OrderEventPayload struct {
	OrderID    string      `json:"order_id"`
	BuyerID    string      `json:"buyer_id"`
	SellerID   string      `json:"seller_id"`
	Status     OrderStatus `json:"status"`
	TotalCents int64       `json:"total_cents"`
	Currency   string      `json:"currency"`
	Actor      ActorRole   `json:"actor,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}

// PointsEventPayload はポイント関連イベントのペイロード。
type PointsEventPayload struct {
	BuyerID     string `json:"buyer_id"`
	SellerID    string `json:"seller_id"`
	OrderID     string `json:"order_id,omitempty"`
	RewardID    string `json:"reward_id,omitempty"`
	RewardTitle string `json:"reward_title,omitempty"`
	Points      int64  `json:"points"`
}

// NewOrderEvent は注文のスナップショットから注文イベントを生成する。
func NewOrderEvent(id, eventType string, order *Order, actor ActorRole, reason string, now time.Time) (*OutboxEvent, error) {
	payload, err := json.Marshal(OrderEventPayload{
		OrderID:    order.ID,
		BuyerID:    order.BuyerID,
		SellerID:   order.SellerID,
		Status:     order.Status,
		TotalCents: order.TotalCents,
		Currency:   order.Currency,
		Actor:      actor,
		Reason:     reason,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order event: %w", err)
	}
	return &OutboxEvent{
		ID:            id,
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       payload,
		Status:        OutboxStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}, nil
}

// NewPointsEvent はポイントイベントを生成する。aggregateIDには注文IDまたは交換IDを指定する。
func NewPointsEvent(id, eventType, aggregateID string, p PointsEventPayload, now time.Time) (*OutboxEvent, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal points event: %w", err)
	}
	return &OutboxEvent{
		ID:            id,
		AggregateType: "points",
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		Status:        OutboxStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}, nil
}

// EventTypeForStatus は遷移先ステータスに対応するイベント種別を返す。
func EventTypeForStatus(status OrderStatus) string {
	return "order." + string(status)
}
