package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/marketplace/internal/model"
	"github.com/hitoshi/marketplace/internal/repository"
)

// maxReasonInMessage は通知本文に含める理由の最大文字数。
const maxReasonInMessage = 200

// notificationNamespace はイベントIDと宛先から通知IDを導出するための名前空間。
// 同じイベントを再処理しても通知は重複しない。
var notificationNamespace = uuid.MustParse("6f1c9f0e-6a0e-4d1b-9b7c-3a0f8d2e5c41")

// Sanitizer は利用者入力をプレーンテキストに変換するインターフェース。
type Sanitizer interface {
	PlainText(input string) string
}

// Notifier はアウトボックスイベントを受け取り、宛先ユーザーの通知を作成する。
type Notifier struct {
	repo      repository.NotificationRepository
	sanitizer Sanitizer
	now       func() time.Time
}

// NewNotifier はNotifierの新しいインスタンスを生成する。
func NewNotifier(repo repository.NotificationRepository, sanitizer Sanitizer) *Notifier {
	return &Notifier{repo: repo, sanitizer: sanitizer, now: time.Now}
}

// EventTypes はNotifierが処理するイベント種別を返す。
func (n *Notifier) EventTypes() []string {
	return []string{
		model.EventOrderPlaced,
		model.EventOrderConfirmed,
		model.EventOrderDelivered,
		model.EventOrderCompleted,
		model.EventOrderCancelled,
		model.EventPaymentSubmitted,
		model.EventPaymentRejected,
		model.EventPointsAwarded,
		model.EventRewardRedeemed,
	}
}

// HandleEvent はイベントに対応する通知を作成する。
// ペイロードが不正な場合はエラーを返す。
func (n *Notifier) HandleEvent(ctx context.Context, event *model.OutboxEvent) error {
	notifications, err := n.build(event)
	if err != nil {
		return err
	}
	for _, notif := range notifications {
		if err := n.repo.Create(ctx, notif); err != nil {
			return err
		}
	}
	slog.Debug("通知を作成しました",
		slog.String("event_id", event.ID),
		slog.String("event_type", event.EventType),
		slog.Int("count", len(notifications)),
	)
	return nil
}

func (n *Notifier) build(event *model.OutboxEvent) ([]*model.Notification, error) {
	switch event.EventType {
	case model.EventPointsAwarded, model.EventRewardRedeemed:
		var p model.PointsEventPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", event.EventType, err)
		}
		return n.buildPoints(event, p), nil
	default:
		var p model.OrderEventPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", event.EventType, err)
		}
		return n.buildOrder(event, p)
	}
}

func (n *Notifier) buildOrder(event *model.OutboxEvent, p model.OrderEventPayload) ([]*model.Notification, error) {
	amount := FormatAmount(p.TotalCents, p.Currency)
	reason := n.plain(p.Reason)

	switch event.EventType {
	case model.EventOrderPlaced:
		return n.one(event, p.SellerID, model.NotificationOrderPlaced, p.OrderID,
			"新しい注文が入りました",
			fmt.Sprintf("%sの注文が入りました。購入者の振込証明をお待ちください。", amount)), nil
	case model.EventPaymentSubmitted:
		return n.one(event, p.SellerID, model.NotificationPaymentSubmitted, p.OrderID,
			"振込証明が提出されました",
			fmt.Sprintf("%sの注文に振込証明が提出されました。入金を確認して注文を確定してください。", amount)), nil
	case model.EventPaymentRejected:
		return n.one(event, p.BuyerID, model.NotificationPaymentRejected, p.OrderID,
			"振込証明が差し戻されました",
			withReason("出品者が振込証明を差し戻しました。内容を確認して再提出してください。", reason)), nil
	case model.EventOrderConfirmed:
		return n.one(event, p.BuyerID, model.NotificationOrderConfirmed, p.OrderID,
			"注文が確定しました",
			fmt.Sprintf("%sの入金が確認され、注文が確定しました。", amount)), nil
	case model.EventOrderDelivered:
		return n.one(event, p.BuyerID, model.NotificationOrderDelivered, p.OrderID,
			"商品が発送されました",
			"出品者が配送完了を報告しました。商品を受け取ったら受け取り確認をしてください。"), nil
	case model.EventOrderCompleted:
		return n.one(event, p.SellerID, model.NotificationOrderCompleted, p.OrderID,
			"取引が完了しました",
			fmt.Sprintf("購入者が%sの注文の受け取りを確認しました。", amount)), nil
	case model.EventOrderCancelled:
		recipient := p.SellerID
		if p.Actor == model.ActorSeller {
			recipient = p.BuyerID
		}
		return n.one(event, recipient, model.NotificationOrderCancelled, p.OrderID,
			"注文がキャンセルされました",
			withReason(fmt.Sprintf("%sの注文がキャンセルされました。", amount), reason)), nil
	}
	return nil, fmt.Errorf("unsupported event type for notification: %s", event.EventType)
}

func (n *Notifier) buildPoints(event *model.OutboxEvent, p model.PointsEventPayload) []*model.Notification {
	if event.EventType == model.EventRewardRedeemed {
		return n.one(event, p.SellerID, model.NotificationRewardRedeemed, "",
			"特典が交換されました",
			fmt.Sprintf("「%s」が%dポイントで交換されました。", n.plain(p.RewardTitle), p.Points))
	}
	return n.one(event, p.BuyerID, model.NotificationPointsAwarded, p.OrderID,
		"ポイントが付与されました",
		fmt.Sprintf("%dポイントが付与されました。", p.Points))
}

func (n *Notifier) one(event *model.OutboxEvent, userID string, typ model.NotificationType, orderID, title, message string) []*model.Notification {
	if userID == "" {
		return nil
	}
	return []*model.Notification{{
		ID:        uuid.NewSHA1(notificationNamespace, []byte(event.ID+"/"+userID)).String(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   message,
		OrderID:   orderID,
		CreatedAt: n.now(),
	}}
}

func (n *Notifier) plain(s string) string {
	if n.sanitizer != nil {
		s = n.sanitizer.PlainText(s)
	}
	if utf8.RuneCountInString(s) > maxReasonInMessage {
		s = string([]rune(s)[:maxReasonInMessage]) + "…"
	}
	return s
}

func withReason(message, reason string) string {
	if reason == "" {
		return message
	}
	return message + "理由: " + reason
}

// FormatAmount は最小通貨単位の金額を「USD 45.00」の形式で返す。
func FormatAmount(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s %s%d.%02d", currency, sign, cents/100, cents%100)
}
