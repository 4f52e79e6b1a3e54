package model

import "time"

// NotificationType は通知の種別を表す。
type NotificationType string

const (
	NotificationOrderPlaced      NotificationType = "order_placed"
	NotificationOrderConfirmed   NotificationType = "order_confirmed"
	NotificationOrderDelivered   NotificationType = "order_delivered"
	NotificationOrderCompleted   NotificationType = "order_completed"
	NotificationOrderCancelled   NotificationType = "order_cancelled"
	NotificationPaymentSubmitted NotificationType = "payment_submitted"
	NotificationPaymentRejected  NotificationType = "payment_rejected"
	NotificationPointsAwarded    NotificationType = "points_awarded"
	NotificationRewardRedeemed   NotificationType = "reward_redeemed"
)

// Notification はユーザーへのアプリ内通知を表す。
type Notification struct {
	ID        string
	UserID    string
	Type      NotificationType
	Title     string
	Message   string
	OrderID   string
	IsRead    bool
	ReadAt    *time.Time
	CreatedAt time.Time
}
