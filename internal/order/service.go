// Package order はチェックアウトと注文ライフサイクルのドメインロジックを提供する。
package order

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/marketplace/internal/model"
	"github.com/hitoshi/marketplace/internal/repository"
)

// 入力値の上限
const (
	maxShippingAddressLength = 500
	maxNoteLength            = 1000
	maxCancelReasonLength    = 500
)

// Metrics は注文メトリクスの記録インターフェース。
type Metrics interface {
	RecordOrderPlaced(currency string, totalCents int64)
	RecordOrderTransition(from, to string)
}

// Service は注文のサービス層。
// ステータス遷移の可否はmodel.NextStatusで判定し、永続化はリポジトリの
// compare-and-set更新とアウトボックス記録で行う。
type Service struct {
	orders   repository.OrderRepository
	payments repository.PaymentRepository
	currency string
	metrics  Metrics
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。metricsはnilでもよい。
func NewService(
	orders repository.OrderRepository,
	payments repository.PaymentRepository,
	currency string,
	metrics Metrics,
) *Service {
	return &Service{
		orders:   orders,
		payments: payments,
		currency: currency,
		metrics:  metrics,
		now:      time.Now,
	}
}

// CheckoutInput はチェックアウトの入力を表す。
type CheckoutInput struct {
	ShippingAddress string
	Note            string
	IdempotencyKey  string
}

// Checkout はカートの内容から注文を作成する。
// 同じ冪等キーで既に注文されている場合は元の注文を返し、createdはfalseになる。
func (s *Service) Checkout(ctx context.Context, buyerID string, in CheckoutInput) (order *model.Order, created bool, err error) {
	address := strings.TrimSpace(in.ShippingAddress)
	note := strings.TrimSpace(in.Note)
	key := strings.TrimSpace(in.IdempotencyKey)

	switch {
	case address == "":
		return nil, false, model.NewValidationError("shipping_address is required")
	case utf8.RuneCountInString(address) > maxShippingAddressLength:
		return nil, false, model.NewValidationError(fmt.Sprintf("shipping_address must be at most %d characters", maxShippingAddressLength))
	case utf8.RuneCountInString(note) > maxNoteLength:
		return nil, false, model.NewValidationError(fmt.Sprintf("note must be at most %d characters", maxNoteLength))
	}
	if err := model.ValidateIdempotencyKey(key); err != nil {
		return nil, false, err
	}

	order, created, err = s.orders.PlaceOrder(ctx, model.PlaceOrderParams{
		BuyerID:         buyerID,
		ShippingAddress: address,
		Note:            note,
		IdempotencyKey:  key,
		Currency:        s.currency,
	})
	if err != nil {
		return nil, false, err
	}

	if !created {
		slog.Info("冪等キーにより既存の注文を返します",
			slog.String("order_id", order.ID),
			slog.String("buyer_id", buyerID),
		)
		return order, false, nil
	}

	if s.metrics != nil {
		s.metrics.RecordOrderPlaced(order.Currency, order.TotalCents)
	}
	slog.Info("注文を作成しました",
		slog.String("order_id", order.ID),
		slog.String("buyer_id", buyerID),
		slog.String("seller_id", order.SellerID),
		slog.Int64("total_cents", order.TotalCents),
	)
	return order, true, nil
}

// Get は注文を返す。購入者または出品者以外には存在しないものとして扱う。
func (s *Service) Get(ctx context.Context, userID, orderID string) (*model.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("注文の取得に失敗しました: %w", err)
	}
	if order == nil {
		return nil, model.NewOrderNotFoundError(orderID)
	}
	if _, ok := order.RoleOf(userID); !ok {
		return nil, model.NewOrderNotFoundError(orderID)
	}
	return order, nil
}

// List はユーザーの注文一覧を返す。Roleが空の場合は購入・販売の両方を返す。
func (s *Service) List(ctx context.Context, userID string, filter model.OrderFilter) ([]*model.Order, error) {
	switch filter.Role {
	case "", model.ActorBuyer, model.ActorSeller:
	default:
		return nil, model.NewValidationError(fmt.Sprintf("unknown role: %s", filter.Role))
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("unknown status: %s", filter.Status))
	}
	page := model.SearchQuery{Limit: filter.Limit, Offset: filter.Offset}.Normalize()
	filter.Limit, filter.Offset = page.Limit, page.Offset

	return s.orders.List(ctx, userID, filter)
}

// Transition は注文に対する遷移操作を実行し、遷移後の注文を返す。
// 既に遷移先のステータスにある場合は何もせず現在の注文を返す。
//   - confirm: 出品者。振込証明が提出済みであることが必要で、支払いをverifiedにする。
//   - deliver: 出品者。
//   - complete: 購入者。order.completedイベントからポイントが付与される。
//   - cancel: 購入者はplacedのみ、出品者はplacedとconfirmed。在庫を戻す。
func (s *Service) Transition(ctx context.Context, userID, orderID string, action model.OrderAction, reason string) (*model.Order, error) {
	current, err := s.Get(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	role, _ := current.RoleOf(userID)

	next, noop, err := model.NextStatus(current.Status, action, role)
	if err != nil {
		return nil, err
	}
	if noop {
		return current, nil
	}

	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) > maxCancelReasonLength {
		return nil, model.NewValidationError(fmt.Sprintf("reason must be at most %d characters", maxCancelReasonLength))
	}

	if action == model.OrderActionConfirm {
		if err := s.requireSubmittedPayment(ctx, orderID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	updated := *current
	updated.Status = next
	updated.UpdatedAt = now

	event, err := model.NewOrderEvent(uuid.New().String(), model.EventTypeForStatus(next), &updated, role, reason, now)
	if err != nil {
		return nil, err
	}

	if err := s.orders.ApplyTransition(ctx, model.OrderTransition{
		OrderID:       orderID,
		From:          current.Status,
		To:            next,
		Actor:         role,
		At:            now,
		Reason:        reason,
		VerifyPayment: action == model.OrderActionConfirm,
		Restock:       next == model.OrderStatusCancelled,
		Event:         event,
	}); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordOrderTransition(string(current.Status), string(next))
	}
	slog.Info("注文ステータスを更新しました",
		slog.String("order_id", orderID),
		slog.String("from", string(current.Status)),
		slog.String("to", string(next)),
		slog.String("actor", string(role)),
	)

	return s.Get(ctx, userID, orderID)
}

func (s *Service) requireSubmittedPayment(ctx context.Context, orderID string) error {
	payment, err := s.payments.FindByOrderID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("支払いの取得に失敗しました: %w", err)
	}
	if payment == nil {
		return model.NewPaymentNotFoundError(orderID)
	}
	if payment.Status != model.PaymentStatusSubmitted {
		return model.NewPaymentProofRequiredError()
	}
	return nil
}
