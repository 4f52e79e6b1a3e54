package points

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/marketplace/internal/model"
	"github.com/hitoshi/marketplace/internal/repository"
)

// Awarder はorder.completedイベントを受けて購入者にポイントを付与する。
// 付与は (order_id, order_award) で一意なため、イベントが再配送されても二重付与されない。
type Awarder struct {
	repo    repository.PointsRepository
	metrics Metrics
	now     func() time.Time
}

// NewAwarder はAwarderの新しいインスタンスを生成する。
func NewAwarder(repo repository.PointsRepository, metrics Metrics) *Awarder {
	return &Awarder{repo: repo, metrics: metrics, now: time.Now}
}

// HandleOrderCompleted は注文完了イベントに対してポイントを付与する。
// 出品者のプログラムが無効、または購入金額が条件に満たない場合は何もしない。
func (a *Awarder) HandleOrderCompleted(ctx context.Context, event *model.OutboxEvent) error {
	var p model.OrderEventPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("invalid %s payload: %w", event.EventType, err)
	}
	if p.Status != model.OrderStatusCompleted {
		return fmt.Errorf("unexpected order status in %s: %s", event.EventType, p.Status)
	}

	program, err := a.repo.FindProgram(ctx, p.SellerID)
	if err != nil {
		return err
	}
	points := program.PointsFor(p.TotalCents)
	if points <= 0 {
		slog.Debug("ポイント付与の対象外です",
			slog.String("order_id", p.OrderID),
			slog.String("seller_id", p.SellerID),
		)
		return nil
	}

	now := a.now()
	awardedEvent, err := model.NewPointsEvent(uuid.New().String(), model.EventPointsAwarded, p.OrderID,
		model.PointsEventPayload{
			BuyerID:  p.BuyerID,
			SellerID: p.SellerID,
			OrderID:  p.OrderID,
			Points:   points,
		}, now)
	if err != nil {
		return err
	}

	awarded, err := a.repo.Award(ctx, model.PointsAward{
		BuyerID:  p.BuyerID,
		SellerID: p.SellerID,
		OrderID:  p.OrderID,
		Points:   points,
		At:       now,
	}, awardedEvent)
	if err != nil {
		return err
	}
	if !awarded {
		slog.Info("ポイントは付与済みです", slog.String("order_id", p.OrderID))
		return nil
	}

	if a.metrics != nil {
		a.metrics.RecordPointsAwarded(points)
	}
	slog.Info("ポイントを付与しました",
		slog.String("order_id", p.OrderID),
		slog.String("buyer_id", p.BuyerID),
		slog.String("seller_id", p.SellerID),
		slog.Int64("points", points),
	)
	return nil
}
