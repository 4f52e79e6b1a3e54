// Package cart は購入者カートのドメインロジックを提供する。
package cart

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/marketplace/internal/model"
	"github.com/hitoshi/marketplace/internal/repository"
)

// Service はカート操作のサービス層。
// 単一出品者の制約と在庫チェックはリポジトリがカートの行ロック下で行う。
type Service struct {
	carts repository.CartRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(carts repository.CartRepository) *Service {
	return &Service{carts: carts}
}

// Get は購入者のカートを返す。
func (s *Service) Get(ctx context.Context, buyerID string) (*model.Cart, error) {
	cart, err := s.carts.Get(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("カートの取得に失敗しました: %w", err)
	}
	return cart, nil
}

// AddItem は出品をカートに追加し、更新後のカートを返す。
// 別の出品者の商品が入っている場合、replaceがfalseならCART_SELLER_CONFLICTを返す。
func (s *Service) AddItem(ctx context.Context, buyerID, listingID string, quantity int, replace bool) (*model.Cart, error) {
	listingID = strings.TrimSpace(listingID)
	if listingID == "" {
		return nil, model.NewValidationError("listing_id is required")
	}
	if err := validateQuantity(quantity, 1); err != nil {
		return nil, err
	}

	if err := s.carts.AddItem(ctx, buyerID, listingID, quantity, replace); err != nil {
		return nil, err
	}

	slog.Info("カートに商品を追加しました",
		slog.String("buyer_id", buyerID),
		slog.String("listing_id", listingID),
		slog.Int("quantity", quantity),
		slog.Bool("replace", replace),
	)

	return s.Get(ctx, buyerID)
}

// UpdateItem はカート内商品の数量を変更する。0を指定すると削除する。
func (s *Service) UpdateItem(ctx context.Context, buyerID, itemID string, quantity int) (*model.Cart, error) {
	if err := validateQuantity(quantity, 0); err != nil {
		return nil, err
	}
	if err := s.carts.UpdateItemQuantity(ctx, buyerID, itemID, quantity); err != nil {
		return nil, err
	}
	return s.Get(ctx, buyerID)
}

// RemoveItem はカート内商品を削除する。最後の商品を削除すると出品者の制約も解除される。
func (s *Service) RemoveItem(ctx context.Context, buyerID, itemID string) (*model.Cart, error) {
	if err := s.carts.RemoveItem(ctx, buyerID, itemID); err != nil {
		return nil, err
	}
	return s.Get(ctx, buyerID)
}

// Clear はカートを空にする。
func (s *Service) Clear(ctx context.Context, buyerID string) error {
	if err := s.carts.Clear(ctx, buyerID); err != nil {
		return fmt.Errorf("カートの削除に失敗しました: %w", err)
	}
	return nil
}

func validateQuantity(quantity, min int) error {
	if quantity < min || quantity > model.MaxCartQuantity {
		return model.NewInvalidQuantityError(quantity)
	}
	return nil
}
