// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/marketplace/internal/model"
	"github.com/hitoshi/marketplace/internal/repository"
)

// maxStoreNameLength は店舗名の最大文字数。
const maxStoreNameLength = 100

// OpenOrderCounter は未完了注文数の取得インターフェース。
type OpenOrderCounter interface {
	CountOpenByUser(ctx context.Context, userID string) (int, error)
}

// Service はユーザー管理のサービス層。
// プロフィール取得、出品者登録、退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	orders      OpenOrderCounter
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	orders OpenOrderCounter,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		orders:      orders,
	}
}

// GetProfile はユーザーのプロフィールを返す。
func (s *Service) GetProfile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// BecomeSeller はユーザーを出品者として登録する。登録済みの場合は店舗名を更新する。
func (s *Service) BecomeSeller(ctx context.Context, userID, storeName string) (*model.User, error) {
	storeName = strings.TrimSpace(storeName)
	if storeName == "" {
		return nil, model.NewValidationError("store_name is required")
	}
	if utf8.RuneCountInString(storeName) > maxStoreNameLength {
		return nil, model.NewValidationError(fmt.Sprintf("store_name must be at most %d characters", maxStoreNameLength))
	}

	if err := s.userRepo.UpdateSellerProfile(ctx, userID, true, storeName); err != nil {
		return nil, err
	}

	slog.Info("出品者登録が完了しました",
		slog.String("user_id", userID),
		slog.String("store_name", storeName),
	)

	return s.GetProfile(ctx, userID)
}

// Withdraw はユーザーの退会処理を実行する。
// 購入者または出品者として未完了の注文がある場合は退会できない。
// 削除順序: sessions → user（+ CASCADE: identities, carts, 出品, 注文履歴, ポイント, 通知）
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	if s.orders != nil {
		count, err := s.orders.CountOpenByUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("未完了注文の確認に失敗しました: %w", err)
		}
		if count > 0 {
			return model.NewOpenOrdersExistError(count)
		}
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	if s.sessionRepo != nil {
		if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)

	return nil
}
