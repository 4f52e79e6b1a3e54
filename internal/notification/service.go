// Package notification はアプリ内通知の参照と、ドメインイベントからの通知作成を提供する。
package notification

import (
	"context"
	"fmt"

	"github.com/hitoshi/marketplace/internal/model"
	"github.com/hitoshi/marketplace/internal/repository"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Service は通知のサービス層。
type Service struct {
	repo repository.NotificationRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.NotificationRepository) *Service {
	return &Service{repo: repo}
}

// List はユーザーの通知を新しい順に返す。
func (s *Service) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*model.Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.ListByUser(ctx, userID, unreadOnly, limit)
}

// UnreadCount は未読通知数を返す。
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}

// MarkRead は通知を既読にする。
func (s *Service) MarkRead(ctx context.Context, userID, notificationID string) error {
	found, err := s.repo.MarkRead(ctx, userID, notificationID)
	if err != nil {
		return err
	}
	if !found {
		return model.NewNotificationNotFoundError(notificationID)
	}
	return nil
}

// MarkAllRead はユーザーの全通知を既読にし、更新件数を返す。
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	count, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("通知の一括既読化に失敗しました: %w", err)
	}
	return count, nil
}
