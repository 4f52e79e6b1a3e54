// Package auth はOAuth認証フロー、セッション管理を提供する。
// ログインしたユーザーは購入者として登録され、出品者登録はuserパッケージで行う。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/marketplace/internal/model"
	"github.com/hitoshi/marketplace/internal/repository"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
	Provider       string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	GetLoginURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// LoginResult はOAuthログインの結果を表す。
type LoginResult struct {
	Session *model.Session
	User    *model.User
	// NewUser は今回のログインで購入者アカウントを作成した場合にtrue。
	NewUser bool
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		config:      config,
		now:         time.Now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 初回ログインの場合は購入者アカウントとidentityを同時に作成する。
// メールアドレスは注文の連絡先になるため、未確認のアカウントはログインできない。
func (s *Service) HandleCallback(ctx context.Context, code string) (*LoginResult, error) {
	info, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}
	if info.Email == "" || !info.EmailVerified {
		slog.Warn("メールアドレス未確認のアカウントによるログインを拒否しました",
			slog.String("provider", info.Provider),
		)
		return nil, model.NewEmailNotVerifiedError()
	}

	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	result := &LoginResult{}
	if identity == nil {
		user, err := s.registerBuyer(ctx, info)
		switch {
		case errors.Is(err, repository.ErrIdentityExists):
			// 並行したコールバックが先に登録した
			identity, err = s.identRepo.FindByProviderAndProviderUserID(ctx, info.Provider, info.ProviderUserID)
			if err != nil {
				return nil, fmt.Errorf("failed to find identity: %w", err)
			}
			if identity == nil {
				return nil, model.NewUserNotFoundError()
			}
		case err != nil:
			return nil, err
		default:
			result.User = user
			result.NewUser = true
		}
	}

	if result.User == nil {
		user, err := s.userRepo.FindByID(ctx, identity.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find user: %w", err)
		}
		if user == nil {
			return nil, model.NewUserNotFoundError()
		}
		result.User = user
		slog.Info("既存ユーザーがログインしました",
			slog.String("user_id", user.ID),
			slog.Bool("is_seller", user.IsSeller),
		)
	}

	session, err := s.createSession(ctx, result.User.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	result.Session = session
	return result, nil
}

// registerBuyer はOAuthアカウントから購入者ユーザーを作成する。
func (s *Service) registerBuyer(ctx context.Context, info *OAuthUserInfo) (*model.User, error) {
	now := s.now()
	user := &model.User{
		ID:        uuid.New().String(),
		Email:     info.Email,
		Name:      info.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	identity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      now,
	}

	if err := s.userRepo.CreateWithIdentity(ctx, user, identity); err != nil {
		if errors.Is(err, repository.ErrIdentityExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user and identity: %w", err)
	}

	slog.Info("購入者アカウントを作成しました",
		slog.String("user_id", user.ID),
		slog.String("provider", info.Provider),
	)
	return user, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
// セッションが無効、またはユーザーが退会済みの場合はUNAUTHORIZEDを返す。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, model.NewUnauthorizedError()
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, model.NewUnauthorizedError()
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}
	return user, nil
}

func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

// generateSessionID は256ビットの乱数からセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
