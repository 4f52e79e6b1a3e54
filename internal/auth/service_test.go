package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/marketplace/internal/model"
	"github.com/hitoshi/marketplace/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn           func(ctx context.Context, id string) (*model.User, error)
	createWithIdentityFn func(ctx context.Context, user *model.User, identity *model.Identity) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	if m.createWithIdentityFn != nil {
		return m.createWithIdentityFn(ctx, user, identity)
	}
	return nil
}

func (m *mockUserRepo) UpdateSellerProfile(_ context.Context, _ string, _ bool, _ string) error {
	return nil
}

func (m *mockUserRepo) DeleteByID(_ context.Context, _ string) error {
	return nil
}

type mockIdentityRepo struct {
	findByProviderFn func(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

func (m *mockIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	if m.findByProviderFn != nil {
		return m.findByProviderFn(ctx, provider, providerUserID)
	}
	return nil, nil
}

type mockSessionRepo struct {
	createFn         func(ctx context.Context, session *model.Session) error
	findByIDFn       func(ctx context.Context, id string) (*model.Session, error)
	deleteByIDFn     func(ctx context.Context, id string) error
	deleteByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if m.deleteByUserIDFn != nil {
		return m.deleteByUserIDFn(ctx, userID)
	}
	return nil
}

type mockOAuthProvider struct {
	getLoginURLFn  func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (*OAuthUserInfo, error)
}

func (m *mockOAuthProvider) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return nil, nil
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.IdentityRepository = (*mockIdentityRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ OAuthProvider = (*mockOAuthProvider)(nil)

// --- テスト ---

var fixedNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func googleUser(verified bool) *mockOAuthProvider {
	return &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return &OAuthUserInfo{
				ProviderUserID: "google-sub-1",
				Email:          "buyer@example.com",
				EmailVerified:  verified,
				Name:           "Buyer One",
				Provider:       "google",
			}, nil
		},
	}
}

func newTestService(provider OAuthProvider, users *mockUserRepo, idents *mockIdentityRepo, sessions *mockSessionRepo) *Service {
	svc := NewService(provider, users, idents, sessions, ServiceConfig{SessionMaxAge: 3600})
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func TestService_GetLoginURL(t *testing.T) {
	provider := &mockOAuthProvider{
		getLoginURLFn: func(state string) string { return "https://accounts.google.com/o/oauth2/auth?state=" + state },
	}
	svc := newTestService(provider, nil, nil, nil)

	assert.Equal(t, "https://accounts.google.com/o/oauth2/auth?state=s1", svc.GetLoginURL("s1"))
}

// TestService_HandleCallback_NewBuyer は初回ログインで購入者アカウントが作成されることを検証する。
func TestService_HandleCallback_NewBuyer(t *testing.T) {
	var createdUser *model.User
	var createdIdentity *model.Identity
	var createdSession *model.Session

	users := &mockUserRepo{
		createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity) error {
			createdUser, createdIdentity = user, identity
			return nil
		},
	}
	sessions := &mockSessionRepo{
		createFn: func(ctx context.Context, session *model.Session) error {
			createdSession = session
			return nil
		},
	}
	svc := newTestService(googleUser(true), users, &mockIdentityRepo{}, sessions)

	result, err := svc.HandleCallback(context.Background(), "code-1")
	require.NoError(t, err)

	assert.True(t, result.NewUser)
	require.NotNil(t, createdUser)
	assert.Equal(t, "buyer@example.com", createdUser.Email)
	assert.Equal(t, "Buyer One", createdUser.Name)
	assert.False(t, createdUser.IsSeller, "新規ユーザーは購入者として作成される")
	assert.Equal(t, fixedNow, createdUser.CreatedAt)

	require.NotNil(t, createdIdentity)
	assert.Equal(t, createdUser.ID, createdIdentity.UserID)
	assert.Equal(t, "google", createdIdentity.Provider)
	assert.Equal(t, "google-sub-1", createdIdentity.ProviderUserID)

	require.NotNil(t, createdSession)
	assert.Same(t, createdSession, result.Session)
	assert.Equal(t, createdUser.ID, result.Session.UserID)
	assert.Len(t, result.Session.ID, 64)
	assert.Equal(t, fixedNow.Add(time.Hour), result.Session.ExpiresAt)
	assert.Same(t, createdUser, result.User)
}

// TestService_HandleCallback_ExistingSeller は既存の出品者がログインした場合にアカウントを作らないことを検証する。
func TestService_HandleCallback_ExistingSeller(t *testing.T) {
	users := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Email: "buyer@example.com", IsSeller: true, StoreName: "Alice's Pottery"}, nil
		},
		createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity) error {
			t.Fatal("既存ユーザーに対してアカウントを作成してはならない")
			return nil
		},
	}
	idents := &mockIdentityRepo{
		findByProviderFn: func(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
			assert.Equal(t, "google", provider)
			assert.Equal(t, "google-sub-1", providerUserID)
			return &model.Identity{ID: "ident-1", UserID: "seller-1", Provider: provider, ProviderUserID: providerUserID}, nil
		},
	}
	svc := newTestService(googleUser(true), users, idents, &mockSessionRepo{})

	result, err := svc.HandleCallback(context.Background(), "code-1")
	require.NoError(t, err)

	assert.False(t, result.NewUser)
	assert.Equal(t, "seller-1", result.Session.UserID)
	assert.Equal(t, "Alice's Pottery", result.User.DisplayName())
}

// TestService_HandleCallback_ConcurrentFirstLogin は並行した初回ログインで先に登録されたユーザーにログインすることを検証する。
func TestService_HandleCallback_ConcurrentFirstLogin(t *testing.T) {
	lookups := 0
	idents := &mockIdentityRepo{
		findByProviderFn: func(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
			lookups++
			if lookups == 1 {
				return nil, nil
			}
			return &model.Identity{ID: "ident-1", UserID: "buyer-first", Provider: provider, ProviderUserID: providerUserID}, nil
		},
	}
	users := &mockUserRepo{
		createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity) error {
			return repository.ErrIdentityExists
		},
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Email: "buyer@example.com"}, nil
		},
	}
	svc := newTestService(googleUser(true), users, idents, &mockSessionRepo{})

	result, err := svc.HandleCallback(context.Background(), "code-1")
	require.NoError(t, err)

	assert.Equal(t, 2, lookups)
	assert.False(t, result.NewUser)
	assert.Equal(t, "buyer-first", result.User.ID)
	assert.Equal(t, "buyer-first", result.Session.UserID)
}

// TestService_HandleCallback_UnverifiedEmail はメールアドレス未確認のアカウントを拒否することを検証する。
func TestService_HandleCallback_UnverifiedEmail(t *testing.T) {
	idents := &mockIdentityRepo{
		findByProviderFn: func(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
			t.Fatal("未確認のアカウントでidentityを検索してはならない")
			return nil, nil
		},
	}
	svc := newTestService(googleUser(false), nil, idents, nil)

	_, err := svc.HandleCallback(context.Background(), "code-1")

	var apiErr *model.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, model.ErrCodeEmailNotVerified, apiErr.Code)
}

func TestService_HandleCallback_Errors(t *testing.T) {
	tests := []struct {
		name     string
		provider *mockOAuthProvider
		users    *mockUserRepo
		idents   *mockIdentityRepo
		sessions *mockSessionRepo
	}{
		{
			name: "認可コードの交換失敗",
			provider: &mockOAuthProvider{
				exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
					return nil, errors.New("invalid_grant")
				},
			},
		},
		{
			name:     "identity検索の失敗",
			provider: googleUser(true),
			idents: &mockIdentityRepo{
				findByProviderFn: func(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
					return nil, errors.New("db down")
				},
			},
		},
		{
			name:     "ユーザー作成の失敗",
			provider: googleUser(true),
			users: &mockUserRepo{
				createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity) error {
					return errors.New("unique violation")
				},
			},
			idents: &mockIdentityRepo{},
		},
		{
			name:     "セッション保存の失敗",
			provider: googleUser(true),
			users:    &mockUserRepo{},
			idents:   &mockIdentityRepo{},
			sessions: &mockSessionRepo{
				createFn: func(ctx context.Context, session *model.Session) error {
					return errors.New("db down")
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(tt.provider, tt.users, tt.idents, tt.sessions)

			result, err := svc.HandleCallback(context.Background(), "code-1")
			assert.Error(t, err)
			assert.Nil(t, result)
		})
	}
}

func TestService_Logout(t *testing.T) {
	var deleted string
	sessions := &mockSessionRepo{
		deleteByIDFn: func(ctx context.Context, id string) error {
			deleted = id
			return nil
		},
	}
	svc := newTestService(nil, nil, nil, sessions)

	require.NoError(t, svc.Logout(context.Background(), "session-1"))
	assert.Equal(t, "session-1", deleted)

	assert.Error(t, svc.Logout(context.Background(), ""))
}

func TestService_GetCurrentUser(t *testing.T) {
	sessions := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			if id != "session-1" {
				return nil, nil
			}
			return &model.Session{ID: id, UserID: "buyer-1", ExpiresAt: fixedNow.Add(time.Hour)}, nil
		},
	}
	users := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Email: "buyer@example.com"}, nil
		},
	}
	svc := newTestService(nil, users, nil, sessions)

	user, err := svc.GetCurrentUser(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Equal(t, "buyer-1", user.ID)
}

// TestService_GetCurrentUser_Unauthorized はセッションが無効な場合にUNAUTHORIZEDを返すことを検証する。
func TestService_GetCurrentUser_Unauthorized(t *testing.T) {
	validSession := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return &model.Session{ID: id, UserID: "withdrawn-user"}, nil
		},
	}

	tests := []struct {
		name      string
		sessionID string
		sessions  *mockSessionRepo
	}{
		{name: "セッションIDなし", sessionID: ""},
		{name: "期限切れ", sessionID: "expired", sessions: &mockSessionRepo{}},
		{name: "退会済み", sessionID: "session-1", sessions: validSession},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(nil, &mockUserRepo{}, nil, tt.sessions)

			_, err := svc.GetCurrentUser(context.Background(), tt.sessionID)

			var apiErr *model.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, model.ErrCodeUnauthorized, apiErr.Code)
		})
	}
}
