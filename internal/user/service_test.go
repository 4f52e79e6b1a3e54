package user

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/marketplace/internal/model"
)

// --- モック ---

type mockUserRepo struct {
	findByIDFn            func(ctx context.Context, id string) (*model.User, error)
	deleteByIDFn          func(ctx context.Context, id string) error
	updateSellerProfileFn func(ctx context.Context, id string, isSeller bool, storeName string) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	return nil
}
func (m *mockUserRepo) UpdateSellerProfile(ctx context.Context, id string, isSeller bool, storeName string) error {
	if m.updateSellerProfileFn != nil {
		return m.updateSellerProfileFn(ctx, id, isSeller, storeName)
	}
	return nil
}
func (m *mockUserRepo) DeleteByID(ctx context.Context, id string) error {
	return m.deleteByIDFn(ctx, id)
}

type mockSessionRepo struct {
	deleteByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	return nil
}
func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return nil, nil
}
func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	return nil
}
func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	return m.deleteByUserIDFn(ctx, userID)
}

type mockOrderCounter struct {
	count int
	err   error
}

func (m *mockOrderCounter) CountOpenByUser(ctx context.Context, userID string) (int, error) {
	return m.count, m.err
}

func existingUser() *mockUserRepo {
	return &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Email: "test@example.com", Name: "Test"}, nil
		},
	}
}

// --- テスト ---

// TestService_Withdraw は退会処理がセッションとユーザーを削除することを検証する。
func TestService_Withdraw(t *testing.T) {
	userDeleteCalled := false
	sessionDeleteCalled := false

	userRepo := existingUser()
	userRepo.deleteByIDFn = func(ctx context.Context, id string) error {
		userDeleteCalled = true
		return nil
	}
	sessionRepo := &mockSessionRepo{
		deleteByUserIDFn: func(ctx context.Context, userID string) error {
			sessionDeleteCalled = true
			return nil
		},
	}

	svc := NewService(userRepo, sessionRepo, &mockOrderCounter{})

	require.NoError(t, svc.Withdraw(context.Background(), "user-1"))
	assert.True(t, sessionDeleteCalled, "sessions DeleteByUserID が呼ばれていない")
	assert.True(t, userDeleteCalled, "user DeleteByID が呼ばれていない")
}

// TestService_Withdraw_OpenOrders は未完了注文がある場合に退会できないことを検証する。
func TestService_Withdraw_OpenOrders(t *testing.T) {
	userRepo := existingUser()
	userRepo.deleteByIDFn = func(ctx context.Context, id string) error {
		t.Fatal("未完了注文がある場合にユーザーを削除してはならない")
		return nil
	}

	svc := NewService(userRepo, nil, &mockOrderCounter{count: 2})

	err := svc.Withdraw(context.Background(), "user-1")
	var apiErr *model.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, model.ErrCodeOpenOrdersExist, apiErr.Code)
	assert.Contains(t, apiErr.Message, "2")
}

// TestService_Withdraw_UserNotFound は存在しないユーザーの退会がエラーになることを検証する。
func TestService_Withdraw_UserNotFound(t *testing.T) {
	svc := NewService(&mockUserRepo{}, nil, nil)

	err := svc.Withdraw(context.Background(), "nonexistent-user")
	var apiErr *model.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, model.ErrCodeUserNotFound, apiErr.Code)
}

// TestService_Withdraw_CounterError は未完了注文数の取得失敗がエラーになることを検証する。
func TestService_Withdraw_CounterError(t *testing.T) {
	svc := NewService(existingUser(), nil, &mockOrderCounter{err: errors.New("db down")})

	err := svc.Withdraw(context.Background(), "user-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestService_BecomeSeller(t *testing.T) {
	var gotStoreName string
	userRepo := &mockUserRepo{
		updateSellerProfileFn: func(ctx context.Context, id string, isSeller bool, storeName string) error {
			assert.True(t, isSeller)
			gotStoreName = storeName
			return nil
		},
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Name: "Alice", IsSeller: true, StoreName: gotStoreName}, nil
		},
	}
	svc := NewService(userRepo, nil, nil)

	user, err := svc.BecomeSeller(context.Background(), "user-1", "  Alice's Pottery  ")
	require.NoError(t, err)
	assert.Equal(t, "Alice's Pottery", gotStoreName)
	assert.Equal(t, "Alice's Pottery", user.DisplayName())
}

func TestService_BecomeSeller_InvalidStoreName(t *testing.T) {
	svc := NewService(&mockUserRepo{}, nil, nil)

	tests := []struct {
		name      string
		storeName string
	}{
		{name: "空", storeName: "   "},
		{name: "長すぎる", storeName: strings.Repeat("店", maxStoreNameLength+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.BecomeSeller(context.Background(), "user-1", tt.storeName)
			var apiErr *model.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, model.ErrCodeInvalidRequest, apiErr.Code)
		})
	}
}
