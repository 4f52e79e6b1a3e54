package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/marketplace/internal/model"
)

// ErrIdentityExists は同じOAuthアカウントのidentityが既に登録済みの場合に返す。
// 初回ログインのコールバックが並行した場合に発生する。
var ErrIdentityExists = errors.New("identity already exists")

const userColumns = `id, email, name, is_seller, store_name, created_at, updated_at`

// PostgresUserRepo はusersテーブルへのアクセスを提供する。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

func scanUser(row interface{ Scan(dest ...any) error }) (*model.User, error) {
	u := &model.User{}
	var storeName sql.NullString
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.IsSeller, &storeName, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.StoreName = nullStringValue(storeName)
	return u, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// CreateWithIdentity は購入者ユーザーとidentityを同一トランザクションで作成する。
// (provider, provider_user_id) が既に存在する場合はErrIdentityExistsを返し、ユーザーも作成しない。
func (r *PostgresUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, email, name, is_seller, store_name, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			user.ID, user.Email, user.Name, user.IsSeller, nullString(user.StoreName), user.CreatedAt, user.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO identities (id, user_id, provider, provider_user_id, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID, identity.CreatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return ErrIdentityExists
			}
			return fmt.Errorf("failed to insert identity: %w", err)
		}
		return nil
	})
}

// UpdateSellerProfile は出品者フラグと店舗名を更新する。
func (r *PostgresUserRepo) UpdateSellerProfile(ctx context.Context, id string, isSeller bool, storeName string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_seller = $2, store_name = $3, updated_at = now() WHERE id = $1`,
		id, isSeller, nullString(storeName),
	)
	if err != nil {
		return fmt.Errorf("failed to update seller profile: %w", err)
	}
	return requireUserAffected(result)
}

// DeleteByID は退会処理としてユーザーを削除する。
// identities、sessions、cartsなどはON DELETE CASCADEで削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return requireUserAffected(result)
}

func requireUserAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return model.NewUserNotFoundError()
	}
	return nil
}

var _ UserRepository = (*PostgresUserRepo)(nil)
