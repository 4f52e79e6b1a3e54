// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザー（profile）を表す。
// IsSellerがtrueのユーザーは出品者として商品を出品できる。
type User struct {
	ID        string
	Email     string
	Name      string
	IsSeller  bool
	StoreName string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayName は出品者であれば店舗名を、そうでなければ氏名を返す。
func (u *User) DisplayName() string {
	if u.IsSeller && u.StoreName != "" {
		return u.StoreName
	}
	return u.Name
}

// Identity は外部IdPとの紐付け情報を表す。
// 将来的に複数のIdP（Google, GitHub等）に対応可能な構造。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
