// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// GoogleRefreshTokenはカレンダー連携用で、認証サブシステムが
// OAuthフローで書き込む。本エンジンからは読み取りのみ。
type User struct {
	ID                 string
	Email              string
	FullName           string
	GoogleRefreshToken string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
