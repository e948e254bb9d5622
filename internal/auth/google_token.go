// Package auth はGoogleアカウント連携のトークン管理を提供する。
//
// ログイン時の認可フローは別サブシステムの責務で、本エンジンは
// ユーザーごとに保存済みのリフレッシュトークンからアクセストークンを
// 導出することのみを行う。カレンダー同期で使用される。
package auth

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// TokenProvider はユーザーのリフレッシュトークンからHTTPクライアントを
// 導出するインターフェース。
type TokenProvider interface {
	// ClientFor は指定リフレッシュトークンで認証されたHTTPクライアントを返す。
	// アクセストークンの更新はoauth2.TokenSourceが透過的に行う。
	// リフレッシュトークンが空の場合はエラーを返す。
	ClientFor(ctx context.Context, refreshToken string) (*http.Client, error)
}

// GoogleTokenProvider はGoogle OAuth 2.0のリフレッシュトークンを扱う実装。
type GoogleTokenProvider struct {
	config *oauth2.Config
}

// NewGoogleTokenProvider はGoogleTokenProviderを生成する。
// スコープはカレンダーイベントの作成に必要な範囲に限定する。
func NewGoogleTokenProvider(clientID, clientSecret string) *GoogleTokenProvider {
	return &GoogleTokenProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"https://www.googleapis.com/auth/calendar.events"},
		},
	}
}

// ClientFor は保存済みリフレッシュトークンからHTTPクライアントを生成する。
// 返却されるクライアントはアクセストークンの取得・更新を自動的に行う。
func (p *GoogleTokenProvider) ClientFor(ctx context.Context, refreshToken string) (*http.Client, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("リフレッシュトークンが設定されていません")
	}

	token := &oauth2.Token{RefreshToken: refreshToken}
	source := p.config.TokenSource(ctx, token)

	return oauth2.NewClient(ctx, source), nil
}

// compile-time interface check
var _ TokenProvider = (*GoogleTokenProvider)(nil)
