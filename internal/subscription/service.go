// Package subscription はプッシュ購読管理のドメインロジックを提供する。
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tbabson/mealmaster-server/internal/model"
	"github.com/tbabson/mealmaster-server/internal/repository"
	"github.com/tbabson/mealmaster-server/internal/security"
)

// Service はプッシュ購読のサービス層。
// ブラウザから受け取った購読情報の検証と保存を提供する。
type Service struct {
	repo   repository.PushSubscriptionRepository
	guard  security.EndpointGuardService
	logger *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.PushSubscriptionRepository,
	guard security.EndpointGuardService,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:   repo,
		guard:  guard,
		logger: logger,
	}
}

// SaveInput は購読保存のリクエスト内容。ブラウザのPushSubscription形式に対応する。
type SaveInput struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

// Save はプッシュ購読を検証して保存する。
// エンドポイントと両方の暗号鍵が揃っていない購読は拒否する。
func (s *Service) Save(ctx context.Context, userID string, input SaveInput) (*model.PushSubscription, error) {
	now := time.Now().UTC()
	sub := &model.PushSubscription{
		ID:        uuid.NewString(),
		UserID:    userID,
		Endpoint:  input.Endpoint,
		P256dh:    input.P256dh,
		Auth:      input.Auth,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if !sub.Complete() {
		return nil, model.NewIncompleteSubscriptionError()
	}
	if err := s.guard.ValidateEndpoint(sub.Endpoint); err != nil {
		s.logger.Warn("プッシュエンドポイントをブロックしました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewEndpointBlockedError()
	}

	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("プッシュ購読の保存に失敗しました: %w", err)
	}

	s.logger.Info("プッシュ購読を保存しました",
		slog.String("subscription_id", sub.ID),
		slog.String("user_id", userID),
	)
	return sub, nil
}

// ListByUser はユーザーのプッシュ購読一覧を返す。
func (s *Service) ListByUser(ctx context.Context, userID string) ([]*model.PushSubscription, error) {
	subs, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プッシュ購読一覧の取得に失敗しました: %w", err)
	}
	return subs, nil
}
