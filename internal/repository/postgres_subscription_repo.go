package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tbabson/mealmaster-server/internal/model"
)

// PostgresPushSubscriptionRepo はPostgreSQLを使用したプッシュ購読リポジトリ。
type PostgresPushSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresPushSubscriptionRepo はPostgresPushSubscriptionRepoを生成する。
func NewPostgresPushSubscriptionRepo(db *sql.DB) *PostgresPushSubscriptionRepo {
	return &PostgresPushSubscriptionRepo{db: db}
}

// FindByID は指定IDの購読を取得する。見つからない場合はnilを返す。
func (r *PostgresPushSubscriptionRepo) FindByID(ctx context.Context, id string) (*model.PushSubscription, error) {
	sub := &model.PushSubscription{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, endpoint, p256dh, auth, created_at, updated_at
		 FROM push_subscriptions WHERE id = $1`,
		id,
	).Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dh, &sub.Auth, &sub.CreatedAt, &sub.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("プッシュ購読の取得に失敗しました: %w", err)
	}
	return sub, nil
}

// Create は購読を作成する。
func (r *PostgresPushSubscriptionRepo) Create(ctx context.Context, sub *model.PushSubscription) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO push_subscriptions (id, user_id, endpoint, p256dh, auth, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sub.ID, sub.UserID, sub.Endpoint, sub.P256dh, sub.Auth, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("プッシュ購読の作成に失敗しました: %w", err)
	}
	return nil
}

// ListByUserID はユーザーの購読一覧を作成日時降順で返す。
func (r *PostgresPushSubscriptionRepo) ListByUserID(ctx context.Context, userID string) ([]*model.PushSubscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, endpoint, p256dh, auth, created_at, updated_at
		 FROM push_subscriptions WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("プッシュ購読一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var subs []*model.PushSubscription
	for rows.Next() {
		sub := &model.PushSubscription{}
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dh, &sub.Auth, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("プッシュ購読の読み取りに失敗しました: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("プッシュ購読の走査に失敗しました: %w", err)
	}
	return subs, nil
}

// compile-time interface check
var _ PushSubscriptionRepository = (*PostgresPushSubscriptionRepo)(nil)
