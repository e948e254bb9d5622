// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/tbabson/mealmaster-server/internal/model"
)

// ReminderRepository はリマインダーデータの永続化インターフェース。
// 更新はレコード全体のread-modify-writeで行い、last-write-winsとする。
// スケジューラはキャッシュを持たず、毎回新しいデータを取得する前提で呼び出す。
type ReminderRepository interface {
	// FindByID は指定IDのリマインダーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Reminder, error)

	// FindDetailByID はリマインダーと関連する食事・ユーザー・プッシュ購読を
	// 結合して取得する。発火直前の再読込に使用する。
	// リマインダーが存在しない場合はnilを返す。関連データの欠落はnilフィールドで表す。
	FindDetailByID(ctx context.Context, id string) (*model.ReminderDetail, error)

	// ListByUserID はユーザーのリマインダー一覧を返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Reminder, error)

	// ListUnnotified はnotified=falseの全リマインダーを返す。
	// 再起動時のタイマー復元（リカバリパス）で使用する。
	ListUnnotified(ctx context.Context) ([]*model.Reminder, error)

	// Create はリマインダーを作成する。
	Create(ctx context.Context, reminder *model.Reminder) error

	// Update はリマインダー全体を上書き更新する。
	Update(ctx context.Context, reminder *model.Reminder) error

	// UpdateCalendarSync はカレンダー同期のブックキーピングのみを更新する。
	// 同期失敗時にnotified/reminder_timeへ影響させないために分離している。
	UpdateCalendarSync(ctx context.Context, id string, eventID, eventLink string, status model.CalendarSyncStatus, syncedAt *time.Time) error

	// Delete は指定IDのリマインダーを削除する。
	Delete(ctx context.Context, id string) error

	// DeleteNotifiedBefore は指定時刻より前に更新された終端状態
	// （notified=trueかつ非繰り返し）のリマインダーを削除し、削除件数を返す。
	DeleteNotifiedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PushSubscriptionRepository はプッシュ購読データの永続化インターフェース。
type PushSubscriptionRepository interface {
	// FindByID は指定IDの購読を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.PushSubscription, error)

	// Create は購読を作成する。
	Create(ctx context.Context, subscription *model.PushSubscription) error

	// ListByUserID はユーザーの購読一覧を返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.PushSubscription, error)
}

// MealRepository は食事データの読み取りインターフェース。
// 食事のCRUDは別サブシステムの責務で、本エンジンは参照のみ行う。
type MealRepository interface {
	// FindByID は指定IDの食事を材料・調理手順付きで取得する。
	// 見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Meal, error)
}

// UserRepository はユーザーデータの読み取りインターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
