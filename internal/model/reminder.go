// Package model はドメインモデルを定義する。
package model

import "time"

// NotificationMethod はリマインダーの通知チャネルを表す。
type NotificationMethod string

const (
	// NotificationMethodEmail はメール通知。
	NotificationMethodEmail NotificationMethod = "email"
	// NotificationMethodPush はWebプッシュ通知。
	NotificationMethodPush NotificationMethod = "push"
	// NotificationMethodCalendar はGoogleカレンダー連携通知。
	NotificationMethodCalendar NotificationMethod = "calendar"
)

// ValidNotificationMethod は通知チャネルが既知の値かどうかを返す。
func ValidNotificationMethod(m NotificationMethod) bool {
	switch m {
	case NotificationMethodEmail, NotificationMethodPush, NotificationMethodCalendar:
		return true
	}
	return false
}

// RecurringFrequency は繰り返しリマインダーの周期を表す。
type RecurringFrequency string

const (
	// FrequencyDaily は毎日の繰り返し。
	FrequencyDaily RecurringFrequency = "daily"
	// FrequencyWeekly は毎週の繰り返し。
	FrequencyWeekly RecurringFrequency = "weekly"
	// FrequencyMonthly は毎月の繰り返し。
	FrequencyMonthly RecurringFrequency = "monthly"
)

// ValidRecurringFrequency は周期が既知の値かどうかを返す。
func ValidRecurringFrequency(f RecurringFrequency) bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// CalendarSyncStatus はGoogleカレンダー同期の状態を表す。
type CalendarSyncStatus string

const (
	// CalendarSyncPending は同期待ちの状態。
	CalendarSyncPending CalendarSyncStatus = "pending"
	// CalendarSyncSynced は同期済みの状態。
	CalendarSyncSynced CalendarSyncStatus = "synced"
	// CalendarSyncFailed は同期失敗の状態。
	CalendarSyncFailed CalendarSyncStatus = "failed"
	// CalendarSyncNotApplicable はカレンダー通知以外のリマインダーの状態。
	CalendarSyncNotApplicable CalendarSyncStatus = "not_applicable"
)

// MaxNoteLength はリマインダーの自由記述メモの最大文字数。
const MaxNoteLength = 500

// Reminder は1ユーザー・1食事に紐づく予約通知を表す。
// ReminderTimeは常にUTCで保存・比較される。ローカルタイムゾーンの扱いは
// プレゼンテーション層の責務であり、スケジューリングには持ち込まない。
type Reminder struct {
	ID                 string
	UserID             string
	MealID             string
	ReminderTime       time.Time
	NotificationMethod NotificationMethod
	IsRecurring        bool
	RecurringFrequency RecurringFrequency
	SubscriptionID     string
	Note               string
	Notified           bool

	// Googleカレンダー同期のブックキーピング
	CalendarEventID    string
	CalendarSyncStatus CalendarSyncStatus
	CalendarEventLink  string
	LastSyncedAt       *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal はリマインダーが終端状態（発火済みかつ再発火しない）かどうかを返す。
func (r *Reminder) Terminal() bool {
	return r.Notified && !r.IsRecurring
}

// PushSubscription はブラウザプッシュの宛先（エンドポイント + 暗号鍵）を表す。
// 1ユーザーに所有され、リマインダーからは参照のみされる。
type PushSubscription struct {
	ID        string
	UserID    string
	Endpoint  string
	P256dh    string
	Auth      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Complete はプッシュ送信に必要な情報がすべて揃っているかどうかを返す。
func (s *PushSubscription) Complete() bool {
	return s != nil && s.Endpoint != "" && s.P256dh != "" && s.Auth != ""
}

// ReminderDetail は発火時に参照する関連データを結合したリマインダー。
// 発火直前にストアから再取得され、古いクロージャ状態は使用しない。
type ReminderDetail struct {
	Reminder     *Reminder
	Meal         *Meal
	User         *User
	Subscription *PushSubscription
}
