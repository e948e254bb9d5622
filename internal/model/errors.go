// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, reminder, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeMealNotFound           = "MEAL_NOT_FOUND"
	ErrCodeReminderNotFound       = "REMINDER_NOT_FOUND"
	ErrCodeInvalidMethod          = "INVALID_NOTIFICATION_METHOD"
	ErrCodeInvalidFrequency       = "INVALID_RECURRING_FREQUENCY"
	ErrCodeInvalidReminderTime    = "INVALID_REMINDER_TIME"
	ErrCodeIncompleteSubscription = "INCOMPLETE_PUSH_SUBSCRIPTION"
	ErrCodeEndpointBlocked        = "PUSH_ENDPOINT_BLOCKED"
	ErrCodeNoteTooLong            = "NOTE_TOO_LONG"
	ErrCodeUserNotFound           = "USER_NOT_FOUND"
)

// NewMealNotFoundError は食事未検出エラーを生成する。
func NewMealNotFoundError(mealID string) *APIError {
	return &APIError{
		Code:     ErrCodeMealNotFound,
		Message:  fmt.Sprintf("指定された食事が見つかりません: %s", mealID),
		Category: "validation",
		Action:   "食事IDを確認してください。",
	}
}

// NewReminderNotFoundError はリマインダー未検出エラーを生成する。
func NewReminderNotFoundError(reminderID string) *APIError {
	return &APIError{
		Code:     ErrCodeReminderNotFound,
		Message:  fmt.Sprintf("指定されたリマインダーが見つかりません: %s", reminderID),
		Category: "reminder",
		Action:   "リマインダーIDを確認してください。",
	}
}

// NewInvalidMethodError は無効な通知チャネルエラーを生成する。
func NewInvalidMethodError(method string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidMethod,
		Message:  fmt.Sprintf("無効な通知チャネルです: %s", method),
		Category: "validation",
		Action:   "通知チャネルには email、push、calendar のいずれかを指定してください。",
	}
}

// NewInvalidFrequencyError は無効な繰り返し周期エラーを生成する。
func NewInvalidFrequencyError(frequency string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFrequency,
		Message:  fmt.Sprintf("無効な繰り返し周期です: %s", frequency),
		Category: "validation",
		Action:   "繰り返し周期には daily、weekly、monthly のいずれかを指定してください。",
	}
}

// NewInvalidReminderTimeError は無効な通知時刻エラーを生成する。
func NewInvalidReminderTimeError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidReminderTime,
		Message:  fmt.Sprintf("無効な通知時刻です: %s", reason),
		Category: "validation",
		Action:   "通知時刻はRFC3339形式（例: 2025-01-02T15:04:05+09:00）で指定してください。",
	}
}

// NewIncompleteSubscriptionError はプッシュ購読情報の不足エラーを生成する。
func NewIncompleteSubscriptionError() *APIError {
	return &APIError{
		Code:     ErrCodeIncompleteSubscription,
		Message:  "プッシュ通知には endpoint、keys.p256dh、keys.auth を持つ有効な購読情報が必要です。",
		Category: "validation",
		Action:   "ブラウザでプッシュ通知を有効化してから、購読情報を添えて再度リクエストしてください。",
	}
}

// NewEndpointBlockedError はプッシュエンドポイントのブロックエラーを生成する。
func NewEndpointBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeEndpointBlocked,
		Message:  "セキュリティポリシーにより、指定されたプッシュエンドポイントへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "ブラウザのプッシュサービスが発行した公開エンドポイントを指定してください。ローカルネットワークやプライベートIPへの送信は許可されていません。",
	}
}

// NewNoteTooLongError はメモ文字数超過エラーを生成する。
func NewNoteTooLongError(length int) *APIError {
	return &APIError{
		Code:     ErrCodeNoteTooLong,
		Message:  fmt.Sprintf("メモが最大文字数を超えています: %d文字（上限%d文字）", length, MaxNoteLength),
		Category: "validation",
		Action:   fmt.Sprintf("メモは%d文字以内で入力してください。", MaxNoteLength),
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}
