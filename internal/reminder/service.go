// Package reminder はリマインダーのライフサイクル管理を提供する。
//
// 作成・更新・削除の検証と永続化を担い、タイマーの登録・解除を
// スケジューラへ委譲する。検証エラーは同期的にAPIErrorとして返し、
// その場合は何も永続化せず、タイマーも登録しない。
package reminder

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

// TimerRegistry はタイマー管理のインターフェース。scheduler.Schedulerが実装する。
type TimerRegistry interface {
	Register(reminder *model.Reminder)
	Replace(reminder *model.Reminder)
	Cancel(reminderID string)
}

// Service はリマインダーのユースケースを提供する。
type Service struct {
	reminders     repository.ReminderRepository
	subscriptions repository.PushSubscriptionRepository
	meals         repository.MealRepository
	users         repository.UserRepository
	timers        TimerRegistry
	guard         security.EndpointGuardService
	sanitizer     security.NoteSanitizerService
	logger        *slog.Logger
}

// NewService はServiceを生成する。
func NewService(
	reminders repository.ReminderRepository,
	subscriptions repository.PushSubscriptionRepository,
	meals repository.MealRepository,
	users repository.UserRepository,
	timers TimerRegistry,
	guard security.EndpointGuardService,
	sanitizer security.NoteSanitizerService,
	logger *slog.Logger,
) *Service {
	return &Service{
		reminders:     reminders,
		subscriptions: subscriptions,
		meals:         meals,
		users:         users,
		timers:        timers,
		guard:         guard,
		sanitizer:     sanitizer,
		logger:        logger,
	}
}

// SubscriptionInput はリクエストに同梱されるプッシュ購読情報。
type SubscriptionInput struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

// CreateInput はリマインダー作成のリクエスト内容。
type CreateInput struct {
	MealID             string             `json:"meal_id"`
	ReminderTime       string             `json:"reminder_time"`
	NotificationMethod string             `json:"notification_method"`
	IsRecurring        bool               `json:"is_recurring"`
	RecurringFrequency string             `json:"recurring_frequency"`
	Note               string             `json:"note"`
	SubscriptionID     string             `json:"subscription_id"`
	Subscription       *SubscriptionInput `json:"subscription"`
}

// Create はリマインダーを作成しタイマーを登録する。
// すべての検証を通過した場合のみ永続化とタイマー登録を行う。
func (s *Service) Create(ctx context.Context, userID string, input CreateInput) (*model.Reminder, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの確認に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	reminderTime, err := parseReminderTime(input.ReminderTime)
	if err != nil {
		return nil, err
	}

	meal, err := s.meals.FindByID(ctx, input.MealID)
	if err != nil {
		return nil, fmt.Errorf("食事の確認に失敗しました: %w", err)
	}
	if meal == nil {
		return nil, model.NewMealNotFoundError(input.MealID)
	}

	method := model.NotificationMethod(input.NotificationMethod)
	if !model.ValidNotificationMethod(method) {
		return nil, model.NewInvalidMethodError(input.NotificationMethod)
	}

	frequency := model.RecurringFrequency("")
	if input.IsRecurring {
		frequency = model.RecurringFrequency(input.RecurringFrequency)
		if !model.ValidRecurringFrequency(frequency) {
			return nil, model.NewInvalidFrequencyError(input.RecurringFrequency)
		}
	}

	note, err := s.validateNote(input.Note)
	if err != nil {
		return nil, err
	}

	subscriptionID := ""
	if method == model.NotificationMethodPush {
		subscriptionID, err = s.resolveSubscription(ctx, userID, input)
		if err != nil {
			return nil, err
		}
	}

	syncStatus := model.CalendarSyncNotApplicable
	if method == model.NotificationMethodCalendar {
		syncStatus = model.CalendarSyncPending
	}

	now := time.Now().UTC()
	reminder := &model.Reminder{
		ID:                 uuid.NewString(),
		UserID:             userID,
		MealID:             input.MealID,
		ReminderTime:       reminderTime,
		NotificationMethod: method,
		IsRecurring:        input.IsRecurring,
		RecurringFrequency: frequency,
		SubscriptionID:     subscriptionID,
		Note:               note,
		Notified:           false,
		CalendarSyncStatus: syncStatus,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.reminders.Create(ctx, reminder); err != nil {
		return nil, fmt.Errorf("リマインダーの保存に失敗しました: %w", err)
	}

	s.timers.Register(reminder)

	s.logger.Info("リマインダーを作成しました",
		slog.String("reminder_id", reminder.ID),
		slog.String("user_id", userID),
		slog.String("method", string(method)),
		slog.Time("reminder_time", reminderTime),
	)
	return reminder, nil
}

// WithMeal は一覧・取得レスポンス向けに食事を同梱したリマインダー。
// 食事が削除済みの場合Mealはnilになる。
type WithMeal struct {
	Reminder *model.Reminder
	Meal     *model.Meal
}

// List はユーザーのリマインダー一覧を食事付きで返す。
func (s *Service) List(ctx context.Context, userID string) ([]*WithMeal, error) {
	reminders, err := s.reminders.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("リマインダー一覧の取得に失敗しました: %w", err)
	}

	// 同じ食事を参照するリマインダーが多いため食事はIDでまとめて引く
	mealsByID := make(map[string]*model.Meal)
	result := make([]*WithMeal, 0, len(reminders))
	for _, reminder := range reminders {
		meal, ok := mealsByID[reminder.MealID]
		if !ok {
			meal, err = s.meals.FindByID(ctx, reminder.MealID)
			if err != nil {
				return nil, fmt.Errorf("食事の取得に失敗しました: %w", err)
			}
			mealsByID[reminder.MealID] = meal
		}
		result = append(result, &WithMeal{Reminder: reminder, Meal: meal})
	}
	return result, nil
}

// Get は所有者チェック付きで単一のリマインダーを食事付きで返す。
// 他ユーザーのリマインダーは存在しないものとして扱う。
func (s *Service) Get(ctx context.Context, userID, reminderID string) (*WithMeal, error) {
	reminder, err := s.findOwned(ctx, userID, reminderID)
	if err != nil {
		return nil, err
	}
	meal, err := s.meals.FindByID(ctx, reminder.MealID)
	if err != nil {
		return nil, fmt.Errorf("食事の取得に失敗しました: %w", err)
	}
	return &WithMeal{Reminder: reminder, Meal: meal}, nil
}

// findOwned は所有者チェック付きでリマインダーを取得する。
func (s *Service) findOwned(ctx context.Context, userID, reminderID string) (*model.Reminder, error) {
	reminder, err := s.reminders.FindByID(ctx, reminderID)
	if err != nil {
		return nil, fmt.Errorf("リマインダーの取得に失敗しました: %w", err)
	}
	if reminder == nil || reminder.UserID != userID {
		return nil, model.NewReminderNotFoundError(reminderID)
	}
	return reminder, nil
}

// UpdateInput はリマインダー更新のリクエスト内容。nilのフィールドは変更しない。
type UpdateInput struct {
	ReminderTime       *string            `json:"reminder_time"`
	NotificationMethod *string            `json:"notification_method"`
	IsRecurring        *bool              `json:"is_recurring"`
	RecurringFrequency *string            `json:"recurring_frequency"`
	Note               *string            `json:"note"`
	SubscriptionID     *string            `json:"subscription_id"`
	Subscription       *SubscriptionInput `json:"subscription"`
}

// Update はリマインダーを更新し、タイマーを新しい内容で登録し直す。
func (s *Service) Update(ctx context.Context, userID, reminderID string, input UpdateInput) (*model.Reminder, error) {
	reminder, err := s.findOwned(ctx, userID, reminderID)
	if err != nil {
		return nil, err
	}

	if input.ReminderTime != nil {
		reminderTime, err := parseReminderTime(*input.ReminderTime)
		if err != nil {
			return nil, err
		}
		reminder.ReminderTime = reminderTime
		// 時刻を付け替えたリマインダーは再度発火対象になる
		reminder.Notified = false
	}

	if input.NotificationMethod != nil {
		method := model.NotificationMethod(*input.NotificationMethod)
		if !model.ValidNotificationMethod(method) {
			return nil, model.NewInvalidMethodError(*input.NotificationMethod)
		}
		if method == model.NotificationMethodCalendar && reminder.NotificationMethod != model.NotificationMethodCalendar {
			reminder.CalendarSyncStatus = model.CalendarSyncPending
		}
		if method != model.NotificationMethodCalendar {
			reminder.CalendarSyncStatus = model.CalendarSyncNotApplicable
		}
		reminder.NotificationMethod = method
	}

	if input.IsRecurring != nil {
		reminder.IsRecurring = *input.IsRecurring
		if !reminder.IsRecurring {
			reminder.RecurringFrequency = ""
		}
	}

	if input.RecurringFrequency != nil {
		frequency := model.RecurringFrequency(*input.RecurringFrequency)
		if !model.ValidRecurringFrequency(frequency) {
			return nil, model.NewInvalidFrequencyError(*input.RecurringFrequency)
		}
		reminder.RecurringFrequency = frequency
	}

	if reminder.IsRecurring && !model.ValidRecurringFrequency(reminder.RecurringFrequency) {
		return nil, model.NewInvalidFrequencyError(string(reminder.RecurringFrequency))
	}

	if input.Note != nil {
		note, err := s.validateNote(*input.Note)
		if err != nil {
			return nil, err
		}
		reminder.Note = note
	}

	if reminder.NotificationMethod == model.NotificationMethodPush {
		createInput := CreateInput{Subscription: input.Subscription}
		if input.SubscriptionID != nil {
			createInput.SubscriptionID = *input.SubscriptionID
		} else {
			createInput.SubscriptionID = reminder.SubscriptionID
		}
		subscriptionID, err := s.resolveSubscription(ctx, userID, createInput)
		if err != nil {
			return nil, err
		}
		reminder.SubscriptionID = subscriptionID
	}

	reminder.UpdatedAt = time.Now().UTC()
	if err := s.reminders.Update(ctx, reminder); err != nil {
		return nil, fmt.Errorf("リマインダーの更新に失敗しました: %w", err)
	}

	// 終端状態（発火済みかつ非繰り返し）のリマインダーは再発火させない。
	// 時刻を付け替えた場合はNotifiedが解除されるため、ここには該当しない。
	if reminder.Terminal() {
		s.timers.Cancel(reminder.ID)
	} else {
		s.timers.Replace(reminder)
	}

	s.logger.Info("リマインダーを更新しました",
		slog.String("reminder_id", reminder.ID),
		slog.String("user_id", userID),
	)
	return reminder, nil
}

// Delete はリマインダーを削除しタイマーを解除する。
func (s *Service) Delete(ctx context.Context, userID, reminderID string) error {
	if _, err := s.findOwned(ctx, userID, reminderID); err != nil {
		return err
	}

	if err := s.reminders.Delete(ctx, reminderID); err != nil {
		return fmt.Errorf("リマインダーの削除に失敗しました: %w", err)
	}

	s.timers.Cancel(reminderID)

	s.logger.Info("リマインダーを削除しました",
		slog.String("reminder_id", reminderID),
		slog.String("user_id", userID),
	)
	return nil
}

// parseReminderTime はRFC3339形式の時刻をパースしUTCへ正規化する。
func parseReminderTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, model.NewInvalidReminderTimeError("時刻が指定されていません")
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, model.NewInvalidReminderTimeError(fmt.Sprintf("時刻を解釈できません: %s", value))
	}
	return parsed.UTC(), nil
}

// validateNote はメモをサニタイズし文字数を検証する。
func (s *Service) validateNote(raw string) (string, error) {
	note := s.sanitizer.Sanitize(raw)
	if length := len([]rune(note)); length > model.MaxNoteLength {
		return "", model.NewNoteTooLongError(length)
	}
	return note, nil
}

// resolveSubscription はプッシュ通知用の購読を確定させる。
// 既存購読IDの指定とインライン購読情報の両方に対応し、
// どちらの場合も完全性とエンドポイントの安全性を検証する。
func (s *Service) resolveSubscription(ctx context.Context, userID string, input CreateInput) (string, error) {
	if input.SubscriptionID != "" {
		sub, err := s.subscriptions.FindByID(ctx, input.SubscriptionID)
		if err != nil {
			return "", fmt.Errorf("プッシュ購読の取得に失敗しました: %w", err)
		}
		if sub == nil || sub.UserID != userID || !sub.Complete() {
			return "", model.NewIncompleteSubscriptionError()
		}
		return sub.ID, nil
	}

	if input.Subscription == nil {
		return "", model.NewIncompleteSubscriptionError()
	}

	sub := &model.PushSubscription{
		ID:       uuid.NewString(),
		UserID:   userID,
		Endpoint: input.Subscription.Endpoint,
		P256dh:   input.Subscription.P256dh,
		Auth:     input.Subscription.Auth,
	}
	if !sub.Complete() {
		return "", model.NewIncompleteSubscriptionError()
	}
	if err := s.guard.ValidateEndpoint(sub.Endpoint); err != nil {
		s.logger.Warn("プッシュエンドポイントをブロックしました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return "", model.NewEndpointBlockedError()
	}

	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	if err := s.subscriptions.Create(ctx, sub); err != nil {
		return "", fmt.Errorf("プッシュ購読の保存に失敗しました: %w", err)
	}
	return sub.ID, nil
}
