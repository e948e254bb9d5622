package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/tbabson/mealmaster-server/internal/auth"
	"github.com/tbabson/mealmaster-server/internal/model"
	"github.com/tbabson/mealmaster-server/internal/repository"
)

// EventInserter はカレンダーイベント登録のインターフェース。テスト時に差し替える。
type EventInserter interface {
	Insert(ctx context.Context, client *http.Client, event *calendar.Event) (*calendar.Event, error)
}

// googleEventInserter はGoogle Calendar APIによるEventInserterの実装。
type googleEventInserter struct{}

// NewGoogleEventInserter はEventInserterを生成する。
func NewGoogleEventInserter() EventInserter {
	return &googleEventInserter{}
}

// Insert はユーザーのprimaryカレンダーにイベントを登録する。
// ユーザーごとに認証クライアントが異なるため、サービスは呼び出しごとに生成する。
func (i *googleEventInserter) Insert(ctx context.Context, client *http.Client, event *calendar.Event) (*calendar.Event, error) {
	service, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("カレンダーサービスの生成に失敗しました: %w", err)
	}
	return service.Events.Insert("primary", event).SendUpdates("all").Context(ctx).Do()
}

// CalendarTransport はGoogleカレンダーへのイベント登録によるリマインダー通知を配信する。
// 配信の成否に加えて、リマインダーレコードの同期状態（eventID・リンク・同期時刻）を更新する。
type CalendarTransport struct {
	inserter EventInserter
	tokens   auth.TokenProvider
	repo     repository.ReminderRepository
	logger   *slog.Logger
}

// NewCalendarTransport はCalendarTransportを生成する。
func NewCalendarTransport(
	inserter EventInserter,
	tokens auth.TokenProvider,
	repo repository.ReminderRepository,
	logger *slog.Logger,
) *CalendarTransport {
	return &CalendarTransport{
		inserter: inserter,
		tokens:   tokens,
		repo:     repo,
		logger:   logger,
	}
}

// Send はリマインダーをカレンダーイベントとして登録する。
// ユーザーのリフレッシュトークンが未設定の場合は失敗を返す。
// 成功時はeventID・リンク・synced状態を、失敗時はfailed状態を永続化する。
func (t *CalendarTransport) Send(ctx context.Context, detail *model.ReminderDetail) bool {
	reminder := detail.Reminder

	if detail.Meal == nil || detail.User == nil {
		t.logger.Error("カレンダー同期に必要な関連データがありません",
			slog.String("reminder_id", reminder.ID),
			slog.Bool("has_meal", detail.Meal != nil),
			slog.Bool("has_user", detail.User != nil),
		)
		t.markFailed(ctx, reminder)
		return false
	}

	client, err := t.tokens.ClientFor(ctx, detail.User.GoogleRefreshToken)
	if err != nil {
		t.logger.Error("Google認証クライアントの生成に失敗しました",
			slog.String("reminder_id", reminder.ID),
			slog.String("user_id", detail.User.ID),
			slog.String("error", err.Error()),
		)
		t.markFailed(ctx, reminder)
		return false
	}

	event := buildCalendarEvent(detail)

	created, err := t.inserter.Insert(ctx, client, event)
	if err != nil {
		t.logger.Error("カレンダーイベントの登録に失敗しました",
			slog.String("reminder_id", reminder.ID),
			slog.String("error", err.Error()),
		)
		t.markFailed(ctx, reminder)
		return false
	}

	now := time.Now().UTC()
	if err := t.repo.UpdateCalendarSync(ctx, reminder.ID, created.Id, created.HtmlLink, model.CalendarSyncSynced, &now); err != nil {
		// イベント自体は登録済みなので配信としては成功扱いとし、帳簿の不整合のみ記録する
		t.logger.Error("カレンダー同期状態の保存に失敗しました",
			slog.String("reminder_id", reminder.ID),
			slog.String("event_id", created.Id),
			slog.String("error", err.Error()),
		)
	}

	t.logger.Info("カレンダーイベントを登録しました",
		slog.String("reminder_id", reminder.ID),
		slog.String("event_id", created.Id),
	)
	return true
}

// markFailed は同期失敗をリマインダーレコードに記録する。
// 既存のeventID・リンク・同期時刻は保持する。
func (t *CalendarTransport) markFailed(ctx context.Context, reminder *model.Reminder) {
	err := t.repo.UpdateCalendarSync(ctx, reminder.ID,
		reminder.CalendarEventID, reminder.CalendarEventLink,
		model.CalendarSyncFailed, reminder.LastSyncedAt,
	)
	if err != nil {
		t.logger.Error("カレンダー失敗状態の保存に失敗しました",
			slog.String("reminder_id", reminder.ID),
			slog.String("error", err.Error()),
		)
	}
}

// buildCalendarEvent はリマインダーからカレンダーイベントを組み立てる。
// イベントは発火時刻から1時間のUTC枠で、メール30分前・ポップアップ15分前の
// リマインド設定を持つ。
func buildCalendarEvent(detail *model.ReminderDetail) *calendar.Event {
	meal := detail.Meal
	start := detail.Reminder.ReminderTime.UTC()
	end := start.Add(time.Hour)

	var ingredients strings.Builder
	for _, name := range meal.IngredientNames() {
		fmt.Fprintf(&ingredients, "- %s\n", name)
	}

	var steps strings.Builder
	for i, step := range meal.PreparationSteps {
		fmt.Fprintf(&steps, "%d. %s\n", i+1, step.Instruction)
	}

	description := fmt.Sprintf("Time to prepare: %s\n\nIngredients:\n%s\n\nSteps:\n%s",
		meal.Name,
		strings.TrimRight(ingredients.String(), "\n"),
		strings.TrimRight(steps.String(), "\n"),
	)

	return &calendar.Event{
		Summary:     fmt.Sprintf("Meal Reminder: %s", meal.Name),
		Description: description,
		Start: &calendar.EventDateTime{
			DateTime: start.Format(time.RFC3339),
			TimeZone: "UTC",
		},
		End: &calendar.EventDateTime{
			DateTime: end.Format(time.RFC3339),
			TimeZone: "UTC",
		},
		Attendees: []*calendar.EventAttendee{
			{Email: detail.User.Email},
		},
		Reminders: &calendar.EventReminders{
			UseDefault: false,
			Overrides: []*calendar.EventReminder{
				{Method: "email", Minutes: 30},
				{Method: "popup", Minutes: 15},
			},
			ForceSendFields: []string{"UseDefault"},
		},
	}
}

// compile-time interface check
var _ Transport = (*CalendarTransport)(nil)
