package reminder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/tbabson/mealmaster-server/internal/model"
	"github.com/tbabson/mealmaster-server/internal/security"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// mockReminderRepo はReminderRepositoryのテスト用実装。
type mockReminderRepo struct {
	findByIDFunc func(ctx context.Context, id string) (*model.Reminder, error)
	listFunc     func(ctx context.Context, userID string) ([]*model.Reminder, error)
	createFunc   func(ctx context.Context, r *model.Reminder) error
	updateFunc   func(ctx context.Context, r *model.Reminder) error
	deleteFunc   func(ctx context.Context, id string) error

	created []*model.Reminder
	updated []*model.Reminder
	deleted []string
}

func (m *mockReminderRepo) FindByID(ctx context.Context, id string) (*model.Reminder, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, nil
}
func (m *mockReminderRepo) FindDetailByID(ctx context.Context, id string) (*model.ReminderDetail, error) {
	return nil, nil
}
func (m *mockReminderRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Reminder, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, userID)
	}
	return nil, nil
}
func (m *mockReminderRepo) ListUnnotified(ctx context.Context) ([]*model.Reminder, error) {
	return nil, nil
}
func (m *mockReminderRepo) Create(ctx context.Context, r *model.Reminder) error {
	m.created = append(m.created, r)
	if m.createFunc != nil {
		return m.createFunc(ctx, r)
	}
	return nil
}
func (m *mockReminderRepo) Update(ctx context.Context, r *model.Reminder) error {
	m.updated = append(m.updated, r)
	if m.updateFunc != nil {
		return m.updateFunc(ctx, r)
	}
	return nil
}
func (m *mockReminderRepo) UpdateCalendarSync(ctx context.Context, id string, eventID, eventLink string, status model.CalendarSyncStatus, syncedAt *time.Time) error {
	return nil
}
func (m *mockReminderRepo) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, id)
	}
	return nil
}
func (m *mockReminderRepo) DeleteNotifiedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// mockSubscriptionRepo はPushSubscriptionRepositoryのテスト用実装。
type mockSubscriptionRepo struct {
	findByIDFunc func(ctx context.Context, id string) (*model.PushSubscription, error)
	created      []*model.PushSubscription
}

func (m *mockSubscriptionRepo) FindByID(ctx context.Context, id string) (*model.PushSubscription, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, nil
}
func (m *mockSubscriptionRepo) Create(ctx context.Context, sub *model.PushSubscription) error {
	m.created = append(m.created, sub)
	return nil
}
func (m *mockSubscriptionRepo) ListByUserID(ctx context.Context, userID string) ([]*model.PushSubscription, error) {
	return nil, nil
}

// mockMealRepo はMealRepositoryのテスト用実装。
type mockMealRepo struct {
	findByIDFunc func(ctx context.Context, id string) (*model.Meal, error)
}

func (m *mockMealRepo) FindByID(ctx context.Context, id string) (*model.Meal, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return &model.Meal{ID: id, Name: "Test Meal"}, nil
}

// mockUserRepo はUserRepositoryのテスト用実装。
type mockUserRepo struct {
	findByIDFunc func(ctx context.Context, id string) (*model.User, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return &model.User{ID: id, Email: "user@example.com", FullName: "Test User"}, nil
}

// mockTimers はTimerRegistryのテスト用実装。
type mockTimers struct {
	registered []*model.Reminder
	replaced   []*model.Reminder
	cancelled  []string
}

func (m *mockTimers) Register(r *model.Reminder) { m.registered = append(m.registered, r) }
func (m *mockTimers) Replace(r *model.Reminder)  { m.replaced = append(m.replaced, r) }
func (m *mockTimers) Cancel(id string)           { m.cancelled = append(m.cancelled, id) }

// mockGuard はEndpointGuardServiceのテスト用実装。
type mockGuard struct {
	validateFunc func(rawURL string) error
}

func (m *mockGuard) NewSafeClient(timeout time.Duration) *http.Client { return http.DefaultClient }
func (m *mockGuard) ValidateEndpoint(rawURL string) error {
	if m.validateFunc != nil {
		return m.validateFunc(rawURL)
	}
	return nil
}

// fixture はテスト用のServiceと依存モック一式。
type fixture struct {
	service       *Service
	reminders     *mockReminderRepo
	subscriptions *mockSubscriptionRepo
	meals         *mockMealRepo
	users         *mockUserRepo
	timers        *mockTimers
	guard         *mockGuard
}

func newFixture() *fixture {
	f := &fixture{
		reminders:     &mockReminderRepo{},
		subscriptions: &mockSubscriptionRepo{},
		meals:         &mockMealRepo{},
		users:         &mockUserRepo{},
		timers:        &mockTimers{},
		guard:         &mockGuard{},
	}
	f.service = NewService(
		f.reminders, f.subscriptions, f.meals, f.users,
		f.timers, f.guard, security.NewNoteSanitizer(), testLogger(),
	)
	return f
}

func validCreateInput() CreateInput {
	return CreateInput{
		MealID:             "meal-1",
		ReminderTime:       "2026-09-01T18:00:00+09:00",
		NotificationMethod: "email",
		Note:               "下ごしらえを忘れずに",
	}
}

// assertAPIError はAPIErrorのコードを検証するテストヘルパー。
func assertAPIError(t *testing.T, err error, wantCode string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want APIError", err)
	}
	if apiErr.Code != wantCode {
		t.Errorf("code = %q, want %q", apiErr.Code, wantCode)
	}
}

// TestCreate_Success_NormalizesToUTC は作成成功時にUTC正規化・永続化・
// タイマー登録が行われることを検証する。
func TestCreate_Success_NormalizesToUTC(t *testing.T) {
	f := newFixture()

	reminder, err := f.service.Create(context.Background(), "user-1", validCreateInput())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	// +09:00の18:00はUTCの09:00
	want := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	if !reminder.ReminderTime.Equal(want) {
		t.Errorf("reminder_time = %v, want %v", reminder.ReminderTime, want)
	}
	if reminder.ReminderTime.Location() != time.UTC {
		t.Error("reminder_time should be stored in UTC")
	}
	if reminder.Notified {
		t.Error("new reminder should be unnotified")
	}
	if reminder.CalendarSyncStatus != model.CalendarSyncNotApplicable {
		t.Errorf("sync status = %q", reminder.CalendarSyncStatus)
	}

	if len(f.reminders.created) != 1 {
		t.Fatalf("created = %d, want 1", len(f.reminders.created))
	}
	if len(f.timers.registered) != 1 || f.timers.registered[0].ID != reminder.ID {
		t.Error("timer should be registered for the new reminder")
	}
}

// TestCreate_UnknownMeal は存在しない食事IDで何も永続化されないことを検証する。
func TestCreate_UnknownMeal(t *testing.T) {
	f := newFixture()
	f.meals.findByIDFunc = func(ctx context.Context, id string) (*model.Meal, error) {
		return nil, nil
	}

	_, err := f.service.Create(context.Background(), "user-1", validCreateInput())
	assertAPIError(t, err, model.ErrCodeMealNotFound)

	if len(f.reminders.created) != 0 {
		t.Error("nothing should be persisted")
	}
	if len(f.timers.registered) != 0 {
		t.Error("no timer should be registered")
	}
}

// TestCreate_InvalidMethod は未知の通知チャネルが拒否されることを検証する。
func TestCreate_InvalidMethod(t *testing.T) {
	f := newFixture()

	input := validCreateInput()
	input.NotificationMethod = "sms"

	_, err := f.service.Create(context.Background(), "user-1", input)
	assertAPIError(t, err, model.ErrCodeInvalidMethod)
}

// TestCreate_InvalidFrequency は繰り返し指定時の不正な周期が拒否されることを検証する。
func TestCreate_InvalidFrequency(t *testing.T) {
	f := newFixture()

	input := validCreateInput()
	input.IsRecurring = true
	input.RecurringFrequency = "yearly"

	_, err := f.service.Create(context.Background(), "user-1", input)
	assertAPIError(t, err, model.ErrCodeInvalidFrequency)
}

// TestCreate_InvalidTime はRFC3339でない時刻が拒否されることを検証する。
func TestCreate_InvalidTime(t *testing.T) {
	f := newFixture()

	for _, value := range []string{"", "2026/09/01 18:00", "tomorrow"} {
		input := validCreateInput()
		input.ReminderTime = value

		_, err := f.service.Create(context.Background(), "user-1", input)
		assertAPIError(t, err, model.ErrCodeInvalidReminderTime)
	}
}

// TestCreate_NoteTooLong は上限超過のメモが拒否されることを検証する。
func TestCreate_NoteTooLong(t *testing.T) {
	f := newFixture()

	input := validCreateInput()
	input.Note = strings.Repeat("あ", model.MaxNoteLength+1)

	_, err := f.service.Create(context.Background(), "user-1", input)
	assertAPIError(t, err, model.ErrCodeNoteTooLong)
}

// TestCreate_NoteSanitized はメモのタグが保存前に除去されることを検証する。
func TestCreate_NoteSanitized(t *testing.T) {
	f := newFixture()

	input := validCreateInput()
	input.Note = `<script>alert('x')</script>材料を買っておく`

	reminder, err := f.service.Create(context.Background(), "user-1", input)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if reminder.Note != "材料を買っておく" {
		t.Errorf("note = %q, want sanitized text", reminder.Note)
	}
}

// TestCreate_Push_InlineSubscription はインライン購読が保存され
// リマインダーに紐づくことを検証する。
func TestCreate_Push_InlineSubscription(t *testing.T) {
	f := newFixture()

	input := validCreateInput()
	input.NotificationMethod = "push"
	input.Subscription = &SubscriptionInput{
		Endpoint: "https://fcm.googleapis.com/fcm/send/abc",
		P256dh:   "p256dh-key",
		Auth:     "auth-secret",
	}

	reminder, err := f.service.Create(context.Background(), "user-1", input)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if len(f.subscriptions.created) != 1 {
		t.Fatalf("subscriptions created = %d, want 1", len(f.subscriptions.created))
	}
	if reminder.SubscriptionID != f.subscriptions.created[0].ID {
		t.Error("reminder should reference the stored subscription")
	}
}

// TestCreate_Push_IncompleteSubscription は鍵の欠けた購読が拒否されることを検証する。
func TestCreate_Push_IncompleteSubscription(t *testing.T) {
	f := newFixture()

	tests := []struct {
		name string
		sub  *SubscriptionInput
	}{
		{"購読なし", nil},
		{"auth欠落", &SubscriptionInput{Endpoint: "https://push.example.com/x", P256dh: "key"}},
		{"p256dh欠落", &SubscriptionInput{Endpoint: "https://push.example.com/x", Auth: "secret"}},
		{"endpoint欠落", &SubscriptionInput{P256dh: "key", Auth: "secret"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := validCreateInput()
			input.NotificationMethod = "push"
			input.Subscription = tt.sub

			_, err := f.service.Create(context.Background(), "user-1", input)
			assertAPIError(t, err, model.ErrCodeIncompleteSubscription)
		})
	}

	if len(f.subscriptions.created) != 0 {
		t.Error("no subscription should be persisted")
	}
}

// TestCreate_Push_BlockedEndpoint は危険なエンドポイントが拒否されることを検証する。
func TestCreate_Push_BlockedEndpoint(t *testing.T) {
	f := newFixture()
	f.guard.validateFunc = func(rawURL string) error {
		return errors.New("blocked IP address")
	}

	input := validCreateInput()
	input.NotificationMethod = "push"
	input.Subscription = &SubscriptionInput{
		Endpoint: "https://169.254.169.254/latest/meta-data/",
		P256dh:   "key",
		Auth:     "secret",
	}

	_, err := f.service.Create(context.Background(), "user-1", input)
	assertAPIError(t, err, model.ErrCodeEndpointBlocked)

	if len(f.subscriptions.created) != 0 {
		t.Error("no subscription should be persisted")
	}
}

// TestCreate_Calendar_SetsPendingStatus はカレンダー通知の初期状態が
// pendingになることを検証する。
func TestCreate_Calendar_SetsPendingStatus(t *testing.T) {
	f := newFixture()

	input := validCreateInput()
	input.NotificationMethod = "calendar"

	reminder, err := f.service.Create(context.Background(), "user-1", input)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if reminder.CalendarSyncStatus != model.CalendarSyncPending {
		t.Errorf("sync status = %q, want %q", reminder.CalendarSyncStatus, model.CalendarSyncPending)
	}
}

// TestGet_OwnershipEnforced は他ユーザーのリマインダーが見えないことを検証する。
func TestGet_OwnershipEnforced(t *testing.T) {
	f := newFixture()
	f.reminders.findByIDFunc = func(ctx context.Context, id string) (*model.Reminder, error) {
		return &model.Reminder{ID: id, UserID: "someone-else"}, nil
	}

	_, err := f.service.Get(context.Background(), "user-1", "reminder-1")
	assertAPIError(t, err, model.ErrCodeReminderNotFound)
}

// TestGet_PopulatesMeal は取得結果に食事が同梱されることを検証する。
func TestGet_PopulatesMeal(t *testing.T) {
	f := newFixture()
	f.reminders.findByIDFunc = func(ctx context.Context, id string) (*model.Reminder, error) {
		return &model.Reminder{ID: id, UserID: "user-1", MealID: "meal-1"}, nil
	}
	f.meals.findByIDFunc = func(ctx context.Context, id string) (*model.Meal, error) {
		return &model.Meal{ID: id, Name: "Jollof Rice"}, nil
	}

	got, err := f.service.Get(context.Background(), "user-1", "reminder-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Meal == nil || got.Meal.Name != "Jollof Rice" {
		t.Errorf("Meal = %+v, want Jollof Rice", got.Meal)
	}
}

// TestList_PopulatesMeals は一覧の各リマインダーに食事が同梱され、
// 同一食事の取得が1回にまとめられることを検証する。
func TestList_PopulatesMeals(t *testing.T) {
	f := newFixture()
	f.reminders.listFunc = func(ctx context.Context, userID string) ([]*model.Reminder, error) {
		return []*model.Reminder{
			{ID: "reminder-1", UserID: userID, MealID: "meal-1"},
			{ID: "reminder-2", UserID: userID, MealID: "meal-1"},
		}, nil
	}
	mealLookups := 0
	f.meals.findByIDFunc = func(ctx context.Context, id string) (*model.Meal, error) {
		mealLookups++
		return &model.Meal{ID: id, Name: "Jollof Rice"}, nil
	}

	got, err := f.service.List(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	for _, item := range got {
		if item.Meal == nil || item.Meal.Name != "Jollof Rice" {
			t.Errorf("Meal = %+v, want Jollof Rice", item.Meal)
		}
	}
	if mealLookups != 1 {
		t.Errorf("meal lookups = %d, want 1", mealLookups)
	}
}

// TestUpdate_TimeChange_ReplacesTimer は時刻変更で再発火対象になり
// タイマーが置き換えられることを検証する。
func TestUpdate_TimeChange_ReplacesTimer(t *testing.T) {
	f := newFixture()
	f.reminders.findByIDFunc = func(ctx context.Context, id string) (*model.Reminder, error) {
		return &model.Reminder{
			ID:                 id,
			UserID:             "user-1",
			MealID:             "meal-1",
			ReminderTime:       time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
			NotificationMethod: model.NotificationMethodEmail,
			Notified:           true,
			CalendarSyncStatus: model.CalendarSyncNotApplicable,
		}, nil
	}

	newTime := "2026-10-01T12:00:00Z"
	updated, err := f.service.Update(context.Background(), "user-1", "reminder-1", UpdateInput{
		ReminderTime: &newTime,
	})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	if updated.Notified {
		t.Error("rescheduled reminder should become unnotified")
	}
	want := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	if !updated.ReminderTime.Equal(want) {
		t.Errorf("reminder_time = %v, want %v", updated.ReminderTime, want)
	}
	if len(f.timers.replaced) != 1 {
		t.Errorf("replaced timers = %d, want 1", len(f.timers.replaced))
	}
	if len(f.reminders.updated) != 1 {
		t.Errorf("updates = %d, want 1", len(f.reminders.updated))
	}
}

// TestUpdate_NoteOnly_NotifiedReminder_DoesNotRearm は発火済み非繰り返し
// リマインダーのメモのみ更新で通知が再送されないことを検証する。
func TestUpdate_NoteOnly_NotifiedReminder_DoesNotRearm(t *testing.T) {
	f := newFixture()
	f.reminders.findByIDFunc = func(ctx context.Context, id string) (*model.Reminder, error) {
		return &model.Reminder{
			ID:                 id,
			UserID:             "user-1",
			MealID:             "meal-1",
			ReminderTime:       time.Now().UTC().Add(-1 * time.Hour),
			NotificationMethod: model.NotificationMethodEmail,
			Notified:           true,
			CalendarSyncStatus: model.CalendarSyncNotApplicable,
		}, nil
	}

	note := "買い忘れに注意"
	updated, err := f.service.Update(context.Background(), "user-1", "reminder-1", UpdateInput{
		Note: &note,
	})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	if !updated.Notified {
		t.Error("note-only update should keep the reminder notified")
	}
	if len(f.timers.replaced) != 0 {
		t.Errorf("replaced timers = %d, want 0", len(f.timers.replaced))
	}
	if len(f.timers.cancelled) != 1 || f.timers.cancelled[0] != "reminder-1" {
		t.Errorf("cancelled = %v, want [reminder-1]", f.timers.cancelled)
	}
	if len(f.reminders.updated) != 1 {
		t.Errorf("updates = %d, want 1", len(f.reminders.updated))
	}
}

// TestUpdate_SwitchToPush_RequiresSubscription はpushへの切り替え時に
// 購読検証が行われることを検証する。
func TestUpdate_SwitchToPush_RequiresSubscription(t *testing.T) {
	f := newFixture()
	f.reminders.findByIDFunc = func(ctx context.Context, id string) (*model.Reminder, error) {
		return &model.Reminder{
			ID:                 id,
			UserID:             "user-1",
			NotificationMethod: model.NotificationMethodEmail,
			CalendarSyncStatus: model.CalendarSyncNotApplicable,
		}, nil
	}

	method := "push"
	_, err := f.service.Update(context.Background(), "user-1", "reminder-1", UpdateInput{
		NotificationMethod: &method,
	})
	assertAPIError(t, err, model.ErrCodeIncompleteSubscription)

	if len(f.timers.replaced) != 0 {
		t.Error("no timer should be replaced on validation failure")
	}
}

// TestDelete_CancelsTimer は削除でタイマーが解除されることを検証する。
func TestDelete_CancelsTimer(t *testing.T) {
	f := newFixture()
	f.reminders.findByIDFunc = func(ctx context.Context, id string) (*model.Reminder, error) {
		return &model.Reminder{ID: id, UserID: "user-1"}, nil
	}

	if err := f.service.Delete(context.Background(), "user-1", "reminder-1"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}

	if len(f.reminders.deleted) != 1 || f.reminders.deleted[0] != "reminder-1" {
		t.Errorf("deleted = %v", f.reminders.deleted)
	}
	if len(f.timers.cancelled) != 1 || f.timers.cancelled[0] != "reminder-1" {
		t.Errorf("cancelled = %v", f.timers.cancelled)
	}
}

// TestDelete_NotFound は存在しないリマインダーの削除が拒否されることを検証する。
func TestDelete_NotFound(t *testing.T) {
	f := newFixture()

	err := f.service.Delete(context.Background(), "user-1", "missing")
	assertAPIError(t, err, model.ErrCodeReminderNotFound)

	if len(f.timers.cancelled) != 0 {
		t.Error("no timer should be cancelled")
	}
}
