package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tbabson/mealmaster-server/internal/model"
)

// PostgresReminderRepo はPostgreSQLを使用したリマインダーリポジトリ。
type PostgresReminderRepo struct {
	db *sql.DB
}

// NewPostgresReminderRepo はPostgresReminderRepoを生成する。
func NewPostgresReminderRepo(db *sql.DB) *PostgresReminderRepo {
	return &PostgresReminderRepo{db: db}
}

const reminderColumns = `id, user_id, meal_id, reminder_time, notification_method,
	        is_recurring, recurring_frequency, subscription_id, note, notified,
	        calendar_event_id, calendar_sync_status, calendar_event_link,
	        last_synced_at, created_at, updated_at`

// scanReminder は1行からReminderを読み取る。
func scanReminder(row interface {
	Scan(dest ...any) error
}) (*model.Reminder, error) {
	r := &model.Reminder{}
	var frequency, subscriptionID, eventID, eventLink sql.NullString
	var lastSyncedAt sql.NullTime

	err := row.Scan(
		&r.ID, &r.UserID, &r.MealID, &r.ReminderTime, &r.NotificationMethod,
		&r.IsRecurring, &frequency, &subscriptionID, &r.Note, &r.Notified,
		&eventID, &r.CalendarSyncStatus, &eventLink,
		&lastSyncedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.RecurringFrequency = model.RecurringFrequency(nullStringValue(frequency))
	r.SubscriptionID = nullStringValue(subscriptionID)
	r.CalendarEventID = nullStringValue(eventID)
	r.CalendarEventLink = nullStringValue(eventLink)
	if lastSyncedAt.Valid {
		t := lastSyncedAt.Time
		r.LastSyncedAt = &t
	}
	// DBはUTCで保存するが、ドライバのセッションタイムゾーンに依存しないよう明示する
	r.ReminderTime = r.ReminderTime.UTC()

	return r, nil
}

// FindByID は指定IDのリマインダーを取得する。見つからない場合はnilを返す。
func (r *PostgresReminderRepo) FindByID(ctx context.Context, id string) (*model.Reminder, error) {
	reminder, err := scanReminder(r.db.QueryRowContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("リマインダーの取得に失敗しました: %w", err)
	}
	return reminder, nil
}

// FindDetailByID はリマインダーと関連データを結合して取得する。
// リマインダー本体が存在しない場合はnilを返す。参照先（食事・ユーザー・購読）が
// 削除済みの場合は該当フィールドをnilのままにし、判断はトランスポート側に委ねる。
func (r *PostgresReminderRepo) FindDetailByID(ctx context.Context, id string) (*model.ReminderDetail, error) {
	reminder, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if reminder == nil {
		return nil, nil
	}

	detail := &model.ReminderDetail{Reminder: reminder}

	mealRepo := NewPostgresMealRepo(r.db)
	detail.Meal, err = mealRepo.FindByID(ctx, reminder.MealID)
	if err != nil {
		return nil, fmt.Errorf("関連する食事の取得に失敗しました: %w", err)
	}

	userRepo := NewPostgresUserRepo(r.db)
	detail.User, err = userRepo.FindByID(ctx, reminder.UserID)
	if err != nil {
		return nil, fmt.Errorf("関連するユーザーの取得に失敗しました: %w", err)
	}

	if reminder.SubscriptionID != "" {
		subRepo := NewPostgresPushSubscriptionRepo(r.db)
		detail.Subscription, err = subRepo.FindByID(ctx, reminder.SubscriptionID)
		if err != nil {
			return nil, fmt.Errorf("関連するプッシュ購読の取得に失敗しました: %w", err)
		}
	}

	return detail, nil
}

// ListByUserID はユーザーのリマインダー一覧をreminder_time昇順で返す。
func (r *PostgresReminderRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Reminder, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE user_id = $1 ORDER BY reminder_time ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("リマインダー一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectReminders(rows)
}

// ListUnnotified はnotified=falseの全リマインダーを返す。
func (r *PostgresReminderRepo) ListUnnotified(ctx context.Context) ([]*model.Reminder, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE notified = false ORDER BY reminder_time ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("未通知リマインダーの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectReminders(rows)
}

func collectReminders(rows *sql.Rows) ([]*model.Reminder, error) {
	var reminders []*model.Reminder
	for rows.Next() {
		reminder, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("リマインダーの読み取りに失敗しました: %w", err)
		}
		reminders = append(reminders, reminder)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("リマインダーの走査に失敗しました: %w", err)
	}
	return reminders, nil
}

// Create はリマインダーを作成する。
func (r *PostgresReminderRepo) Create(ctx context.Context, reminder *model.Reminder) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO reminders (id, user_id, meal_id, reminder_time, notification_method,
		                        is_recurring, recurring_frequency, subscription_id, note, notified,
		                        calendar_event_id, calendar_sync_status, calendar_event_link,
		                        last_synced_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		reminder.ID, reminder.UserID, reminder.MealID, reminder.ReminderTime.UTC(),
		reminder.NotificationMethod, reminder.IsRecurring,
		nullString(string(reminder.RecurringFrequency)), nullString(reminder.SubscriptionID),
		reminder.Note, reminder.Notified,
		nullString(reminder.CalendarEventID), reminder.CalendarSyncStatus,
		nullString(reminder.CalendarEventLink), nullTime(reminder.LastSyncedAt),
		reminder.CreatedAt, reminder.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("リマインダーの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はリマインダー全体を上書き更新する。last-write-wins。
func (r *PostgresReminderRepo) Update(ctx context.Context, reminder *model.Reminder) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE reminders SET
		    reminder_time = $2, notification_method = $3, is_recurring = $4,
		    recurring_frequency = $5, subscription_id = $6, note = $7, notified = $8,
		    calendar_event_id = $9, calendar_sync_status = $10, calendar_event_link = $11,
		    last_synced_at = $12, updated_at = now()
		 WHERE id = $1`,
		reminder.ID, reminder.ReminderTime.UTC(), reminder.NotificationMethod,
		reminder.IsRecurring, nullString(string(reminder.RecurringFrequency)),
		nullString(reminder.SubscriptionID), reminder.Note, reminder.Notified,
		nullString(reminder.CalendarEventID), reminder.CalendarSyncStatus,
		nullString(reminder.CalendarEventLink), nullTime(reminder.LastSyncedAt),
	)
	if err != nil {
		return fmt.Errorf("リマインダーの更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateCalendarSync はカレンダー同期のブックキーピングのみを更新する。
func (r *PostgresReminderRepo) UpdateCalendarSync(ctx context.Context, id string, eventID, eventLink string, status model.CalendarSyncStatus, syncedAt *time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE reminders SET
		    calendar_event_id = $2, calendar_event_link = $3,
		    calendar_sync_status = $4, last_synced_at = $5, updated_at = now()
		 WHERE id = $1`,
		id, nullString(eventID), nullString(eventLink), status, nullTime(syncedAt),
	)
	if err != nil {
		return fmt.Errorf("カレンダー同期状態の更新に失敗しました: %w", err)
	}
	return nil
}

// Delete は指定IDのリマインダーを削除する。
func (r *PostgresReminderRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("リマインダーの削除に失敗しました: %w", err)
	}
	return nil
}

// DeleteNotifiedBefore は終端状態のリマインダーのうち、指定時刻より前に
// 更新されたものを削除する。
func (r *PostgresReminderRepo) DeleteNotifiedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM reminders
		 WHERE notified = true AND is_recurring = false AND updated_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("終端リマインダーの削除に失敗しました: %w", err)
	}
	return result.RowsAffected()
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullTime は*time.Timeをsql.NullTimeに変換する。
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// compile-time interface check
var _ ReminderRepository = (*PostgresReminderRepo)(nil)
