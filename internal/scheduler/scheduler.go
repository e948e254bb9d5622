// Package scheduler はリマインダーの発火タイミングを管理する。
//
// リマインダーごとに1つのtime.Timerを保持し、発火時刻（UTC）に一度だけ
// コールバックを実行する。発火処理はストアからの再読込を起点とし、登録時の
// クロージャ状態に依存しない。繰り返しリマインダーは発火成功後に次回時刻を
// 計算して自身を再登録する。
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tbabson/mealmaster-server/internal/metrics"
	"github.com/tbabson/mealmaster-server/internal/model"
	"github.com/tbabson/mealmaster-server/internal/recurrence"
	"github.com/tbabson/mealmaster-server/internal/repository"
	"github.com/tbabson/mealmaster-server/internal/transport"
)

// Dispatcher は通知配信のインターフェース。transport.Dispatcherが実装する。
type Dispatcher interface {
	Dispatch(ctx context.Context, detail *model.ReminderDetail) bool
}

// Scheduler はリマインダーIDごとのワンショットタイマーを管理する。
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer

	repo       repository.ReminderRepository
	dispatcher Dispatcher
	collector  metrics.MetricsCollector
	logger     *slog.Logger

	// now はテスト時に差し替え可能な現在時刻の供給源
	now func() time.Time
}

// New はSchedulerを生成する。
func New(
	repo repository.ReminderRepository,
	dispatcher Dispatcher,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		timers:     make(map[string]*time.Timer),
		repo:       repo,
		dispatcher: dispatcher,
		collector:  collector,
		logger:     logger,
		now:        time.Now,
	}
}

// Register はリマインダーのタイマーを登録する。
// 発火時刻が過去の場合は直ちに発火する（at-least-once）。
// 同一IDのタイマーが既に存在する場合は置き換える。
// 終端状態のリマインダーは登録しない。
func (s *Scheduler) Register(reminder *model.Reminder) {
	if reminder.Terminal() {
		return
	}

	due := reminder.ReminderTime.UTC()
	delay := due.Sub(s.now().UTC())

	s.mu.Lock()
	if existing, ok := s.timers[reminder.ID]; ok {
		existing.Stop()
	}
	id := reminder.ID
	s.timers[id] = time.AfterFunc(max(delay, 0), func() {
		s.fire(id)
	})
	count := len(s.timers)
	s.mu.Unlock()

	s.collector.SetActiveTimers(count)
	s.logger.Info("リマインダータイマーを登録しました",
		slog.String("reminder_id", id),
		slog.Time("due", due),
	)
}

// Cancel は指定リマインダーのタイマーを解除する。
// タイマーが存在しない場合は何もしない。
func (s *Scheduler) Cancel(reminderID string) {
	s.mu.Lock()
	timer, ok := s.timers[reminderID]
	if ok {
		timer.Stop()
		delete(s.timers, reminderID)
	}
	count := len(s.timers)
	s.mu.Unlock()

	if ok {
		s.collector.SetActiveTimers(count)
		s.logger.Info("リマインダータイマーを解除しました",
			slog.String("reminder_id", reminderID),
		)
	}
}

// Replace は既存タイマーを解除して新しい内容で再登録する。
// リマインダー更新時に使用する。
func (s *Scheduler) Replace(reminder *model.Reminder) {
	s.Cancel(reminder.ID)
	s.Register(reminder)
}

// Stop は登録済みの全タイマーを解除する。シャットダウン時に使用する。
// 実行中の発火コールバックの完了は待たない。
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.collector.SetActiveTimers(0)
	s.logger.Info("全リマインダータイマーを解除しました")
}

// ActiveCount は現在登録されているタイマー数を返す。
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// RecoverAll は未通知のリマインダーをすべて再登録する。
// プロセス再起動後のタイマー復元に使用する。過去時刻のものは即時発火する。
func (s *Scheduler) RecoverAll(ctx context.Context) error {
	reminders, err := s.repo.ListUnnotified(ctx)
	if err != nil {
		return err
	}

	for _, reminder := range reminders {
		s.Register(reminder)
	}

	s.collector.RecordRecoveredTimers(len(reminders))
	s.logger.Info("未通知リマインダーのタイマーを復元しました",
		slog.Int("count", len(reminders)),
	)
	return nil
}

// fire はタイマー満了時の発火処理を実行する。
//
// ストアから関連データ込みで再読込し、配信に成功した場合のみ状態を更新する:
//   - 繰り返しかつ周期が有効: 次回時刻を計算してnotified=falseのまま再登録
//   - 繰り返しだが周期が不正: 繰り返しを解除して終端化
//   - 単発: notified=trueで終端化
//
// 配信失敗時は状態を変更しない。レコードが消えている場合や
// 既に終端化されている場合は何もしない。
func (s *Scheduler) fire(reminderID string) {
	ctx := context.Background()

	s.mu.Lock()
	delete(s.timers, reminderID)
	count := len(s.timers)
	s.mu.Unlock()
	s.collector.SetActiveTimers(count)

	detail, err := s.repo.FindDetailByID(ctx, reminderID)
	if err != nil {
		s.logger.Error("発火時のリマインダー再読込に失敗しました",
			slog.String("reminder_id", reminderID),
			slog.String("error", err.Error()),
		)
		return
	}
	if detail == nil {
		// 登録後に削除されたリマインダー。正常系として扱う。
		s.logger.Info("発火対象のリマインダーは削除済みです",
			slog.String("reminder_id", reminderID),
		)
		return
	}

	if detail.Reminder.Terminal() {
		// タイマー満了と並行する更新で既に終端化されている
		s.logger.Info("発火対象のリマインダーは終端状態です",
			slog.String("reminder_id", reminderID),
		)
		return
	}

	sent := s.dispatcher.Dispatch(ctx, detail)
	if !sent {
		s.logger.Warn("通知配信に失敗したため状態を変更しません",
			slog.String("reminder_id", reminderID),
			slog.String("method", string(detail.Reminder.NotificationMethod)),
		)
		return
	}

	s.advance(ctx, reminderID)
}

// advance は配信成功後の状態遷移を適用する。
// 配信中の並行更新を取り込むため、書き込み前に最新レコードを再取得する。
func (s *Scheduler) advance(ctx context.Context, reminderID string) {
	reminder, err := s.repo.FindByID(ctx, reminderID)
	if err != nil {
		s.logger.Error("状態遷移前の再読込に失敗しました",
			slog.String("reminder_id", reminderID),
			slog.String("error", err.Error()),
		)
		return
	}
	if reminder == nil {
		return
	}

	if reminder.IsRecurring && reminder.RecurringFrequency != "" {
		next, ok := recurrence.Next(reminder.ReminderTime, reminder.RecurringFrequency)
		if ok {
			reminder.ReminderTime = next
			reminder.Notified = false
			if err := s.repo.Update(ctx, reminder); err != nil {
				s.logger.Error("次回発火時刻の保存に失敗しました",
					slog.String("reminder_id", reminderID),
					slog.String("error", err.Error()),
				)
				return
			}
			s.Register(reminder)
			return
		}

		// 不正な周期の繰り返しは再発火させず終端化する
		reminder.IsRecurring = false
		reminder.Notified = true
		if err := s.repo.Update(ctx, reminder); err != nil {
			s.logger.Error("不正周期リマインダーの終端化に失敗しました",
				slog.String("reminder_id", reminderID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	reminder.Notified = true
	if err := s.repo.Update(ctx, reminder); err != nil {
		s.logger.Error("通知済み状態の保存に失敗しました",
			slog.String("reminder_id", reminderID),
			slog.String("error", err.Error()),
		)
	}
}

// compile-time interface check
var _ Dispatcher = (*transport.Dispatcher)(nil)
