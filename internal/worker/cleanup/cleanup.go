// Package cleanup は終端データの自動削除ジョブを提供する。
// 有効期限切れのセッションと、保持期間を超過した終端状態
// （通知済みかつ非繰り返し）のリマインダーを日次バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tbabson/mealmaster-server/internal/metrics"
	"github.com/tbabson/mealmaster-server/internal/repository"
)

// CleanupJob は終端データの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	reminders repository.ReminderRepository
	sessions  repository.SessionRepository
	collector metrics.MetricsCollector
	logger    *slog.Logger

	// Retention は終端リマインダーの保持期間（デフォルト: 30日）
	Retention time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(
	reminders repository.ReminderRepository,
	sessions repository.SessionRepository,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *CleanupJob {
	return &CleanupJob{
		reminders: reminders,
		sessions:  sessions,
		collector: collector,
		logger:    logger,
		Retention: 30 * 24 * time.Hour,
	}
}

// Run は期限切れセッションと終端リマインダーを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
// セッション削除の失敗はリマインダー削除を妨げない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	now := start.UTC()

	sessionCount, sessionErr := j.sessions.DeleteExpired(ctx, now)
	if sessionErr != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", sessionErr.Error()),
		)
	}

	cutoff := now.Add(-j.Retention)
	reminderCount, reminderErr := j.reminders.DeleteNotifiedBefore(ctx, cutoff)
	if reminderErr != nil {
		j.logger.Error("終端リマインダーの削除に失敗しました",
			slog.String("error", reminderErr.Error()),
			slog.Time("cutoff", cutoff),
		)
	} else {
		j.collector.RecordCleanupDeleted(reminderCount)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", sessionCount),
		slog.Int64("deleted_reminders", reminderCount),
		slog.Duration("elapsed", time.Since(start)),
	)

	if sessionErr != nil || reminderErr != nil {
		return fmt.Errorf("クリーンアップの一部が失敗しました: sessions=%v reminders=%v", sessionErr, reminderErr)
	}
	return nil
}
