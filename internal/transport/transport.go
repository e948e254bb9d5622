// Package transport はリマインダー通知の配信機能を提供する。
//
// 各トランスポート（メール・プッシュ・カレンダー）はSendの成否をbool値で返し、
// エラーを呼び出し元へ伝播させない。配信失敗はログとメトリクスに記録され、
// リマインダーの状態遷移はスケジューラ側の責務となる。
package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/tbabson/mealmaster-server/internal/metrics"
	"github.com/tbabson/mealmaster-server/internal/model"
)

// Transport は通知配信のインターフェース。
// Sendは配信の成否を返す。パニックやエラーの伝播は行わない。
type Transport interface {
	Send(ctx context.Context, detail *model.ReminderDetail) bool
}

// Dispatcher は通知方法別にトランスポートを選択して配信する。
type Dispatcher struct {
	transports map[model.NotificationMethod]Transport
	collector  metrics.MetricsCollector
	logger     *slog.Logger
}

// NewDispatcher はDispatcherを生成する。
func NewDispatcher(
	email Transport,
	push Transport,
	calendar Transport,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		transports: map[model.NotificationMethod]Transport{
			model.NotificationMethodEmail:    email,
			model.NotificationMethodPush:     push,
			model.NotificationMethodCalendar: calendar,
		},
		collector: collector,
		logger:    logger,
	}
}

// Dispatch はリマインダーの通知方法に対応するトランスポートで配信する。
// 未知の通知方法は失敗として扱い、状態変更は行わない。
func (d *Dispatcher) Dispatch(ctx context.Context, detail *model.ReminderDetail) bool {
	method := detail.Reminder.NotificationMethod

	t, ok := d.transports[method]
	if !ok {
		d.logger.Error("未知の通知方法です",
			slog.String("reminder_id", detail.Reminder.ID),
			slog.String("method", string(method)),
		)
		d.collector.RecordSendFailure(string(method))
		return false
	}

	start := time.Now()
	sent := t.Send(ctx, detail)
	d.collector.RecordSendLatency(string(method), time.Since(start))

	if sent {
		d.collector.RecordSendSuccess(string(method))
	} else {
		d.collector.RecordSendFailure(string(method))
	}
	return sent
}
