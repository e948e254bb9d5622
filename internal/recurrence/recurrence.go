// Package recurrence はリマインダーの次回発火時刻を計算する純粋関数を提供する。
// I/Oや副作用を持たず、単体でテスト可能な形に保つ。
package recurrence

import (
	"time"

	"github.com/tbabson/mealmaster-server/internal/model"
)

// Next は現在の発火時刻と周期から次回の発火時刻を計算する。
// 周期が未知の値の場合は ok=false を返し、繰り返しの終了を示す。
//
// 計算規則:
//   - daily:   暦日で+1日（固定24時間ではなく日付演算）
//   - weekly:  暦日で+7日
//   - monthly: 月を+1。日付が翌月に存在しない場合は翌月の末日に丸める
//     （例: 1月31日 → 2月28日/29日）。丸め規則は決定的である。
func Next(t time.Time, frequency model.RecurringFrequency) (time.Time, bool) {
	switch frequency {
	case model.FrequencyDaily:
		return t.AddDate(0, 0, 1), true
	case model.FrequencyWeekly:
		return t.AddDate(0, 0, 7), true
	case model.FrequencyMonthly:
		return addMonthClamped(t), true
	default:
		return time.Time{}, false
	}
}

// addMonthClamped は月を+1し、日付が溢れる場合は翌月末日に丸める。
// GoのAddDate(0, 1, 0)は溢れた日数を翌々月に正規化してしまうため
// （1月31日 → 3月3日）、ここでは明示的に末日へ丸める。
func addMonthClamped(t time.Time) time.Time {
	year, month, day := t.Date()
	// 翌月1日から末日を求める
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, t.Location())
	lastDay := firstOfNext.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	hour, min, sec := t.Clock()
	return time.Date(firstOfNext.Year(), firstOfNext.Month(), day, hour, min, sec, t.Nanosecond(), t.Location())
}
