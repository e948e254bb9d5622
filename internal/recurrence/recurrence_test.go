package recurrence

import (
	"testing"
	"time"

	"github.com/tbabson/mealmaster-server/internal/model"
)

// dailyは暦日で+1日になることを検証
func TestNext_Daily(t *testing.T) {
	base := time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC)

	next, ok := Next(base, model.FrequencyDaily)
	if !ok {
		t.Fatal("daily は次回時刻を返すべき")
	}
	want := time.Date(2025, 6, 16, 9, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

// weeklyは暦日で+7日になることを検証
func TestNext_Weekly(t *testing.T) {
	base := time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC)

	next, ok := Next(base, model.FrequencyWeekly)
	if !ok {
		t.Fatal("weekly は次回時刻を返すべき")
	}
	want := time.Date(2025, 6, 22, 9, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

// monthlyは日付が有効な範囲で日を保存することを検証
func TestNext_Monthly_PreservesDay(t *testing.T) {
	base := time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC)

	next, ok := Next(base, model.FrequencyMonthly)
	if !ok {
		t.Fatal("monthly は次回時刻を返すべき")
	}
	want := time.Date(2025, 7, 15, 18, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

// 1月31日の翌月は2月末日に丸められることを検証（シナリオC相当）
func TestNext_Monthly_ClampsToEndOfFebruary(t *testing.T) {
	base := time.Date(2025, 1, 31, 8, 0, 0, 0, time.UTC)

	next, ok := Next(base, model.FrequencyMonthly)
	if !ok {
		t.Fatal("monthly は次回時刻を返すべき")
	}
	want := time.Date(2025, 2, 28, 8, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

// うるう年の2月は29日に丸められることを検証
func TestNext_Monthly_LeapYear(t *testing.T) {
	base := time.Date(2024, 1, 31, 8, 0, 0, 0, time.UTC)

	next, ok := Next(base, model.FrequencyMonthly)
	if !ok {
		t.Fatal("monthly は次回時刻を返すべき")
	}
	want := time.Date(2024, 2, 29, 8, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

// 12月の翌月は年をまたいで1月になることを検証
func TestNext_Monthly_YearRollover(t *testing.T) {
	base := time.Date(2025, 12, 10, 12, 0, 0, 0, time.UTC)

	next, ok := Next(base, model.FrequencyMonthly)
	if !ok {
		t.Fatal("monthly は次回時刻を返すべき")
	}
	want := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

// 未知の周期はok=falseを返し、繰り返し終了を示すことを検証
func TestNext_UnknownFrequency(t *testing.T) {
	base := time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)

	if _, ok := Next(base, model.RecurringFrequency("yearly")); ok {
		t.Error("未知の周期は ok=false を返すべき")
	}
	if _, ok := Next(base, model.RecurringFrequency("")); ok {
		t.Error("空の周期は ok=false を返すべき")
	}
}

// 同一入力に対して常に同一出力を返すこと（純粋関数）を検証
func TestNext_Deterministic(t *testing.T) {
	base := time.Date(2025, 3, 31, 6, 45, 0, 0, time.UTC)

	for _, freq := range []model.RecurringFrequency{
		model.FrequencyDaily, model.FrequencyWeekly, model.FrequencyMonthly,
	} {
		first, ok1 := Next(base, freq)
		second, ok2 := Next(base, freq)
		if ok1 != ok2 || !first.Equal(second) {
			t.Errorf("freq %s: 同一入力で異なる結果: %v vs %v", freq, first, second)
		}
	}
}
