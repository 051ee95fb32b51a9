package workflow

import (
	"errors"
	"testing"
	"time"

	"bitbucket.org/grupoalimenta/produccion_backend/utils"
	"github.com/shopspring/decimal"
)

// NOTE: These tests are intentionally DB-free. WalkDays is the whole
// scheduling decision; netCapacityForDays only feeds it rows, so the day
// slices here stand in for any line/block/preplanned-order combination.

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func capDays(start time.Time, minutes ...int64) []DayCapacity {
	days := make([]DayCapacity, 0, len(minutes))
	for i, m := range minutes {
		days = append(days, DayCapacity{
			Date:       start.AddDate(0, 0, i),
			NetMinutes: decimal.NewFromInt(m),
		})
	}
	return days
}

func TestWalkDays_SingleDayFit(t *testing.T) {
	days := capDays(day(2025, 1, 6), 480, 480)

	res, err := WalkDays(1, decimal.NewFromInt(300), days)
	if err != nil {
		t.Fatalf("WalkDays: %v", err)
	}
	if res.DaysUsed != 1 {
		t.Fatalf("expected 1 day used, got %d", res.DaysUsed)
	}
	if !res.FirstUsedDate.Equal(day(2025, 1, 6)) || !res.EndDate.Equal(day(2025, 1, 6)) {
		t.Fatalf("expected window on 2025-01-06, got %s..%s", res.FirstUsedDate, res.EndDate)
	}
}

func TestWalkDays_SpillsAcrossDays(t *testing.T) {
	// 130 minutes over 60-minute days lands on the third day.
	days := capDays(day(2025, 1, 6), 60, 60, 60, 60)

	res, err := WalkDays(2, decimal.NewFromInt(130), days)
	if err != nil {
		t.Fatalf("WalkDays: %v", err)
	}
	if res.DaysUsed != 3 {
		t.Fatalf("expected 3 days used, got %d", res.DaysUsed)
	}
	if !res.FirstUsedDate.Equal(day(2025, 1, 6)) {
		t.Fatalf("expected first day 2025-01-06, got %s", res.FirstUsedDate)
	}
	if !res.EndDate.Equal(day(2025, 1, 8)) {
		t.Fatalf("expected end day 2025-01-08, got %s", res.EndDate)
	}
	if res.Line != 2 {
		t.Fatalf("expected line 2 echoed, got %d", res.Line)
	}
}

func TestWalkDays_SkipsExhaustedDays(t *testing.T) {
	// Days below one free minute are not usable; the window starts where
	// capacity actually exists.
	days := []DayCapacity{
		{Date: day(2025, 1, 6), NetMinutes: decimal.Zero},
		{Date: day(2025, 1, 7), NetMinutes: decimal.NewFromFloat(0.5)},
		{Date: day(2025, 1, 8), NetMinutes: decimal.NewFromInt(120)},
	}

	res, err := WalkDays(1, decimal.NewFromInt(90), days)
	if err != nil {
		t.Fatalf("WalkDays: %v", err)
	}
	if res.DaysUsed != 1 {
		t.Fatalf("expected 1 day used, got %d", res.DaysUsed)
	}
	if !res.FirstUsedDate.Equal(day(2025, 1, 8)) {
		t.Fatalf("expected window to start 2025-01-08, got %s", res.FirstUsedDate)
	}
}

func TestWalkDays_OverloadNamesLastDayAndRemainder(t *testing.T) {
	days := capDays(day(2025, 1, 6), 60, 60)

	_, err := WalkDays(1, decimal.NewFromInt(200), days)
	if err == nil {
		t.Fatalf("expected overload error")
	}
	var appErr *utils.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T", err)
	}
	if appErr.Kind != utils.KindCapacityOverload {
		t.Fatalf("expected CapacityOverload, got %s", appErr.Kind)
	}
	if appErr.Line != 1 {
		t.Fatalf("expected line 1 in error, got %d", appErr.Line)
	}
	if !appErr.Date.Equal(day(2025, 1, 7)) {
		t.Fatalf("expected last inspected day 2025-01-07, got %s", appErr.Date)
	}
	if appErr.MissingMinutes.Cmp(decimal.NewFromInt(80)) != 0 {
		t.Fatalf("expected 80 missing minutes, got %s", appErr.MissingMinutes)
	}
}

func TestWalkDays_ZeroLoadUsesNoCapacity(t *testing.T) {
	days := capDays(day(2025, 1, 6), 480)

	res, err := WalkDays(1, decimal.Zero, days)
	if err != nil {
		t.Fatalf("WalkDays: %v", err)
	}
	if res.DaysUsed != 0 {
		t.Fatalf("expected 0 days used for zero load, got %d", res.DaysUsed)
	}
	if !res.LoadMinutes.IsZero() {
		t.Fatalf("expected zero load echoed, got %s", res.LoadMinutes)
	}
}

func TestWalkDays_ExactFitConsumesLastMinute(t *testing.T) {
	days := capDays(day(2025, 1, 6), 60, 60)

	res, err := WalkDays(1, decimal.NewFromInt(120), days)
	if err != nil {
		t.Fatalf("WalkDays: %v", err)
	}
	if res.DaysUsed != 2 {
		t.Fatalf("expected 2 days used, got %d", res.DaysUsed)
	}
	if !res.EndDate.Equal(day(2025, 1, 7)) {
		t.Fatalf("expected end on 2025-01-07, got %s", res.EndDate)
	}
}
