package workflow

import (
	"testing"
	"time"

	"bitbucket.org/grupoalimenta/produccion_backend/models"
	"github.com/shopspring/decimal"
)

func TestComputeOEE_TextbookRun(t *testing.T) {
	// 90 of 100 minutes productive, 45 units out of a 60/h target over 90
	// productive minutes (theoretical 90), 40 good / 5 waste.
	res := ComputeOEE(OEEInput{
		ProductiveMinutes: decimal.NewFromInt(90),
		TotalMinutes:      decimal.NewFromInt(100),
		GoodUnits:         decimal.NewFromInt(40),
		WasteUnits:        decimal.NewFromInt(5),
		TargetRatePerHour: decimal.NewFromInt(60),
	})

	if res.Availability.Cmp(decimal.NewFromFloat(0.9)) != 0 {
		t.Fatalf("availability: expected 0.9, got %s", res.Availability)
	}
	if res.Performance.Cmp(decimal.NewFromFloat(0.5)) != 0 {
		t.Fatalf("performance: expected 0.5, got %s", res.Performance)
	}
	expectedQuality := decimal.NewFromInt(40).Div(decimal.NewFromInt(45))
	if res.Quality.Cmp(expectedQuality) != 0 {
		t.Fatalf("quality: expected %s, got %s", expectedQuality, res.Quality)
	}
	expectedOEE := res.Availability.Mul(res.Performance).Mul(res.Quality)
	if res.OEE.Cmp(expectedOEE) != 0 {
		t.Fatalf("oee: expected %s, got %s", expectedOEE, res.OEE)
	}
}

func TestComputeOEE_FactorsClampToOne(t *testing.T) {
	// Faster than target and more productive minutes than wall minutes
	// must not score above 1.
	res := ComputeOEE(OEEInput{
		ProductiveMinutes: decimal.NewFromInt(120),
		TotalMinutes:      decimal.NewFromInt(100),
		GoodUnits:         decimal.NewFromInt(500),
		WasteUnits:        decimal.Zero,
		TargetRatePerHour: decimal.NewFromInt(60),
	})

	if res.Availability.Cmp(decimalOne) != 0 {
		t.Fatalf("availability should clamp to 1, got %s", res.Availability)
	}
	if res.Performance.Cmp(decimalOne) != 0 {
		t.Fatalf("performance should clamp to 1, got %s", res.Performance)
	}
	if res.OEE.GreaterThan(decimalOne) {
		t.Fatalf("oee above 1: %s", res.OEE)
	}
}

func TestComputeOEE_ZeroObservationsScoreZero(t *testing.T) {
	res := ComputeOEE(OEEInput{})
	if !res.Availability.IsZero() || !res.Performance.IsZero() || !res.Quality.IsZero() || !res.OEE.IsZero() {
		t.Fatalf("empty run should score all zeros, got %+v", res)
	}

	// Output without a target rate leaves performance undefined (zero) but
	// still scores quality.
	res = ComputeOEE(OEEInput{
		ProductiveMinutes: decimal.NewFromInt(60),
		TotalMinutes:      decimal.NewFromInt(60),
		GoodUnits:         decimal.NewFromInt(10),
	})
	if !res.Performance.IsZero() {
		t.Fatalf("performance without target rate should be zero, got %s", res.Performance)
	}
	if res.Quality.Cmp(decimalOne) != 0 {
		t.Fatalf("all-good output should score quality 1, got %s", res.Quality)
	}
}

func TestTargetRatePerHour(t *testing.T) {
	rate := TargetRatePerHour(decimal.NewFromInt(100), decimal.NewFromInt(120))
	if rate.Cmp(decimal.NewFromInt(50)) != 0 {
		t.Fatalf("expected 50 units/hour, got %s", rate)
	}
	if !TargetRatePerHour(decimal.NewFromInt(100), decimal.Zero).IsZero() {
		t.Fatalf("zero load must yield zero rate")
	}
}

func TestSplitIntervalMinutes(t *testing.T) {
	start := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	now := start.Add(90 * time.Minute)

	pauseEnd := start.Add(50 * time.Minute)
	intervals := []models.KanbanInterval{
		{Kind: models.IntervalKindProduction, StartedAt: start, EndedAt: timePtr(start.Add(30 * time.Minute))},
		{Kind: models.IntervalKindPause, StartedAt: start.Add(30 * time.Minute), EndedAt: &pauseEnd},
		// still open: counts up to now
		{Kind: models.IntervalKindProduction, StartedAt: pauseEnd},
	}

	productive, total := SplitIntervalMinutes(intervals, now)
	if productive.Cmp(decimal.NewFromInt(70)) != 0 {
		t.Fatalf("expected 70 productive minutes, got %s", productive)
	}
	if total.Cmp(decimal.NewFromInt(90)) != 0 {
		t.Fatalf("expected 90 total minutes, got %s", total)
	}
}

func timePtr(t time.Time) *time.Time { return &t }
