package utils

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestQuantityTolerance(t *testing.T) {
	if !IsEffectivelyZero(decimal.New(5, -10)) {
		t.Fatalf("sub-tolerance noise should count as zero")
	}
	if IsEffectivelyZero(decimal.New(2, -9)) {
		t.Fatalf("values above tolerance are real quantities")
	}
	if !IsEffectivelyZero(decimal.New(-5, -10)) {
		t.Fatalf("tolerance applies on both sides of zero")
	}

	if !ZeroIfNegligible(decimal.New(1, -12)).IsZero() {
		t.Fatalf("negligible values should round to exactly zero")
	}
	v := decimal.NewFromFloat(0.25)
	if ZeroIfNegligible(v).Cmp(v) != 0 {
		t.Fatalf("real values must pass through unchanged")
	}
}

func TestCeilToInt(t *testing.T) {
	if CeilToInt(decimal.NewFromFloat(12.001)).Cmp(decimal.NewFromInt(13)) != 0 {
		t.Fatalf("fractional demand rounds up to the next whole unit")
	}
	if CeilToInt(decimal.NewFromInt(12)).Cmp(decimal.NewFromInt(12)) != 0 {
		t.Fatalf("whole quantities stay as-is")
	}
}

func TestDateOnly(t *testing.T) {
	got := DateOnly(time.Date(2025, 4, 3, 17, 45, 12, 999, time.UTC))
	want := time.Date(2025, 4, 3, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestMergeIntSlices(t *testing.T) {
	got := MergeIntSlices([]int{1, 2, 2, 3}, []int{3, 4})
	want := []int{1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
