package workflow

import (
	"time"

	"bitbucket.org/grupoalimenta/produccion_backend/models"
	"github.com/shopspring/decimal"
)

var (
	decimalOne     = decimal.NewFromInt(1)
	minutesPerHour = decimal.NewFromInt(60)
)

// OEEInput holds the raw observations of a run.
type OEEInput struct {
	ProductiveMinutes decimal.Decimal
	TotalMinutes      decimal.Decimal
	GoodUnits         decimal.Decimal
	WasteUnits        decimal.Decimal
	TargetRatePerHour decimal.Decimal
}

// OEEResult carries the three factors and their product, all in [0,1].
type OEEResult struct {
	Availability decimal.Decimal `json:"availability"`
	Performance  decimal.Decimal `json:"performance"`
	Quality      decimal.Decimal `json:"quality"`
	OEE          decimal.Decimal `json:"oee"`
}

func clampRatio(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(decimalOne) {
		return decimalOne
	}
	return d
}

// ComputeOEE derives Availability x Performance x Quality from a run's
// observations. Runs with no elapsed time or no output score zero on the
// undefined factors rather than dividing by zero.
func ComputeOEE(in OEEInput) OEEResult {
	availability := decimal.Zero
	if in.TotalMinutes.IsPositive() {
		availability = clampRatio(in.ProductiveMinutes.Div(in.TotalMinutes))
	}

	performance := decimal.Zero
	actual := in.GoodUnits.Add(in.WasteUnits)
	if in.TargetRatePerHour.IsPositive() && in.ProductiveMinutes.IsPositive() && actual.IsPositive() {
		theoretical := in.TargetRatePerHour.Mul(in.ProductiveMinutes.Div(minutesPerHour))
		if theoretical.IsPositive() {
			performance = clampRatio(actual.Div(theoretical))
		}
	}

	quality := decimal.Zero
	if actual.IsPositive() {
		quality = clampRatio(in.GoodUnits.Div(actual))
	}

	return OEEResult{
		Availability: availability,
		Performance:  performance,
		Quality:      quality,
		OEE:          availability.Mul(performance).Mul(quality),
	}
}

// TargetRatePerHour is the planned output rhythm of an order: planned
// units over planned floor hours.
func TargetRatePerHour(plannedQty, loadMinutes decimal.Decimal) decimal.Decimal {
	if !loadMinutes.IsPositive() {
		return decimal.Zero
	}
	return plannedQty.Div(loadMinutes.Div(minutesPerHour))
}

// SplitIntervalMinutes sums productive and total wall minutes of a run's
// intervals as of now.
func SplitIntervalMinutes(intervals []models.KanbanInterval, now time.Time) (productive, total decimal.Decimal) {
	for _, interval := range intervals {
		minutes := interval.Minutes(now)
		if minutes.IsNegative() {
			continue
		}
		total = total.Add(minutes)
		if interval.Kind == models.IntervalKindProduction {
			productive = productive.Add(minutes)
		}
	}
	return productive, total
}
