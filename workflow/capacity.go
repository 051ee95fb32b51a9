package workflow

import (
	"context"
	"time"

	"bitbucket.org/grupoalimenta/produccion_backend/config"
	"bitbucket.org/grupoalimenta/produccion_backend/models"
	"bitbucket.org/grupoalimenta/produccion_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// simulationHorizonDays bounds how far ahead the day walk looks before
// declaring the line overloaded.
const simulationHorizonDays = 30

// minuteFloor is the smallest remaining capacity worth allocating into.
var minuteFloor = decimal.NewFromInt(1)

// DayCapacity is one day's net free minutes on a line after blocks and
// already-planned orders.
type DayCapacity struct {
	Date       time.Time
	NetMinutes decimal.Decimal
}

// SimulationResult is the window a load fits into.
type SimulationResult struct {
	Line          int             `json:"line"`
	FirstUsedDate time.Time       `json:"first_used_date"`
	EndDate       time.Time       `json:"end_date"`
	DaysUsed      int             `json:"days_used"`
	LoadMinutes   decimal.Decimal `json:"load_minutes"`
}

// WalkDays allocates loadMinutes across days in order. Days below one free
// minute are skipped. Returns the used window, or an overload error naming
// the last day inspected and the minutes still unplaced.
func WalkDays(line int, loadMinutes decimal.Decimal, days []DayCapacity) (*SimulationResult, error) {
	if !loadMinutes.IsPositive() {
		// zero-load orders occupy no capacity at all
		var first time.Time
		if len(days) > 0 {
			first = days[0].Date
		}
		return &SimulationResult{
			Line:          line,
			FirstUsedDate: first,
			EndDate:       first,
			DaysUsed:      0,
			LoadMinutes:   decimal.Zero,
		}, nil
	}

	loadLeft := loadMinutes
	result := SimulationResult{Line: line, LoadMinutes: loadMinutes}
	lastDay := time.Time{}
	for _, day := range days {
		lastDay = day.Date
		remaining := day.NetMinutes
		if remaining.LessThan(minuteFloor) {
			continue
		}
		allocated := decimal.Min(remaining, loadLeft)
		if result.DaysUsed == 0 {
			result.FirstUsedDate = day.Date
		}
		result.EndDate = day.Date
		result.DaysUsed++
		loadLeft = utils.ZeroIfNegligible(loadLeft.Sub(allocated))
		if loadLeft.IsZero() {
			return &result, nil
		}
	}
	return nil, utils.NewOverloadError(line, lastDay, loadLeft)
}

// netCapacityForDays builds the day slice the walker consumes: gross line
// minutes minus maintenance blocks minus the load of orders already planned
// to start each day.
func netCapacityForDays(ctx context.Context, logger *logrus.Logger, line int, startDate time.Time, horizon int, excludePoId int) ([]DayCapacity, error) {
	center, err := models.GetWorkCenterByLine(ctx, line)
	if err != nil {
		return nil, err
	}
	gross := center.GrossMinutesPerDay()

	from := utils.DateOnly(startDate)
	to := from.AddDate(0, 0, horizon)
	blocked, err := models.BlockedMinutesByDate(ctx, line, from, to)
	if err != nil {
		return nil, err
	}

	days := make([]DayCapacity, 0, horizon)
	for i := 0; i < horizon; i++ {
		day := from.AddDate(0, 0, i)
		net := gross.Sub(blocked[day])

		existing, err := models.OrdersStartingOn(ctx, line, day, excludePoId)
		if err != nil {
			return nil, err
		}
		for _, po := range existing {
			recipe, err := models.GetRecipeById(ctx, po.RecipeId)
			if err != nil {
				config.LogWarn(logger, "capacity.go", "netCapacityForDays", "planned order without resolvable recipe", po.ID, "skipping its load")
				continue
			}
			net = net.Sub(LoadMinutes(logger, recipe, po.PlannedQty))
		}
		if net.IsNegative() {
			net = decimal.Zero
		}
		days = append(days, DayCapacity{Date: day, NetMinutes: net})
	}
	return days, nil
}

// SimulateLoad answers whether a load fits on a line starting a given day.
// It is a pure read; committing the window is the caller's business.
func SimulateLoad(ctx context.Context, logger *logrus.Logger, line int, startDate time.Time, loadMinutes decimal.Decimal, excludePoId int) (*SimulationResult, error) {
	days, err := netCapacityForDays(ctx, logger, line, startDate, simulationHorizonDays, excludePoId)
	if err != nil {
		return nil, err
	}
	return WalkDays(line, loadMinutes, days)
}
