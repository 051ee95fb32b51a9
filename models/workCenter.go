package models

import (
	"context"
	"time"

	"bitbucket.org/grupoalimenta/produccion_backend/config"
	"bitbucket.org/grupoalimenta/produccion_backend/utils"
	"github.com/shopspring/decimal"
)

// WorkCenter is one production line. The plant runs two; Line is the
// business-facing number (1 or 2) while ID stays a surrogate key.
type WorkCenter struct {
	ID               int             `gorm:"primary_key" json:"id"`
	Line             int             `gorm:"uniqueIndex;not null" json:"line" binding:"required"`
	Name             string          `gorm:"size:255;not null" json:"name"`
	StdMinutesPerDay decimal.Decimal `gorm:"type:decimal(20,4);default:480" json:"std_minutes_per_day"`
	Efficiency       decimal.Decimal `gorm:"type:decimal(20,4);default:1" json:"efficiency"`
	Utilization      decimal.Decimal `gorm:"type:decimal(20,4);default:1" json:"utilization"`
	MachineCount     int             `gorm:"default:1" json:"machine_count"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// CapacityBlock removes minutes from a line on one date (maintenance,
// cleaning, holidays).
type CapacityBlock struct {
	ID             int             `gorm:"primary_key" json:"id"`
	Line           int             `gorm:"index:idx_block_line_date;not null" json:"line"`
	Date           time.Time       `gorm:"index:idx_block_line_date;not null" json:"date"`
	BlockedMinutes decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"blocked_minutes"`
	Reason         string          `gorm:"size:255" json:"reason"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// GrossMinutesPerDay is capacity before blocks:
// std minutes x efficiency x utilization x machine count.
func (w WorkCenter) GrossMinutesPerDay() decimal.Decimal {
	machines := decimal.NewFromInt(int64(w.MachineCount))
	if w.MachineCount <= 0 {
		machines = decimal.NewFromInt(1)
	}
	return w.StdMinutesPerDay.
		Mul(w.Efficiency).
		Mul(w.Utilization).
		Mul(machines)
}

func GetWorkCenterByLine(ctx context.Context, line int) (*WorkCenter, error) {
	db := config.GetDB()
	var wc WorkCenter
	err := db.WithContext(ctx).Where("line = ?", line).First(&wc).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &wc, nil
}

func GetAllWorkCenters(ctx context.Context) ([]*WorkCenter, error) {
	return utils.FetchAllModels[WorkCenter](ctx)
}

// BlockedMinutesByDate sums capacity blocks of a line over [from, to).
func BlockedMinutesByDate(ctx context.Context, line int, from, to time.Time) (map[time.Time]decimal.Decimal, error) {
	db := config.GetDB()
	var blocks []CapacityBlock
	err := db.WithContext(ctx).
		Where("line = ? AND date >= ? AND date < ?", line, from, to).
		Find(&blocks).Error
	if err != nil {
		return nil, err
	}
	result := make(map[time.Time]decimal.Decimal, len(blocks))
	for _, b := range blocks {
		day := utils.DateOnly(b.Date)
		result[day] = result[day].Add(b.BlockedMinutes)
	}
	return result, nil
}
