package models

import (
	"context"
	"time"

	"bitbucket.org/grupoalimenta/produccion_backend/config"
	"bitbucket.org/grupoalimenta/produccion_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Motive is a catalog entry explaining a waste or pause event.
type Motive struct {
	ID     int    `gorm:"primary_key" json:"id"`
	Name   string `gorm:"size:150;not null" json:"name" binding:"required"`
	Kind   string `gorm:"type:enum('Waste','Pause');not null" json:"kind"`
	Active *bool  `gorm:"default:true" json:"active"`
}

func GetMotive(ctx context.Context, id int) (*Motive, error) {
	return utils.FetchModel[Motive](ctx, id)
}

// WasteRecord documents spoiled or lost material, either against a raw lot
// or against output of a running order.
type WasteRecord struct {
	ID                int             `gorm:"primary_key" json:"id"`
	ProductionOrderId int             `gorm:"index;default:null" json:"production_order_id"`
	LotId             int             `gorm:"index;default:null" json:"lot_id"`
	InsumoId          int             `gorm:"index;default:null" json:"insumo_id"`
	Qty               decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	MotiveId          int             `gorm:"not null" json:"motive_id"`
	Action            WasteAction     `gorm:"type:enum('Ignore','Replan','Cancel');not null" json:"action"`
	PhotoUrl          string          `gorm:"size:500" json:"photo_url"`
	ReportedBy        int             `gorm:"not null" json:"reported_by"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (w WasteRecord) validate() error {
	if !w.Qty.IsPositive() {
		return utils.NewValidationError("waste qty must be positive", map[string]string{"qty": "gt=0"})
	}
	if w.MotiveId == 0 {
		return utils.NewValidationError("motive is required", map[string]string{"motive_id": "required"})
	}
	return nil
}

func CreateWasteRecord(tx *gorm.DB, record *WasteRecord) error {
	if err := record.validate(); err != nil {
		return err
	}
	return tx.Create(record).Error
}

func WasteQtyForOrder(tx *gorm.DB, productionOrderId int) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := tx.Model(&WasteRecord{}).
		Select("COALESCE(SUM(qty), 0)").
		Where("production_order_id = ?", productionOrderId).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	return total.Decimal, nil
}

// KanbanInterval is one contiguous slice of wall time on the floor, either
// running or paused. Exactly one open interval (EndedAt NULL) may exist per
// order.
type KanbanInterval struct {
	ID                int             `gorm:"primary_key" json:"id"`
	ProductionOrderId int             `gorm:"index;not null" json:"production_order_id"`
	Kind              IntervalKind    `gorm:"type:enum('Production','Pause');not null" json:"kind"`
	MotiveId          int             `gorm:"default:null" json:"motive_id"`
	StartedAt         time.Time       `gorm:"not null" json:"started_at"`
	EndedAt           *time.Time      `json:"ended_at"`
	GoodQty           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"good_qty"`
	DefectQty         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"defect_qty"`
	ReportedBy        int             `gorm:"default:null" json:"reported_by"`
}

func (ki KanbanInterval) Minutes(now time.Time) decimal.Decimal {
	end := now
	if ki.EndedAt != nil {
		end = *ki.EndedAt
	}
	return decimal.NewFromFloat(end.Sub(ki.StartedAt).Minutes())
}

// OpenInterval returns the running interval of an order, nil when closed.
func OpenInterval(tx *gorm.DB, productionOrderId int) (*KanbanInterval, error) {
	var interval KanbanInterval
	err := tx.Where("production_order_id = ? AND ended_at IS NULL", productionOrderId).
		Order("started_at DESC").
		First(&interval).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &interval, nil
}

func IntervalsForOrder(tx *gorm.DB, productionOrderId int) ([]KanbanInterval, error) {
	var intervals []KanbanInterval
	err := tx.Where("production_order_id = ?", productionOrderId).
		Order("started_at ASC, id ASC").
		Find(&intervals).Error
	return intervals, err
}

// CloseInterval stamps EndedAt on an open interval.
func CloseInterval(tx *gorm.DB, interval *KanbanInterval, at time.Time) error {
	return tx.Model(interval).Update("ended_at", at).Error
}

func GetWasteRecordsForOrder(ctx context.Context, productionOrderId int) ([]WasteRecord, error) {
	db := config.GetDB()
	var records []WasteRecord
	err := db.WithContext(ctx).
		Where("production_order_id = ?", productionOrderId).
		Order("created_at ASC").
		Find(&records).Error
	return records, err
}
