package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/grupoalimenta/produccion_backend/config"
	"bitbucket.org/grupoalimenta/produccion_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// FinishedProductLot is the traceable output of a completed production
// order. UnitCost is frozen at completion time from the consumed raw lots.
type FinishedProductLot struct {
	ID                int              `gorm:"primary_key" json:"id"`
	Code              string           `gorm:"size:100;uniqueIndex;not null" json:"code"`
	SequenceNo        decimal.Decimal  `gorm:"type:decimal(15);not null" json:"sequence_no"`
	ProductId         int              `gorm:"index;not null" json:"product_id"`
	ProductionOrderId int              `gorm:"index;not null" json:"production_order_id"`
	Qty               decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"qty"`
	UnitCost          decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"unit_cost"`
	ProducedAt        time.Time        `gorm:"not null" json:"produced_at"`
	ExpiryDate        *time.Time       `json:"expiry_date"`
	State             FinishedLotState `gorm:"type:enum('Available','Quarantine','Rejected','Depleted');not null;default:Quarantine" json:"state"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

func GetFinishedProductLot(ctx context.Context, id int) (*FinishedProductLot, error) {
	return utils.FetchModel[FinishedProductLot](ctx, id)
}

// CreateFinishedProductLot mints the LOTE code and stores the lot in
// Quarantine; quality release moves it to Available. A zero-yield run is
// the one exception: its lot is born Depleted with qty zero, kept purely
// for traceability.
func CreateFinishedProductLot(ctx context.Context, tx *gorm.DB, lot *FinishedProductLot) error {
	zeroLot := utils.IsEffectivelyZero(lot.Qty) && lot.State == FinishedLotStateDepleted
	if !lot.Qty.IsPositive() && !zeroLot {
		return utils.NewValidationError("finished lot qty must be positive", map[string]string{"qty": "gt=0"})
	}
	seqNo, err := utils.GetSequence[FinishedProductLot](ctx)
	if err != nil {
		return err
	}
	lot.SequenceNo = decimal.NewFromInt(seqNo)
	lot.Code = fmt.Sprintf("LOTE-%05d", seqNo)
	if lot.State == "" {
		lot.State = FinishedLotStateQuarantine
	}
	return tx.Create(lot).Error
}

func FinishedLotsForOrder(ctx context.Context, productionOrderId int) ([]FinishedProductLot, error) {
	db := config.GetDB()
	var lots []FinishedProductLot
	err := db.WithContext(ctx).
		Where("production_order_id = ?", productionOrderId).
		Order("produced_at ASC").
		Find(&lots).Error
	return lots, err
}

func FinishedStockForProduct(ctx context.Context, productId int) (decimal.Decimal, error) {
	db := config.GetDB()
	var total decimal.NullDecimal
	err := db.WithContext(ctx).Model(&FinishedProductLot{}).
		Select("COALESCE(SUM(qty), 0)").
		Where("product_id = ? AND state = ?", productId, FinishedLotStateAvailable).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	return total.Decimal, nil
}
