package models

import (
	"context"
	"time"

	"bitbucket.org/grupoalimenta/produccion_backend/config"
	"bitbucket.org/grupoalimenta/produccion_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InsumoLot is one physically delimited batch of a raw material.
//
// Invariants enforced here and in the reservation engine:
//   - CurrentQty + QuarantineQty <= InitialQty
//   - CurrentQty >= 0, QuarantineQty >= 0
//   - State == Depleted  <=>  CurrentQty == 0 && QuarantineQty == 0
//
// LockVersion backs optimistic concurrency: every quantity mutation also
// bumps the version with a WHERE on the old one; zero affected rows means a
// concurrent writer won and the engine retries.
type InsumoLot struct {
	ID              int             `gorm:"primary_key" json:"id"`
	InsumoId        int             `gorm:"index;not null" json:"insumo_id" binding:"required"`
	SupplierId      int             `gorm:"index;default:null" json:"supplier_id"`
	InitialQty      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"initial_qty" binding:"required"`
	CurrentQty      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"current_qty"`
	QuarantineQty   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quarantine_qty"`
	UnitCost        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	IngressDate     time.Time       `gorm:"not null;index" json:"ingress_date"`
	ExpiryDate      *time.Time      `gorm:"index" json:"expiry_date"`
	State           InsumoLotState  `gorm:"type:enum('Available','Reserved','Quarantine','UnderReview','Depleted','Retired','Expired');not null;default:Available" json:"state"`
	IngressDocument string          `gorm:"size:255;index" json:"ingress_document"`
	// ProductionOrderId is set when an incoming lot is earmarked for a
	// waiting production order (purchase-order close path).
	ProductionOrderId int       `gorm:"index;default:null" json:"production_order_id"`
	LockVersion       int       `gorm:"not null;default:0" json:"-"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeSave keeps the depleted flag coherent with quantities. Mirrors the
// reservation engine's own bookkeeping in case a code path writes the lot
// directly.
func (l *InsumoLot) BeforeSave(tx *gorm.DB) error {
	_ = tx // signature required by gorm; tx may be nil in tests
	if l == nil {
		return nil
	}
	if l.CurrentQty.IsNegative() {
		l.CurrentQty = decimal.Zero
	}
	if l.QuarantineQty.IsNegative() {
		l.QuarantineQty = decimal.Zero
	}
	zero := utils.IsEffectivelyZero(l.CurrentQty) && utils.IsEffectivelyZero(l.QuarantineQty)
	if zero && (l.State == InsumoLotStateAvailable || l.State == InsumoLotStateReserved) {
		l.State = InsumoLotStateDepleted
	}
	return nil
}

func (l InsumoLot) IsConsumable() bool {
	return l.State == InsumoLotStateAvailable && l.CurrentQty.IsPositive()
}

func GetInsumoLot(ctx context.Context, id int) (*InsumoLot, error) {
	return utils.FetchModel[InsumoLot](ctx, id)
}

// AvailableLotsFEFO returns the consumable lots of an insumo in
// first-expire-first-out order: ingress date ascending, then expiry
// ascending with NULLs last, then id for determinism.
func AvailableLotsFEFO(tx *gorm.DB, insumoId int) ([]InsumoLot, error) {
	var lots []InsumoLot
	err := tx.
		Where("insumo_id = ? AND state = ? AND current_qty > 0", insumoId, InsumoLotStateAvailable).
		Order("ingress_date ASC").
		Order("expiry_date IS NULL, expiry_date ASC").
		Order("id ASC").
		Find(&lots).Error
	return lots, err
}

// AvailableQty sums consumable stock of an insumo.
func AvailableQty(tx *gorm.DB, insumoId int) (decimal.Decimal, error) {
	var total *decimal.Decimal
	err := tx.Model(&InsumoLot{}).
		Select("COALESCE(SUM(current_qty), 0)").
		Where("insumo_id = ? AND state = ? AND current_qty > 0", insumoId, InsumoLotStateAvailable).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	if total == nil {
		return decimal.Zero, nil
	}
	return *total, nil
}

// UpdateLotGuarded applies updates only if the lock version still matches.
// Returns false when a concurrent writer got there first.
func UpdateLotGuarded(tx *gorm.DB, lot *InsumoLot, updates map[string]interface{}) (bool, error) {
	updates["lock_version"] = lot.LockVersion + 1
	res := tx.Model(&InsumoLot{}).
		Where("id = ? AND lock_version = ?", lot.ID, lot.LockVersion).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// LotsByIngressDocument finds the lots created from one purchase order
// reception (IngressDocument carries the OC code).
func LotsByIngressDocument(tx *gorm.DB, document string) ([]InsumoLot, error) {
	var lots []InsumoLot
	err := tx.Where("ingress_document = ?", document).Find(&lots).Error
	return lots, err
}

func GetExpiredLots(ctx context.Context, asOf time.Time) ([]InsumoLot, error) {
	db := config.GetDB()
	var lots []InsumoLot
	err := db.WithContext(ctx).
		Where("expiry_date IS NOT NULL AND expiry_date < ? AND state IN ?", asOf,
			[]InsumoLotState{InsumoLotStateAvailable, InsumoLotStateQuarantine, InsumoLotStateUnderReview}).
		Find(&lots).Error
	return lots, err
}
