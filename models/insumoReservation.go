package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InsumoReservation earmarks lot quantity for a production order. The lot's
// CurrentQty is decremented when the reservation is carved, so the sum of
// active reservations never exceeds what the lot had at reservation time.
//
// Ownership is joint: releasing requires both the production-order side
// (state flip) and the lot side (quantity return).
type InsumoReservation struct {
	ID                int              `gorm:"primary_key" json:"id"`
	ProductionOrderId int              `gorm:"index;not null" json:"production_order_id"`
	LotId             int              `gorm:"index;not null" json:"lot_id"`
	InsumoId          int              `gorm:"index;not null" json:"insumo_id"`
	ReservedQty       decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"reserved_qty"`
	ConsumedQty       decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"consumed_qty"`
	State             ReservationState `gorm:"type:enum('Reserved','Consumed','Cancelled');not null;default:Reserved" json:"state"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func ActiveReservationsForOrder(tx *gorm.DB, productionOrderId int) ([]InsumoReservation, error) {
	var reservations []InsumoReservation
	err := tx.
		Where("production_order_id = ? AND state = ?", productionOrderId, ReservationStateReserved).
		Order("id ASC").
		Find(&reservations).Error
	return reservations, err
}

func ActiveReservationsForLot(tx *gorm.DB, lotId int) ([]InsumoReservation, error) {
	var reservations []InsumoReservation
	err := tx.
		Where("lot_id = ? AND state = ?", lotId, ReservationStateReserved).
		Order("id ASC").
		Find(&reservations).Error
	return reservations, err
}

// ReservedQtyForInsumo sums active reservations of an insumo across orders.
func ReservedQtyForInsumo(tx *gorm.DB, insumoId int) (decimal.Decimal, error) {
	var total *decimal.Decimal
	err := tx.Model(&InsumoReservation{}).
		Select("COALESCE(SUM(reserved_qty), 0)").
		Where("insumo_id = ? AND state = ?", insumoId, ReservationStateReserved).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	if total == nil {
		return decimal.Zero, nil
	}
	return *total, nil
}

// ReservedQtyByInsumoForOrder groups an order's active reservations by insumo.
func ReservedQtyByInsumoForOrder(tx *gorm.DB, productionOrderId int) (map[int]decimal.Decimal, error) {
	reservations, err := ActiveReservationsForOrder(tx, productionOrderId)
	if err != nil {
		return nil, err
	}
	result := make(map[int]decimal.Decimal, len(reservations))
	for _, r := range reservations {
		result[r.InsumoId] = result[r.InsumoId].Add(r.ReservedQty)
	}
	return result, nil
}
