package workflow

import (
	"bitbucket.org/grupoalimenta/produccion_backend/config"
	"bitbucket.org/grupoalimenta/produccion_backend/models"
	"bitbucket.org/grupoalimenta/produccion_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// reservationRetries bounds the optimistic retry loop when two callers race
// on the same lot.
const reservationRetries = 3

// ReserveStock carves FEFO reservations for every insumo a recipe demands.
// Carved stock stays earmarked even when an insumo cannot be fully covered:
// the shortage is returned so the purchase generator can order exactly the
// remainder, and the partial reservations complete once it lands.
func ReserveStock(tx *gorm.DB, logger *logrus.Logger, po *models.ProductionOrder, recipe *models.Recipe) ([]Shortage, error) {
	required := RequiredQuantities(recipe, po.PlannedQty)

	// existing reservations count toward demand, so a re-reserve after
	// restock only carves the remainder
	alreadyReserved, err := models.ReservedQtyByInsumoForOrder(tx, po.ID)
	if err != nil {
		return nil, err
	}

	shortages := []Shortage{}
	for _, ing := range recipe.Ingredients {
		needed, ok := required[ing.InsumoId]
		if !ok {
			continue
		}
		delete(required, ing.InsumoId)

		needed = utils.ZeroIfNegligible(needed.Sub(alreadyReserved[ing.InsumoId]))
		if !needed.IsPositive() {
			continue
		}

		missing, err := reserveInsumoFEFO(tx, logger, po.ID, ing.InsumoId, needed)
		if err != nil {
			return nil, err
		}
		if missing.IsPositive() {
			var insumo models.Insumo
			if err := tx.First(&insumo, ing.InsumoId).Error; err != nil {
				return nil, err
			}
			shortages = append(shortages, Shortage{
				InsumoId:  ing.InsumoId,
				Name:      insumo.Name,
				Needed:    needed,
				Available: needed.Sub(missing),
				Missing:   missing,
			})
		}
	}
	return shortages, nil
}

// reserveInsumoFEFO walks consumable lots oldest-expiry-first and carves
// reservations until demand is met or lots run out. Returns the uncovered
// remainder. Each lot write is guarded by its lock version; a lost race
// re-reads the lot list up to reservationRetries times before giving up
// with ReservationConflict.
func reserveInsumoFEFO(tx *gorm.DB, logger *logrus.Logger, poId int, insumoId int, needed decimal.Decimal) (decimal.Decimal, error) {
	remaining := needed
	for attempt := 0; attempt < reservationRetries; attempt++ {
		lots, err := models.AvailableLotsFEFO(tx, insumoId)
		if err != nil {
			return remaining, err
		}

		conflicted := false
		for i := range lots {
			if !remaining.IsPositive() {
				break
			}
			lot := lots[i]
			take := decimal.Min(remaining, lot.CurrentQty)
			if !take.IsPositive() {
				continue
			}

			// a partial carve leaves the lot Available: the residual must
			// stay visible to every other order's FEFO read
			newQty := utils.ZeroIfNegligible(lot.CurrentQty.Sub(take))
			updates := map[string]interface{}{"current_qty": newQty}
			if newQty.IsZero() && utils.IsEffectivelyZero(lot.QuarantineQty) {
				updates["state"] = models.InsumoLotStateDepleted
			}

			applied, err := models.UpdateLotGuarded(tx, &lot, updates)
			if err != nil {
				return remaining, err
			}
			if !applied {
				// someone else moved this lot; restart from a fresh FEFO read
				conflicted = true
				break
			}

			reservation := models.InsumoReservation{
				ProductionOrderId: poId,
				LotId:             lot.ID,
				InsumoId:          insumoId,
				ReservedQty:       take,
				State:             models.ReservationStateReserved,
			}
			if err := tx.Create(&reservation).Error; err != nil {
				return remaining, err
			}
			remaining = utils.ZeroIfNegligible(remaining.Sub(take))
		}

		if !conflicted {
			return remaining, nil
		}
		config.LogWarn(logger, "reservation.go", "reserveInsumoFEFO", "lot version conflict, retrying", insumoId, "concurrent reservation detected")
	}
	return remaining, utils.NewConflictError("reservation lost the race after retries")
}

// ReleaseReservations cancels every active reservation of an order and
// returns the quantities to their lots. Reserve followed by Release leaves
// each touched lot exactly as it was.
func ReleaseReservations(tx *gorm.DB, logger *logrus.Logger, poId int) error {
	reservations, err := models.ActiveReservationsForOrder(tx, poId)
	if err != nil {
		return err
	}
	for _, res := range reservations {
		var lot models.InsumoLot
		if err := tx.First(&lot, res.LotId).Error; err != nil {
			return err
		}

		// other holders' quantities are already off the lot, so whatever
		// this reservation hands back is genuinely free again
		restored := lot.CurrentQty.Add(res.ReservedQty)
		updates := map[string]interface{}{"current_qty": restored}
		if lot.State == models.InsumoLotStateDepleted && restored.IsPositive() {
			updates["state"] = models.InsumoLotStateAvailable
		}
		applied, err := models.UpdateLotGuarded(tx, &lot, updates)
		if err != nil {
			return err
		}
		if !applied {
			config.LogWarn(logger, "reservation.go", "ReleaseReservations", "lot changed during release, applying unguarded", lot.ID, "release retried without guard")
			if err := tx.Model(&models.InsumoLot{}).Where("id = ?", lot.ID).
				Updates(map[string]interface{}{
					"current_qty":  gorm.Expr("current_qty + ?", res.ReservedQty),
					"lock_version": gorm.Expr("lock_version + 1"),
				}).Error; err != nil {
				return err
			}
		}

		if err := tx.Model(&models.InsumoReservation{}).
			Where("id = ?", res.ID).
			Update("state", models.ReservationStateCancelled).Error; err != nil {
			return err
		}
	}
	return nil
}

// ConsumeReservations seals an order's reservations at completion. Lot
// quantities were already decremented at reserve time; this only flips the
// bookkeeping state so traceability queries can tell consumed from merely
// held.
func ConsumeReservations(tx *gorm.DB, poId int) error {
	return tx.Model(&models.InsumoReservation{}).
		Where("production_order_id = ? AND state = ?", poId, models.ReservationStateReserved).
		Updates(map[string]interface{}{
			"state":        models.ReservationStateConsumed,
			"consumed_qty": gorm.Expr("reserved_qty"),
		}).Error
}
