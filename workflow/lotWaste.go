package workflow

import (
	"context"

	"bitbucket.org/grupoalimenta/produccion_backend/config"
	"bitbucket.org/grupoalimenta/produccion_backend/models"
	"bitbucket.org/grupoalimenta/produccion_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// LotWasteInput describes spoiled material found in a raw lot.
type LotWasteInput struct {
	LotId    int                `json:"lot_id" binding:"required"`
	Qty      decimal.Decimal    `json:"qty" binding:"required"`
	MotiveId int                `json:"motive_id" binding:"required"`
	Action   models.WasteAction `json:"action" binding:"required"`
	PhotoUrl string             `json:"photo_url"`
}

// RecordLotWaste writes off spoiled quantity from a lot, quarantine first.
// When the action is Replan or Cancel, every order holding an active
// reservation against the lot is released and reset to Pending or cancelled
// outright.
func RecordLotWaste(ctx context.Context, logger *logrus.Logger, input LotWasteInput) (*models.WasteRecord, error) {
	db := config.GetDB()

	if !input.Qty.IsPositive() {
		return nil, utils.NewValidationError("waste qty must be positive", map[string]string{"qty": "gt=0"})
	}
	if _, err := models.ParseWasteAction(string(input.Action)); err != nil {
		return nil, utils.NewValidationError("unknown waste action", map[string]string{"action": "oneof=Ignore Replan Cancel"})
	}

	userId, _ := utils.GetUserIdFromContext(ctx)
	input.PhotoUrl = utils.NormalizePhotoUrl(input.PhotoUrl)

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	var lot models.InsumoLot
	if err := tx.First(&lot, input.LotId).Error; err != nil {
		tx.Rollback()
		return nil, utils.NewNotFoundError("insumo_lot", input.LotId)
	}

	held := lot.QuarantineQty.Add(lot.CurrentQty)
	if input.Qty.GreaterThan(held.Add(utils.QtyTolerance)) {
		tx.Rollback()
		return nil, utils.NewValidationError("waste exceeds lot stock", map[string]string{"qty": "lte=lot_stock"})
	}

	fromQuarantine := decimal.Min(input.Qty, lot.QuarantineQty)
	fromCurrent := input.Qty.Sub(fromQuarantine)

	newQuarantine := utils.ZeroIfNegligible(lot.QuarantineQty.Sub(fromQuarantine))
	newCurrent := utils.ZeroIfNegligible(lot.CurrentQty.Sub(fromCurrent))

	updates := map[string]interface{}{
		"quarantine_qty": newQuarantine,
		"current_qty":    newCurrent,
	}
	if newQuarantine.IsZero() && newCurrent.IsZero() {
		updates["state"] = models.InsumoLotStateRetired
	}
	applied, err := models.UpdateLotGuarded(tx, &lot, updates)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if !applied {
		tx.Rollback()
		return nil, utils.NewConflictError("lot changed while recording waste")
	}

	record := models.WasteRecord{
		LotId:      lot.ID,
		InsumoId:   lot.InsumoId,
		Qty:        input.Qty,
		MotiveId:   input.MotiveId,
		Action:     input.Action,
		PhotoUrl:   input.PhotoUrl,
		ReportedBy: userId,
	}
	if err := models.CreateWasteRecord(tx, &record); err != nil {
		tx.Rollback()
		return nil, err
	}

	if input.Action != models.WasteActionIgnore {
		if err := cascadeWasteToOrders(ctx, tx, logger, lot.ID, input.Action); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// cascadeWasteToOrders releases every order reserved against a wasted lot
// and resets it (Replan) or cancels it (Cancel).
func cascadeWasteToOrders(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, lotId int, action models.WasteAction) error {
	reservations, err := models.ActiveReservationsForLot(tx, lotId)
	if err != nil {
		return err
	}
	poIds := []int{}
	for _, res := range reservations {
		poIds = append(poIds, res.ProductionOrderId)
	}
	poIds = utils.UniqueSlice(poIds)

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	for _, poId := range poIds {
		var po models.ProductionOrder
		if err := tx.First(&po, poId).Error; err != nil {
			return err
		}

		// decide cancellability BEFORE touching reservations: an order
		// already on the floor keeps its holds, the material is in play
		if action == models.WasteActionCancel && !models.TransitionAllowed(po.State, models.ProductionOrderStateCancelled) {
			config.LogWarn(logger, "lotWaste.go", "cascadeWasteToOrders", "order not cancellable, reservations kept", poId, string(po.State))
			continue
		}

		if err := ReleaseReservations(tx, logger, poId); err != nil {
			return err
		}

		eventAction := "waste_cancelled"
		if action == models.WasteActionReplan {
			eventAction = "waste_replanned"
		}

		if action == models.WasteActionReplan {
			// back to the planning pool; state guard does not apply because
			// Pending is a reset, not a forward transition
			err := tx.Model(&models.ProductionOrder{}).
				Where("id = ?", poId).
				Updates(map[string]interface{}{
					"state":              models.ProductionOrderStatePending,
					"line_assigned":      0,
					"planned_start_date": nil,
					"approved_at":        nil,
				}).Error
			if err != nil {
				return err
			}
		} else {
			applied, err := models.UpdateStateGuarded(tx, poId, po.State, models.ProductionOrderStateCancelled, nil)
			if err != nil {
				return err
			}
			if !applied {
				return utils.NewConflictError("order state changed during waste cascade")
			}
		}

		if err := models.RecordEvent(tx, models.EventReferenceTypeOP, poId, eventAction, po, correlationId); err != nil {
			return err
		}
	}
	return nil
}
