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

// defaultShelfLifeDays is applied when the product carries no expiry rule.
const defaultShelfLifeDays = 30

// CompleteProductionOrder passes quality on an order: it emits the finished
// lot, seals the consumed reservations and closes the lifecycle. Lot
// creation failure aborts the transition; a failed reservation seal only
// warns, the material is already spent.
func CompleteProductionOrder(ctx context.Context, logger *logrus.Logger, poId int) (*models.FinishedProductLot, error) {
	db := config.GetDB()

	po, err := models.GetProductionOrder(ctx, poId)
	if err != nil {
		return nil, utils.NewNotFoundError("production_order", poId)
	}
	if po.State != models.ProductionOrderStateQualityCheck {
		return nil, utils.NewPreconditionError("order must be in quality check",
			string(po.State), string(models.ProductionOrderStateCompleted))
	}

	if po.ProducedQty.GreaterThan(po.PlannedQty.Add(utils.QtyTolerance)) {
		config.LogWarn(logger, "completion.go", "CompleteProductionOrder", "produced above planned", po.ID,
			po.ProducedQty.Sub(po.PlannedQty).String())
	}

	unitCost, err := completedUnitCost(ctx, po)
	if err != nil {
		config.LogWarn(logger, "completion.go", "CompleteProductionOrder", "unit cost fell back to catalog", po.ID, err.Error())
	}

	now := time.Now()
	expiry := now.AddDate(0, 0, defaultShelfLifeDays)
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	lot := models.FinishedProductLot{
		ProductId:         po.ProductId,
		ProductionOrderId: po.ID,
		Qty:               po.ProducedQty,
		UnitCost:          unitCost,
		ProducedAt:        now,
		ExpiryDate:        &expiry,
		State:             models.FinishedLotStateQuarantine,
	}
	if utils.IsEffectivelyZero(po.ProducedQty) {
		// a zero-yield run still gets its lot for traceability, born dead
		lot.Qty = decimal.Zero
		lot.State = models.FinishedLotStateDepleted
	}
	if err := models.CreateFinishedProductLot(ctx, tx, &lot); err != nil {
		tx.Rollback()
		return nil, err
	}

	applied, err := models.UpdateStateGuarded(tx, po.ID,
		models.ProductionOrderStateQualityCheck, models.ProductionOrderStateCompleted,
		map[string]interface{}{"finished_at": now})
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if !applied {
		tx.Rollback()
		return nil, utils.NewConflictError("order state changed during completion")
	}

	if err := ConsumeReservations(tx, po.ID); err != nil {
		config.LogWarn(logger, "completion.go", "CompleteProductionOrder", "could not seal reservations", po.ID, err.Error())
	}

	if err := models.RecordEvent(tx, models.EventReferenceTypeLOTE, lot.ID, "created", lot, correlationId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := models.RecordEvent(tx, models.EventReferenceTypeOP, po.ID, "completed", po, correlationId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &lot, nil
}

// ReleaseFinishedLot moves a quarantined lot to Available after quality
// inspection.
func ReleaseFinishedLot(ctx context.Context, lotId int) error {
	db := config.GetDB()
	res := db.WithContext(ctx).Model(&models.FinishedProductLot{}).
		Where("id = ? AND state = ?", lotId, models.FinishedLotStateQuarantine).
		Update("state", models.FinishedLotStateAvailable)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.NewPreconditionError("lot is not in quarantine", "", string(models.FinishedLotStateAvailable))
	}
	return nil
}

// RejectFinishedLot marks a quarantined lot unusable.
func RejectFinishedLot(ctx context.Context, lotId int) error {
	db := config.GetDB()
	res := db.WithContext(ctx).Model(&models.FinishedProductLot{}).
		Where("id = ? AND state = ?", lotId, models.FinishedLotStateQuarantine).
		Update("state", models.FinishedLotStateRejected)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.NewPreconditionError("lot is not in quarantine", "", string(models.FinishedLotStateRejected))
	}
	return nil
}

// completedUnitCost prices the finished units from the lots the order
// actually consumed; a costless run falls back to the recipe's catalog
// pricing.
func completedUnitCost(ctx context.Context, po *models.ProductionOrder) (decimal.Decimal, error) {
	db := config.GetDB()

	type costRow struct {
		Total decimal.Decimal
	}
	var row costRow
	err := db.WithContext(ctx).Model(&models.InsumoReservation{}).
		Select("COALESCE(SUM(insumo_reservations.reserved_qty * insumo_lots.unit_cost), 0) AS total").
		Joins("JOIN insumo_lots ON insumo_lots.id = insumo_reservations.lot_id").
		Where("insumo_reservations.production_order_id = ? AND insumo_reservations.state IN ?", po.ID,
			[]models.ReservationState{models.ReservationStateReserved, models.ReservationStateConsumed}).
		Scan(&row).Error
	if err == nil && row.Total.IsPositive() && po.ProducedQty.IsPositive() {
		return row.Total.Div(po.ProducedQty), nil
	}

	recipe, rerr := models.GetRecipeById(ctx, po.RecipeId)
	if rerr != nil {
		return decimal.Zero, rerr
	}
	cache, cerr := BulkCostCache(db.WithContext(ctx), RecipeInsumoIds(recipe))
	if cerr != nil {
		return decimal.Zero, cerr
	}
	return UnitCost(ctx, db.WithContext(ctx), po.ProductId, cache)
}
