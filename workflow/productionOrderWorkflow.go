package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/grupoalimenta/produccion_backend/config"
	"bitbucket.org/grupoalimenta/produccion_backend/models"
	"bitbucket.org/grupoalimenta/produccion_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ApprovalResult summarises one approval attempt for the caller.
type ApprovalResult struct {
	ProductionOrder *models.ProductionOrder `json:"production_order"`
	Simulation      *SimulationResult       `json:"simulation"`
	Shortages       []Shortage              `json:"shortages"`
	PurchaseOrders  []models.PurchaseOrder  `json:"purchase_orders"`
}

// ApproveProductionOrder runs the approval pipeline on a Pending order:
// resolve the recipe, simulate capacity on the requested line and start,
// then reserve stock. Full coverage lands the order in Approved; a
// shortage lands it in WaitingStock with purchase orders auto-generated
// for the remainder.
func ApproveProductionOrder(ctx context.Context, logger *logrus.Logger, poId int, line int, startDate time.Time) (*ApprovalResult, error) {
	db := config.GetDB()

	po, err := models.GetProductionOrder(ctx, poId)
	if err != nil {
		return nil, utils.NewNotFoundError("production_order", poId)
	}
	if po.State != models.ProductionOrderStatePending {
		return nil, utils.NewPreconditionError("only pending orders can be approved",
			string(po.State), string(models.ProductionOrderStateApproved))
	}

	recipe, err := models.GetRecipeById(ctx, po.RecipeId)
	if err != nil {
		return nil, utils.NewValidationError("order recipe no longer exists", map[string]string{"recipe_id": "exists"})
	}
	if !recipe.CompatibleWithLine(line) {
		return nil, utils.NewValidationError("recipe is not compatible with the line", map[string]string{"line": "compatible"})
	}

	load := LoadMinutes(logger, recipe, po.PlannedQty)
	sim, err := SimulateLoad(ctx, logger, line, startDate, load, po.ID)
	if err != nil {
		return nil, err
	}

	result := ApprovalResult{Simulation: sim}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	shortages, err := ReserveStock(tx, logger, po, recipe)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	result.Shortages = shortages

	now := time.Now()
	startOfWindow := sim.FirstUsedDate
	if sim.DaysUsed == 0 {
		startOfWindow = utils.DateOnly(startDate)
	}

	if len(shortages) == 0 {
		applied, err := models.UpdateStateGuarded(tx, po.ID,
			models.ProductionOrderStatePending, models.ProductionOrderStateApproved,
			map[string]interface{}{
				"line_assigned":      line,
				"planned_start_date": startOfWindow,
				"approved_at":        now,
			})
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if !applied {
			// someone approved or cancelled this order between our read and
			// write; reservations must not stay behind
			if relErr := ReleaseReservations(tx, logger, po.ID); relErr != nil {
				config.LogError(logger, "productionOrderWorkflow.go", "ApproveProductionOrder", "release after lost guard", po.ID, relErr)
			}
			tx.Rollback()
			return nil, utils.NewConflictError("order state changed during approval")
		}
		po.State = models.ProductionOrderStateApproved
	} else {
		applied, err := models.UpdateStateGuarded(tx, po.ID,
			models.ProductionOrderStatePending, models.ProductionOrderStateWaitingStock,
			map[string]interface{}{
				"line_assigned":      line,
				"planned_start_date": startOfWindow,
				"approved_at":        now,
			})
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if !applied {
			if relErr := ReleaseReservations(tx, logger, po.ID); relErr != nil {
				config.LogError(logger, "productionOrderWorkflow.go", "ApproveProductionOrder", "release after lost guard", po.ID, relErr)
			}
			tx.Rollback()
			return nil, utils.NewConflictError("order state changed during approval")
		}
		po.State = models.ProductionOrderStateWaitingStock

		ocs, err := AutoGeneratePurchaseOrders(ctx, tx, logger, shortages, po.ID)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		result.PurchaseOrders = ocs
	}

	po.LineAssigned = line
	po.PlannedStartDate = &startOfWindow
	po.ApprovedAt = &now

	if err := models.RecordEvent(tx, models.EventReferenceTypeOP, po.ID, "approved", po, correlationId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	result.ProductionOrder = po
	return &result, nil
}

// ConsolidateOrders folds several Pending orders of the same product into a
// new parent carrying the summed quantity and the earliest target date.
func ConsolidateOrders(ctx context.Context, logger *logrus.Logger, poIds []int) (*models.ProductionOrder, error) {
	db := config.GetDB()

	poIds = utils.UniqueSlice(poIds)
	if len(poIds) < 2 {
		return nil, utils.NewValidationError("consolidation needs at least two orders", map[string]string{"po_ids": "min=2"})
	}

	var orders []models.ProductionOrder
	if err := db.WithContext(ctx).Where("id IN ?", poIds).Find(&orders).Error; err != nil {
		return nil, err
	}
	if len(orders) != len(poIds) {
		return nil, utils.NewNotFoundError("production_order", 0)
	}

	productId := orders[0].ProductId
	total := decimal.Zero
	target := orders[0].TargetDate
	for _, po := range orders {
		if po.State != models.ProductionOrderStatePending {
			return nil, utils.NewPreconditionError("only pending orders consolidate",
				string(po.State), string(models.ProductionOrderStateConsolidated))
		}
		if po.ProductId != productId {
			return nil, utils.NewValidationError("orders must share a product", map[string]string{"product_id": "uniform"})
		}
		if po.ParentId != 0 {
			return nil, utils.NewValidationError("order already consolidated", map[string]string{"parent_id": "empty"})
		}
		total = total.Add(po.PlannedQty)
		if po.TargetDate.Before(target) {
			target = po.TargetDate
		}
	}

	userId, _ := utils.GetUserIdFromContext(ctx)
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

	recipe, err := models.GetActiveRecipe(ctx, productId)
	if err != nil {
		return nil, utils.NewValidationError("product has no active recipe", map[string]string{"product_id": "no_active_recipe"})
	}

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	parent := models.ProductionOrder{
		ProductId:  productId,
		RecipeId:   recipe.ID,
		PlannedQty: total,
		TargetDate: target,
		State:      models.ProductionOrderStatePending,
		CreatedBy:  userId,
	}
	seqNo, err := utils.GetSequence[models.ProductionOrder](ctx)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	parent.SequenceNo = decimal.NewFromInt(seqNo)
	parent.Code = fmt.Sprintf("OP-%05d", seqNo)
	if err := tx.Create(&parent).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	for _, po := range orders {
		applied, err := models.UpdateStateGuarded(tx, po.ID,
			models.ProductionOrderStatePending, models.ProductionOrderStateConsolidated,
			map[string]interface{}{"parent_id": parent.ID})
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if !applied {
			tx.Rollback()
			return nil, utils.NewConflictError("order state changed during consolidation")
		}
	}

	if err := models.RecordEvent(tx, models.EventReferenceTypeOP, parent.ID, "consolidated", parent, correlationId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &parent, nil
}

// CancelProductionOrder rejects an order that has not reached the floor,
// returning any reserved stock.
func CancelProductionOrder(ctx context.Context, logger *logrus.Logger, poId int) (*models.ProductionOrder, error) {
	db := config.GetDB()

	po, err := models.GetProductionOrder(ctx, poId)
	if err != nil {
		return nil, utils.NewNotFoundError("production_order", poId)
	}

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	applied, err := models.UpdateStateGuarded(tx, po.ID, po.State, models.ProductionOrderStateCancelled, nil)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if !applied {
		tx.Rollback()
		return nil, utils.NewConflictError("order state changed during cancellation")
	}

	if err := ReleaseReservations(tx, logger, po.ID); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := models.RecordEvent(tx, models.EventReferenceTypeOP, po.ID, "cancelled", po, correlationId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	po.State = models.ProductionOrderStateCancelled
	return po, nil
}

// StockArrived is the purchase-chain callback: re-run the reserve on a
// WaitingStock order and, if the remainder is now covered, move it to
// Ready.
func StockArrived(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, poId int) error {
	po, err := models.WaitingOrderForPurchase(tx, poId)
	if err != nil {
		return err
	}
	if po == nil {
		return nil
	}

	recipe, err := models.GetRecipeById(ctx, po.RecipeId)
	if err != nil {
		return err
	}
	shortages, err := ReserveStock(tx, logger, po, recipe)
	if err != nil {
		return err
	}
	if len(shortages) > 0 {
		config.LogWarn(logger, "productionOrderWorkflow.go", "StockArrived", "order still short after restock", po.ID, "waiting for remaining chain")
		return nil
	}

	applied, err := models.UpdateStateGuarded(tx, po.ID,
		models.ProductionOrderStateWaitingStock, models.ProductionOrderStateReady, nil)
	if err != nil {
		return err
	}
	if !applied {
		return utils.NewConflictError("order state changed while marking ready")
	}

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	return models.RecordEvent(tx, models.EventReferenceTypeOP, po.ID, "ready", po, correlationId)
}

// MarkApprovedReady moves a fully reserved Approved order onto the floor
// queue.
func MarkApprovedReady(ctx context.Context, poId int) error {
	db := config.GetDB()
	po, err := models.GetProductionOrder(ctx, poId)
	if err != nil {
		return utils.NewNotFoundError("production_order", poId)
	}
	applied, err := models.UpdateStateGuarded(db.WithContext(ctx), po.ID,
		models.ProductionOrderStateApproved, models.ProductionOrderStateReady, nil)
	if err != nil {
		return err
	}
	if !applied {
		return utils.NewPreconditionError("order is not approved", string(po.State), string(models.ProductionOrderStateReady))
	}
	return nil
}
