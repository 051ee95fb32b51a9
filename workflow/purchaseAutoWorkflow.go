package workflow

import (
	"context"
	"sort"
	"time"

	"bitbucket.org/grupoalimenta/produccion_backend/config"
	"bitbucket.org/grupoalimenta/produccion_backend/models"
	"bitbucket.org/grupoalimenta/produccion_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ReceiptLine is one delivered line of a reception.
type ReceiptLine struct {
	InsumoId    int             `json:"insumo_id" binding:"required"`
	ReceivedQty decimal.Decimal `json:"received_qty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	ExpiryDate  *time.Time      `json:"expiry_date"`
}

// AutoGeneratePurchaseOrders turns shortages into Pending purchase orders,
// one per default supplier, rounding each missing quantity up to whole
// procurement units. Insumos already awaiting restock are skipped; the flag
// is raised on the ones ordered here so the daily planner cannot order them
// twice while the chain is open.
func AutoGeneratePurchaseOrders(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, shortages []Shortage, parentPoId int) ([]models.PurchaseOrder, error) {
	userId, _ := utils.GetUserIdFromContext(ctx)
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

	bySupplier := map[int][]models.PurchaseOrderItem{}
	flagged := []int{}
	for _, shortage := range shortages {
		var insumo models.Insumo
		if err := tx.First(&insumo, shortage.InsumoId).Error; err != nil {
			return nil, err
		}
		if insumo.IsAwaitingRestock() {
			config.LogWarn(logger, "purchaseAutoWorkflow.go", "AutoGeneratePurchaseOrders", "insumo already awaiting restock", insumo.ID, "skipping duplicate order")
			continue
		}
		if insumo.DefaultSupplierId == 0 {
			config.LogWarn(logger, "purchaseAutoWorkflow.go", "AutoGeneratePurchaseOrders", "insumo has no default supplier", insumo.ID, "manual purchase required")
			continue
		}
		bySupplier[insumo.DefaultSupplierId] = append(bySupplier[insumo.DefaultSupplierId], models.PurchaseOrderItem{
			InsumoId:   shortage.InsumoId,
			OrderedQty: utils.CeilToInt(shortage.Missing),
			UnitCost:   insumo.CatalogPrice,
		})
		flagged = append(flagged, insumo.ID)
	}

	supplierIds := make([]int, 0, len(bySupplier))
	for id := range bySupplier {
		supplierIds = append(supplierIds, id)
	}
	sort.Ints(supplierIds)

	created := []models.PurchaseOrder{}
	for _, supplierId := range supplierIds {
		supplier, err := models.GetSupplier(ctx, supplierId)
		if err != nil {
			return nil, utils.NewNotFoundError("supplier", supplierId)
		}
		expected := time.Now().AddDate(0, 0, supplier.LeadTimeDays)
		oc := models.PurchaseOrder{
			SupplierId:        supplierId,
			ExpectedAt:        &expected,
			ProductionOrderId: parentPoId,
			CreatedBy:         userId,
			Items:             bySupplier[supplierId],
		}
		if err := models.CreatePurchaseOrder(ctx, tx, &oc); err != nil {
			return nil, err
		}
		if err := models.RecordEvent(tx, models.EventReferenceTypeOC, oc.ID, "created", oc, correlationId); err != nil {
			return nil, err
		}
		created = append(created, oc)
	}

	if len(flagged) > 0 {
		if err := models.SetAwaitingRestock(tx, flagged, true); err != nil {
			return nil, err
		}
	}
	return created, nil
}

// ApprovePurchaseOrder confirms a Pending order for sending to the
// supplier.
func ApprovePurchaseOrder(ctx context.Context, poId int) error {
	return advancePurchase(ctx, poId, models.PurchaseOrderStatePending, models.PurchaseOrderStateApproved, nil)
}

// MarkPurchaseInTransit notes the supplier confirmed dispatch.
func MarkPurchaseInTransit(ctx context.Context, poId int) error {
	return advancePurchase(ctx, poId, models.PurchaseOrderStateApproved, models.PurchaseOrderStateInTransit, nil)
}

func advancePurchase(ctx context.Context, poId int, from, to models.PurchaseOrderState, extra map[string]interface{}) error {
	db := config.GetDB()
	applied, err := models.UpdatePurchaseStateGuarded(db.WithContext(ctx), poId, from, to, extra)
	if err != nil {
		return err
	}
	if !applied {
		return utils.NewConflictError("purchase order state changed")
	}
	return nil
}

// ReceivePurchaseOrder books a delivery against an InTransit order. Every
// received line becomes an inventory lot stamped with the order code as its
// ingress document. Short lines spawn one complementary order carrying the
// remainder, linked through complements_id; the current order lands in
// ReceptionIncomplete. A full delivery lands in ReceptionComplete.
func ReceivePurchaseOrder(ctx context.Context, logger *logrus.Logger, poId int, receipts []ReceiptLine) (*models.PurchaseOrder, error) {
	db := config.GetDB()

	oc, err := models.GetPurchaseOrder(ctx, poId)
	if err != nil {
		return nil, utils.NewNotFoundError("purchase_order", poId)
	}
	if oc.State != models.PurchaseOrderStateInTransit {
		return nil, utils.NewPreconditionError("order is not in transit",
			string(oc.State), string(models.PurchaseOrderStateReceptionComplete))
	}

	receivedBy := map[int]ReceiptLine{}
	for _, line := range receipts {
		if line.ReceivedQty.IsNegative() {
			return nil, utils.NewValidationError("received qty cannot be negative", map[string]string{"received_qty": "gte=0"})
		}
		receivedBy[line.InsumoId] = line
	}

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	now := time.Now()

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	missingItems := []models.PurchaseOrderItem{}
	for _, item := range oc.Items {
		line, delivered := receivedBy[item.InsumoId]
		received := decimal.Zero
		if delivered {
			received = decimal.Min(line.ReceivedQty, item.OrderedQty)
			if line.ReceivedQty.GreaterThan(item.OrderedQty) {
				config.LogWarn(logger, "purchaseAutoWorkflow.go", "ReceivePurchaseOrder", "over-delivery clamped to ordered qty", item.InsumoId, line.ReceivedQty.String())
			}
		}

		if err := tx.Model(&models.PurchaseOrderItem{}).
			Where("id = ?", item.ID).
			Update("received_qty", received).Error; err != nil {
			tx.Rollback()
			return nil, err
		}

		if received.IsPositive() {
			unitCost := line.UnitCost
			if !unitCost.IsPositive() {
				unitCost = item.UnitCost
			}
			lot := models.InsumoLot{
				InsumoId:        item.InsumoId,
				SupplierId:      oc.SupplierId,
				InitialQty:      received,
				CurrentQty:      received,
				UnitCost:        unitCost,
				IngressDate:     now,
				ExpiryDate:      line.ExpiryDate,
				State:           models.InsumoLotStateAvailable,
				IngressDocument: oc.Code,
			}
			if err := tx.Create(&lot).Error; err != nil {
				tx.Rollback()
				return nil, err
			}
		}

		item.ReceivedQty = received
		if missing := item.MissingQty(); missing.IsPositive() {
			missingItems = append(missingItems, models.PurchaseOrderItem{
				InsumoId:   item.InsumoId,
				OrderedQty: missing,
				UnitCost:   item.UnitCost,
			})
		}
	}

	target := models.PurchaseOrderStateReceptionComplete
	if len(missingItems) > 0 {
		target = models.PurchaseOrderStateReceptionIncomplete
	}
	applied, err := models.UpdatePurchaseStateGuarded(tx, oc.ID,
		models.PurchaseOrderStateInTransit, target,
		map[string]interface{}{"received_at": now})
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if !applied {
		tx.Rollback()
		return nil, utils.NewConflictError("purchase order state changed during reception")
	}
	oc.State = target
	oc.ReceivedAt = &now

	if len(missingItems) > 0 {
		supplier, err := models.GetSupplier(ctx, oc.SupplierId)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		expected := now.AddDate(0, 0, supplier.LeadTimeDays)
		complement := models.PurchaseOrder{
			SupplierId:        oc.SupplierId,
			ExpectedAt:        &expected,
			ComplementsId:     oc.ID,
			ProductionOrderId: oc.ProductionOrderId,
			CreatedBy:         oc.CreatedBy,
			Items:             missingItems,
		}
		if err := models.CreatePurchaseOrder(ctx, tx, &complement); err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := models.RecordEvent(tx, models.EventReferenceTypeOC, complement.ID, "complement_created", complement, correlationId); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := models.RecordEvent(tx, models.EventReferenceTypeOC, oc.ID, "received", oc, correlationId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return oc, nil
}

// PassPurchaseQuality moves a received order into quality review.
func PassPurchaseQuality(ctx context.Context, poId int) error {
	db := config.GetDB()
	oc, err := models.GetPurchaseOrder(ctx, poId)
	if err != nil {
		return utils.NewNotFoundError("purchase_order", poId)
	}
	return advancePurchaseFrom(db.WithContext(ctx), oc, models.PurchaseOrderStateInQualityCheck)
}

func advancePurchaseFrom(tx *gorm.DB, oc *models.PurchaseOrder, to models.PurchaseOrderState) error {
	applied, err := models.UpdatePurchaseStateGuarded(tx, oc.ID, oc.State, to, nil)
	if err != nil {
		return err
	}
	if !applied {
		return utils.NewConflictError("purchase order state changed")
	}
	return nil
}

// ClosePurchaseOrder finishes the quality review of a delivery. When the
// order feeds a waiting production order, the freshly ingressed lots are
// bound to it; once no complement of the chain remains open, the
// awaiting-restock flag is cleared on every insumo of the chain and the
// production order re-runs its reserve.
func ClosePurchaseOrder(ctx context.Context, logger *logrus.Logger, poId int) (*models.PurchaseOrder, error) {
	db := config.GetDB()

	oc, err := models.GetPurchaseOrder(ctx, poId)
	if err != nil {
		return nil, utils.NewNotFoundError("purchase_order", poId)
	}
	if oc.State != models.PurchaseOrderStateInQualityCheck {
		return nil, utils.NewPreconditionError("order must pass quality review first",
			string(oc.State), string(models.PurchaseOrderStateClosed))
	}

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	applied, err := models.UpdatePurchaseStateGuarded(tx, oc.ID,
		models.PurchaseOrderStateInQualityCheck, models.PurchaseOrderStateClosed, nil)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if !applied {
		tx.Rollback()
		return nil, utils.NewConflictError("purchase order state changed during close")
	}
	oc.State = models.PurchaseOrderStateClosed

	if oc.ProductionOrderId != 0 {
		lots, err := models.LotsByIngressDocument(tx, oc.Code)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		// earmark only; the state stays Available so the re-reserve below
		// can carve these lots
		for i := range lots {
			applied, err := models.UpdateLotGuarded(tx, &lots[i], map[string]interface{}{
				"production_order_id": oc.ProductionOrderId,
			})
			if err != nil {
				tx.Rollback()
				return nil, err
			}
			if !applied {
				config.LogWarn(logger, "purchaseAutoWorkflow.go", "ClosePurchaseOrder", "lot changed while binding to order", lots[i].ID, "left unbound")
			}
		}
	}

	root, err := models.RootPurchaseOrder(tx, oc)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	openLeft, err := models.OpenComplementsExist(tx, root.ID, oc.ID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	rootOpen := root.ID != oc.ID && root.State != models.PurchaseOrderStateClosed &&
		root.State != models.PurchaseOrderStateRejected && root.State != models.PurchaseOrderStateCancelled

	if !openLeft && !rootOpen {
		chainInsumos, err := models.ChainInsumoIds(tx, root.ID)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := models.SetAwaitingRestock(tx, chainInsumos, false); err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := StockArrived(ctx, tx, logger, root.ProductionOrderId); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := models.RecordEvent(tx, models.EventReferenceTypeOC, oc.ID, "closed", oc, correlationId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return oc, nil
}
