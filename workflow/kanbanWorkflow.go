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

const kanbanStatusTTL = 10 * time.Second

// KanbanStatus is the live view of a running order the floor screens poll.
type KanbanStatus struct {
	ProductionOrderId int                         `json:"production_order_id"`
	Code              string                      `json:"code"`
	State             models.ProductionOrderState `json:"state"`
	ElapsedSeconds    int64                       `json:"elapsed_seconds"`
	ProductiveSeconds int64                       `json:"productive_seconds"`
	ProducedQty       decimal.Decimal             `json:"produced_qty"`
	PlannedQty        decimal.Decimal             `json:"planned_qty"`
	CurrentRate       decimal.Decimal             `json:"current_rate"`
	TargetRate        decimal.Decimal             `json:"target_rate"`
	OEE               OEEResult                   `json:"oee"`
	LastEvent         string                      `json:"last_event"`
	LastEventAt       time.Time                   `json:"last_event_at"`
}

// ProgressReport is what an operator submits from the line.
type ProgressReport struct {
	GoodQty       decimal.Decimal `json:"good_qty"`
	WasteQty      decimal.Decimal `json:"waste_qty"`
	WasteMotiveId int             `json:"waste_motive_id"`
	PhotoUrl      string          `json:"photo_url"`
	Finalize      bool            `json:"finalize"`
}

// StartProduction takes a Ready order onto the floor and opens its first
// production interval.
func StartProduction(ctx context.Context, logger *logrus.Logger, poId int) (*models.ProductionOrder, error) {
	db := config.GetDB()

	po, err := models.GetProductionOrder(ctx, poId)
	if err != nil {
		return nil, utils.NewNotFoundError("production_order", poId)
	}

	userId, _ := utils.GetUserIdFromContext(ctx)
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	now := time.Now()

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	applied, err := models.UpdateStateGuarded(tx, po.ID,
		models.ProductionOrderStateReady, models.ProductionOrderStateInProgress,
		map[string]interface{}{"started_at": now, "operator_id": userId})
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if !applied {
		tx.Rollback()
		return nil, utils.NewPreconditionError("order is not ready to start",
			string(po.State), string(models.ProductionOrderStateInProgress))
	}

	interval := models.KanbanInterval{
		ProductionOrderId: po.ID,
		Kind:              models.IntervalKindProduction,
		StartedAt:         now,
		ReportedBy:        userId,
	}
	if err := tx.Create(&interval).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := models.RecordEvent(tx, models.EventReferenceTypeOP, po.ID, "started", po, correlationId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	po.State = models.ProductionOrderStateInProgress
	po.StartedAt = &now
	invalidateKanbanStatus(logger, po.ID)
	return po, nil
}

// PauseProduction closes the running interval and opens a pause carrying
// the motive.
func PauseProduction(ctx context.Context, logger *logrus.Logger, poId int, motiveId int) error {
	return switchInterval(ctx, logger, poId, models.IntervalKindProduction, models.IntervalKindPause, motiveId, "paused")
}

// ResumeProduction closes the pause and reopens a production interval.
func ResumeProduction(ctx context.Context, logger *logrus.Logger, poId int) error {
	return switchInterval(ctx, logger, poId, models.IntervalKindPause, models.IntervalKindProduction, 0, "resumed")
}

func switchInterval(ctx context.Context, logger *logrus.Logger, poId int, fromKind, toKind models.IntervalKind, motiveId int, eventAction string) error {
	db := config.GetDB()

	po, err := models.GetProductionOrder(ctx, poId)
	if err != nil {
		return utils.NewNotFoundError("production_order", poId)
	}
	if po.State != models.ProductionOrderStateInProgress {
		return utils.NewPreconditionError("order is not running",
			string(po.State), string(models.ProductionOrderStateInProgress))
	}

	userId, _ := utils.GetUserIdFromContext(ctx)
	now := time.Now()

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	open, err := models.OpenInterval(tx, po.ID)
	if err != nil {
		tx.Rollback()
		return err
	}
	if open == nil || open.Kind != fromKind {
		tx.Rollback()
		current := "none"
		if open != nil {
			current = string(open.Kind)
		}
		return utils.NewPreconditionError("no open interval of the expected kind", current, string(fromKind))
	}
	if err := models.CloseInterval(tx, open, now); err != nil {
		tx.Rollback()
		return err
	}

	next := models.KanbanInterval{
		ProductionOrderId: po.ID,
		Kind:              toKind,
		MotiveId:          motiveId,
		StartedAt:         now,
		ReportedBy:        userId,
	}
	if err := tx.Create(&next).Error; err != nil {
		tx.Rollback()
		return err
	}

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	if err := models.RecordEvent(tx, models.EventReferenceTypeOP, po.ID, eventAction, next, correlationId); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return err
	}
	invalidateKanbanStatus(logger, po.ID)
	return nil
}

// ReportProgress books output against a running order. Good units add to
// produced_qty; waste is written against the order and its consumed stock.
// The finalize flag ends the run and hands the order to quality.
func ReportProgress(ctx context.Context, logger *logrus.Logger, poId int, report ProgressReport) (*models.ProductionOrder, error) {
	db := config.GetDB()

	if report.GoodQty.IsNegative() || report.WasteQty.IsNegative() {
		return nil, utils.NewValidationError("quantities cannot be negative", map[string]string{"good_qty": "gte=0", "waste_qty": "gte=0"})
	}
	if report.WasteQty.IsPositive() && report.WasteMotiveId == 0 {
		return nil, utils.NewValidationError("waste requires a motive", map[string]string{"waste_motive_id": "required"})
	}

	po, err := models.GetProductionOrder(ctx, poId)
	if err != nil {
		return nil, utils.NewNotFoundError("production_order", poId)
	}
	if po.State != models.ProductionOrderStateInProgress {
		return nil, utils.NewPreconditionError("order is not running",
			string(po.State), string(models.ProductionOrderStateQualityCheck))
	}

	userId, _ := utils.GetUserIdFromContext(ctx)
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	now := time.Now()

	report.PhotoUrl = utils.NormalizePhotoUrl(report.PhotoUrl)
	newProduced := po.ProducedQty.Add(report.GoodQty)
	if newProduced.GreaterThan(po.PlannedQty.Add(utils.QtyTolerance)) {
		config.LogWarn(logger, "kanbanWorkflow.go", "ReportProgress", "produced above planned", po.ID,
			newProduced.Sub(po.PlannedQty).String())
	}

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	updates := map[string]interface{}{
		"produced_qty": gorm.Expr("produced_qty + ?", report.GoodQty),
	}
	if report.WasteQty.IsPositive() {
		updates["waste_qty"] = gorm.Expr("waste_qty + ?", report.WasteQty)
	}
	if err := tx.Model(&models.ProductionOrder{}).Where("id = ?", po.ID).Updates(updates).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	open, err := models.OpenInterval(tx, po.ID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if open != nil && open.Kind == models.IntervalKindProduction {
		err := tx.Model(open).Updates(map[string]interface{}{
			"good_qty":   gorm.Expr("good_qty + ?", report.GoodQty),
			"defect_qty": gorm.Expr("defect_qty + ?", report.WasteQty),
		}).Error
		if err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if report.WasteQty.IsPositive() {
		if err := attributeProgressWaste(ctx, tx, po, report, userId); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if report.Finalize {
		if open != nil {
			if err := models.CloseInterval(tx, open, now); err != nil {
				tx.Rollback()
				return nil, err
			}
		}
		applied, err := models.UpdateStateGuarded(tx, po.ID,
			models.ProductionOrderStateInProgress, models.ProductionOrderStateQualityCheck, nil)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if !applied {
			tx.Rollback()
			return nil, utils.NewConflictError("order state changed while finalizing")
		}
		po.State = models.ProductionOrderStateQualityCheck
	}

	if err := models.RecordEvent(tx, models.EventReferenceTypeOP, po.ID, "progress", report, correlationId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	po.ProducedQty = newProduced
	invalidateKanbanStatus(logger, po.ID)
	return po, nil
}

// attributeProgressWaste pins reported scrap on the raw lots that fed the
// run. Scrapped units are converted to ingredient quantities through the
// recipe and walked over the order's reservations in carve (FEFO) order,
// one waste record per touched lot. Whatever cannot be pinned on a lot is
// kept as an order-level record so the quantity is never lost.
func attributeProgressWaste(ctx context.Context, tx *gorm.DB, po *models.ProductionOrder, report ProgressReport, userId int) error {
	wasted := map[int]decimal.Decimal{}
	if recipe, err := models.GetRecipeById(ctx, po.RecipeId); err == nil {
		wasted = RequiredQuantities(recipe, report.WasteQty)
	}

	reservations, err := models.ActiveReservationsForOrder(tx, po.ID)
	if err != nil {
		return err
	}
	recorded := 0
	for _, res := range reservations {
		remaining := wasted[res.InsumoId]
		if !remaining.IsPositive() {
			continue
		}
		portion := decimal.Min(remaining, res.ReservedQty)
		wasted[res.InsumoId] = utils.ZeroIfNegligible(remaining.Sub(portion))

		record := models.WasteRecord{
			ProductionOrderId: po.ID,
			LotId:             res.LotId,
			InsumoId:          res.InsumoId,
			Qty:               portion,
			MotiveId:          report.WasteMotiveId,
			Action:            models.WasteActionIgnore,
			PhotoUrl:          report.PhotoUrl,
			ReportedBy:        userId,
		}
		if err := models.CreateWasteRecord(tx, &record); err != nil {
			return err
		}
		recorded++
	}

	leftover := decimal.Zero
	for _, qty := range wasted {
		if qty.IsPositive() {
			leftover = leftover.Add(qty)
		}
	}
	if recorded == 0 || leftover.IsPositive() {
		qty := report.WasteQty
		if recorded > 0 {
			qty = leftover
		}
		record := models.WasteRecord{
			ProductionOrderId: po.ID,
			Qty:               qty,
			MotiveId:          report.WasteMotiveId,
			Action:            models.WasteActionIgnore,
			PhotoUrl:          report.PhotoUrl,
			ReportedBy:        userId,
		}
		return models.CreateWasteRecord(tx, &record)
	}
	return nil
}

// KanbanStatusForOrder computes the live view of an order without side
// effects. Results are cached briefly in redis; floor screens poll every
// few seconds and the computation walks every interval.
func KanbanStatusForOrder(ctx context.Context, logger *logrus.Logger, poId int) (*KanbanStatus, error) {
	if cached, err := readCachedStatus(poId); err == nil && cached != nil {
		return cached, nil
	}

	db := config.GetDB()
	po, err := models.GetProductionOrder(ctx, poId)
	if err != nil {
		return nil, utils.NewNotFoundError("production_order", poId)
	}

	now := time.Now()
	intervals, err := models.IntervalsForOrder(db.WithContext(ctx), po.ID)
	if err != nil {
		return nil, err
	}
	productive, total := SplitIntervalMinutes(intervals, now)

	targetRate := decimal.Zero
	recipe, err := models.GetRecipeById(ctx, po.RecipeId)
	if err == nil {
		targetRate = TargetRatePerHour(po.PlannedQty, LoadMinutes(logger, recipe, po.PlannedQty))
	}

	currentRate := decimal.Zero
	if productive.IsPositive() {
		currentRate = po.ProducedQty.Div(productive.Div(minutesPerHour))
	}

	oee := ComputeOEE(OEEInput{
		ProductiveMinutes: productive,
		TotalMinutes:      total,
		GoodUnits:         po.ProducedQty,
		WasteUnits:        po.WasteQty,
		TargetRatePerHour: targetRate,
	})

	lastEvent := ""
	lastAt := time.Time{}
	if n := len(intervals); n > 0 {
		last := intervals[n-1]
		lastEvent = string(last.Kind)
		lastAt = last.StartedAt
	}

	status := KanbanStatus{
		ProductionOrderId: po.ID,
		Code:              po.Code,
		State:             po.State,
		ElapsedSeconds:    int64(total.Mul(decimal.NewFromInt(60)).IntPart()),
		ProductiveSeconds: int64(productive.Mul(decimal.NewFromInt(60)).IntPart()),
		ProducedQty:       po.ProducedQty,
		PlannedQty:        po.PlannedQty,
		CurrentRate:       currentRate,
		TargetRate:        targetRate,
		OEE:               oee,
		LastEvent:         lastEvent,
		LastEventAt:       lastAt,
	}
	cacheStatus(logger, &status)
	return &status, nil
}

func kanbanStatusKey(poId int) string {
	return fmt.Sprintf("kanban_status_%d", poId)
}

func readCachedStatus(poId int) (*KanbanStatus, error) {
	var status KanbanStatus
	found, err := config.GetRedisObject(kanbanStatusKey(poId), &status)
	if err != nil || !found {
		return nil, err
	}
	return &status, nil
}

func cacheStatus(logger *logrus.Logger, status *KanbanStatus) {
	if err := config.SetRedisObject(kanbanStatusKey(status.ProductionOrderId), status, kanbanStatusTTL); err != nil {
		config.LogWarn(logger, "kanbanWorkflow.go", "cacheStatus", "status cache write failed", status.ProductionOrderId, err.Error())
	}
}

func invalidateKanbanStatus(logger *logrus.Logger, poId int) {
	if err := config.RemoveRedisKey(kanbanStatusKey(poId)); err != nil {
		config.LogWarn(logger, "kanbanWorkflow.go", "invalidateKanbanStatus", "status cache invalidation failed", poId, err.Error())
	}
}
