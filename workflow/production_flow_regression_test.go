package workflow_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/grupoalimenta/produccion_backend/config"
	"bitbucket.org/grupoalimenta/produccion_backend/models"
	"bitbucket.org/grupoalimenta/produccion_backend/utils"
	"bitbucket.org/grupoalimenta/produccion_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// NOTE: Full-stack regression over the plant lifecycle: reserve (FEFO),
// approve, run, complete, and the purchase chain for shortages. Requires
// docker (MySQL + redis); gated behind INTEGRATION_TESTS.

func setupPlant(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "produccion_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx := utils.SetUserIdInContext(context.Background(), 1)
	ctx = utils.SetUserNameInContext(ctx, "Test Planner")
	return ctx
}

type plantFixture struct {
	product  models.Product
	recipe   *models.Recipe
	insumo   models.Insumo
	supplier models.Supplier
}

// seedPlant creates a line-1 work center, a supplier, one insumo and a
// product whose recipe demands 0.5 of it per unit.
func seedPlant(t *testing.T, ctx context.Context, tag string, leadTimeDays int) plantFixture {
	t.Helper()
	db := config.GetDB()

	wc := models.WorkCenter{
		Line:             1,
		Name:             "Linea 1",
		StdMinutesPerDay: decimal.NewFromInt(480),
		Efficiency:       decimal.NewFromInt(1),
		Utilization:      decimal.NewFromInt(1),
		MachineCount:     1,
	}
	if err := db.Where(models.WorkCenter{Line: 1}).FirstOrCreate(&wc).Error; err != nil {
		t.Fatalf("seed work center: %v", err)
	}

	supplier := models.Supplier{Name: "Proveedor " + tag, LeadTimeDays: leadTimeDays, Active: utils.NewTrue()}
	if err := db.Create(&supplier).Error; err != nil {
		t.Fatalf("seed supplier: %v", err)
	}

	insumo := models.Insumo{
		Code: "INS-" + tag, Name: "Insumo " + tag, Unit: "kg",
		CatalogPrice:      decimal.NewFromInt(2),
		DefaultSupplierId: supplier.ID,
		Active:            utils.NewTrue(),
	}
	if err := db.Create(&insumo).Error; err != nil {
		t.Fatalf("seed insumo: %v", err)
	}

	product := models.Product{Code: "PRD-" + tag, Name: "Producto " + tag, Active: utils.NewTrue()}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}

	recipe, err := models.CreateRecipe(ctx, &models.NewRecipe{
		ProductId:          product.ID,
		PrepMinutes:        decimal.NewFromInt(10),
		ExecMinutesPerUnit: decimal.NewFromFloat(0.5),
		Ingredients: []models.NewRecipeIngredient{
			{InsumoId: insumo.ID, QuantityPerUnit: decimal.NewFromFloat(0.5), Unit: "kg"},
		},
	})
	if err != nil {
		t.Fatalf("CreateRecipe: %v", err)
	}

	return plantFixture{product: product, recipe: recipe, insumo: insumo, supplier: supplier}
}

func seedLot(t *testing.T, insumoId, supplierId int, qty, unitCost decimal.Decimal, ingress time.Time) models.InsumoLot {
	t.Helper()
	db := config.GetDB()
	lot := models.InsumoLot{
		InsumoId:        insumoId,
		SupplierId:      supplierId,
		InitialQty:      qty,
		CurrentQty:      qty,
		UnitCost:        unitCost,
		IngressDate:     ingress,
		State:           models.InsumoLotStateAvailable,
		IngressDocument: "TEST",
	}
	if err := db.Create(&lot).Error; err != nil {
		t.Fatalf("seed lot: %v", err)
	}
	return lot
}

func TestApproveReservesFEFOAndCompletesOrder(t *testing.T) {
	ctx := setupPlant(t)
	logger := logrus.New()
	db := config.GetDB()

	fx := seedPlant(t, ctx, "FEFO", 3)

	// older lot first: 10 units at cost 2, newer lot 100 units at cost 3
	older := seedLot(t, fx.insumo.ID, fx.supplier.ID, decimal.NewFromInt(10), decimal.NewFromInt(2), time.Now().AddDate(0, 0, -20))
	newer := seedLot(t, fx.insumo.ID, fx.supplier.ID, decimal.NewFromInt(100), decimal.NewFromInt(3), time.Now().AddDate(0, 0, -1))

	po, err := models.CreateProductionOrder(ctx, &models.NewProductionOrder{
		ProductId:  fx.product.ID,
		PlannedQty: decimal.NewFromInt(100),
		TargetDate: time.Now().AddDate(0, 0, 7),
	})
	if err != nil {
		t.Fatalf("CreateProductionOrder: %v", err)
	}
	if !strings.HasPrefix(po.Code, "OP-") {
		t.Fatalf("expected OP- code, got %q", po.Code)
	}

	result, err := workflow.ApproveProductionOrder(ctx, logger, po.ID, 1, time.Now())
	if err != nil {
		t.Fatalf("ApproveProductionOrder: %v", err)
	}
	if result.ProductionOrder.State != models.ProductionOrderStateApproved {
		t.Fatalf("expected Approved, got %s", result.ProductionOrder.State)
	}
	if len(result.Shortages) != 0 {
		t.Fatalf("expected no shortages, got %+v", result.Shortages)
	}
	if result.Simulation.DaysUsed != 1 {
		t.Fatalf("60-minute load should fit one day, got %d", result.Simulation.DaysUsed)
	}

	// demand 50: FEFO drains the 10-unit older lot first, then 40 from the newer
	reservations, err := models.ActiveReservationsForOrder(db, po.ID)
	if err != nil {
		t.Fatalf("ActiveReservationsForOrder: %v", err)
	}
	if len(reservations) != 2 {
		t.Fatalf("expected 2 reservations, got %d", len(reservations))
	}
	if reservations[0].LotId != older.ID || reservations[0].ReservedQty.Cmp(decimal.NewFromInt(10)) != 0 {
		t.Fatalf("first carve should take the full older lot, got lot=%d qty=%s", reservations[0].LotId, reservations[0].ReservedQty)
	}
	if reservations[1].LotId != newer.ID || reservations[1].ReservedQty.Cmp(decimal.NewFromInt(40)) != 0 {
		t.Fatalf("second carve should take 40 from the newer lot, got lot=%d qty=%s", reservations[1].LotId, reservations[1].ReservedQty)
	}

	var olderAfter, newerAfter models.InsumoLot
	if err := db.First(&olderAfter, older.ID).Error; err != nil {
		t.Fatalf("reload older lot: %v", err)
	}
	if err := db.First(&newerAfter, newer.ID).Error; err != nil {
		t.Fatalf("reload newer lot: %v", err)
	}
	if olderAfter.State != models.InsumoLotStateDepleted || !olderAfter.CurrentQty.IsZero() {
		t.Fatalf("older lot should be depleted, got state=%s qty=%s", olderAfter.State, olderAfter.CurrentQty)
	}
	if newerAfter.State != models.InsumoLotStateAvailable || newerAfter.CurrentQty.Cmp(decimal.NewFromInt(60)) != 0 {
		t.Fatalf("newer lot residual should stay available, got state=%s qty=%s", newerAfter.State, newerAfter.CurrentQty)
	}

	// floor run
	if err := workflow.MarkApprovedReady(ctx, po.ID); err != nil {
		t.Fatalf("MarkApprovedReady: %v", err)
	}
	if _, err := workflow.StartProduction(ctx, logger, po.ID); err != nil {
		t.Fatalf("StartProduction: %v", err)
	}
	if _, err := workflow.ReportProgress(ctx, logger, po.ID, workflow.ProgressReport{
		GoodQty:  decimal.NewFromInt(100),
		Finalize: true,
	}); err != nil {
		t.Fatalf("ReportProgress: %v", err)
	}

	lot, err := workflow.CompleteProductionOrder(ctx, logger, po.ID)
	if err != nil {
		t.Fatalf("CompleteProductionOrder: %v", err)
	}
	if lot.State != models.FinishedLotStateQuarantine {
		t.Fatalf("finished lot should be born in quarantine, got %s", lot.State)
	}
	if lot.Qty.Cmp(decimal.NewFromInt(100)) != 0 {
		t.Fatalf("finished qty: expected 100, got %s", lot.Qty)
	}
	// consumed cost: 10x2 + 40x3 = 140 over 100 units
	if lot.UnitCost.Cmp(decimal.NewFromFloat(1.4)) != 0 {
		t.Fatalf("unit cost: expected 1.4, got %s", lot.UnitCost)
	}
	if !strings.HasPrefix(lot.Code, "LOTE-") {
		t.Fatalf("expected LOTE- code, got %q", lot.Code)
	}

	final, err := models.GetProductionOrder(ctx, po.ID)
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if final.State != models.ProductionOrderStateCompleted {
		t.Fatalf("expected Completed, got %s", final.State)
	}
	var consumed int64
	db.Model(&models.InsumoReservation{}).
		Where("production_order_id = ? AND state = ?", po.ID, models.ReservationStateConsumed).
		Count(&consumed)
	if consumed != 2 {
		t.Fatalf("expected both reservations sealed, got %d", consumed)
	}

	if err := workflow.ReleaseFinishedLot(ctx, lot.ID); err != nil {
		t.Fatalf("ReleaseFinishedLot: %v", err)
	}
	if err := workflow.ReleaseFinishedLot(ctx, lot.ID); err == nil {
		t.Fatalf("releasing twice must fail the quarantine precondition")
	}
}

func TestShortageOpensPurchaseChainAndReadiesOrder(t *testing.T) {
	ctx := setupPlant(t)
	logger := logrus.New()
	db := config.GetDB()

	fx := seedPlant(t, ctx, "CHAIN", 2)
	// no lots at all: the whole demand is a shortage

	po, err := models.CreateProductionOrder(ctx, &models.NewProductionOrder{
		ProductId:  fx.product.ID,
		PlannedQty: decimal.NewFromInt(10),
		TargetDate: time.Now().AddDate(0, 0, 7),
	})
	if err != nil {
		t.Fatalf("CreateProductionOrder: %v", err)
	}

	result, err := workflow.ApproveProductionOrder(ctx, logger, po.ID, 1, time.Now())
	if err != nil {
		t.Fatalf("ApproveProductionOrder: %v", err)
	}
	if result.ProductionOrder.State != models.ProductionOrderStateWaitingStock {
		t.Fatalf("expected WaitingStock, got %s", result.ProductionOrder.State)
	}
	if len(result.Shortages) != 1 || result.Shortages[0].Missing.Cmp(decimal.NewFromInt(5)) != 0 {
		t.Fatalf("expected one 5kg shortage, got %+v", result.Shortages)
	}
	if len(result.PurchaseOrders) != 1 {
		t.Fatalf("expected one purchase order, got %d", len(result.PurchaseOrders))
	}
	oc := result.PurchaseOrders[0]
	if oc.State != models.PurchaseOrderStatePending || !strings.HasPrefix(oc.Code, "OC-") {
		t.Fatalf("unexpected purchase order %+v", oc)
	}
	if len(oc.Items) != 1 || oc.Items[0].OrderedQty.Cmp(decimal.NewFromInt(5)) != 0 {
		t.Fatalf("expected 5 whole units ordered, got %+v", oc.Items)
	}

	var insumoAfter models.Insumo
	if err := db.First(&insumoAfter, fx.insumo.ID).Error; err != nil {
		t.Fatalf("reload insumo: %v", err)
	}
	if !insumoAfter.IsAwaitingRestock() {
		t.Fatalf("insumo should be flagged awaiting restock")
	}

	// a second approval attempt for the same insumo must not duplicate the order
	po2, err := models.CreateProductionOrder(ctx, &models.NewProductionOrder{
		ProductId:  fx.product.ID,
		PlannedQty: decimal.NewFromInt(10),
		TargetDate: time.Now().AddDate(0, 0, 7),
	})
	if err != nil {
		t.Fatalf("CreateProductionOrder(po2): %v", err)
	}
	result2, err := workflow.ApproveProductionOrder(ctx, logger, po2.ID, 1, time.Now())
	if err != nil {
		t.Fatalf("ApproveProductionOrder(po2): %v", err)
	}
	if len(result2.PurchaseOrders) != 0 {
		t.Fatalf("awaiting-restock gate should suppress a second order, got %d", len(result2.PurchaseOrders))
	}

	if err := workflow.ApprovePurchaseOrder(ctx, oc.ID); err != nil {
		t.Fatalf("ApprovePurchaseOrder: %v", err)
	}
	if err := workflow.MarkPurchaseInTransit(ctx, oc.ID); err != nil {
		t.Fatalf("MarkPurchaseInTransit: %v", err)
	}

	// partial delivery: 3 of 5
	received, err := workflow.ReceivePurchaseOrder(ctx, logger, oc.ID, []workflow.ReceiptLine{
		{InsumoId: fx.insumo.ID, ReceivedQty: decimal.NewFromInt(3), UnitCost: decimal.NewFromInt(2)},
	})
	if err != nil {
		t.Fatalf("ReceivePurchaseOrder: %v", err)
	}
	if received.State != models.PurchaseOrderStateReceptionIncomplete {
		t.Fatalf("expected ReceptionIncomplete, got %s", received.State)
	}

	var complement models.PurchaseOrder
	if err := db.Preload("Items").Where("complements_id = ?", oc.ID).First(&complement).Error; err != nil {
		t.Fatalf("complementary order not created: %v", err)
	}
	if len(complement.Items) != 1 || complement.Items[0].OrderedQty.Cmp(decimal.NewFromInt(2)) != 0 {
		t.Fatalf("complement should carry the 2kg remainder, got %+v", complement.Items)
	}
	if complement.ProductionOrderId != po.ID {
		t.Fatalf("complement should stay linked to the waiting order")
	}

	if err := workflow.PassPurchaseQuality(ctx, oc.ID); err != nil {
		t.Fatalf("PassPurchaseQuality: %v", err)
	}
	if _, err := workflow.ClosePurchaseOrder(ctx, logger, oc.ID); err != nil {
		t.Fatalf("ClosePurchaseOrder: %v", err)
	}

	// chain still open: order stays waiting, flag stays up
	waiting, err := models.GetProductionOrder(ctx, po.ID)
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if waiting.State != models.ProductionOrderStateWaitingStock {
		t.Fatalf("order must keep waiting while the complement is open, got %s", waiting.State)
	}
	if err := db.First(&insumoAfter, fx.insumo.ID).Error; err != nil {
		t.Fatalf("reload insumo: %v", err)
	}
	if !insumoAfter.IsAwaitingRestock() {
		t.Fatalf("flag must stay raised while the complement is open")
	}

	// the complement lands the remainder
	if err := workflow.ApprovePurchaseOrder(ctx, complement.ID); err != nil {
		t.Fatalf("ApprovePurchaseOrder(complement): %v", err)
	}
	if err := workflow.MarkPurchaseInTransit(ctx, complement.ID); err != nil {
		t.Fatalf("MarkPurchaseInTransit(complement): %v", err)
	}
	full, err := workflow.ReceivePurchaseOrder(ctx, logger, complement.ID, []workflow.ReceiptLine{
		{InsumoId: fx.insumo.ID, ReceivedQty: decimal.NewFromInt(2), UnitCost: decimal.NewFromInt(2)},
	})
	if err != nil {
		t.Fatalf("ReceivePurchaseOrder(complement): %v", err)
	}
	if full.State != models.PurchaseOrderStateReceptionComplete {
		t.Fatalf("expected ReceptionComplete, got %s", full.State)
	}
	if err := workflow.PassPurchaseQuality(ctx, complement.ID); err != nil {
		t.Fatalf("PassPurchaseQuality(complement): %v", err)
	}
	if _, err := workflow.ClosePurchaseOrder(ctx, logger, complement.ID); err != nil {
		t.Fatalf("ClosePurchaseOrder(complement): %v", err)
	}

	ready, err := models.GetProductionOrder(ctx, po.ID)
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if ready.State != models.ProductionOrderStateReady {
		t.Fatalf("fully landed chain should ready the order, got %s", ready.State)
	}
	if err := db.First(&insumoAfter, fx.insumo.ID).Error; err != nil {
		t.Fatalf("reload insumo: %v", err)
	}
	if insumoAfter.IsAwaitingRestock() {
		t.Fatalf("flag must clear when the chain closes")
	}

	reserved, err := models.ReservedQtyByInsumoForOrder(db, po.ID)
	if err != nil {
		t.Fatalf("ReservedQtyByInsumoForOrder: %v", err)
	}
	if reserved[fx.insumo.ID].Cmp(decimal.NewFromInt(5)) != 0 {
		t.Fatalf("expected 5kg reserved after restock, got %s", reserved[fx.insumo.ID])
	}
}

func seedMotive(t *testing.T, name, kind string) models.Motive {
	t.Helper()
	db := config.GetDB()
	motive := models.Motive{Name: name, Kind: kind}
	if err := db.Where(models.Motive{Name: name}).FirstOrCreate(&motive).Error; err != nil {
		t.Fatalf("seed motive: %v", err)
	}
	return motive
}

func TestPartialCarveLeavesResidualAvailable(t *testing.T) {
	ctx := setupPlant(t)
	logger := logrus.New()
	db := config.GetDB()

	fx := seedPlant(t, ctx, "RESID", 2)
	lot := seedLot(t, fx.insumo.ID, fx.supplier.ID, decimal.NewFromInt(100), decimal.NewFromInt(2), time.Now().AddDate(0, 0, -5))

	// first order carves 20 of the 100
	poA, err := models.CreateProductionOrder(ctx, &models.NewProductionOrder{
		ProductId:  fx.product.ID,
		PlannedQty: decimal.NewFromInt(40),
		TargetDate: time.Now().AddDate(0, 0, 7),
	})
	if err != nil {
		t.Fatalf("CreateProductionOrder(A): %v", err)
	}
	resultA, err := workflow.ApproveProductionOrder(ctx, logger, poA.ID, 1, time.Now())
	if err != nil {
		t.Fatalf("ApproveProductionOrder(A): %v", err)
	}
	if resultA.ProductionOrder.State != models.ProductionOrderStateApproved {
		t.Fatalf("expected Approved, got %s", resultA.ProductionOrder.State)
	}

	var after models.InsumoLot
	if err := db.First(&after, lot.ID).Error; err != nil {
		t.Fatalf("reload lot: %v", err)
	}
	if after.State != models.InsumoLotStateAvailable || after.CurrentQty.Cmp(decimal.NewFromInt(80)) != 0 {
		t.Fatalf("residual 80 must stay available, got state=%s qty=%s", after.State, after.CurrentQty)
	}
	free, err := models.AvailableQty(db, fx.insumo.ID)
	if err != nil {
		t.Fatalf("AvailableQty: %v", err)
	}
	if free.Cmp(decimal.NewFromInt(80)) != 0 {
		t.Fatalf("availability must see the residual, got %s", free)
	}

	// a second order against the same lot must reserve, not report shortage
	poB, err := models.CreateProductionOrder(ctx, &models.NewProductionOrder{
		ProductId:  fx.product.ID,
		PlannedQty: decimal.NewFromInt(100),
		TargetDate: time.Now().AddDate(0, 0, 7),
	})
	if err != nil {
		t.Fatalf("CreateProductionOrder(B): %v", err)
	}
	resultB, err := workflow.ApproveProductionOrder(ctx, logger, poB.ID, 1, time.Now())
	if err != nil {
		t.Fatalf("ApproveProductionOrder(B): %v", err)
	}
	if resultB.ProductionOrder.State != models.ProductionOrderStateApproved {
		t.Fatalf("second order should approve from the residual, got %s", resultB.ProductionOrder.State)
	}
	if len(resultB.Shortages) != 0 {
		t.Fatalf("residual stock must cover the second order, got %+v", resultB.Shortages)
	}
	if len(resultB.PurchaseOrders) != 0 {
		t.Fatalf("no purchase order should be generated for stock that exists, got %d", len(resultB.PurchaseOrders))
	}
}

func TestReleaseRestoresLotsAfterCancel(t *testing.T) {
	ctx := setupPlant(t)
	logger := logrus.New()
	db := config.GetDB()

	fx := seedPlant(t, ctx, "RNDTRP", 2)
	lot := seedLot(t, fx.insumo.ID, fx.supplier.ID, decimal.NewFromInt(100), decimal.NewFromInt(2), time.Now().AddDate(0, 0, -5))

	approve := func(plannedQty int64) *models.ProductionOrder {
		po, err := models.CreateProductionOrder(ctx, &models.NewProductionOrder{
			ProductId:  fx.product.ID,
			PlannedQty: decimal.NewFromInt(plannedQty),
			TargetDate: time.Now().AddDate(0, 0, 7),
		})
		if err != nil {
			t.Fatalf("CreateProductionOrder: %v", err)
		}
		if _, err := workflow.ApproveProductionOrder(ctx, logger, po.ID, 1, time.Now()); err != nil {
			t.Fatalf("ApproveProductionOrder: %v", err)
		}
		return po
	}
	lotState := func() models.InsumoLot {
		var reloaded models.InsumoLot
		if err := db.First(&reloaded, lot.ID).Error; err != nil {
			t.Fatalf("reload lot: %v", err)
		}
		return reloaded
	}

	// two holders on the same lot: 20 and 50
	poA := approve(40)
	poB := approve(100)
	if got := lotState(); got.CurrentQty.Cmp(decimal.NewFromInt(30)) != 0 {
		t.Fatalf("expected 30 left after both carves, got %s", got.CurrentQty)
	}

	// cancelling one holder returns only its share, the other hold survives
	if _, err := workflow.CancelProductionOrder(ctx, logger, poA.ID); err != nil {
		t.Fatalf("CancelProductionOrder(A): %v", err)
	}
	got := lotState()
	if got.State != models.InsumoLotStateAvailable || got.CurrentQty.Cmp(decimal.NewFromInt(50)) != 0 {
		t.Fatalf("expected 50 available after single release, got state=%s qty=%s", got.State, got.CurrentQty)
	}
	reserved, err := models.ReservedQtyByInsumoForOrder(db, poB.ID)
	if err != nil {
		t.Fatalf("ReservedQtyByInsumoForOrder: %v", err)
	}
	if reserved[fx.insumo.ID].Cmp(decimal.NewFromInt(50)) != 0 {
		t.Fatalf("other holder's reservation must survive, got %s", reserved[fx.insumo.ID])
	}

	if _, err := workflow.CancelProductionOrder(ctx, logger, poB.ID); err != nil {
		t.Fatalf("CancelProductionOrder(B): %v", err)
	}
	got = lotState()
	if got.State != models.InsumoLotStateAvailable || got.CurrentQty.Cmp(decimal.NewFromInt(100)) != 0 {
		t.Fatalf("reserve then release must restore the lot, got state=%s qty=%s", got.State, got.CurrentQty)
	}

	// a full carve depletes the lot; release brings it back whole
	poC := approve(200)
	if got = lotState(); got.State != models.InsumoLotStateDepleted || !got.CurrentQty.IsZero() {
		t.Fatalf("full carve should deplete, got state=%s qty=%s", got.State, got.CurrentQty)
	}
	if _, err := workflow.CancelProductionOrder(ctx, logger, poC.ID); err != nil {
		t.Fatalf("CancelProductionOrder(C): %v", err)
	}
	got = lotState()
	if got.State != models.InsumoLotStateAvailable || got.CurrentQty.Cmp(decimal.NewFromInt(100)) != 0 {
		t.Fatalf("depleted lot must come back available, got state=%s qty=%s", got.State, got.CurrentQty)
	}
}

func TestZeroYieldRunEmitsDepletedLot(t *testing.T) {
	ctx := setupPlant(t)
	logger := logrus.New()

	fx := seedPlant(t, ctx, "ZEROY", 2)
	seedLot(t, fx.insumo.ID, fx.supplier.ID, decimal.NewFromInt(50), decimal.NewFromInt(2), time.Now().AddDate(0, 0, -5))

	po, err := models.CreateProductionOrder(ctx, &models.NewProductionOrder{
		ProductId:  fx.product.ID,
		PlannedQty: decimal.NewFromInt(10),
		TargetDate: time.Now().AddDate(0, 0, 7),
	})
	if err != nil {
		t.Fatalf("CreateProductionOrder: %v", err)
	}
	if _, err := workflow.ApproveProductionOrder(ctx, logger, po.ID, 1, time.Now()); err != nil {
		t.Fatalf("ApproveProductionOrder: %v", err)
	}
	if err := workflow.MarkApprovedReady(ctx, po.ID); err != nil {
		t.Fatalf("MarkApprovedReady: %v", err)
	}
	if _, err := workflow.StartProduction(ctx, logger, po.ID); err != nil {
		t.Fatalf("StartProduction: %v", err)
	}
	if _, err := workflow.ReportProgress(ctx, logger, po.ID, workflow.ProgressReport{
		Finalize: true,
	}); err != nil {
		t.Fatalf("ReportProgress: %v", err)
	}

	lot, err := workflow.CompleteProductionOrder(ctx, logger, po.ID)
	if err != nil {
		t.Fatalf("CompleteProductionOrder on a zero-yield run: %v", err)
	}
	if lot.State != models.FinishedLotStateDepleted || !lot.Qty.IsZero() {
		t.Fatalf("zero-yield lot must be born depleted with qty 0, got state=%s qty=%s", lot.State, lot.Qty)
	}
	final, err := models.GetProductionOrder(ctx, po.ID)
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if final.State != models.ProductionOrderStateCompleted {
		t.Fatalf("zero-yield run must still complete, got %s", final.State)
	}
}

func TestNestedComplementKeepsRestockFlagRaised(t *testing.T) {
	ctx := setupPlant(t)
	logger := logrus.New()
	db := config.GetDB()

	fx := seedPlant(t, ctx, "NEST", 2)
	// no lots: demand 10 -> 5kg shortage -> root OC for 5

	po, err := models.CreateProductionOrder(ctx, &models.NewProductionOrder{
		ProductId:  fx.product.ID,
		PlannedQty: decimal.NewFromInt(10),
		TargetDate: time.Now().AddDate(0, 0, 7),
	})
	if err != nil {
		t.Fatalf("CreateProductionOrder: %v", err)
	}
	result, err := workflow.ApproveProductionOrder(ctx, logger, po.ID, 1, time.Now())
	if err != nil {
		t.Fatalf("ApproveProductionOrder: %v", err)
	}
	if len(result.PurchaseOrders) != 1 {
		t.Fatalf("expected one purchase order, got %d", len(result.PurchaseOrders))
	}
	root := result.PurchaseOrders[0]

	landPartial := func(ocId int, qty int64) {
		if err := workflow.ApprovePurchaseOrder(ctx, ocId); err != nil {
			t.Fatalf("ApprovePurchaseOrder(%d): %v", ocId, err)
		}
		if err := workflow.MarkPurchaseInTransit(ctx, ocId); err != nil {
			t.Fatalf("MarkPurchaseInTransit(%d): %v", ocId, err)
		}
		if _, err := workflow.ReceivePurchaseOrder(ctx, logger, ocId, []workflow.ReceiptLine{
			{InsumoId: fx.insumo.ID, ReceivedQty: decimal.NewFromInt(qty), UnitCost: decimal.NewFromInt(2)},
		}); err != nil {
			t.Fatalf("ReceivePurchaseOrder(%d): %v", ocId, err)
		}
		if err := workflow.PassPurchaseQuality(ctx, ocId); err != nil {
			t.Fatalf("PassPurchaseQuality(%d): %v", ocId, err)
		}
		if _, err := workflow.ClosePurchaseOrder(ctx, logger, ocId); err != nil {
			t.Fatalf("ClosePurchaseOrder(%d): %v", ocId, err)
		}
	}

	// root lands 2 of 5, spawning complement B for 3
	landPartial(root.ID, 2)
	var compB models.PurchaseOrder
	if err := db.Where("complements_id = ?", root.ID).First(&compB).Error; err != nil {
		t.Fatalf("first complement not created: %v", err)
	}

	// B lands 1 of 3, spawning grandchild C for 2; B then closes
	landPartial(compB.ID, 1)
	var compC models.PurchaseOrder
	if err := db.Where("complements_id = ?", compB.ID).First(&compC).Error; err != nil {
		t.Fatalf("second complement not created: %v", err)
	}

	// grandchild still open: the flag must hold even though every direct
	// child of the root is closed
	var insumoAfter models.Insumo
	if err := db.First(&insumoAfter, fx.insumo.ID).Error; err != nil {
		t.Fatalf("reload insumo: %v", err)
	}
	if !insumoAfter.IsAwaitingRestock() {
		t.Fatalf("flag must stay raised while a grandchild complement is open")
	}
	waiting, err := models.GetProductionOrder(ctx, po.ID)
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if waiting.State != models.ProductionOrderStateWaitingStock {
		t.Fatalf("order must keep waiting, got %s", waiting.State)
	}

	// C lands the remainder and the whole chain settles
	landPartial(compC.ID, 2)
	if err := db.First(&insumoAfter, fx.insumo.ID).Error; err != nil {
		t.Fatalf("reload insumo: %v", err)
	}
	if insumoAfter.IsAwaitingRestock() {
		t.Fatalf("flag must clear when the whole chain lands")
	}
	ready, err := models.GetProductionOrder(ctx, po.ID)
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if ready.State != models.ProductionOrderStateReady {
		t.Fatalf("order should be ready once the chain lands, got %s", ready.State)
	}
}

func TestWasteCancelSparesRunningOrders(t *testing.T) {
	ctx := setupPlant(t)
	logger := logrus.New()
	db := config.GetDB()

	fx := seedPlant(t, ctx, "WASTE", 2)
	lot := seedLot(t, fx.insumo.ID, fx.supplier.ID, decimal.NewFromInt(50), decimal.NewFromInt(2), time.Now().AddDate(0, 0, -5))
	motive := seedMotive(t, "Contaminacion", "Waste")

	po, err := models.CreateProductionOrder(ctx, &models.NewProductionOrder{
		ProductId:  fx.product.ID,
		PlannedQty: decimal.NewFromInt(10),
		TargetDate: time.Now().AddDate(0, 0, 7),
	})
	if err != nil {
		t.Fatalf("CreateProductionOrder: %v", err)
	}
	if _, err := workflow.ApproveProductionOrder(ctx, logger, po.ID, 1, time.Now()); err != nil {
		t.Fatalf("ApproveProductionOrder: %v", err)
	}
	if err := workflow.MarkApprovedReady(ctx, po.ID); err != nil {
		t.Fatalf("MarkApprovedReady: %v", err)
	}
	if _, err := workflow.StartProduction(ctx, logger, po.ID); err != nil {
		t.Fatalf("StartProduction: %v", err)
	}

	// writing off the rest of the lot must not touch the running order
	if _, err := workflow.RecordLotWaste(ctx, logger, workflow.LotWasteInput{
		LotId:    lot.ID,
		Qty:      decimal.NewFromInt(45),
		MotiveId: motive.ID,
		Action:   models.WasteActionCancel,
	}); err != nil {
		t.Fatalf("RecordLotWaste: %v", err)
	}

	running, err := models.GetProductionOrder(ctx, po.ID)
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if running.State != models.ProductionOrderStateInProgress {
		t.Fatalf("running order must keep running, got %s", running.State)
	}
	reserved, err := models.ReservedQtyByInsumoForOrder(db, po.ID)
	if err != nil {
		t.Fatalf("ReservedQtyByInsumoForOrder: %v", err)
	}
	if reserved[fx.insumo.ID].Cmp(decimal.NewFromInt(5)) != 0 {
		t.Fatalf("running order must keep its reservations, got %s", reserved[fx.insumo.ID])
	}
}

func TestProgressWastePinsReservedLotsFEFO(t *testing.T) {
	ctx := setupPlant(t)
	logger := logrus.New()
	db := config.GetDB()

	fx := seedPlant(t, ctx, "SCRAP", 2)
	lot := seedLot(t, fx.insumo.ID, fx.supplier.ID, decimal.NewFromInt(50), decimal.NewFromInt(2), time.Now().AddDate(0, 0, -5))
	motive := seedMotive(t, "Quemado", "Waste")

	po, err := models.CreateProductionOrder(ctx, &models.NewProductionOrder{
		ProductId:  fx.product.ID,
		PlannedQty: decimal.NewFromInt(10),
		TargetDate: time.Now().AddDate(0, 0, 7),
	})
	if err != nil {
		t.Fatalf("CreateProductionOrder: %v", err)
	}
	if _, err := workflow.ApproveProductionOrder(ctx, logger, po.ID, 1, time.Now()); err != nil {
		t.Fatalf("ApproveProductionOrder: %v", err)
	}
	if err := workflow.MarkApprovedReady(ctx, po.ID); err != nil {
		t.Fatalf("MarkApprovedReady: %v", err)
	}
	if _, err := workflow.StartProduction(ctx, logger, po.ID); err != nil {
		t.Fatalf("StartProduction: %v", err)
	}

	if _, err := workflow.ReportProgress(ctx, logger, po.ID, workflow.ProgressReport{
		GoodQty:       decimal.NewFromInt(4),
		WasteQty:      decimal.NewFromInt(2),
		WasteMotiveId: motive.ID,
	}); err != nil {
		t.Fatalf("ReportProgress: %v", err)
	}

	var records []models.WasteRecord
	if err := db.Where("production_order_id = ?", po.ID).Find(&records).Error; err != nil {
		t.Fatalf("load waste records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected the scrap pinned on one lot, got %d records", len(records))
	}
	if records[0].LotId != lot.ID || records[0].InsumoId != fx.insumo.ID {
		t.Fatalf("scrap must reference the lot that fed the run, got lot=%d insumo=%d", records[0].LotId, records[0].InsumoId)
	}
	// 2 scrapped units at 0.5kg each
	if records[0].Qty.Cmp(decimal.NewFromInt(1)) != 0 {
		t.Fatalf("expected 1kg attributed, got %s", records[0].Qty)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("produccion-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("produccion-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=produccion_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
