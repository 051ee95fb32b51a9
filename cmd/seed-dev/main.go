package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"bitbucket.org/grupoalimenta/produccion_backend/config"
	"bitbucket.org/grupoalimenta/produccion_backend/models"
	"bitbucket.org/grupoalimenta/produccion_backend/utils"
	"github.com/shopspring/decimal"
)

// Seeds a development database with a minimal plant: two lines, one
// product with an active recipe, two insumos with lots, and a planner
// user. Refuses to run when GO_ENV=production.
func main() {
	flag.Parse()

	if os.Getenv("GO_ENV") == "production" {
		fmt.Fprintln(os.Stderr, "refusing to seed a production database")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	models.MigrateTable()

	ctx := utils.SetSystemContext(context.Background())
	ctx = utils.SetUserIdInContext(ctx, 1)

	planner := models.User{ID: 1, Name: "Dev Planner", Email: "planner@dev.local", Role: "planner"}
	if err := db.FirstOrCreate(&planner, models.User{ID: 1}).Error; err != nil {
		fail("seed user", err)
	}

	for line := 1; line <= 2; line++ {
		wc := models.WorkCenter{
			Line:             line,
			Name:             fmt.Sprintf("Linea %d", line),
			StdMinutesPerDay: decimal.NewFromInt(480),
			Efficiency:       decimal.NewFromFloat(0.9),
			Utilization:      decimal.NewFromFloat(0.85),
			MachineCount:     1,
		}
		if err := db.Where(models.WorkCenter{Line: line}).FirstOrCreate(&wc).Error; err != nil {
			fail("seed work center", err)
		}
	}

	supplier := models.Supplier{Name: "Harinas del Sur", LeadTimeDays: 3, Active: utils.NewTrue()}
	if err := db.Where(models.Supplier{Name: supplier.Name}).FirstOrCreate(&supplier).Error; err != nil {
		fail("seed supplier", err)
	}

	flour := models.Insumo{
		Code: "INS-HAR-01", Name: "Harina 000", Unit: "kg",
		CatalogPrice: decimal.NewFromFloat(1.8), MinStock: decimal.NewFromInt(50),
		DefaultSupplierId: supplier.ID, Active: utils.NewTrue(),
	}
	if err := db.Where(models.Insumo{Code: flour.Code}).FirstOrCreate(&flour).Error; err != nil {
		fail("seed insumo", err)
	}
	yeast := models.Insumo{
		Code: "INS-LEV-01", Name: "Levadura fresca", Unit: "kg",
		CatalogPrice: decimal.NewFromFloat(6.5), MinStock: decimal.NewFromInt(5),
		DefaultSupplierId: supplier.ID, Active: utils.NewTrue(),
	}
	if err := db.Where(models.Insumo{Code: yeast.Code}).FirstOrCreate(&yeast).Error; err != nil {
		fail("seed insumo", err)
	}

	product := models.Product{
		Code: "PRD-PAN-01", Name: "Pan de molde", Unit: "unidad",
		Active: utils.NewTrue(), UnitPrice: decimal.NewFromFloat(3.2),
		MaxOrderQty: decimal.NewFromInt(500),
	}
	if err := db.Where(models.Product{Code: product.Code}).FirstOrCreate(&product).Error; err != nil {
		fail("seed product", err)
	}

	if _, err := models.GetActiveRecipe(ctx, product.ID); err != nil {
		input := models.NewRecipe{
			ProductId:          product.ID,
			Yield:              decimal.NewFromInt(1),
			CompatibleLine1:    utils.NewTrue(),
			CompatibleLine2:    utils.NewTrue(),
			PrepMinutes:        decimal.NewFromInt(10),
			ExecMinutesPerUnit: decimal.NewFromInt(2),
			Ingredients: []models.NewRecipeIngredient{
				{InsumoId: flour.ID, QuantityPerUnit: decimal.NewFromFloat(0.5), Unit: "kg"},
				{InsumoId: yeast.ID, QuantityPerUnit: decimal.NewFromFloat(0.02), Unit: "kg"},
			},
		}
		if _, err := models.CreateRecipe(ctx, &input); err != nil {
			fail("seed recipe", err)
		}
	}

	expiry := time.Now().AddDate(0, 2, 0)
	for _, seed := range []struct {
		insumo models.Insumo
		qty    decimal.Decimal
		cost   decimal.Decimal
	}{
		{flour, decimal.NewFromInt(200), decimal.NewFromFloat(1.75)},
		{yeast, decimal.NewFromInt(10), decimal.NewFromFloat(6.2)},
	} {
		var count int64
		db.Model(&models.InsumoLot{}).Where("insumo_id = ?", seed.insumo.ID).Count(&count)
		if count > 0 {
			continue
		}
		lot := models.InsumoLot{
			InsumoId:        seed.insumo.ID,
			SupplierId:      supplier.ID,
			InitialQty:      seed.qty,
			CurrentQty:      seed.qty,
			UnitCost:        seed.cost,
			IngressDate:     time.Now(),
			ExpiryDate:      &expiry,
			State:           models.InsumoLotStateAvailable,
			IngressDocument: "SEED",
		}
		if err := db.Create(&lot).Error; err != nil {
			fail("seed lot", err)
		}
	}

	for _, m := range []models.Motive{
		{Name: "Quemado", Kind: "Waste"},
		{Name: "Caida al piso", Kind: "Waste"},
		{Name: "Falla de maquina", Kind: "Pause"},
		{Name: "Limpieza", Kind: "Pause"},
	} {
		if err := db.Where(models.Motive{Name: m.Name}).FirstOrCreate(&m).Error; err != nil {
			fail("seed motive", err)
		}
	}

	fmt.Println("development data seeded")
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", step, err)
	os.Exit(1)
}
