package workflow

import (
	"context"

	"bitbucket.org/grupoalimenta/produccion_backend/config"
	"bitbucket.org/grupoalimenta/produccion_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ResolveRecipe returns the single active recipe of a product with its
// ingredients preloaded.
func ResolveRecipe(ctx context.Context, productId int) (*models.Recipe, error) {
	return models.GetActiveRecipe(ctx, productId)
}

// LoadMinutes computes the floor time a quantity needs under a recipe:
// prep + exec-per-unit x qty. Negative or unset fields count as zero; that
// is a data problem worth a warning, not a failure.
func LoadMinutes(logger *logrus.Logger, recipe *models.Recipe, plannedQty decimal.Decimal) decimal.Decimal {
	prep := recipe.PrepMinutes
	if prep.IsNegative() {
		config.LogWarn(logger, "recipeCost.go", "LoadMinutes", "negative prep_minutes treated as zero", recipe.ID, "recipe prep_minutes below zero")
		prep = decimal.Zero
	}
	perUnit := recipe.ExecMinutesPerUnit
	if perUnit.IsNegative() {
		config.LogWarn(logger, "recipeCost.go", "LoadMinutes", "negative exec_minutes_per_unit treated as zero", recipe.ID, "recipe exec_minutes_per_unit below zero")
		perUnit = decimal.Zero
	}
	qty := plannedQty
	if qty.IsNegative() {
		qty = decimal.Zero
	}
	return prep.Add(perUnit.Mul(qty))
}

// BulkCostCache computes the weighted-average unit cost per insumo across
// lots still carrying stock (Available, Reserved, Quarantine). Insumos
// without lot history fall back to their catalog price. One query per call
// regardless of how many orders the planner is costing.
func BulkCostCache(tx *gorm.DB, insumoIds []int) (map[int]decimal.Decimal, error) {
	cache := make(map[int]decimal.Decimal, len(insumoIds))
	if len(insumoIds) == 0 {
		return cache, nil
	}

	type costRow struct {
		InsumoId  int
		TotalQty  decimal.Decimal
		TotalCost decimal.Decimal
	}
	var rows []costRow
	err := tx.Model(&models.InsumoLot{}).
		Select("insumo_id, SUM(current_qty + quarantine_qty) AS total_qty, SUM((current_qty + quarantine_qty) * unit_cost) AS total_cost").
		Where("insumo_id IN ? AND state IN ?", insumoIds, []models.InsumoLotState{
			models.InsumoLotStateAvailable,
			models.InsumoLotStateReserved,
			models.InsumoLotStateQuarantine,
		}).
		Group("insumo_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.TotalQty.IsPositive() {
			cache[row.InsumoId] = row.TotalCost.Div(row.TotalQty)
		}
	}

	var insumos []models.Insumo
	if err := tx.Where("id IN ?", insumoIds).Find(&insumos).Error; err != nil {
		return nil, err
	}
	for _, insumo := range insumos {
		if _, ok := cache[insumo.ID]; !ok {
			cache[insumo.ID] = insumo.CatalogPrice
		}
	}
	return cache, nil
}

// UnitCost prices one unit of a product from its active recipe and a cost
// cache. Missing cache entries fall back to the catalog price so a stale
// cache degrades cost accuracy, never availability.
func UnitCost(ctx context.Context, tx *gorm.DB, productId int, cache map[int]decimal.Decimal) (decimal.Decimal, error) {
	recipe, err := ResolveRecipe(ctx, productId)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, ing := range recipe.Ingredients {
		cost, ok := cache[ing.InsumoId]
		if !ok {
			insumo, err := models.GetInsumo(ctx, ing.InsumoId)
			if err != nil {
				return decimal.Zero, err
			}
			cost = insumo.CatalogPrice
		}
		total = total.Add(ing.QuantityPerUnit.Mul(cost))
	}
	if recipe.Yield.IsPositive() && !recipe.Yield.Equal(decimal.NewFromInt(1)) {
		total = total.Div(recipe.Yield)
	}
	return total, nil
}

// RecipeInsumoIds flattens the ingredient list for cache warm-up.
func RecipeInsumoIds(recipe *models.Recipe) []int {
	ids := make([]int, 0, len(recipe.Ingredients))
	for _, ing := range recipe.Ingredients {
		ids = append(ids, ing.InsumoId)
	}
	return ids
}
