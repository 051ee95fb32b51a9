package workflow

import (
	"testing"

	"bitbucket.org/grupoalimenta/produccion_backend/models"
	"bitbucket.org/grupoalimenta/produccion_backend/utils"
	"github.com/shopspring/decimal"
)

func TestRequiredQuantities_ScalesPerUnit(t *testing.T) {
	recipe := &models.Recipe{
		Ingredients: []models.RecipeIngredient{
			{InsumoId: 1, QuantityPerUnit: decimal.NewFromFloat(0.5)},
			{InsumoId: 2, QuantityPerUnit: decimal.NewFromFloat(0.02)},
		},
	}

	required := RequiredQuantities(recipe, decimal.NewFromInt(100))
	if required[1].Cmp(decimal.NewFromInt(50)) != 0 {
		t.Fatalf("insumo 1: expected 50, got %s", required[1])
	}
	if required[2].Cmp(decimal.NewFromInt(2)) != 0 {
		t.Fatalf("insumo 2: expected 2, got %s", required[2])
	}
}

func TestRequiredQuantities_SumsDuplicateInsumos(t *testing.T) {
	// The same insumo twice in a formula (distinct process steps) demands
	// the combined quantity.
	recipe := &models.Recipe{
		Ingredients: []models.RecipeIngredient{
			{InsumoId: 7, QuantityPerUnit: decimal.NewFromFloat(0.3)},
			{InsumoId: 7, QuantityPerUnit: decimal.NewFromFloat(0.2)},
		},
	}

	required := RequiredQuantities(recipe, decimal.NewFromInt(10))
	if required[7].Cmp(decimal.NewFromInt(5)) != 0 {
		t.Fatalf("expected combined demand 5, got %s", required[7])
	}
}

func TestSuggestLine(t *testing.T) {
	both := &models.Recipe{CompatibleLine1: utils.NewTrue(), CompatibleLine2: utils.NewTrue()}

	line, err := SuggestLine(both, decimal.NewFromInt(50))
	if err != nil || line != 1 {
		t.Fatalf("qty at threshold should go to line 1, got line=%d err=%v", line, err)
	}
	line, err = SuggestLine(both, decimal.NewFromInt(49))
	if err != nil || line != 2 {
		t.Fatalf("qty under threshold should go to line 2, got line=%d err=%v", line, err)
	}

	onlyTwo := &models.Recipe{CompatibleLine1: utils.NewFalse(), CompatibleLine2: utils.NewTrue()}
	line, err = SuggestLine(onlyTwo, decimal.NewFromInt(500))
	if err != nil || line != 2 {
		t.Fatalf("single compatible line wins regardless of qty, got line=%d err=%v", line, err)
	}

	neither := &models.Recipe{CompatibleLine1: utils.NewFalse(), CompatibleLine2: utils.NewFalse()}
	if _, err := SuggestLine(neither, decimal.NewFromInt(10)); err == nil {
		t.Fatalf("recipe with no compatible line must not be plannable")
	}
}
