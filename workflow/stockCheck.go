package workflow

import (
	"bitbucket.org/grupoalimenta/produccion_backend/models"
	"bitbucket.org/grupoalimenta/produccion_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Shortage is one missing insumo for a planned quantity, the unit the
// purchase auto-generator works from.
type Shortage struct {
	InsumoId  int             `json:"insumo_id"`
	Name      string          `json:"name"`
	Needed    decimal.Decimal `json:"needed"`
	Available decimal.Decimal `json:"available"`
	Missing   decimal.Decimal `json:"missing"`
}

// RequiredQuantities expands a recipe into per-insumo demand for a planned
// quantity.
func RequiredQuantities(recipe *models.Recipe, plannedQty decimal.Decimal) map[int]decimal.Decimal {
	required := make(map[int]decimal.Decimal, len(recipe.Ingredients))
	for _, ing := range recipe.Ingredients {
		required[ing.InsumoId] = required[ing.InsumoId].Add(ing.QuantityPerUnit.Mul(plannedQty))
	}
	return required
}

// CheckStock compares recipe demand against Available lot stock and returns
// one Shortage per insumo that cannot be covered. Quantities within the
// rounding tolerance count as covered.
func CheckStock(tx *gorm.DB, recipe *models.Recipe, plannedQty decimal.Decimal) ([]Shortage, error) {
	required := RequiredQuantities(recipe, plannedQty)

	shortages := []Shortage{}
	for _, ing := range recipe.Ingredients {
		needed, ok := required[ing.InsumoId]
		if !ok || !needed.IsPositive() {
			continue
		}
		// consume the map entry so duplicated ingredients are not double counted
		delete(required, ing.InsumoId)

		available, err := models.AvailableQty(tx, ing.InsumoId)
		if err != nil {
			return nil, err
		}
		missing := utils.ZeroIfNegligible(needed.Sub(available))
		if missing.IsPositive() {
			var insumo models.Insumo
			if err := tx.First(&insumo, ing.InsumoId).Error; err != nil {
				return nil, err
			}
			shortages = append(shortages, Shortage{
				InsumoId:  ing.InsumoId,
				Name:      insumo.Name,
				Needed:    needed,
				Available: available,
				Missing:   missing,
			})
		}
	}
	return shortages, nil
}
