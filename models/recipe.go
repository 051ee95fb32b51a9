package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/grupoalimenta/produccion_backend/config"
	"bitbucket.org/grupoalimenta/produccion_backend/utils"
	"github.com/shopspring/decimal"
)

// Recipe is the active production formula of a product. Exactly one recipe
// per product is active at any time; activating a new version deactivates
// the previous one in the same transaction.
type Recipe struct {
	ID        int   `gorm:"primary_key" json:"id"`
	ProductId int   `gorm:"index;not null" json:"product_id" binding:"required"`
	Version   int   `gorm:"not null;default:1" json:"version"`
	Active    *bool `gorm:"not null;default:true" json:"active"`
	// Yield is finished units per recipe run; per-unit ingredient quantities
	// already account for it, so the planner treats it as informational.
	Yield decimal.Decimal `gorm:"type:decimal(20,4);default:1" json:"yield"`
	// CompatibleLine1/2 mirror the two physical lines of the plant.
	CompatibleLine1 *bool `gorm:"not null;default:true" json:"compatible_line_1"`
	CompatibleLine2 *bool `gorm:"not null;default:true" json:"compatible_line_2"`
	// PrepMinutes is fixed setup time; ExecMinutesPerUnit scales with qty.
	PrepMinutes        decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"prep_minutes"`
	ExecMinutesPerUnit decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"exec_minutes_per_unit"`
	Ingredients        []RecipeIngredient `json:"ingredients"`
	CreatedAt          time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

type RecipeIngredient struct {
	ID              int             `gorm:"primary_key" json:"id"`
	RecipeId        int             `gorm:"index;not null;uniqueIndex:idx_recipe_insumo" json:"recipe_id"`
	InsumoId        int             `gorm:"not null;uniqueIndex:idx_recipe_insumo" json:"insumo_id" binding:"required"`
	QuantityPerUnit decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity_per_unit" binding:"required"`
	Unit            string          `gorm:"size:50;not null;default:kg" json:"unit"`
}

type NewRecipe struct {
	ProductId          int                   `json:"product_id" binding:"required"`
	Yield              decimal.Decimal       `json:"yield"`
	CompatibleLine1    *bool                 `json:"compatible_line_1"`
	CompatibleLine2    *bool                 `json:"compatible_line_2"`
	PrepMinutes        decimal.Decimal       `json:"prep_minutes"`
	ExecMinutesPerUnit decimal.Decimal       `json:"exec_minutes_per_unit"`
	Ingredients        []NewRecipeIngredient `json:"ingredients" binding:"required"`
}

type NewRecipeIngredient struct {
	InsumoId        int             `json:"insumo_id" binding:"required"`
	QuantityPerUnit decimal.Decimal `json:"quantity_per_unit" binding:"required"`
	Unit            string          `json:"unit"`
}

func (r Recipe) CompatibleWithLine(line int) bool {
	switch line {
	case 1:
		return r.CompatibleLine1 != nil && *r.CompatibleLine1
	case 2:
		return r.CompatibleLine2 != nil && *r.CompatibleLine2
	}
	return false
}

// GetActiveRecipe returns the single active recipe of a product with its
// ingredients preloaded.
func GetActiveRecipe(ctx context.Context, productId int) (*Recipe, error) {
	db := config.GetDB()
	var recipe Recipe
	err := db.WithContext(ctx).
		Preload("Ingredients").
		Where("product_id = ? AND active = ?", productId, true).
		First(&recipe).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &recipe, nil
}

// GetRecipeById fetches a recipe regardless of its active flag; committed
// orders keep pointing at the version they were planned with.
func GetRecipeById(ctx context.Context, id int) (*Recipe, error) {
	return utils.FetchModel[Recipe](ctx, id, "Ingredients")
}

func (input NewRecipe) validate(ctx context.Context) error {
	if err := utils.ValidateResourceId[Product](ctx, input.ProductId); err != nil {
		return errors.New("product not found")
	}
	if len(input.Ingredients) == 0 {
		return errors.New("recipe requires at least one ingredient")
	}
	insumoIds := make([]int, 0, len(input.Ingredients))
	for _, ing := range input.Ingredients {
		if ing.QuantityPerUnit.IsNegative() || ing.QuantityPerUnit.IsZero() {
			return errors.New("ingredient quantity must be positive")
		}
		insumoIds = append(insumoIds, ing.InsumoId)
	}
	if len(utils.UniqueSlice(insumoIds)) != len(insumoIds) {
		return errors.New("duplicate insumo in recipe")
	}
	if err := utils.ValidateResourcesId[Insumo](ctx, insumoIds); err != nil {
		return errors.New("insumo not found")
	}
	return nil
}

// CreateRecipe stores a new version and deactivates the previous active one
// atomically. A product is never left without an active recipe by this path.
func CreateRecipe(ctx context.Context, input *NewRecipe) (*Recipe, error) {
	db := config.GetDB()

	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	var maxVersion *int
	if err := db.WithContext(ctx).Model(&Recipe{}).
		Select("max(version)").
		Where("product_id = ?", input.ProductId).
		Scan(&maxVersion).Error; err != nil {
		return nil, err
	}
	version := 1
	if maxVersion != nil {
		version = *maxVersion + 1
	}

	yield := input.Yield
	if yield.IsZero() {
		yield = decimal.NewFromInt(1)
	}

	ingredients := make([]RecipeIngredient, 0, len(input.Ingredients))
	for _, ing := range input.Ingredients {
		unit := ing.Unit
		if unit == "" {
			unit = "kg"
		}
		ingredients = append(ingredients, RecipeIngredient{
			InsumoId:        ing.InsumoId,
			QuantityPerUnit: ing.QuantityPerUnit,
			Unit:            unit,
		})
	}

	recipe := Recipe{
		ProductId:          input.ProductId,
		Version:            version,
		Active:             utils.NewTrue(),
		Yield:              yield,
		CompatibleLine1:    input.CompatibleLine1,
		CompatibleLine2:    input.CompatibleLine2,
		PrepMinutes:        input.PrepMinutes,
		ExecMinutesPerUnit: input.ExecMinutesPerUnit,
		Ingredients:        ingredients,
	}
	if recipe.CompatibleLine1 == nil {
		recipe.CompatibleLine1 = utils.NewTrue()
	}
	if recipe.CompatibleLine2 == nil {
		recipe.CompatibleLine2 = utils.NewTrue()
	}

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := tx.WithContext(ctx).Model(&Recipe{}).
		Where("product_id = ? AND active = ?", input.ProductId, true).
		Update("active", false).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.WithContext(ctx).Create(&recipe).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	return &recipe, tx.Commit().Error
}
