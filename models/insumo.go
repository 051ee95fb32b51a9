package models

import (
	"context"
	"time"

	"bitbucket.org/grupoalimenta/produccion_backend/config"
	"bitbucket.org/grupoalimenta/produccion_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Insumo is a raw material consumed by recipes.
//
// AwaitingRestock is a coarse, persistent idempotency gate: while true, the
// auto-generator will not open a second purchase order for the same
// shortage chain. It is cleared when the chain closes (or by an operator).
type Insumo struct {
	ID                int             `gorm:"primary_key" json:"id"`
	Code              string          `gorm:"size:100;uniqueIndex;not null" json:"code" binding:"required"`
	Name              string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Unit              string          `gorm:"size:50;not null;default:kg" json:"unit"`
	CatalogPrice      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"catalog_price"`
	MinStock          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"min_stock"`
	StockActual       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"stock_actual"`
	DefaultSupplierId int             `gorm:"index;default:null" json:"default_supplier_id"`
	Active            *bool           `gorm:"not null;default:true" json:"active"`
	AwaitingRestock   *bool           `gorm:"not null;default:false" json:"awaiting_restock"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (i Insumo) IsAwaitingRestock() bool {
	return i.AwaitingRestock != nil && *i.AwaitingRestock
}

func GetInsumo(ctx context.Context, id int) (*Insumo, error) {
	return utils.FetchModel[Insumo](ctx, id)
}

func GetInsumosByIds(ctx context.Context, ids []int) ([]Insumo, error) {
	db := config.GetDB()
	var insumos []Insumo
	err := db.WithContext(ctx).Where("id IN ?", utils.UniqueSlice(ids)).Find(&insumos).Error
	return insumos, err
}

// SetAwaitingRestock flips the idempotency gate inside the caller's transaction.
func SetAwaitingRestock(tx *gorm.DB, insumoIds []int, value bool) error {
	if len(insumoIds) == 0 {
		return nil
	}
	return tx.Model(&Insumo{}).
		Where("id IN ?", utils.UniqueSlice(insumoIds)).
		Update("awaiting_restock", value).Error
}
