package models

import (
	"context"
	"time"

	"bitbucket.org/grupoalimenta/produccion_backend/config"
	"bitbucket.org/grupoalimenta/produccion_backend/utils"
	"github.com/shopspring/decimal"
)

// Product is a finished good the plant can produce. Catalog maintenance is
// handled elsewhere; the core only reads products and enforces referential
// integrity (a product referenced by recipes or lots is never hard-deleted,
// only deactivated).
type Product struct {
	ID          int             `gorm:"primary_key" json:"id"`
	Code        string          `gorm:"size:100;uniqueIndex;not null" json:"code" binding:"required"`
	Name        string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Unit        string          `gorm:"size:50;not null;default:unidad" json:"unit"`
	Active      *bool           `gorm:"not null;default:true" json:"active"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	MinStock    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"min_stock"`
	MaxOrderQty decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"max_order_qty"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p Product) IsActive() bool {
	return p.Active != nil && *p.Active
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	return utils.FetchModel[Product](ctx, id)
}

// DeactivateProduct soft-deactivates. Products referenced by recipes or
// finished lots must survive as rows for traceability.
func DeactivateProduct(ctx context.Context, id int) (*Product, error) {
	product, err := utils.FetchModel[Product](ctx, id)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Model(product).Update("active", false).Error; err != nil {
		return nil, err
	}
	return product, nil
}
