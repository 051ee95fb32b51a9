package models

import (
	"context"
	"time"

	"bitbucket.org/grupoalimenta/produccion_backend/utils"
)

type Supplier struct {
	ID           int       `gorm:"primary_key" json:"id"`
	Name         string    `gorm:"size:255;not null" json:"name" binding:"required"`
	TaxId        string    `gorm:"size:100" json:"tax_id"`
	Email        string    `gorm:"size:255" json:"email"`
	Phone        string    `gorm:"size:50" json:"phone"`
	LeadTimeDays int       `gorm:"default:3" json:"lead_time_days"`
	Active       *bool     `gorm:"not null;default:true" json:"active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetSupplier(ctx context.Context, id int) (*Supplier, error) {
	return utils.FetchModel[Supplier](ctx, id)
}
