package models

import (
	"context"
	"time"

	"bitbucket.org/grupoalimenta/produccion_backend/utils"
)

// User exists for audit attribution and role checks; authentication lives
// upstream at the gateway.
type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:200;not null" json:"name"`
	Email     string    `gorm:"size:200;uniqueIndex" json:"email"`
	Role      string    `gorm:"type:enum('planner','supervisor','operator','purchaser','admin','system');not null;default:operator" json:"role"`
	Active    *bool     `gorm:"default:true" json:"active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func GetUser(ctx context.Context, id int) (*User, error) {
	return utils.FetchModel[User](ctx, id)
}

func (u User) CanApprove() bool {
	switch u.Role {
	case "planner", "supervisor", "admin", "system":
		return true
	}
	return false
}
