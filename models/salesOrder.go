package models

import (
	"context"
	"time"

	"bitbucket.org/grupoalimenta/produccion_backend/config"
	"bitbucket.org/grupoalimenta/produccion_backend/utils"
	"github.com/shopspring/decimal"
)

// SalesOrder is the commercial demand feeding the planner. Items in Open
// orders without a linked production order are planning candidates.
type SalesOrder struct {
	ID           int              `gorm:"primary_key" json:"id"`
	CustomerName string           `gorm:"size:200;not null" json:"customer_name" binding:"required"`
	DeliveryDate time.Time        `gorm:"not null" json:"delivery_date" binding:"required"`
	State        SalesOrderState  `gorm:"type:enum('Open','Planned','Fulfilled','Cancelled');not null;default:Open" json:"state"`
	CreatedBy    int              `gorm:"not null" json:"created_by"`
	Items        []SalesOrderItem `gorm:"foreignKey:SalesOrderId" json:"items"`
	CreatedAt    time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type SalesOrderItem struct {
	ID           int             `gorm:"primary_key" json:"id"`
	SalesOrderId int             `gorm:"index;not null" json:"sales_order_id"`
	ProductId    int             `gorm:"index;not null" json:"product_id"`
	Qty          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
}

func GetSalesOrder(ctx context.Context, id int) (*SalesOrder, error) {
	return utils.FetchModel[SalesOrder](ctx, id, "Items")
}

func CreateSalesOrder(ctx context.Context, so *SalesOrder) error {
	db := config.GetDB()
	if len(so.Items) == 0 {
		return utils.NewValidationError("sales order needs at least one item", map[string]string{"items": "min=1"})
	}
	for _, item := range so.Items {
		if !item.Qty.IsPositive() {
			return utils.NewValidationError("item qty must be positive", map[string]string{"qty": "gt=0"})
		}
		if err := utils.ValidateResourceId[Product](ctx, item.ProductId); err != nil {
			return utils.NewValidationError("product not found", map[string]string{"product_id": "exists"})
		}
	}
	userId, _ := utils.GetUserIdFromContext(ctx)
	so.CreatedBy = userId
	so.State = SalesOrderStateOpen
	return db.WithContext(ctx).Create(so).Error
}

// UnplannedSalesItems lists Open order items that have no production order
// bound yet, ordered by delivery urgency.
func UnplannedSalesItems(ctx context.Context, horizonDays int) ([]SalesOrderItem, error) {
	db := config.GetDB()
	until := utils.DateOnly(time.Now()).AddDate(0, 0, horizonDays)
	var items []SalesOrderItem
	err := db.WithContext(ctx).
		Joins("JOIN sales_orders ON sales_orders.id = sales_order_items.sales_order_id").
		Where("sales_orders.state = ? AND sales_orders.delivery_date < ?", SalesOrderStateOpen, until).
		Where("NOT EXISTS (SELECT 1 FROM production_orders WHERE production_orders.source_sales_item_id = sales_order_items.id AND production_orders.state != ?)",
			ProductionOrderStateCancelled).
		Order("sales_orders.delivery_date ASC, sales_order_items.id ASC").
		Find(&items).Error
	return items, err
}

// SalesDeliveryDate resolves the parent order's delivery date for an item.
func SalesDeliveryDate(ctx context.Context, itemId int) (time.Time, error) {
	db := config.GetDB()
	var so SalesOrder
	err := db.WithContext(ctx).
		Joins("JOIN sales_order_items ON sales_order_items.sales_order_id = sales_orders.id").
		Where("sales_order_items.id = ?", itemId).
		First(&so).Error
	if err != nil {
		return time.Time{}, err
	}
	return so.DeliveryDate, nil
}
