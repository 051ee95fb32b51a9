package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/grupoalimenta/produccion_backend/config"
	"bitbucket.org/grupoalimenta/produccion_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProductionOrder is the unit of work of the plant. Its lifecycle is the
// heart of the system:
//
//	Pending -> Approved | WaitingStock | Cancelled | Consolidated
//	WaitingStock -> Ready | Cancelled
//	Approved -> Ready
//	Ready -> InProgress | Cancelled
//	InProgress -> QualityCheck
//	QualityCheck -> Completed
//
// Transitions are linearised by compare-on-state updates; see
// UpdateStateGuarded.
type ProductionOrder struct {
	ID               int                  `gorm:"primary_key" json:"id"`
	Code             string               `gorm:"size:100;uniqueIndex;not null" json:"code"`
	SequenceNo       decimal.Decimal      `gorm:"type:decimal(15);not null" json:"sequence_no"`
	ProductId        int                  `gorm:"index;not null" json:"product_id" binding:"required"`
	RecipeId         int                  `gorm:"index;default:null" json:"recipe_id"`
	PlannedQty       decimal.Decimal      `gorm:"type:decimal(20,4);not null" json:"planned_qty" binding:"required"`
	ProducedQty      decimal.Decimal      `gorm:"type:decimal(20,4);default:0" json:"produced_qty"`
	WasteQty         decimal.Decimal      `gorm:"type:decimal(20,4);default:0" json:"waste_qty"`
	TargetDate       time.Time            `gorm:"not null" json:"target_date"`
	PlannedStartDate *time.Time           `gorm:"index" json:"planned_start_date"`
	LineAssigned     int                  `gorm:"default:0" json:"line_assigned"`
	SupervisorId     int                  `gorm:"default:null" json:"supervisor_id"`
	OperatorId       int                  `gorm:"default:null" json:"operator_id"`
	State            ProductionOrderState `gorm:"type:enum('Pending','Approved','WaitingStock','Ready','InProgress','QualityCheck','Completed','Cancelled','Consolidated');not null;default:Pending" json:"state"`
	CreatedBy        int                  `gorm:"not null" json:"created_by"`
	ApprovedAt       *time.Time           `json:"approved_at"`
	StartedAt        *time.Time           `json:"started_at"`
	FinishedAt       *time.Time           `json:"finished_at"`
	// ParentId points to the consolidated order this one was folded into.
	ParentId          int       `gorm:"index;default:null" json:"parent_id"`
	SourceSalesItemId int       `gorm:"index;default:null" json:"source_sales_item_id"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProductionOrder struct {
	ProductId         int             `json:"product_id" binding:"required"`
	PlannedQty        decimal.Decimal `json:"planned_qty" binding:"required"`
	TargetDate        time.Time       `json:"target_date" binding:"required"`
	SupervisorId      int             `json:"supervisor_id"`
	SourceSalesItemId int             `json:"source_sales_item_id"`
}

// allowedTransitions is the single source of truth for the state machine.
var allowedTransitions = map[ProductionOrderState][]ProductionOrderState{
	ProductionOrderStatePending: {
		ProductionOrderStateApproved,
		ProductionOrderStateWaitingStock,
		ProductionOrderStateCancelled,
		ProductionOrderStateConsolidated,
	},
	ProductionOrderStateApproved: {
		ProductionOrderStateReady,
		ProductionOrderStateCancelled,
	},
	ProductionOrderStateWaitingStock: {
		ProductionOrderStateReady,
		ProductionOrderStateCancelled,
	},
	ProductionOrderStateReady: {
		ProductionOrderStateInProgress,
		ProductionOrderStateCancelled,
	},
	ProductionOrderStateInProgress: {
		ProductionOrderStateQualityCheck,
	},
	ProductionOrderStateQualityCheck: {
		ProductionOrderStateCompleted,
	},
}

// TransitionAllowed reports whether from -> to is a legal move.
func TransitionAllowed(from, to ProductionOrderState) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (po ProductionOrder) HasLineWhileActive() bool {
	switch po.State {
	case ProductionOrderStateApproved, ProductionOrderStateWaitingStock,
		ProductionOrderStateReady, ProductionOrderStateInProgress,
		ProductionOrderStateQualityCheck:
		return po.LineAssigned == 1 || po.LineAssigned == 2
	}
	return true
}

func GetProductionOrder(ctx context.Context, id int) (*ProductionOrder, error) {
	return utils.FetchModel[ProductionOrder](ctx, id)
}

func GetProductionOrderByCode(ctx context.Context, code string) (*ProductionOrder, error) {
	db := config.GetDB()
	var po ProductionOrder
	if err := db.WithContext(ctx).Where("code = ?", code).First(&po).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &po, nil
}

func (input NewProductionOrder) validate(ctx context.Context) error {
	if !input.PlannedQty.IsPositive() {
		return utils.NewValidationError("planned qty must be positive", map[string]string{"planned_qty": "gt=0"})
	}
	if err := utils.ValidateResourceId[Product](ctx, input.ProductId); err != nil {
		return errors.New("product not found")
	}
	product, err := GetProduct(ctx, input.ProductId)
	if err != nil {
		return err
	}
	if !product.IsActive() {
		return utils.NewValidationError("product is inactive", map[string]string{"product_id": "inactive"})
	}
	if product.MaxOrderQty.IsPositive() && input.PlannedQty.GreaterThan(product.MaxOrderQty) {
		return utils.NewValidationError("planned qty exceeds product maximum", map[string]string{"planned_qty": "lte=max_order_qty"})
	}
	if input.SupervisorId != 0 {
		if err := utils.ValidateResourceId[User](ctx, input.SupervisorId); err != nil {
			return errors.New("supervisor not found")
		}
	}
	return nil
}

// CreateProductionOrder stores a Pending order. The active recipe is bound
// at creation so later recipe edits do not silently change committed work.
func CreateProductionOrder(ctx context.Context, input *NewProductionOrder) (*ProductionOrder, error) {
	db := config.GetDB()

	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	recipe, err := GetActiveRecipe(ctx, input.ProductId)
	if err != nil {
		return nil, utils.NewValidationError("product has no active recipe", map[string]string{"product_id": "no_active_recipe"})
	}

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}

	po := ProductionOrder{
		ProductId:         input.ProductId,
		RecipeId:          recipe.ID,
		PlannedQty:        input.PlannedQty,
		TargetDate:        input.TargetDate,
		SupervisorId:      input.SupervisorId,
		State:             ProductionOrderStatePending,
		CreatedBy:         userId,
		SourceSalesItemId: input.SourceSalesItemId,
	}

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	seqNo, err := utils.GetSequence[ProductionOrder](ctx)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	po.SequenceNo = decimal.NewFromInt(seqNo)
	po.Code = fmt.Sprintf("OP-%05d", seqNo)

	if err := tx.WithContext(ctx).Create(&po).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	return &po, tx.Commit().Error
}

// UpdateStateGuarded is the compare-on-state transition primitive. It only
// writes when the row still carries expectedState; callers treat a false
// return as PreconditionFailed and re-read.
func UpdateStateGuarded(tx *gorm.DB, poId int, expectedState, newState ProductionOrderState, extra map[string]interface{}) (bool, error) {
	if !TransitionAllowed(expectedState, newState) {
		return false, utils.NewPreconditionError(
			"transition not allowed",
			string(expectedState),
			string(newState),
		)
	}
	updates := map[string]interface{}{"state": newState}
	for k, v := range extra {
		updates[k] = v
	}
	res := tx.Model(&ProductionOrder{}).
		Where("id = ? AND state = ?", poId, expectedState).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// PendingOrdersByProduct groups Pending orders inside a horizon by product,
// the shape the auto-planner consumes.
func PendingOrdersByProduct(ctx context.Context, horizonDays int) (map[int][]ProductionOrder, error) {
	db := config.GetDB()
	until := utils.DateOnly(time.Now()).AddDate(0, 0, horizonDays)
	var orders []ProductionOrder
	err := db.WithContext(ctx).
		Where("state = ? AND target_date < ?", ProductionOrderStatePending, until).
		Order("target_date ASC, id ASC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	grouped := make(map[int][]ProductionOrder)
	for _, po := range orders {
		grouped[po.ProductId] = append(grouped[po.ProductId], po)
	}
	return grouped, nil
}

// OrdersStartingOn returns the active orders of a line that start on a given
// day, used by the capacity simulator to compute residual load.
func OrdersStartingOn(ctx context.Context, line int, day time.Time, excludePoId int) ([]ProductionOrder, error) {
	db := config.GetDB()
	var orders []ProductionOrder
	q := db.WithContext(ctx).
		Where("line_assigned = ? AND planned_start_date = ? AND state IN ?", line, utils.DateOnly(day),
			[]ProductionOrderState{
				ProductionOrderStateApproved,
				ProductionOrderStateWaitingStock,
				ProductionOrderStateReady,
				ProductionOrderStateInProgress,
				ProductionOrderStateQualityCheck,
			})
	if excludePoId > 0 {
		q = q.Where("id != ?", excludePoId)
	}
	err := q.Find(&orders).Error
	return orders, err
}

// ChildOrders lists the orders folded into a consolidated parent.
func ChildOrders(ctx context.Context, parentId int) ([]ProductionOrder, error) {
	db := config.GetDB()
	var orders []ProductionOrder
	err := db.WithContext(ctx).Where("parent_id = ?", parentId).Find(&orders).Error
	return orders, err
}

// WaitingOrderForPurchase returns the WaitingStock order tied to a purchase
// order, if any.
func WaitingOrderForPurchase(tx *gorm.DB, productionOrderId int) (*ProductionOrder, error) {
	if productionOrderId == 0 {
		return nil, nil
	}
	var po ProductionOrder
	err := tx.First(&po, productionOrderId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if po.State != ProductionOrderStateWaitingStock {
		return nil, nil
	}
	return &po, nil
}
