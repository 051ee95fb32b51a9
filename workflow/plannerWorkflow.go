package workflow

import (
	"context"
	"time"

	"bitbucket.org/grupoalimenta/produccion_backend/config"
	"bitbucket.org/grupoalimenta/produccion_backend/models"
	"bitbucket.org/grupoalimenta/produccion_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// autoPlanLockTTL bounds how long one auto-plan run may hold the cluster
// lock.
const autoPlanLockTTL = 10 * time.Minute

// lineOneThreshold routes big batches to the high-throughput line.
var lineOneThreshold = decimal.NewFromInt(50)

// PlanAssignment is the planner's choice of line and start for one order.
type PlanAssignment struct {
	Line      int       `json:"line" binding:"required"`
	StartDate time.Time `json:"start_date" binding:"required"`
}

// PlanOutcome is the result of one interactive planning call. When the
// simulation spans more than one day nothing is committed; the caller gets
// MultiDayConfirm and must call ConfirmApproval to proceed.
type PlanOutcome struct {
	MultiDayConfirm   bool              `json:"multi_day_confirm"`
	Simulation        *SimulationResult `json:"simulation,omitempty"`
	Approval          *ApprovalResult   `json:"approval,omitempty"`
	ProductionOrderId int               `json:"production_order_id"`
}

// AutoPlanSummary aggregates one daily run.
type AutoPlanSummary struct {
	Planned     int      `json:"planned"`
	OCGenerated int      `json:"oc_generated"`
	Confirmed   int      `json:"confirmed_pending"`
	Errors      []string `json:"errors"`
}

// ConsolidateAndApprove is the interactive planning entry point: fold the
// given orders into one (when more than one), simulate the assignment, and
// approve unless the window spans multiple days.
func ConsolidateAndApprove(ctx context.Context, logger *logrus.Logger, poIds []int, assignment PlanAssignment) (*PlanOutcome, error) {
	if len(poIds) == 0 {
		return nil, utils.NewValidationError("no orders given", map[string]string{"po_ids": "min=1"})
	}

	poId := poIds[0]
	if len(poIds) > 1 {
		parent, err := ConsolidateOrders(ctx, logger, poIds)
		if err != nil {
			return nil, err
		}
		poId = parent.ID
	}

	po, err := models.GetProductionOrder(ctx, poId)
	if err != nil {
		return nil, utils.NewNotFoundError("production_order", poId)
	}
	recipe, err := models.GetRecipeById(ctx, po.RecipeId)
	if err != nil {
		return nil, err
	}

	load := LoadMinutes(logger, recipe, po.PlannedQty)
	sim, err := SimulateLoad(ctx, logger, assignment.Line, assignment.StartDate, load, po.ID)
	if err != nil {
		return nil, err
	}
	if sim.DaysUsed > 1 {
		// surfaces the window without committing anything
		return &PlanOutcome{
			MultiDayConfirm:   true,
			Simulation:        sim,
			ProductionOrderId: poId,
		}, nil
	}

	approval, err := ApproveProductionOrder(ctx, logger, poId, assignment.Line, assignment.StartDate)
	if err != nil {
		return nil, err
	}
	return &PlanOutcome{
		Simulation:        approval.Simulation,
		Approval:          approval,
		ProductionOrderId: poId,
	}, nil
}

// ConfirmApproval commits a plan the client already saw a multi-day
// warning for.
func ConfirmApproval(ctx context.Context, logger *logrus.Logger, poId int, assignment PlanAssignment) (*ApprovalResult, error) {
	return ApproveProductionOrder(ctx, logger, poId, assignment.Line, assignment.StartDate)
}

// SuggestLine picks a line for a planned quantity: batches of fifty or more
// go to line 1 when the recipe allows it, otherwise line 2, otherwise
// whichever single line the recipe is compatible with.
func SuggestLine(recipe *models.Recipe, plannedQty decimal.Decimal) (int, error) {
	one := recipe.CompatibleWithLine(1)
	two := recipe.CompatibleWithLine(2)
	switch {
	case one && two:
		if plannedQty.GreaterThanOrEqual(lineOneThreshold) {
			return 1, nil
		}
		return 2, nil
	case one:
		return 1, nil
	case two:
		return 2, nil
	}
	return 0, utils.NewValidationError("recipe is compatible with no line", map[string]string{"recipe_id": "line_compat"})
}

// RunAutoPlan is the daily job: adopt unplanned sales demand, then plan
// every Pending order group inside the horizon. The run is serialised
// cluster-wide by a redis lock so overlapping timers and multiple workers
// cannot double plan.
func RunAutoPlan(ctx context.Context, logger *logrus.Logger, horizonDays int) (*AutoPlanSummary, error) {
	release, err := utils.NamedLock(ctx, "auto_planner", autoPlanLockTTL, "plannerWorkflow.go", "RunAutoPlan")
	if err != nil {
		return nil, utils.NewConflictError("auto planner already running")
	}
	defer release()

	summary := AutoPlanSummary{Errors: []string{}}

	if err := adoptSalesDemand(ctx, logger, horizonDays, &summary); err != nil {
		config.LogError(logger, "plannerWorkflow.go", "RunAutoPlan", "adopt sales demand", nil, err)
		summary.Errors = append(summary.Errors, err.Error())
	}

	grouped, err := models.PendingOrdersByProduct(ctx, horizonDays)
	if err != nil {
		return nil, err
	}

	today := utils.DateOnly(time.Now())
	for productId, orders := range grouped {
		// one product group failing must not stop the rest
		err := func() error {
			recipe, err := models.GetActiveRecipe(ctx, productId)
			if err != nil {
				return utils.NewValidationError("product has no active recipe", map[string]string{"product_id": "no_active_recipe"})
			}

			total := decimal.Zero
			ids := make([]int, 0, len(orders))
			for _, po := range orders {
				total = total.Add(po.PlannedQty)
				ids = append(ids, po.ID)
			}
			line, err := SuggestLine(recipe, total)
			if err != nil {
				return err
			}

			outcome, err := ConsolidateAndApprove(ctx, logger, ids, PlanAssignment{Line: line, StartDate: today})
			if err != nil {
				return err
			}
			if outcome.MultiDayConfirm {
				// multi-day windows need a human; leave the group pending
				summary.Confirmed++
				return nil
			}
			summary.Planned++
			if outcome.Approval != nil {
				summary.OCGenerated += len(outcome.Approval.PurchaseOrders)
			}
			return nil
		}()
		if err != nil {
			config.LogError(logger, "plannerWorkflow.go", "RunAutoPlan", "plan product group", productId, err)
			summary.Errors = append(summary.Errors, err.Error())
		}
	}
	return &summary, nil
}

// adoptSalesDemand creates Pending production orders for sales items inside
// the horizon that have none yet.
func adoptSalesDemand(ctx context.Context, logger *logrus.Logger, horizonDays int, summary *AutoPlanSummary) error {
	items, err := models.UnplannedSalesItems(ctx, horizonDays)
	if err != nil {
		return err
	}
	for _, item := range items {
		deliveryDate, err := models.SalesDeliveryDate(ctx, item.ID)
		if err != nil {
			config.LogError(logger, "plannerWorkflow.go", "adoptSalesDemand", "resolve delivery date", item.ID, err)
			summary.Errors = append(summary.Errors, err.Error())
			continue
		}
		input := models.NewProductionOrder{
			ProductId:         item.ProductId,
			PlannedQty:        item.Qty,
			TargetDate:        deliveryDate,
			SourceSalesItemId: item.ID,
		}
		if _, err := models.CreateProductionOrder(ctx, &input); err != nil {
			config.LogError(logger, "plannerWorkflow.go", "adoptSalesDemand", "create order from sales item", item.ID, err)
			summary.Errors = append(summary.Errors, err.Error())
		}
	}
	return nil
}
