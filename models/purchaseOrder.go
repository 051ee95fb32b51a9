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

// PurchaseOrder is a restock request against a single supplier. Incomplete
// receptions spawn a complementary order for the remainder; ComplementsId
// links the chain back to its origin.
type PurchaseOrder struct {
	ID         int                `gorm:"primary_key" json:"id"`
	Code       string             `gorm:"size:100;uniqueIndex;not null" json:"code"`
	SequenceNo decimal.Decimal    `gorm:"type:decimal(15);not null" json:"sequence_no"`
	SupplierId int                `gorm:"index;not null" json:"supplier_id"`
	State      PurchaseOrderState `gorm:"type:enum('Pending','Approved','InTransit','ReceptionComplete','ReceptionIncomplete','InQualityCheck','Closed','Rejected','Cancelled');not null;default:Pending" json:"state"`
	ExpectedAt *time.Time         `json:"expected_at"`
	ReceivedAt *time.Time         `json:"received_at"`
	// ComplementsId points at the purchase order this one completes.
	ComplementsId     int                 `gorm:"index;default:null" json:"complements_id"`
	ProductionOrderId int                 `gorm:"index;default:null" json:"production_order_id"`
	CreatedBy         int                 `gorm:"not null" json:"created_by"`
	Items             []PurchaseOrderItem `gorm:"foreignKey:PurchaseOrderId" json:"items"`
	CreatedAt         time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

type PurchaseOrderItem struct {
	ID              int             `gorm:"primary_key" json:"id"`
	PurchaseOrderId int             `gorm:"index;not null" json:"purchase_order_id"`
	InsumoId        int             `gorm:"index;not null" json:"insumo_id"`
	OrderedQty      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"ordered_qty"`
	ReceivedQty     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"received_qty"`
	UnitCost        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
}

func (item PurchaseOrderItem) MissingQty() decimal.Decimal {
	missing := item.OrderedQty.Sub(item.ReceivedQty)
	if missing.IsNegative() {
		return decimal.Zero
	}
	return utils.ZeroIfNegligible(missing)
}

var allowedPurchaseTransitions = map[PurchaseOrderState][]PurchaseOrderState{
	PurchaseOrderStatePending: {
		PurchaseOrderStateApproved,
		PurchaseOrderStateRejected,
		PurchaseOrderStateCancelled,
	},
	PurchaseOrderStateApproved: {
		PurchaseOrderStateInTransit,
		PurchaseOrderStateCancelled,
	},
	PurchaseOrderStateInTransit: {
		PurchaseOrderStateReceptionComplete,
		PurchaseOrderStateReceptionIncomplete,
	},
	PurchaseOrderStateReceptionComplete: {
		PurchaseOrderStateInQualityCheck,
	},
	PurchaseOrderStateReceptionIncomplete: {
		PurchaseOrderStateInQualityCheck,
	},
	PurchaseOrderStateInQualityCheck: {
		PurchaseOrderStateClosed,
		PurchaseOrderStateRejected,
	},
}

func PurchaseTransitionAllowed(from, to PurchaseOrderState) bool {
	for _, s := range allowedPurchaseTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func GetPurchaseOrder(ctx context.Context, id int) (*PurchaseOrder, error) {
	return utils.FetchModel[PurchaseOrder](ctx, id, "Items")
}

// CreatePurchaseOrder persists a Pending order with its items inside tx.
// The caller is expected to have grouped items by supplier already.
func CreatePurchaseOrder(ctx context.Context, tx *gorm.DB, po *PurchaseOrder) error {
	if len(po.Items) == 0 {
		return utils.NewValidationError("purchase order needs at least one item", map[string]string{"items": "min=1"})
	}
	for _, item := range po.Items {
		if !item.OrderedQty.IsPositive() {
			return utils.NewValidationError("ordered qty must be positive", map[string]string{"ordered_qty": "gt=0"})
		}
	}
	seqNo, err := utils.GetSequence[PurchaseOrder](ctx)
	if err != nil {
		return err
	}
	po.SequenceNo = decimal.NewFromInt(seqNo)
	po.Code = fmt.Sprintf("OC-%05d", seqNo)
	po.State = PurchaseOrderStatePending
	return tx.Create(po).Error
}

// UpdatePurchaseStateGuarded mirrors the production order primitive:
// compare-on-state, single row, legality checked against the table first.
func UpdatePurchaseStateGuarded(tx *gorm.DB, poId int, expectedState, newState PurchaseOrderState, extra map[string]interface{}) (bool, error) {
	if !PurchaseTransitionAllowed(expectedState, newState) {
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
	res := tx.Model(&PurchaseOrder{}).
		Where("id = ? AND state = ?", poId, expectedState).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// OpenPurchaseOrdersForInsumo reports whether an insumo already has an
// undelivered order in flight, the idempotency gate of the auto-generator.
func OpenPurchaseOrdersForInsumo(ctx context.Context, insumoId int) (bool, error) {
	db := config.GetDB()
	var count int64
	err := db.WithContext(ctx).Model(&PurchaseOrder{}).
		Joins("JOIN purchase_order_items ON purchase_order_items.purchase_order_id = purchase_orders.id").
		Where("purchase_order_items.insumo_id = ? AND purchase_orders.state IN ?", insumoId,
			[]PurchaseOrderState{
				PurchaseOrderStatePending,
				PurchaseOrderStateApproved,
				PurchaseOrderStateInTransit,
			}).
		Count(&count).Error
	return count > 0, err
}

// RootPurchaseOrder walks the ComplementsId chain to its origin.
func RootPurchaseOrder(tx *gorm.DB, po *PurchaseOrder) (*PurchaseOrder, error) {
	current := po
	for current.ComplementsId != 0 {
		var parent PurchaseOrder
		if err := tx.Preload("Items").First(&parent, current.ComplementsId).Error; err != nil {
			return nil, err
		}
		if parent.ID == po.ID {
			return nil, errors.New("complement chain cycle detected")
		}
		current = &parent
	}
	return current, nil
}

// ChainInsumoIds collects every insumo ordered anywhere in the chain rooted
// at root, including complements spawned from it.
func ChainInsumoIds(tx *gorm.DB, rootId int) ([]int, error) {
	ids := []int{}
	frontier := []int{rootId}
	for len(frontier) > 0 {
		var items []PurchaseOrderItem
		if err := tx.Where("purchase_order_id IN ?", frontier).Find(&items).Error; err != nil {
			return nil, err
		}
		for _, item := range items {
			ids = append(ids, item.InsumoId)
		}
		var children []PurchaseOrder
		if err := tx.Where("complements_id IN ?", frontier).Find(&children).Error; err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for _, child := range children {
			frontier = append(frontier, child.ID)
		}
	}
	return utils.UniqueSlice(ids), nil
}

// OpenComplementsExist reports whether any member of the chain rooted at
// root is still undelivered; awaiting_restock only clears when the whole
// chain lands. Complements link to their immediate parent, so the whole
// tree is walked, not just the root's direct children.
func OpenComplementsExist(tx *gorm.DB, rootId int, excludeId int) (bool, error) {
	frontier := []int{rootId}
	for len(frontier) > 0 {
		var children []PurchaseOrder
		if err := tx.Where("complements_id IN ?", frontier).Find(&children).Error; err != nil {
			return false, err
		}
		frontier = frontier[:0]
		for _, child := range children {
			switch child.State {
			case PurchaseOrderStateClosed, PurchaseOrderStateRejected, PurchaseOrderStateCancelled:
			default:
				if child.ID != excludeId {
					return true, nil
				}
			}
			frontier = append(frontier, child.ID)
		}
	}
	return false, nil
}
