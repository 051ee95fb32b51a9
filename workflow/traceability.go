package workflow

import (
	"context"

	"bitbucket.org/grupoalimenta/produccion_backend/config"
	"bitbucket.org/grupoalimenta/produccion_backend/models"
	"bitbucket.org/grupoalimenta/produccion_backend/utils"
	"github.com/shopspring/decimal"
)

// LotForwardTrace answers "where did this raw lot end up": the orders that
// consumed it and the finished lots those orders emitted.
type LotForwardTrace struct {
	Lot          models.InsumoLot            `json:"lot"`
	Orders       []LotOrderUse               `json:"orders"`
	FinishedLots []models.FinishedProductLot `json:"finished_lots"`
}

type LotOrderUse struct {
	ProductionOrderId int                         `json:"production_order_id"`
	Code              string                      `json:"code"`
	State             models.ProductionOrderState `json:"state"`
	Qty               decimal.Decimal             `json:"qty"`
}

// LotBackTrace answers "what went into this finished lot": the emitting
// order and every raw lot it consumed.
type LotBackTrace struct {
	FinishedLot     models.FinishedProductLot `json:"finished_lot"`
	ProductionOrder models.ProductionOrder    `json:"production_order"`
	ConsumedLots    []ConsumedLot             `json:"consumed_lots"`
}

type ConsumedLot struct {
	Lot models.InsumoLot `json:"lot"`
	Qty decimal.Decimal  `json:"qty"`
}

// TraceLotForward follows a raw lot through reservations to finished
// output.
func TraceLotForward(ctx context.Context, lotId int) (*LotForwardTrace, error) {
	db := config.GetDB()

	lot, err := models.GetInsumoLot(ctx, lotId)
	if err != nil {
		return nil, utils.NewNotFoundError("insumo_lot", lotId)
	}
	trace := LotForwardTrace{Lot: *lot, Orders: []LotOrderUse{}, FinishedLots: []models.FinishedProductLot{}}

	var reservations []models.InsumoReservation
	err = db.WithContext(ctx).
		Where("lot_id = ? AND state IN ?", lotId,
			[]models.ReservationState{models.ReservationStateReserved, models.ReservationStateConsumed}).
		Order("id ASC").
		Find(&reservations).Error
	if err != nil {
		return nil, err
	}

	poIds := []int{}
	qtyByPo := map[int]decimal.Decimal{}
	for _, res := range reservations {
		poIds = append(poIds, res.ProductionOrderId)
		qtyByPo[res.ProductionOrderId] = qtyByPo[res.ProductionOrderId].Add(res.ReservedQty)
	}
	poIds = utils.UniqueSlice(poIds)
	if len(poIds) == 0 {
		return &trace, nil
	}

	var orders []models.ProductionOrder
	if err := db.WithContext(ctx).Where("id IN ?", poIds).Find(&orders).Error; err != nil {
		return nil, err
	}
	for _, po := range orders {
		trace.Orders = append(trace.Orders, LotOrderUse{
			ProductionOrderId: po.ID,
			Code:              po.Code,
			State:             po.State,
			Qty:               qtyByPo[po.ID],
		})
	}

	err = db.WithContext(ctx).
		Where("production_order_id IN ?", poIds).
		Order("produced_at ASC").
		Find(&trace.FinishedLots).Error
	if err != nil {
		return nil, err
	}
	return &trace, nil
}

// TraceLotBack resolves the full input pedigree of a finished lot.
func TraceLotBack(ctx context.Context, finishedLotId int) (*LotBackTrace, error) {
	db := config.GetDB()

	finished, err := models.GetFinishedProductLot(ctx, finishedLotId)
	if err != nil {
		return nil, utils.NewNotFoundError("finished_product_lot", finishedLotId)
	}
	po, err := models.GetProductionOrder(ctx, finished.ProductionOrderId)
	if err != nil {
		return nil, utils.NewNotFoundError("production_order", finished.ProductionOrderId)
	}

	trace := LotBackTrace{FinishedLot: *finished, ProductionOrder: *po, ConsumedLots: []ConsumedLot{}}

	var reservations []models.InsumoReservation
	err = db.WithContext(ctx).
		Where("production_order_id = ? AND state IN ?", po.ID,
			[]models.ReservationState{models.ReservationStateReserved, models.ReservationStateConsumed}).
		Order("id ASC").
		Find(&reservations).Error
	if err != nil {
		return nil, err
	}
	for _, res := range reservations {
		var lot models.InsumoLot
		if err := db.WithContext(ctx).First(&lot, res.LotId).Error; err != nil {
			return nil, err
		}
		trace.ConsumedLots = append(trace.ConsumedLots, ConsumedLot{Lot: lot, Qty: res.ReservedQty})
	}
	return &trace, nil
}
