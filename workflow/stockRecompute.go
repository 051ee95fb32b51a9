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

// RecomputeAggregateStock re-derives every insumo's stock_actual from its
// lots minus active reservations. It repairs drift after batch ingress or
// quality decisions and is safe to run any number of times: the second run
// writes nothing the first did not.
func RecomputeAggregateStock(ctx context.Context, logger *logrus.Logger) (int, error) {
	db := config.GetDB()

	type lotAgg struct {
		InsumoId int
		Total    decimal.Decimal
	}
	var lotTotals []lotAgg
	err := db.WithContext(ctx).Model(&models.InsumoLot{}).
		Select("insumo_id, COALESCE(SUM(current_qty), 0) AS total").
		Where("state = ?", models.InsumoLotStateAvailable).
		Group("insumo_id").
		Scan(&lotTotals).Error
	if err != nil {
		config.LogError(logger, "stockRecompute.go", "RecomputeAggregateStock", "sum lots", nil, err)
		return 0, err
	}
	byInsumo := make(map[int]decimal.Decimal, len(lotTotals))
	for _, row := range lotTotals {
		byInsumo[row.InsumoId] = row.Total
	}

	var insumos []models.Insumo
	if err := db.WithContext(ctx).Find(&insumos).Error; err != nil {
		return 0, err
	}

	changed := 0
	for _, insumo := range insumos {
		// reservations already removed qty from lots at carve time, so the
		// lot sum alone is the free stock
		derived := utils.ZeroIfNegligible(byInsumo[insumo.ID])
		if derived.IsNegative() {
			derived = decimal.Zero
		}
		if insumo.StockActual.Equal(derived) {
			continue
		}
		err := db.WithContext(ctx).Model(&models.Insumo{}).
			Where("id = ?", insumo.ID).
			Update("stock_actual", derived).Error
		if err != nil {
			config.LogError(logger, "stockRecompute.go", "RecomputeAggregateStock", "update stock_actual", insumo.ID, err)
			return changed, err
		}
		if err := utils.RemoveRedisItem[models.Insumo](insumo.ID); err != nil {
			config.LogWarn(logger, "stockRecompute.go", "RecomputeAggregateStock", "cache invalidation failed", insumo.ID, err.Error())
		}
		changed++
	}
	return changed, nil
}

// ExpireOverdueLots flips lots past their expiry date to Expired and
// releases the orders holding them back to the planning pool.
func ExpireOverdueLots(ctx context.Context, logger *logrus.Logger) (int, error) {
	db := config.GetDB()
	lots, err := models.GetExpiredLots(ctx, utils.DateOnly(time.Now()))
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, lot := range lots {
		tx := db.Begin()
		applied, err := models.UpdateLotGuarded(tx, &lot, map[string]interface{}{
			"state": models.InsumoLotStateExpired,
		})
		if err != nil || !applied {
			tx.Rollback()
			continue
		}
		if err := cascadeWasteToOrders(ctx, tx, logger, lot.ID, models.WasteActionReplan); err != nil {
			tx.Rollback()
			return expired, err
		}
		if err := tx.Commit().Error; err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}
