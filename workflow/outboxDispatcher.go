package workflow

import (
	"context"
	"time"

	"bitbucket.org/grupoalimenta/produccion_backend/config"
	"bitbucket.org/grupoalimenta/produccion_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventDispatcher drains the production event outbox into Pub/Sub. Events
// are written inside domain transactions; publishing happens here, after
// commit, so consumers never observe rolled-back state.
type EventDispatcher struct {
	DB     *gorm.DB
	Logger *logrus.Logger

	BatchSize    int
	PollInterval time.Duration
}

func NewEventDispatcher(db *gorm.DB, logger *logrus.Logger) *EventDispatcher {
	return &EventDispatcher{
		DB:           db,
		Logger:       logger,
		BatchSize:    50,
		PollInterval: 2 * time.Second,
	}
}

func (d *EventDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

// DispatchOnce claims one batch under a row lock and publishes it. Rows
// whose publish fails stay claimable and are retried on later passes until
// the model parks them as dead.
func (d *EventDispatcher) DispatchOnce(ctx context.Context) {
	if d.DB == nil {
		return
	}

	var claimed []models.ProductionEvent
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("publish_status IN ?", []string{
			models.EventPublishStatusPending,
			models.EventPublishStatusFailed,
		}).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}

		for i := range claimed {
			event := claimed[i]
			messageId, pubErr := config.PublishProductionEventWithResult(ctx, event.ToPubSubMessage())
			if pubErr != nil {
				config.LogError(d.Logger, "outboxDispatcher.go", "DispatchOnce", "publish", event.ID, pubErr)
				if err := models.MarkEventFailed(tx, &event, pubErr); err != nil {
					return err
				}
				continue
			}
			if err := models.MarkEventSent(tx, event.ID, messageId); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		config.LogError(d.Logger, "outboxDispatcher.go", "DispatchOnce", "claim batch", nil, err)
	}
}
