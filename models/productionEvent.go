package models

import (
	"encoding/json"
	"time"

	"bitbucket.org/grupoalimenta/produccion_backend/config"
	"bitbucket.org/grupoalimenta/produccion_backend/utils"
	"gorm.io/gorm"
)

// Event publish statuses for ProductionEvent.PublishStatus.
const (
	EventPublishStatusPending = "PENDING"
	EventPublishStatusSent    = "SENT"
	EventPublishStatusFailed  = "FAILED"
	EventPublishStatusDead    = "DEAD"
)

const maxPublishAttempts = 10

// ProductionEvent is an outbox row recorded in the same transaction as the
// domain change. The dispatcher publishes committed rows to Pub/Sub so
// downstream consumers (labels, notifications, BI) never see uncommitted
// state.
type ProductionEvent struct {
	ID               int                `gorm:"primary_key;index:idx_event_dispatch,priority:2" json:"id"`
	EventDateTime    time.Time          `gorm:"index;not null" json:"event_date_time"`
	ReferenceId      int                `gorm:"index" json:"reference_id"`
	ReferenceType    EventReferenceType `gorm:"type:enum('OP','OC','LOTE');not null" json:"reference_type"`
	Action           string             `gorm:"size:50;not null" json:"action"`
	Payload          []byte             `gorm:"type:blob" json:"payload"`
	PublishStatus    string             `gorm:"size:20;index;not null;default:'PENDING';index:idx_event_dispatch,priority:1" json:"publish_status"`
	PublishedAt      *time.Time         `json:"published_at"`
	PubSubMessageId  *string            `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int                `gorm:"not null;default:0" json:"publish_attempts"`
	LastPublishError *string            `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string             `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time          `gorm:"autoCreateTime" json:"created_at"`
}

// RecordEvent appends an outbox row inside the caller's transaction.
func RecordEvent(tx *gorm.DB, refType EventReferenceType, refId int, action string, payload interface{}, correlationId string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	event := ProductionEvent{
		EventDateTime: time.Now(),
		ReferenceId:   refId,
		ReferenceType: refType,
		Action:        action,
		Payload:       body,
		PublishStatus: EventPublishStatusPending,
		CorrelationId: correlationId,
	}
	return tx.Create(&event).Error
}

func (e ProductionEvent) ToPubSubMessage() config.PubSubMessage {
	return config.PubSubMessage{
		ID:            e.ID,
		EventDateTime: e.EventDateTime,
		ReferenceId:   e.ReferenceId,
		ReferenceType: string(e.ReferenceType),
		Action:        e.Action,
		Payload:       e.Payload,
		CorrelationId: e.CorrelationId,
	}
}

// PendingEvents claims a batch of unpublished rows, oldest first.
func PendingEvents(tx *gorm.DB, limit int) ([]ProductionEvent, error) {
	var events []ProductionEvent
	err := tx.Where("publish_status IN ?", []string{EventPublishStatusPending, EventPublishStatusFailed}).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// MarkEventSent stamps a successful publish.
func MarkEventSent(tx *gorm.DB, eventId int, messageId string) error {
	now := time.Now()
	return tx.Model(&ProductionEvent{}).
		Where("id = ?", eventId).
		Updates(map[string]interface{}{
			"publish_status":     EventPublishStatusSent,
			"published_at":       now,
			"pub_sub_message_id": messageId,
		}).Error
}

// MarkEventFailed bumps the attempt counter; rows past the retry ceiling
// are parked as DEAD for manual review.
func MarkEventFailed(tx *gorm.DB, event *ProductionEvent, publishErr error) error {
	status := EventPublishStatusFailed
	if event.PublishAttempts+1 >= maxPublishAttempts {
		status = EventPublishStatusDead
	}
	msg := publishErr.Error()
	return tx.Model(&ProductionEvent{}).
		Where("id = ?", event.ID).
		Updates(map[string]interface{}{
			"publish_status":     status,
			"publish_attempts":   gorm.Expr("publish_attempts + 1"),
			"last_publish_error": &msg,
		}).Error
}

// ReprocessDeadEvent requeues a DEAD row after the underlying issue is
// fixed.
func ReprocessDeadEvent(tx *gorm.DB, eventId int) error {
	res := tx.Model(&ProductionEvent{}).
		Where("id = ? AND publish_status = ?", eventId, EventPublishStatusDead).
		Updates(map[string]interface{}{
			"publish_status":   EventPublishStatusPending,
			"publish_attempts": 0,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}
