package models

import (
	"errors"
)

// Canonical state sets. The legacy system mixed string and integer
// encodings; here each entity has exactly one typed enumeration and the
// persistence boundary stores the string form.

type InsumoLotState string

const (
	InsumoLotStateAvailable   InsumoLotState = "Available"
	InsumoLotStateReserved    InsumoLotState = "Reserved"
	InsumoLotStateQuarantine  InsumoLotState = "Quarantine"
	InsumoLotStateUnderReview InsumoLotState = "UnderReview"
	InsumoLotStateDepleted    InsumoLotState = "Depleted"
	InsumoLotStateRetired     InsumoLotState = "Retired"
	InsumoLotStateExpired     InsumoLotState = "Expired"
)

func ParseInsumoLotState(s string) (InsumoLotState, error) {
	states := map[string]InsumoLotState{
		"Available":   InsumoLotStateAvailable,
		"Reserved":    InsumoLotStateReserved,
		"Quarantine":  InsumoLotStateQuarantine,
		"UnderReview": InsumoLotStateUnderReview,
		"Depleted":    InsumoLotStateDepleted,
		"Retired":     InsumoLotStateRetired,
		"Expired":     InsumoLotStateExpired,
	}
	v, ok := states[s]
	if !ok {
		return "", errors.New("invalid insumo lot state")
	}
	return v, nil
}

type ReservationState string

const (
	ReservationStateReserved  ReservationState = "Reserved"
	ReservationStateConsumed  ReservationState = "Consumed"
	ReservationStateCancelled ReservationState = "Cancelled"
)

type ProductionOrderState string

const (
	ProductionOrderStatePending      ProductionOrderState = "Pending"
	ProductionOrderStateApproved     ProductionOrderState = "Approved"
	ProductionOrderStateWaitingStock ProductionOrderState = "WaitingStock"
	ProductionOrderStateReady        ProductionOrderState = "Ready"
	ProductionOrderStateInProgress   ProductionOrderState = "InProgress"
	ProductionOrderStateQualityCheck ProductionOrderState = "QualityCheck"
	ProductionOrderStateCompleted    ProductionOrderState = "Completed"
	ProductionOrderStateCancelled    ProductionOrderState = "Cancelled"
	ProductionOrderStateConsolidated ProductionOrderState = "Consolidated"
)

func ParseProductionOrderState(s string) (ProductionOrderState, error) {
	states := map[string]ProductionOrderState{
		"Pending":      ProductionOrderStatePending,
		"Approved":     ProductionOrderStateApproved,
		"WaitingStock": ProductionOrderStateWaitingStock,
		"Ready":        ProductionOrderStateReady,
		"InProgress":   ProductionOrderStateInProgress,
		"QualityCheck": ProductionOrderStateQualityCheck,
		"Completed":    ProductionOrderStateCompleted,
		"Cancelled":    ProductionOrderStateCancelled,
		"Consolidated": ProductionOrderStateConsolidated,
	}
	v, ok := states[s]
	if !ok {
		return "", errors.New("invalid production order state")
	}
	return v, nil
}

type PurchaseOrderState string

const (
	PurchaseOrderStatePending             PurchaseOrderState = "Pending"
	PurchaseOrderStateApproved            PurchaseOrderState = "Approved"
	PurchaseOrderStateInTransit           PurchaseOrderState = "InTransit"
	PurchaseOrderStateReceptionComplete   PurchaseOrderState = "ReceptionComplete"
	PurchaseOrderStateReceptionIncomplete PurchaseOrderState = "ReceptionIncomplete"
	PurchaseOrderStateInQualityCheck      PurchaseOrderState = "InQualityCheck"
	PurchaseOrderStateClosed              PurchaseOrderState = "Closed"
	PurchaseOrderStateRejected            PurchaseOrderState = "Rejected"
	PurchaseOrderStateCancelled           PurchaseOrderState = "Cancelled"
)

type FinishedLotState string

const (
	FinishedLotStateAvailable  FinishedLotState = "Available"
	FinishedLotStateQuarantine FinishedLotState = "Quarantine"
	FinishedLotStateRejected   FinishedLotState = "Rejected"
	FinishedLotStateDepleted   FinishedLotState = "Depleted"
)

// WasteAction tells the inventory engine what to do with production orders
// holding reservations against a wasted lot.
type WasteAction string

const (
	WasteActionIgnore WasteAction = "Ignore"
	WasteActionReplan WasteAction = "Replan"
	WasteActionCancel WasteAction = "Cancel"
)

func ParseWasteAction(s string) (WasteAction, error) {
	actions := map[string]WasteAction{
		"Ignore": WasteActionIgnore,
		"Replan": WasteActionReplan,
		"Cancel": WasteActionCancel,
	}
	v, ok := actions[s]
	if !ok {
		return "", errors.New("invalid waste action")
	}
	return v, nil
}

// IntervalKind classifies shop-floor timer intervals on a production order.
type IntervalKind string

const (
	IntervalKindProduction IntervalKind = "Production"
	IntervalKindPause      IntervalKind = "Pause"
)

// EventReferenceType tags outbox events with the entity they refer to.
type EventReferenceType string

const (
	EventReferenceTypeOP   EventReferenceType = "OP"
	EventReferenceTypeOC   EventReferenceType = "OC"
	EventReferenceTypeLOTE EventReferenceType = "LOTE"
)

type SalesOrderState string

const (
	SalesOrderStateOpen      SalesOrderState = "Open"
	SalesOrderStatePlanned   SalesOrderState = "Planned"
	SalesOrderStateFulfilled SalesOrderState = "Fulfilled"
	SalesOrderStateCancelled SalesOrderState = "Cancelled"
)
