package models

import "testing"

func TestProductionOrderTransitions(t *testing.T) {
	allowed := []struct{ from, to ProductionOrderState }{
		{ProductionOrderStatePending, ProductionOrderStateApproved},
		{ProductionOrderStatePending, ProductionOrderStateWaitingStock},
		{ProductionOrderStatePending, ProductionOrderStateConsolidated},
		{ProductionOrderStatePending, ProductionOrderStateCancelled},
		{ProductionOrderStateApproved, ProductionOrderStateReady},
		{ProductionOrderStateApproved, ProductionOrderStateCancelled},
		{ProductionOrderStateWaitingStock, ProductionOrderStateReady},
		{ProductionOrderStateWaitingStock, ProductionOrderStateCancelled},
		{ProductionOrderStateReady, ProductionOrderStateInProgress},
		{ProductionOrderStateReady, ProductionOrderStateCancelled},
		{ProductionOrderStateInProgress, ProductionOrderStateQualityCheck},
		{ProductionOrderStateQualityCheck, ProductionOrderStateCompleted},
	}
	for _, tr := range allowed {
		if !TransitionAllowed(tr.from, tr.to) {
			t.Errorf("%s -> %s should be allowed", tr.from, tr.to)
		}
	}

	forbidden := []struct{ from, to ProductionOrderState }{
		// no skipping straight to the floor
		{ProductionOrderStatePending, ProductionOrderStateInProgress},
		{ProductionOrderStatePending, ProductionOrderStateCompleted},
		// a started run cannot be cancelled, only finished
		{ProductionOrderStateInProgress, ProductionOrderStateCancelled},
		{ProductionOrderStateQualityCheck, ProductionOrderStateCancelled},
		// terminal states stay terminal
		{ProductionOrderStateCompleted, ProductionOrderStatePending},
		{ProductionOrderStateCancelled, ProductionOrderStateApproved},
		{ProductionOrderStateConsolidated, ProductionOrderStateReady},
		// no going backwards
		{ProductionOrderStateReady, ProductionOrderStateApproved},
		{ProductionOrderStateApproved, ProductionOrderStatePending},
	}
	for _, tr := range forbidden {
		if TransitionAllowed(tr.from, tr.to) {
			t.Errorf("%s -> %s must not be allowed", tr.from, tr.to)
		}
	}
}

func TestPurchaseOrderTransitions(t *testing.T) {
	allowed := []struct{ from, to PurchaseOrderState }{
		{PurchaseOrderStatePending, PurchaseOrderStateApproved},
		{PurchaseOrderStatePending, PurchaseOrderStateCancelled},
		{PurchaseOrderStateApproved, PurchaseOrderStateInTransit},
		{PurchaseOrderStateApproved, PurchaseOrderStateCancelled},
		{PurchaseOrderStateInTransit, PurchaseOrderStateReceptionComplete},
		{PurchaseOrderStateInTransit, PurchaseOrderStateReceptionIncomplete},
		{PurchaseOrderStateReceptionComplete, PurchaseOrderStateInQualityCheck},
		{PurchaseOrderStateReceptionIncomplete, PurchaseOrderStateInQualityCheck},
		{PurchaseOrderStateInQualityCheck, PurchaseOrderStateClosed},
		{PurchaseOrderStateInQualityCheck, PurchaseOrderStateRejected},
	}
	for _, tr := range allowed {
		if !PurchaseTransitionAllowed(tr.from, tr.to) {
			t.Errorf("%s -> %s should be allowed", tr.from, tr.to)
		}
	}

	forbidden := []struct{ from, to PurchaseOrderState }{
		// goods on a truck cannot be cancelled anymore
		{PurchaseOrderStateInTransit, PurchaseOrderStateCancelled},
		// closing requires passing through quality
		{PurchaseOrderStateReceptionComplete, PurchaseOrderStateClosed},
		{PurchaseOrderStateReceptionIncomplete, PurchaseOrderStateClosed},
		{PurchaseOrderStateInTransit, PurchaseOrderStateClosed},
		// terminal states stay terminal
		{PurchaseOrderStateClosed, PurchaseOrderStatePending},
		{PurchaseOrderStateRejected, PurchaseOrderStateInQualityCheck},
		{PurchaseOrderStateCancelled, PurchaseOrderStateApproved},
	}
	for _, tr := range forbidden {
		if PurchaseTransitionAllowed(tr.from, tr.to) {
			t.Errorf("%s -> %s must not be allowed", tr.from, tr.to)
		}
	}
}

func TestParseEnums(t *testing.T) {
	if s, err := ParseProductionOrderState("WaitingStock"); err != nil || s != ProductionOrderStateWaitingStock {
		t.Fatalf("ParseProductionOrderState(WaitingStock): %v", err)
	}
	if _, err := ParseProductionOrderState("waiting_stock"); err == nil {
		t.Fatalf("legacy lowercase encodings must be rejected")
	}
	if a, err := ParseWasteAction("Replan"); err != nil || a != WasteActionReplan {
		t.Fatalf("ParseWasteAction(Replan): %v", err)
	}
	if _, err := ParseWasteAction("Discard"); err == nil {
		t.Fatalf("unknown waste action must be rejected")
	}
}
