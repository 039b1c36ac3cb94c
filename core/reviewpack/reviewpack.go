// Package reviewpack implements the Cart-Diff and Review Pack generation
// logic of spec §4.5: diffing a before/after cart pair, scoring confidence,
// synthesizing warnings, and gating finalization into the terminal,
// human-reviewable ReviewPack artifact. Nothing here ever represents a
// payment or order-placement action (spec §9 safety guardrail).
package reviewpack

import (
	"github.com/shopping-copilot/core/internal/schema"
)

// Diff compares before/after cart snapshots, keyed by CartItem.Key()
// (productId when present, else name), and partitions the union of keys
// into added/removed/quantityChanged/unchanged per spec §4.5. Equal
// quantities are classified unchanged, never quantityChanged.
func Diff(before, after schema.CartSnapshot) schema.CartDiff {
	beforeByKey := indexByKey(before.Items)
	afterByKey := indexByKey(after.Items)

	var added, removed, unchanged []schema.CartItem
	var changed []schema.QuantityChange

	for key, afterItem := range afterByKey {
		beforeItem, existed := beforeByKey[key]
		if !existed {
			added = append(added, afterItem)
			continue
		}
		if beforeItem.Quantity == afterItem.Quantity {
			unchanged = append(unchanged, afterItem)
			continue
		}
		changed = append(changed, schema.QuantityChange{
			Name:             afterItem.Name,
			PreviousQuantity: beforeItem.Quantity,
			NewQuantity:      afterItem.Quantity,
			UnitPrice:        afterItem.UnitPrice,
		})
	}
	for key, beforeItem := range beforeByKey {
		if _, stillPresent := afterByKey[key]; !stillPresent {
			removed = append(removed, beforeItem)
		}
	}

	summary := schema.DiffSummary{
		AddedCount:      len(added),
		RemovedCount:    len(removed),
		ChangedCount:    len(changed),
		UnchangedCount:  len(unchanged),
		TotalItems:      len(added) + len(removed) + len(changed) + len(unchanged),
		PriceDifference: after.TotalPrice.Sub(before.TotalPrice),
		NewTotalPrice:   after.TotalPrice,
	}

	return schema.CartDiff{
		Added:           added,
		Removed:         removed,
		QuantityChanged: changed,
		Unchanged:       unchanged,
		Summary:         summary,
	}
}

func indexByKey(items []schema.CartItem) map[string]schema.CartItem {
	byKey := make(map[string]schema.CartItem, len(items))
	for _, item := range items {
		byKey[item.Key()] = item
	}
	return byKey
}

// ScoreConfidence computes the Review Pack's confidence scoring per spec
// §4.5: cartAccuracy starts at 1.0 and is reduced by 0.1 per removed item,
// capped at 0.5; dataQuality starts at 1.0 and is reduced whenever a cart
// item (in the after snapshot) is missing a productId or has a zero
// unitPrice.
func ScoreConfidence(diff schema.CartDiff, after schema.CartSnapshot, sourceOrderIDs []string) schema.Confidence {
	cartAccuracy := 1.0 - 0.1*float64(len(diff.Removed))
	if cartAccuracy < 0.5 {
		cartAccuracy = 0.5
	}

	dataQuality := 1.0
	if len(after.Items) > 0 {
		flawed := 0
		for _, item := range after.Items {
			if item.ProductID == "" || item.UnitPrice.IsZero() {
				flawed++
			}
		}
		dataQuality -= float64(flawed) / float64(len(after.Items))
		if dataQuality < 0 {
			dataQuality = 0
		}
	}

	return schema.Confidence{
		CartAccuracy: cartAccuracy,
		DataQuality:  dataQuality,
		SourceOrders: sourceOrderIDs,
	}
}

// SynthesizeWarnings emits one warning per triggering condition observed in
// diff/after, per spec §4.5's "one-per-condition" rule.
func SynthesizeWarnings(diff schema.CartDiff, after schema.CartSnapshot) []schema.Warning {
	var warnings []schema.Warning

	for _, item := range diff.Removed {
		warnings = append(warnings, schema.Warning{
			Type:     schema.WarningMissingItem,
			ItemName: item.Name,
			Message:  "item present before but missing after merge",
			Severity: schema.SeverityWarn,
		})
	}

	for _, item := range after.Items {
		if !item.Available {
			warnings = append(warnings, schema.Warning{
				Type:     schema.WarningOutOfStock,
				ItemName: item.Name,
				Message:  firstNonEmpty(item.AvailabilityNote, "item reported unavailable"),
				Severity: schema.SeverityHigh,
			})
		}
		if item.ProductID == "" || item.UnitPrice.IsZero() {
			warnings = append(warnings, schema.Warning{
				Type:     schema.WarningDataQuality,
				ItemName: item.Name,
				Message:  "item is missing a product id or unit price",
				Severity: schema.SeverityInfo,
			})
		}
	}

	if !diff.Summary.PriceDifference.IsZero() {
		warnings = append(warnings, schema.Warning{
			Type:     schema.WarningPriceChange,
			ItemName: "",
			Message:  "cart total changed: " + diff.Summary.PriceDifference.String(),
			Severity: schema.SeverityInfo,
		})
	}

	return warnings
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// OrderOutcome is the minimal slice of cartmerge.OrderMergeResult the
// finalization gate needs, kept here as a plain struct so reviewpack has no
// import-time dependency on core/cartmerge.
type OrderOutcome struct {
	OrderID string
	Success bool
	Reason  string
}

// FinalizationDecision is the result of evaluating the gate of spec §4.5.
type FinalizationDecision struct {
	// ReadyForReview is true when the orchestrator may transition
	// generating_review -> review_ready.
	ReadyForReview bool
	// FatalInconsistency is true when after.itemCount = 0 while at least one
	// order reported success -- the orchestrator must surface this and move
	// to paused rather than review_ready.
	FatalInconsistency bool
	Reason             string
}

// EvaluateFinalizationGate implements spec §4.5's finalization gate exactly:
// ready when after.itemCount > 0, OR every order failed with a recorded
// reason; a fatal inconsistency when the cart is empty despite a reported
// success.
func EvaluateFinalizationGate(after schema.CartSnapshot, orders []OrderOutcome) FinalizationDecision {
	anySucceeded := false
	allFailedWithReason := true
	for _, o := range orders {
		if o.Success {
			anySucceeded = true
		} else if o.Reason == "" {
			allFailedWithReason = false
		}
	}

	if after.ItemCount > 0 {
		return FinalizationDecision{ReadyForReview: true}
	}
	if anySucceeded {
		return FinalizationDecision{
			FatalInconsistency: true,
			Reason:             "after.itemCount is 0 but at least one order reported success",
		}
	}
	if len(orders) > 0 && allFailedWithReason {
		return FinalizationDecision{ReadyForReview: true, Reason: "all orders failed with a recorded reason"}
	}
	return FinalizationDecision{Reason: "cart is empty and no order outcome explains it"}
}

// Build assembles the complete ReviewPack for a finalized run, per spec §3's
// ReviewPack shape. status is always schema.ReviewPackReviewReady: callers
// only invoke Build once EvaluateFinalizationGate has confirmed readiness.
func Build(
	sessionID, householdID string,
	generatedAtUnixNano int64,
	before, after schema.CartSnapshot,
	sourceOrderIDs []string,
	substitutions []schema.SubstitutionProposal,
	pruning []schema.PruneDecision,
	slots []schema.SlotOption,
	actions []string,
) schema.ReviewPack {
	diff := Diff(before, after)
	confidence := ScoreConfidence(diff, after, sourceOrderIDs)
	warnings := SynthesizeWarnings(diff, after)

	return schema.ReviewPack{
		SessionID:       sessionID,
		GeneratedAtNano: generatedAtUnixNano,
		HouseholdID:     householdID,
		Status:          schema.ReviewPackReviewReady,
		Cart: schema.CartSection{
			Summary: after,
			Diff:    diff,
			Before:  before,
			After:   after,
		},
		Warnings:      warnings,
		Actions:       actions,
		Confidence:    confidence,
		Substitutions: substitutions,
		Pruning:       pruning,
		Slots:         slots,
	}
}
