package reviewpack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopping-copilot/core/internal/schema"
)

func item(productID, name string, qty int, cents int64, available bool) schema.CartItem {
	return schema.CartItem{
		ProductID: productID,
		Name:      name,
		Quantity:  qty,
		UnitPrice: schema.MoneyFromCents(cents),
		Available: available,
	}
}

func TestDiffPartitionsByKeyAndQuantity(t *testing.T) {
	before := schema.NewCartSnapshot(1, []schema.CartItem{
		item("p1", "Milk", 2, 150, true),
		item("p2", "Eggs", 1, 300, true),
		item("", "Bananas", 1, 80, true),
	})
	after := schema.NewCartSnapshot(2, []schema.CartItem{
		item("p1", "Milk", 3, 150, true),  // quantity changed
		item("", "Bananas", 1, 80, true),  // unchanged (keyed by name)
		item("p3", "Bread", 1, 250, true), // added
		// p2 Eggs removed
	})

	diff := Diff(before, after)

	require.Len(t, diff.Added, 1)
	assert.Equal(t, "Bread", diff.Added[0].Name)

	require.Len(t, diff.Removed, 1)
	assert.Equal(t, "Eggs", diff.Removed[0].Name)

	require.Len(t, diff.QuantityChanged, 1)
	assert.Equal(t, "Milk", diff.QuantityChanged[0].Name)
	assert.Equal(t, 2, diff.QuantityChanged[0].PreviousQuantity)
	assert.Equal(t, 3, diff.QuantityChanged[0].NewQuantity)

	require.Len(t, diff.Unchanged, 1)
	assert.Equal(t, "Bananas", diff.Unchanged[0].Name)

	assert.Equal(t, 1, diff.Summary.AddedCount)
	assert.Equal(t, 1, diff.Summary.RemovedCount)
	assert.Equal(t, 1, diff.Summary.ChangedCount)
	assert.Equal(t, 1, diff.Summary.UnchangedCount)
	assert.Equal(t, 4, diff.Summary.TotalItems)
	assert.Equal(t, after.TotalPrice.Sub(before.TotalPrice), diff.Summary.PriceDifference)
}

func TestDiffEqualQuantityGoesToUnchangedNotChanged(t *testing.T) {
	before := schema.NewCartSnapshot(1, []schema.CartItem{item("p1", "Milk", 2, 150, true)})
	after := schema.NewCartSnapshot(2, []schema.CartItem{item("p1", "Milk", 2, 150, true)})

	diff := Diff(before, after)

	assert.Empty(t, diff.QuantityChanged)
	require.Len(t, diff.Unchanged, 1)
}

func TestScoreConfidenceReducesCartAccuracyPerRemovedItemCappedAtHalf(t *testing.T) {
	removed := make([]schema.CartItem, 10)
	for i := range removed {
		removed[i] = item("p", "x", 1, 100, true)
	}
	diff := schema.CartDiff{Removed: removed}
	after := schema.NewCartSnapshot(1, []schema.CartItem{item("p1", "Milk", 1, 150, true)})

	confidence := ScoreConfidence(diff, after, []string{"order-1"})

	assert.Equal(t, 0.5, confidence.CartAccuracy)
	assert.Equal(t, []string{"order-1"}, confidence.SourceOrders)
}

func TestScoreConfidenceReducesDataQualityForMissingProductIDOrZeroPrice(t *testing.T) {
	after := schema.NewCartSnapshot(1, []schema.CartItem{
		item("p1", "Milk", 1, 150, true),
		item("", "Bananas", 1, 80, true),   // missing productId
		item("p3", "Water", 1, 0, true),    // zero unit price
		item("p4", "Bread", 1, 250, true),
	})

	confidence := ScoreConfidence(schema.CartDiff{}, after, nil)

	assert.InDelta(t, 0.5, confidence.DataQuality, 0.001)
}

func TestSynthesizeWarningsEmitsOnePerCondition(t *testing.T) {
	diff := schema.CartDiff{
		Removed: []schema.CartItem{item("p2", "Eggs", 1, 300, true)},
		Summary: schema.DiffSummary{PriceDifference: schema.MoneyFromCents(500)},
	}
	after := schema.NewCartSnapshot(1, []schema.CartItem{
		item("p1", "Milk", 1, 150, false), // out of stock
		item("", "Bananas", 1, 0, true),   // data quality (both conditions, one warning)
	})

	warnings := SynthesizeWarnings(diff, after)

	var sawMissing, sawOutOfStock, sawDataQuality, sawPriceChange bool
	for _, w := range warnings {
		switch w.Type {
		case schema.WarningMissingItem:
			sawMissing = true
		case schema.WarningOutOfStock:
			sawOutOfStock = true
		case schema.WarningDataQuality:
			sawDataQuality = true
		case schema.WarningPriceChange:
			sawPriceChange = true
		}
	}
	assert.True(t, sawMissing)
	assert.True(t, sawOutOfStock)
	assert.True(t, sawDataQuality)
	assert.True(t, sawPriceChange)
}

func TestEvaluateFinalizationGateReadyWhenCartNonEmpty(t *testing.T) {
	after := schema.CartSnapshot{ItemCount: 2}
	decision := EvaluateFinalizationGate(after, []OrderOutcome{{OrderID: "o1", Success: true}})
	assert.True(t, decision.ReadyForReview)
	assert.False(t, decision.FatalInconsistency)
}

func TestEvaluateFinalizationGateReadyWhenAllOrdersFailedWithReason(t *testing.T) {
	after := schema.CartSnapshot{ItemCount: 0}
	decision := EvaluateFinalizationGate(after, []OrderOutcome{
		{OrderID: "o1", Success: false, Reason: "reorder button not found"},
		{OrderID: "o2", Success: false, Reason: "modal never appeared"},
	})
	assert.True(t, decision.ReadyForReview)
	assert.False(t, decision.FatalInconsistency)
}

func TestEvaluateFinalizationGateFatalWhenEmptyCartButOrderSucceeded(t *testing.T) {
	after := schema.CartSnapshot{ItemCount: 0}
	decision := EvaluateFinalizationGate(after, []OrderOutcome{
		{OrderID: "o1", Success: true},
	})
	assert.True(t, decision.FatalInconsistency)
	assert.False(t, decision.ReadyForReview)
}

func TestBuildAssemblesCompleteReviewPack(t *testing.T) {
	before := schema.NewCartSnapshot(1, []schema.CartItem{item("p1", "Milk", 1, 150, true)})
	after := schema.NewCartSnapshot(2, []schema.CartItem{
		item("p1", "Milk", 2, 150, true),
		item("p2", "Eggs", 1, 300, true),
	})

	pack := Build("session-1", "household-1", 100, before, after,
		[]string{"order-1"}, nil, nil, nil, []string{"reorder order-1"})

	assert.Equal(t, schema.ReviewPackReviewReady, pack.Status)
	assert.Equal(t, "session-1", pack.SessionID)
	assert.Equal(t, after, pack.Cart.After)
	assert.NotEmpty(t, pack.Cart.Diff.Added)
}
