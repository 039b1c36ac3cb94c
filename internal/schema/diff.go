package schema

// QuantityChange describes an item whose quantity changed between two cart
// snapshots, per spec §3 CartDiff.quantityChanged.
type QuantityChange struct {
	Name             string
	PreviousQuantity int
	NewQuantity      int
	UnitPrice        Money
}

// DiffSummary aggregates the counts that must be derivable from, and match,
// CartDiff's partitioned arrays (spec §3, §8 invariant).
type DiffSummary struct {
	AddedCount      int
	RemovedCount    int
	ChangedCount    int
	UnchangedCount  int
	TotalItems      int
	PriceDifference Money
	NewTotalPrice   Money
}

// CartDiff is the semantic diff between a before/after cart pair, per
// spec §3 and §4.5. Added/Removed/QuantityChanged/Unchanged together
// exhaustively and disjointly partition the union of before/after item keys
// (spec §8 invariant).
type CartDiff struct {
	Added           []CartItem
	Removed         []CartItem
	QuantityChanged []QuantityChange
	Unchanged       []CartItem
	Summary         DiffSummary
}

// WarningType is the closed set of Review Pack warning categories, per
// spec §3 ReviewPack.warnings.
type WarningType string

const (
	WarningOutOfStock  WarningType = "out_of_stock"
	WarningPriceChange WarningType = "price_change"
	WarningDataQuality WarningType = "data_quality"
	WarningMissingItem WarningType = "missing_item"
)

// Severity ranks a warning's urgency for display purposes.
type Severity string

const (
	SeverityInfo Severity = "info"
	SeverityWarn Severity = "warn"
	SeverityHigh Severity = "high"
)

// Warning is a single synthesized Review Pack warning.
type Warning struct {
	Type     WarningType
	ItemName string
	Message  string
	Severity Severity
}

// Confidence captures the Review Pack's accuracy/data-quality scoring, per
// spec §4.5.
type Confidence struct {
	CartAccuracy float64
	DataQuality  float64
	SourceOrders []string
}
