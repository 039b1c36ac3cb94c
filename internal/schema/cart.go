package schema

// CartItem is a single line item in a cart or order, per spec §3.
type CartItem struct {
	ProductID        string
	Name             string
	Quantity         int
	UnitPrice        Money
	Available        bool
	AvailabilityNote string
}

// Key returns the item's stable identity: ProductID when present, otherwise
// Name, matching spec §3's CartItem key semantics.
func (i CartItem) Key() string {
	if i.ProductID != "" {
		return i.ProductID
	}
	return i.Name
}

// LineTotal returns Quantity * UnitPrice.
func (i CartItem) LineTotal() Money {
	return i.UnitPrice.Mul(i.Quantity)
}

// CartSnapshot is a point-in-time view of a cart, per spec §3. ItemCount and
// TotalPrice are invariants re-derivable from Items; callers should use
// NewCartSnapshot rather than constructing the struct literal with stale
// derived fields.
type CartSnapshot struct {
	TimestampUnixNano int64
	Items             []CartItem
	ItemCount         int
	TotalPrice        Money
}

// NewCartSnapshot builds a CartSnapshot deriving ItemCount and TotalPrice
// from items, satisfying the re-derivability invariant in spec §3.
func NewCartSnapshot(timestampUnixNano int64, items []CartItem) CartSnapshot {
	count := 0
	total := ZeroMoney
	for _, item := range items {
		count += item.Quantity
		total = total.Add(item.LineTotal())
	}
	return CartSnapshot{
		TimestampUnixNano: timestampUnixNano,
		Items:             append([]CartItem(nil), items...),
		ItemCount:         count,
		TotalPrice:        total,
	}
}

// Valid reports whether the snapshot's derived fields match its items,
// enforcing the invariant from spec §3.
func (s CartSnapshot) Valid() bool {
	recomputed := NewCartSnapshot(s.TimestampUnixNano, s.Items)
	return recomputed.ItemCount == s.ItemCount && recomputed.TotalPrice.Cents() == s.TotalPrice.Cents()
}

// DeliveryDetail describes an order's delivery metadata, per spec §3
// OrderDetail.delivery.
type DeliveryDetail struct {
	Type              string
	Address           string
	DateTimeUnixNano  int64
}

// CostSummary mirrors spec §3 OrderDetail.costSummary.
type CostSummary struct {
	Subtotal    Money
	DeliveryFee Money
	Total       Money
}

// OrderSummary is the list-view metadata for a prior order, per spec §3.
type OrderSummary struct {
	OrderID      string
	DateUnixNano int64
	ProductCount int
	TotalPrice   Money
	DetailURL    string
}

// OrderDetail extends OrderSummary with line items and delivery/cost data,
// per spec §3.
type OrderDetail struct {
	OrderSummary
	Items       []CartItem
	Delivery    DeliveryDetail
	CostSummary CostSummary
}

// OrderToMerge is the minimal input to the Cart-Merge Flow, per spec §4.4.
type OrderToMerge struct {
	OrderID      string
	DetailURL    string
	DateUnixNano int64
}
