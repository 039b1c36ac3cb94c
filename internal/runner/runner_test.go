package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopping-copilot/core/core/cartmerge"
	"github.com/shopping-copilot/core/internal/config"
	"github.com/shopping-copilot/core/internal/interactor"
	"github.com/shopping-copilot/core/internal/registry"
	"github.com/shopping-copilot/core/internal/schema"
	"github.com/shopping-copilot/core/internal/store/ordercache"
	"github.com/shopping-copilot/core/internal/store/prefstore"
)

// fakePort is a minimal interactor.Port stub exercising only what the
// runner's cart-itemization, slot-extraction and substitution-search steps
// need: FindElement (the registry container probe), FindAllElements and
// its getters. Every other method is a harmless no-op.
type fakePort struct {
	containerFound bool
	refsBySelector map[string][]string
	textByRef      map[string]string
	attrByRef      map[string]map[string]string
	currentURL     string
}

func (p *fakePort) FindElement(ctx context.Context, css []string, opts interactor.FindOptions) (*interactor.FindResult, bool, error) {
	if !p.containerFound {
		return nil, false, nil
	}
	return &interactor.FindResult{Ref: "container", SelectorIndex: 0, MatchedSelector: css[0]}, true, nil
}

func (p *fakePort) FindAllElements(ctx context.Context, selector string, opts interactor.FindOptions) ([]interactor.ElementRef, error) {
	ids := p.refsBySelector[selector]
	out := make([]interactor.ElementRef, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out, nil
}

func (p *fakePort) Click(ctx context.Context, ref interactor.ElementRef, opts interactor.ClickOptions) error {
	return nil
}

func (p *fakePort) IsVisible(ctx context.Context, ref interactor.ElementRef) bool { return true }

func (p *fakePort) GetTextContent(ctx context.Context, ref interactor.ElementRef) string {
	return p.textByRef[ref.(string)]
}

func (p *fakePort) GetAttribute(ctx context.Context, ref interactor.ElementRef, name string) (string, bool) {
	attrs, ok := p.attrByRef[ref.(string)]
	if !ok {
		return "", false
	}
	v, ok := attrs[name]
	return v, ok
}

func (p *fakePort) GetCartState(ctx context.Context) (interactor.CartState, error) {
	return interactor.CartState{}, nil
}

func (p *fakePort) DismissPopups(ctx context.Context, patterns []interactor.PopupPattern) (int, error) {
	return 0, nil
}

func (p *fakePort) IsReorderModalVisible(ctx context.Context) (interactor.ReorderModalState, error) {
	return interactor.ReorderModalState{Kind: interactor.ReorderModalNone}, nil
}

func (p *fakePort) AttachPopupObserver(ctx context.Context, patterns []interactor.PopupPattern) error {
	return nil
}

func (p *fakePort) DetachPopupObserver(ctx context.Context) int { return 0 }

func (p *fakePort) GetCurrentURL(ctx context.Context) (string, error) { return p.currentURL, nil }

func (p *fakePort) NavigateTo(ctx context.Context, url string, opts interactor.NavigateOptions) error {
	p.currentURL = url
	return nil
}

func (p *fakePort) WaitForTimeout(ctx context.Context, d time.Duration) {}

func (p *fakePort) WaitForNavigation(ctx context.Context, opts interactor.WaitForNavigationOptions) error {
	return nil
}

func (p *fakePort) Screenshot(ctx context.Context, name string) (string, error) { return "", nil }

func cartRegistry() *registry.Registry {
	r := registry.New()
	chains := map[string]schema.SelectorChain{
		ChainCartContainer:       {ID: ChainCartContainer, Primary: schema.SelectorEntry{CSS: ".cart"}},
		ChainCartItemName:        {ID: ChainCartItemName, Primary: schema.SelectorEntry{CSS: ".item .name"}},
		ChainCartItemPrice:       {ID: ChainCartItemPrice, Primary: schema.SelectorEntry{CSS: ".item .price"}},
		ChainCartItemQuantity:    {ID: ChainCartItemQuantity, Primary: schema.SelectorEntry{CSS: ".item .qty"}},
		ChainCartItemProductID:   {ID: ChainCartItemProductID, Primary: schema.SelectorEntry{CSS: ".item"}},
		ChainCartItemUnavailable: {ID: ChainCartItemUnavailable, Primary: schema.SelectorEntry{CSS: ".item .unavailable"}},
	}
	r.Put(schema.PageRegistryEntry{
		PageID:        PageCart,
		ActiveVersion: 1,
		Versions:      []schema.PageVersion{{Version: 1, Chains: chains}},
	})
	return r
}

func newTestRunner(reg *registry.Registry, port *fakePort) *Runner {
	return New(port, reg, nil, config.DefaultTimeouts(), nil, nil, "", nil, nil)
}

func TestItemizeCartZipsParallelChainsByIndex(t *testing.T) {
	port := &fakePort{
		containerFound: true,
		refsBySelector: map[string][]string{
			".cart":            {"container"},
			".item .name":      {"name0", "name1"},
			".item .price":     {"price0", "price1"},
			".item .qty":       {"qty0", "qty1"},
			".item":            {"prod0", "prod1"},
			".item .unavailable": {"avail0", "avail1"},
		},
		textByRef: map[string]string{
			"name0":  "Whole Milk",
			"name1":  "Brown Bread",
			"price0": "1,39 €",
			"price1": "2,05 €",
			"qty0":   "2",
			"qty1":   "1",
			"avail0": "",
			"avail1": "out of stock",
		},
		attrByRef: map[string]map[string]string{
			"prod0": {"data-product-id": "p-milk"},
			"prod1": {"data-product-id": "p-bread"},
		},
	}
	r := newTestRunner(cartRegistry(), port)

	snap, err := r.itemizeCart(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Items, 2)

	assert.Equal(t, "Whole Milk", snap.Items[0].Name)
	assert.Equal(t, "p-milk", snap.Items[0].ProductID)
	assert.Equal(t, 2, snap.Items[0].Quantity)
	assert.Equal(t, int64(139), snap.Items[0].UnitPrice.Cents())
	assert.True(t, snap.Items[0].Available)

	assert.Equal(t, "Brown Bread", snap.Items[1].Name)
	assert.False(t, snap.Items[1].Available)
	assert.Equal(t, "out of stock", snap.Items[1].AvailabilityNote)

	assert.True(t, snap.Valid())
}

func TestItemizeCartPropagatesChainNotFoundForMissingRegistration(t *testing.T) {
	r := newTestRunner(registry.New(), &fakePort{containerFound: true})
	_, err := r.itemizeCart(context.Background())
	require.Error(t, err)
}

func slotsRegistry() *registry.Registry {
	r := registry.New()
	chains := map[string]schema.SelectorChain{
		ChainSlotLabel: {ID: ChainSlotLabel, Primary: schema.SelectorEntry{CSS: ".slot .label"}},
		ChainSlotStart: {ID: ChainSlotStart, Primary: schema.SelectorEntry{CSS: ".slot"}},
		ChainSlotEnd:   {ID: ChainSlotEnd, Primary: schema.SelectorEntry{CSS: ".slot"}},
	}
	r.Put(schema.PageRegistryEntry{
		PageID:        PageDeliverySlots,
		ActiveVersion: 1,
		Versions:      []schema.PageVersion{{Version: 1, Chains: chains}},
	})
	return r
}

func TestExtractSlotsRanksAscendingByStartTime(t *testing.T) {
	port := &fakePort{
		refsBySelector: map[string][]string{
			".slot .label": {"labelA", "labelB"},
			".slot":        {"slotA", "slotB"},
		},
		textByRef: map[string]string{
			"labelA": "Tomorrow 9-11am",
			"labelB": "Today 6-8pm",
		},
		attrByRef: map[string]map[string]string{
			"slotA": {"data-start-unix": "2000", "data-end-unix": "2500"},
			"slotB": {"data-start-unix": "1000", "data-end-unix": "1500"},
		},
	}
	r := newTestRunner(slotsRegistry(), port)

	slots, err := r.extractSlots(context.Background())
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, "Today 6-8pm", slots[0].Label)
	assert.Equal(t, 1, slots[0].Rank)
	assert.Equal(t, "Tomorrow 9-11am", slots[1].Label)
	assert.Equal(t, 2, slots[1].Rank)
}

func TestOrdersFromConfigParsesJSONShapedEntries(t *testing.T) {
	cfg := map[string]any{
		"orders": []any{
			map[string]any{"orderId": "o1", "detailUrl": "https://x/o1", "dateUnixNano": float64(100)},
			map[string]any{"orderId": "o2", "detailUrl": "https://x/o2", "dateUnixNano": float64(200)},
			map[string]any{"orderId": ""}, // dropped: missing detailUrl
		},
	}
	orders, err := ordersFromConfig(cfg)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "o1", orders[0].OrderID)
	assert.Equal(t, int64(200), orders[1].DateUnixNano)
}

func TestOrdersFromConfigMissingKeyIsValidationError(t *testing.T) {
	_, err := ordersFromConfig(map[string]any{})
	require.Error(t, err)
}

func TestOrdersFromConfigAcceptsNativeGoSlice(t *testing.T) {
	native := []schema.OrderToMerge{{OrderID: "o1", DetailURL: "https://x/o1", DateUnixNano: 5}}
	orders, err := ordersFromConfig(map[string]any{"orders": native})
	require.NoError(t, err)
	assert.Equal(t, native, orders)
}

func TestParseQuantityDefaultsToOneOnNoDigits(t *testing.T) {
	assert.Equal(t, 1, parseQuantity("no digits here"))
	assert.Equal(t, 3, parseQuantity("Qty: 3"))
}

func TestResolveSubstitutionsAndPruningSkipsAvailableItems(t *testing.T) {
	r := newTestRunner(registry.New(), &fakePort{})
	after := schema.NewCartSnapshot(time.Now().UnixNano(), []schema.CartItem{
		{Name: "Milk", Available: true},
		{Name: "Fralda bebé", Available: false, UnitPrice: schema.MoneyFromCents(1200)},
	})

	subs, pruning := r.resolveSubstitutionsAndPruning(context.Background(), after)
	assert.Empty(t, subs, "no search URL template configured, so no candidates can be found")
	require.Len(t, pruning, 1)
	assert.Equal(t, "Fralda bebé", pruning[0].ItemName)
	assert.False(t, pruning[0].Pruned, "high-consequence items are always kept regardless of purchase history")
}

func TestSkipAlreadyCachedOrdersFiltersCachedEntries(t *testing.T) {
	cache := ordercache.New()
	t.Cleanup(cache.Close)
	cache.Put(schema.OrderDetail{OrderSummary: schema.OrderSummary{OrderID: "o1"}})

	r := New(&fakePort{}, registry.New(), nil, config.DefaultTimeouts(), nil, nil, "", cache, nil)

	remaining := r.skipAlreadyCachedOrders([]schema.OrderToMerge{
		{OrderID: "o1", DetailURL: "https://x/o1"},
		{OrderID: "o2", DetailURL: "https://x/o2"},
	})
	require.Len(t, remaining, 1)
	assert.Equal(t, "o2", remaining[0].OrderID)
}

func TestSkipAlreadyCachedOrdersPassesThroughWithNilCache(t *testing.T) {
	r := newTestRunner(registry.New(), &fakePort{})
	orders := []schema.OrderToMerge{{OrderID: "o1", DetailURL: "https://x/o1"}}
	assert.Equal(t, orders, r.skipAlreadyCachedOrders(orders))
}

func TestCacheMergedOrdersStoresOnlySuccessfulOrders(t *testing.T) {
	cache := ordercache.New()
	t.Cleanup(cache.Close)
	r := New(&fakePort{}, registry.New(), nil, config.DefaultTimeouts(), nil, nil, "", cache, nil)

	total := int64(500)
	r.cacheMergedOrders(cartmerge.Result{Orders: []cartmerge.OrderMergeResult{
		{OrderID: "o1", Success: true, After: interactor.CartState{TotalCents: &total}},
		{OrderID: "o2", Success: false},
	}})

	_, ok := cache.Get("o1")
	assert.True(t, ok)
	_, ok = cache.Get("o2")
	assert.False(t, ok, "a failed merge should never be cached as already-handled")
}

func TestResolveSubstitutionsAndPruningForHouseholdRestoresStoreBrandIDsAfterward(t *testing.T) {
	prefs, err := prefstore.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, prefs.Save("hh-1", prefstore.Preferences{Learning: prefstore.LearningConfig{PreferStoreBrand: false}}))

	original := map[string]bool{"p-store": true}
	r := New(&fakePort{}, registry.New(), nil, config.DefaultTimeouts(), nil, original, "", nil, prefs)

	after := schema.NewCartSnapshot(time.Now().UnixNano(), nil)
	_, _ = r.resolveSubstitutionsAndPruningForHousehold(context.Background(), "hh-1", after)

	assert.Equal(t, original, r.storeBrandIDs, "storeBrandIDs must be restored once the run's substitution step finishes")
}
