// Package runner wires the Cart-Merge Flow, selector-registry-driven cart
// itemization and delivery-slot extraction, the LLM Enhancement Layer
// (heuristic-first, LLM-augmented), and the Review Pack builder together
// into the concrete pkg/api.Runner a session.start call drives in the
// background, per spec §4.6's five-phase run sequence. The runner never
// places an order: its only output is a ReviewPack handed to
// api.RunHandle.Finish (spec §9 safety guardrail).
package runner

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopping-copilot/core/core/cartmerge"
	"github.com/shopping-copilot/core/core/reviewpack"
	"github.com/shopping-copilot/core/internal/config"
	"github.com/shopping-copilot/core/internal/errs"
	"github.com/shopping-copilot/core/internal/interactor"
	"github.com/shopping-copilot/core/internal/llm"
	"github.com/shopping-copilot/core/internal/llm/heuristic"
	"github.com/shopping-copilot/core/internal/moneyparse"
	"github.com/shopping-copilot/core/internal/observability"
	"github.com/shopping-copilot/core/internal/registry"
	"github.com/shopping-copilot/core/internal/schema"
	"github.com/shopping-copilot/core/internal/store/ordercache"
	"github.com/shopping-copilot/core/internal/store/prefstore"
	"github.com/shopping-copilot/core/pkg/api"
)

// Page and chain identifiers resolved through the shared selector registry
// for the cart-itemization, delivery-slot and substitution-search steps
// that core/cartmerge itself has no need of (it only ever reads the cart's
// badge-level interactor.CartState). Field chains are parallel, document-
// order selectors zipped by index rather than row-scoped lookups, since
// interactor.Port.FindAllElements takes a single page-wide CSS selector
// with no notion of "within this row's subtree".
const (
	PageCart                 = "cart"
	ChainCartContainer       = "cartContainer"
	ChainCartItemName        = "itemName"
	ChainCartItemPrice       = "itemUnitPrice"
	ChainCartItemQuantity    = "itemQuantity"
	ChainCartItemProductID   = "itemProductId"
	ChainCartItemUnavailable = "itemUnavailableNote"

	PageDeliverySlots = "deliverySlots"
	ChainSlotLabel    = "slotLabel"
	ChainSlotStart    = "slotStartIso"
	ChainSlotEnd      = "slotEndIso"

	PageSearchResults         = "searchResults"
	ChainSearchResultName     = "resultName"
	ChainSearchResultPrice    = "resultUnitPrice"
	ChainSearchResultProduct  = "resultProductId"
	ChainSearchResultStoreTag = "resultStoreBrandBadge"
)

// Runner is the concrete api.Runner implementation: one instance is bound
// to a single live interactor.Port (and therefore a single browser/tab),
// so it is not safe to share a Runner across concurrent sessions.
type Runner struct {
	port              interactor.Port
	reg               *registry.Registry
	patterns          []interactor.PopupPattern
	timeouts          config.Timeouts
	llmPort           llm.Port // optional; nil falls through to heuristic only
	storeBrandIDs     map[string]bool
	searchURLTemplate string // e.g. "https://example.test/search?q=%s"; "%s" is url-escaped
	finder            portFinder
	orders            *ordercache.Cache // optional; nil disables already-merged-order skipping
	prefs             *prefstore.Store  // optional; nil always uses the configured storeBrandIDs
}

// New constructs a Runner. llmPort may be nil to run on heuristics alone.
// searchURLTemplate may be empty, in which case the substitution phase is
// skipped for every unavailable item (no queries can be issued). orders and
// prefs may both be nil: a Runner with neither wired behaves exactly as one
// with no order-history cache or per-household preferences at all.
func New(
	port interactor.Port,
	reg *registry.Registry,
	patterns []interactor.PopupPattern,
	timeouts config.Timeouts,
	llmPort llm.Port,
	storeBrandIDs map[string]bool,
	searchURLTemplate string,
	orders *ordercache.Cache,
	prefs *prefstore.Store,
) *Runner {
	return &Runner{
		port:              port,
		reg:               reg,
		patterns:          patterns,
		timeouts:          timeouts,
		llmPort:           llmPort,
		storeBrandIDs:     storeBrandIDs,
		searchURLTemplate: searchURLTemplate,
		finder:            portFinder{port: port},
		orders:            orders,
		prefs:             prefs,
	}
}

// Run implements api.Runner. It never panics: any step failure is recorded
// on the Machine and the run finishes un-ready-for-review rather than
// propagating, since Run executes in a detached goroutine with no caller
// left to observe a returned error.
func (r *Runner) Run(ctx context.Context, handle *api.RunHandle) {
	pack, readyForReview, err := r.run(ctx, handle)
	if err != nil {
		observability.Log().Error("runner: run failed", observability.F("sessionId", handle.SessionID), observability.F("error", err.Error()))
		if recErr := handle.Machine.RecordError(ctx, toRunError(err)); recErr != nil {
			observability.Log().Error("runner: failed to record run error", observability.F("sessionId", handle.SessionID), observability.F("error", recErr.Error()))
		}
		readyForReview = false
	}
	if finErr := handle.Finish(ctx, pack, readyForReview); finErr != nil {
		observability.Log().Error("runner: finish failed", observability.F("sessionId", handle.SessionID), observability.F("error", finErr.Error()))
	}
}

func (r *Runner) run(ctx context.Context, handle *api.RunHandle) (schema.ReviewPack, bool, error) {
	if err := handle.Machine.AdvancePhase(ctx, schema.PhaseInitializing, "load_orders"); err != nil {
		return schema.ReviewPack{}, false, err
	}
	orders, err := ordersFromConfig(handle.Config)
	if err != nil {
		return schema.ReviewPack{}, false, err
	}
	orders = r.skipAlreadyCachedOrders(orders)

	before, err := r.itemizeCart(ctx)
	if err != nil {
		observability.Log().Warn("runner: before-snapshot itemization failed", observability.F("error", err.Error()))
		before = schema.NewCartSnapshot(time.Now().UnixNano(), nil)
	}

	if err := handle.Machine.AdvancePhase(ctx, schema.PhaseCart, "merge_orders"); err != nil {
		return schema.ReviewPack{}, false, err
	}
	flow := cartmerge.New(r.port, r.reg, r.patterns, r.timeouts)
	mergeResult, err := flow.Run(ctx, orders)
	if err != nil {
		return schema.ReviewPack{}, false, err
	}
	if err := handle.Machine.UpdateProgress(ctx, schema.Progress{OrdersLoaded: len(orders), OrdersTotal: len(orders)}); err != nil {
		return schema.ReviewPack{}, false, err
	}
	r.cacheMergedOrders(mergeResult)

	after, err := r.itemizeCart(ctx)
	if err != nil {
		observability.Log().Warn("runner: after-snapshot itemization failed", observability.F("error", err.Error()))
		after = schema.NewCartSnapshot(time.Now().UnixNano(), nil)
	}

	if err := handle.Machine.AdvancePhase(ctx, schema.PhaseSubstitution, "rank_substitutes"); err != nil {
		return schema.ReviewPack{}, false, err
	}
	substitutions, pruning := r.resolveSubstitutionsAndPruningForHousehold(ctx, handle.HouseholdID, after)
	if err := handle.Machine.UpdateProgress(ctx, schema.Progress{
		UnavailableItems:    countUnavailable(after),
		SubstitutesProposed: len(substitutions),
	}); err != nil {
		return schema.ReviewPack{}, false, err
	}

	if err := handle.Machine.AdvancePhase(ctx, schema.PhaseSlots, "extract_slots"); err != nil {
		return schema.ReviewPack{}, false, err
	}
	slots, err := r.extractSlots(ctx)
	if err != nil {
		observability.Log().Warn("runner: slot extraction failed", observability.F("error", err.Error()))
		slots = nil
	}
	if err := handle.Machine.UpdateProgress(ctx, schema.Progress{SlotsFound: len(slots)}); err != nil {
		return schema.ReviewPack{}, false, err
	}

	if err := handle.Machine.AdvancePhase(ctx, schema.PhaseFinalizing, "evaluate_gate"); err != nil {
		return schema.ReviewPack{}, false, err
	}
	outcomes := make([]reviewpack.OrderOutcome, 0, len(mergeResult.Orders))
	sourceOrderIDs := make([]string, 0, len(mergeResult.Orders))
	for _, o := range mergeResult.Orders {
		outcomes = append(outcomes, reviewpack.OrderOutcome{OrderID: o.OrderID, Success: o.Success, Reason: o.Reason})
		if o.Success {
			sourceOrderIDs = append(sourceOrderIDs, o.OrderID)
		}
	}

	gate := reviewpack.EvaluateFinalizationGate(after, outcomes)
	if !gate.ReadyForReview {
		reason := gate.Reason
		if gate.FatalInconsistency {
			reason = "fatal inconsistency: " + reason
		}
		return schema.ReviewPack{}, false, errs.New(errs.CategoryState, errs.TypeInvalidState,
			errs.WithMessage(reason), errs.WithRecoverable(!gate.FatalInconsistency))
	}

	actions := actionsFor(mergeResult, substitutions, pruning)
	pack := reviewpack.Build(handle.SessionID, handle.HouseholdID, time.Now().UnixNano(), before, after,
		sourceOrderIDs, substitutions, pruning, slots, actions)

	return pack, true, nil
}

func countUnavailable(snap schema.CartSnapshot) int {
	n := 0
	for _, item := range snap.Items {
		if !item.Available {
			n++
		}
	}
	return n
}

func actionsFor(result cartmerge.Result, subs []schema.SubstitutionProposal, pruning []schema.PruneDecision) []string {
	actions := make([]string, 0, len(result.Orders)+len(subs)+len(pruning))
	for _, o := range result.Orders {
		status := "merged"
		if o.Mode == cartmerge.ModeReplace {
			status = "replaced"
		}
		if !o.Success {
			status = "failed"
		}
		actions = append(actions, fmt.Sprintf("order %s %s (%d items added)", o.OrderID, status, o.ItemsAdded))
	}
	for _, s := range subs {
		actions = append(actions, fmt.Sprintf("proposed %s as a substitute for %s", s.Candidate.Name, s.OriginalName))
	}
	for _, p := range pruning {
		if p.Pruned {
			actions = append(actions, fmt.Sprintf("pruned %s: %s", p.ItemName, p.Reason))
		}
	}
	return actions
}

func toRunError(err error) schema.RunError {
	category, typ := "state", "invalid_state"
	recoverable := true
	var e *errs.E
	if asE, ok := err.(*errs.E); ok {
		e = asE
	}
	if e != nil {
		category = string(e.Category)
		typ = string(e.Type)
		recoverable = e.Recoverable
	}
	return schema.RunError{Category: category, Type: typ, Message: err.Error(), Recoverable: recoverable}
}

// ordersFromConfig extracts the orders-to-merge list from session.start's
// free-form Config map, accepting either a pre-built []schema.OrderToMerge
// (the in-process Go caller path) or a JSON-shaped []map[string]any with
// orderId/detailUrl/dateUnixNano keys (the HTTP control-plane path).
func ordersFromConfig(cfg map[string]any) ([]schema.OrderToMerge, error) {
	raw, ok := cfg["orders"]
	if !ok {
		return nil, errs.New(errs.CategoryUser, errs.TypeValidation,
			errs.WithMessage("config.orders is required to start a run"), errs.WithRecoverable(false))
	}
	switch v := raw.(type) {
	case []schema.OrderToMerge:
		return v, nil
	case []any:
		orders := make([]schema.OrderToMerge, 0, len(v))
		for _, entry := range v {
			m, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			order := schema.OrderToMerge{
				OrderID:   stringField(m, "orderId"),
				DetailURL: stringField(m, "detailUrl"),
			}
			if ts, ok := m["dateUnixNano"].(float64); ok {
				order.DateUnixNano = int64(ts)
			}
			if order.OrderID != "" && order.DetailURL != "" {
				orders = append(orders, order)
			}
		}
		if len(orders) == 0 {
			return nil, errs.New(errs.CategoryUser, errs.TypeValidation,
				errs.WithMessage("config.orders contained no valid entries"), errs.WithRecoverable(false))
		}
		return orders, nil
	default:
		return nil, errs.New(errs.CategoryUser, errs.TypeValidation,
			errs.WithMessage("config.orders has an unrecognized shape"), errs.WithRecoverable(false))
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// portFinder adapts interactor.Port to registry.ElementFinder's narrower,
// single-selector, error-returning shape, mirroring core/cartmerge's own
// unexported adapter of the same name.
type portFinder struct {
	port interactor.Port
}

func (p portFinder) FindElement(ctx context.Context, cssSelector string) (registry.ElementRef, bool, error) {
	res, found, err := p.port.FindElement(ctx, []string{cssSelector}, interactor.FindOptions{Timeout: 2 * time.Second})
	if err != nil || !found {
		return nil, false, err
	}
	return res.Ref, true, nil
}

func (p portFinder) GetTextContent(ctx context.Context, ref registry.ElementRef) (string, error) {
	return p.port.GetTextContent(ctx, ref.(interactor.ElementRef)), nil
}

func (p portFinder) IsVisible(ctx context.Context, ref registry.ElementRef) (bool, error) {
	return p.port.IsVisible(ctx, ref.(interactor.ElementRef)), nil
}

var digitsRE = regexp.MustCompile(`[0-9]+`)

// parseQuantity extracts the first run of digits in text, defaulting to 1
// when none is found (a cart row with no explicit quantity badge means 1).
func parseQuantity(text string) int {
	match := digitsRE.FindString(text)
	if match == "" {
		return 1
	}
	n, err := strconv.Atoi(match)
	if err != nil || n <= 0 {
		return 1
	}
	return n
}

// parseMoney delegates to moneyparse for the same locale-numeric price
// format getCartState itself parses, falling back to zero on a miss rather
// than propagating an error (a malformed price still leaves the rest of
// the row usable).
func parseMoney(text string) schema.Money {
	m, ok := moneyparse.ParseMoney(text)
	if !ok {
		return schema.ZeroMoney
	}
	return m
}

func (r *Runner) buildSearchURL(query string) (string, bool) {
	if r.searchURLTemplate == "" {
		return "", false
	}
	return fmt.Sprintf(r.searchURLTemplate, url.QueryEscape(query)), true
}

// extractParallelText resolves chainID's primary selector and returns the
// text content of every matching element, in document order.
func (r *Runner) extractParallelText(ctx context.Context, pageID, chainID string) ([]string, error) {
	css, err := r.primarySelector(pageID, chainID)
	if err != nil {
		return nil, err
	}
	refs, err := r.port.FindAllElements(ctx, css, interactor.FindOptions{Timeout: r.timeouts.Operation})
	if err != nil {
		return nil, err
	}
	out := make([]string, len(refs))
	for i, ref := range refs {
		out[i] = r.port.GetTextContent(ctx, ref)
	}
	return out, nil
}

// extractParallelAttr is extractParallelText's attribute-valued counterpart,
// returning "" for any element the attribute is absent on.
func (r *Runner) extractParallelAttr(ctx context.Context, pageID, chainID, attrName string) ([]string, error) {
	css, err := r.primarySelector(pageID, chainID)
	if err != nil {
		return nil, err
	}
	refs, err := r.port.FindAllElements(ctx, css, interactor.FindOptions{Timeout: r.timeouts.Operation})
	if err != nil {
		return nil, err
	}
	out := make([]string, len(refs))
	for i, ref := range refs {
		val, _ := r.port.GetAttribute(ctx, ref, attrName)
		out[i] = val
	}
	return out, nil
}

// primarySelector resolves (pageID, chainID) through the registry and
// returns its primary entry's leading CSS candidate -- the one selector a
// page-wide FindAllElements call can use. Fallback entries only make sense
// for the single-element TryResolve path, so they are not consulted here.
func (r *Runner) primarySelector(pageID, chainID string) (string, error) {
	chain, err := r.reg.Resolve(pageID, chainID)
	if err != nil {
		return "", err
	}
	entries := chain.Entries()
	if len(entries) == 0 || strings.TrimSpace(entries[0].CSS) == "" {
		return "", &registry.ChainNotFoundError{PageID: pageID, ChainID: chainID}
	}
	first := strings.SplitN(entries[0].CSS, ",", 2)[0]
	return strings.TrimSpace(first), nil
}

// itemizeCart resolves the cart page's itemized row chains and zips them
// into a CartSnapshot, per spec §3. Chains are independently page-wide
// selectors (e.g. every ".cart-item .name", every ".cart-item .price") in
// matching document order; the snapshot only spans the index range every
// required chain has a match for, since a malformed/partial page render
// should degrade rather than panic on an index mismatch.
func (r *Runner) itemizeCart(ctx context.Context) (schema.CartSnapshot, error) {
	if _, err := registry.TryResolve(ctx, r.finder, r.reg, PageCart, ChainCartContainer,
		registry.ResolveOptions{Timeout: r.timeouts.Operation, Visible: true}); err != nil {
		return schema.CartSnapshot{}, err
	}

	names, err := r.extractParallelText(ctx, PageCart, ChainCartItemName)
	if err != nil {
		return schema.CartSnapshot{}, err
	}
	prices, err := r.extractParallelText(ctx, PageCart, ChainCartItemPrice)
	if err != nil {
		return schema.CartSnapshot{}, err
	}
	quantities, err := r.extractParallelText(ctx, PageCart, ChainCartItemQuantity)
	if err != nil {
		quantities = nil
	}
	productIDs, err := r.extractParallelAttr(ctx, PageCart, ChainCartItemProductID, "data-product-id")
	if err != nil {
		productIDs = nil
	}
	notes, err := r.extractParallelText(ctx, PageCart, ChainCartItemUnavailable)
	if err != nil {
		notes = nil
	}

	n := len(names)
	if len(prices) < n {
		n = len(prices)
	}
	items := make([]schema.CartItem, 0, n)
	for i := 0; i < n; i++ {
		item := schema.CartItem{
			Name:      strings.TrimSpace(names[i]),
			UnitPrice: parseMoney(prices[i]),
			Quantity:  1,
			Available: true,
		}
		if i < len(quantities) {
			item.Quantity = parseQuantity(quantities[i])
		}
		if i < len(productIDs) {
			item.ProductID = strings.TrimSpace(productIDs[i])
		}
		if i < len(notes) && strings.TrimSpace(notes[i]) != "" {
			item.Available = false
			item.AvailabilityNote = strings.TrimSpace(notes[i])
		}
		if item.Name == "" {
			continue
		}
		items = append(items, item)
	}
	return schema.NewCartSnapshot(time.Now().UnixNano(), items), nil
}

// extractSlots resolves the delivery-slot page's label/start/end chains,
// zips them by index, and ranks them ascending by start time per spec §4.6.
func (r *Runner) extractSlots(ctx context.Context) ([]schema.SlotOption, error) {
	labels, err := r.extractParallelText(ctx, PageDeliverySlots, ChainSlotLabel)
	if err != nil {
		return nil, err
	}
	starts, err := r.extractParallelAttr(ctx, PageDeliverySlots, ChainSlotStart, "data-start-unix")
	if err != nil {
		return nil, err
	}
	ends, err := r.extractParallelAttr(ctx, PageDeliverySlots, ChainSlotEnd, "data-end-unix")
	if err != nil {
		ends = nil
	}

	n := len(labels)
	if len(starts) < n {
		n = len(starts)
	}
	slots := make([]schema.SlotOption, 0, n)
	for i := 0; i < n; i++ {
		startNano, convErr := strconv.ParseInt(strings.TrimSpace(starts[i]), 10, 64)
		if convErr != nil {
			continue
		}
		var endNano int64
		if i < len(ends) {
			endNano, _ = strconv.ParseInt(strings.TrimSpace(ends[i]), 10, 64)
		}
		slots = append(slots, schema.SlotOption{
			StartUnixNano: startNano,
			EndUnixNano:   endNano,
			Label:         strings.TrimSpace(labels[i]),
		})
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].StartUnixNano < slots[j].StartUnixNano })
	for i := range slots {
		slots[i].Rank = i + 1
	}
	return slots, nil
}

// skipAlreadyCachedOrders drops any order whose ID internal/store/ordercache
// still holds an unexpired entry for, so a run started shortly after another
// one touched the same order doesn't re-navigate and re-merge it. A nil
// cache (the default when cmd/copilot isn't configured with one) disables
// this entirely.
func (r *Runner) skipAlreadyCachedOrders(orders []schema.OrderToMerge) []schema.OrderToMerge {
	if r.orders == nil {
		return orders
	}
	out := make([]schema.OrderToMerge, 0, len(orders))
	for _, o := range orders {
		if _, cached := r.orders.Get(o.OrderID); cached {
			observability.Log().Info("runner: skipping recently merged order", observability.F("orderId", o.OrderID))
			continue
		}
		out = append(out, o)
	}
	return out
}

// cacheMergedOrders records every successfully merged order in
// internal/store/ordercache, keyed by order ID, so a subsequent run within
// the cache's TTL can skip re-merging it via skipAlreadyCachedOrders. A nil
// cache makes this a no-op.
func (r *Runner) cacheMergedOrders(result cartmerge.Result) {
	if r.orders == nil {
		return
	}
	for _, o := range result.Orders {
		if !o.Success {
			continue
		}
		total := schema.ZeroMoney
		if o.After.TotalCents != nil {
			total = schema.MoneyFromCents(*o.After.TotalCents)
		}
		r.orders.Put(schema.OrderDetail{
			OrderSummary: schema.OrderSummary{OrderID: o.OrderID, TotalPrice: total},
			CostSummary:  schema.CostSummary{Total: total},
		})
	}
}

// resolveSubstitutionsAndPruningForHousehold loads householdID's persisted
// preferences (internal/store/prefstore) and, when found and
// Learning.PreferStoreBrand is explicitly disabled, runs substitution
// ranking without the Runner's configured storeBrandIDs for this run only --
// the configured map is restored immediately afterward. Candidates that the
// search page itself tags as store brand (see searchCandidates) are still
// marked as store brand and still receive the scoring bonus. A nil
// prefs store (no household preferences wired at all) always uses the
// configured storeBrandIDs.
func (r *Runner) resolveSubstitutionsAndPruningForHousehold(ctx context.Context, householdID string, after schema.CartSnapshot) ([]schema.SubstitutionProposal, []schema.PruneDecision) {
	if r.prefs == nil {
		return r.resolveSubstitutionsAndPruning(ctx, after)
	}

	original := r.storeBrandIDs
	prefs, found, err := r.prefs.Load(householdID)
	switch {
	case err != nil:
		observability.Log().Warn("runner: failed to load household preferences",
			observability.F("householdId", householdID), observability.F("error", err.Error()))
	case found && !prefs.Learning.PreferStoreBrand:
		r.storeBrandIDs = nil
	}

	substitutions, pruning := r.resolveSubstitutionsAndPruning(ctx, after)
	r.storeBrandIDs = original
	return substitutions, pruning
}

// resolveSubstitutionsAndPruning runs the substitution/prune steps of spec
// §4.7 for every unavailable item in after: a store-brand/unit-price-
// weighted candidate search ranked by internal/llm/heuristic, optionally
// refined by an LLM justification pass for high-consequence items, plus a
// heuristic.PruneStockDecision keep/prune decision (with a prior purchase
// count of 0) for each of those unavailable items. Any failure in a single item's candidate search is swallowed and
// logged rather than aborting the whole run -- a partial substitution list
// is still useful to a reviewer.
func (r *Runner) resolveSubstitutionsAndPruning(ctx context.Context, after schema.CartSnapshot) ([]schema.SubstitutionProposal, []schema.PruneDecision) {
	var substitutions []schema.SubstitutionProposal
	var pruning []schema.PruneDecision

	for _, item := range after.Items {
		if item.Available {
			continue
		}
		pruning = append(pruning, heuristic.PruneStockDecision(item, 0))

		candidates, err := r.searchCandidates(ctx, item.Name)
		if err != nil {
			observability.Log().Warn("runner: substitution search failed",
				observability.F("item", item.Name), observability.F("error", err.Error()))
			continue
		}
		if len(candidates) == 0 {
			continue
		}
		proposals := heuristic.RankCandidates(item.Name, item.UnitPrice, candidates, r.storeBrandIDs)
		if len(proposals) == 0 {
			continue
		}
		best := proposals[0]
		if r.llmPort != nil && r.llmPort.IsAvailable(ctx) && heuristic.IsHighConsequence(item.Name) {
			if refined, ok := r.refineWithLLM(ctx, item, best); ok {
				best = refined
			}
		}
		substitutions = append(substitutions, best)
	}
	return substitutions, pruning
}

// searchCandidates issues internal/llm/heuristic's broadened substitution
// queries against the retailer's search page (via a caller-provided URL
// template, since interactor.Port has no dedicated search method) and
// itemizes the first query that returns any result row.
func (r *Runner) searchCandidates(ctx context.Context, itemName string) ([]schema.CartItem, error) {
	for _, query := range heuristic.SubstitutionQueries(itemName) {
		searchURL, ok := r.buildSearchURL(query)
		if !ok {
			return nil, nil
		}
		if err := r.port.NavigateTo(ctx, searchURL, interactor.NavigateOptions{Timeout: r.timeouts.Navigation}); err != nil {
			continue
		}
		names, err := r.extractParallelText(ctx, PageSearchResults, ChainSearchResultName)
		if err != nil || len(names) == 0 {
			continue
		}
		prices, err := r.extractParallelText(ctx, PageSearchResults, ChainSearchResultPrice)
		if err != nil {
			continue
		}
		productIDs, _ := r.extractParallelAttr(ctx, PageSearchResults, ChainSearchResultProduct, "data-product-id")
		storeTags, _ := r.extractParallelAttr(ctx, PageSearchResults, ChainSearchResultStoreTag, "data-store-brand")

		n := len(names)
		if len(prices) < n {
			n = len(prices)
		}
		candidates := make([]schema.CartItem, 0, n)
		for i := 0; i < n; i++ {
			item := schema.CartItem{
				Name:      strings.TrimSpace(names[i]),
				UnitPrice: parseMoney(prices[i]),
				Quantity:  1,
				Available: true,
			}
			if i < len(productIDs) {
				item.ProductID = strings.TrimSpace(productIDs[i])
			}
			if i < len(storeTags) && storeTags[i] != "" {
				if r.storeBrandIDs == nil {
					r.storeBrandIDs = make(map[string]bool)
				}
				r.storeBrandIDs[item.ProductID] = true
			}
			if item.Name != "" {
				candidates = append(candidates, item)
			}
		}
		if len(candidates) > 0 {
			return candidates, nil
		}
	}
	return nil, nil
}

// refineWithLLM asks the LLM Enhancement Layer to justify (or veto) the
// heuristic's top-ranked candidate for a high-consequence item. The
// heuristic ranking is always returned unchanged on any LLM error, empty
// response, or unavailability -- the LLM can only annotate the Reason
// field here, never override Candidate or Score, per spec §4.7's
// non-authoritative LLM guarantee.
func (r *Runner) refineWithLLM(ctx context.Context, item schema.CartItem, proposal schema.SubstitutionProposal) (schema.SubstitutionProposal, bool) {
	prompt := fmt.Sprintf(
		"A grocery item %q is out of stock. The best heuristic substitute found is %q (unit price %s). "+
			"In one short sentence, note anything a shopper should double-check before accepting this substitution "+
			"for a high-consequence item (e.g. an allergen, age restriction, or formulation difference).",
		item.Name, proposal.Candidate.Name, proposal.Candidate.UnitPrice.String(),
	)
	result, err := r.llmPort.Complete(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, llm.CompleteOptions{
		MaxTokens:   200,
		Temperature: 0.2,
	})
	if err != nil || strings.TrimSpace(result.Content) == "" {
		return proposal, false
	}
	proposal.Reason = proposal.Reason + "; " + strings.TrimSpace(result.Content)
	return proposal, true
}
