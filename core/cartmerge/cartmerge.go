// Package cartmerge implements the Cart-Merge Flow shared business logic of
// spec §4.4: given up to N prior orders, replace-then-merge them into the
// live cart over a single interactor.Port, handling the reorder modal and
// verifying the resulting cart change. Button/header resolution goes
// through the shared selector registry (internal/registry) rather than a
// bare FindElement call, so registry text-match predicates on these chains
// are honored exactly as they would be for any other page.
package cartmerge

import (
	"context"
	"sort"
	"time"

	"github.com/shopping-copilot/core/internal/config"
	"github.com/shopping-copilot/core/internal/interactor"
	"github.com/shopping-copilot/core/internal/observability"
	"github.com/shopping-copilot/core/internal/registry"
	"github.com/shopping-copilot/core/internal/schema"
)

// Page and chain identifiers the flow resolves through the shared selector
// registry. The registry itself only holds the concrete CSS chains for
// these symbolic names; nothing here is retailer-specific.
const (
	PageOrderDetail    = "orderDetail"
	ChainOrderHeader   = "orderHeader"
	ChainReorderButton = "reorderButton"

	PageReorderModal    = "reorderModal"
	ChainMergeButton    = "mergeButton"
	ChainConfirmReorder = "confirmReorderButton"
	ChainCancelRemoval  = "cancelRemovalButton"
)

// Mode is the cart-merge mode for a single order: the first order always
// replaces, every subsequent order merges, per spec §4.4's invariant.
type Mode string

const (
	ModeReplace Mode = "replace"
	ModeMerge   Mode = "merge"
)

// OrderMergeResult is the per-order outcome of the flow.
type OrderMergeResult struct {
	OrderID    string
	Mode       Mode
	Success    bool
	Reason     string
	ItemsAdded int
	Before     interactor.CartState
	After      interactor.CartState
}

// Result is the aggregate outcome of running the flow over a batch of
// orders. Success is true iff every order's OrderMergeResult.Success is
// true, per spec §4.4's "per-order failure does not abort the flow"
// invariant.
type Result struct {
	Orders     []OrderMergeResult
	FinalState interactor.CartState
	Success    bool
}

// Flow runs the Cart-Merge algorithm over a single interactor.Port.
type Flow struct {
	port     interactor.Port
	reg      *registry.Registry
	patterns []interactor.PopupPattern
	timeouts config.Timeouts
	finder   portFinder
}

// New constructs a Flow bound to the given port, selector registry, and
// popup pattern set.
func New(port interactor.Port, reg *registry.Registry, patterns []interactor.PopupPattern, timeouts config.Timeouts) *Flow {
	return &Flow{port: port, reg: reg, patterns: patterns, timeouts: timeouts, finder: portFinder{port: port}}
}

// Run merges orders (sorted ascending by date, oldest first) into the live
// cart, per spec §4.4. The popup observer is attached for the duration of
// the run and always detached on exit, including on a cancelled context.
func (f *Flow) Run(ctx context.Context, orders []schema.OrderToMerge) (Result, error) {
	sorted := append([]schema.OrderToMerge(nil), orders...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].DateUnixNano < sorted[j].DateUnixNano })

	if err := f.port.AttachPopupObserver(ctx, f.patterns); err != nil {
		return Result{}, err
	}
	defer func() {
		f.port.DetachPopupObserver(context.Background())
	}()

	results := make([]OrderMergeResult, 0, len(sorted))
	for i, order := range sorted {
		mode := ModeMerge
		if i == 0 {
			mode = ModeReplace
		}
		results = append(results, f.mergeOne(ctx, order, mode))
	}

	finalState, _ := f.port.GetCartState(ctx)

	allSucceeded := true
	for _, r := range results {
		if !r.Success {
			allSucceeded = false
			break
		}
	}
	return Result{Orders: results, FinalState: finalState, Success: allSucceeded}, nil
}

func (f *Flow) mergeOne(ctx context.Context, order schema.OrderToMerge, mode Mode) OrderMergeResult {
	result := OrderMergeResult{OrderID: order.OrderID, Mode: mode}

	if err := f.navigateToOrder(ctx, order); err != nil {
		result.Reason = err.Error()
		return result
	}

	f.ensureNoBlockingPopups(ctx, "before reorder click")

	before, _ := f.port.GetCartState(ctx)
	result.Before = before

	if err := f.clickReorderButton(ctx); err != nil {
		result.Reason = err.Error()
		return result
	}

	f.port.WaitForTimeout(ctx, f.timeouts.ModalWaitPerTry+500*time.Millisecond)

	handled, retryable := f.handleModal(ctx, mode)
	if !handled && retryable {
		f.ensureNoBlockingPopups(ctx, "before reorder click retry")
		if err := f.clickReorderButton(ctx); err == nil {
			f.port.WaitForTimeout(ctx, f.timeouts.ModalWaitPerTry+500*time.Millisecond)
			handled, _ = f.handleModal(ctx, mode)
		}
	}

	f.port.WaitForTimeout(ctx, f.timeouts.CartUpdateWait)

	after, _ := f.port.GetCartState(ctx)
	result.After = after
	result.ItemsAdded = itemsAdded(mode, before, after)

	verified := verifyChange(mode, before, after)
	redirectedToCart := currentURLLooksLikeCart(ctx, f.port)
	result.Success = verified || redirectedToCart
	switch {
	case !result.Success:
		result.Reason = "cart change not verified after reorder"
	case !handled:
		result.Reason = "modal not detected, but cart change verified"
	}
	return result
}

func (f *Flow) navigateToOrder(ctx context.Context, order schema.OrderToMerge) error {
	current, err := f.port.GetCurrentURL(ctx)
	if err == nil && contains(current, order.OrderID) {
		return nil
	}
	if err := f.port.NavigateTo(ctx, order.DetailURL, interactor.NavigateOptions{Timeout: f.timeouts.Navigation}); err != nil {
		return err
	}
	res, err := registry.TryResolve(ctx, f.finder, f.reg, PageOrderDetail, ChainOrderHeader, registry.ResolveOptions{Timeout: 10 * time.Second, Visible: true})
	if err != nil {
		return err
	}
	if res == nil {
		observability.Log().Warn("cartmerge: order header not found", observability.F("orderId", order.OrderID))
		return errNotFound("order header")
	}
	return nil
}

func (f *Flow) clickReorderButton(ctx context.Context) error {
	res, err := registry.TryResolve(ctx, f.finder, f.reg, PageOrderDetail, ChainReorderButton, registry.ResolveOptions{Timeout: f.timeouts.Operation, Visible: true})
	if err != nil {
		return err
	}
	if res == nil {
		return errNotFound("reorder button")
	}
	ref := res.ElementRef.(interactor.ElementRef)
	if err := f.port.Click(ctx, ref, interactor.ClickOptions{Timeout: f.timeouts.Operation}); err != nil {
		f.ensureNoBlockingPopups(ctx, "reorder click retry")
		return f.port.Click(ctx, ref, interactor.ClickOptions{Timeout: f.timeouts.Operation})
	}
	return nil
}

// handleModal implements the modal handling policy of spec §4.4a. It
// returns (handled, retryable): retryable is true either when the modal was
// not detected at all (step g: retry from the reorder click once more) or
// when a removal modal was cancelled.
func (f *Flow) handleModal(ctx context.Context, mode Mode) (handled bool, retryable bool) {
	modalState, err := f.port.IsReorderModalVisible(ctx)
	if err != nil {
		return false, false
	}
	if !modalState.Found {
		return false, true
	}

	if modalState.Kind == interactor.ReorderModalRemoval {
		f.ensureNoBlockingPopups(ctx, "modal button click")
		if res, _ := registry.TryResolve(ctx, f.finder, f.reg, PageReorderModal, ChainCancelRemoval, registry.ResolveOptions{Timeout: f.timeouts.Operation, Visible: true}); res != nil {
			_ = f.port.Click(ctx, res.ElementRef.(interactor.ElementRef), interactor.ClickOptions{Timeout: f.timeouts.Operation})
		}
		return false, true
	}

	if mode == ModeMerge {
		f.ensureNoBlockingPopups(ctx, "modal button click")
		if res, _ := registry.TryResolve(ctx, f.finder, f.reg, PageReorderModal, ChainMergeButton, registry.ResolveOptions{Timeout: 3 * time.Second, Visible: true}); res != nil {
			return f.clickModalButton(ctx, res.ElementRef.(interactor.ElementRef)), false
		}
	}

	f.ensureNoBlockingPopups(ctx, "modal button click")
	res, _ := registry.TryResolve(ctx, f.finder, f.reg, PageReorderModal, ChainConfirmReorder, registry.ResolveOptions{Timeout: f.timeouts.Operation, Visible: true})
	if res == nil {
		return false, false
	}
	return f.clickModalButton(ctx, res.ElementRef.(interactor.ElementRef)), false
}

func (f *Flow) clickModalButton(ctx context.Context, ref interactor.ElementRef) bool {
	return f.port.Click(ctx, ref, interactor.ClickOptions{Timeout: f.timeouts.Operation}) == nil
}

// ensureNoBlockingPopups is the bounded-retry dismissPopups invocation of
// spec §4.3 (<=3 attempts, 500ms gap), implemented directly against
// interactor.Port rather than internal/popup.Arbiter: cartmerge depends
// only on the Port abstraction, and Port.DismissPopups already enforces the
// shared arbitration policy underneath, whichever adapter is in use.
func (f *Flow) ensureNoBlockingPopups(ctx context.Context, label string) {
	for attempt := 0; attempt < 3; attempt++ {
		n, err := f.port.DismissPopups(ctx, f.patterns)
		if err != nil || n == 0 {
			return
		}
		observability.Log().Info("cartmerge: dismissed blocking popups", observability.F("label", label), observability.F("count", n))
		select {
		case <-ctx.Done():
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// itemsAdded computes the delta per spec §4.4 step i: for replace, the new
// item count outright; for merge, the difference. Returns 0 when a count it
// needs is unknown (the after count for replace; both counts for merge).
func itemsAdded(mode Mode, before, after interactor.CartState) int {
	if after.ItemCount == nil {
		return 0
	}
	if mode == ModeReplace {
		return *after.ItemCount
	}
	if before.ItemCount == nil {
		return 0
	}
	return *after.ItemCount - *before.ItemCount
}

// verifyChange implements the ordered verification preference of spec
// §4.4b.
func verifyChange(mode Mode, before, after interactor.CartState) bool {
	if before.ItemCount != nil && after.ItemCount != nil {
		if mode == ModeReplace {
			return *after.ItemCount > 0
		}
		return *after.ItemCount > *before.ItemCount
	}
	if before.TotalCents != nil && after.TotalCents != nil {
		if mode == ModeReplace {
			return *after.TotalCents > 0
		}
		return *after.TotalCents > *before.TotalCents
	}
	if after.TotalCents != nil && *after.TotalCents > 0 {
		return true
	}
	if before.ItemCount == nil && after.ItemCount == nil && before.TotalCents == nil && after.TotalCents == nil {
		return true // cannot falsify; assumed per spec §4.4b case 4
	}
	return false
}

func currentURLLooksLikeCart(ctx context.Context, port interactor.Port) bool {
	url, err := port.GetCurrentURL(ctx)
	if err != nil {
		return false
	}
	return contains(url, "/cart") || contains(url, "/carrinho")
}

// portFinder adapts interactor.Port to registry.ElementFinder's narrower,
// single-selector, error-returning shape, keeping the registry package
// itself free of any dependency on the adapter layer.
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

func contains(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

type notFoundError string

func (e notFoundError) Error() string { return string(e) + " not found" }

func errNotFound(what string) error { return notFoundError(what) }
