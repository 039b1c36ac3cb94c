// Package chromedpadapter implements the Page Interactor port (spec §4.2,
// adapter A) over a persistent chromedp browser context: native waiters,
// the engine's own click dispatch, and cdproto-level visibility checks.
// Popup-arbitration policy (priority order, safety gate, observer/scanner
// loop) is delegated to internal/popup, which both adapters share.
package chromedpadapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	"github.com/shopping-copilot/core/internal/errs"
	"github.com/shopping-copilot/core/internal/interactor"
	"github.com/shopping-copilot/core/internal/moneyparse"
	"github.com/shopping-copilot/core/internal/popup"
)

// cartCountSelectors and cartTotalSelectors are probed in order; the first
// visible match wins, per spec §4.2 getCartState.
var (
	cartCountSelectors = []string{
		`[data-testid="cart-item-count"]`,
		`[data-testid="minicart-count"]`,
		`.minicart-count`,
	}
	cartTotalSelectors = []string{
		`[data-testid="cart-total"]`,
		`[data-testid="minicart-total"]`,
		`.minicart-total`,
	}
)

// Adapter drives a single chromedp browser tab.
type Adapter struct {
	ctx context.Context

	mu      sync.Mutex
	arbiter *popup.Arbiter
}

// New wraps an already-allocated chromedp context (created by the caller via
// chromedp.NewContext against an allocator context) as an Interactor Port.
func New(ctx context.Context) *Adapter {
	return &Adapter{ctx: ctx}
}

var _ interactor.Port = (*Adapter)(nil)

func (a *Adapter) FindElement(ctx context.Context, cssCandidates []string, opts interactor.FindOptions) (*interactor.FindResult, bool, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	findCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for index, css := range cssCandidates {
		var nodes []*cdp.Node
		err := chromedp.Run(findCtx, chromedp.Nodes(css, &nodes, chromedp.AtLeast(0)))
		if err != nil || len(nodes) == 0 {
			continue
		}
		node := nodes[0]
		if opts.Visible {
			visible, verr := a.isVisibleNode(findCtx, node)
			if verr != nil || !visible {
				continue
			}
		}
		return &interactor.FindResult{Ref: node, SelectorIndex: index, MatchedSelector: css}, true, nil
	}
	return nil, false, nil
}

func (a *Adapter) FindAllElements(ctx context.Context, selector string, opts interactor.FindOptions) ([]interactor.ElementRef, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	findCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var nodes []*cdp.Node
	if err := chromedp.Run(findCtx, chromedp.Nodes(selector, &nodes, chromedp.AtLeast(0))); err != nil {
		return nil, errs.New(errs.CategoryDOM, errs.TypeElementNotFound,
			errs.WithMessage(fmt.Sprintf("findAllElements %q: %v", selector, err)),
			errs.WithRecoverable(true))
	}
	out := make([]interactor.ElementRef, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n)
	}
	return out, nil
}

func (a *Adapter) Click(ctx context.Context, ref interactor.ElementRef, opts interactor.ClickOptions) error {
	node, ok := ref.(*cdp.Node)
	if !ok || node == nil {
		return errs.New(errs.CategoryDOM, errs.TypeElementNotFound, errs.WithMessage("click: stale or invalid element ref"))
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	clickCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := chromedp.Run(clickCtx, chromedp.MouseClickNode(node)); err != nil {
		return errs.New(errs.CategoryDOM, errs.TypeTimeout,
			errs.WithMessage(fmt.Sprintf("click: %v", err)),
			errs.WithRecoverable(true),
			errs.WithRetryStrategy(errs.RetryImmediateDOM),
			errs.WithCause(err))
	}
	return nil
}

func (a *Adapter) IsVisible(ctx context.Context, ref interactor.ElementRef) bool {
	node, ok := ref.(*cdp.Node)
	if !ok || node == nil {
		return false
	}
	visible, err := a.isVisibleNode(ctx, node)
	if err != nil {
		return false
	}
	return visible
}

func (a *Adapter) isVisibleNode(ctx context.Context, node *cdp.Node) (bool, error) {
	var box []float64
	err := chromedp.Run(ctx, chromedp.Dimensions(node.FullXPath(), &box, chromedp.NodeVisible))
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (a *Adapter) GetTextContent(ctx context.Context, ref interactor.ElementRef) string {
	node, ok := ref.(*cdp.Node)
	if !ok || node == nil {
		return ""
	}
	var text string
	if err := chromedp.Run(ctx, chromedp.TextContent(node.FullXPath(), &text)); err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

func (a *Adapter) GetAttribute(ctx context.Context, ref interactor.ElementRef, name string) (string, bool) {
	node, ok := ref.(*cdp.Node)
	if !ok || node == nil {
		return "", false
	}
	var value string
	var ok2 bool
	if err := chromedp.Run(ctx, chromedp.AttributeValue(node.FullXPath(), name, &value, &ok2)); err != nil {
		return "", false
	}
	return value, ok2
}

func (a *Adapter) GetCartState(ctx context.Context) (interactor.CartState, error) {
	state := interactor.CartState{CapturedAt: time.Now()}

	if countText, ok := a.firstVisibleText(ctx, cartCountSelectors); ok {
		if n, ok := parseIntLoose(countText); ok {
			state.ItemCount = &n
		}
	}
	if totalText, ok := a.firstVisibleText(ctx, cartTotalSelectors); ok {
		if cents, ok := moneyparse.Parse(totalText); ok {
			state.TotalCents = &cents
		}
	}
	return state, nil
}

func (a *Adapter) firstVisibleText(ctx context.Context, selectors []string) (string, bool) {
	for _, sel := range selectors {
		var nodes []*cdp.Node
		if err := chromedp.Run(ctx, chromedp.Nodes(sel, &nodes, chromedp.AtLeast(0))); err != nil || len(nodes) == 0 {
			continue
		}
		visible, err := a.isVisibleNode(ctx, nodes[0])
		if err != nil || !visible {
			continue
		}
		var text string
		if err := chromedp.Run(ctx, chromedp.TextContent(nodes[0].FullXPath(), &text)); err != nil {
			continue
		}
		return strings.TrimSpace(text), true
	}
	return "", false
}

// primitives adapts the chromedp-driven node operations to popup.Primitives,
// so the shared popup.Arbiter can sweep without knowing it is driving a real
// browser.
type primitives struct{ adapter *Adapter }

func (p primitives) FindAll(ctx context.Context, cssSelector string) ([]popup.Element, error) {
	var nodes []*cdp.Node
	if err := chromedp.Run(ctx, chromedp.Nodes(cssSelector, &nodes, chromedp.AtLeast(0))); err != nil {
		return nil, nil
	}
	out := make([]popup.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n)
	}
	return out, nil
}

func (p primitives) IsVisible(ctx context.Context, el popup.Element) bool {
	node, ok := el.(*cdp.Node)
	if !ok {
		return false
	}
	visible, _ := p.adapter.isVisibleNode(ctx, node)
	return visible
}

func (p primitives) TextContent(ctx context.Context, el popup.Element) string {
	node, ok := el.(*cdp.Node)
	if !ok {
		return ""
	}
	return p.adapter.GetTextContent(ctx, node)
}

func (p primitives) Attribute(ctx context.Context, el popup.Element, name string) (string, bool) {
	node, ok := el.(*cdp.Node)
	if !ok {
		return "", false
	}
	return p.adapter.GetAttribute(ctx, node, name)
}

func (p primitives) Click(ctx context.Context, el popup.Element) error {
	node, ok := el.(*cdp.Node)
	if !ok {
		return errs.New(errs.CategoryDOM, errs.TypeElementNotFound)
	}
	return chromedp.Run(ctx, chromedp.MouseClickNode(node))
}

func toPopupPatterns(in []interactor.PopupPattern) []popup.Pattern {
	out := make([]popup.Pattern, 0, len(in))
	for _, p := range in {
		out = append(out, popup.Pattern{
			Name: p.Name, Selector: p.Selector, TextMatch: p.TextMatch,
			ExactMatch: p.ExactMatch, Priority: p.Priority, SkipIfReorderModal: p.SkipIfReorderModal,
		})
	}
	if len(out) == 0 {
		return popup.DefaultPatterns()
	}
	return out
}

func (a *Adapter) arbiterFor(patterns []interactor.PopupPattern) *popup.Arbiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.arbiter == nil {
		a.arbiter = popup.New(primitives{adapter: a}, toPopupPatterns(patterns), 500*time.Millisecond)
	}
	return a.arbiter
}

func (a *Adapter) isReorderModalVisibleBool(ctx context.Context) bool {
	state, err := a.IsReorderModalVisible(ctx)
	return err == nil && state.Found
}

func (a *Adapter) DismissPopups(ctx context.Context, patterns []interactor.PopupPattern) (int, error) {
	return a.arbiterFor(patterns).Sweep(ctx, a.isReorderModalVisibleBool(ctx))
}

func (a *Adapter) IsReorderModalVisible(ctx context.Context) (interactor.ReorderModalState, error) {
	mergeFound, _ := a.firstVisibleText(ctx, []string{
		`button:contains("Adicionar ao carrinho")`,
		`[data-testid="merge-cart-button"]`,
	})
	if mergeFound != "" {
		return interactor.ReorderModalState{Kind: interactor.ReorderModalMerge, Found: true}, nil
	}
	removalText, found := a.firstVisibleText(ctx, []string{`[data-testid="reorder-modal"]`})
	if found && (strings.Contains(removalText, "Remover produtos do carrinho") || strings.Contains(removalText, "remover todos os produtos")) {
		return interactor.ReorderModalState{Kind: interactor.ReorderModalRemoval, Found: true}, nil
	}
	replaceText, found := a.firstVisibleText(ctx, []string{`.modal button`})
	if found && strings.Contains(replaceText, "Encomendar de novo") {
		return interactor.ReorderModalState{Kind: interactor.ReorderModalReplace, Found: true}, nil
	}
	return interactor.ReorderModalState{Kind: interactor.ReorderModalNone, Found: false}, nil
}

func (a *Adapter) AttachPopupObserver(ctx context.Context, patterns []interactor.PopupPattern) error {
	a.arbiterFor(patterns).AttachObserver(ctx, a.isReorderModalVisibleBool, nil)
	return nil
}

func (a *Adapter) DetachPopupObserver(ctx context.Context) int {
	a.mu.Lock()
	arbiter := a.arbiter
	a.mu.Unlock()
	if arbiter == nil {
		return 0
	}
	return arbiter.DetachObserver()
}

func (a *Adapter) GetCurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := chromedp.Run(ctx, chromedp.Location(&url)); err != nil {
		return "", errs.New(errs.CategoryNetwork, errs.TypeNetworkError, errs.WithCause(err))
	}
	return url, nil
}

func (a *Adapter) NavigateTo(ctx context.Context, url string, opts interactor.NavigateOptions) error {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		return errs.New(errs.CategoryNetwork, errs.TypeTimeout,
			errs.WithMessage(fmt.Sprintf("navigate %q: %v", url, err)),
			errs.WithRecoverable(true),
			errs.WithRetryStrategy(errs.RetryExponentialNetwork),
			errs.WithCause(err))
	}
	return nil
}

func (a *Adapter) WaitForTimeout(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (a *Adapter) WaitForNavigation(ctx context.Context, opts interactor.WaitForNavigationOptions) error {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		url, err := a.GetCurrentURL(waitCtx)
		if err == nil && (opts.URLPattern == "" || strings.Contains(url, opts.URLPattern)) {
			var ready string
			_ = chromedp.Run(waitCtx, chromedp.Evaluate(`document.readyState`, &ready))
			if ready == "complete" {
				return nil
			}
		}
		select {
		case <-waitCtx.Done():
			return errs.New(errs.CategoryDOM, errs.TypeTimeout, errs.WithMessage("waitForNavigation timed out"))
		case <-time.After(100 * time.Millisecond):
		}
	}
	return errs.New(errs.CategoryDOM, errs.TypeTimeout, errs.WithMessage("waitForNavigation timed out"))
}

func (a *Adapter) Screenshot(ctx context.Context, name string) (string, error) {
	var buf []byte
	if err := chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return "", errs.New(errs.CategoryChrome, errs.TypeMessagingFailed, errs.WithCause(err))
	}
	path := fmt.Sprintf("data/screenshots/%s-%d.png", name, time.Now().UnixNano())
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", errs.New(errs.CategoryChrome, errs.TypeStorageQuota, errs.WithCause(err))
	}
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		return "", errs.New(errs.CategoryChrome, errs.TypeStorageQuota, errs.WithCause(err))
	}
	return path, nil
}

func parseIntLoose(text string) (int, bool) {
	text = strings.TrimSpace(text)
	digits := strings.Builder{}
	for _, r := range text {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0, false
	}
	var n int
	for _, r := range digits.String() {
		n = n*10 + int(r-'0')
	}
	return n, true
}
