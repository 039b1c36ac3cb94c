package scriptadapter

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopping-copilot/core/internal/errs"
	"github.com/shopping-copilot/core/internal/interactor"
	"github.com/shopping-copilot/core/internal/protocol"
)

// Adapter drives the content-script-backed Interactor by exchanging the
// message protocol over a Transport, polling at a configurable interval
// rather than relying on any engine-native waiter (spec §4.2, adapter B).
type Adapter struct {
	transport    Transport
	pollInterval time.Duration

	mu              sync.Mutex
	observerCancel  context.CancelFunc
	observerRunning bool
	observerCount   int
}

// cartCountSelectors and cartTotalSelectors mirror chromedpadapter's probe
// lists; both adapters read the same page conventions, per spec §4.2.
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

// New wraps transport as an Interactor Port. pollInterval governs how often
// findElement/waitForNavigation re-poll the page agent; it defaults to
// 250ms when zero or negative.
func New(transport Transport, pollInterval time.Duration) *Adapter {
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	return &Adapter{transport: transport, pollInterval: pollInterval}
}

var _ interactor.Port = (*Adapter)(nil)

type elementDescriptor struct {
	ElementID       string            `json:"elementId"`
	SelectorIndex   int               `json:"selectorIndex"`
	MatchedSelector string            `json:"matchedSelector"`
	Text            string            `json:"text"`
	Visible         bool              `json:"visible"`
	Attributes      map[string]string `json:"attributes"`
}

type findElementResult struct {
	Elements []elementDescriptor `json:"elements"`
}

type findElementPayload struct {
	Selectors  []string `json:"selectors,omitempty"`
	ElementID  string   `json:"elementId,omitempty"`
	TextMatch  string   `json:"textMatch,omitempty"`
	ExactMatch bool     `json:"exactMatch,omitempty"`
	Visible    bool     `json:"visible,omitempty"`
	All        bool     `json:"all,omitempty"`
}

type clickPayload struct {
	ElementID string `json:"elementId"`
}

type navigatePayload struct {
	URL  string `json:"url,omitempty"`
	HTML string `json:"html,omitempty"`
}

type navigateResult struct {
	URL        string `json:"url"`
	ReadyState string `json:"readyState"`
}

type cartStateResult struct {
	ItemCount  *int   `json:"itemCount"`
	TotalCents *int64 `json:"totalCents"`
}

type popupPatternPayload struct {
	Name               string `json:"name"`
	Selector           string `json:"selector"`
	TextMatch          string `json:"textMatch"`
	ExactMatch         bool   `json:"exactMatch"`
	Priority           int    `json:"priority"`
	SkipIfReorderModal bool   `json:"skipIfReorderModal"`
}

type popupSweepPayload struct {
	Patterns             []popupPatternPayload `json:"patterns"`
	SkipReorderSensitive bool                  `json:"skipReorderSensitive"`
}

type popupSweepResult struct {
	Dismissed int `json:"dismissed"`
}

// send performs one request/response round-trip. The returned error is only
// ever a transport-level failure (network/timeout); an application-level
// failure is carried in resp.Success/resp.Error, which callers inspect
// directly since "not found" is expected, pollable outcome for several
// actions rather than a Go error.
func (a *Adapter) send(ctx context.Context, action protocol.Action, payload any) (protocol.Response, error) {
	return a.transport.Send(ctx, protocol.Message{Action: action, Payload: payload, TimestampNano: time.Now().UnixNano()})
}

// errorFromResponse wraps a failed Response's structured error into the
// shared errs taxonomy, for callers where the failure must propagate.
func errorFromResponse(resp protocol.Response) error {
	if resp.Error == nil {
		return errs.New(errs.CategoryChrome, errs.TypeMessagingFailed, errs.WithMessage("page agent reported failure with no error detail"))
	}
	var category errs.Category
	var typ errs.Type
	switch resp.Error.Code {
	case protocol.ErrNetworkError:
		category, typ = errs.CategoryNetwork, errs.TypeNetworkError
	case protocol.ErrTimeout:
		category, typ = errs.CategoryDOM, errs.TypeTimeout
	case protocol.ErrElementNotFound:
		category, typ = errs.CategoryDOM, errs.TypeElementNotFound
	case protocol.ErrPageNotReady, protocol.ErrWrongPage:
		category, typ = errs.CategoryDOM, errs.TypePageChanged
	case protocol.ErrNotLoggedIn:
		category, typ = errs.CategoryAuth, errs.TypeNotLoggedIn
	default:
		category, typ = errs.CategoryChrome, errs.TypeMessagingFailed
	}
	return errs.New(category, typ, errs.WithMessage(resp.Error.Message))
}

func (a *Adapter) FindElement(ctx context.Context, cssCandidates []string, opts interactor.FindOptions) (*interactor.FindResult, bool, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		resp, err := a.send(ctx, protocol.ActionPageFindElement, findElementPayload{
			Selectors: cssCandidates, Visible: opts.Visible,
		})
		if err != nil {
			return nil, false, err
		}
		if resp.Success {
			if result, ok := resp.Data.(findElementResult); ok && len(result.Elements) > 0 {
				d := result.Elements[0]
				return &interactor.FindResult{Ref: d.ElementID, SelectorIndex: d.SelectorIndex, MatchedSelector: d.MatchedSelector}, true, nil
			}
		} else if resp.Error != nil && resp.Error.Code != protocol.ErrElementNotFound {
			return nil, false, errorFromResponse(resp)
		}
		if time.Now().After(deadline) {
			return nil, false, nil
		}
		select {
		case <-ctx.Done():
			return nil, false, nil
		case <-ticker.C:
		}
	}
}

func (a *Adapter) FindAllElements(ctx context.Context, selector string, opts interactor.FindOptions) ([]interactor.ElementRef, error) {
	resp, err := a.send(ctx, protocol.ActionPageFindElement, findElementPayload{Selectors: []string{selector}, Visible: opts.Visible, All: true})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, errorFromResponse(resp)
	}
	result, ok := resp.Data.(findElementResult)
	if !ok {
		return nil, nil
	}
	out := make([]interactor.ElementRef, 0, len(result.Elements))
	for _, d := range result.Elements {
		out = append(out, d.ElementID)
	}
	return out, nil
}

func (a *Adapter) describe(ctx context.Context, ref interactor.ElementRef) (elementDescriptor, bool) {
	id, ok := ref.(string)
	if !ok || id == "" {
		return elementDescriptor{}, false
	}
	resp, err := a.send(ctx, protocol.ActionPageFindElement, findElementPayload{ElementID: id})
	if err != nil || !resp.Success {
		return elementDescriptor{}, false
	}
	result, ok := resp.Data.(findElementResult)
	if !ok || len(result.Elements) == 0 {
		return elementDescriptor{}, false
	}
	return result.Elements[0], true
}

func (a *Adapter) Click(ctx context.Context, ref interactor.ElementRef, opts interactor.ClickOptions) error {
	id, ok := ref.(string)
	if !ok || id == "" {
		return errs.New(errs.CategoryDOM, errs.TypeElementNotFound, errs.WithMessage("click: invalid element ref"))
	}
	resp, err := a.send(ctx, protocol.ActionPageClick, clickPayload{ElementID: id})
	if err != nil {
		return err
	}
	if !resp.Success {
		return errorFromResponse(resp)
	}
	return nil
}

func (a *Adapter) IsVisible(ctx context.Context, ref interactor.ElementRef) bool {
	d, ok := a.describe(ctx, ref)
	return ok && d.Visible
}

func (a *Adapter) GetTextContent(ctx context.Context, ref interactor.ElementRef) string {
	d, ok := a.describe(ctx, ref)
	if !ok {
		return ""
	}
	return d.Text
}

func (a *Adapter) GetAttribute(ctx context.Context, ref interactor.ElementRef, name string) (string, bool) {
	d, ok := a.describe(ctx, ref)
	if !ok {
		return "", false
	}
	value, present := d.Attributes[name]
	return value, present
}

func (a *Adapter) GetCartState(ctx context.Context) (interactor.CartState, error) {
	resp, err := a.send(ctx, protocol.ActionCartGet, nil)
	if err != nil {
		return interactor.CartState{}, err
	}
	if !resp.Success {
		return interactor.CartState{}, errorFromResponse(resp)
	}
	result, ok := resp.Data.(cartStateResult)
	if !ok {
		return interactor.CartState{CapturedAt: time.Now()}, nil
	}
	return interactor.CartState{ItemCount: result.ItemCount, TotalCents: result.TotalCents, CapturedAt: time.Now()}, nil
}

func toPopupPatternPayload(patterns []interactor.PopupPattern) []popupPatternPayload {
	out := make([]popupPatternPayload, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, popupPatternPayload{
			Name: p.Name, Selector: p.Selector, TextMatch: p.TextMatch,
			ExactMatch: p.ExactMatch, Priority: p.Priority, SkipIfReorderModal: p.SkipIfReorderModal,
		})
	}
	return out
}

func (a *Adapter) DismissPopups(ctx context.Context, patterns []interactor.PopupPattern) (int, error) {
	skip := a.isReorderModalVisibleBool(ctx)
	resp, err := a.send(ctx, protocol.ActionPagePopupSweep, popupSweepPayload{
		Patterns: toPopupPatternPayload(patterns), SkipReorderSensitive: skip,
	})
	if err != nil {
		return 0, err
	}
	if !resp.Success {
		return 0, errorFromResponse(resp)
	}
	result, ok := resp.Data.(popupSweepResult)
	if !ok {
		return 0, nil
	}
	return result.Dismissed, nil
}

func (a *Adapter) isReorderModalVisibleBool(ctx context.Context) bool {
	state, err := a.IsReorderModalVisible(ctx)
	return err == nil && state.Found
}

var reorderModalProbes = []struct {
	kind      interactor.ReorderModalKind
	selectors []string
	textMatch string
}{
	{interactor.ReorderModalMerge, []string{`[data-testid="merge-cart-button"]`}, ""},
	{interactor.ReorderModalRemoval, []string{`[data-testid="reorder-modal"]`}, "Remover todos os produtos"},
	{interactor.ReorderModalReplace, []string{`.modal button`}, "Encomendar de novo"},
}

func (a *Adapter) IsReorderModalVisible(ctx context.Context) (interactor.ReorderModalState, error) {
	for _, probe := range reorderModalProbes {
		result, found, err := a.FindElement(ctx, probe.selectors, interactor.FindOptions{Timeout: 200 * time.Millisecond, Visible: true})
		if err != nil {
			continue
		}
		if !found {
			continue
		}
		if probe.textMatch != "" {
			text := a.GetTextContent(ctx, result.Ref)
			if !strings.Contains(text, probe.textMatch) {
				continue
			}
		}
		return interactor.ReorderModalState{Kind: probe.kind, Found: true}, nil
	}
	return interactor.ReorderModalState{Kind: interactor.ReorderModalNone, Found: false}, nil
}

func (a *Adapter) AttachPopupObserver(ctx context.Context, patterns []interactor.PopupPattern) error {
	a.mu.Lock()
	if a.observerRunning {
		a.mu.Unlock()
		return nil
	}
	observerCtx, cancel := context.WithCancel(ctx)
	a.observerCancel = cancel
	a.observerRunning = true
	a.observerCount = 0
	a.mu.Unlock()

	go a.observeLoop(observerCtx, patterns)
	return nil
}

func (a *Adapter) observeLoop(ctx context.Context, patterns []interactor.PopupPattern) {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.DismissPopups(ctx, patterns)
			if err != nil || n == 0 {
				continue
			}
			a.mu.Lock()
			a.observerCount += n
			a.mu.Unlock()
		}
	}
}

func (a *Adapter) DetachPopupObserver(ctx context.Context) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.observerRunning {
		return a.observerCount
	}
	if a.observerCancel != nil {
		a.observerCancel()
	}
	a.observerRunning = false
	return a.observerCount
}

func (a *Adapter) GetCurrentURL(ctx context.Context) (string, error) {
	resp, err := a.send(ctx, protocol.ActionPageNavigate, navigatePayload{})
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", errorFromResponse(resp)
	}
	result, ok := resp.Data.(navigateResult)
	if !ok {
		return "", nil
	}
	return result.URL, nil
}

func (a *Adapter) NavigateTo(ctx context.Context, url string, opts interactor.NavigateOptions) error {
	resp, err := a.send(ctx, protocol.ActionPageNavigate, navigatePayload{URL: url})
	if err != nil {
		return err
	}
	if !resp.Success {
		return errorFromResponse(resp)
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

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()
	for {
		url, err := a.GetCurrentURL(waitCtx)
		if err == nil && (opts.URLPattern == "" || strings.Contains(url, opts.URLPattern)) {
			return nil
		}
		select {
		case <-waitCtx.Done():
			return errs.New(errs.CategoryDOM, errs.TypeTimeout, errs.WithMessage("waitForNavigation timed out"))
		case <-ticker.C:
		}
	}
}

// Screenshot has no pixel data to capture without a real browser; it
// returns whatever stub identifier the page agent reports, per the Port's
// documented fallback for adapters that cannot capture pixels.
func (a *Adapter) Screenshot(ctx context.Context, name string) (string, error) {
	resp, err := a.send(ctx, protocol.ActionPageScreenshot, map[string]string{"name": name})
	if err != nil {
		return "", err
	}
	if m, ok := resp.Data.(map[string]string); ok {
		return m["path"], nil
	}
	return "", nil
}
