package scriptadapter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"

	"github.com/shopping-copilot/core/internal/errs"
	"github.com/shopping-copilot/core/internal/moneyparse"
	"github.com/shopping-copilot/core/internal/popup"
	"github.com/shopping-copilot/core/internal/protocol"
)

// offlineTransport simulates a page-side agent entirely in-process, hosting
// a goquery-parsed DOM fixture and a goja runtime that evaluates the same
// text predicates a real content script would run against its live DOM.
// Used for local/offline simulation and tests where no real browser or
// injected script is available.
type offlineTransport struct {
	mu      sync.Mutex
	doc     *goquery.Document
	url     string
	vm      *goja.Runtime
	handles map[string]*goquery.Selection
	nextID  int
}

// NewOfflineTransport parses html as the initial page fixture at url.
func NewOfflineTransport(url, html string) (Transport, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errs.New(errs.CategoryDOM, errs.TypeExtractionFailed, errs.WithCause(err))
	}
	return &offlineTransport{
		doc:     doc,
		url:     url,
		vm:      goja.New(),
		handles: make(map[string]*goquery.Selection),
	}, nil
}

func (t *offlineTransport) Close() error { return nil }

// evalTextMatch runs the :has-text() predicate through goja rather than a
// plain Go strings.Contains/== comparison, mirroring how the real content
// script evaluates the same predicate against a serialized DOM snapshot.
func (t *offlineTransport) evalTextMatch(text, want string, exact bool) bool {
	t.vm.Set("__text", text)
	t.vm.Set("__want", want)
	script := `__text.indexOf(__want) !== -1`
	if exact {
		script = `__text === __want`
	}
	value, err := t.vm.RunString(script)
	if err != nil {
		return false
	}
	return value.ToBoolean()
}

func (t *offlineTransport) storeHandle(sel *goquery.Selection) string {
	t.nextID++
	id := "el-" + strconv.Itoa(t.nextID)
	t.handles[id] = sel
	return id
}

func isVisibleSelection(sel *goquery.Selection) bool {
	if _, hidden := sel.Attr("hidden"); hidden {
		return false
	}
	style, _ := sel.Attr("style")
	style = strings.ToLower(strings.ReplaceAll(style, " ", ""))
	if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
		return false
	}
	class, _ := sel.Attr("class")
	if strings.Contains(class, "hidden") || strings.Contains(class, "d-none") {
		return false
	}
	return true
}

func describeSelection(sel *goquery.Selection, selectorIndex int, matchedSelector string) elementDescriptor {
	attrs := make(map[string]string)
	if node := sel.Get(0); node != nil {
		for _, a := range node.Attr {
			attrs[a.Key] = a.Val
		}
	}
	return elementDescriptor{
		SelectorIndex:   selectorIndex,
		MatchedSelector: matchedSelector,
		Text:            strings.TrimSpace(sel.Text()),
		Visible:         isVisibleSelection(sel),
		Attributes:      attrs,
	}
}

func (t *offlineTransport) Send(ctx context.Context, msg protocol.Message) (protocol.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch msg.Action {
	case protocol.ActionPageFindElement:
		return t.handleFindElement(msg)
	case protocol.ActionPageClick:
		return t.handleClick(msg)
	case protocol.ActionPageNavigate:
		return t.handleNavigate(msg)
	case protocol.ActionCartGet:
		return t.handleCartGet(msg)
	case protocol.ActionPagePopupSweep:
		return t.handlePopupSweep(msg)
	case protocol.ActionPageScreenshot:
		return protocol.NewSuccess(msg.ID, map[string]string{"path": "offline-simulation-no-screenshot"}, nil), nil
	case protocol.ActionSystemPing:
		return protocol.NewSuccess(msg.ID, "pong", nil), nil
	default:
		return protocol.NewError(msg.ID, protocol.ErrInvalidRequest, fmt.Sprintf("unsupported action %q in offline simulation", msg.Action), nil), nil
	}
}

func (t *offlineTransport) handleFindElement(msg protocol.Message) (protocol.Response, error) {
	payload, ok := msg.Payload.(findElementPayload)
	if !ok {
		return protocol.NewError(msg.ID, protocol.ErrInvalidRequest, "malformed findElement payload", nil), nil
	}

	if payload.ElementID != "" {
		sel, ok := t.handles[payload.ElementID]
		if !ok {
			return protocol.NewError(msg.ID, protocol.ErrElementNotFound, "stale elementId", nil), nil
		}
		d := describeSelection(sel, 0, "")
		d.ElementID = payload.ElementID
		return protocol.NewSuccess(msg.ID, findElementResult{Elements: []elementDescriptor{d}}, nil), nil
	}

	var matches []elementDescriptor
	for index, css := range payload.Selectors {
		t.doc.Find(css).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			if payload.Visible && !isVisibleSelection(sel) {
				return true
			}
			if payload.TextMatch != "" && !t.evalTextMatch(strings.TrimSpace(sel.Text()), strings.TrimSpace(payload.TextMatch), payload.ExactMatch) {
				return true
			}
			d := describeSelection(sel, index, css)
			d.ElementID = t.storeHandle(sel)
			matches = append(matches, d)
			return payload.All
		})
		if len(matches) > 0 && !payload.All {
			break
		}
	}
	return protocol.NewSuccess(msg.ID, findElementResult{Elements: matches}, nil), nil
}

func (t *offlineTransport) handleClick(msg protocol.Message) (protocol.Response, error) {
	payload, ok := msg.Payload.(clickPayload)
	if !ok {
		return protocol.NewError(msg.ID, protocol.ErrInvalidRequest, "malformed click payload", nil), nil
	}
	sel, ok := t.handles[payload.ElementID]
	if !ok {
		return protocol.NewError(msg.ID, protocol.ErrElementNotFound, "stale elementId", nil), nil
	}
	dismissTarget := sel.Closest(`[data-dismiss-target], .modal, .overlay, .banner`)
	if dismissTarget.Length() > 0 {
		dismissTarget.Remove()
	} else {
		sel.SetAttr("data-clicked", "true")
	}
	return protocol.NewSuccess(msg.ID, nil, nil), nil
}

func (t *offlineTransport) handleNavigate(msg protocol.Message) (protocol.Response, error) {
	payload, ok := msg.Payload.(navigatePayload)
	if !ok {
		return protocol.NewError(msg.ID, protocol.ErrInvalidRequest, "malformed navigate payload", nil), nil
	}
	if payload.URL == "" && payload.HTML == "" {
		return protocol.NewSuccess(msg.ID, navigateResult{URL: t.url, ReadyState: "complete"}, nil), nil
	}
	if payload.HTML != "" {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(payload.HTML))
		if err != nil {
			return protocol.NewError(msg.ID, protocol.ErrNetworkError, err.Error(), nil), nil
		}
		t.doc = doc
		t.handles = make(map[string]*goquery.Selection)
	}
	if payload.URL != "" {
		t.url = payload.URL
	}
	return protocol.NewSuccess(msg.ID, navigateResult{URL: t.url, ReadyState: "complete"}, nil), nil
}

func (t *offlineTransport) handleCartGet(msg protocol.Message) (protocol.Response, error) {
	state := cartStateResult{}
	for _, sel := range cartCountSelectors {
		if n, ok := t.firstVisibleInt(sel); ok {
			state.ItemCount = &n
			break
		}
	}
	for _, sel := range cartTotalSelectors {
		if text, ok := t.firstVisibleText(sel); ok {
			if cents, ok := moneyparse.Parse(text); ok {
				state.TotalCents = &cents
			}
			break
		}
	}
	return protocol.NewSuccess(msg.ID, state, nil), nil
}

func (t *offlineTransport) firstVisibleText(selector string) (string, bool) {
	found := false
	text := ""
	t.doc.Find(selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if !isVisibleSelection(sel) {
			return true
		}
		text = strings.TrimSpace(sel.Text())
		found = true
		return false
	})
	return text, found
}

func (t *offlineTransport) firstVisibleInt(selector string) (int, bool) {
	text, ok := t.firstVisibleText(selector)
	if !ok {
		return 0, false
	}
	digits := strings.Builder{}
	for _, r := range text {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0, false
	}
	return n, true
}

// goqueryPrimitives adapts the offline DOM to popup.Primitives so the
// offline transport can apply the exact same sweep policy a real content
// script would, using the same shared pattern set.
type goqueryPrimitives struct{ t *offlineTransport }

func (g goqueryPrimitives) FindAll(ctx context.Context, cssSelector string) ([]popup.Element, error) {
	var out []popup.Element
	g.t.doc.Find(cssSelector).Each(func(_ int, sel *goquery.Selection) {
		out = append(out, sel)
	})
	return out, nil
}

func (g goqueryPrimitives) IsVisible(ctx context.Context, el popup.Element) bool {
	sel, ok := el.(*goquery.Selection)
	return ok && isVisibleSelection(sel)
}

func (g goqueryPrimitives) TextContent(ctx context.Context, el popup.Element) string {
	sel, ok := el.(*goquery.Selection)
	if !ok {
		return ""
	}
	return strings.TrimSpace(sel.Text())
}

func (g goqueryPrimitives) Attribute(ctx context.Context, el popup.Element, name string) (string, bool) {
	sel, ok := el.(*goquery.Selection)
	if !ok {
		return "", false
	}
	return sel.Attr(name)
}

func (g goqueryPrimitives) Click(ctx context.Context, el popup.Element) error {
	sel, ok := el.(*goquery.Selection)
	if !ok {
		return errs.New(errs.CategoryDOM, errs.TypeElementNotFound)
	}
	dismissTarget := sel.Closest(`[data-dismiss-target], .modal, .overlay, .banner`)
	if dismissTarget.Length() > 0 {
		dismissTarget.Remove()
	} else {
		sel.SetAttr("data-clicked", "true")
	}
	return nil
}

func (t *offlineTransport) handlePopupSweep(msg protocol.Message) (protocol.Response, error) {
	payload, ok := msg.Payload.(popupSweepPayload)
	if !ok {
		return protocol.NewError(msg.ID, protocol.ErrInvalidRequest, "malformed popupSweep payload", nil), nil
	}
	patterns := make([]popup.Pattern, 0, len(payload.Patterns))
	for _, p := range payload.Patterns {
		patterns = append(patterns, popup.Pattern{
			Name: p.Name, Selector: p.Selector, TextMatch: p.TextMatch,
			ExactMatch: p.ExactMatch, Priority: p.Priority, SkipIfReorderModal: p.SkipIfReorderModal,
		})
	}
	arbiter := popup.New(goqueryPrimitives{t: t}, patterns, 0)
	n, err := arbiter.Sweep(context.Background(), payload.SkipReorderSensitive)
	if err != nil {
		return protocol.NewError(msg.ID, protocol.ErrUnknown, err.Error(), nil), nil
	}
	return protocol.NewSuccess(msg.ID, popupSweepResult{Dismissed: n}, nil), nil
}
