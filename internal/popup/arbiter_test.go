package popup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEl struct {
	id      string
	text    string
	class   string
	target  string
	visible bool
}

type fakePrimitives struct {
	bySelector map[string][]Element
	clicked    []string
}

func (f *fakePrimitives) FindAll(ctx context.Context, cssSelector string) ([]Element, error) {
	return f.bySelector[cssSelector], nil
}

func (f *fakePrimitives) IsVisible(ctx context.Context, el Element) bool {
	return el.(fakeEl).visible
}

func (f *fakePrimitives) TextContent(ctx context.Context, el Element) string {
	return el.(fakeEl).text
}

func (f *fakePrimitives) Attribute(ctx context.Context, el Element, name string) (string, bool) {
	e := el.(fakeEl)
	switch name {
	case "class":
		return e.class, e.class != ""
	case "data-target":
		return e.target, e.target != ""
	default:
		return "", false
	}
}

func (f *fakePrimitives) Click(ctx context.Context, el Element) error {
	f.clicked = append(f.clicked, el.(fakeEl).id)
	return nil
}

func TestSweepDismissesCookieBanner(t *testing.T) {
	prim := &fakePrimitives{bySelector: map[string][]Element{
		`[data-testid="cookie-consent-accept"]`: {fakeEl{id: "cookie", visible: true}},
		"#onetrust-accept-btn-handler":          {},
	}}
	a := New(prim, DefaultPatterns(), time.Second)
	n, err := a.Sweep(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, prim.clicked, "cookie")
}

func TestSweepSafetyGateRejectsForbiddenText(t *testing.T) {
	prim := &fakePrimitives{bySelector: map[string][]Element{
		`[aria-label="Close"]`: {fakeEl{id: "danger", text: "Remover todos os produtos", visible: true}},
	}}
	a := New(prim, DefaultPatterns(), time.Second)
	n, err := a.Sweep(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, prim.clicked)
}

func TestSweepSafetyGateRejectsForbiddenClass(t *testing.T) {
	prim := &fakePrimitives{bySelector: map[string][]Element{
		`[aria-label="Close"]`: {fakeEl{id: "bad-class", class: "auc-cart__remove-all", visible: true}},
	}}
	patterns := []Pattern{{Name: "modal-close-x", Selector: `[aria-label="Close"]`, Priority: 10}}
	a := New(prim, patterns, time.Second)
	n, err := a.Sweep(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSweepSkipsReorderSensitivePatternsWhenModalVisible(t *testing.T) {
	prim := &fakePrimitives{bySelector: map[string][]Element{
		`[data-testid="cart-removal-cancel"]`:         {fakeEl{id: "cancel", text: "Cancelar", visible: true}},
		"button.modal-cancel":                         {},
		`[data-testid="cookie-consent-accept"]`:       {fakeEl{id: "cookie", visible: true}},
		"#onetrust-accept-btn-handler":                {},
	}}
	a := New(prim, DefaultPatterns(), time.Second)
	n, err := a.Sweep(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the unconditional cookie pattern should fire")
	assert.Equal(t, []string{"cookie"}, prim.clicked)
}

func TestEnsureNoBlockingPopupsStopsOnceClean(t *testing.T) {
	prim := &fakePrimitives{bySelector: map[string][]Element{}}
	a := New(prim, DefaultPatterns(), time.Millisecond)
	n, err := a.EnsureNoBlockingPopups(context.Background(), func(context.Context) bool { return false })
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAttachDetachObserverIsIdempotentAndCountsDismissals(t *testing.T) {
	prim := &fakePrimitives{bySelector: map[string][]Element{
		`[data-testid="cookie-consent-accept"]`: {fakeEl{id: "cookie", visible: true}},
	}}
	a := New(prim, DefaultPatterns(), 10*time.Millisecond)
	a.AttachObserver(context.Background(), func(context.Context) bool { return false }, nil)
	a.AttachObserver(context.Background(), func(context.Context) bool { return false }, nil) // idempotent

	time.Sleep(60 * time.Millisecond)
	count := a.DetachObserver()
	assert.GreaterOrEqual(t, count, 1)
}
