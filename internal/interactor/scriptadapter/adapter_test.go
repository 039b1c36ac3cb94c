package scriptadapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopping-copilot/core/internal/interactor"
	"github.com/shopping-copilot/core/internal/popup"
)

const fixtureHTML = `
<html><body>
  <div data-testid="cart-item-count">3 items</div>
  <div data-testid="cart-total">162,51 &euro;</div>
  <div data-testid="cookie-consent-accept-wrapper" class="banner">
    <button data-testid="cookie-consent-accept">Aceitar</button>
  </div>
  <button data-testid="add-to-cart">Adicionar ao carrinho</button>
</body></html>`

func newTestAdapter(t *testing.T, html string) *Adapter {
	t.Helper()
	transport, err := NewOfflineTransport("https://example.test/cart", html)
	require.NoError(t, err)
	return New(transport, time.Millisecond)
}

func TestFindElementReturnsFirstMatchInDeclaredOrder(t *testing.T) {
	a := newTestAdapter(t, fixtureHTML)
	result, found, err := a.FindElement(context.Background(), []string{
		`[data-testid="does-not-exist"]`,
		`[data-testid="add-to-cart"]`,
	}, interactor.FindOptions{Timeout: 200 * time.Millisecond})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, result.SelectorIndex)
	assert.Equal(t, "Adicionar ao carrinho", a.GetTextContent(context.Background(), result.Ref))
}

func TestFindElementTimesOutWithoutErrorWhenNothingMatches(t *testing.T) {
	a := newTestAdapter(t, fixtureHTML)
	result, found, err := a.FindElement(context.Background(), []string{`[data-testid="missing"]`}, interactor.FindOptions{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, result)
}

func TestGetCartStateParsesCountAndLocaleTotal(t *testing.T) {
	a := newTestAdapter(t, fixtureHTML)
	state, err := a.GetCartState(context.Background())
	require.NoError(t, err)
	require.NotNil(t, state.ItemCount)
	assert.Equal(t, 3, *state.ItemCount)
	require.NotNil(t, state.TotalCents)
	assert.Equal(t, int64(16251), *state.TotalCents)
}

func TestDismissPopupsClicksCookieBanner(t *testing.T) {
	a := newTestAdapter(t, fixtureHTML)
	n, err := a.DismissPopups(context.Background(), []interactor.PopupPattern{
		{Name: "cookie-consent-accept", Selector: `[data-testid="cookie-consent-accept"]`, Priority: 80},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, found, err := a.FindElement(context.Background(), []string{`[data-testid="cookie-consent-accept"]`}, interactor.FindOptions{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.False(t, found, "the banner's dismiss-target ancestor should have been removed")
}

func TestDefaultPatternsSafetyGateSurvivesOverTheWire(t *testing.T) {
	html := `<html><body>
	  <button data-testid="cart-removal-cancel" class="modal">Remover todos os produtos</button>
	</body></html>`
	a := newTestAdapter(t, html)
	patterns := make([]interactor.PopupPattern, 0, len(popup.DefaultPatterns()))
	for _, p := range popup.DefaultPatterns() {
		patterns = append(patterns, interactor.PopupPattern{
			Name: p.Name, Selector: p.Selector, TextMatch: p.TextMatch,
			ExactMatch: p.ExactMatch, Priority: p.Priority, SkipIfReorderModal: p.SkipIfReorderModal,
		})
	}
	n, err := a.DismissPopups(context.Background(), patterns)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "forbidden text token must reject the click even though the pattern matched")
}

func TestAttachDetachPopupObserverIsIdempotentAndCountsDismissals(t *testing.T) {
	a := newTestAdapter(t, fixtureHTML)
	patterns := []interactor.PopupPattern{
		{Name: "cookie-consent-accept", Selector: `[data-testid="cookie-consent-accept"]`, Priority: 80},
	}
	require.NoError(t, a.AttachPopupObserver(context.Background(), patterns))
	require.NoError(t, a.AttachPopupObserver(context.Background(), patterns)) // idempotent

	time.Sleep(20 * time.Millisecond)
	count := a.DetachPopupObserver(context.Background())
	assert.GreaterOrEqual(t, count, 1)
}

func TestNavigateToUpdatesCurrentURL(t *testing.T) {
	a := newTestAdapter(t, fixtureHTML)
	require.NoError(t, a.NavigateTo(context.Background(), "https://example.test/orders", interactor.NavigateOptions{}))
	url, err := a.GetCurrentURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/orders", url)
}

func TestIsReorderModalVisibleDetectsRemovalVariant(t *testing.T) {
	html := `<html><body><div data-testid="reorder-modal">Remover todos os produtos do carrinho?</div></body></html>`
	a := newTestAdapter(t, html)
	state, err := a.IsReorderModalVisible(context.Background())
	require.NoError(t, err)
	assert.True(t, state.Found)
	assert.Equal(t, interactor.ReorderModalRemoval, state.Kind)
}
