package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopping-copilot/core/internal/schema"
)

type fakeElement struct {
	css     string
	text    string
	visible bool
}

type fakeFinder struct {
	bySelector map[string]fakeElement
}

func (f *fakeFinder) FindElement(ctx context.Context, cssSelector string) (ElementRef, bool, error) {
	el, ok := f.bySelector[cssSelector]
	if !ok {
		return nil, false, nil
	}
	return el, true, nil
}

func (f *fakeFinder) GetTextContent(ctx context.Context, ref ElementRef) (string, error) {
	return ref.(fakeElement).text, nil
}

func (f *fakeFinder) IsVisible(ctx context.Context, ref ElementRef) (bool, error) {
	return ref.(fakeElement).visible, nil
}

func TestTryResolveReturnsFirstMatchInDeclaredOrder(t *testing.T) {
	r := New()
	r.Put(sampleEntry())

	finder := &fakeFinder{bySelector: map[string]fakeElement{
		"button.add-to-cart": {css: "button.add-to-cart", visible: true},
	}}

	res, err := TryResolve(context.Background(), finder, r, "cart", "addToCartButton", ResolveOptions{Timeout: time.Second})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.SelectorIndex, "primary selector was absent; first fallback should match")
	assert.Equal(t, "button.add-to-cart", res.MatchedSelector)
}

func TestTryResolveAppliesTextMatchPostFilter(t *testing.T) {
	r := New()
	r.Put(sampleEntry())

	finder := &fakeFinder{bySelector: map[string]fakeElement{
		"button": {css: "button", text: "Buy now", visible: true},
	}}

	res, err := TryResolve(context.Background(), finder, r, "cart", "addToCartButton", ResolveOptions{Timeout: time.Second})
	require.NoError(t, err)
	assert.Nil(t, res, "text predicate does not match, so no candidate should resolve")
}

func TestTryResolveReturnsNilNotErrorWhenNothingMatches(t *testing.T) {
	r := New()
	r.Put(sampleEntry())
	finder := &fakeFinder{bySelector: map[string]fakeElement{}}

	res, err := TryResolve(context.Background(), finder, r, "cart", "addToCartButton", ResolveOptions{Timeout: 10 * time.Millisecond})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestTryResolveMissingChainPropagatesError(t *testing.T) {
	r := New()
	finder := &fakeFinder{bySelector: map[string]fakeElement{}}
	_, err := TryResolve(context.Background(), finder, r, "cart", "missing", ResolveOptions{})
	require.Error(t, err)
}

func TestTryResolveVisibleOptionFiltersInvisibleMatches(t *testing.T) {
	r := New()
	r.Put(sampleEntry())
	finder := &fakeFinder{bySelector: map[string]fakeElement{
		`[data-testid="add-to-cart"]`: {css: `[data-testid="add-to-cart"]`, visible: false},
		"button.add-to-cart":          {css: "button.add-to-cart", visible: true},
	}}

	res, err := TryResolve(context.Background(), finder, r, "cart", "addToCartButton", ResolveOptions{Timeout: time.Second, Visible: true})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.SelectorIndex)
}
