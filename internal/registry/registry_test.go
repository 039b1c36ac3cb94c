package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopping-copilot/core/internal/schema"
)

func sampleEntry() schema.PageRegistryEntry {
	return schema.PageRegistryEntry{
		PageID:        "cart",
		URLPattern:    "/cart",
		ActiveVersion: 1,
		Versions: []schema.PageVersion{
			{
				Version: 1,
				Chains: map[string]schema.SelectorChain{
					"addToCartButton": {
						ID:      "addToCartButton",
						Primary: schema.SelectorEntry{CSS: `[data-testid="add-to-cart"]`},
						Fallbacks: []schema.SelectorEntry{
							{CSS: "button.add-to-cart"},
							{CSS: "button", TextMatch: schema.TextMatchContains, Text: "Add to cart"},
						},
					},
				},
			},
		},
	}
}

func TestHasPageAndResolve(t *testing.T) {
	r := New()
	r.Put(sampleEntry())

	assert.True(t, r.HasPage("cart"))
	assert.False(t, r.HasPage("checkout"))

	chain, err := r.Resolve("cart", "addToCartButton")
	require.NoError(t, err)
	assert.Equal(t, `[data-testid="add-to-cart"]`, chain.Primary.CSS)
	assert.Len(t, chain.Fallbacks, 2)
}

func TestResolveMissingChainReturnsChainNotFoundError(t *testing.T) {
	r := New()
	r.Put(sampleEntry())

	_, err := r.Resolve("cart", "doesNotExist")
	require.Error(t, err)
	var notFound *ChainNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestResolveMissingPageReturnsChainNotFoundError(t *testing.T) {
	r := New()
	_, err := r.Resolve("unknown-page", "anyChain")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChainNotFound)
}

func TestLoadParsesJSONManifest(t *testing.T) {
	data := []byte(`{
		"cart": {
			"PageID": "cart",
			"URLPattern": "/cart",
			"ActiveVersion": 1,
			"Versions": [
				{
					"Version": 1,
					"Chains": {
						"addToCartButton": {
							"ID": "addToCartButton",
							"Primary": {"CSS": "[data-testid=\"add-to-cart\"]"},
							"Fallbacks": []
						}
					}
				}
			]
		}
	}`)
	r, err := Load(data)
	require.NoError(t, err)
	assert.True(t, r.HasPage("cart"))
}
