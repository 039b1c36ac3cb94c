// Package registry loads and resolves the selector chains described in
// spec §4.1: a per-page, per-chain mapping from a stable identifier to an
// ordered list of CSS selector candidates, tried in declared order against
// a live page.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/shopping-copilot/core/internal/schema"
)

// ErrChainNotFound is returned by Resolve when the requested (pageId, chainId)
// pair has no registered selector chain.
var ErrChainNotFound = errors.New("registry: selector chain not found")

// ChainNotFoundError reports a missing (pageId, chainId) pair, carrying both
// identifiers for diagnostics.
type ChainNotFoundError struct {
	PageID  string
	ChainID string
}

func (e *ChainNotFoundError) Error() string {
	return fmt.Sprintf("registry: no selector chain %q registered for page %q", e.ChainID, e.PageID)
}

func (e *ChainNotFoundError) Unwrap() error { return ErrChainNotFound }

// Registry holds the loaded page/chain catalog, keyed by page id. It is
// read-mostly after Load: runtime callers only ever read the active version
// of each page's chains.
type Registry struct {
	mu    sync.RWMutex
	pages map[string]schema.PageRegistryEntry
}

// New returns an empty Registry, populated with Put. Load and LoadFile
// build an already-populated Registry instead.
func New() *Registry {
	return &Registry{pages: make(map[string]schema.PageRegistryEntry)}
}

// LoadFile reads a JSON registry manifest from path and returns a new
// Registry holding it. The manifest is a map of pageId ->
// schema.PageRegistryEntry.
func LoadFile(path string) (*Registry, error) {
	clean := filepath.Clean(path)
	// #nosec G304 -- path is an operator-supplied configuration file
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("registry: read %q: %w", clean, err)
	}
	return Load(data)
}

// Load parses a JSON registry manifest into a new Registry.
func Load(data []byte) (*Registry, error) {
	var pages map[string]schema.PageRegistryEntry
	if err := json.Unmarshal(data, &pages); err != nil {
		return nil, fmt.Errorf("registry: decode manifest: %w", err)
	}
	for pageID, entry := range pages {
		if strings.TrimSpace(entry.PageID) == "" {
			entry.PageID = pageID
			pages[pageID] = entry
		}
	}
	return &Registry{pages: pages}, nil
}

// HasPage reports whether pageId is registered.
func (r *Registry) HasPage(pageID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pages[pageID]
	return ok
}

// Resolve returns the active selector chain for (pageId, chainId), or a
// *ChainNotFoundError if either the page or the chain within it is absent.
func (r *Registry) Resolve(pageID, chainID string) (schema.SelectorChain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	page, ok := r.pages[pageID]
	if !ok {
		return schema.SelectorChain{}, &ChainNotFoundError{PageID: pageID, ChainID: chainID}
	}
	chains := page.ActiveChains()
	chain, ok := chains[chainID]
	if !ok {
		return schema.SelectorChain{}, &ChainNotFoundError{PageID: pageID, ChainID: chainID}
	}
	return chain, nil
}

// Page returns the full registered entry for a page, for diagnostics and
// selector-health reporting.
func (r *Registry) Page(pageID string) (schema.PageRegistryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	page, ok := r.pages[pageID]
	return page, ok
}

// Put registers or replaces a page entry. Used by tests and by the
// selector-health maintenance tooling, not by the runtime resolve path.
func (r *Registry) Put(entry schema.PageRegistryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pages == nil {
		r.pages = make(map[string]schema.PageRegistryEntry)
	}
	r.pages[entry.PageID] = entry
}
