package registry

import (
	"context"
	"strings"
	"time"

	"github.com/shopping-copilot/core/internal/schema"
)

// ElementRef is an opaque handle to a matched DOM element, returned by an
// ElementFinder and round-tripped back to the caller. Its concrete type is
// owned by whichever Interactor adapter produced it.
type ElementRef any

// ElementFinder is the narrow slice of the Page Interactor port (spec §4.2)
// that selector resolution depends on. Defining it here (rather than
// importing the interactor package) keeps registry free of a dependency on
// any particular adapter.
type ElementFinder interface {
	FindElement(ctx context.Context, cssSelector string) (ElementRef, bool, error)
	GetTextContent(ctx context.Context, ref ElementRef) (string, error)
	IsVisible(ctx context.Context, ref ElementRef) (bool, error)
}

// ResolveOptions configures a single tryResolve attempt.
type ResolveOptions struct {
	Timeout time.Duration
	Visible bool // require the matched element to be visible
}

// Resolution is the result of a successful tryResolve call.
type Resolution struct {
	ElementRef      ElementRef
	SelectorIndex   int
	MatchedSelector string
}

// TryResolve tries each selector in the chain's declared order (primary,
// then fallbacks) against finder, applying the chain element's text-match
// predicate as a post-filter when present. It returns (nil, nil) rather
// than an error on timeout or exhaustion, per spec §4.1's failure semantics
// ("resolution timeout -> returns null, never throws").
func TryResolve(ctx context.Context, finder ElementFinder, registryHandle *Registry, pageID, chainID string, opts ResolveOptions) (*Resolution, error) {
	chain, err := registryHandle.Resolve(pageID, chainID)
	if err != nil {
		return nil, err
	}

	deadline := opts.Timeout
	if deadline <= 0 {
		deadline = 5 * time.Second
	}
	attemptCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	entries := chain.Entries()
	for index, entry := range entries {
		select {
		case <-attemptCtx.Done():
			return nil, nil
		default:
		}

		resolution, found := tryEntry(attemptCtx, finder, entry, index, opts)
		if found {
			return resolution, nil
		}
	}
	return nil, nil
}

func tryEntry(ctx context.Context, finder ElementFinder, entry schema.SelectorEntry, index int, opts ResolveOptions) (*Resolution, bool) {
	for _, css := range splitSelectorList(entry.CSS) {
		ref, ok, err := finder.FindElement(ctx, css)
		if err != nil || !ok {
			continue
		}
		if !matchesText(ctx, finder, ref, entry) {
			continue
		}
		if opts.Visible {
			visible, err := finder.IsVisible(ctx, ref)
			if err != nil || !visible {
				continue
			}
		}
		return &Resolution{ElementRef: ref, SelectorIndex: index, MatchedSelector: css}, true
	}
	return nil, false
}

// matchesText applies the chain element's text-match predicate as a
// post-filter, per spec §4.1: a `:has-text("X")`-style predicate MUST be
// split into a base CSS selector plus a textContent comparison (substring
// for "contains", exact for "equals").
func matchesText(ctx context.Context, finder ElementFinder, ref ElementRef, entry schema.SelectorEntry) bool {
	switch entry.TextMatch {
	case schema.TextMatchNone, "":
		return true
	case schema.TextMatchContains, schema.TextMatchEquals:
		content, err := finder.GetTextContent(ctx, ref)
		if err != nil {
			return false
		}
		content = strings.TrimSpace(content)
		want := strings.TrimSpace(entry.Text)
		if entry.TextMatch == schema.TextMatchEquals {
			return content == want
		}
		return strings.Contains(content, want)
	default:
		return true
	}
}

// splitSelectorList splits a comma-separated selector chain entry into its
// individual CSS candidates, trimming whitespace and dropping empties.
func splitSelectorList(css string) []string {
	raw := strings.Split(css, ",")
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		trimmed := strings.TrimSpace(s)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
