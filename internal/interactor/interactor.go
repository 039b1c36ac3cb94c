// Package interactor defines the Page Interactor port (spec §4.2): a
// minimal, adapter-agnostic surface over the retailer page. Two concrete
// adapters implement it — chromedpadapter (a persistent browser context)
// and scriptadapter (a content-script running inside the page) — and the
// rest of the orchestration core depends only on this interface.
package interactor

import (
	"context"
	"time"
)

// ElementRef is an opaque handle to a matched DOM element. Its concrete type
// is owned by whichever adapter produced it; callers must treat it as
// opaque and never type-assert across adapter boundaries.
type ElementRef any

// FindOptions configures findElement/findAllElements.
type FindOptions struct {
	Timeout time.Duration
	Visible bool
}

// ClickOptions configures click.
type ClickOptions struct {
	Timeout time.Duration
}

// FindResult is the outcome of a successful findElement call.
type FindResult struct {
	Ref             ElementRef
	SelectorIndex   int
	MatchedSelector string
}

// CartState is a point-in-time read of the cart badge/total, per spec §4.2.
// Either field is nil when its probe found no visible match or the total
// could not be parsed.
type CartState struct {
	ItemCount  *int
	TotalCents *int64
	CapturedAt time.Time
}

// ReorderModalKind is the closed set of reorder-confirmation modal variants
// an isReorderModalVisible probe can report.
type ReorderModalKind string

const (
	ReorderModalNone    ReorderModalKind = "none"
	ReorderModalMerge   ReorderModalKind = "merge"
	ReorderModalReplace ReorderModalKind = "replace"
	ReorderModalRemoval ReorderModalKind = "removal"
)

// ReorderModalState is the result of an isReorderModalVisible probe.
type ReorderModalState struct {
	Kind  ReorderModalKind
	Found bool
}

// PopupPattern is one nuisance-overlay dismissal pattern passed to
// dismissPopups/attachPopupObserver.
type PopupPattern struct {
	Name               string
	Selector           string
	TextMatch          string
	ExactMatch         bool
	Priority           int
	SkipIfReorderModal bool
}

// NavigateOptions configures navigateTo.
type NavigateOptions struct {
	Timeout time.Duration
}

// WaitForNavigationOptions configures waitForNavigation.
type WaitForNavigationOptions struct {
	Timeout    time.Duration
	URLPattern string
}

// Port is the adapter-agnostic contract every Page Interactor adapter must
// satisfy, per spec §4.2's public-contract table.
type Port interface {
	// FindElement tries each candidate CSS selector in the chain's declared
	// order and returns the first visible (if opts.Visible) match. Returns
	// (nil, false, nil) on timeout — never an error for a plain miss.
	FindElement(ctx context.Context, cssCandidates []string, opts FindOptions) (*FindResult, bool, error)

	// FindAllElements returns every element matching selector, with no
	// text post-filtering.
	FindAllElements(ctx context.Context, selector string, opts FindOptions) ([]ElementRef, error)

	// Click waits for the element to be visible and non-disabled, then
	// dispatches the adapter-appropriate click. Propagates the underlying
	// error on timeout rather than swallowing it.
	Click(ctx context.Context, ref ElementRef, opts ClickOptions) error

	// IsVisible, GetTextContent and GetAttribute are pure getters that never
	// error on a stale ref: they return the zero value instead.
	IsVisible(ctx context.Context, ref ElementRef) bool
	GetTextContent(ctx context.Context, ref ElementRef) string
	GetAttribute(ctx context.Context, ref ElementRef, name string) (string, bool)

	// GetCartState probes the page's cart badge/total and parses the total
	// into minor units.
	GetCartState(ctx context.Context) (CartState, error)

	// DismissPopups performs a one-shot sweep and returns the number of
	// overlays dismissed.
	DismissPopups(ctx context.Context, patterns []PopupPattern) (int, error)

	// IsReorderModalVisible probes for a visible reorder-confirmation modal.
	IsReorderModalVisible(ctx context.Context) (ReorderModalState, error)

	// AttachPopupObserver begins a continuous dismissal loop. Idempotent:
	// calling it while already attached is a no-op.
	AttachPopupObserver(ctx context.Context, patterns []PopupPattern) error

	// DetachPopupObserver stops the loop and returns the cumulative
	// dismissal count observed since AttachPopupObserver.
	DetachPopupObserver(ctx context.Context) int

	GetCurrentURL(ctx context.Context) (string, error)
	NavigateTo(ctx context.Context, url string, opts NavigateOptions) error
	WaitForTimeout(ctx context.Context, d time.Duration)
	WaitForNavigation(ctx context.Context, opts WaitForNavigationOptions) error

	// Screenshot returns an identifier/path; adapters that cannot capture
	// pixels (e.g. scriptadapter) may return a stub identifier.
	Screenshot(ctx context.Context, name string) (string, error)
}
