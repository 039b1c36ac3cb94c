// Package popup implements the popup arbitration policy of spec §4.3: the
// shared priority ordering, absolute safety gate, and observer/scanner
// sweep loop applied identically by both Page Interactor adapters. Adapters
// supply only the raw DOM primitives (find, text, attribute, click); this
// package owns the policy.
package popup

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"

	"github.com/shopping-copilot/core/internal/observability"
)

// Element is an opaque handle to a matched DOM element, round-tripped back
// to Primitives by the arbiter.
type Element any

// ReorderModalKind mirrors interactor.ReorderModalKind without importing
// the interactor package, keeping popup's dependency direction one-way
// (adapters depend on popup, not the reverse).
type ReorderModalKind string

const (
	ReorderModalNone    ReorderModalKind = "none"
	ReorderModalMerge   ReorderModalKind = "merge"
	ReorderModalReplace ReorderModalKind = "replace"
	ReorderModalRemoval ReorderModalKind = "removal"
)

// Primitives is the narrow set of raw DOM operations the arbiter needs from
// an adapter. Both chromedpadapter and scriptadapter implement it.
type Primitives interface {
	FindAll(ctx context.Context, cssSelector string) ([]Element, error)
	IsVisible(ctx context.Context, el Element) bool
	TextContent(ctx context.Context, el Element) string
	Attribute(ctx context.Context, el Element, name string) (string, bool)
	Click(ctx context.Context, el Element) error
}

// Arbiter applies the pattern priority order and safety gate against a set
// of Primitives, and runs the dual observer/scanner sweep loop.
type Arbiter struct {
	primitives Primitives
	patterns   []Pattern // sorted by descending priority
	scanEvery  time.Duration
	limiter    *rate.Limiter

	mu              sync.Mutex
	observerCancel  context.CancelFunc
	observerRunning bool
	observerCount   int
}

// New constructs an Arbiter. scanEvery is the fallback-scanner interval
// (~500ms per spec §4.3; non-positive values default to 500ms). The
// observer loop's scanner and mutation-triggered sweeps share a limiter of
// one sweep per scanEvery.
func New(primitives Primitives, patterns []Pattern, scanEvery time.Duration) *Arbiter {
	sorted := append([]Pattern(nil), patterns...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })
	if scanEvery <= 0 {
		scanEvery = 500 * time.Millisecond
	}
	return &Arbiter{
		primitives: primitives,
		patterns:   sorted,
		scanEvery:  scanEvery,
		limiter:    rate.NewLimiter(rate.Every(scanEvery), 1),
	}
}

// isSafeToClick is the absolute safety gate of spec §4.3: a match carrying
// any forbidden text/class/data-target token must never be clicked, even if
// a pattern matched it.
func (a *Arbiter) isSafeToClick(ctx context.Context, el Element) bool {
	text := a.primitives.TextContent(ctx, el)
	for _, token := range forbiddenTextTokens {
		if strings.Contains(text, token) {
			observability.Log().Warn("popup: rejected forbidden text token", observability.F("token", token))
			return false
		}
	}
	if class, ok := a.primitives.Attribute(ctx, el, "class"); ok {
		for _, token := range forbiddenClassTokens {
			if strings.Contains(class, token) {
				observability.Log().Warn("popup: rejected forbidden class token", observability.F("token", token))
				return false
			}
		}
	}
	if target, ok := a.primitives.Attribute(ctx, el, "data-target"); ok {
		for _, token := range forbiddenTargetTokens {
			if strings.Contains(target, token) {
				observability.Log().Warn("popup: rejected forbidden data-target token", observability.F("token", token))
				return false
			}
		}
	}
	return true
}

func (a *Arbiter) matchesText(ctx context.Context, el Element, p Pattern) bool {
	if p.TextMatch == "" {
		return true
	}
	text := strings.TrimSpace(a.primitives.TextContent(ctx, el))
	want := strings.TrimSpace(p.TextMatch)
	if p.ExactMatch {
		return text == want
	}
	return strings.Contains(text, want)
}

type candidateSet struct {
	pattern  Pattern
	elements []Element
}

// Sweep performs one priority-ordered dismissal pass and returns the number
// of elements actually dismissed (rejections by the safety gate do not
// count). skipReorderSensitive patterns are omitted when a reorder modal is
// currently visible, per spec §4.3's reorder-modal awareness.
//
// Candidate gathering (read-only FindAll probes, one per active pattern) is
// fan-out concurrent via a bounded conc/pool worker pool, since patterns are
// independent reads; clicking is then applied sequentially in priority
// order so the dismissal order guarantee still holds.
func (a *Arbiter) Sweep(ctx context.Context, skipReorderSensitive bool) (int, error) {
	active := make([]Pattern, 0, len(a.patterns))
	for _, p := range a.patterns {
		if skipReorderSensitive && p.SkipIfReorderModal {
			continue
		}
		active = append(active, p)
	}
	if len(active) == 0 {
		return 0, nil
	}

	results := make([]candidateSet, len(active))
	workers := len(active)
	if workers > 4 {
		workers = 4
	}
	p := pool.New().WithMaxGoroutines(workers)
	for i, pattern := range active {
		i, pattern := i, pattern
		p.Go(func() {
			var gathered []Element
			for _, selector := range splitSelectors(pattern.Selector) {
				found, err := a.primitives.FindAll(ctx, selector)
				if err != nil {
					continue
				}
				gathered = append(gathered, found...)
			}
			results[i] = candidateSet{pattern: pattern, elements: gathered}
		})
	}
	p.Wait()

	dismissed := 0
	for _, candidate := range results {
		for _, el := range candidate.elements {
			if !a.primitives.IsVisible(ctx, el) {
				continue
			}
			if !a.matchesText(ctx, el, candidate.pattern) {
				continue
			}
			if !a.isSafeToClick(ctx, el) {
				continue
			}
			if err := a.primitives.Click(ctx, el); err == nil {
				dismissed++
			}
		}
	}
	return dismissed, nil
}

// EnsureNoBlockingPopups is a bounded-retry dismissPopups invocation (≤3
// attempts, 500ms gap) that callers MUST invoke immediately before a
// critical click, per spec §4.3's ordering guarantee.
func (a *Arbiter) EnsureNoBlockingPopups(ctx context.Context, isReorderModalVisible func(context.Context) bool) (int, error) {
	total := 0
	for attempt := 0; attempt < 3; attempt++ {
		skip := isReorderModalVisible != nil && isReorderModalVisible(ctx)
		n, err := a.Sweep(ctx, skip)
		if err != nil {
			return total, err
		}
		total += n
		if n == 0 {
			return total, nil
		}
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return total, nil
}

// AttachObserver starts the dual debounced-mutation + periodic-scanner sweep
// loop described in spec §4.3. Idempotent: a second call while already
// attached is a no-op. isReorderModalVisible is polled before every sweep.
func (a *Arbiter) AttachObserver(ctx context.Context, isReorderModalVisible func(context.Context) bool, notifyMutation <-chan struct{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.observerRunning {
		return
	}
	observerCtx, cancel := context.WithCancel(ctx)
	a.observerCancel = cancel
	a.observerRunning = true
	a.observerCount = 0

	go a.observeLoop(observerCtx, isReorderModalVisible, notifyMutation)
}

func (a *Arbiter) observeLoop(ctx context.Context, isReorderModalVisible func(context.Context) bool, notifyMutation <-chan struct{}) {
	ticker := time.NewTicker(a.scanEvery)
	defer ticker.Stop()

	debounce := 50 * time.Millisecond
	var debounceTimer *time.Timer

	runSweep := func() {
		if a.limiter != nil && !a.limiter.Allow() {
			return
		}
		skip := isReorderModalVisible != nil && isReorderModalVisible(ctx)
		n, err := a.Sweep(ctx, skip)
		if err != nil || n == 0 {
			return
		}
		a.mu.Lock()
		a.observerCount += n
		a.mu.Unlock()
		// Cascading dismissals schedule an additional sweep within ~200ms.
		go func() {
			select {
			case <-ctx.Done():
			case <-time.After(200 * time.Millisecond):
				skip := isReorderModalVisible != nil && isReorderModalVisible(ctx)
				if extra, err := a.Sweep(ctx, skip); err == nil && extra > 0 {
					a.mu.Lock()
					a.observerCount += extra
					a.mu.Unlock()
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runSweep()
		case _, ok := <-notifyMutation:
			if !ok {
				notifyMutation = nil
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounce, runSweep)
		}
	}
}

// DetachObserver stops the sweep loop and returns the cumulative dismissal
// count observed since AttachObserver.
func (a *Arbiter) DetachObserver() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.observerRunning {
		return a.observerCount
	}
	if a.observerCancel != nil {
		a.observerCancel()
	}
	a.observerRunning = false
	observability.Log().Info("popup: observer detached", observability.F("dismissedTotal", a.observerCount))
	return a.observerCount
}

func splitSelectors(css string) []string {
	raw := strings.Split(css, ",")
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		trimmed := strings.TrimSpace(s)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
