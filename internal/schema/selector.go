package schema

import "time"

// TextMatchMode describes how a selector chain's text predicate is applied,
// implementing the `:has-text("X")` split described in spec §4.1: a base CSS
// selector plus a post-filter comparing textContent.
type TextMatchMode string

const (
	TextMatchNone     TextMatchMode = ""
	TextMatchContains TextMatchMode = "contains"
	TextMatchEquals   TextMatchMode = "equals"
)

// SelectorEntry is a single candidate pattern within a SelectorChain: a base
// CSS-like pattern plus an optional text post-filter.
type SelectorEntry struct {
	CSS       string
	TextMatch TextMatchMode
	Text      string
}

// SelectorChain is an ordered list of selector patterns tried in order,
// per spec §3 ("SelectorChain").
type SelectorChain struct {
	ID          string
	Primary     SelectorEntry
	Fallbacks   []SelectorEntry
	Description string
}

// Entries returns the chain's candidates in the order they must be tried:
// primary first, then fallbacks in declared order. Runtime resolution MUST
// NOT re-rank this order (spec §4.1).
func (c SelectorChain) Entries() []SelectorEntry {
	out := make([]SelectorEntry, 0, 1+len(c.Fallbacks))
	out = append(out, c.Primary)
	out = append(out, c.Fallbacks...)
	return out
}

// Valid reports whether the chain satisfies its data-model invariant: a
// non-empty primary pattern and a non-empty id.
func (c SelectorChain) Valid() bool {
	return c.ID != "" && c.Primary.CSS != ""
}

// ValidationStatus captures the outcome of an offline registry validation
// pass (spec §3 "PageRegistryEntry.lastValidation").
type ValidationStatus string

const (
	ValidationValid    ValidationStatus = "valid"
	ValidationDegraded ValidationStatus = "degraded"
	ValidationBroken   ValidationStatus = "broken"
)

// LastValidation records the most recent offline validation run for a page.
type LastValidation struct {
	Timestamp       time.Time
	Status          ValidationStatus
	FailedSelectors []string
}

// PageVersion is one versioned snapshot of a page's chain set.
type PageVersion struct {
	Version int
	Chains  map[string]SelectorChain
}

// PageRegistryEntry maps a page id to its versioned selector chains, per
// spec §3. It is created and mutated only by the offline registry writer;
// resolvers are read-only.
type PageRegistryEntry struct {
	PageID         string
	URLPattern     string
	ActiveVersion  int
	Versions       []PageVersion
	LastValidation LastValidation
}

// ActiveChains returns the chain set for the entry's ActiveVersion, or nil
// if no matching version exists.
func (e PageRegistryEntry) ActiveChains() map[string]SelectorChain {
	for _, v := range e.Versions {
		if v.Version == e.ActiveVersion {
			return v.Chains
		}
	}
	return nil
}

// Stability is the offline, informational-only stability ranking used by
// registry authors when ordering a chain's entries (spec §4.1). It is never
// consulted at runtime resolution time.
type Stability int

const (
	StabilityTestID Stability = iota
	StabilityARIA
	StabilityID
	StabilityBEMClass
	StabilityStructural
	StabilityTextContains
)
