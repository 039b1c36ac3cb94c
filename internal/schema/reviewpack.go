package schema

// CartSection bundles the before/after snapshots and their diff for the
// Review Pack, per spec §3 ReviewPack.cart.
type CartSection struct {
	Summary CartSnapshot
	Diff    CartDiff
	Before  CartSnapshot
	After   CartSnapshot
}

// SubstitutionProposal pairs an unavailable item with a proposed
// replacement, surfaced in the optional ReviewPack.substitutions.
type SubstitutionProposal struct {
	OriginalName string
	Candidate    CartItem
	Score        float64
	Reason       string
}

// PruneDecision records whether an item was pruned as likely-already-owned,
// surfaced in the optional ReviewPack.pruning.
type PruneDecision struct {
	ItemName   string
	Pruned     bool
	Confidence float64
	Reason     string
}

// SlotOption is a ranked delivery slot candidate, surfaced in the optional
// ReviewPack.slots.
type SlotOption struct {
	StartUnixNano int64
	EndUnixNano   int64
	Label         string
	Rank          int
}

// ReviewPackStatus marks the terminal artifact's lifecycle; it becomes
// immutable once ReviewReady, per spec §3.
type ReviewPackStatus string

const (
	ReviewPackDraft       ReviewPackStatus = "draft"
	ReviewPackReviewReady ReviewPackStatus = "review_ready"
)

// ReviewPack is the terminal, human-reviewable artifact produced by a run,
// per spec §3. It is never a checkout/order-submission artifact: no field
// here represents payment or order placement (spec §9 Safety guardrail).
type ReviewPack struct {
	SessionID        string
	GeneratedAtNano  int64
	HouseholdID      string
	Status           ReviewPackStatus
	Cart             CartSection
	Warnings         []Warning
	Actions          []string
	Confidence       Confidence
	Substitutions    []SubstitutionProposal
	Pruning          []PruneDecision
	Slots            []SlotOption
}
