package schema

// PopupPattern describes one nuisance-overlay dismissal pattern, per
// spec §3/§4.3. The pattern set is an immutable configuration loaded once
// at startup.
type PopupPattern struct {
	Name               string
	Selector           string // comma-separated CSS selector list
	TextMatch          string
	ExactMatch         bool
	Priority           int
	SkipIfReorderModal bool
	Description        string
}

// ReorderModalType is the closed set of reorder-confirmation modal variants,
// per spec §4.2 isReorderModalVisible.
type ReorderModalType string

const (
	ReorderModalNone     ReorderModalType = "none"
	ReorderModalMerge    ReorderModalType = "merge"
	ReorderModalReplace  ReorderModalType = "replace"
	ReorderModalRemoval  ReorderModalType = "removal"
)

// ReorderModalState is the result of a isReorderModalVisible probe.
type ReorderModalState struct {
	Type  ReorderModalType
	Found bool
}
