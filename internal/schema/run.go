package schema

// RunStatus is the top-level state of a Run, per spec §3/§4.6.
type RunStatus string

const (
	RunStatusIdle    RunStatus = "idle"
	RunStatusRunning RunStatus = "running"
	RunStatusPaused  RunStatus = "paused"
	RunStatusReview  RunStatus = "review"
	RunStatusComplete RunStatus = "complete"
)

// RunPhase is the active sub-phase within a RunStatusRunning run, per
// spec §3/§4.6.
type RunPhase string

const (
	PhaseInitializing RunPhase = "initializing"
	PhaseCart         RunPhase = "cart"
	PhaseSubstitution RunPhase = "substitution"
	PhaseSlots        RunPhase = "slots"
	PhaseFinalizing   RunPhase = "finalizing"
)

// Progress tracks incremental counters for the current run, per spec §3.
type Progress struct {
	OrdersLoaded       int
	OrdersTotal        int
	ItemsProcessed     int
	ItemsTotal         int
	UnavailableItems   int
	SubstitutesProposed int
	SlotsFound         int
}

// RunError captures the last error attached to a paused/failed run.
type RunError struct {
	Category    string
	Type        string
	Message     string
	Recoverable bool
}

// RunState is the orchestrator's exclusively-owned state record, per
// spec §3.
type RunState struct {
	RunID            string
	Status           RunStatus
	Phase            RunPhase
	Step             string
	Progress         Progress
	Error            *RunError
	ErrorCount       int
	StartedAtUnixNano int64
	UpdatedAtUnixNano int64
	TabID            string
	RecoveryNeeded   bool
}

// PartialResults is the resumable progress payload captured in a
// CheckpointRecord, per spec §3.
type PartialResults struct {
	OrdersLoaded     *int
	CartItems        []CartItem
	UnavailableItems []string
	Substitutes      map[string]string
	Slots            []string
}

// CheckpointRecord is persisted on every state change, per spec §3/§4.6.
type CheckpointRecord struct {
	Phase               RunPhase
	Step                string
	LastSuccessfulItem  string
	PartialResults      PartialResults
	TimestampUnixNano   int64
}
