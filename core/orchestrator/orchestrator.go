// Package orchestrator implements the Run state machine of spec §4.6: the
// authoritative top-level transition table, its guards, sub-phase
// progression within the running state, checkpointed persistence and
// process-wake recovery, and the keep-alive tick wiring.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopping-copilot/core/internal/errs"
	"github.com/shopping-copilot/core/internal/keepalive"
	"github.com/shopping-copilot/core/internal/observability"
	"github.com/shopping-copilot/core/internal/schema"
	"github.com/shopping-copilot/core/internal/store/sessionstore"
)

// Event is one of the closed set of triggers accepted by the state machine,
// per spec §4.6.
type Event string

const (
	EventStartRun           Event = "START_RUN"
	EventPause              Event = "PAUSE"
	EventRetry              Event = "RETRY"
	EventFinalize           Event = "FINALIZE"
	EventApprove            Event = "APPROVE"
	EventCancel             Event = "CANCEL"
	EventReset              Event = "RESET"
	EventDegenerateComplete Event = "DEGENERATE_COMPLETE"
)

// recoveryStaleAfter is the "now - updatedAt > 30s" threshold of spec §4.6.
const recoveryStaleAfter = 30 * time.Second

// transitions is the authoritative table of spec §4.6:
//   idle:     [running]
//   running:  [paused, review, complete]
//   paused:   [running, idle]
//   review:   [complete, idle]
//   complete: [idle]
var transitions = map[schema.RunStatus]map[Event]schema.RunStatus{
	schema.RunStatusIdle: {
		EventStartRun: schema.RunStatusRunning,
	},
	schema.RunStatusRunning: {
		EventPause:              schema.RunStatusPaused,
		EventFinalize:           schema.RunStatusReview,
		EventDegenerateComplete: schema.RunStatusComplete,
	},
	schema.RunStatusPaused: {
		EventRetry:  schema.RunStatusRunning,
		EventCancel: schema.RunStatusIdle,
	},
	schema.RunStatusReview: {
		EventApprove: schema.RunStatusComplete,
		EventCancel:  schema.RunStatusIdle,
	},
	schema.RunStatusComplete: {
		EventReset: schema.RunStatusIdle,
	},
}

// phaseOrder is the fixed, forward-only sub-phase sequence within running,
// per spec §4.6. AdvancePhase permits skipping ahead (e.g. no unavailable
// items skips substitution) but never moving backward.
var phaseOrder = []schema.RunPhase{
	schema.PhaseInitializing,
	schema.PhaseCart,
	schema.PhaseSubstitution,
	schema.PhaseSlots,
	schema.PhaseFinalizing,
}

func phaseIndex(p schema.RunPhase) int {
	for i, candidate := range phaseOrder {
		if candidate == p {
			return i
		}
	}
	return -1
}

// LoginState is the minimal login signal the START_RUN guard checks.
type LoginState struct {
	IsLoggedIn bool
}

// GuardInput bundles the external facts a transition's guard may need.
type GuardInput struct {
	Login             LoginState
	FinalizationReady bool
}

func invalidTransitionErr(from schema.RunStatus, event Event) error {
	return errs.New(errs.CategoryState, errs.TypeInvalidTransition,
		errs.WithMessage(fmt.Sprintf("event %s is not valid from status %s", event, from)),
		errs.WithRecoverable(false))
}

func guardFailedErr(event Event, reason string) error {
	return errs.New(errs.CategoryState, errs.TypeInvalidTransition,
		errs.WithMessage(fmt.Sprintf("guard for event %s failed: %s", event, reason)),
		errs.WithRecoverable(false))
}

func checkGuard(event Event, state schema.RunState, guard GuardInput) error {
	switch event {
	case EventStartRun:
		if !guard.Login.IsLoggedIn {
			return guardFailedErr(event, "loginState.isLoggedIn is false")
		}
	case EventRetry:
		if state.Error == nil || !state.Error.Recoverable {
			return guardFailedErr(event, "error is not recoverable")
		}
		if state.ErrorCount >= 3 {
			return guardFailedErr(event, "errorCount has reached the retry ceiling")
		}
	case EventFinalize:
		if !guard.FinalizationReady {
			return guardFailedErr(event, "finalization gate not satisfied")
		}
	case EventApprove:
		// review -> complete requires an explicit caller-issued APPROVE
		// event; the machine never raises it on its own, satisfying
		// spec §4.6's "orchestrator MUST NOT self-advance".
	}
	return nil
}

// Machine is the single-run, single-process state machine described by
// spec §4.6. One Machine instance owns exactly one RunState.
type Machine struct {
	mu        sync.Mutex
	state     schema.RunState
	store     *sessionstore.Store
	keepalive *keepalive.Ticker
}

// New constructs an idle Machine for runID, persisted via store. onKeepAlive
// is invoked roughly once a minute while the run is in progress; pass nil to
// disable the keep-alive tick (e.g. in tests).
func New(runID string, store *sessionstore.Store, onKeepAlive func()) *Machine {
	m := &Machine{
		state: schema.RunState{RunID: runID, Status: schema.RunStatusIdle},
		store: store,
	}
	if onKeepAlive != nil {
		m.keepalive = keepalive.New(onKeepAlive)
	}
	return m
}

// State returns a snapshot of the current RunState.
func (m *Machine) State() schema.RunState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition attempts event from the machine's current status, applying the
// event's guard, updating RunState, and persisting a checkpoint on success.
func (m *Machine) Transition(ctx context.Context, event Event, guard GuardInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed, ok := transitions[m.state.Status]
	if !ok {
		return invalidTransitionErr(m.state.Status, event)
	}
	next, ok := allowed[event]
	if !ok {
		return invalidTransitionErr(m.state.Status, event)
	}
	if err := checkGuard(event, m.state, guard); err != nil {
		return err
	}

	now := time.Now()
	from := m.state.Status
	m.state.Status = next
	m.state.UpdatedAtUnixNano = now.UnixNano()

	switch event {
	case EventStartRun:
		m.state.Phase = schema.PhaseInitializing
		m.state.Step = ""
		m.state.StartedAtUnixNano = now.UnixNano()
		m.state.Error = nil
		m.state.ErrorCount = 0
		m.state.RecoveryNeeded = false
		m.startKeepAlive()
	case EventRetry:
		m.state.Error = nil
		m.startKeepAlive()
	case EventPause:
		m.stopKeepAlive()
	case EventFinalize, EventApprove, EventCancel, EventReset, EventDegenerateComplete:
		m.stopKeepAlive()
	}

	observability.Log().Info("orchestrator: transition",
		observability.F("runId", m.state.RunID),
		observability.F("event", string(event)),
		observability.F("from", string(from)),
		observability.F("to", string(next)))

	return m.persistLocked(now)
}

// AdvancePhase moves the run's sub-phase forward within running, per spec
// §4.6's initializing -> cart -> substitution -> slots -> finalizing
// sequence. Moving to an earlier phase is rejected.
func (m *Machine) AdvancePhase(ctx context.Context, phase schema.RunPhase, step string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Status != schema.RunStatusRunning {
		return errs.New(errs.CategoryState, errs.TypeInvalidTransition,
			errs.WithMessage("cannot advance phase outside of running"), errs.WithRecoverable(false))
	}
	nextIdx, curIdx := phaseIndex(phase), phaseIndex(m.state.Phase)
	if nextIdx < 0 {
		return errs.New(errs.CategoryState, errs.TypeInvalidTransition,
			errs.WithMessage(fmt.Sprintf("unknown phase %q", phase)), errs.WithRecoverable(false))
	}
	if nextIdx < curIdx {
		return errs.New(errs.CategoryState, errs.TypeInvalidTransition,
			errs.WithMessage(fmt.Sprintf("cannot move from phase %q back to %q", m.state.Phase, phase)),
			errs.WithRecoverable(false))
	}

	m.state.Phase = phase
	m.state.Step = step
	now := time.Now()
	m.state.UpdatedAtUnixNano = now.UnixNano()
	return m.persistLocked(now)
}

// RecordError attaches a structured failure to the run's state and
// increments ErrorCount, persisting the update. It does not itself
// transition status: callers decide whether to follow up with a PAUSE
// transition based on runErr.Recoverable.
func (m *Machine) RecordError(ctx context.Context, runErr schema.RunError) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Error = &runErr
	m.state.ErrorCount++
	now := time.Now()
	m.state.UpdatedAtUnixNano = now.UnixNano()
	return m.persistLocked(now)
}

// UpdateProgress merges progress counters into the run's state and
// persists the update.
func (m *Machine) UpdateProgress(ctx context.Context, progress schema.Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Progress = progress
	now := time.Now()
	m.state.UpdatedAtUnixNano = now.UnixNano()
	return m.persistLocked(now)
}

// Touch refreshes RunState.updatedAt and persists a checkpoint without
// changing status or phase. It is the onKeepAlive callback's usual body,
// keeping a long-running run from tripping the recoveryStaleAfter check.
func (m *Machine) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.state.UpdatedAtUnixNano = now.UnixNano()
	if err := m.persistLocked(now); err != nil {
		observability.Log().Warn("orchestrator: keep-alive checkpoint failed",
			observability.F("runId", m.state.RunID), observability.F("error", err.Error()))
	}
}

func (m *Machine) startKeepAlive() {
	if m.keepalive == nil {
		return
	}
	if err := m.keepalive.Start(); err != nil {
		observability.Log().Warn("orchestrator: keep-alive failed to start", observability.F("error", err.Error()))
	}
}

func (m *Machine) stopKeepAlive() {
	if m.keepalive == nil {
		return
	}
	m.keepalive.Stop()
}

func (m *Machine) persistLocked(now time.Time) error {
	if m.store == nil {
		return nil
	}
	checkpoint := schema.CheckpointRecord{
		Phase:             m.state.Phase,
		Step:              m.state.Step,
		TimestampUnixNano: now.UnixNano(),
	}
	return m.store.Save(m.state.RunID, sessionstore.Record{RunState: m.state, Checkpoint: checkpoint})
}

// ResumeAction names the phase-specific recovery rule of spec §4.6 to apply
// after a stale-running recovery is detected.
type ResumeAction string

const (
	ResumeRestartPhase     ResumeAction = "restart_phase"
	ResumeReorder          ResumeAction = "resume_reorder"
	ResumeSubstitutionTail ResumeAction = "resume_substitution_tail"
	ResumeReExtractSlots   ResumeAction = "re_extract_slots"
	ResumePackGeneration   ResumeAction = "resume_pack_generation"
)

// RecoveryDecision is the outcome of evaluating a loaded RunState against
// the staleness rule on process wake.
type RecoveryDecision struct {
	RecoveryNeeded bool
	Action         ResumeAction
	Checkpoint     schema.CheckpointRecord
}

// Recover loads a persisted session and, per spec §4.6, marks
// recoveryNeeded when status=running and the record has gone stale
// (now - updatedAt > 30s), selecting the phase-specific resume rule. A
// session with no persisted record yields a fresh idle Machine and an
// empty RecoveryDecision.
func Recover(runID string, store *sessionstore.Store, onKeepAlive func()) (*Machine, RecoveryDecision, error) {
	m := New(runID, store, onKeepAlive)

	rec, ok, err := store.Load(runID)
	if err != nil {
		return nil, RecoveryDecision{}, err
	}
	if !ok {
		return m, RecoveryDecision{}, nil
	}

	m.state = rec.RunState
	decision := RecoveryDecision{}
	if m.state.Status == schema.RunStatusRunning {
		age := time.Since(time.Unix(0, m.state.UpdatedAtUnixNano))
		if age > recoveryStaleAfter {
			m.state.RecoveryNeeded = true
			decision = RecoveryDecision{
				RecoveryNeeded: true,
				Action:         resumeActionFor(m.state.Phase, rec.Checkpoint),
				Checkpoint:     rec.Checkpoint,
			}
			observability.Log().Warn("orchestrator: recovered stale running session",
				observability.F("runId", runID), observability.F("phase", string(m.state.Phase)),
				observability.F("action", string(decision.Action)))
		}
	}
	return m, decision, nil
}

func resumeActionFor(phase schema.RunPhase, checkpoint schema.CheckpointRecord) ResumeAction {
	switch phase {
	case schema.PhaseCart:
		if checkpoint.PartialResults.OrdersLoaded != nil {
			return ResumeReorder
		}
		return ResumeRestartPhase
	case schema.PhaseSubstitution:
		return ResumeSubstitutionTail
	case schema.PhaseSlots:
		return ResumeReExtractSlots
	case schema.PhaseFinalizing:
		return ResumePackGeneration
	case schema.PhaseInitializing:
		fallthrough
	default:
		return ResumeRestartPhase
	}
}
