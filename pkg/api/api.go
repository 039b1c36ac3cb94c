// Package api implements the framework-agnostic control-plane handlers of
// spec §6: session.start, session.get, session.approve, session.cancel, and
// the history-archive-backed session.history. None of these handlers ever
// construct or invoke a checkout/order-submission path — session.approve in
// particular only advances the state machine and archives the already-
// generated ReviewPack (spec §9 safety guardrail).
package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shopping-copilot/core/core/orchestrator"
	"github.com/shopping-copilot/core/internal/errs"
	"github.com/shopping-copilot/core/internal/observability"
	"github.com/shopping-copilot/core/internal/schema"
	"github.com/shopping-copilot/core/internal/store/historyarchive"
	"github.com/shopping-copilot/core/internal/store/sessionstore"
	"github.com/shopping-copilot/core/internal/telemetry"
)

// StartSessionRequest is session.start's request shape, spec §6.
type StartSessionRequest struct {
	HouseholdID string
	Username    string
	Config      map[string]any
}

// StartSessionResponse is session.start's success response shape, spec §6.
type StartSessionResponse struct {
	SessionID string
	Status    schema.RunStatus
}

// GetSessionRequest is session.get's request shape, spec §6.
type GetSessionRequest struct {
	SessionID string
}

// GetSessionResponse is session.get's success response shape, spec §6.
type GetSessionResponse struct {
	SessionID  string
	Status     schema.RunStatus
	Progress   schema.Progress
	ReviewPack *schema.ReviewPack
}

// ApproveSessionRequest is session.approve's request shape, spec §6.
type ApproveSessionRequest struct {
	SessionID     string
	ApprovalData  map[string]any
	Modifications map[string]any
}

// ApproveSessionResponse is session.approve's success response shape, spec
// §6. Status is always the literal "complete".
type ApproveSessionResponse struct {
	SessionID string
	Status    string
}

// CancelSessionRequest is session.cancel's request shape, spec §6.
type CancelSessionRequest struct {
	SessionID string
}

// CancelSessionResponse is session.cancel's success response shape, spec
// §6. Status is always the literal "cancelled"; Cancel is idempotent.
type CancelSessionResponse struct {
	SessionID string
	Status    string
}

// HistoryRequest is the supplemented session.history request shape.
type HistoryRequest struct {
	HouseholdID string
	Limit       int
}

// HistoryResponse is the supplemented session.history response shape.
type HistoryResponse struct {
	ReviewPacks []schema.ReviewPack
}

// LoginProbe resolves whether a household's stored session is currently
// logged in, gating START_RUN's guard. It is expected to be a fast check
// against already-known state (e.g. a cached cookie/session flag), not a
// live page navigation, so that session.start can still "return
// immediately" per spec §6.
type LoginProbe interface {
	IsLoggedIn(ctx context.Context, householdID, username string) bool
}

// RunHandle is what a Runner receives for a started session: enough to
// drive its own Machine transitions and publish the finished ReviewPack.
type RunHandle struct {
	SessionID   string
	HouseholdID string
	Username    string
	Config      map[string]any
	Machine     *orchestrator.Machine

	handler *Handler
}

// Finish reports the outcome of a background run. When readyForReview is
// true it transitions the run to review carrying pack; otherwise it pauses
// the run, per the finalization gate of spec §4.5 (a non-ready pack is
// never surfaced for review).
func (h *RunHandle) Finish(ctx context.Context, pack schema.ReviewPack, readyForReview bool) error {
	if !readyForReview {
		if err := h.Machine.Transition(ctx, orchestrator.EventPause, orchestrator.GuardInput{}); err != nil {
			return err
		}
		h.handler.metrics.RecordPaused(ctx)
		return nil
	}
	if err := h.Machine.Transition(ctx, orchestrator.EventFinalize, orchestrator.GuardInput{FinalizationReady: true}); err != nil {
		return err
	}
	h.handler.storeReviewPack(h.SessionID, pack)
	return nil
}

// Runner executes the full run pipeline in the background once a session
// has transitioned to running. Concrete implementations live outside this
// package (wiring the Interactor adapter, selector registry, LLM port,
// core/cartmerge and core/reviewpack together) so that pkg/api itself stays
// a pure control-plane surface over the state machine.
type Runner interface {
	Run(ctx context.Context, handle *RunHandle)
}

type sessionEntry struct {
	householdID string
	machine     *orchestrator.Machine
	cancel      context.CancelFunc
	reviewPack  *schema.ReviewPack
	startedAt   time.Time
}

// Handler is the framework-agnostic implementation of the four control-
// plane operations plus the supplemented session.history. history and
// probe are optional: a nil history disables session.history, a nil probe
// treats every session as already logged in.
type Handler struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry

	store   *sessionstore.Store
	history *historyarchive.Store
	runner  Runner
	probe   LoginProbe
	metrics *telemetry.RunMetrics
}

// New constructs a Handler. runner may be nil (e.g. in tests that only
// exercise the control-plane surface); history may be nil to disable
// session.history; probe may be nil to always treat sessions as logged in.
func New(store *sessionstore.Store, history *historyarchive.Store, runner Runner, probe LoginProbe) *Handler {
	return &Handler{
		sessions: make(map[string]*sessionEntry),
		store:    store,
		history:  history,
		runner:   runner,
		probe:    probe,
	}
}

// SetMetrics wires the optional OpenTelemetry run-lifecycle instrumentation.
// A Handler with no metrics set records nothing: every RunMetrics method is
// nil-receiver safe.
func (h *Handler) SetMetrics(metrics *telemetry.RunMetrics) {
	h.metrics = metrics
}

// Start implements session.start.
func (h *Handler) Start(ctx context.Context, req StartSessionRequest) (StartSessionResponse, error) {
	if req.HouseholdID == "" || req.Username == "" {
		return StartSessionResponse{}, errs.New(errs.CategoryUser, errs.TypeValidation,
			errs.WithMessage("householdId and username are required"), errs.WithRecoverable(false))
	}
	if h.householdHasActiveRun(req.HouseholdID) {
		return StartSessionResponse{}, errs.New(errs.CategoryState, errs.TypeInvalidTransition,
			errs.WithMessage("household already has a run in progress"), errs.WithRecoverable(false))
	}

	loggedIn := true
	if h.probe != nil {
		loggedIn = h.probe.IsLoggedIn(ctx, req.HouseholdID, req.Username)
	}

	sessionID := uuid.NewString()
	var machine *orchestrator.Machine
	machine = orchestrator.New(sessionID, h.store, func() { machine.Touch() })
	guard := orchestrator.GuardInput{Login: orchestrator.LoginState{IsLoggedIn: loggedIn}}
	if err := machine.Transition(ctx, orchestrator.EventStartRun, guard); err != nil {
		return StartSessionResponse{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	entry := &sessionEntry{householdID: req.HouseholdID, machine: machine, cancel: cancel, startedAt: time.Now()}

	h.mu.Lock()
	h.sessions[sessionID] = entry
	h.mu.Unlock()
	h.metrics.RecordStarted(ctx)

	if h.runner != nil {
		handle := &RunHandle{
			SessionID:   sessionID,
			HouseholdID: req.HouseholdID,
			Username:    req.Username,
			Config:      req.Config,
			Machine:     machine,
			handler:     h,
		}
		go func() {
			defer cancel()
			h.runner.Run(runCtx, handle)
		}()
	}

	return StartSessionResponse{SessionID: sessionID, Status: machine.State().Status}, nil
}

// Get implements session.get.
func (h *Handler) Get(_ context.Context, req GetSessionRequest) (GetSessionResponse, error) {
	entry, ok := h.lookup(req.SessionID)
	if !ok {
		return GetSessionResponse{}, unknownSessionErr(req.SessionID)
	}

	state := entry.machine.State()
	resp := GetSessionResponse{SessionID: req.SessionID, Status: state.Status, Progress: state.Progress}

	h.mu.Lock()
	if entry.reviewPack != nil {
		pack := *entry.reviewPack
		resp.ReviewPack = &pack
	}
	h.mu.Unlock()

	return resp, nil
}

// Approve implements session.approve. It never places an order: it only
// advances the state machine to complete and, if a history archive is
// configured, persists the already-generated ReviewPack for later recall.
func (h *Handler) Approve(ctx context.Context, req ApproveSessionRequest) (ApproveSessionResponse, error) {
	entry, ok := h.lookup(req.SessionID)
	if !ok {
		return ApproveSessionResponse{}, unknownSessionErr(req.SessionID)
	}

	if err := entry.machine.Transition(ctx, orchestrator.EventApprove, orchestrator.GuardInput{}); err != nil {
		return ApproveSessionResponse{}, err
	}
	h.metrics.RecordCompleted(ctx, time.Since(entry.startedAt).Seconds())

	if h.history != nil {
		h.mu.Lock()
		var pack *schema.ReviewPack
		if entry.reviewPack != nil {
			copied := *entry.reviewPack
			pack = &copied
		}
		h.mu.Unlock()
		if pack != nil {
			if err := h.history.Archive(ctx, *pack); err != nil {
				observability.Log().Warn("api: failed to archive approved review pack",
					observability.F("sessionId", req.SessionID), observability.F("error", err.Error()))
			}
		}
	}

	return ApproveSessionResponse{SessionID: req.SessionID, Status: "complete"}, nil
}

// Cancel implements session.cancel. Idempotent: cancelling an unknown or
// already-idle session still reports success.
func (h *Handler) Cancel(ctx context.Context, req CancelSessionRequest) (CancelSessionResponse, error) {
	entry, ok := h.lookup(req.SessionID)
	if !ok {
		return CancelSessionResponse{SessionID: req.SessionID, Status: "cancelled"}, nil
	}

	if entry.cancel != nil {
		entry.cancel()
	}
	h.metrics.RecordCancelled(ctx)

	switch entry.machine.State().Status {
	case schema.RunStatusRunning:
		_ = entry.machine.Transition(ctx, orchestrator.EventPause, orchestrator.GuardInput{})
		_ = entry.machine.Transition(ctx, orchestrator.EventCancel, orchestrator.GuardInput{})
	case schema.RunStatusPaused, schema.RunStatusReview:
		_ = entry.machine.Transition(ctx, orchestrator.EventCancel, orchestrator.GuardInput{})
	case schema.RunStatusComplete:
		_ = entry.machine.Transition(ctx, orchestrator.EventReset, orchestrator.GuardInput{})
	}

	return CancelSessionResponse{SessionID: req.SessionID, Status: "cancelled"}, nil
}

// History implements the supplemented session.history operation: listing
// prior completed runs for a household from the optional Postgres archive.
func (h *Handler) History(ctx context.Context, req HistoryRequest) (HistoryResponse, error) {
	if h.history == nil {
		return HistoryResponse{}, errs.New(errs.CategoryState, errs.TypeInvalidState,
			errs.WithMessage("history archive is not configured"), errs.WithRecoverable(false))
	}
	packs, err := h.history.Recent(ctx, req.HouseholdID, req.Limit)
	if err != nil {
		return HistoryResponse{}, err
	}
	return HistoryResponse{ReviewPacks: packs}, nil
}

func (h *Handler) lookup(sessionID string) (*sessionEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.sessions[sessionID]
	return entry, ok
}

func (h *Handler) householdHasActiveRun(householdID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, entry := range h.sessions {
		if entry.householdID == householdID && entry.machine.State().Status == schema.RunStatusRunning {
			return true
		}
	}
	return false
}

func (h *Handler) storeReviewPack(sessionID string, pack schema.ReviewPack) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if entry, ok := h.sessions[sessionID]; ok {
		entry.reviewPack = &pack
	}
}

func unknownSessionErr(sessionID string) error {
	return errs.New(errs.CategoryState, errs.TypeInvalidState,
		errs.WithMessage("unknown session: "+sessionID), errs.WithRecoverable(false))
}
