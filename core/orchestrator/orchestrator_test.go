package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopping-copilot/core/internal/schema"
	"github.com/shopping-copilot/core/internal/store/sessionstore"
)

func newStore(t *testing.T) *sessionstore.Store {
	t.Helper()
	store, err := sessionstore.New(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestStartRunRequiresLoginGuard(t *testing.T) {
	m := New("run-1", newStore(t), nil)

	err := m.Transition(context.Background(), EventStartRun, GuardInput{Login: LoginState{IsLoggedIn: false}})
	require.Error(t, err)
	assert.Equal(t, schema.RunStatusIdle, m.State().Status)

	err = m.Transition(context.Background(), EventStartRun, GuardInput{Login: LoginState{IsLoggedIn: true}})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusRunning, m.State().Status)
	assert.Equal(t, schema.PhaseInitializing, m.State().Phase)
}

func TestInvalidTransitionIsRejected(t *testing.T) {
	m := New("run-1", newStore(t), nil)

	err := m.Transition(context.Background(), EventApprove, GuardInput{})
	require.Error(t, err)
	assert.Equal(t, schema.RunStatusIdle, m.State().Status)
}

func TestRetryGuardRequiresRecoverableErrorUnderCeiling(t *testing.T) {
	m := New("run-1", newStore(t), nil)
	require.NoError(t, m.Transition(context.Background(), EventStartRun, GuardInput{Login: LoginState{IsLoggedIn: true}}))
	require.NoError(t, m.Transition(context.Background(), EventPause, GuardInput{}))

	err := m.Transition(context.Background(), EventRetry, GuardInput{})
	require.Error(t, err, "no error recorded yet, retry must fail")

	require.NoError(t, m.RecordError(context.Background(), schema.RunError{Recoverable: false}))
	err = m.Transition(context.Background(), EventRetry, GuardInput{})
	require.Error(t, err, "non-recoverable error must block retry")

	m2 := New("run-2", newStore(t), nil)
	require.NoError(t, m2.Transition(context.Background(), EventStartRun, GuardInput{Login: LoginState{IsLoggedIn: true}}))
	require.NoError(t, m2.Transition(context.Background(), EventPause, GuardInput{}))
	require.NoError(t, m2.RecordError(context.Background(), schema.RunError{Recoverable: true}))
	require.NoError(t, m2.Transition(context.Background(), EventRetry, GuardInput{}))
	assert.Equal(t, schema.RunStatusRunning, m2.State().Status)
}

func TestRetryGuardRejectsAfterErrorCeiling(t *testing.T) {
	m := New("run-1", newStore(t), nil)
	require.NoError(t, m.Transition(context.Background(), EventStartRun, GuardInput{Login: LoginState{IsLoggedIn: true}}))
	require.NoError(t, m.Transition(context.Background(), EventPause, GuardInput{}))

	for i := 0; i < 3; i++ {
		require.NoError(t, m.RecordError(context.Background(), schema.RunError{Recoverable: true}))
	}
	err := m.Transition(context.Background(), EventRetry, GuardInput{})
	require.Error(t, err)
}

func TestFinalizeGuardRequiresFinalizationReady(t *testing.T) {
	m := New("run-1", newStore(t), nil)
	require.NoError(t, m.Transition(context.Background(), EventStartRun, GuardInput{Login: LoginState{IsLoggedIn: true}}))

	err := m.Transition(context.Background(), EventFinalize, GuardInput{FinalizationReady: false})
	require.Error(t, err)

	err = m.Transition(context.Background(), EventFinalize, GuardInput{FinalizationReady: true})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusReview, m.State().Status)
}

func TestReviewNeverSelfAdvancesToComplete(t *testing.T) {
	m := New("run-1", newStore(t), nil)
	require.NoError(t, m.Transition(context.Background(), EventStartRun, GuardInput{Login: LoginState{IsLoggedIn: true}}))
	require.NoError(t, m.Transition(context.Background(), EventFinalize, GuardInput{FinalizationReady: true}))
	assert.Equal(t, schema.RunStatusReview, m.State().Status, "must stay in review until an explicit APPROVE")

	require.NoError(t, m.Transition(context.Background(), EventApprove, GuardInput{}))
	assert.Equal(t, schema.RunStatusComplete, m.State().Status)
}

func TestAdvancePhaseRejectsMovingBackward(t *testing.T) {
	m := New("run-1", newStore(t), nil)
	require.NoError(t, m.Transition(context.Background(), EventStartRun, GuardInput{Login: LoginState{IsLoggedIn: true}}))
	require.NoError(t, m.AdvancePhase(context.Background(), schema.PhaseSubstitution, "propose"))

	err := m.AdvancePhase(context.Background(), schema.PhaseCart, "reorder")
	require.Error(t, err)
	assert.Equal(t, schema.PhaseSubstitution, m.State().Phase)
}

func TestAdvancePhaseAllowsSkippingAhead(t *testing.T) {
	m := New("run-1", newStore(t), nil)
	require.NoError(t, m.Transition(context.Background(), EventStartRun, GuardInput{Login: LoginState{IsLoggedIn: true}}))

	require.NoError(t, m.AdvancePhase(context.Background(), schema.PhaseSlots, "extract"))
	assert.Equal(t, schema.PhaseSlots, m.State().Phase)
}

func TestTransitionPersistsCheckpointForRecovery(t *testing.T) {
	store := newStore(t)
	m := New("run-1", store, nil)
	require.NoError(t, m.Transition(context.Background(), EventStartRun, GuardInput{Login: LoginState{IsLoggedIn: true}}))
	require.NoError(t, m.AdvancePhase(context.Background(), schema.PhaseCart, "loadOrders"))

	rec, ok, err := store.Load("run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, schema.PhaseCart, rec.RunState.Phase)
	assert.Equal(t, "loadOrders", rec.Checkpoint.Step)
}

func TestRecoverFlagsStaleRunningSessionAndResolvesResumeAction(t *testing.T) {
	store := newStore(t)
	m := New("run-1", store, nil)
	require.NoError(t, m.Transition(context.Background(), EventStartRun, GuardInput{Login: LoginState{IsLoggedIn: true}}))
	require.NoError(t, m.AdvancePhase(context.Background(), schema.PhaseSubstitution, "propose"))

	rec, ok, err := store.Load("run-1")
	require.NoError(t, err)
	require.True(t, ok)
	rec.RunState.UpdatedAtUnixNano = time.Now().Add(-time.Minute).UnixNano()
	require.NoError(t, store.Save("run-1", rec))

	recovered, decision, err := Recover("run-1", store, nil)
	require.NoError(t, err)
	assert.True(t, decision.RecoveryNeeded)
	assert.Equal(t, ResumeSubstitutionTail, decision.Action)
	assert.True(t, recovered.State().RecoveryNeeded)
}

func TestRecoverIgnoresFreshRunningSession(t *testing.T) {
	store := newStore(t)
	m := New("run-1", store, nil)
	require.NoError(t, m.Transition(context.Background(), EventStartRun, GuardInput{Login: LoginState{IsLoggedIn: true}}))

	_, decision, err := Recover("run-1", store, nil)
	require.NoError(t, err)
	assert.False(t, decision.RecoveryNeeded)
}

func TestRecoverWithNoPriorSessionYieldsIdleMachine(t *testing.T) {
	store := newStore(t)
	m, decision, err := Recover("never-started", store, nil)
	require.NoError(t, err)
	assert.False(t, decision.RecoveryNeeded)
	assert.Equal(t, schema.RunStatusIdle, m.State().Status)
}
