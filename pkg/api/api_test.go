package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopping-copilot/core/internal/schema"
	"github.com/shopping-copilot/core/internal/store/sessionstore"
)

type stubRunner struct {
	started chan *RunHandle
}

func newStubRunner() *stubRunner {
	return &stubRunner{started: make(chan *RunHandle, 8)}
}

func (r *stubRunner) Run(ctx context.Context, handle *RunHandle) {
	r.started <- handle
	<-ctx.Done()
}

func newHandler(t *testing.T, runner Runner) *Handler {
	t.Helper()
	store, err := sessionstore.New(t.TempDir())
	require.NoError(t, err)
	return New(store, nil, runner, nil)
}

func TestStartRejectsMissingFields(t *testing.T) {
	h := newHandler(t, nil)
	_, err := h.Start(context.Background(), StartSessionRequest{})
	require.Error(t, err)
}

func TestStartTransitionsToRunningAndInvokesRunner(t *testing.T) {
	runner := newStubRunner()
	h := newHandler(t, runner)

	resp, err := h.Start(context.Background(), StartSessionRequest{HouseholdID: "hh-1", Username: "alice"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, schema.RunStatusRunning, resp.Status)

	handle := <-runner.started
	assert.Equal(t, resp.SessionID, handle.SessionID)
	assert.Equal(t, "hh-1", handle.HouseholdID)
}

func TestStartRejectsSecondConcurrentRunForSameHousehold(t *testing.T) {
	runner := newStubRunner()
	h := newHandler(t, runner)

	_, err := h.Start(context.Background(), StartSessionRequest{HouseholdID: "hh-1", Username: "alice"})
	require.NoError(t, err)
	<-runner.started

	_, err = h.Start(context.Background(), StartSessionRequest{HouseholdID: "hh-1", Username: "alice"})
	require.Error(t, err)
}

func TestGetUnknownSessionFails(t *testing.T) {
	h := newHandler(t, nil)
	_, err := h.Get(context.Background(), GetSessionRequest{SessionID: "nope"})
	require.Error(t, err)
}

func TestGetReturnsReviewPackAfterFinish(t *testing.T) {
	runner := newStubRunner()
	h := newHandler(t, runner)

	resp, err := h.Start(context.Background(), StartSessionRequest{HouseholdID: "hh-1", Username: "alice"})
	require.NoError(t, err)
	handle := <-runner.started

	pack := schema.ReviewPack{SessionID: resp.SessionID, Status: schema.ReviewPackReviewReady}
	require.NoError(t, handle.Finish(context.Background(), pack, true))

	got, err := h.Get(context.Background(), GetSessionRequest{SessionID: resp.SessionID})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusReview, got.Status)
	require.NotNil(t, got.ReviewPack)
	assert.Equal(t, resp.SessionID, got.ReviewPack.SessionID)
}

func TestApproveNeverRequiresOrderFieldsAndReportsComplete(t *testing.T) {
	runner := newStubRunner()
	h := newHandler(t, runner)

	resp, err := h.Start(context.Background(), StartSessionRequest{HouseholdID: "hh-1", Username: "alice"})
	require.NoError(t, err)
	handle := <-runner.started
	require.NoError(t, handle.Finish(context.Background(), schema.ReviewPack{SessionID: resp.SessionID}, true))

	approveResp, err := h.Approve(context.Background(), ApproveSessionRequest{SessionID: resp.SessionID})
	require.NoError(t, err)
	assert.Equal(t, "complete", approveResp.Status)

	got, err := h.Get(context.Background(), GetSessionRequest{SessionID: resp.SessionID})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusComplete, got.Status)
}

func TestCancelIsIdempotentForUnknownSession(t *testing.T) {
	h := newHandler(t, nil)
	resp, err := h.Cancel(context.Background(), CancelSessionRequest{SessionID: "does-not-exist"})
	require.NoError(t, err)
	assert.Equal(t, "cancelled", resp.Status)
}

func TestCancelDuringRunningTransitionsToIdle(t *testing.T) {
	runner := newStubRunner()
	h := newHandler(t, runner)

	resp, err := h.Start(context.Background(), StartSessionRequest{HouseholdID: "hh-1", Username: "alice"})
	require.NoError(t, err)
	<-runner.started

	cancelResp, err := h.Cancel(context.Background(), CancelSessionRequest{SessionID: resp.SessionID})
	require.NoError(t, err)
	assert.Equal(t, "cancelled", cancelResp.Status)

	got, err := h.Get(context.Background(), GetSessionRequest{SessionID: resp.SessionID})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusIdle, got.Status)
}

func TestHistoryWithoutArchiveConfiguredFails(t *testing.T) {
	h := newHandler(t, nil)
	_, err := h.History(context.Background(), HistoryRequest{HouseholdID: "hh-1"})
	require.Error(t, err)
}
