// Package keepalive schedules the ≈1 min keep-alive tick spec §4.6
// describes for the running state, via robfig/cron/v3.
package keepalive

import (
	"github.com/robfig/cron/v3"

	"github.com/shopping-copilot/core/internal/observability"
)

const schedule = "@every 1m"

// Ticker drives a single repeating callback while a run is active.
type Ticker struct {
	cron    *cron.Cron
	entryID cron.EntryID
	active  bool
	onTick  func()
}

// New constructs a Ticker that invokes onTick roughly every minute once
// Start is called. onTick is expected to reset the orchestrator's runtime
// timers and refresh RunState.updatedAt, per spec §4.6.
func New(onTick func()) *Ticker {
	return &Ticker{cron: cron.New(), onTick: wrapTick(onTick)}
}

func wrapTick(onTick func()) func() {
	return func() {
		if onTick != nil {
			onTick()
		}
	}
}

// Start begins the keep-alive schedule. Calling Start while already active
// is a no-op.
func (t *Ticker) Start() error {
	if t.active {
		return nil
	}
	id, err := t.cron.AddFunc(schedule, t.onTick)
	if err != nil {
		observability.Log().Error("keepalive: invalid schedule", observability.F("error", err.Error()))
		return err
	}
	t.entryID = id
	t.cron.Start()
	t.active = true
	return nil
}

// Stop halts the keep-alive schedule, blocking until any in-flight tick
// completes. Calling Stop while inactive is a no-op.
func (t *Ticker) Stop() {
	if !t.active {
		return
	}
	t.cron.Remove(t.entryID)
	ctx := t.cron.Stop()
	<-ctx.Done()
	t.active = false
}
