package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultTimeoutsMatchSpec(t *testing.T) {
	tm := DefaultTimeouts()
	assert.Equal(t, 5*time.Second, tm.Operation)
	assert.Equal(t, 30*time.Second, tm.Navigation)
	assert.Equal(t, 1*time.Second, tm.ModalWaitPerTry)
	assert.Equal(t, 3*time.Second, tm.CartUpdateWait)
	assert.Equal(t, 60*time.Second, tm.KeepAlive)
}

func TestApplyIsImmutableOverBase(t *testing.T) {
	base := Default()
	derived := Apply(base, WithEnvironment(EnvStaging), WithSessionsDir("/tmp/sessions"))

	assert.Equal(t, EnvProd, base.Environment)
	assert.Equal(t, EnvStaging, derived.Environment)
	assert.Equal(t, "/tmp/sessions", derived.Stores.SessionsDir)
	assert.NotEqual(t, base.Stores.SessionsDir, derived.Stores.SessionsDir)
}

func TestWithHistoryArchiveDSNEnablesArchive(t *testing.T) {
	cfg := Apply(Default(), WithHistoryArchiveDSN("postgres://localhost/copilot"))
	assert.True(t, cfg.HistoryArchive.Enabled)
	assert.Equal(t, "postgres://localhost/copilot", cfg.HistoryArchive.DSN)
}

func TestWithHistoryArchiveDSNEmptyIsNoop(t *testing.T) {
	cfg := Apply(Default(), WithHistoryArchiveDSN("   "))
	assert.False(t, cfg.HistoryArchive.Enabled)
}

func TestWithOrderCacheTTLIgnoresNonPositive(t *testing.T) {
	cfg := Apply(Default(), WithOrderCacheTTL(-1))
	assert.Equal(t, 24*time.Hour, cfg.OrderCacheTTL)
}
