package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"sigtrack/internal/outcome"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const policyYAML = `profiles:
  default:
    tie_break: stop_first
    resolution: first_target
    default_ttl_bars: 48
    timeframes:
      1d:
        resolution: all_targets
        default_ttl_bars: 14
  optimistic:
    tie_break: target_first
`

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRegistryResolvesOverrides(t *testing.T) {
	reg, err := NewRegistry(writePolicy(t, policyYAML), "default", Rule{})
	require.NoError(t, err)

	base := reg.Resolve("1h")
	assert.Equal(t, outcome.TieBreakStopFirst, base.Policy.TieBreak)
	assert.Equal(t, outcome.ResolutionFirstTarget, base.Policy.Resolution)
	assert.Equal(t, 48, base.DefaultTTLBars)

	daily := reg.Resolve("1D")
	assert.Equal(t, outcome.ResolutionAllTargets, daily.Policy.Resolution)
	assert.Equal(t, outcome.TieBreakStopFirst, daily.Policy.TieBreak)
	assert.Equal(t, 14, daily.DefaultTTLBars)
}

func TestRegistryProfileInheritsFallback(t *testing.T) {
	fallback := Rule{Policy: outcome.Policy{Resolution: outcome.ResolutionAllTargets}, DefaultTTLBars: 10}
	reg, err := NewRegistry(writePolicy(t, policyYAML), "optimistic", fallback)
	require.NoError(t, err)
	rule := reg.Resolve("4h")
	assert.Equal(t, outcome.TieBreakTargetFirst, rule.Policy.TieBreak)
	assert.Equal(t, outcome.ResolutionAllTargets, rule.Policy.Resolution)
	assert.Equal(t, 10, rule.DefaultTTLBars)
}

func TestRegistryRejectsBadFiles(t *testing.T) {
	_, err := NewRegistry(writePolicy(t, policyYAML), "missing", Rule{})
	assert.Error(t, err)

	_, err = NewRegistry(writePolicy(t, "profiles:\n  default:\n    tie_break: coin_flip\n"), "default", Rule{})
	assert.Error(t, err)

	_, err = NewRegistry(writePolicy(t, "profiles:\n  default:\n    unknown_key: 1\n"), "default", Rule{})
	assert.Error(t, err, "unknown keys are rejected")
}

func TestStaticRegistry(t *testing.T) {
	reg, err := NewRegistry("", "", Rule{DefaultTTLBars: 5})
	require.NoError(t, err)
	rule := reg.Resolve("15m")
	assert.Equal(t, outcome.DefaultPolicy(), rule.Policy)
	assert.Equal(t, 5, rule.DefaultTTLBars)
	assert.NoError(t, reg.Reload())
}

func TestRegistryReloadNotifiesListeners(t *testing.T) {
	path := writePolicy(t, policyYAML)
	reg, err := NewRegistry(path, "default", Rule{})
	require.NoError(t, err)
	before := reg.Snapshot().Version

	got := make(chan Snapshot, 4)
	reg.OnChange(func(s Snapshot) { got <- s })

	require.NoError(t, os.WriteFile(path, []byte("profiles:\n  default:\n    tie_break: target_first\n"), 0o644))
	require.NoError(t, reg.Reload())

	select {
	case snap := <-got:
		assert.Greater(t, snap.Version, before)
		assert.Equal(t, outcome.TieBreakTargetFirst, snap.Base.Policy.TieBreak)
	case <-time.After(2 * time.Second):
		t.Fatal("listener not notified")
	}
	assert.Equal(t, outcome.TieBreakTargetFirst, reg.Resolve("1h").Policy.TieBreak)
}
