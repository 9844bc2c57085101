// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"grimm.is/netfence/internal/manager"
	"grimm.is/netfence/internal/model"
	"grimm.is/netfence/internal/state"
)

func TestResolveWithNilManagerBlockReturnsDefaults(t *testing.T) {
	f := &File{}
	cfg, err := f.Resolve()
	require.NoError(t, err)
	require.Equal(t, manager.DefaultConfig(), cfg)
}

func TestResolveOverridesOnlySetFields(t *testing.T) {
	f := &File{Manager: &ManagerTunables{
		SettleInterval:        "1s",
		HealthStableThreshold: 5,
	}}
	cfg, err := f.Resolve()
	require.NoError(t, err)
	require.Equal(t, time.Second, cfg.SettleInterval)
	require.Equal(t, 5, cfg.HealthStableThreshold)
	require.Equal(t, manager.DefaultConfig().DebounceInterval, cfg.DebounceInterval)
}

func TestResolveRejectsInvalidDuration(t *testing.T) {
	f := &File{Manager: &ManagerTunables{SettleInterval: "not-a-duration"}}
	_, err := f.Resolve()
	require.Error(t, err)
}

func TestLoadParsesHCLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "netfence.hcl")
	contents := `
manager {
  settle_interval    = "750ms"
  debounce_interval  = "250ms"
}
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	f, err := Load(path)
	require.NoError(t, err)
	cfg, err := f.Resolve()
	require.NoError(t, err)
	require.Equal(t, 750*time.Millisecond, cfg.SettleInterval)
	require.Equal(t, 250*time.Millisecond, cfg.DebounceInterval)
}

func newTestStore(t *testing.T) state.Store {
	t.Helper()
	store, err := state.NewSQLiteStore(state.DefaultOptions(":memory:"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLoadIntentDefaultsWhenNothingPersisted(t *testing.T) {
	store := newTestStore(t)
	intent, err := LoadIntent(store)
	require.NoError(t, err)
	require.Equal(t, DefaultIntent(), intent)
}

func TestSaveAndLoadIntentRoundTrip(t *testing.T) {
	store := newTestStore(t)
	in := Intent{
		FirewallEnabled: true,
		Mode:            model.ModePacketFilter,
		DefaultPolicy:   model.DefaultPolicyBlockAll,
		AllowCritical:   false,
	}
	require.NoError(t, SaveIntent(store, in))

	out, err := LoadIntent(store)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestSaveAndLoadLivenessRoundTrip(t *testing.T) {
	store := newTestStore(t)
	in := LivenessStatus{
		PrivilegedServiceRunning:   true,
		PrivilegedBackendType:      model.BackendPolicyChain.String(),
		VirtualDeviceServiceActive: false,
	}
	require.NoError(t, SaveLiveness(store, in))

	out, err := LoadLiveness(store)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestLoadLivenessDefaultsToNotRunning(t *testing.T) {
	store := newTestStore(t)
	out, err := LoadLiveness(store)
	require.NoError(t, err)
	require.Equal(t, LivenessStatus{}, out)
}
