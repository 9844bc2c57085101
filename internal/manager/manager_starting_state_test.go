// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package manager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/netfence/internal/model"
)

// TestColdStartEmitsStartingBeforeRunning covers the
// Stopped -> Starting(type) -> Running(t) transition (§4.2), using the
// fake backend's onStart hook to observe the state mid-switch, before the
// Manager has decided Start succeeded.
func TestColdStartEmitsStartingBeforeRunning(t *testing.T) {
	backends := allFakeBackends()
	priv := &fakePrivilegeProbe{hasRoot: true}
	m, _, _ := newTestManager(t, backends, priv)

	ch := m.FirewallStateObservable()

	var seen model.FirewallState
	var gotStarting bool
	backends[model.BackendPacketFilter].onStart = func() {
		select {
		case seen = <-ch:
			gotStarting = true
		default:
		}
	}

	require.NoError(t, m.Start(context.Background(), nil))

	require.True(t, gotStarting, "expected a Starting state to be published before Start returned")
	assert.Equal(t, model.StateStarting, seen.Kind)
	require.NotNil(t, seen.Backend)
	assert.Equal(t, model.BackendPacketFilter, *seen.Backend)

	assert.Equal(t, model.StateRunning, m.State().Kind)
}

// TestPrivilegeGainEmitsStartingForOldBackend covers scenario S5's literal
// transition: Running(VirtualDevice) -> Starting(VirtualDevice) ->
// Running(PacketFilter). reevaluateLocked stops the old backend before
// re-planning, so the Starting state it publishes carries the backend type
// being switched away from, not the new target.
func TestPrivilegeGainEmitsStartingForOldBackend(t *testing.T) {
	priv := &fakePrivilegeProbe{hasRoot: false, hasAssist: false}
	backends := allFakeBackends()
	m, _, _ := newTestManager(t, backends, priv)

	require.NoError(t, m.Start(context.Background(), nil))
	require.Equal(t, model.BackendVirtualDevice, *m.currentType)

	ch := m.FirewallStateObservable()

	var seen model.FirewallState
	var gotStarting bool
	backends[model.BackendPacketFilter].onStart = func() {
		select {
		case seen = <-ch:
			gotStarting = true
		default:
		}
	}

	priv.hasRoot = true
	m.CheckBackendShouldSwitch(context.Background())

	require.True(t, gotStarting, "expected a Starting state to be published before the new backend started")
	assert.Equal(t, model.StateStarting, seen.Kind)
	require.NotNil(t, seen.Backend)
	assert.Equal(t, model.BackendVirtualDevice, *seen.Backend)

	assert.Equal(t, model.BackendPacketFilter, *m.currentType)
	assert.Equal(t, model.StateRunning, m.State().Kind)
}
