// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModeRoundTrip(t *testing.T) {
	cases := []Mode{ModeAuto, ModeVirtualDevice, ModePacketFilter, ModePolicyChain, ModeNetPolicy}
	for _, m := range cases {
		parsed, ok := ParseMode(m.String())
		assert.True(t, ok)
		assert.Equal(t, m, parsed)
	}
}

func TestParseModeUnknown(t *testing.T) {
	m, ok := ParseMode("bogus")
	assert.False(t, ok)
	assert.Equal(t, ModeAuto, m)
}

func TestDefaultPolicyRoundTrip(t *testing.T) {
	for _, d := range []DefaultPolicy{DefaultPolicyAllowAll, DefaultPolicyBlockAll} {
		parsed, ok := ParseDefaultPolicy(d.String())
		assert.True(t, ok)
		assert.Equal(t, d, parsed)
	}
}

func TestModeForBackend(t *testing.T) {
	assert.Equal(t, ModePacketFilter, ModeForBackend(BackendPacketFilter))
	assert.Equal(t, ModePolicyChain, ModeForBackend(BackendPolicyChain))
	assert.Equal(t, ModeNetPolicy, ModeForBackend(BackendNetPolicy))
	assert.Equal(t, ModeVirtualDevice, ModeForBackend(BackendVirtualDevice))
}

func TestFirewallStateString(t *testing.T) {
	assert.Equal(t, "stopped", Stopped().String())

	bt := BackendPacketFilter
	assert.Equal(t, "starting(packetfilter)", Starting(&bt).String())
	assert.Equal(t, "starting", Starting(nil).String())
	assert.Equal(t, "running(packetfilter)", Running(BackendPacketFilter).String())
	assert.Equal(t, "error(boom)", ErrorState("boom", &bt).String())
}
