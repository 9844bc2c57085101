// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"grimm.is/netfence/internal/clock"
	"grimm.is/netfence/internal/model"
)

type fakeSink struct {
	permRequired  int
	backendFailed []model.BackendType
	vpnConflict   int
	dismissed     []string
}

func (f *fakeSink) ShowVPNPermissionRequired() { f.permRequired++ }
func (f *fakeSink) ShowBackendFailed(bt model.BackendType) {
	f.backendFailed = append(f.backendFailed, bt)
}
func (f *fakeSink) ShowVPNConflict()  { f.vpnConflict++ }
func (f *fakeSink) Dismiss(id string) { f.dismissed = append(f.dismissed, id) }

func TestShowBackendFailedForwardsOnce(t *testing.T) {
	sink := &fakeSink{}
	mock := clock.NewMock(time.Unix(0, 0))
	d := NewDispatcher(sink, DefaultConfig(), mock, nil)

	d.ShowBackendFailed(model.BackendPacketFilter)
	require.Equal(t, []model.BackendType{model.BackendPacketFilter}, sink.backendFailed)
}

func TestShowBackendFailedIsRateLimitedWithinWindow(t *testing.T) {
	sink := &fakeSink{}
	mock := clock.NewMock(time.Unix(0, 0))
	d := NewDispatcher(sink, DefaultConfig(), mock, nil)

	d.ShowBackendFailed(model.BackendPacketFilter)
	d.ShowBackendFailed(model.BackendPacketFilter)
	require.Len(t, sink.backendFailed, 1)
}

func TestShowBackendFailedResendsAfterWindowElapses(t *testing.T) {
	sink := &fakeSink{}
	mock := clock.NewMock(time.Unix(0, 0))
	cfg := Config{MinLevel: LevelInfo, RateLimit: time.Minute}
	d := NewDispatcher(sink, cfg, mock, nil)

	d.ShowBackendFailed(model.BackendPacketFilter)
	mock.Advance(2 * time.Minute)
	d.ShowBackendFailed(model.BackendPacketFilter)
	require.Len(t, sink.backendFailed, 2)
}

func TestDismissClearsRateLimitSoNextAlertIsImmediate(t *testing.T) {
	sink := &fakeSink{}
	mock := clock.NewMock(time.Unix(0, 0))
	d := NewDispatcher(sink, DefaultConfig(), mock, nil)

	d.ShowBackendFailed(model.BackendPacketFilter)
	d.Dismiss("backend-failed")
	d.ShowBackendFailed(model.BackendPacketFilter)

	require.Len(t, sink.backendFailed, 2)
	require.Equal(t, []string{"backend-failed"}, sink.dismissed)
}

func TestMinLevelSuppressesBelowThreshold(t *testing.T) {
	sink := &fakeSink{}
	mock := clock.NewMock(time.Unix(0, 0))
	cfg := Config{MinLevel: LevelCritical, RateLimit: time.Minute}
	d := NewDispatcher(sink, cfg, mock, nil)

	d.ShowVPNPermissionRequired() // LevelWarning < LevelCritical
	require.Equal(t, 0, sink.permRequired)

	d.ShowVPNConflict() // LevelCritical, passes
	require.Equal(t, 1, sink.vpnConflict)
}

func TestShowVPNConflictAndPermissionRequiredForwardIndependently(t *testing.T) {
	sink := &fakeSink{}
	mock := clock.NewMock(time.Unix(0, 0))
	d := NewDispatcher(sink, DefaultConfig(), mock, nil)

	d.ShowVPNConflict()
	d.ShowVPNPermissionRequired()
	require.Equal(t, 1, sink.vpnConflict)
	require.Equal(t, 1, sink.permRequired)
}
