// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package manager

import (
	"context"

	"grimm.is/netfence/internal/backend"
	nferrors "grimm.is/netfence/internal/errors"
	"grimm.is/netfence/internal/model"
)

// startMonitorsLocked attaches the adaptive health monitor for bt (§4.8).
// Must be called with startStopMu held.
func (m *Manager) startMonitorsLocked(bt model.BackendType) {
	ctx, cancel := context.WithCancel(context.Background())
	m.monitorCancel = cancel
	m.monitorWG.Add(1)
	go m.runHealthMonitor(ctx, bt)
}

// stopMonitorsLocked cancels the health monitor without waiting for it to
// exit: the monitor may itself be trying to acquire startStopMu (e.g. via
// NotifyBackendFailure), so blocking here while holding the lock would
// deadlock. The monitor re-checks staleness against the current backend
// type on every tick, so an orphaned goroutine becomes a no-op quickly.
func (m *Manager) stopMonitorsLocked() {
	if m.monitorCancel != nil {
		m.monitorCancel()
		m.monitorCancel = nil
	}
}

func (m *Manager) stopPermissionWatcherLocked() {
	if m.permWatcherCancel != nil {
		m.permWatcherCancel()
		m.permWatcherCancel = nil
	}
}

// startPermissionWatcherLocked enters the bounded, exponential-back-off
// loop retrying a VirtualDevice start once permission is granted (§4.2
// failure semantics). Must be called with startStopMu held.
func (m *Manager) startPermissionWatcherLocked() {
	if m.permWatcherCancel != nil {
		return // already watching
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.permWatcherCancel = cancel
	m.permWatcherWG.Add(1)
	go m.runPermissionWatcher(ctx)
}

func (m *Manager) runPermissionWatcher(ctx context.Context) {
	defer m.permWatcherWG.Done()

	interval := m.cfg.PermissionBackoffStart
	for attempt := 0; attempt < m.cfg.PermissionBackoffMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-m.deps.Clock.After(interval):
		}

		m.startStopMu.Lock()
		stillDown := m.isFirewallDown
		m.startStopMu.Unlock()
		if !stillDown {
			return // recovered through some other path
		}

		if err := m.Start(context.Background(), nil); err == nil {
			return // Start() already cleared isFirewallDown and published Running
		}

		interval *= 2
		if interval > m.cfg.PermissionBackoffCap {
			interval = m.cfg.PermissionBackoffCap
		}
	}

	m.log.Warn("permission watcher exhausted retries, giving up until the next privilege change")
}

// runHealthMonitor implements §4.8's adaptive FAST/SLOW cadence. Two
// shapes: a privileged backend is watched for privilege loss; VirtualDevice
// is watched for privilege gain (so the core can switch back to a
// privileged backend once it becomes available).
func (m *Manager) runHealthMonitor(ctx context.Context, bt model.BackendType) {
	defer m.monitorWG.Done()

	interval := m.cfg.HealthFastInterval
	ticker := m.deps.Clock.NewTicker(interval)
	defer ticker.Stop()
	stable := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.startStopMu.Lock()
			stillCurrent := m.currentType != nil && *m.currentType == bt
			m.startStopMu.Unlock()
			if !stillCurrent {
				return
			}

			ok := true
			if bt == model.BackendVirtualDevice {
				m.checkPrivilegeGain(ctx)
			} else {
				ok = m.checkPrivilegeLoss(ctx, bt)
			}

			if !ok {
				m.NotifyBackendFailure(ctx, bt)
				return
			}

			if ok {
				stable++
				if stable >= m.cfg.HealthStableThreshold && interval != m.cfg.HealthSlowInterval {
					interval = m.cfg.HealthSlowInterval
					ticker.Reset(interval)
				}
			} else {
				stable = 0
				if interval != m.cfg.HealthFastInterval {
					interval = m.cfg.HealthFastInterval
					ticker.Reset(interval)
				}
			}
		}
	}
}

// checkPrivilegeLoss re-validates the privileged backend's availability
// and liveness, reporting failure (§4.8) rather than handling it directly
// — NotifyBackendFailure owns the re-planning decision.
func (m *Manager) checkPrivilegeLoss(ctx context.Context, bt model.BackendType) bool {
	m.startStopMu.Lock()
	current := m.current
	priv := m.snapshotPrivileges()
	m.startStopMu.Unlock()

	if current == nil {
		return false
	}
	if err := current.CheckAvailability(ctx, priv); err != nil {
		m.healthBroadcast.publish(nferrors.Wrap(err, nferrors.KindBackendHealthFailed, "privilege check failed").Error())
		return false
	}
	if !current.IsActive(ctx) {
		m.healthBroadcast.publish("backend " + bt.String() + " is no longer active")
		return false
	}
	if reporter, ok := current.(backend.HealthReporter); ok {
		if msg, degraded := reporter.HealthWarning(); degraded {
			m.healthBroadcast.publish(msg)
		}
	}
	return true
}

// checkPrivilegeGain re-probes privileges and re-runs the planner; if a
// non-VirtualDevice backend is now eligible, CheckBackendShouldSwitch
// initiates the switch.
func (m *Manager) checkPrivilegeGain(ctx context.Context) {
	_ = m.deps.PrivilegeProbe.Recheck(ctx)
	m.CheckBackendShouldSwitch(ctx)
}
