// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package manager

import (
	"context"

	"grimm.is/netfence/internal/model"
	"grimm.is/netfence/internal/planner"
)

// HandlePrivilegeChange implements §4.9: called whenever the host reports
// that PrivilegeProbe's flags may have changed. De-duplicates by the
// (root, assist) pair last processed unless forceCheck bypasses that (used
// when the UI becomes foregrounded).
func (m *Manager) HandlePrivilegeChange(ctx context.Context, forceCheck bool) error {
	m.startStopMu.Lock()
	defer m.startStopMu.Unlock()
	return m.reevaluateLocked(ctx, forceCheck)
}

func (m *Manager) reevaluateLocked(ctx context.Context, forceCheck bool) error {
	priv := m.snapshotPrivileges()

	if !forceCheck && m.havePriv &&
		m.lastPriv.HasRoot == priv.HasRoot &&
		m.lastPriv.HasAssist == priv.HasAssist {
		return nil
	}
	m.lastPriv = priv
	m.havePriv = true
	m.excluded = make(map[model.BackendType]bool)

	intentOn := m.state.Kind != model.StateStopped

	if !intentOn && !m.isFirewallDown {
		return nil // step 1: intent is off and nothing is currently broken
	}

	if m.mode == model.ModeAuto {
		otherVPN := m.otherVPNActive()
		plan, err := planner.Plan(m.mode, priv, otherVPN)
		if err != nil {
			return err
		}
		if m.currentType != nil && *m.currentType == plan.BackendType {
			return nil
		}

		m.stopMonitorsLocked()
		if m.current != nil {
			lastType := m.currentType
			_ = m.current.Stop(ctx)
			m.current = nil
			m.currentType = nil
			m.setState(model.Starting(lastType))
		}
		return m.startLocked(ctx, nil)
	}

	// Manual mode: check the selected backend is still available.
	bt := manualBackendForMode(m.mode)
	if planner.Eligible(bt, priv) {
		return nil
	}

	if intentOn {
		m.setError("backend "+bt.String()+" is no longer available under current privileges", &bt)
		m.setDown(true)
		m.deps.Notifier.ShowBackendFailed(bt)
	}
	return nil
}

func manualBackendForMode(mode model.Mode) model.BackendType {
	switch mode {
	case model.ModeVirtualDevice:
		return model.BackendVirtualDevice
	case model.ModePolicyChain:
		return model.BackendPolicyChain
	case model.ModeNetPolicy:
		return model.BackendNetPolicy
	default:
		return model.BackendPacketFilter
	}
}
