// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package manager

import (
	"context"

	"grimm.is/netfence/internal/model"
)

// Watch subscribes to the rule store and OS observer streams and merges
// them into a single debounced re-derivation pass (§5): any combination of
// rule changes, network-type changes, and screen state changes arriving
// within DebounceInterval of each other collapses into one TriggerReapply
// call, and no two passes ever run concurrently (TriggerReapply itself
// serializes on startStopMu). Callers normally invoke this once, after
// construction, with a context scoped to the process lifetime.
func (m *Manager) Watch(ctx context.Context) error {
	rules, err := m.deps.RuleStore.StreamRules(ctx)
	if err != nil {
		return err
	}
	netType, err := m.deps.OsObserver.ObserveNetworkType(ctx)
	if err != nil {
		return err
	}
	screen, err := m.deps.OsObserver.ObserveScreen(ctx)
	if err != nil {
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	m.watchCancel = cancel
	m.watchWG.Add(1)
	go m.runWatch(watchCtx, rules, netType, screen)
	return nil
}

// StopWatching cancels the background observation loop started by Watch.
func (m *Manager) StopWatching() {
	if m.watchCancel != nil {
		m.watchCancel()
		m.watchCancel = nil
	}
}

func (m *Manager) runWatch(
	ctx context.Context,
	rules <-chan []model.FirewallRule,
	netType <-chan model.NetworkType,
	screen <-chan bool,
) {
	defer m.watchWG.Done()

	var debounce <-chan struct{}
	pending := false

	armDebounce := func() {
		pending = true
		ch := make(chan struct{}, 1)
		go func() {
			m.deps.Clock.Sleep(m.cfg.DebounceInterval)
			ch <- struct{}{}
		}()
		debounce = ch
	}

	for {
		select {
		case <-ctx.Done():
			return

		case rs, ok := <-rules:
			if !ok {
				return
			}
			m.dataMu.Lock()
			m.lastRules = rs
			m.dataMu.Unlock()
			armDebounce()

		case nt, ok := <-netType:
			if !ok {
				return
			}
			m.dataMu.Lock()
			m.lastNetworkType = nt
			m.dataMu.Unlock()
			armDebounce()

		case on, ok := <-screen:
			if !ok {
				return
			}
			m.dataMu.Lock()
			m.lastScreenOn = on
			m.dataMu.Unlock()
			armDebounce()

		case <-debounce:
			if pending {
				pending = false
				debounce = nil
				if err := m.TriggerReapply(ctx); err != nil {
					m.log.WithError(err).Warn("debounced reapply failed")
				}
			}
		}
	}
}
