// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package manager implements the Manager (§4.2): the only component that
// owns a live Backend, arbitrates between the four enforcement mechanisms,
// and exposes the firewall's externally-observable state.
package manager

import (
	"context"
	"sync"
	"time"

	"grimm.is/netfence/internal/backend"
	"grimm.is/netfence/internal/clock"
	"grimm.is/netfence/internal/derive"
	nferrors "grimm.is/netfence/internal/errors"
	"grimm.is/netfence/internal/logging"
	"grimm.is/netfence/internal/metrics"
	"grimm.is/netfence/internal/model"
	"grimm.is/netfence/internal/planner"
	"grimm.is/netfence/internal/ports"
)

// BackendFactory builds a fresh, unstarted Backend instance for bt. The
// Manager never reuses a Backend value across a Start call (§4.2 step 4:
// "new = fresh instance for the plan"), so construction is the caller's
// job — it is the one place that knows how to wire each concrete backend
// to the real RuleStore/AssistChannel/VPNServiceController collaborators.
type BackendFactory func(bt model.BackendType) (backend.Backend, error)

// Config holds the Manager's tunables (§4.2, §4.8, §5). Durations are
// those recommended by the distilled spec; callers normally get these from
// internal/config rather than constructing Config by hand.
type Config struct {
	SettleInterval   time.Duration
	DebounceInterval time.Duration

	HealthFastInterval    time.Duration
	HealthSlowInterval    time.Duration
	HealthStableThreshold int

	PermissionBackoffStart       time.Duration
	PermissionBackoffCap         time.Duration
	PermissionBackoffMaxAttempts int
}

// DefaultConfig returns the spec's recommended tunables.
func DefaultConfig() Config {
	return Config{
		SettleInterval:   500 * time.Millisecond,
		DebounceInterval: 300 * time.Millisecond,

		HealthFastInterval:    30 * time.Second,
		HealthSlowInterval:    300 * time.Second,
		HealthStableThreshold: 10,

		PermissionBackoffStart:       2 * time.Second,
		PermissionBackoffCap:         16 * time.Second,
		PermissionBackoffMaxAttempts: 30,
	}
}

// Deps bundles the Manager's external collaborators (§6 consumed
// contracts) plus the backend factory and ambient infrastructure.
type Deps struct {
	RuleStore      ports.RuleStore
	PackageSource  ports.PackageSource
	PrivilegeProbe ports.PrivilegeProbe
	OsObserver     ports.OsObserver
	Notifier       ports.NotificationSink
	NewBackend     BackendFactory

	// OtherVPNActive reports whether a different virtual-device-based VPN
	// currently holds the platform's single VPN slot. Not named by the
	// original distillation as a consumed contract; optional, defaults to
	// "never" when nil.
	OtherVPNActive func() bool

	Clock  clock.Clock
	Logger *logging.Logger

	// Metrics receives Prometheus instrumentation for backend state and
	// switch outcomes. Optional; nil means no metrics are recorded.
	Metrics *metrics.Metrics
}

// Manager is the single owner of the active Backend (§3 invariants).
type Manager struct {
	deps Deps
	cfg  Config
	log  *logging.Logger

	startStopMu sync.Mutex

	mode          model.Mode
	defaultPolicy model.DefaultPolicy
	allowCritical bool

	current     backend.Backend
	currentType *model.BackendType

	state          model.FirewallState
	isFirewallDown bool

	// excluded tracks backend types NotifyBackendFailure has recently
	// ruled out for Auto-mode re-planning, cleared on the next privilege
	// change (§4.2 failure semantics: "Auto mode tries the next eligible
	// backend").
	excluded map[model.BackendType]bool

	lastPriv     model.Privileges
	havePriv     bool

	dataMu          sync.Mutex
	lastRules       []model.FirewallRule
	lastApps        []model.AppInfo
	lastNetworkType model.NetworkType
	lastScreenOn    bool

	watchCancel context.CancelFunc
	watchWG     sync.WaitGroup

	monitorCancel context.CancelFunc
	monitorWG     sync.WaitGroup

	permWatcherCancel context.CancelFunc
	permWatcherWG     sync.WaitGroup

	stateBroadcast   *broadcaster[model.FirewallState]
	backendBroadcast *broadcaster[*model.BackendType]
	healthBroadcast  *broadcaster[string]
	downBroadcast    *broadcaster[bool]
}

// New constructs a Manager in the Stopped state with the given default
// policy/allow-critical persisted settings and initial mode.
func New(deps Deps, cfg Config, mode model.Mode, defaultPolicy model.DefaultPolicy, allowCritical bool) *Manager {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	return &Manager{
		deps:             deps,
		cfg:              cfg,
		log:              deps.Logger.WithComponent("manager"),
		mode:             mode,
		defaultPolicy:    defaultPolicy,
		allowCritical:    allowCritical,
		state:            model.Stopped(),
		excluded:         make(map[model.BackendType]bool),
		stateBroadcast:   newBroadcaster[model.FirewallState](),
		backendBroadcast: newBroadcaster[*model.BackendType](),
		healthBroadcast:  newBroadcaster[string](),
		downBroadcast:    newBroadcaster[bool](),
	}
}

// State returns the current FirewallState.
func (m *Manager) State() model.FirewallState {
	m.startStopMu.Lock()
	defer m.startStopMu.Unlock()
	return m.state
}

// IsFirewallDown reports the current down flag.
func (m *Manager) IsFirewallDown() bool {
	m.startStopMu.Lock()
	defer m.startStopMu.Unlock()
	return m.isFirewallDown
}

// FirewallStateObservable implements the produced contract (§6).
func (m *Manager) FirewallStateObservable() ports.FirewallStateObservable { return m.stateBroadcast.subscribe() }

// ActiveBackendObservable implements the produced contract (§6).
func (m *Manager) ActiveBackendObservable() ports.ActiveBackendObservable {
	return m.backendBroadcast.subscribe()
}

// HealthWarningObservable implements the produced contract (§6).
func (m *Manager) HealthWarningObservable() ports.HealthWarningObservable {
	return m.healthBroadcast.subscribe()
}

// IsFirewallDownObservable implements the produced contract (§6).
func (m *Manager) IsFirewallDownObservable() ports.IsFirewallDownObservable {
	return m.downBroadcast.subscribe()
}

func (m *Manager) setState(s model.FirewallState) {
	m.state = s
	m.stateBroadcast.publish(s)
	if s.Kind == model.StateRunning || s.Kind == model.StateStarting {
		m.backendBroadcast.publish(s.Backend)
	} else {
		m.backendBroadcast.publish(nil)
	}
	if m.deps.Metrics != nil {
		if s.Kind == model.StateRunning {
			m.deps.Metrics.SetActiveBackend(s.Backend)
		} else {
			m.deps.Metrics.SetActiveBackend(nil)
		}
	}
}

func (m *Manager) setDown(down bool) {
	if m.isFirewallDown == down {
		return
	}
	m.isFirewallDown = down
	m.downBroadcast.publish(down)
	if m.deps.Metrics != nil {
		m.deps.Metrics.SetFirewallDown(down)
	}
}

// recordSwitch reports a backend-switch outcome to metrics, if wired.
// from/hadFrom mirror metrics.Metrics.RecordSwitch's "no prior backend on
// first start" case.
func (m *Manager) recordSwitch(oldType *model.BackendType, to model.BackendType, ok bool) {
	if m.deps.Metrics == nil {
		return
	}
	var from model.BackendType
	hadFrom := oldType != nil
	if hadFrom {
		from = *oldType
	}
	m.deps.Metrics.RecordSwitch(from, to, ok, hadFrom)
}

// observeApplyLatency times fn, reporting its duration to metrics if wired.
func (m *Manager) observeApplyLatency(fn func() error) error {
	if m.deps.Metrics == nil {
		return fn()
	}
	start := m.deps.Clock.Now()
	err := fn()
	m.deps.Metrics.ObserveApplyLatency(m.deps.Clock.Now().Sub(start))
	return err
}

func (m *Manager) setError(message string, lastBackend *model.BackendType) {
	m.setState(model.ErrorState(message, lastBackend))
}

func (m *Manager) snapshotPrivileges() model.Privileges {
	p := m.deps.PrivilegeProbe
	return model.Privileges{
		HasRoot:      p.HasRoot(),
		HasAssist:    p.HasAssist(),
		AssistIsRoot: p.AssistIsRoot(),
		APILevel:     p.APILevel(),
	}
}

func (m *Manager) otherVPNActive() bool {
	if m.deps.OtherVPNActive == nil {
		return false
	}
	return m.deps.OtherVPNActive()
}

// Start runs the atomic-switch algorithm (§4.2). overrideMode, if non-nil,
// is persisted as the new mode before planning.
func (m *Manager) Start(ctx context.Context, overrideMode *model.Mode) error {
	m.startStopMu.Lock()
	defer m.startStopMu.Unlock()
	return m.startLocked(ctx, overrideMode)
}

func (m *Manager) startLocked(ctx context.Context, overrideMode *model.Mode) error {
	if overrideMode != nil {
		m.mode = *overrideMode
	}

	priv := m.snapshotPrivileges()
	m.lastPriv = priv
	m.havePriv = true

	otherVPN := m.otherVPNActive()
	if otherVPN && !priv.HasRoot && !priv.HasAssist {
		err := nferrors.New(nferrors.KindOtherVPNActive, "another VPN is active and no privileged channel is available")
		m.setError(err.Error(), m.currentType)
		// isFirewallDown stays false here: nothing was ever protecting
		// traffic for this Start attempt to have broken, so there is
		// nothing to alarm the user about yet — only a later failure of a
		// backend that was actually running sets this flag.
		m.deps.Notifier.ShowVPNConflict()
		return err
	}

	plan, err := m.planFor(m.mode, priv, otherVPN)
	if err != nil {
		m.setError(err.Error(), m.currentType)
		m.setDown(true)
		return err
	}

	old := m.current
	oldType := m.currentType

	// No backend is currently preserving traffic for this attempt (a cold
	// start from Stopped/Error, or the caller already stopped the old one
	// — see reevaluateLocked). Surface the in-progress switch; the atomic
	// in-place swap below (oldType set, old still serving traffic) leaves
	// the state alone on purpose so it never reports Running(None).
	if oldType == nil && m.state.Kind != model.StateStarting {
		bt := plan.BackendType
		m.setState(model.Starting(&bt))
	}

	if oldType != nil && *oldType == plan.BackendType {
		if !old.IsActive(ctx) {
			if err := old.Start(ctx); err != nil {
				wrapped := nferrors.Wrap(err, nferrors.KindBackendStartFailed, "restart of unchanged backend failed")
				m.setError(wrapped.Error(), oldType)
				m.deps.Notifier.ShowBackendFailed(plan.BackendType)
				return wrapped
			}
		}
		m.setState(model.Running(plan.BackendType))
		m.setDown(false)
		m.stopPermissionWatcherLocked()
		return nil
	}

	newBackend, err := m.deps.NewBackend(plan.BackendType)
	if err != nil {
		wrapped := nferrors.Wrap(err, nferrors.KindPlanFailure, "backend construction failed")
		m.setError(wrapped.Error(), oldType)
		return wrapped
	}

	if (old == nil || old.SupportsGranularControl()) && !newBackend.SupportsGranularControl() {
		if err := m.migrateRules(ctx); err != nil {
			m.log.WithError(err).Warn("rule migration to all-or-nothing failed, continuing anyway")
		}
	}

	if err := newBackend.Start(ctx); err != nil {
		if plan.BackendType == model.BackendVirtualDevice {
			wrapped := nferrors.Wrap(err, nferrors.KindPermissionRequired, "virtual device permission not granted")
			m.setError(wrapped.Error(), oldType)
			m.setDown(true)
			m.deps.Notifier.ShowVPNPermissionRequired()
			m.startPermissionWatcherLocked()
			return wrapped
		}
		wrapped := nferrors.Wrap(err, nferrors.KindBackendStartFailed, "new backend failed to start")
		m.setError(wrapped.Error(), oldType)
		m.deps.Notifier.ShowBackendFailed(plan.BackendType)
		return wrapped
	}
	m.stopPermissionWatcherLocked()

	desired, err := m.deriveDesired(ctx, plan.BackendType)
	if err != nil {
		_ = newBackend.Stop(ctx)
		wrapped := nferrors.Wrap(err, nferrors.KindBackendApplyFailed, "rule derivation failed")
		m.setError(wrapped.Error(), oldType)
		return wrapped
	}

	if err := m.observeApplyLatency(func() error { return newBackend.ApplyRules(ctx, desired) }); err != nil {
		_ = newBackend.Stop(ctx)
		wrapped := nferrors.Wrap(err, nferrors.KindBackendApplyFailed, "new backend failed to apply rules")
		m.setError(wrapped.Error(), oldType)
		m.deps.Notifier.ShowBackendFailed(plan.BackendType)
		m.recordSwitch(oldType, plan.BackendType, false)
		return wrapped
	}

	m.deps.Clock.Sleep(m.cfg.SettleInterval)
	if !newBackend.IsActive(ctx) {
		_ = newBackend.Stop(ctx)
		wrapped := nferrors.Errorf(nferrors.KindBackendHealthFailed, "backend %s did not become active after settle", plan.BackendType)
		m.setError(wrapped.Error(), oldType)
		m.deps.Notifier.ShowBackendFailed(plan.BackendType)
		m.recordSwitch(oldType, plan.BackendType, false)
		return wrapped
	}

	m.stopMonitorsLocked()
	if old != nil {
		_ = old.Stop(ctx)
	}

	bt := plan.BackendType
	m.current = newBackend
	m.currentType = &bt
	m.excluded = make(map[model.BackendType]bool)

	m.setState(model.Running(bt))
	m.setDown(false)
	m.deps.Notifier.Dismiss("backend-failed")
	m.deps.Notifier.Dismiss("vpn-permission-required")
	m.recordSwitch(oldType, bt, true)

	m.startMonitorsLocked(bt)

	return nil
}

// migrateRules rewrites any rule that blocks some but not all networks to
// block all (§4.7 migration), persisting the result through the RuleStore
// before the non-granular backend ever sees it.
func (m *Manager) migrateRules(ctx context.Context) error {
	rules, err := m.deps.RuleStore.ReadRulesOnce(ctx)
	if err != nil {
		return err
	}
	migrated := derive.MigrateToAllOrNothing(rules)
	return m.deps.RuleStore.UpsertMany(ctx, migrated)
}

// deriveDesired reads the latest rules/apps (refreshing the cache used by
// the debounced reapply loop) and computes the enforcement set for bt.
func (m *Manager) deriveDesired(ctx context.Context, bt model.BackendType) (backend.Desired, error) {
	rules, err := m.deps.RuleStore.ReadRulesOnce(ctx)
	if err != nil {
		return backend.Desired{}, err
	}
	apps, err := m.deps.PackageSource.ListNetworkApps(ctx)
	if err != nil {
		return backend.Desired{}, err
	}

	m.dataMu.Lock()
	m.lastRules = rules
	m.lastApps = apps
	networkType := m.lastNetworkType
	screenOn := m.lastScreenOn
	m.dataMu.Unlock()

	result := derive.Derive(derive.Inputs{
		Rules:         rules,
		Apps:          apps,
		NetworkType:   networkType,
		ScreenOn:      screenOn,
		DefaultPolicy: m.defaultPolicy,
		AllowCritical: m.allowCritical,
	})

	_ = bt
	return backend.Desired{Internet: result.Internet, LAN: result.LAN}, nil
}

// Stop runs the Stop algorithm (§4.2): best-effort cleanup of the current
// backend, then always cleans up every backend type defensively.
func (m *Manager) Stop(ctx context.Context) error {
	m.startStopMu.Lock()
	defer m.startStopMu.Unlock()

	m.stopMonitorsLocked()
	m.stopPermissionWatcherLocked()

	if m.current != nil {
		_ = m.current.Stop(ctx)
	}

	for _, bt := range planner.AutoPreference {
		if m.currentType != nil && *m.currentType == bt {
			continue
		}
		fresh, err := m.deps.NewBackend(bt)
		if err != nil {
			continue
		}
		_ = fresh.Stop(ctx)
	}

	m.current = nil
	m.currentType = nil
	m.excluded = make(map[model.BackendType]bool)

	m.setState(model.Stopped())
	m.setDown(false)

	return nil
}

// SetMode persists mode and, if currently running or starting, triggers a
// restart under it (§4.2 "SetMode(mode) ... triggers restart if currently
// running").
func (m *Manager) SetMode(ctx context.Context, mode model.Mode) error {
	m.startStopMu.Lock()
	wasLive := m.state.Kind == model.StateRunning || m.state.Kind == model.StateStarting
	m.startStopMu.Unlock()

	if !wasLive {
		m.startStopMu.Lock()
		m.mode = mode
		m.startStopMu.Unlock()
		return nil
	}

	return m.Start(ctx, &mode)
}

// TriggerReapply recomputes the desired enforcement set from the latest
// known rules/apps/OS state and applies it to the current backend, without
// going through the full Start algorithm (§4.2).
func (m *Manager) TriggerReapply(ctx context.Context) error {
	m.startStopMu.Lock()
	defer m.startStopMu.Unlock()

	if m.current == nil || m.currentType == nil {
		return nil
	}

	desired, err := m.deriveDesired(ctx, *m.currentType)
	if err != nil {
		return nferrors.Wrap(err, nferrors.KindBackendApplyFailed, "reapply derivation failed")
	}

	if err := m.observeApplyLatency(func() error { return m.current.ApplyRules(ctx, desired) }); err != nil {
		wrapped := nferrors.Wrap(err, nferrors.KindBackendApplyFailed, "reapply failed")
		m.log.WithError(wrapped).Warn("reapply failed, backend left running with stale rules")
		return wrapped
	}

	return nil
}

// NotifyBackendFailure handles a backend's self-reported failure (§4.2,
// §4.8). Manually selected backends never silently fall back: this sets
// Error and raises a notification. Auto mode excludes the failed type and
// re-plans immediately.
func (m *Manager) NotifyBackendFailure(ctx context.Context, bt model.BackendType) {
	m.startStopMu.Lock()
	defer m.startStopMu.Unlock()

	if m.currentType == nil || *m.currentType != bt {
		return // stale report about a backend that's no longer current
	}

	m.deps.Notifier.ShowBackendFailed(bt)

	if m.mode != model.ModeAuto {
		m.stopMonitorsLocked()
		if m.current != nil {
			_ = m.current.Stop(ctx)
		}
		m.current = nil
		m.currentType = nil
		m.setError("backend "+bt.String()+" failed and mode is not auto", &bt)
		m.setDown(true)
		return
	}

	// Leave m.current/m.currentType as the (now-failed) old backend so
	// startLocked's own switch algorithm — including the granular→
	// all-or-nothing migration and the "stop old only after new is
	// verified active" ordering — runs exactly as it would for any other
	// backend switch; it stops the failed backend itself once the
	// replacement is confirmed.
	m.excluded[bt] = true
	if err := m.startLocked(ctx, nil); err != nil {
		m.log.WithError(err).Warn("auto fallback after backend failure found no eligible backend")
	}
}

// CheckBackendShouldSwitch force-evaluates the plan even without an
// observed privilege change (§4.2), used by the VirtualDevice-shaped
// health monitor to detect privilege gain.
func (m *Manager) CheckBackendShouldSwitch(ctx context.Context) {
	m.startStopMu.Lock()
	defer m.startStopMu.Unlock()
	m.reevaluateLocked(ctx, true)
}

// planFor wraps planner.Plan, excluding any backend NotifyBackendFailure
// has recently ruled out, for Auto mode only (manual mode has nothing to
// fall back to, per failure semantics).
func (m *Manager) planFor(mode model.Mode, priv model.Privileges, otherVPN bool) (model.StartPlan, error) {
	if mode != model.ModeAuto || len(m.excluded) == 0 {
		return planner.Plan(mode, priv, otherVPN)
	}

	for _, candidate := range planner.AutoPreference {
		if candidate == model.BackendVirtualDevice && otherVPN {
			continue
		}
		if m.excluded[candidate] {
			continue
		}
		if planner.Eligible(candidate, priv) {
			return model.StartPlan{
				Mode:                            mode,
				BackendType:                     candidate,
				RequiresVirtualDevicePermission: candidate == model.BackendVirtualDevice,
			}, nil
		}
	}
	return model.StartPlan{}, nferrors.New(nferrors.KindPlanFailure, "no eligible, non-excluded backend under current privileges")
}
