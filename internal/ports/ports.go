// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ports declares the contracts the firewall core consumes from and
// produces to its host environment (§6). The core depends only on these
// interfaces; concrete implementations (real or simulated) live outside it.
package ports

import (
	"context"

	"grimm.is/netfence/internal/model"
)

// RuleStore is the external, persisted source of FirewallRules. The core
// never decides how rules are authored or stored; it only reads and, during
// migration (§4.7), rewrites them.
type RuleStore interface {
	// StreamRules emits the full rule set on every change. The returned
	// channel is restartable: callers may re-invoke StreamRules after the
	// context is cancelled to resume observing.
	StreamRules(ctx context.Context) (<-chan []model.FirewallRule, error)
	ReadRulesOnce(ctx context.Context) ([]model.FirewallRule, error)
	DeleteAll(ctx context.Context) error
	UpsertMany(ctx context.Context, rules []model.FirewallRule) error
}

// PackageSource enumerates installed applications.
type PackageSource interface {
	ListNetworkApps(ctx context.Context) ([]model.AppInfo, error)
}

// PrivilegeProbe reports the current availability of the two independent
// privilege channels the planner reasons about.
type PrivilegeProbe interface {
	HasRoot() bool
	HasAssist() bool
	AssistIsRoot() bool
	APILevel() int
	Recheck(ctx context.Context) error
}

// AssistChannel is the privileged-access channel (root helper / system
// "assist" service) that PolicyChain and NetPolicy drive their platform
// calls through.
type AssistChannel interface {
	Exec(ctx context.Context, cmd string, args ...string) (exitCode int, output string, err error)
	SystemServiceBinder(ctx context.Context, name string) (any, error)
}

// OsObserver streams OS-level state changes the manager re-derives rules on.
type OsObserver interface {
	ObserveNetworkType(ctx context.Context) (<-chan model.NetworkType, error)
	ObserveScreen(ctx context.Context) (<-chan bool, error)
}

// NotificationSink is the user-facing notification surface. Display is out
// of scope for the core; it only decides when to call these.
type NotificationSink interface {
	ShowVPNPermissionRequired()
	ShowBackendFailed(bt model.BackendType)
	ShowVPNConflict()
	Dismiss(id string)
}

// VPNServiceController is the lifecycle handle for the virtual network
// device's packet engine, named but not specified by the original
// distillation (added here because VirtualDevice.Start/Stop must call
// something concrete).
type VPNServiceController interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
}

// Produced observables (§6). The manager exposes these; nothing in this
// package implements them — see internal/manager.
type (
	FirewallStateObservable  = <-chan model.FirewallState
	ActiveBackendObservable  = <-chan *model.BackendType
	HealthWarningObservable  = <-chan string
	IsFirewallDownObservable = <-chan bool
)
