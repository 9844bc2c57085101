// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package backend declares the common contract the four enforcement
// mechanisms (PacketFilter, PolicyChain, NetPolicy, VirtualDevice) satisfy,
// generalizing the teacher's services.Service lifecycle interface
// (Name/Start/Stop/Reload/Status) to the firewall core's domain.
package backend

import (
	"context"

	"grimm.is/netfence/internal/model"
)

// Desired is the derived enforcement target for one apply pass: the set of
// UIDs to block, split by dimension, exactly as cached in model.BlockSet.
type Desired struct {
	Internet map[int]bool
	LAN      map[int]bool
}

// Backend is the contract each enforcement mechanism implements. The
// Manager owns at most one active Backend at a time (§3 invariants).
type Backend interface {
	BackendType() model.BackendType

	// Start acquires whatever OS resources this backend needs (a process
	// table, a chain hook, a binder handle) but does not yet enforce any
	// policy.
	Start(ctx context.Context) error

	// Stop releases every resource Start acquired. Must be idempotent and
	// tolerant of "never started" (§4.2 Stop algorithm, §4.3 Stop
	// semantics).
	Stop(ctx context.Context) error

	// ApplyRules enforces desired, diffing against whatever this backend
	// has cached from the last successful apply. A no-op backend (e.g.
	// VirtualDevice) may simply return nil.
	ApplyRules(ctx context.Context, desired Desired) error

	// IsActive reports whether this backend is currently enforcing
	// traffic, independent of whether Start succeeded (e.g. a device that
	// died after starting).
	IsActive(ctx context.Context) bool

	// CheckAvailability re-validates that this backend can run under the
	// given privileges, independent of whether it is currently active. It
	// must propagate ctx cancellation (§5) since it may run during
	// teardown.
	CheckAvailability(ctx context.Context, priv model.Privileges) error

	// SupportsGranularControl reports whether this backend can enforce
	// per-network-type/per-LAN rules, or only all-or-nothing blocking
	// (§4.7 migration).
	SupportsGranularControl() bool
}

// HealthReporter is an optional capability a Backend implements when it can
// keep enforcing while running in some reduced-coverage mode, rather than
// failing outright. The Manager's health monitor surfaces this on
// HealthWarningObservable (§6) instead of treating it as a backend failure.
type HealthReporter interface {
	// HealthWarning returns a human-readable description of a currently
	// active degradation and true, or ("", false) when nothing is degraded.
	HealthWarning() (string, bool)
}
