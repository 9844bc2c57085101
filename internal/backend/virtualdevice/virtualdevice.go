// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package virtualdevice implements the VirtualDevice backend (§4.6): a thin
// adaptor that starts/stops an external packet engine through a
// VPNServiceController and trusts its own self-reported running flag,
// rather than touching packets itself.
package virtualdevice

import (
	"context"
	"sync"

	"grimm.is/netfence/internal/backend"
	nferrors "grimm.is/netfence/internal/errors"
	"grimm.is/netfence/internal/logging"
	"grimm.is/netfence/internal/model"
	"grimm.is/netfence/internal/ports"
)

// Backend is the VirtualDevice implementation of backend.Backend.
type Backend struct {
	controller ports.VPNServiceController
	logger     *logging.Logger

	mu      sync.Mutex
	started bool
}

// New constructs a VirtualDevice backend wrapping controller (the external
// packet engine's lifecycle handle).
func New(controller ports.VPNServiceController, logger *logging.Logger) *Backend {
	if logger == nil {
		logger = logging.Default()
	}
	return &Backend{controller: controller, logger: logger.WithComponent("virtualdevice")}
}

var _ backend.Backend = (*Backend)(nil)

func (b *Backend) BackendType() model.BackendType { return model.BackendVirtualDevice }

// SupportsGranularControl is true: the packet engine behind this backend
// can enforce per-network-type and per-LAN rules (§4.6), even though this
// Manager-facing Backend itself never builds them.
func (b *Backend) SupportsGranularControl() bool { return true }

// CheckAvailability is always satisfied given user permission (§4.6); the
// permission gate itself lives in the Manager's permission-watcher loop
// (§4.2), not here.
func (b *Backend) CheckAvailability(ctx context.Context, priv model.Privileges) error {
	return ctx.Err()
}

func (b *Backend) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.controller.Start(ctx); err != nil {
		return nferrors.Wrap(err, nferrors.KindBackendStartFailed, "virtual device service failed to start")
	}
	b.started = true
	b.logger.Info("virtualdevice backend started")
	return nil
}

func (b *Backend) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_ = b.controller.Stop(ctx)
	b.started = false
	b.logger.Info("virtualdevice backend stopped")
	return nil
}

// IsActive trusts the controller's own service-running flag rather than
// probing the packet engine (§4.6 "active detection").
func (b *Backend) IsActive(ctx context.Context) bool {
	return b.controller.IsRunning()
}

// ApplyRules is a no-op: the packet engine observes rule-change broadcasts
// and OS state itself (§4.6).
func (b *Backend) ApplyRules(ctx context.Context, desired backend.Desired) error {
	return nil
}
