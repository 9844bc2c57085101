// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package policychain implements the PolicyChain backend (§4.4): an
// all-or-nothing per-package network toggle driven through the privileged
// assist channel, which on Linux is backed by a per-UID routing-policy-
// database rule (see internal/sim for the netlink-driving reference
// implementation of the assist channel this backend only talks to through
// ports.AssistChannel).
package policychain

import (
	"context"
	"fmt"
	"sync"

	"grimm.is/netfence/internal/backend"
	nferrors "grimm.is/netfence/internal/errors"
	"grimm.is/netfence/internal/logging"
	"grimm.is/netfence/internal/model"
	"grimm.is/netfence/internal/ports"
)

var _ backend.Backend = (*Backend)(nil)

// APIPlatformChain is the minimum platform API level required, mirroring
// planner.APIPlatformChain (kept independent to avoid backend ↔ planner
// coupling; both are grounded on the same spec constant).
const APIPlatformChain = 24

const (
	cmdEnableChain = "policychain-enable"
	cmdSetPackage  = "policychain-set-package"
	cmdDisableAll  = "policychain-disable-all"
)

// Backend is the PolicyChain implementation of backend.Backend.
type Backend struct {
	assist ports.AssistChannel
	logger *logging.Logger

	mu      sync.Mutex
	applied model.AppliedPolicy
	started bool
}

// New constructs a PolicyChain backend driven through assist.
func New(assist ports.AssistChannel, logger *logging.Logger) *Backend {
	if logger == nil {
		logger = logging.Default()
	}
	return &Backend{
		assist:  assist,
		logger:  logger.WithComponent("policychain"),
		applied: make(model.AppliedPolicy),
	}
}

func (b *Backend) BackendType() model.BackendType { return model.BackendPolicyChain }

func (b *Backend) SupportsGranularControl() bool { return false }

func (b *Backend) CheckAvailability(ctx context.Context, priv model.Privileges) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !priv.HasAssist || priv.APILevel < APIPlatformChain {
		return nferrors.Errorf(nferrors.KindUnavailable, "policychain requires assist channel and API level >= %d", APIPlatformChain)
	}
	return nil
}

// Start enables the platform-provided deny chain globally via the assist
// channel (§4.4 step 1).
func (b *Backend) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, _, err := b.assist.Exec(ctx, cmdEnableChain); err != nil {
		return nferrors.Wrap(err, nferrors.KindBackendStartFailed, "policychain enable failed")
	}
	b.started = true
	b.logger.Info("policychain backend started")
	return nil
}

// Stop disables per-package overrides and the global chain, tolerating
// "not enabled" (§4.2 Stop algorithm: a backend's Stop must be idempotent).
func (b *Backend) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, _, _ = b.assist.Exec(ctx, cmdDisableAll)
	b.started = false
	b.applied = make(model.AppliedPolicy)
	b.logger.Info("policychain backend stopped")
	return nil
}

func (b *Backend) IsActive(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

// ApplyRules collapses desired into all-or-nothing per UID (desired.LAN is
// ignored: this backend has no LAN dimension) and applies only on change
// against the cached AppliedPolicy (§4.4 diff cache).
func (b *Backend) ApplyRules(ctx context.Context, desired backend.Desired) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for uid, block := range desired.Internet {
		if cached, ok := b.applied[uid]; ok && cached == block {
			continue
		}
		if _, _, err := b.assist.Exec(ctx, cmdSetPackage, fmt.Sprintf("%d", uid), fmt.Sprintf("%t", block)); err != nil {
			return nferrors.Wrapf(err, nferrors.KindBackendApplyFailed, "policychain set-package failed for uid %d", uid)
		}
		b.applied[uid] = block
	}

	// Any uid previously blocked but no longer present in desired is
	// implicitly unblocked (the UID no longer needs enforcement).
	for uid, block := range b.applied {
		if _, present := desired.Internet[uid]; !present && block {
			if _, _, err := b.assist.Exec(ctx, cmdSetPackage, fmt.Sprintf("%d", uid), "false"); err != nil {
				return nferrors.Wrapf(err, nferrors.KindBackendApplyFailed, "policychain clear failed for uid %d", uid)
			}
			b.applied[uid] = false
		}
	}

	return nil
}
