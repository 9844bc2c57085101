// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package netpolicy implements the NetPolicy backend (§4.5): a reflective
// call into the system's hidden network-policy binder, reached through the
// assist channel. There is no real third-party networking library to
// ground this one on (unlike PacketFilter/PolicyChain, the "hidden system
// service" this backend binds to only exists on the target mobile OS) — see
// DESIGN.md for that call.
package netpolicy

import (
	"context"
	"strconv"
	"sync"

	"grimm.is/netfence/internal/backend"
	nferrors "grimm.is/netfence/internal/errors"
	"grimm.is/netfence/internal/logging"
	"grimm.is/netfence/internal/model"
	"grimm.is/netfence/internal/ports"
)

// PolicyMask is the probed policy this backend applies per UID.
type PolicyMask int

const (
	// PolicyRejectAll blocks the UID on every network.
	PolicyRejectAll PolicyMask = iota
	// PolicyRejectMeteredBackground restricts coverage to metered
	// networks only — the fallback when the platform rejects RejectAll.
	PolicyRejectMeteredBackground
)

const serviceName = "netpolicy"

// Backend is the NetPolicy implementation of backend.Backend.
type Backend struct {
	assist ports.AssistChannel
	logger *logging.Logger

	mu       sync.Mutex
	binder   any
	probed   bool
	mask     PolicyMask
	applied  model.AppliedPolicy
	started  bool
}

// New constructs a NetPolicy backend driven through assist.
func New(assist ports.AssistChannel, logger *logging.Logger) *Backend {
	if logger == nil {
		logger = logging.Default()
	}
	return &Backend{
		assist:  assist,
		logger:  logger.WithComponent("netpolicy"),
		applied: make(model.AppliedPolicy),
	}
}

var _ backend.Backend = (*Backend)(nil)
var _ backend.HealthReporter = (*Backend)(nil)

func (b *Backend) BackendType() model.BackendType { return model.BackendNetPolicy }

func (b *Backend) SupportsGranularControl() bool { return false }

func (b *Backend) CheckAvailability(ctx context.Context, priv model.Privileges) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !priv.HasAssist {
		return nferrors.New(nferrors.KindUnavailable, "netpolicy requires an assist channel")
	}
	return nil
}

// Start obtains the system netpolicy binder through the assist channel
// (§4.5). The policy mask itself isn't probed until the first ApplyRules
// call, since probing requires actually attempting a SetUidPolicy.
func (b *Backend) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	handle, err := b.assist.SystemServiceBinder(ctx, serviceName)
	if err != nil {
		return nferrors.Wrap(err, nferrors.KindBackendStartFailed, "netpolicy binder unavailable")
	}
	b.binder = handle
	b.started = true
	b.probed = false
	b.logger.Info("netpolicy backend started")
	return nil
}

func (b *Backend) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.binder = nil
	b.started = false
	b.probed = false
	b.applied = make(model.AppliedPolicy)
	b.logger.Info("netpolicy backend stopped")
	return nil
}

func (b *Backend) IsActive(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

// HealthWarning implements backend.HealthReporter: once the mask probe has
// fallen back to metered-only coverage, every health tick reports it so the
// reduced coverage reaches HealthWarningObservable rather than only the log
// (§9 open question 4).
func (b *Backend) HealthWarning() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.probed && b.mask == PolicyRejectMeteredBackground {
		return "netpolicy: platform rejected full blocking, falling back to metered-only coverage", true
	}
	return "", false
}

// ApplyRules collapses desired into all-or-nothing per UID and, on first
// call, probes which policy mask the platform accepts: try RejectAll, fall
// back to RejectMeteredBackground if the binder refuses it (§4.5).
func (b *Backend) ApplyRules(ctx context.Context, desired backend.Desired) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.probed {
		mask, err := probeMask(ctx, b.assist)
		if err != nil {
			return nferrors.Wrap(err, nferrors.KindBackendApplyFailed, "netpolicy mask probe failed")
		}
		b.mask = mask
		b.probed = true
		b.logger.Info("netpolicy mask probed", "mask", maskName(mask))
	}

	for uid, block := range desired.Internet {
		if cached, ok := b.applied[uid]; ok && cached == block {
			continue
		}
		if err := setUIDPolicy(ctx, b.assist, uid, block, b.mask); err != nil {
			return nferrors.Wrapf(err, nferrors.KindBackendApplyFailed, "netpolicy set-uid-policy failed for uid %d", uid)
		}
		b.applied[uid] = block
	}

	for uid, block := range b.applied {
		if _, present := desired.Internet[uid]; !present && block {
			if err := setUIDPolicy(ctx, b.assist, uid, false, b.mask); err != nil {
				return nferrors.Wrapf(err, nferrors.KindBackendApplyFailed, "netpolicy clear failed for uid %d", uid)
			}
			b.applied[uid] = false
		}
	}

	return nil
}

func probeMask(ctx context.Context, assist ports.AssistChannel) (PolicyMask, error) {
	if _, _, err := assist.Exec(ctx, "netpolicy-probe", "reject_all"); err == nil {
		return PolicyRejectAll, nil
	}
	if _, _, err := assist.Exec(ctx, "netpolicy-probe", "reject_metered_background"); err != nil {
		return PolicyRejectAll, err
	}
	return PolicyRejectMeteredBackground, nil
}

func setUIDPolicy(ctx context.Context, assist ports.AssistChannel, uid int, block bool, mask PolicyMask) error {
	_, _, err := assist.Exec(ctx, "netpolicy-set-uid", strconv.Itoa(uid), strconv.FormatBool(block), maskName(mask))
	return err
}

func maskName(m PolicyMask) string {
	if m == PolicyRejectMeteredBackground {
		return "reject_metered_background"
	}
	return "reject_all"
}
