// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sim

import (
	"sync"

	"grimm.is/netfence/internal/logging"
	"grimm.is/netfence/internal/model"
	"grimm.is/netfence/internal/ports"
)

// NotificationSink is a log-only ports.NotificationSink: a demo harness has
// no real notification shade to draw into, so it just logs what would have
// been shown and records it for a test to assert against.
type NotificationSink struct {
	logger *logging.Logger

	mu        sync.Mutex
	shown     []string
	dismissed []string
}

// NewNotificationSink constructs a logging NotificationSink.
func NewNotificationSink(logger *logging.Logger) *NotificationSink {
	if logger == nil {
		logger = logging.Default()
	}
	return &NotificationSink{logger: logger.WithComponent("sim-notify")}
}

var _ ports.NotificationSink = (*NotificationSink)(nil)

func (n *NotificationSink) ShowVPNPermissionRequired() {
	n.record("vpn-permission-required")
	n.logger.Info("notification: VirtualDevice permission required")
}

func (n *NotificationSink) ShowBackendFailed(bt model.BackendType) {
	n.record("backend-failed")
	n.logger.Info("notification: backend failed", "backend", bt.String())
}

func (n *NotificationSink) ShowVPNConflict() {
	n.record("vpn-conflict")
	n.logger.Info("notification: another VPN app is active")
}

func (n *NotificationSink) Dismiss(id string) {
	n.mu.Lock()
	n.dismissed = append(n.dismissed, id)
	n.mu.Unlock()
	n.logger.Info("notification dismissed", "id", id)
}

func (n *NotificationSink) record(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = append(n.shown, id)
}

// Shown returns every notification id shown so far, in order.
func (n *NotificationSink) Shown() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.shown))
	copy(out, n.shown)
	return out
}

// Dismissed returns every notification id dismissed so far, in order.
func (n *NotificationSink) Dismissed() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.dismissed))
	copy(out, n.dismissed)
	return out
}
