// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package notification implements the dispatch decision in front of the
// platform's notification surface: rate limiting and level filtering.
// Actual display is an external collaborator (§1) reached through an
// injected ports.NotificationSink — this package never renders or delivers
// anything itself.
package notification

import (
	"sync"
	"time"

	"grimm.is/netfence/internal/clock"
	"grimm.is/netfence/internal/logging"
	"grimm.is/netfence/internal/model"
	"grimm.is/netfence/internal/ports"
)

// Level mirrors the teacher's three-tier notification severity.
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelCritical
)

const (
	idVPNPermissionRequired = "vpn-permission-required"
	idBackendFailed         = "backend-failed"
	idVPNConflict           = "vpn-conflict"
)

// Dispatcher wraps a platform NotificationSink with rate limiting (the same
// "skip if sent again within the window" dedup the teacher's Dispatcher.Send
// applies per channel/title) and a minimum severity filter, narrowed to the
// three fixed notification kinds this core actually raises. The ids used for
// rate limiting and Dismiss are the same ones the Manager already uses
// ("backend-failed", "vpn-permission-required"), so a Dismiss immediately
// un-suppresses the next occurrence of the same condition.
type Dispatcher struct {
	sink   ports.NotificationSink
	logger *logging.Logger
	clock  clock.Clock

	minLevel  Level
	rateLimit time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// Config controls the Dispatcher's filtering behavior.
type Config struct {
	// MinLevel suppresses notifications below this severity entirely.
	MinLevel Level
	// RateLimit is the dedup window per notification id; defaults to 60s,
	// matching the teacher's fixed one-minute window.
	RateLimit time.Duration
}

// DefaultConfig matches the teacher's hardcoded 60-second rate-limit window.
func DefaultConfig() Config {
	return Config{MinLevel: LevelInfo, RateLimit: 60 * time.Second}
}

// NewDispatcher builds a Dispatcher delivering through sink.
func NewDispatcher(sink ports.NotificationSink, cfg Config, clk clock.Clock, logger *logging.Logger) *Dispatcher {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultConfig().RateLimit
	}
	return &Dispatcher{
		sink:      sink,
		logger:    logger.WithComponent("notification"),
		clock:     clk,
		minLevel:  cfg.MinLevel,
		rateLimit: cfg.RateLimit,
		lastSent:  make(map[string]time.Time),
	}
}

var _ ports.NotificationSink = (*Dispatcher)(nil)

// ShowVPNPermissionRequired forwards the one-time VirtualDevice permission
// prompt (§4.2), rate limited like any other notification id.
func (d *Dispatcher) ShowVPNPermissionRequired() {
	if !d.allow(idVPNPermissionRequired, LevelWarning) {
		return
	}
	d.sink.ShowVPNPermissionRequired()
}

// ShowBackendFailed forwards a backend-failure alert, rate limited so a
// flapping backend doesn't spam the user every health check tick.
func (d *Dispatcher) ShowBackendFailed(bt model.BackendType) {
	if !d.allow(idBackendFailed, LevelCritical) {
		return
	}
	d.sink.ShowBackendFailed(bt)
}

// ShowVPNConflict forwards the other-VPN-active notification.
func (d *Dispatcher) ShowVPNConflict() {
	if !d.allow(idVPNConflict, LevelCritical) {
		return
	}
	d.sink.ShowVPNConflict()
}

// Dismiss clears the rate-limit entry for id before forwarding, so the next
// occurrence of the same condition is shown immediately rather than
// suppressed by a stale dedup window.
func (d *Dispatcher) Dismiss(id string) {
	d.mu.Lock()
	delete(d.lastSent, id)
	d.mu.Unlock()
	d.sink.Dismiss(id)
}

// allow reports whether a notification with the given id and severity
// should be delivered, recording the send time if so.
func (d *Dispatcher) allow(id string, level Level) bool {
	if level < d.minLevel {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	if last, ok := d.lastSent[id]; ok && now.Sub(last) < d.rateLimit {
		d.logger.Debug("notification rate limited", "id", id)
		return false
	}
	d.lastSent[id] = now

	if len(d.lastSent) > 1000 {
		d.lastSent = map[string]time.Time{id: now}
	}
	return true
}
