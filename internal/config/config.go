// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config declares the firewall core's own tunables in HCL, the same
// configuration language the rest of the platform uses, and the persisted
// state keys (§6) that carry user intent and liveness flags across process
// restarts via internal/state.
package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"

	nferrors "grimm.is/netfence/internal/errors"
	"grimm.is/netfence/internal/manager"
	"grimm.is/netfence/internal/model"
	"grimm.is/netfence/internal/state"
)

// ManagerTunables is the on-disk HCL shape for the Manager's one-time,
// non-runtime-changing tunables (§4.2, §4.8): interval durations are written
// as Go duration strings ("30s", "500ms") rather than bare integers, since
// that is the convention a human editing the file expects.
type ManagerTunables struct {
	SettleInterval   string `hcl:"settle_interval,optional" json:"settle_interval,omitempty"`
	DebounceInterval string `hcl:"debounce_interval,optional" json:"debounce_interval,omitempty"`

	HealthFastInterval    string `hcl:"health_fast_interval,optional" json:"health_fast_interval,omitempty"`
	HealthSlowInterval    string `hcl:"health_slow_interval,optional" json:"health_slow_interval,omitempty"`
	HealthStableThreshold int    `hcl:"health_stable_threshold,optional" json:"health_stable_threshold,omitempty"`

	PermissionBackoffStart       string `hcl:"permission_backoff_start,optional" json:"permission_backoff_start,omitempty"`
	PermissionBackoffCap         string `hcl:"permission_backoff_cap,optional" json:"permission_backoff_cap,omitempty"`
	PermissionBackoffMaxAttempts int    `hcl:"permission_backoff_max_attempts,optional" json:"permission_backoff_max_attempts,omitempty"`
}

// File is the top-level HCL document: `netfence.hcl` declares one `manager`
// block, mirroring the teacher's one-block-per-concern top-level Config
// layout.
type File struct {
	Manager *ManagerTunables `hcl:"manager,block" json:"manager,omitempty"`
}

// Load parses an HCL tunables file at path. A missing `manager` block is not
// an error: Resolve falls back to manager.DefaultConfig() for every field
// left unset.
func Load(path string) (*File, error) {
	var f File
	if err := hclsimple.DecodeFile(path, nil, &f); err != nil {
		return nil, nferrors.Wrap(err, nferrors.KindValidation, fmt.Sprintf("parse config %s", path))
	}
	return &f, nil
}

// Resolve turns the parsed HCL tunables into a manager.Config, defaulting
// every field the file left blank or zero.
func (f *File) Resolve() (manager.Config, error) {
	cfg := manager.DefaultConfig()
	if f == nil || f.Manager == nil {
		return cfg, nil
	}
	m := f.Manager

	var err error
	if cfg.SettleInterval, err = optionalDuration(m.SettleInterval, cfg.SettleInterval); err != nil {
		return cfg, err
	}
	if cfg.DebounceInterval, err = optionalDuration(m.DebounceInterval, cfg.DebounceInterval); err != nil {
		return cfg, err
	}
	if cfg.HealthFastInterval, err = optionalDuration(m.HealthFastInterval, cfg.HealthFastInterval); err != nil {
		return cfg, err
	}
	if cfg.HealthSlowInterval, err = optionalDuration(m.HealthSlowInterval, cfg.HealthSlowInterval); err != nil {
		return cfg, err
	}
	if cfg.PermissionBackoffStart, err = optionalDuration(m.PermissionBackoffStart, cfg.PermissionBackoffStart); err != nil {
		return cfg, err
	}
	if cfg.PermissionBackoffCap, err = optionalDuration(m.PermissionBackoffCap, cfg.PermissionBackoffCap); err != nil {
		return cfg, err
	}
	if m.HealthStableThreshold > 0 {
		cfg.HealthStableThreshold = m.HealthStableThreshold
	}
	if m.PermissionBackoffMaxAttempts > 0 {
		cfg.PermissionBackoffMaxAttempts = m.PermissionBackoffMaxAttempts
	}
	return cfg, nil
}

func optionalDuration(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, nferrors.Wrap(err, nferrors.KindValidation, fmt.Sprintf("invalid duration %q", raw))
	}
	return d, nil
}

// Persisted state bucket and key names (§6's "Persisted state layout").
const (
	Bucket = "manager"

	KeyFirewallEnabled           = "firewall_enabled"
	KeyFirewallMode              = "firewall_mode"
	KeyDefaultPolicy             = "default_policy"
	KeyAllowCritical             = "allow_critical"
	KeyPrivilegedServiceRunning  = "privileged_service_running"
	KeyPrivilegedBackendType     = "privileged_backend_type"
	KeyVirtualDeviceServiceState = "virtual_device_service_running"
)

// Intent is the user-facing, persisted subset of Manager state: whether the
// firewall should be running at all, which mode it should run in, and the
// default/critical-allowance policy to derive rules with.
type Intent struct {
	FirewallEnabled bool
	Mode            model.Mode
	DefaultPolicy   model.DefaultPolicy
	AllowCritical   bool
}

// DefaultIntent is used the first time the store has no saved intent (fresh
// install): firewall off, Auto mode, allow-all default policy.
func DefaultIntent() Intent {
	return Intent{
		FirewallEnabled: false,
		Mode:            model.ModeAuto,
		DefaultPolicy:   model.DefaultPolicyAllowAll,
		AllowCritical:   true,
	}
}

// LoadIntent reads the persisted user intent from store, falling back to
// DefaultIntent for any key that has never been written.
func LoadIntent(store state.Store) (Intent, error) {
	intent := DefaultIntent()

	if raw, err := store.Get(Bucket, KeyFirewallEnabled); err == nil {
		intent.FirewallEnabled = string(raw) == "true"
	} else if err != state.ErrKeyNotFound {
		return intent, err
	}

	if raw, err := store.Get(Bucket, KeyFirewallMode); err == nil {
		if mode, ok := model.ParseMode(string(raw)); ok {
			intent.Mode = mode
		}
	} else if err != state.ErrKeyNotFound {
		return intent, err
	}

	if raw, err := store.Get(Bucket, KeyDefaultPolicy); err == nil {
		if policy, ok := model.ParseDefaultPolicy(string(raw)); ok {
			intent.DefaultPolicy = policy
		}
	} else if err != state.ErrKeyNotFound {
		return intent, err
	}

	if raw, err := store.Get(Bucket, KeyAllowCritical); err == nil {
		intent.AllowCritical = string(raw) == "true"
	} else if err != state.ErrKeyNotFound {
		return intent, err
	}

	return intent, nil
}

// SaveIntent persists the user-facing subset of state. Called whenever the
// user toggles the firewall, changes mode, or changes policy — never on
// every reconciliation pass.
func SaveIntent(store state.Store, intent Intent) error {
	if err := store.CreateBucket(Bucket); err != nil && err != state.ErrBucketExists {
		return err
	}
	if err := store.Set(Bucket, KeyFirewallEnabled, []byte(boolString(intent.FirewallEnabled))); err != nil {
		return err
	}
	if err := store.Set(Bucket, KeyFirewallMode, []byte(intent.Mode.String())); err != nil {
		return err
	}
	if err := store.Set(Bucket, KeyDefaultPolicy, []byte(intent.DefaultPolicy.String())); err != nil {
		return err
	}
	return store.Set(Bucket, KeyAllowCritical, []byte(boolString(intent.AllowCritical)))
}

// LivenessStatus records the three liveness flags (§6) that distinguish
// "the Manager intends to run a privileged backend" from "it actually has
// one up" — read by the platform boot path to decide whether to restart the
// privileged service or the VPN service.
type LivenessStatus struct {
	PrivilegedServiceRunning   bool
	PrivilegedBackendType      string
	VirtualDeviceServiceActive bool
}

// SaveLiveness persists the liveness flags. The Manager does not call it;
// the flags are written only when a caller invokes it explicitly.
func SaveLiveness(store state.Store, status LivenessStatus) error {
	if err := store.CreateBucket(Bucket); err != nil && err != state.ErrBucketExists {
		return err
	}
	if err := store.Set(Bucket, KeyPrivilegedServiceRunning, []byte(boolString(status.PrivilegedServiceRunning))); err != nil {
		return err
	}
	if err := store.Set(Bucket, KeyPrivilegedBackendType, []byte(status.PrivilegedBackendType)); err != nil {
		return err
	}
	return store.Set(Bucket, KeyVirtualDeviceServiceState, []byte(boolString(status.VirtualDeviceServiceActive)))
}

// LoadLiveness reads the liveness flags, defaulting every unset key to "not
// running".
func LoadLiveness(store state.Store) (LivenessStatus, error) {
	var status LivenessStatus
	if raw, err := store.Get(Bucket, KeyPrivilegedServiceRunning); err == nil {
		status.PrivilegedServiceRunning = string(raw) == "true"
	} else if err != state.ErrKeyNotFound {
		return status, err
	}
	if raw, err := store.Get(Bucket, KeyPrivilegedBackendType); err == nil {
		status.PrivilegedBackendType = string(raw)
	} else if err != state.ErrKeyNotFound {
		return status, err
	}
	if raw, err := store.Get(Bucket, KeyVirtualDeviceServiceState); err == nil {
		status.VirtualDeviceServiceActive = string(raw) == "true"
	} else if err != state.ErrKeyNotFound {
		return status, err
	}
	return status, nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
