// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package model holds the data types shared by the planner, rule
// derivation, the backends, and the manager: the entities of §3.
package model

import "time"

// FirewallRule is a single user-authored per-application rule, as read from
// the external RuleStore.
type FirewallRule struct {
	UID                 int
	PackageName         string
	ProfileID           string
	Enabled             bool
	WifiBlocked         bool
	MobileBlocked       bool
	RoamingBlocked      bool
	LANBlocked          bool
	BlockWhenBackground bool
	UpdatedAt           time.Time
}

// AppInfo describes one installed application as enumerated by the external
// PackageSource.
type AppInfo struct {
	UID                       int
	PackageName               string
	ProfileID                 string
	RequestsNetworkPermission bool
	DeclaresVpnService        bool
	IsSystemCritical          bool
}

// NetworkType is the kind of network connectivity currently observed.
type NetworkType int

const (
	NetworkNone NetworkType = iota
	NetworkWifi
	NetworkMobile
	NetworkRoaming
)

func (n NetworkType) String() string {
	switch n {
	case NetworkWifi:
		return "wifi"
	case NetworkMobile:
		return "mobile"
	case NetworkRoaming:
		return "roaming"
	default:
		return "none"
	}
}

// Mode is the persisted user choice of which backend family to run.
type Mode int

const (
	ModeAuto Mode = iota
	ModeVirtualDevice
	ModePacketFilter
	ModePolicyChain
	ModeNetPolicy
)

func (m Mode) String() string {
	switch m {
	case ModeVirtualDevice:
		return "virtualdevice"
	case ModePacketFilter:
		return "packetfilter"
	case ModePolicyChain:
		return "policychain"
	case ModeNetPolicy:
		return "netpolicy"
	default:
		return "auto"
	}
}

// ParseMode maps a persisted-state string (§6) back to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "auto":
		return ModeAuto, true
	case "virtualdevice":
		return ModeVirtualDevice, true
	case "packetfilter":
		return ModePacketFilter, true
	case "policychain":
		return ModePolicyChain, true
	case "netpolicy":
		return ModeNetPolicy, true
	default:
		return ModeAuto, false
	}
}

// BackendType tags which of the four backend implementations is meant or
// currently running.
type BackendType int

const (
	BackendPacketFilter BackendType = iota
	BackendPolicyChain
	BackendNetPolicy
	BackendVirtualDevice
)

func (b BackendType) String() string {
	switch b {
	case BackendPolicyChain:
		return "policychain"
	case BackendNetPolicy:
		return "netpolicy"
	case BackendVirtualDevice:
		return "virtualdevice"
	default:
		return "packetfilter"
	}
}

// ModeForBackend maps a concrete BackendType to the manual Mode that
// selects it.
func ModeForBackend(b BackendType) Mode {
	switch b {
	case BackendPolicyChain:
		return ModePolicyChain
	case BackendNetPolicy:
		return ModeNetPolicy
	case BackendVirtualDevice:
		return ModeVirtualDevice
	default:
		return ModePacketFilter
	}
}

// DefaultPolicy governs enforcement for UIDs with no matching rule.
type DefaultPolicy int

const (
	DefaultPolicyAllowAll DefaultPolicy = iota
	DefaultPolicyBlockAll
)

func (d DefaultPolicy) String() string {
	if d == DefaultPolicyBlockAll {
		return "block_all"
	}
	return "allow_all"
}

// ParseDefaultPolicy maps a persisted-state string back to a DefaultPolicy.
func ParseDefaultPolicy(s string) (DefaultPolicy, bool) {
	switch s {
	case "allow_all":
		return DefaultPolicyAllowAll, true
	case "block_all":
		return DefaultPolicyBlockAll, true
	default:
		return DefaultPolicyAllowAll, false
	}
}

// Privileges is a point-in-time snapshot of the two independent privilege
// channels the planner reasons about.
type Privileges struct {
	HasRoot      bool
	HasAssist    bool
	AssistIsRoot bool
	APILevel     int
}

// StartPlan is the Planner's ephemeral, side-effect-free output.
type StartPlan struct {
	Mode                           Mode
	BackendType                    BackendType
	RequiresVirtualDevicePermission bool
}

// FirewallStateKind discriminates the FirewallState variants.
type FirewallStateKind int

const (
	StateStopped FirewallStateKind = iota
	StateStarting
	StateRunning
	StateError
)

// FirewallState is the single source of truth exposed to clients (§3).
type FirewallState struct {
	Kind FirewallStateKind

	// Starting/Running carry the (optional/definite) backend type.
	Backend *BackendType

	// Error carries a message and the last-known backend, if any.
	Message     string
	LastBackend *BackendType
}

func Stopped() FirewallState { return FirewallState{Kind: StateStopped} }

func Starting(bt *BackendType) FirewallState {
	return FirewallState{Kind: StateStarting, Backend: bt}
}

func Running(bt BackendType) FirewallState {
	b := bt
	return FirewallState{Kind: StateRunning, Backend: &b}
}

func ErrorState(message string, lastBackend *BackendType) FirewallState {
	return FirewallState{Kind: StateError, Message: message, LastBackend: lastBackend}
}

func (s FirewallState) String() string {
	switch s.Kind {
	case StateStarting:
		if s.Backend != nil {
			return "starting(" + s.Backend.String() + ")"
		}
		return "starting"
	case StateRunning:
		return "running(" + s.Backend.String() + ")"
	case StateError:
		return "error(" + s.Message + ")"
	default:
		return "stopped"
	}
}

// BlockSet is the set of UIDs currently enforced as DROP, cached inside the
// PacketFilter backend. Two dimensions are tracked: internet-wide blocking
// and LAN-destination blocking.
type BlockSet struct {
	Internet map[int]bool
	LAN      map[int]bool
}

func NewBlockSet() BlockSet {
	return BlockSet{Internet: make(map[int]bool), LAN: make(map[int]bool)}
}

// AppliedPolicy is the UID → block decision cache used by the non-granular
// backends (PolicyChain, NetPolicy).
type AppliedPolicy map[int]bool
