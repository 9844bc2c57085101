// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package sim provides reference implementations of the external contracts
// declared in internal/ports, suitable for a demo harness: a real
// netlink-driven AssistChannel and VPNServiceController, and simple
// in-memory stand-ins for the rest (RuleStore, PackageSource,
// PrivilegeProbe, OsObserver, NotificationSink). None of this is imported
// by the core itself — the Manager and backends only ever see
// internal/ports interfaces.
package sim

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"syscall"

	"github.com/vishvananda/netlink"

	"grimm.is/netfence/internal/logging"
	"grimm.is/netfence/internal/ports"
)

// blockTableID is the dedicated routing table every per-UID "block" rule
// points at; it carries a single unreachable default route, so a UID routed
// into it gets ENETUNREACH on every packet rather than falling through to
// the normal routing tables (the netlink equivalent of PolicyChain's
// platform deny chain / NetPolicy's reject-all UID policy).
const blockTableID = 52342

// AssistChannel is the reference "privileged assist service" PolicyChain
// and NetPolicy are written against (ports.AssistChannel), driving real
// per-UID policy routing rules through vishvananda/netlink the same way
// link/qdisc/address mutations are driven elsewhere in this codebase
// (NewRule/RuleAdd/RuleDel, tolerating EEXIST/ESRCH/ENOENT as "already
// applied"/"already gone").
type AssistChannel struct {
	logger *logging.Logger
	nl     netlinker

	mu              sync.Mutex
	blockRuleActive map[int]bool // uid -> whether its block rule is installed

	// netpolicyMask records which policy mask the simulated binder accepts
	// on first probe, mirroring a real platform's one-shot capability
	// negotiation.
	netpolicyMask string
}

// netlinker narrows vishvananda/netlink to the calls AssistChannel needs, the
// same seam the teacher's own netlink-driven managers mock behind
// (MockNetlinker) rather than calling the package functions directly.
type netlinker interface {
	RouteAdd(route *netlink.Route) error
	RuleAdd(rule *netlink.Rule) error
	RuleDel(rule *netlink.Rule) error
}

type realNetlinker struct{}

func (realNetlinker) RouteAdd(route *netlink.Route) error { return netlink.RouteAdd(route) }
func (realNetlinker) RuleAdd(rule *netlink.Rule) error    { return netlink.RuleAdd(rule) }
func (realNetlinker) RuleDel(rule *netlink.Rule) error    { return netlink.RuleDel(rule) }

// NewAssistChannel constructs a netlink-backed AssistChannel.
func NewAssistChannel(logger *logging.Logger) *AssistChannel {
	if logger == nil {
		logger = logging.Default()
	}
	return &AssistChannel{
		logger:          logger.WithComponent("sim-assist"),
		nl:              realNetlinker{},
		blockRuleActive: make(map[int]bool),
	}
}

var _ ports.AssistChannel = (*AssistChannel)(nil)

// Exec implements the fixed command vocabulary PolicyChain and NetPolicy
// issue against the assist channel (§4.4/§4.5).
func (a *AssistChannel) Exec(ctx context.Context, cmd string, args ...string) (int, string, error) {
	if err := ctx.Err(); err != nil {
		return -1, "", err
	}

	switch cmd {
	case "policychain-enable":
		if err := a.ensureBlockTable(); err != nil {
			return 1, "", err
		}
		return 0, "", nil

	case "policychain-disable-all":
		a.mu.Lock()
		uids := make([]int, 0, len(a.blockRuleActive))
		for uid, active := range a.blockRuleActive {
			if active {
				uids = append(uids, uid)
			}
		}
		a.mu.Unlock()
		for _, uid := range uids {
			if err := a.setUIDBlocked(uid, false); err != nil {
				return 1, "", err
			}
		}
		return 0, "", nil

	case "policychain-set-package":
		if len(args) != 2 {
			return 1, "", fmt.Errorf("policychain-set-package: want uid, blocked")
		}
		uid, err := strconv.Atoi(args[0])
		if err != nil {
			return 1, "", err
		}
		blocked, err := strconv.ParseBool(args[1])
		if err != nil {
			return 1, "", err
		}
		if err := a.setUIDBlocked(uid, blocked); err != nil {
			return 1, "", err
		}
		return 0, "", nil

	case "netpolicy-probe":
		if len(args) != 1 {
			return 1, "", fmt.Errorf("netpolicy-probe: want one mask argument")
		}
		a.mu.Lock()
		if a.netpolicyMask == "" {
			a.netpolicyMask = args[0]
		}
		accepted := a.netpolicyMask == args[0]
		a.mu.Unlock()
		if !accepted {
			return 1, "", fmt.Errorf("netpolicy: mask %s rejected by platform", args[0])
		}
		return 0, "", nil

	case "netpolicy-set-uid":
		if len(args) != 3 {
			return 1, "", fmt.Errorf("netpolicy-set-uid: want uid, blocked, mask")
		}
		uid, err := strconv.Atoi(args[0])
		if err != nil {
			return 1, "", err
		}
		blocked, err := strconv.ParseBool(args[1])
		if err != nil {
			return 1, "", err
		}
		if err := a.setUIDBlocked(uid, blocked); err != nil {
			return 1, "", err
		}
		return 0, "", nil

	default:
		return 1, "", fmt.Errorf("assist: unknown command %q", cmd)
	}
}

// SystemServiceBinder simulates obtaining a handle to a hidden system
// service by name; NetPolicy only checks that this succeeds, never
// inspects the handle's type.
func (a *AssistChannel) SystemServiceBinder(ctx context.Context, name string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return name, nil
}

func (a *AssistChannel) ensureBlockTable() error {
	route := &netlink.Route{
		Table: blockTableID,
		Type:  syscall.RTN_UNREACHABLE,
	}
	if err := a.nl.RouteAdd(route); err != nil && err != syscall.EEXIST {
		return fmt.Errorf("install unreachable route in table %d: %w", blockTableID, err)
	}
	return nil
}

func (a *AssistChannel) setUIDBlocked(uid int, blocked bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	already := a.blockRuleActive[uid]
	if already == blocked {
		return nil
	}

	rule := netlink.NewRule()
	rule.Table = blockTableID
	rule.UIDRange = netlink.NewRuleUIDRange(uint32(uid), uint32(uid))

	if blocked {
		if err := a.nl.RuleAdd(rule); err != nil && err != syscall.EEXIST {
			return fmt.Errorf("add block rule for uid %d: %w", uid, err)
		}
		a.blockRuleActive[uid] = true
		a.logger.Info("installed per-uid block rule", "uid", uid)
		return nil
	}

	if err := a.nl.RuleDel(rule); err != nil && err != syscall.ESRCH && err != syscall.ENOENT {
		return fmt.Errorf("remove block rule for uid %d: %w", uid, err)
	}
	a.blockRuleActive[uid] = false
	a.logger.Info("removed per-uid block rule", "uid", uid)
	return nil
}
