// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package derive computes the desired per-UID enforcement set from the raw
// rule/app/OS-state inputs (§4.7), and migrates granular rules down to
// all-or-nothing when the active backend can't enforce them.
package derive

import "grimm.is/netfence/internal/model"

// Inputs bundles everything the derivation needs for one pass.
type Inputs struct {
	Rules         []model.FirewallRule
	Apps          []model.AppInfo
	NetworkType   model.NetworkType
	ScreenOn      bool
	DefaultPolicy model.DefaultPolicy
	AllowCritical bool
}

// Result is the derived block sets, split by dimension, and ready to hand
// to a Backend's ApplyRules.
type Result struct {
	Internet map[int]bool
	LAN      map[int]bool
}

// Derive computes the desired enforcement set per §4.7.
func Derive(in Inputs) Result {
	rulesByUID := groupRulesByUID(in.Rules)
	exemptUID := exemptUIDs(in.Apps)

	internet := make(map[int]bool)
	for _, app := range in.Apps {
		if !app.RequestsNetworkPermission {
			continue
		}
		if shouldBlockUID(app.UID, rulesByUID, exemptUID, in) {
			internet[app.UID] = true
		}
	}

	lan := lanBlockSet(in.Rules, exemptUID, in.AllowCritical)

	return Result{Internet: internet, LAN: lan}
}

func shouldBlockUID(uid int, rulesByUID map[int][]model.FirewallRule, exempt map[int]bool, in Inputs) bool {
	if !in.AllowCritical && exempt[uid] {
		return false
	}

	rules, hasRules := rulesByUID[uid]
	if hasRules {
		for _, r := range rules {
			if !r.Enabled {
				continue
			}
			if (!in.ScreenOn && r.BlockWhenBackground) || blockedOn(r, in.NetworkType) {
				return true
			}
		}
		return false
	}

	if in.DefaultPolicy == model.DefaultPolicyBlockAll {
		return !exempt[uid]
	}
	return false
}

func blockedOn(r model.FirewallRule, nt model.NetworkType) bool {
	switch nt {
	case model.NetworkWifi:
		return r.WifiBlocked
	case model.NetworkMobile:
		return r.MobileBlocked
	case model.NetworkRoaming:
		return r.RoamingBlocked
	default:
		return false
	}
}

// lanBlockSet computes the uids whose rules mark lanBlocked, exempting
// system-critical/VPN-declaring UIDs the same way as internet blocking.
func lanBlockSet(rules []model.FirewallRule, exempt map[int]bool, allowCritical bool) map[int]bool {
	out := make(map[int]bool)
	for _, r := range rules {
		if !r.Enabled || !r.LANBlocked {
			continue
		}
		if !allowCritical && exempt[r.UID] {
			continue
		}
		out[r.UID] = true
	}
	return out
}

// exemptUIDs returns the set of UIDs that contain at least one
// system-critical or VPN-service-declaring package: the shared-UID
// exemption that protects against a non-critical package riding along on a
// critical UID.
// exemptUIDs protects a UID from the default-policy block-all sweep
// regardless of allowCritical: with allowCritical off, step 1's always-
// allow already covers it; with allowCritical on, this is the only thing
// that keeps a freshly-installed critical app from being swept up before
// a rule exists for it.
func exemptUIDs(apps []model.AppInfo) map[int]bool {
	exempt := make(map[int]bool)
	for _, a := range apps {
		if a.IsSystemCritical || a.DeclaresVpnService {
			exempt[a.UID] = true
		}
	}
	return exempt
}

func groupRulesByUID(rules []model.FirewallRule) map[int][]model.FirewallRule {
	out := make(map[int][]model.FirewallRule)
	for _, r := range rules {
		out[r.UID] = append(out[r.UID], r)
	}
	return out
}

// MigrateToAllOrNothing rewrites any rule that blocks some networks but not
// all to block all networks, conservatively, for backends that can't
// enforce granular rules (§4.7). It is idempotent: rules already
// all-or-nothing are untouched.
func MigrateToAllOrNothing(rules []model.FirewallRule) []model.FirewallRule {
	out := make([]model.FirewallRule, len(rules))
	for i, r := range rules {
		if r.Enabled && isPartiallyBlocked(r) {
			r.WifiBlocked = true
			r.MobileBlocked = true
			r.RoamingBlocked = true
		}
		out[i] = r
	}
	return out
}

func isPartiallyBlocked(r model.FirewallRule) bool {
	blocked := r.WifiBlocked || r.MobileBlocked || r.RoamingBlocked
	allBlocked := r.WifiBlocked && r.MobileBlocked && r.RoamingBlocked
	return blocked && !allBlocked
}
