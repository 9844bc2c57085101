// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package planner implements the pure backend-selection function (§4.1):
// no I/O, no clock, no retries — just (mode, privileges, otherVpnActive) →
// StartPlan.
package planner

import (
	nferrors "grimm.is/netfence/internal/errors"
	"grimm.is/netfence/internal/model"
)

// APIPlatformChain is the minimum platform API level PolicyChain requires
// (§4.4).
const APIPlatformChain = 24

// AutoPreference is the Auto-mode eligibility order (§4.1): PacketFilter >
// PolicyChain > NetPolicy > VirtualDevice. Exported so the manager can reuse
// the same ordering when it needs to reason about "the next eligible
// backend" around a just-failed one, without this package knowing anything
// about runtime failure state (§4.2 failure semantics).
var AutoPreference = []model.BackendType{
	model.BackendPacketFilter,
	model.BackendPolicyChain,
	model.BackendNetPolicy,
	model.BackendVirtualDevice,
}

// Eligible reports whether bt's availability predicate (§4.3-4.6) passes
// under the given privileges, independent of any live OS probing a real
// Backend.CheckAvailability would also perform (nft-tool presence, the
// assist channel's platform-chain support, etc. are deliberately not
// re-implemented here — the Planner only reasons about privileges, per
// §4.1 "performs no I/O other than the pre-computed privilege snapshot").
func Eligible(bt model.BackendType, priv model.Privileges) bool {
	switch bt {
	case model.BackendPacketFilter:
		return priv.HasRoot || (priv.HasAssist && priv.AssistIsRoot)
	case model.BackendPolicyChain:
		return priv.HasAssist && priv.APILevel >= APIPlatformChain
	case model.BackendNetPolicy:
		return priv.HasAssist
	case model.BackendVirtualDevice:
		return true
	default:
		return false
	}
}

// Plan computes a StartPlan for the given mode and privileges (§4.1).
// otherVpnActive disqualifies VirtualDevice as an Auto-mode candidate (Auto
// has other backends to fall back to); a manual VirtualDevice request while
// another VPN-slot service is active is the Manager's job to refuse
// up-front with KindOtherVPNActive (§4.2 step 2), before Plan is even
// called, so Plan itself does not special-case the manual case.
func Plan(mode model.Mode, priv model.Privileges, otherVpnActive bool) (model.StartPlan, error) {
	var bt model.BackendType

	switch mode {
	case model.ModeAuto:
		found := false
		for _, candidate := range AutoPreference {
			if candidate == model.BackendVirtualDevice && otherVpnActive {
				continue
			}
			if Eligible(candidate, priv) {
				bt = candidate
				found = true
				break
			}
		}
		if !found {
			return model.StartPlan{}, nferrors.New(nferrors.KindPlanFailure, "no eligible backend under current privileges")
		}
	case model.ModeVirtualDevice, model.ModePacketFilter, model.ModePolicyChain, model.ModeNetPolicy:
		bt = manualBackend(mode)
		if !Eligible(bt, priv) {
			return model.StartPlan{}, nferrors.Errorf(nferrors.KindUnavailable, "backend %s is unavailable under current privileges", bt)
		}
	default:
		return model.StartPlan{}, nferrors.Errorf(nferrors.KindPlanFailure, "unknown mode %v", mode)
	}

	return model.StartPlan{
		Mode:                            mode,
		BackendType:                     bt,
		RequiresVirtualDevicePermission: bt == model.BackendVirtualDevice,
	}, nil
}

func manualBackend(mode model.Mode) model.BackendType {
	switch mode {
	case model.ModeVirtualDevice:
		return model.BackendVirtualDevice
	case model.ModePolicyChain:
		return model.BackendPolicyChain
	case model.ModeNetPolicy:
		return model.BackendNetPolicy
	default:
		return model.BackendPacketFilter
	}
}
