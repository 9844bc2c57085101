// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package derive

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"grimm.is/netfence/internal/model"
)

func TestDerive_DefaultPolicyAllowAllNoRules(t *testing.T) {
	in := Inputs{
		Apps:          []model.AppInfo{{UID: 100, RequestsNetworkPermission: true}},
		DefaultPolicy: model.DefaultPolicyAllowAll,
		NetworkType:   model.NetworkWifi,
		ScreenOn:      true,
	}
	res := Derive(in)
	assert.False(t, res.Internet[100])
}

func TestDerive_DefaultPolicyBlockAllNoRules(t *testing.T) {
	in := Inputs{
		Apps:          []model.AppInfo{{UID: 100, RequestsNetworkPermission: true}},
		DefaultPolicy: model.DefaultPolicyBlockAll,
		NetworkType:   model.NetworkWifi,
		ScreenOn:      true,
	}
	res := Derive(in)
	assert.True(t, res.Internet[100])
}

func TestDerive_CriticalUIDAlwaysAllowedWhenAllowCriticalOff(t *testing.T) {
	in := Inputs{
		Apps: []model.AppInfo{
			{UID: 100, PackageName: "com.android.system", RequestsNetworkPermission: true, IsSystemCritical: true},
		},
		Rules: []model.FirewallRule{
			{UID: 100, Enabled: true, WifiBlocked: true, MobileBlocked: true, RoamingBlocked: true},
		},
		DefaultPolicy: model.DefaultPolicyAllowAll,
		AllowCritical: false,
		NetworkType:   model.NetworkWifi,
		ScreenOn:      true,
	}
	res := Derive(in)
	assert.False(t, res.Internet[100], "system-critical UID must never be blocked when allowCritical=false")
}

func TestDerive_CriticalUIDExemptFromDefaultBlockAllEvenWhenAllowCriticalOn(t *testing.T) {
	in := Inputs{
		Apps: []model.AppInfo{
			{UID: 100, PackageName: "com.android.system", RequestsNetworkPermission: true, IsSystemCritical: true},
		},
		DefaultPolicy: model.DefaultPolicyBlockAll,
		AllowCritical: true,
		NetworkType:   model.NetworkWifi,
		ScreenOn:      true,
	}
	res := Derive(in)
	assert.False(t, res.Internet[100])
}

func TestDerive_SharedUIDExemption(t *testing.T) {
	// Two packages share UID 200; one is a regular app, the other declares
	// a VPN service. The whole UID must be exempt.
	in := Inputs{
		Apps: []model.AppInfo{
			{UID: 200, PackageName: "com.example.app", RequestsNetworkPermission: true},
			{UID: 200, PackageName: "com.example.vpnhelper", RequestsNetworkPermission: true, DeclaresVpnService: true},
		},
		DefaultPolicy: model.DefaultPolicyBlockAll,
		AllowCritical: false,
		NetworkType:   model.NetworkWifi,
		ScreenOn:      true,
	}
	res := Derive(in)
	assert.False(t, res.Internet[200])
}

func TestDerive_MostRestrictiveAcrossMultipleRulesForSameUID(t *testing.T) {
	in := Inputs{
		Apps: []model.AppInfo{{UID: 300, RequestsNetworkPermission: true}},
		Rules: []model.FirewallRule{
			{UID: 300, Enabled: true, WifiBlocked: false},
			{UID: 300, Enabled: true, WifiBlocked: true},
		},
		DefaultPolicy: model.DefaultPolicyAllowAll,
		NetworkType:   model.NetworkWifi,
		ScreenOn:      true,
	}
	res := Derive(in)
	assert.True(t, res.Internet[300])
}

func TestDerive_BlockWhenBackground(t *testing.T) {
	in := Inputs{
		Apps: []model.AppInfo{{UID: 400, RequestsNetworkPermission: true}},
		Rules: []model.FirewallRule{
			{UID: 400, Enabled: true, BlockWhenBackground: true},
		},
		DefaultPolicy: model.DefaultPolicyAllowAll,
		NetworkType:   model.NetworkWifi,
		ScreenOn:      false,
	}
	res := Derive(in)
	assert.True(t, res.Internet[400])

	in.ScreenOn = true
	res = Derive(in)
	assert.False(t, res.Internet[400])
}

func TestDerive_LANBlockSetRespectsExemption(t *testing.T) {
	in := Inputs{
		Apps: []model.AppInfo{
			{UID: 500, RequestsNetworkPermission: true, IsSystemCritical: true},
			{UID: 501, RequestsNetworkPermission: true},
		},
		Rules: []model.FirewallRule{
			{UID: 500, Enabled: true, LANBlocked: true},
			{UID: 501, Enabled: true, LANBlocked: true},
		},
	}
	res := Derive(in)
	assert.False(t, res.LAN[500])
	assert.True(t, res.LAN[501])
}

func TestMigrateToAllOrNothing(t *testing.T) {
	rules := []model.FirewallRule{
		{UID: 1, Enabled: true, WifiBlocked: true, MobileBlocked: false, RoamingBlocked: false},
		{UID: 2, Enabled: true, WifiBlocked: true, MobileBlocked: true, RoamingBlocked: true},
		{UID: 3, Enabled: false, WifiBlocked: true},
		{UID: 4, Enabled: true},
	}
	migrated := MigrateToAllOrNothing(rules)

	assert.True(t, migrated[0].WifiBlocked && migrated[0].MobileBlocked && migrated[0].RoamingBlocked)
	assert.True(t, migrated[1].WifiBlocked && migrated[1].MobileBlocked && migrated[1].RoamingBlocked)
	assert.False(t, migrated[2].MobileBlocked, "disabled rules are left alone")
	assert.False(t, migrated[3].WifiBlocked, "rules with nothing blocked stay untouched")
}

func TestMigrateToAllOrNothingIdempotent(t *testing.T) {
	rules := []model.FirewallRule{
		{UID: 1, Enabled: true, WifiBlocked: true, MobileBlocked: true, RoamingBlocked: true},
	}
	once := MigrateToAllOrNothing(rules)
	twice := MigrateToAllOrNothing(once)
	assert.Equal(t, once, twice)
}
