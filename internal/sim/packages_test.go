// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"grimm.is/netfence/internal/model"
)

func TestListNetworkAppsReturnsSeeded(t *testing.T) {
	p := NewPackageSource(model.AppInfo{UID: 10001, PackageName: "com.example.app"})

	apps, err := p.ListNetworkApps(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 1)
	require.Equal(t, "com.example.app", apps[0].PackageName)
}

func TestInstallAddsApp(t *testing.T) {
	p := NewPackageSource()
	p.Install(model.AppInfo{UID: 222, PackageName: "com.example.new"})

	apps, err := p.ListNetworkApps(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 1)
}

func TestUninstallRemovesApp(t *testing.T) {
	p := NewPackageSource(model.AppInfo{UID: 222, PackageName: "com.example.new"})
	p.Uninstall(222)

	apps, err := p.ListNetworkApps(context.Background())
	require.NoError(t, err)
	require.Empty(t, apps)
}
