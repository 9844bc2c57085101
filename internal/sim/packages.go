// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sim

import (
	"context"
	"sync"

	"grimm.is/netfence/internal/model"
	"grimm.is/netfence/internal/ports"
)

// PackageSource is an in-memory ports.PackageSource, a fixed or
// operator-editable app inventory standing in for the host's installed
// application registry.
type PackageSource struct {
	mu   sync.Mutex
	apps map[int]model.AppInfo
}

// NewPackageSource constructs a PackageSource seeded with apps.
func NewPackageSource(apps ...model.AppInfo) *PackageSource {
	p := &PackageSource{apps: make(map[int]model.AppInfo)}
	for _, a := range apps {
		p.apps[a.UID] = a
	}
	return p
}

var _ ports.PackageSource = (*PackageSource)(nil)

// ListNetworkApps returns every app currently registered.
func (p *PackageSource) ListNetworkApps(ctx context.Context) ([]model.AppInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.AppInfo, 0, len(p.apps))
	for _, a := range p.apps {
		out = append(out, a)
	}
	return out, nil
}

// Install adds or replaces an app, simulating a package install.
func (p *PackageSource) Install(a model.AppInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.apps[a.UID] = a
}

// Uninstall removes an app by UID, simulating a package removal.
func (p *PackageSource) Uninstall(uid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.apps, uid)
}
