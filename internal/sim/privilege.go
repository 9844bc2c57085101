// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sim

import (
	"context"
	"sync"

	"grimm.is/netfence/internal/ports"
)

// PrivilegeProbe is an in-memory ports.PrivilegeProbe letting a demo harness
// or test flip root/assist availability at will, simulating the two
// independent privilege channels PolicyChain and NetPolicy are chosen over.
type PrivilegeProbe struct {
	mu           sync.Mutex
	hasRoot      bool
	hasAssist    bool
	assistIsRoot bool
	apiLevel     int
}

// NewPrivilegeProbe constructs a PrivilegeProbe reporting the given initial
// capabilities.
func NewPrivilegeProbe(hasRoot, hasAssist, assistIsRoot bool, apiLevel int) *PrivilegeProbe {
	return &PrivilegeProbe{
		hasRoot:      hasRoot,
		hasAssist:    hasAssist,
		assistIsRoot: assistIsRoot,
		apiLevel:     apiLevel,
	}
}

var _ ports.PrivilegeProbe = (*PrivilegeProbe)(nil)

func (p *PrivilegeProbe) HasRoot() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasRoot
}

func (p *PrivilegeProbe) HasAssist() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasAssist
}

func (p *PrivilegeProbe) AssistIsRoot() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.assistIsRoot
}

func (p *PrivilegeProbe) APILevel() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.apiLevel
}

// Recheck is a no-op; SetRoot/SetAssist already apply instantly.
func (p *PrivilegeProbe) Recheck(ctx context.Context) error {
	return ctx.Err()
}

// SetRoot flips simulated root availability, e.g. to exercise a root-loss
// mid-session scenario.
func (p *PrivilegeProbe) SetRoot(has bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hasRoot = has
}

// SetAssist flips simulated assist-channel availability and whether the
// assist channel itself runs as root.
func (p *PrivilegeProbe) SetAssist(has, isRoot bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hasAssist = has
	p.assistIsRoot = isRoot
}
