// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sim

import (
	"context"
	"sync"

	"grimm.is/netfence/internal/model"
	"grimm.is/netfence/internal/ports"
)

// OsObserver is an in-memory ports.OsObserver: a demo harness or test calls
// SetNetworkType/SetScreen to push state transitions the manager reacts to,
// in place of the host's real connectivity and screen-state broadcasts.
type OsObserver struct {
	mu          sync.Mutex
	networkSubs []chan model.NetworkType
	screenSubs  []chan bool

	networkType model.NetworkType
	screenOn    bool
}

// NewOsObserver constructs an OsObserver starting on no network, screen off.
func NewOsObserver() *OsObserver {
	return &OsObserver{networkType: model.NetworkNone}
}

var _ ports.OsObserver = (*OsObserver)(nil)

// ObserveNetworkType returns a channel fed with the current network type and
// every subsequent change.
func (o *OsObserver) ObserveNetworkType(ctx context.Context) (<-chan model.NetworkType, error) {
	ch := make(chan model.NetworkType, 1)
	o.mu.Lock()
	ch <- o.networkType
	o.networkSubs = append(o.networkSubs, ch)
	o.mu.Unlock()

	go o.unsubscribeOnDone(ctx, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, c := range o.networkSubs {
			if c == ch {
				o.networkSubs = append(o.networkSubs[:i], o.networkSubs[i+1:]...)
				close(ch)
				return
			}
		}
	})
	return ch, nil
}

// ObserveScreen returns a channel fed with the current screen-on state and
// every subsequent change.
func (o *OsObserver) ObserveScreen(ctx context.Context) (<-chan bool, error) {
	ch := make(chan bool, 1)
	o.mu.Lock()
	ch <- o.screenOn
	o.screenSubs = append(o.screenSubs, ch)
	o.mu.Unlock()

	go o.unsubscribeOnDone(ctx, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, c := range o.screenSubs {
			if c == ch {
				o.screenSubs = append(o.screenSubs[:i], o.screenSubs[i+1:]...)
				close(ch)
				return
			}
		}
	})
	return ch, nil
}

func (o *OsObserver) unsubscribeOnDone(ctx context.Context, remove func()) {
	<-ctx.Done()
	remove()
}

// SetNetworkType pushes a new network type to every subscriber.
func (o *OsObserver) SetNetworkType(nt model.NetworkType) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.networkType = nt
	for _, c := range o.networkSubs {
		select {
		case c <- nt:
		default:
			select {
			case <-c:
			default:
			}
			c <- nt
		}
	}
}

// SetScreen pushes a new screen-on state to every subscriber.
func (o *OsObserver) SetScreen(on bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.screenOn = on
	for _, c := range o.screenSubs {
		select {
		case c <- on:
		default:
			select {
			case <-c:
			default:
			}
			c <- on
		}
	}
}
