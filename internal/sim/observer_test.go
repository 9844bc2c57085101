// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"grimm.is/netfence/internal/model"
)

func TestObserveNetworkTypeEmitsInitialStateThenChanges(t *testing.T) {
	o := NewOsObserver()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := o.ObserveNetworkType(ctx)
	require.NoError(t, err)

	require.Equal(t, model.NetworkNone, <-ch)

	o.SetNetworkType(model.NetworkWifi)
	select {
	case nt := <-ch:
		require.Equal(t, model.NetworkWifi, nt)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for network type change")
	}
}

func TestObserveScreenEmitsInitialStateThenChanges(t *testing.T) {
	o := NewOsObserver()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := o.ObserveScreen(ctx)
	require.NoError(t, err)
	require.False(t, <-ch)

	o.SetScreen(true)
	select {
	case on := <-ch:
		require.True(t, on)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for screen change")
	}
}

func TestObserverChannelClosesOnContextCancel(t *testing.T) {
	o := NewOsObserver()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := o.ObserveScreen(ctx)
	require.NoError(t, err)
	<-ch
	cancel()

	require.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, time.Second, 10*time.Millisecond)
}
