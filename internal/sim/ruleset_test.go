// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"grimm.is/netfence/internal/model"
)

func TestStreamRulesEmitsCurrentSnapshotImmediately(t *testing.T) {
	s := NewRuleStore()
	require.NoError(t, s.UpsertMany(context.Background(), []model.FirewallRule{{UID: 1, PackageName: "a"}}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := s.StreamRules(ctx)
	require.NoError(t, err)

	select {
	case got := <-ch:
		require.Len(t, got, 1)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial snapshot")
	}
}

func TestStreamRulesBroadcastsOnUpsert(t *testing.T) {
	s := NewRuleStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := s.StreamRules(ctx)
	require.NoError(t, err)
	<-ch // drain initial empty snapshot

	require.NoError(t, s.UpsertMany(context.Background(), []model.FirewallRule{{UID: 5, PackageName: "b"}}))

	select {
	case got := <-ch:
		require.Len(t, got, 1)
		require.Equal(t, 5, got[0].UID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestDeleteAllClearsRules(t *testing.T) {
	s := NewRuleStore()
	require.NoError(t, s.UpsertMany(context.Background(), []model.FirewallRule{{UID: 1}, {UID: 2}}))
	require.NoError(t, s.DeleteAll(context.Background()))

	got, err := s.ReadRulesOnce(context.Background())
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestUpsertManyReplacesExistingUID(t *testing.T) {
	s := NewRuleStore()
	require.NoError(t, s.UpsertMany(context.Background(), []model.FirewallRule{{UID: 1, WifiBlocked: false}}))
	require.NoError(t, s.UpsertMany(context.Background(), []model.FirewallRule{{UID: 1, WifiBlocked: true}}))

	got, err := s.ReadRulesOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.True(t, got[0].WifiBlocked)
}

func TestStreamRulesStopsAfterContextCancel(t *testing.T) {
	s := NewRuleStore()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.StreamRules(ctx)
	require.NoError(t, err)
	<-ch
	cancel()

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}
