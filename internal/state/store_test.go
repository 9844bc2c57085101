// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package state

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(DefaultOptions(":memory:"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateBucketIsIdempotentWithSentinel(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateBucket("manager"))
	require.ErrorIs(t, store.CreateBucket("manager"), ErrBucketExists)
}

func TestSetGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateBucket("manager"))

	require.NoError(t, store.Set("manager", "firewall_enabled", []byte("true")))
	got, err := store.Get("manager", "firewall_enabled")
	require.NoError(t, err)
	require.Equal(t, []byte("true"), got)
}

func TestSetOverwritesExistingValue(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Set("manager", "firewall_mode", []byte("auto")))
	require.NoError(t, store.Set("manager", "firewall_mode", []byte("packetfilter")))

	got, err := store.Get("manager", "firewall_mode")
	require.NoError(t, err)
	require.Equal(t, []byte("packetfilter"), got)
}

func TestGetMissingKeyReturnsErrKeyNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get("manager", "does_not_exist")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestJSONRoundTrip(t *testing.T) {
	store := newTestStore(t)

	type payload struct {
		Backend string `json:"backend"`
		APILvl  int    `json:"api_level"`
	}
	in := payload{Backend: "policychain", APILvl: 33}
	require.NoError(t, store.SetJSON("manager", "last_plan", in))

	var out payload
	require.NoError(t, store.GetJSON("manager", "last_plan", &out))
	require.Equal(t, in, out)
}

func TestListReturnsAllKeysInBucket(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Set("manager", "a", []byte("1")))
	require.NoError(t, store.Set("manager", "b", []byte("2")))
	require.NoError(t, store.Set("other", "c", []byte("3")))

	got, err := store.List("manager")
	require.NoError(t, err)
	require.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, got)
}

func TestDeleteRemovesKey(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Set("manager", "allow_critical", []byte("true")))
	require.NoError(t, store.Delete("manager", "allow_critical"))

	_, err := store.Get("manager", "allow_critical")
	require.ErrorIs(t, err, ErrKeyNotFound)
}
