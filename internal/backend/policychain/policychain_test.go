// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policychain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/netfence/internal/backend"
	"grimm.is/netfence/internal/model"
)

type fakeAssist struct {
	calls [][]string
	fail  bool
}

func (f *fakeAssist) Exec(ctx context.Context, cmd string, args ...string) (int, string, error) {
	f.calls = append(f.calls, append([]string{cmd}, args...))
	if f.fail {
		return 1, "", assertErr("assist failure")
	}
	return 0, "", nil
}

func (f *fakeAssist) SystemServiceBinder(ctx context.Context, name string) (any, error) {
	return nil, nil
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }
func assertErr(s string) error    { return simpleErr(s) }

func TestStartEnablesChain(t *testing.T) {
	assist := &fakeAssist{}
	b := New(assist, nil)
	require.NoError(t, b.Start(context.Background()))
	assert.True(t, b.IsActive(context.Background()))
	require.Len(t, assist.calls, 1)
	assert.Equal(t, cmdEnableChain, assist.calls[0][0])
}

func TestApplyRulesOnlyOnChange(t *testing.T) {
	assist := &fakeAssist{}
	b := New(assist, nil)
	ctx := context.Background()
	require.NoError(t, b.Start(ctx))

	require.NoError(t, b.ApplyRules(ctx, backend.Desired{Internet: map[int]bool{10: true}}))
	assert.Len(t, assist.calls, 2) // enable + set-package

	// Re-applying the same desired state should not re-issue the command.
	require.NoError(t, b.ApplyRules(ctx, backend.Desired{Internet: map[int]bool{10: true}}))
	assert.Len(t, assist.calls, 2)
}

func TestApplyRulesClearsDroppedUID(t *testing.T) {
	assist := &fakeAssist{}
	b := New(assist, nil)
	ctx := context.Background()
	require.NoError(t, b.Start(ctx))
	require.NoError(t, b.ApplyRules(ctx, backend.Desired{Internet: map[int]bool{10: true}}))

	require.NoError(t, b.ApplyRules(ctx, backend.Desired{Internet: map[int]bool{}}))
	last := assist.calls[len(assist.calls)-1]
	assert.Equal(t, []string{cmdSetPackage, "10", "false"}, last)
}

func TestBackendIsAllOrNothing(t *testing.T) {
	b := New(&fakeAssist{}, nil)
	assert.False(t, b.SupportsGranularControl())
	assert.Equal(t, model.BackendPolicyChain, b.BackendType())
}

func TestCheckAvailability(t *testing.T) {
	b := New(&fakeAssist{}, nil)
	ctx := context.Background()
	assert.Error(t, b.CheckAvailability(ctx, model.Privileges{}))
	assert.Error(t, b.CheckAvailability(ctx, model.Privileges{HasAssist: true, APILevel: 20}))
	assert.NoError(t, b.CheckAvailability(ctx, model.Privileges{HasAssist: true, APILevel: 24}))
}

func TestApplyRulesPropagatesAssistFailure(t *testing.T) {
	assist := &fakeAssist{fail: true}
	b := New(assist, nil)
	ctx := context.Background()
	err := b.ApplyRules(ctx, backend.Desired{Internet: map[int]bool{1: true}})
	require.Error(t, err)
}
