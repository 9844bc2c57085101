// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sim

import (
	"context"
	"sync"

	"grimm.is/netfence/internal/model"
	"grimm.is/netfence/internal/ports"
)

// RuleStore is an in-memory ports.RuleStore, the simulated equivalent of the
// host's persisted per-application rule table. Mutating methods (Upsert,
// DeleteAll) fan the new full set out to every subscriber returned by
// StreamRules, the same broadcast-on-write shape the teacher's in-memory
// kernel simulator uses for its state tables.
type RuleStore struct {
	mu    sync.Mutex
	rules map[int]model.FirewallRule // uid -> rule

	subs []chan []model.FirewallRule
}

// NewRuleStore constructs an empty RuleStore.
func NewRuleStore() *RuleStore {
	return &RuleStore{rules: make(map[int]model.FirewallRule)}
}

var _ ports.RuleStore = (*RuleStore)(nil)

// StreamRules returns a channel fed with the full rule set on every change,
// starting with the current snapshot.
func (s *RuleStore) StreamRules(ctx context.Context) (<-chan []model.FirewallRule, error) {
	ch := make(chan []model.FirewallRule, 1)

	s.mu.Lock()
	ch <- s.snapshotLocked()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, c := range s.subs {
			if c == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

// ReadRulesOnce returns the current rule set without subscribing.
func (s *RuleStore) ReadRulesOnce(ctx context.Context) ([]model.FirewallRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), nil
}

// DeleteAll clears every rule. The migration path (§4.7) does not use it;
// it rewrites rules in place through UpsertMany.
func (s *RuleStore) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.rules = make(map[int]model.FirewallRule)
	s.mu.Unlock()
	s.broadcast()
	return nil
}

// UpsertMany inserts or replaces rules keyed by UID.
func (s *RuleStore) UpsertMany(ctx context.Context, rules []model.FirewallRule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	for _, r := range rules {
		s.rules[r.UID] = r
	}
	s.mu.Unlock()
	s.broadcast()
	return nil
}

func (s *RuleStore) snapshotLocked() []model.FirewallRule {
	out := make([]model.FirewallRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out
}

func (s *RuleStore) broadcast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshotLocked()
	for _, c := range s.subs {
		select {
		case c <- snap:
		default:
			// Slow subscriber; drop the stale pending snapshot and replace it,
			// keeping only the most recent state.
			select {
			case <-c:
			default:
			}
			c <- snap
		}
	}
}
