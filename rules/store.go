package rules

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrRuleNotFound is returned by store lookups and mutations that reference
// an unknown rule ID. Callers test it with errors.Is.
var ErrRuleNotFound = errors.New("rule not found")

// RuleStore manages rule persistence and retrieval. Implementations must be
// safe for concurrent use; RecordExecution in particular must be an atomic
// increment, never a read-modify-write on a cached copy.
type RuleStore interface {
	// Add a new rule
	Add(rule *Rule) error

	// Get a rule by ID
	Get(id string) (*Rule, error)

	// List returns rules ordered by creation time, optionally filtered to
	// active ones
	List(activeOnly bool) ([]*Rule, error)

	// Update an existing rule; ID and CreatedAt are immutable
	Update(rule *Rule) error

	// Delete a rule; its execution history is retained independently
	Delete(id string) error

	// RecordExecution atomically increments the execution counter and sets
	// the last-executed timestamp
	RecordExecution(id string, at time.Time) error
}

// InMemoryRuleStore implements RuleStore using a mutex-guarded map. It is the
// default backing for tests and single-process deployments.
type InMemoryRuleStore struct {
	rules map[string]*Rule
	mu    sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory rule store.
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[string]*Rule),
	}
}

// Add adds a new rule to the store, rejecting duplicate IDs and stamping
// CreatedAt/UpdatedAt.
func (s *InMemoryRuleStore) Add(rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	stored := *rule
	s.rules[rule.ID] = &stored
	return nil
}

// Get retrieves a rule by ID.
func (s *InMemoryRuleStore) Get(id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}

	// Return a copy so callers cannot mutate store state in place.
	out := *rule
	return &out, nil
}

// List returns rules ordered by CreatedAt ascending. Creation order is the
// dispatcher's tie-break for equal priorities, so the ordering here is part
// of the contract.
func (s *InMemoryRuleStore) List(activeOnly bool) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		if activeOnly && !rule.Active {
			continue
		}
		cp := *rule
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Update replaces an existing rule's definition. The original CreatedAt and
// the runtime counters are preserved; UpdatedAt is stamped.
func (s *InMemoryRuleStore) Update(rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrRuleNotFound)
	}

	stored := *rule
	stored.CreatedAt = existing.CreatedAt
	stored.ExecutionCount = existing.ExecutionCount
	stored.LastExecutedAt = existing.LastExecutedAt
	stored.UpdatedAt = time.Now()
	s.rules[rule.ID] = &stored

	*rule = stored
	return nil
}

// Delete removes a rule from the store.
func (s *InMemoryRuleStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}

	delete(s.rules, id)
	return nil
}

// RecordExecution increments the execution counter under the store lock so
// concurrent activations of the same rule never lose an update.
func (s *InMemoryRuleStore) RecordExecution(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, exists := s.rules[id]
	if !exists {
		return fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}

	rule.ExecutionCount++
	t := at
	rule.LastExecutedAt = &t
	return nil
}
