package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/mtlprog/fundcore/internal/domain"
	"github.com/mtlprog/fundcore/internal/ledger"
)

type memCell struct {
	seq int64
	out ledger.Output
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	seq         int64
	cells       map[ledger.OutputRef]memCell
	transitions []Transition
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cells: make(map[ledger.OutputRef]memCell)}
}

func (s *MemoryStore) Outputs(_ context.Context, refs []ledger.OutputRef) ([]ledger.Output, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ledger.Output, 0, len(refs))
	for _, ref := range refs {
		c, ok := s.cells[ref]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		out = append(out, clone(c.out))
	}
	return out, nil
}

// FindByToken returns the oldest live cell holding a.
func (s *MemoryStore) FindByToken(_ context.Context, a domain.AssetClass) (ledger.Output, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best  memCell
		found bool
	)
	for _, c := range s.cells {
		if c.out.Value.Get(a) <= 0 {
			continue
		}
		if !found || c.seq < best.seq {
			best, found = c, true
		}
	}
	if !found {
		return ledger.Output{}, fmt.Errorf("%w: holding %s", ErrNotFound, a)
	}
	return clone(best.out), nil
}

func (s *MemoryStore) Apply(_ context.Context, c Changeset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range c.Spent {
		if _, ok := s.cells[o.Ref]; !ok {
			return fmt.Errorf("%w: %s", ErrStale, o.Ref)
		}
	}
	for _, o := range c.Created {
		if _, ok := s.cells[o.Ref]; ok {
			return fmt.Errorf("%w: %s exists", ErrStale, o.Ref)
		}
	}

	for _, o := range c.Spent {
		delete(s.cells, o.Ref)
	}
	for _, o := range c.Created {
		s.seq++
		s.cells[o.Ref] = memCell{seq: s.seq, out: clone(o)}
	}
	s.transitions = append(s.transitions, c.Transition)
	return nil
}

func (s *MemoryStore) Record(_ context.Context, t Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transitions = append(s.transitions, t)
	return nil
}

func (s *MemoryStore) Transitions(_ context.Context, limit int) ([]Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Clone(s.transitions)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clone(o ledger.Output) ledger.Output {
	o.Value = maps.Clone(o.Value)
	return o
}
