package ledger

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Store persists the ledger chains.
type Store interface {
	// Append runs build with the current tail of the chain (nil when the
	// chain is empty) and persists the entry it returns. Tail read and
	// persist are one atomic step; if build fails nothing is written.
	Append(ctx context.Context, cat Category, build func(tail *Entry) (*Entry, error)) (*Entry, error)

	// Entries returns every entry of the chain ordered by (timestamp, id).
	Entries(ctx context.Context, cat Category) ([]*Entry, error)

	// Get retrieves one entry by id.
	Get(ctx context.Context, cat Category, id uuid.UUID) (*Entry, error)
}

// MemStore is an in-memory Store for tests and ephemeral vaults.
type MemStore struct {
	mu     sync.RWMutex
	chains map[Category][]*Entry
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory ledger store.
func NewMemStore() *MemStore {
	return &MemStore{chains: make(map[Category][]*Entry)}
}

// Append implements Store.
func (s *MemStore) Append(ctx context.Context, cat Category, build func(tail *Entry) (*Entry, error)) (*Entry, error) {
	if !cat.Valid() {
		return nil, ErrInvalidCategory
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.chains[cat]
	var tail *Entry
	if n := len(chain); n > 0 {
		tail = chain[n-1].Clone()
	}

	entry, err := build(tail)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ErrNilParam
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stored := entry.Clone()
	i, _ := slices.BinarySearchFunc(chain, stored, func(a, b *Entry) int {
		switch {
		case Less(a, b):
			return -1
		case Less(b, a):
			return 1
		default:
			return 0
		}
	})
	s.chains[cat] = slices.Insert(chain, i, stored)
	return entry, nil
}

// Entries implements Store.
func (s *MemStore) Entries(ctx context.Context, cat Category) ([]*Entry, error) {
	if !cat.Valid() {
		return nil, ErrInvalidCategory
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Entry, len(s.chains[cat]))
	for i, e := range s.chains[cat] {
		out[i] = e.Clone()
	}
	return out, nil
}

// Get implements Store.
func (s *MemStore) Get(ctx context.Context, cat Category, id uuid.UUID) (*Entry, error) {
	if !cat.Valid() {
		return nil, ErrInvalidCategory
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.chains[cat] {
		if e.ID == id {
			return e.Clone(), nil
		}
	}
	return nil, ErrEntryNotFound
}
