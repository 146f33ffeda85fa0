// Package memstore is an in-memory implementation of the repositories and the unit of
// work, with the same uniqueness and ordering rules as the PostgreSQL schema.
// Transactions are fully serialized and roll back by restoring a snapshot.
package memstore

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"adventure-bot/internal/interfaces"
	"adventure-bot/internal/models"
)

var _ interfaces.TxRunner = (*Store)(nil)

type stateKey struct {
	adventureID int64
	memberID    int64
}

type tables struct {
	parties    map[int64]models.Party
	members    map[int64]models.PartyMember
	adventures map[int64]models.Adventure
	states     map[stateKey]models.AdventurerState
	decisions  map[int64]models.DecisionPoint
	seq        int64
}

func newTables() *tables {
	return &tables{
		parties:    map[int64]models.Party{},
		members:    map[int64]models.PartyMember{},
		adventures: map[int64]models.Adventure{},
		states:     map[stateKey]models.AdventurerState{},
		decisions:  map[int64]models.DecisionPoint{},
	}
}

// Stored values never share slices with callers, so a shallow map copy is a snapshot.
func (t *tables) clone() *tables {
	return &tables{
		parties:    maps.Clone(t.parties),
		members:    maps.Clone(t.members),
		adventures: maps.Clone(t.adventures),
		states:     maps.Clone(t.states),
		decisions:  maps.Clone(t.decisions),
		seq:        t.seq,
	}
}

// Store holds every table behind one lock.
type Store struct {
	mu   sync.Mutex
	data *tables
	base time.Time

	// RecentEvents bounds the stored event ring, like the PostgreSQL adventure repository.
	RecentEvents int

	txCount   atomic.Int64
	rollbacks atomic.Int64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		data:         newTables(),
		base:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		RecentEvents: models.DefaultRecentEvents,
	}
}

// WithTransaction runs fn under the store lock. An error or panic restores the tables
// as they were before fn ran.
func (s *Store) WithTransaction(ctx context.Context, _ string, fn interfaces.TxFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txCount.Add(1)

	snapshot := s.data.clone()
	committed := false
	defer func() {
		if !committed {
			s.data = snapshot
			s.rollbacks.Add(1)
		}
	}()
	if err := fn(ctx, nil); err != nil {
		return err
	}
	committed = true
	return nil
}

// Transactions returns how many units of work were started.
func (s *Store) Transactions() int64 { return s.txCount.Load() }

// Rollbacks returns how many units of work were rolled back.
func (s *Store) Rollbacks() int64 { return s.rollbacks.Load() }

// Repositories returns repositories over the store. They assume the caller is inside
// WithTransaction.
func (s *Store) Repositories() interfaces.Repositories {
	return interfaces.Repositories{
		Parties:    &partyRepo{s},
		Members:    &memberRepo{s},
		Adventures: &adventureRepo{s},
		States:     &stateRepo{s},
		Decisions:  &decisionRepo{s},
	}
}

// nextID also drives the clock, so rows created later always sort later.
func (s *Store) nextID() (int64, time.Time) {
	s.data.seq++
	return s.data.seq, s.base.Add(time.Duration(s.data.seq) * time.Millisecond)
}
