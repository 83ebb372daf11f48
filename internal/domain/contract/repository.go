package contract

import (
	"context"
	"sync/atomic"
	"time"
)

// Repository loads the instrument universe for a trading day
type Repository interface {
	LoadUniverse(ctx context.Context, day time.Time, underlyings []string) (*Universe, error)
}

// Store holds the current Universe and lets a daily refresh swap it atomically
type Store struct {
	current atomic.Pointer[Universe]
}

// NewStore creates a store seeded with u
func NewStore(u *Universe) *Store {
	s := &Store{}
	s.current.Store(u)
	return s
}

// Current returns the active universe
func (s *Store) Current() *Universe {
	return s.current.Load()
}

// Replace swaps in a freshly loaded universe
func (s *Store) Replace(u *Universe) {
	s.current.Store(u)
}

// SymbolFor resolves a feed instrument id against the current universe
func (s *Store) SymbolFor(id int64) (string, bool) {
	u := s.current.Load()
	if u == nil {
		return "", false
	}
	return u.SymbolFor(id)
}
