// Package accounts keeps the list of addresses the user has authorized for a
// provider instance.
package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/zap"

	"github.com/sunvim/ethprovider/pkg/logger"
	"github.com/sunvim/ethprovider/pkg/storage"
)

// Store holds the authorized addresses. The first address is the selected one.
// Every successful SetAddresses is announced on the accounts-changed feed;
// subscribers should use buffered channels or drain promptly since delivery
// is synchronous.
type Store struct {
	mu        sync.RWMutex
	addresses []string

	storage storage.Storage
	key     string
	feed    event.Feed
	logger  *zap.Logger
}

// NewStore creates a store persisting under key and restores any list saved
// there before. Absent, unreadable or corrupt state leaves the store empty.
func NewStore(ctx context.Context, st storage.Storage, key string, log *zap.Logger) *Store {
	s := &Store{
		storage: st,
		key:     key,
		logger:  logger.Or(log).With(zap.String("component", "accounts")),
	}
	s.addresses = s.restore(ctx)
	return s
}

func (s *Store) restore(ctx context.Context) []string {
	if s.storage == nil {
		return nil
	}
	got := s.storage.Get(ctx, s.key)
	switch got.Status {
	case storage.Found:
	case storage.Unreadable:
		s.logger.Warn("stored addresses unreadable, starting empty", zap.String("key", s.key), zap.Error(got.Err))
		return nil
	default:
		return nil
	}

	var raw []string
	if err := json.Unmarshal([]byte(got.Value), &raw); err != nil {
		s.logger.Warn("stored addresses corrupt, starting empty", zap.String("key", s.key), zap.Error(err))
		return nil
	}
	addrs, err := NormalizeAll(raw)
	if err != nil {
		s.logger.Warn("stored addresses invalid, starting empty", zap.String("key", s.key), zap.Error(err))
		return nil
	}
	s.logger.Debug("restored addresses", zap.Int("count", len(addrs)))
	return addrs
}

// Addresses returns a copy of the authorized list, never nil.
func (s *Store) Addresses() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.addresses...)
}

// Selected returns the first authorized address, or "" when unauthorized.
func (s *Store) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.addresses) == 0 {
		return ""
	}
	return s.addresses[0]
}

// Len returns the number of authorized addresses.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.addresses)
}

// Contains reports whether addr (in any accepted form) is authorized.
func (s *Store) Contains(addr string) bool {
	n, err := Normalize(addr)
	if err != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.addresses, n)
}

// SetAddresses replaces the list wholesale. All entries are validated first;
// one invalid entry rejects the call and leaves the current list untouched.
// Persistence is best-effort: a storage failure is logged, not returned.
func (s *Store) SetAddresses(ctx context.Context, addrs []string, persist bool) error {
	normalized, err := NormalizeAll(addrs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.addresses = normalized
	s.mu.Unlock()

	if persist {
		s.persist(ctx, normalized)
	}

	s.feed.Send(slices.Clone(normalized))
	return nil
}

func (s *Store) persist(ctx context.Context, addrs []string) {
	if s.storage == nil {
		return
	}
	b, err := json.Marshal(addrs)
	if err != nil {
		s.logger.Warn("failed to encode addresses", zap.Error(err))
		return
	}
	if err := s.storage.Set(ctx, s.key, string(b)); err != nil {
		s.logger.Warn("failed to persist addresses", zap.String("key", s.key), zap.Error(fmt.Errorf("persist: %w", err)))
	}
}

// Subscribe registers ch for accounts-changed notifications.
func (s *Store) Subscribe(ch chan<- []string) event.Subscription {
	return s.feed.Subscribe(ch)
}
