package storage

import (
	"context"
	"fmt"

	"github.com/patrickmn/go-cache"
)

// Memory keeps values in process memory; nothing survives a restart.
type Memory struct {
	cache *cache.Cache
}

// NewMemory creates an empty in-memory store whose entries never expire.
func NewMemory() *Memory {
	return &Memory{cache: cache.New(cache.NoExpiration, 0)}
}

func (m *Memory) Get(_ context.Context, key string) Lookup {
	v, ok := m.cache.Get(key)
	if !ok {
		return absent()
	}
	s, ok := v.(string)
	if !ok {
		return unreadable(fmt.Errorf("key %s holds %T, not a string", key, v))
	}
	return found(s)
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.cache.Set(key, value, cache.NoExpiration)
	return nil
}
