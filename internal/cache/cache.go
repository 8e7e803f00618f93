package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// TTLStore is an injectable in-process key-value store with expiry. It
// replaces ad-hoc package-level maps so services can be tested in isolation.
type TTLStore struct {
	lru *expirable.LRU[string, string]
}

// New builds a store holding at most size entries, each expiring after ttl.
func New(size int, ttl time.Duration) *TTLStore {
	return &TTLStore{lru: expirable.NewLRU[string, string](size, nil, ttl)}
}

// Set stores the value under key, replacing any previous value.
func (s *TTLStore) Set(key, value string) {
	s.lru.Add(key, value)
}

// Get returns the value and whether a live entry exists.
func (s *TTLStore) Get(key string) (string, bool) {
	return s.lru.Get(key)
}

// Delete removes the entry if present.
func (s *TTLStore) Delete(key string) {
	s.lru.Remove(key)
}
