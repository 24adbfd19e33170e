// Package memkv is a volatile KV backend. Tables are iterated in
// murmur3 token order, so scans never follow insertion order.
package memkv

import (
	"context"
	"sort"
	"sync"

	"github.com/anthanhphan/go-gridstore/internal/gridstore/port"
	"github.com/spaolacci/murmur3"
)

type Store struct {
	mu     sync.RWMutex
	tables map[string]map[string][]byte
	seed   uint32
}

var _ port.KVBackend = (*Store)(nil)

func New() *Store {
	return NewWithSeed(0)
}

// NewWithSeed changes the scan order by hashing keys with seed.
func NewWithSeed(seed uint32) *Store {
	return &Store{tables: make(map[string]map[string][]byte), seed: seed}
}

func (s *Store) Get(ctx context.Context, table, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.tables[table][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *Store) Put(ctx context.Context, table, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tableLocked(table)[key] = append([]byte(nil), value...)
	return nil
}

func (s *Store) PutIfAbsent(ctx context.Context, table, key string, value []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tableLocked(table)
	if _, exists := t[key]; exists {
		return false, nil
	}
	t[key] = append([]byte(nil), value...)
	return true, nil
}

func (s *Store) Delete(ctx context.Context, table, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return false, nil
	}
	if _, exists := t[key]; !exists {
		return false, nil
	}
	delete(t, key)
	return true, nil
}

// Scan works on a snapshot, so fn may write to the store.
func (s *Store) Scan(ctx context.Context, table string, fn func(key string, value []byte) error) error {
	type entry struct {
		token uint64
		key   string
		value []byte
	}

	s.mu.RLock()
	entries := make([]entry, 0, len(s.tables[table]))
	for k, v := range s.tables[table] {
		entries = append(entries, entry{token: murmur3.Sum64WithSeed([]byte(k), s.seed), key: k, value: v})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].token != entries[j].token {
			return entries[i].token < entries[j].token
		}
		return entries[i].key < entries[j].key
	})

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) tableLocked(table string) map[string][]byte {
	t, ok := s.tables[table]
	if !ok {
		t = make(map[string][]byte)
		s.tables[table] = t
	}
	return t
}
