// Package rediskv stores KV tables as Redis hashes, one hash per table.
package rediskv

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthanhphan/go-gridstore/internal/gridstore/port"
	"github.com/redis/go-redis/v9"
)

const scanBatch = 256

type Store struct {
	client redis.UniversalClient
	prefix string
}

var _ port.KVBackend = (*Store)(nil)

// New stores table t in the hash "<keyPrefix>:t".
func New(client redis.UniversalClient, keyPrefix string) *Store {
	return &Store{client: client, prefix: keyPrefix}
}

func (s *Store) hash(table string) string {
	if s.prefix == "" {
		return table
	}
	return s.prefix + ":" + table
}

// Ping checks that the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return mapError("ping", s.client.Ping(ctx).Err())
}

func (s *Store) Get(ctx context.Context, table, key string) ([]byte, bool, error) {
	v, err := s.client.HGet(ctx, s.hash(table), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapError("hget", err)
	}
	return v, true, nil
}

func (s *Store) Put(ctx context.Context, table, key string, value []byte) error {
	return mapError("hset", s.client.HSet(ctx, s.hash(table), key, value).Err())
}

func (s *Store) PutIfAbsent(ctx context.Context, table, key string, value []byte) (bool, error) {
	ok, err := s.client.HSetNX(ctx, s.hash(table), key, value).Result()
	if err != nil {
		return false, mapError("hsetnx", err)
	}
	return ok, nil
}

func (s *Store) Delete(ctx context.Context, table, key string) (bool, error) {
	n, err := s.client.HDel(ctx, s.hash(table), key).Result()
	if err != nil {
		return false, mapError("hdel", err)
	}
	return n > 0, nil
}

// Scan walks the hash with HSCAN. Fields HSCAN returns twice are
// visited once.
func (s *Store) Scan(ctx context.Context, table string, fn func(key string, value []byte) error) error {
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		pairs, next, err := s.client.HScan(ctx, s.hash(table), cursor, "", scanBatch).Result()
		if err != nil {
			return mapError("hscan", err)
		}
		for i := 0; i+1 < len(pairs); i += 2 {
			key := pairs[i]
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			if err := fn(key, []byte(pairs[i+1])); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (s *Store) Close() error {
	return s.client.Close()
}

// mapError keeps server replies as plain errors and reports everything
// else (dial, timeout, closed pool) as a TransportError.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var reply redis.Error
	if errors.As(err, &reply) {
		return fmt.Errorf("redis %s: %w", op, err)
	}
	return &port.TransportError{Op: "redis " + op, Err: err}
}
