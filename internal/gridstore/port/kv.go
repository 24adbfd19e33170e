package port

import "context"

// KVBackend is the key/value storage under the in-process database
// engine. Keys live in named tables. Scan order is backend-defined.
type KVBackend interface {
	Get(ctx context.Context, table, key string) ([]byte, bool, error)
	Put(ctx context.Context, table, key string, value []byte) error
	// PutIfAbsent stores value only when key is unset and reports
	// whether it did.
	PutIfAbsent(ctx context.Context, table, key string, value []byte) (bool, error)
	// Delete reports whether key existed.
	Delete(ctx context.Context, table, key string) (bool, error)
	// Scan calls fn for every entry of table until fn returns an error.
	Scan(ctx context.Context, table string, fn func(key string, value []byte) error) error
	Close() error
}
