package port

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthanhphan/go-gridstore/pkg/document"
)

//go:generate mockgen -destination=../service/mocks/database_mock.go -package=mocks -source=database.go

// Database is the document database the store is layered on.
type Database interface {
	// RunWrite executes an insert, delete or update command built by
	// package wire. Per-document failures are reported in
	// WriteResult.WriteErrors; the error return is for failures of the
	// command as a whole.
	RunWrite(ctx context.Context, cmd document.Document) (WriteResult, error)

	// Query returns a cursor over documents of collection matching filter.
	Query(ctx context.Context, collection string, filter document.Document, opts QueryOptions) (Cursor, error)

	// CreateCollection fails with a NamespaceExists CommandError when the
	// collection already exists.
	CreateCollection(ctx context.Context, name string) error

	// EnsureIndex creates the index unless one with the same name exists
	// and reports whether it was created.
	EnsureIndex(ctx context.Context, collection string, model IndexModel) (bool, error)

	// CollectionStats fails with a NamespaceNotFound CommandError for
	// unknown collections.
	CollectionStats(ctx context.Context, collection string) (CollectionStats, error)
}

// Cursor iterates query results. It is finite and cannot be rewound.
type Cursor interface {
	Next(ctx context.Context) bool
	Document() document.Document
	Err() error
	Close(ctx context.Context) error
}

type QueryOptions struct {
	Sort           document.Document
	Limit          int
	ReadPreference ReadPreference
}

// ReadPreference selects which members may serve a read.
type ReadPreference string

const (
	ReadPrimary            ReadPreference = "primary"
	ReadPrimaryPreferred   ReadPreference = "primaryPreferred"
	ReadSecondary          ReadPreference = "secondary"
	ReadSecondaryPreferred ReadPreference = "secondaryPreferred"
	ReadNearest            ReadPreference = "nearest"
)

// ParseReadPreference accepts the mode names case-insensitively. Empty
// means primary.
func ParseReadPreference(s string) (ReadPreference, error) {
	if s == "" {
		return ReadPrimary, nil
	}
	for _, rp := range []ReadPreference{ReadPrimary, ReadPrimaryPreferred, ReadSecondary, ReadSecondaryPreferred, ReadNearest} {
		if strings.EqualFold(string(rp), s) {
			return rp, nil
		}
	}
	return "", fmt.Errorf("unknown read preference %q", s)
}

type IndexModel struct {
	Keys   document.Document
	Name   string
	Unique bool
}

// IndexName derives the conventional name of an index from its keys,
// e.g. {files_id: 1, n: 1} -> "files_id_1_n_1".
func IndexName(keys document.Document) string {
	parts := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		dir := "1"
		if n, ok := k.Value.Int64Value(); ok && n < 0 {
			dir = "-1"
		}
		parts = append(parts, k.Key, dir)
	}
	return strings.Join(parts, "_")
}

type CollectionStats struct {
	Count      int64
	Size       int64
	IndexCount int
}

type WriteResult struct {
	// N counts documents inserted, deleted or matched by an update.
	N            int64
	Modified     int64
	Upserted     []document.Value
	Acknowledged bool
	WriteErrors  []WriteError
}

// WriteError is a per-document failure inside an acknowledged write.
type WriteError struct {
	Index   int
	Code    int
	Message string
}

// FirstError converts the first write error to a CommandError.
func (r WriteResult) FirstError() error {
	if len(r.WriteErrors) == 0 {
		return nil
	}
	we := r.WriteErrors[0]
	return NewCommandError(we.Code, "write %d: %s", we.Index, we.Message)
}
