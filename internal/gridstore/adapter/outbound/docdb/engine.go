// Package docdb is an in-process document database that speaks the
// write commands of package wire. Collections, catalog entries and
// unique index entries are all kept in a port.KVBackend, so the same
// engine runs over memory, a log-structured directory or Redis.
package docdb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anthanhphan/go-gridstore/internal/gridstore/port"
	"github.com/anthanhphan/go-gridstore/pkg/document"
	"github.com/anthanhphan/go-gridstore/pkg/wire"
	"github.com/anthanhphan/gosdk/logger"
)

// idIndexName is the implicit unique index every collection has.
const idIndexName = "_id_"

var errStopScan = errors.New("stop scan")

type Engine struct {
	kv port.KVBackend
	// mu serializes writes so unique checks and the writes they guard
	// are atomic. Reads go straight to the backend.
	mu  sync.Mutex
	now func() time.Time
}

var _ port.Database = (*Engine)(nil)

func New(kv port.KVBackend) *Engine {
	return &Engine{kv: kv, now: time.Now}
}

// Close closes the backend.
func (e *Engine) Close() error {
	return e.kv.Close()
}

func (e *Engine) RunWrite(ctx context.Context, cmd document.Document) (port.WriteResult, error) {
	name, err := wire.CommandName(cmd)
	if err != nil {
		return port.WriteResult{}, parseError(err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch name {
	case wire.CommandInsert:
		c, err := wire.DecodeInsert(cmd)
		if err != nil {
			return port.WriteResult{}, parseError(err)
		}
		if err := validateCollection(c.Collection); err != nil {
			return port.WriteResult{}, err
		}
		return e.insert(ctx, c)
	case wire.CommandDelete:
		c, err := wire.DecodeDelete(cmd)
		if err != nil {
			return port.WriteResult{}, parseError(err)
		}
		if err := validateCollection(c.Collection); err != nil {
			return port.WriteResult{}, err
		}
		return e.delete(ctx, c)
	default:
		c, err := wire.DecodeUpdate(cmd)
		if err != nil {
			return port.WriteResult{}, parseError(err)
		}
		if err := validateCollection(c.Collection); err != nil {
			return port.WriteResult{}, err
		}
		return e.update(ctx, c)
	}
}

func (e *Engine) Query(ctx context.Context, collection string, filter document.Document, opts port.QueryOptions) (port.Cursor, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	exists, err := e.collectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	if !exists {
		return &cursor{}, nil
	}

	// A limit only short-circuits the scan when the caller did not ask
	// for an order.
	scanLimit := opts.Limit
	if len(opts.Sort) > 0 {
		scanLimit = 0
	}
	matches, err := e.matching(ctx, collection, filter, scanLimit)
	if err != nil {
		return nil, err
	}

	docs := make([]document.Document, len(matches))
	for i, m := range matches {
		docs[i] = m.doc
	}
	document.SortDocuments(docs, opts.Sort)
	if opts.Limit > 0 && len(docs) > opts.Limit {
		docs = docs[:opts.Limit]
	}
	return &cursor{docs: docs}, nil
}

func (e *Engine) CreateCollection(ctx context.Context, name string) error {
	if err := validateCollection(name); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	created, err := e.registerCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	if !created {
		return port.NewCommandError(port.CodeNamespaceExists, "collection %s already exists", name)
	}
	logger.Infow("Collection created", "collection", name)
	return nil
}

func (e *Engine) EnsureIndex(ctx context.Context, collection string, model port.IndexModel) (bool, error) {
	if err := validateCollection(collection); err != nil {
		return false, err
	}
	if len(model.Keys) == 0 {
		return false, port.NewCommandError(port.CodeBadValue, "index on %s has no keys", collection)
	}
	if model.Name == "" {
		model.Name = port.IndexName(model.Keys)
	}
	if model.Name == idIndexName {
		return false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.registerCollection(ctx, collection); err != nil {
		return false, fmt.Errorf("create collection %s: %w", collection, err)
	}

	catalogKey := collection + "/" + model.Name
	raw, ok, err := e.kv.Get(ctx, indexesTable, catalogKey)
	if err != nil {
		return false, fmt.Errorf("read index %s: %w", catalogKey, err)
	}
	if ok {
		existing, err := decodeIndexSpec(raw)
		if err != nil {
			return false, err
		}
		if !document.Equal(document.Doc(existing.Keys), document.Doc(model.Keys)) || existing.Unique != model.Unique {
			return false, port.NewCommandError(port.CodeBadValue, "index %s already exists with different options", model.Name)
		}
		return false, nil
	}

	spec := indexSpec{Collection: collection, Name: model.Name, Keys: model.Keys.Clone(), Unique: model.Unique}
	if spec.Unique {
		if err := e.buildUnique(ctx, spec); err != nil {
			return false, err
		}
	}

	entry, err := document.Marshal(spec.document())
	if err != nil {
		return false, err
	}
	created, err := e.kv.PutIfAbsent(ctx, indexesTable, catalogKey, entry)
	if err != nil {
		return false, fmt.Errorf("write index %s: %w", catalogKey, err)
	}
	if created {
		logger.Infow("Index created", "collection", collection, "index", spec.Name, "unique", spec.Unique)
	}
	return created, nil
}

func (e *Engine) CollectionStats(ctx context.Context, collection string) (port.CollectionStats, error) {
	var stats port.CollectionStats
	exists, err := e.collectionExists(ctx, collection)
	if err != nil {
		return stats, fmt.Errorf("stats %s: %w", collection, err)
	}
	if !exists {
		return stats, port.NewCommandError(port.CodeNamespaceNotFound, "collection %s not found", collection)
	}

	err = e.kv.Scan(ctx, dataTable(collection), func(_ string, value []byte) error {
		stats.Count++
		stats.Size += int64(len(value))
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("stats %s: %w", collection, err)
	}

	specs, err := e.indexes(ctx, collection)
	if err != nil {
		return stats, fmt.Errorf("stats %s: %w", collection, err)
	}
	stats.IndexCount = 1 + len(specs)
	return stats, nil
}

// buildUnique indexes the existing documents of a collection. Nothing is
// left behind when two documents collide.
func (e *Engine) buildUnique(ctx context.Context, spec indexSpec) error {
	matches, err := e.matching(ctx, spec.Collection, nil, 0)
	if err != nil {
		return err
	}
	var claims []claim
	for _, m := range matches {
		key, err := indexKey(spec, m.doc)
		if err != nil {
			e.release(ctx, claims)
			return err
		}
		table := uniqueTable(spec.Collection, spec.Name)
		ok, err := e.kv.PutIfAbsent(ctx, table, key, []byte(m.pk))
		if err != nil {
			e.release(ctx, claims)
			return fmt.Errorf("build index %s: %w", spec.Name, err)
		}
		if !ok {
			e.release(ctx, claims)
			return duplicateKey(spec.Collection, spec, m.doc)
		}
		claims = append(claims, claim{table: table, key: key})
	}
	return nil
}

type stored struct {
	pk  string
	doc document.Document
}

// matching scans collection for documents matching filter, stopping
// after limit matches when limit is positive.
func (e *Engine) matching(ctx context.Context, collection string, filter document.Document, limit int) ([]stored, error) {
	var out []stored
	err := e.kv.Scan(ctx, dataTable(collection), func(key string, value []byte) error {
		doc, err := document.Unmarshal(value)
		if err != nil {
			return fmt.Errorf("decode %s/%s: %w", collection, key, err)
		}
		ok, err := document.Match(doc, filter)
		if err != nil {
			return port.NewCommandError(port.CodeBadValue, "%v", err)
		}
		if !ok {
			return nil
		}
		out = append(out, stored{pk: key, doc: doc})
		if limit > 0 && len(out) >= limit {
			return errStopScan
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return nil, err
	}
	return out, nil
}

func validateCollection(name string) error {
	if name == "" || strings.ContainsAny(name, "$/\x00") {
		return port.NewCommandError(port.CodeBadValue, "invalid collection name %q", name)
	}
	return nil
}

func parseError(err error) error {
	return port.NewCommandError(port.CodeFailedToParse, "%v", err)
}
