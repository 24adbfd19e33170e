package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthanhphan/go-gridstore/internal/gridstore/domain"
	"github.com/anthanhphan/go-gridstore/internal/gridstore/port"
	"github.com/anthanhphan/go-gridstore/pkg/document"
	"github.com/anthanhphan/gosdk/logger"
)

// bootstrapService creates the collections and indexes a store relies on.
type bootstrapService[ID comparable] struct {
	core *Store[ID]
}

func newBootstrapService[ID comparable](core *Store[ID]) *bootstrapService[ID] {
	return &bootstrapService[ID]{core: core}
}

func chunksIndex() port.IndexModel {
	keys := document.Document{
		document.E(domain.FieldFilesID, document.Int32(1)),
		document.E(domain.FieldN, document.Int32(1)),
	}
	return port.IndexModel{Keys: keys, Name: port.IndexName(keys), Unique: true}
}

func filesIndex() port.IndexModel {
	keys := document.Document{
		document.E(domain.FieldFilename, document.Int32(1)),
		document.E(domain.FieldUploadDate, document.Int32(1)),
	}
	return port.IndexModel{Keys: keys, Name: port.IndexName(keys)}
}

// ensureIndexes is safe to repeat. It reports true only when both
// indexes were created by this call.
func (s *bootstrapService[ID]) ensureIndexes(ctx context.Context) (bool, error) {
	for _, name := range []string{s.core.files.name, s.core.chunks.name} {
		if err := s.core.db.CreateCollection(ctx, name); err != nil && !errors.Is(err, port.ErrNamespaceExists) {
			return false, fmt.Errorf("create collection %s: %w", name, err)
		}
	}

	chunksCreated, err := s.core.db.EnsureIndex(ctx, s.core.chunks.name, chunksIndex())
	if err != nil {
		return false, fmt.Errorf("create index on %s: %w", s.core.chunks.name, err)
	}
	filesCreated, err := s.core.db.EnsureIndex(ctx, s.core.files.name, filesIndex())
	if err != nil {
		return false, fmt.Errorf("create index on %s: %w", s.core.files.name, err)
	}

	created := chunksCreated && filesCreated
	logger.Infow("Store indexes ensured", "prefix", s.core.opts.Prefix, "chunks_index_created", chunksCreated, "files_index_created", filesCreated)
	return created, nil
}

// exists reports whether both collections hold data or indexes. Any
// failure, including a missing collection, reads as false.
func (s *bootstrapService[ID]) exists(ctx context.Context) bool {
	for _, name := range []string{s.core.files.name, s.core.chunks.name} {
		stats, err := s.core.db.CollectionStats(ctx, name)
		if err != nil {
			logger.Warnw("Collection stats unavailable", "collection", name, "error", err.Error())
			return false
		}
		if stats.Size <= 0 && stats.IndexCount <= 0 {
			return false
		}
	}
	return true
}
