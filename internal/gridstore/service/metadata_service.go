package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthanhphan/go-gridstore/internal/gridstore/domain"
	"github.com/anthanhphan/go-gridstore/internal/gridstore/port"
	"github.com/anthanhphan/go-gridstore/pkg/document"
	"github.com/anthanhphan/go-gridstore/pkg/wire"
	"github.com/anthanhphan/gosdk/logger"
)

// metadataService handles file record lookups and metadata updates.
type metadataService[ID comparable] struct {
	core *Store[ID]
}

func newMetadataService[ID comparable](core *Store[ID]) *metadataService[ID] {
	return &metadataService[ID]{core: core}
}

// getFile returns the file record of id or port.ErrFileNotFound.
func (s *metadataService[ID]) getFile(ctx context.Context, id ID) (*domain.File[ID], error) {
	filter := document.Document{document.E(domain.FieldID, s.core.ids.Encode(id))}
	cur, err := s.find(ctx, filter, port.FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	if !cur.Next(ctx) {
		if err := cur.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("file %s: %w", s.core.ids.Format(id), port.ErrFileNotFound)
	}
	return cur.File(), nil
}

func (s *metadataService[ID]) find(ctx context.Context, filter document.Document, opts port.FindOptions) (*fileCursor[ID], error) {
	if filter == nil {
		filter = document.Document{}
	}
	cur, err := s.core.files.find(ctx, filter, opts.Sort, opts.Limit)
	if err != nil {
		return nil, err
	}
	return &fileCursor[ID]{core: s.core, cursor: cur}, nil
}

// updateMetadata replaces the metadata field of the file record. The
// chunks are not touched.
func (s *metadataService[ID]) updateMetadata(ctx context.Context, id ID, metadata document.Document) error {
	if metadata == nil {
		metadata = document.Document{}
	}
	wc := s.core.writeConcern(nil)
	res, err := s.core.files.update(ctx, []wire.UpdateElement{{
		Filter: document.Document{document.E(domain.FieldID, s.core.ids.Encode(id))},
		Update: document.Document{document.E("$set", document.Doc(document.Document{
			document.E(domain.FieldMetadata, document.Doc(metadata)),
		}))},
	}}, true, wc)
	if err != nil {
		return err
	}
	if res.Acknowledged && res.N == 0 {
		return fmt.Errorf("file %s: %w", s.core.ids.Format(id), port.ErrFileNotFound)
	}

	logger.Infow("File metadata updated", "file_id", s.core.ids.Format(id), "modified", res.Modified)
	return nil
}

// fileCursor decodes file records lazily. A record that cannot be
// decoded stops iteration with an IntegrityError.
type fileCursor[ID comparable] struct {
	core   *Store[ID]
	cursor port.Cursor
	file   *domain.File[ID]
	err    error
}

func (c *fileCursor[ID]) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if !c.cursor.Next(ctx) {
		return false
	}
	f, err := c.core.fileCodec.Decode(c.cursor.Document())
	if err != nil {
		var invalid *domain.InvalidRecordError
		if errors.As(err, &invalid) {
			err = &port.IntegrityError{Collection: c.core.files.name, Document: invalid.Document, Reason: invalid.Reason}
		}
		c.err = err
		c.file = nil
		return false
	}
	c.file = &f
	return true
}

func (c *fileCursor[ID]) File() *domain.File[ID] { return c.file }

func (c *fileCursor[ID]) Err() error {
	if c.err != nil {
		return c.err
	}
	if err := c.cursor.Err(); err != nil {
		return fmt.Errorf("read %s: %w", c.core.files.name, err)
	}
	return nil
}

func (c *fileCursor[ID]) Close(ctx context.Context) error {
	return c.cursor.Close(ctx)
}
