package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/anthanhphan/go-gridstore/internal/gridstore/domain"
	"github.com/anthanhphan/go-gridstore/internal/gridstore/port"
	"github.com/anthanhphan/go-gridstore/pkg/digest"
	"github.com/anthanhphan/go-gridstore/pkg/document"
	"github.com/anthanhphan/go-gridstore/pkg/resilience"
	"github.com/anthanhphan/go-gridstore/pkg/wire"
)

const (
	DefaultPrefix         = "fs"
	DefaultChunkSize      = 255 * 1024
	DefaultParallelChunks = 4
)

// Options configures one store instance. A store owns the two
// collections <Prefix>.files and <Prefix>.chunks.
type Options struct {
	Prefix         string
	ChunkSize      int32
	ReadBufferSize int
	ParallelChunks int
	Digest         digest.Algorithm
	VerifyDigest   bool
	// WriteConcern defaults to wire.Acknowledged when nil.
	WriteConcern   *wire.WriteConcern
	ReadPreference port.ReadPreference

	// Now stamps upload dates. Defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = int(o.ChunkSize)
	}
	if o.ParallelChunks <= 0 {
		o.ParallelChunks = DefaultParallelChunks
	}
	if o.Digest == "" {
		o.Digest = digest.MD5
	}
	if o.WriteConcern == nil {
		wc := wire.Acknowledged
		o.WriteConcern = &wc
	}
	if o.ReadPreference == "" {
		o.ReadPreference = port.ReadPrimary
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Store is the facade that wires the upload, download, removal, lookup
// and bootstrap use-case services over one pair of collections.
type Store[ID comparable] struct {
	db   port.Database
	ids  domain.IDCodec[ID]
	opts Options
	pool *resilience.WorkerPool

	files  collection
	chunks collection

	fileCodec  domain.RecordCodec[domain.File[ID]]
	chunkCodec domain.RecordCodec[domain.Chunk[ID]]

	uploadUseCase    *uploadService[ID]
	downloadUseCase  *downloadService[ID]
	metadataUseCase  *metadataService[ID]
	removeUseCase    *removeService[ID]
	bootstrapUseCase *bootstrapService[ID]
}

// Ensure Store implements port.GridStore.
var (
	_ port.GridStore[int64]  = (*Store[int64])(nil)
	_ port.GridStore[string] = (*Store[string])(nil)
)

// NewStore builds the store facade and all use-case services.
func NewStore[ID comparable](db port.Database, ids domain.IDCodec[ID], opts Options) (*Store[ID], error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id codec is required")
	}
	opts = opts.withDefaults()
	if _, err := digest.New(opts.Digest); err != nil {
		return nil, err
	}

	registry := domain.NewRecordRegistry(ids)
	fileCodec, err := domain.Lookup[domain.File[ID]](registry, domain.RecordFile)
	if err != nil {
		return nil, err
	}
	chunkCodec, err := domain.Lookup[domain.Chunk[ID]](registry, domain.RecordChunk)
	if err != nil {
		return nil, err
	}

	s := &Store[ID]{
		db:         db,
		ids:        ids,
		opts:       opts,
		pool:       resilience.NewWorkerPool(opts.ParallelChunks, opts.ParallelChunks*2),
		files:      newCollection(db, opts.Prefix+".files", opts.ReadPreference),
		chunks:     newCollection(db, opts.Prefix+".chunks", opts.ReadPreference),
		fileCodec:  fileCodec,
		chunkCodec: chunkCodec,
	}

	s.metadataUseCase = newMetadataService(s)
	s.uploadUseCase = newUploadService(s)
	s.downloadUseCase = newDownloadService(s, s.metadataUseCase)
	s.removeUseCase = newRemoveService(s)
	s.bootstrapUseCase = newBootstrapService(s)

	return s, nil
}

// Close stops the chunk writer pool. In-flight uploads finish first.
func (s *Store[ID]) Close() {
	s.pool.Close()
	s.pool.Wait()
}

// FilesCollection is the name of the file record collection.
func (s *Store[ID]) FilesCollection() string { return s.files.name }

// ChunksCollection is the name of the chunk collection.
func (s *Store[ID]) ChunksCollection() string { return s.chunks.name }

// IDs exposes the id codec the store was built with.
func (s *Store[ID]) IDs() domain.IDCodec[ID] { return s.ids }

// Save delegates to the upload use-case service with a fresh id.
func (s *Store[ID]) Save(ctx context.Context, src io.Reader, params port.UploadParams) (*domain.File[ID], error) {
	id, err := s.ids.New()
	if err != nil {
		return nil, err
	}
	return s.uploadUseCase.upload(ctx, id, src, params)
}

// SaveWithID delegates to the upload use-case service.
func (s *Store[ID]) SaveWithID(ctx context.Context, id ID, src io.Reader, params port.UploadParams) (*domain.File[ID], error) {
	return s.uploadUseCase.upload(ctx, id, src, params)
}

// Read delegates chunk reassembly to the download use-case service.
func (s *Store[ID]) Read(ctx context.Context, file *domain.File[ID], sink io.Writer) error {
	return s.downloadUseCase.stream(ctx, file, sink)
}

func (s *Store[ID]) ReadByID(ctx context.Context, id ID, sink io.Writer) (*domain.File[ID], error) {
	return s.downloadUseCase.streamByID(ctx, id, sink)
}

func (s *Store[ID]) GetFile(ctx context.Context, id ID) (*domain.File[ID], error) {
	return s.metadataUseCase.getFile(ctx, id)
}

func (s *Store[ID]) OpenStream(ctx context.Context, file *domain.File[ID]) (port.DownloadStream, error) {
	return s.OpenRangeStream(ctx, file, 0, -1)
}

func (s *Store[ID]) OpenRangeStream(ctx context.Context, file *domain.File[ID], offset, length int64) (port.DownloadStream, error) {
	ds, err := s.downloadUseCase.open(ctx, file, offset, length)
	if err != nil {
		return nil, err
	}
	return ds, nil
}

func (s *Store[ID]) Find(ctx context.Context, filter document.Document, opts port.FindOptions) (port.FileCursor[ID], error) {
	cur, err := s.metadataUseCase.find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (s *Store[ID]) Remove(ctx context.Context, id ID) (port.RemoveResult, error) {
	return s.removeUseCase.remove(ctx, id)
}

func (s *Store[ID]) UpdateMetadata(ctx context.Context, id ID, metadata document.Document) error {
	return s.metadataUseCase.updateMetadata(ctx, id, metadata)
}

func (s *Store[ID]) EnsureIndexes(ctx context.Context) (bool, error) {
	return s.bootstrapUseCase.ensureIndexes(ctx)
}

func (s *Store[ID]) Exists(ctx context.Context) bool {
	return s.bootstrapUseCase.exists(ctx)
}

// writeConcern resolves the per-call override.
func (s *Store[ID]) writeConcern(override *wire.WriteConcern) wire.WriteConcern {
	if override != nil {
		return *override
	}
	return *s.opts.WriteConcern
}
