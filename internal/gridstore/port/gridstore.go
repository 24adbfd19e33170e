package port

import (
	"context"
	"io"
	"time"

	"github.com/anthanhphan/go-gridstore/internal/gridstore/domain"
	"github.com/anthanhphan/go-gridstore/pkg/document"
	"github.com/anthanhphan/go-gridstore/pkg/wire"
)

// GridStore stores byte streams as a file record plus fixed-size chunks
// in two collections, <prefix>.files and <prefix>.chunks.
type GridStore[ID comparable] interface {
	// Save uploads src under a freshly generated id.
	Save(ctx context.Context, src io.Reader, params UploadParams) (*domain.File[ID], error)

	// SaveWithID uploads src under a caller-chosen id.
	SaveWithID(ctx context.Context, id ID, src io.Reader, params UploadParams) (*domain.File[ID], error)

	// Read writes the content of file to sink in order.
	Read(ctx context.Context, file *domain.File[ID], sink io.Writer) error

	// ReadByID looks the file up and writes its content to sink.
	ReadByID(ctx context.Context, id ID, sink io.Writer) (*domain.File[ID], error)

	// GetFile returns ErrFileNotFound when no file record has id.
	GetFile(ctx context.Context, id ID) (*domain.File[ID], error)

	// OpenStream returns a pull-based reader over the file content.
	OpenStream(ctx context.Context, file *domain.File[ID]) (DownloadStream, error)

	// OpenRangeStream reads length bytes starting at offset. A negative
	// length reads to the end.
	OpenRangeStream(ctx context.Context, file *domain.File[ID], offset, length int64) (DownloadStream, error)

	Find(ctx context.Context, filter document.Document, opts FindOptions) (FileCursor[ID], error)

	// Remove deletes the chunks of id, then its file record. Removing an
	// absent id succeeds.
	Remove(ctx context.Context, id ID) (RemoveResult, error)

	// UpdateMetadata replaces the metadata document of the file record.
	UpdateMetadata(ctx context.Context, id ID, metadata document.Document) error

	// EnsureIndexes reports true only when both indexes were created by
	// this call.
	EnsureIndexes(ctx context.Context) (bool, error)

	// Exists reports whether both collections have been initialized.
	Exists(ctx context.Context) bool
}

// UploadParams describes a file being saved. Zero values fall back to
// the store configuration.
type UploadParams struct {
	Filename    string
	ContentType string
	Metadata    document.Document
	UploadDate  time.Time

	ChunkSize    int32
	WriteConcern *wire.WriteConcern
}

type FindOptions struct {
	Sort  document.Document
	Limit int
}

type RemoveResult struct {
	ChunksDeleted int64
	FilesDeleted  int64
}

// FileCursor iterates file records. Re-query to restart.
type FileCursor[ID comparable] interface {
	Next(ctx context.Context) bool
	File() *domain.File[ID]
	Err() error
	Close(ctx context.Context) error
}

// DownloadStream is a lazy reader over stored chunks. It cannot be
// rewound; open a new stream to read again.
type DownloadStream interface {
	io.ReadCloser
	// NextChunk returns the next chunk payload, or io.EOF when done.
	NextChunk() ([]byte, error)
}
