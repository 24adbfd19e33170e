package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/anthanhphan/go-gridstore/internal/gridstore/domain"
	"github.com/anthanhphan/go-gridstore/internal/gridstore/port"
	"github.com/anthanhphan/go-gridstore/pkg/digest"
	"github.com/anthanhphan/go-gridstore/pkg/document"
	"github.com/anthanhphan/gosdk/logger"
)

// downloadService reassembles files from their chunks in sequence order.
type downloadService[ID comparable] struct {
	core     *Store[ID]
	metadata *metadataService[ID]
}

func newDownloadService[ID comparable](core *Store[ID], metadata *metadataService[ID]) *downloadService[ID] {
	return &downloadService[ID]{core: core, metadata: metadata}
}

// stream writes every chunk payload of file to sink in ascending n.
func (s *downloadService[ID]) stream(ctx context.Context, file *domain.File[ID], sink io.Writer) error {
	fileID := s.core.ids.Format(file.ID)
	logger.Infow("Download started", "file_id", fileID, "size_bytes", file.Length)

	ds, err := s.open(ctx, file, 0, -1)
	if err != nil {
		return err
	}
	defer ds.Close()

	chunks := 0
	for {
		data, err := ds.NextChunk()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Errorw("Download failed", "file_id", fileID, "chunks", chunks, "error", err.Error())
			return err
		}
		if _, err := sink.Write(data); err != nil {
			return fmt.Errorf("failed to write to output: %w", err)
		}
		chunks++
	}

	logger.Infow("Download completed", "file_id", fileID, "chunks", chunks)
	return nil
}

func (s *downloadService[ID]) streamByID(ctx context.Context, id ID, sink io.Writer) (*domain.File[ID], error) {
	file, err := s.metadata.getFile(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.stream(ctx, file, sink); err != nil {
		return nil, err
	}
	return file, nil
}

// open starts a lazy read of length bytes at offset. A negative length
// reads to the end of the file.
func (s *downloadService[ID]) open(ctx context.Context, file *domain.File[ID], offset, length int64) (*chunkStream[ID], error) {
	if file == nil {
		return nil, fmt.Errorf("file is required")
	}
	if file.ChunkSize <= 0 {
		return nil, fmt.Errorf("file %s has invalid chunk size %d", s.core.ids.Format(file.ID), file.ChunkSize)
	}
	if offset < 0 || offset > file.Length {
		return nil, fmt.Errorf("offset %d outside file of %d bytes", offset, file.Length)
	}
	if length < 0 || offset+length > file.Length {
		length = file.Length - offset
	}

	cs := &chunkStream[ID]{
		ctx:       ctx,
		core:      s.core,
		file:      file,
		remaining: length,
	}
	if length == 0 && file.Length > 0 {
		cs.done = true
		return cs, nil
	}

	size := int64(file.ChunkSize)
	var filter, sort document.Document
	if offset == 0 && length == file.Length {
		filter, sort = chunkSelector(s.core.ids.Encode(file.ID), file.Length, file.ChunkSize)
		cs.last = file.ChunkCount() - 1
		if s.core.opts.VerifyDigest && file.ContentDigest != "" && file.DigestAlgorithm != digest.None {
			dg, err := digest.New(file.DigestAlgorithm)
			if err != nil {
				return nil, err
			}
			cs.verify = dg
		}
	} else {
		first := offset / size
		cs.next = first
		cs.last = (offset + length - 1) / size
		cs.skip = offset - first*size
		filter, sort = chunkRangeSelector(s.core.ids.Encode(file.ID), first, cs.last)
	}

	cur, err := s.core.chunks.find(ctx, filter, sort, 0)
	if err != nil {
		return nil, err
	}
	cs.cursor = cur
	return cs, nil
}

// chunkStream pulls chunks from a sorted cursor and checks each against
// the file record before handing out its bytes.
type chunkStream[ID comparable] struct {
	ctx    context.Context
	core   *Store[ID]
	file   *domain.File[ID]
	cursor port.Cursor

	next      int64 // expected n of the next chunk
	last      int64 // last n to read, inclusive
	skip      int64 // bytes to drop from the first chunk
	remaining int64 // bytes still owed to the caller
	verify    digest.Digest

	buf  []byte
	done bool
	err  error
}

// NextChunk returns the next payload, trimmed to the requested range.
func (cs *chunkStream[ID]) NextChunk() ([]byte, error) {
	if cs.err != nil {
		return nil, cs.err
	}
	if cs.done {
		return nil, io.EOF
	}
	data, err := cs.advance()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			cs.err = err
		}
		cs.done = true
		return nil, err
	}
	return data, nil
}

func (cs *chunkStream[ID]) advance() ([]byte, error) {
	if !cs.cursor.Next(cs.ctx) {
		if err := cs.cursor.Err(); err != nil {
			return nil, fmt.Errorf("read chunks of %s: %w", cs.fileID(), err)
		}
		if cs.next <= cs.last {
			return nil, cs.integrity(fmt.Sprintf("{files_id: %s}", cs.fileID()), fmt.Sprintf("missing chunk n=%d, expected %d chunks", cs.next, cs.last+1))
		}
		if err := cs.checkDigest(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	chunk, err := cs.core.chunkCodec.Decode(cs.cursor.Document())
	if err != nil {
		var invalid *domain.InvalidRecordError
		if errors.As(err, &invalid) {
			return nil, cs.integrity(invalid.Document, invalid.Reason)
		}
		return nil, err
	}

	n := int64(chunk.N)
	doc := fmt.Sprintf("{files_id: %s, n: %d}", cs.fileID(), n)
	if n > cs.last {
		return nil, cs.integrity(doc, fmt.Sprintf("extra chunk beyond last index %d", cs.last))
	}
	if n != cs.next {
		return nil, cs.integrity(doc, fmt.Sprintf("expected chunk n=%d", cs.next))
	}
	if want := cs.file.ExpectedChunkLen(n); int64(len(chunk.Data)) != want {
		return nil, cs.integrity(doc, fmt.Sprintf("chunk holds %d bytes, expected %d", len(chunk.Data), want))
	}
	cs.next++

	data := chunk.Data
	if cs.verify != nil {
		cs.verify.Write(data)
	}
	if cs.skip > 0 {
		data = data[cs.skip:]
		cs.skip = 0
	}
	if int64(len(data)) > cs.remaining {
		data = data[:cs.remaining]
	}
	cs.remaining -= int64(len(data))
	return data, nil
}

func (cs *chunkStream[ID]) checkDigest() error {
	if cs.verify == nil {
		return nil
	}
	if got := cs.verify.Sum(); got != cs.file.ContentDigest {
		return &port.IntegrityError{
			Collection: cs.core.files.name,
			Document:   fmt.Sprintf("{_id: %s}", cs.fileID()),
			Reason:     fmt.Sprintf("%s digest mismatch: stored %s, computed %s", cs.file.DigestAlgorithm, cs.file.ContentDigest, got),
		}
	}
	return nil
}

// Read implements io.Reader over NextChunk.
func (cs *chunkStream[ID]) Read(p []byte) (int, error) {
	for len(cs.buf) == 0 {
		data, err := cs.NextChunk()
		if err != nil {
			return 0, err
		}
		cs.buf = data
	}
	n := copy(p, cs.buf)
	cs.buf = cs.buf[n:]
	return n, nil
}

// Close releases the cursor. Further reads report io.ErrClosedPipe.
func (cs *chunkStream[ID]) Close() error {
	if cs.err == nil {
		cs.err = io.ErrClosedPipe
	}
	cs.done = true
	cs.buf = nil
	if cs.cursor == nil {
		return nil
	}
	cur := cs.cursor
	cs.cursor = nil
	return cur.Close(context.WithoutCancel(cs.ctx))
}

func (cs *chunkStream[ID]) fileID() string {
	return cs.core.ids.Format(cs.file.ID)
}

func (cs *chunkStream[ID]) integrity(doc, reason string) error {
	return &port.IntegrityError{Collection: cs.core.chunks.name, Document: doc, Reason: reason}
}
