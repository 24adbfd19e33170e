package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/anthanhphan/go-gridstore/internal/gridstore/domain"
	"github.com/anthanhphan/go-gridstore/internal/gridstore/port"
	"github.com/anthanhphan/go-gridstore/pkg/digest"
	"github.com/anthanhphan/go-gridstore/pkg/document"
	"github.com/anthanhphan/go-gridstore/pkg/wire"
	"github.com/anthanhphan/gosdk/logger"
)

// maxEmptyReads bounds consecutive (0, nil) reads from a source.
const maxEmptyReads = 100

// uploadService splits a byte source into chunks and finalizes the file
// record once every chunk has been acknowledged.
type uploadService[ID comparable] struct {
	core *Store[ID]
}

// uploadState is the per-call pipeline state. The digest sees every
// source byte exactly once, in order.
type uploadState struct {
	pending   []byte
	nextChunk int64
	digest    digest.Digest
	consumed  int64
}

func newUploadService[ID comparable](core *Store[ID]) *uploadService[ID] {
	return &uploadService[ID]{core: core}
}

// upload runs the whole workflow. On failure the chunks already written
// stay in place; a later remove of the same id cleans them up.
func (s *uploadService[ID]) upload(ctx context.Context, id ID, src io.Reader, params port.UploadParams) (*domain.File[ID], error) {
	chunkSize := params.ChunkSize
	if chunkSize <= 0 {
		chunkSize = s.core.opts.ChunkSize
	}
	wc := s.core.writeConcern(params.WriteConcern)
	fileID := s.core.ids.Format(id)

	dg, err := digest.New(s.core.opts.Digest)
	if err != nil {
		return nil, err
	}

	logger.Infow("Upload started", "file_id", fileID, "filename", params.Filename, "chunk_size", chunkSize)

	st := &uploadState{digest: dg}
	if err := s.streamChunks(ctx, id, src, chunkSize, wc, st); err != nil {
		logger.Errorw("Upload failed", "file_id", fileID, "chunks_written", st.nextChunk, "error", err.Error())
		return nil, err
	}

	file, err := s.finalize(ctx, id, params, chunkSize, wc, st)
	if err != nil {
		logger.Errorw("Upload finalize failed", "file_id", fileID, "chunks_written", st.nextChunk, "error", err.Error())
		return nil, err
	}

	logger.Infow("Upload completed", "file_id", fileID, "chunks", st.nextChunk, "size_bytes", file.Length)
	return file, nil
}

// streamChunks reads src until EOF. Each read is appended to the pending
// remainder; every full chunk is written before the next read.
func (s *uploadService[ID]) streamChunks(ctx context.Context, id ID, src io.Reader, chunkSize int32, wc wire.WriteConcern, st *uploadState) error {
	size := int(chunkSize)
	buf := make([]byte, s.core.opts.ReadBufferSize)
	emptyReads := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			emptyReads = 0
			fresh := buf[:n]
			st.digest.Write(fresh)
			st.consumed += int64(n)

			whole := append(st.pending, fresh...)
			full := len(whole) / size
			if full > 0 {
				if err := s.writeChunks(ctx, id, whole[:full*size], size, st.nextChunk, wc); err != nil {
					return err
				}
				st.nextChunk += int64(full)
			}
			// whole is handed to in-flight writes and never reused.
			st.pending = append(make([]byte, 0, size), whole[full*size:]...)
		}

		switch {
		case errors.Is(readErr, io.EOF):
			return nil
		case readErr != nil:
			return fmt.Errorf("read source: %w", readErr)
		case n == 0:
			emptyReads++
			if emptyReads >= maxEmptyReads {
				return fmt.Errorf("read source: %w", io.ErrNoProgress)
			}
		}
	}
}

// writeChunks persists consecutive full chunks concurrently and returns
// once all of them are acknowledged or the first one failed.
func (s *uploadService[ID]) writeChunks(ctx context.Context, id ID, data []byte, size int, first int64, wc wire.WriteConcern) error {
	group := s.core.pool.Group(ctx)
	for i := 0; i*size < len(data); i++ {
		chunk := domain.Chunk[ID]{
			FilesID: id,
			N:       int32(first + int64(i)),
			Data:    data[i*size : (i+1)*size],
		}
		group.Go(func(ctx context.Context) error {
			return s.writeChunk(ctx, chunk, wc)
		})
	}
	return group.Wait()
}

func (s *uploadService[ID]) writeChunk(ctx context.Context, chunk domain.Chunk[ID], wc wire.WriteConcern) error {
	doc := s.core.chunkCodec.Encode(chunk)
	if _, err := s.core.chunks.insert(ctx, []document.Document{doc}, true, wc); err != nil {
		return fmt.Errorf("write chunk %d: %w", chunk.N, err)
	}
	return nil
}

// finalize writes the trailing partial chunk, then the file record.
func (s *uploadService[ID]) finalize(ctx context.Context, id ID, params port.UploadParams, chunkSize int32, wc wire.WriteConcern, st *uploadState) (*domain.File[ID], error) {
	if len(st.pending) > 0 {
		last := domain.Chunk[ID]{FilesID: id, N: int32(st.nextChunk), Data: st.pending}
		if err := s.writeChunk(ctx, last, wc); err != nil {
			return nil, err
		}
		st.nextChunk++
		st.pending = nil
	}

	uploadDate := params.UploadDate
	if uploadDate.IsZero() {
		uploadDate = s.core.opts.Now()
	}

	file := &domain.File[ID]{
		ID:              id,
		Filename:        params.Filename,
		ContentType:     params.ContentType,
		UploadDate:      uploadDate.UTC().Truncate(time.Millisecond),
		ChunkSize:       chunkSize,
		Length:          st.consumed,
		Metadata:        params.Metadata,
		ContentDigest:   st.digest.Sum(),
		DigestAlgorithm: st.digest.Algorithm(),
	}

	doc := s.core.fileCodec.Encode(*file)
	if _, err := s.core.files.insert(ctx, []document.Document{doc}, true, wc); err != nil {
		return nil, fmt.Errorf("write file record: %w", err)
	}
	return file, nil
}
