package domain

import (
	"time"

	"github.com/anthanhphan/go-gridstore/pkg/digest"
	"github.com/anthanhphan/go-gridstore/pkg/document"
)

// File is the finalized metadata record of a stored object.
type File[ID comparable] struct {
	ID          ID
	Filename    string
	ContentType string
	UploadDate  time.Time
	ChunkSize   int32
	Length      int64
	Metadata    document.Document

	// ContentDigest is the hex digest of the whole stream, empty when the
	// store runs without a digest.
	ContentDigest   string
	DigestAlgorithm digest.Algorithm
}

// ChunkCount is ceil(Length / ChunkSize).
func (f *File[ID]) ChunkCount() int64 {
	return ChunkCount(f.Length, f.ChunkSize)
}

// ExpectedChunkLen is the size chunk n must have.
func (f *File[ID]) ExpectedChunkLen(n int64) int64 {
	if n < f.ChunkCount()-1 {
		return int64(f.ChunkSize)
	}
	return f.Length - n*int64(f.ChunkSize)
}

// Chunk is one fixed-size fragment of a file. Every chunk but the last
// holds exactly ChunkSize bytes.
type Chunk[ID comparable] struct {
	FilesID ID
	N       int32
	Data    []byte
}

func ChunkCount(length int64, chunkSize int32) int64 {
	if length <= 0 || chunkSize <= 0 {
		return 0
	}
	c := int64(chunkSize)
	return (length + c - 1) / c
}
