package domain

import (
	"fmt"
	"math"

	"github.com/anthanhphan/go-gridstore/pkg/digest"
	"github.com/anthanhphan/go-gridstore/pkg/document"
)

// RecordKind names a logical record type stored in the database.
type RecordKind string

const (
	RecordFile  RecordKind = "file"
	RecordChunk RecordKind = "chunk"
)

// Field names of stored records.
const (
	FieldID          = "_id"
	FieldFilename    = "filename"
	FieldContentType = "contentType"
	FieldUploadDate  = "uploadDate"
	FieldChunkSize   = "chunkSize"
	FieldLength      = "length"
	FieldMetadata    = "metadata"
	FieldFilesID     = "files_id"
	FieldN           = "n"
	FieldData        = "data"
)

// RecordCodec is the encode/decode pair of one record kind.
type RecordCodec[T any] struct {
	Encode func(T) document.Document
	Decode func(document.Document) (T, error)
}

// Registry maps record kinds to their codecs. Codecs are registered
// explicitly and looked up by kind.
type Registry struct {
	codecs map[RecordKind]any
}

func NewRegistry() *Registry {
	return &Registry{codecs: make(map[RecordKind]any)}
}

// Register installs the codec for kind, replacing any previous one.
func Register[T any](r *Registry, kind RecordKind, codec RecordCodec[T]) {
	r.codecs[kind] = codec
}

// Lookup returns the codec registered for kind with record type T.
func Lookup[T any](r *Registry, kind RecordKind) (RecordCodec[T], error) {
	raw, ok := r.codecs[kind]
	if !ok {
		return RecordCodec[T]{}, fmt.Errorf("no codec registered for %s records", kind)
	}
	codec, ok := raw.(RecordCodec[T])
	if !ok {
		return RecordCodec[T]{}, fmt.Errorf("codec for %s records has type %T", kind, raw)
	}
	return codec, nil
}

// NewRecordRegistry registers the file and chunk codecs for id type ID.
func NewRecordRegistry[ID comparable](ids IDCodec[ID]) *Registry {
	r := NewRegistry()
	Register(r, RecordFile, RecordCodec[File[ID]]{
		Encode: func(f File[ID]) document.Document { return encodeFile(ids, f) },
		Decode: func(d document.Document) (File[ID], error) { return decodeFile(ids, d) },
	})
	Register(r, RecordChunk, RecordCodec[Chunk[ID]]{
		Encode: func(c Chunk[ID]) document.Document { return encodeChunk(ids, c) },
		Decode: func(d document.Document) (Chunk[ID], error) { return decodeChunk(ids, d) },
	})
	return r
}

func encodeFile[ID comparable](ids IDCodec[ID], f File[ID]) document.Document {
	meta := f.Metadata
	if meta == nil {
		meta = document.Document{}
	}
	d := document.Document{
		document.E(FieldID, ids.Encode(f.ID)),
		document.E(FieldChunkSize, document.Int32(f.ChunkSize)),
		document.E(FieldLength, document.Int64(f.Length)),
		document.E(FieldUploadDate, document.DateTime(f.UploadDate)),
		document.E(FieldMetadata, document.Doc(meta)),
	}
	if f.Filename != "" {
		d = d.Append(FieldFilename, document.String(f.Filename))
	}
	if f.ContentType != "" {
		d = d.Append(FieldContentType, document.String(f.ContentType))
	}
	if field := f.DigestAlgorithm.Field(); field != "" && f.ContentDigest != "" {
		d = d.Append(field, document.String(f.ContentDigest))
	}
	return d
}

func decodeFile[ID comparable](ids IDCodec[ID], d document.Document) (File[ID], error) {
	var f File[ID]
	idVal, ok := d.Lookup(FieldID)
	if !ok {
		return f, fileIntegrity(d, "missing _id")
	}
	id, err := ids.Decode(idVal)
	if err != nil {
		return f, fileIntegrity(d, err.Error())
	}
	f.ID = id

	chunkSize, ok := lookupInt(d, FieldChunkSize)
	if !ok || chunkSize <= 0 || chunkSize > math.MaxInt32 {
		return f, fileIntegrity(d, "chunkSize must be a positive 32-bit integer")
	}
	f.ChunkSize = int32(chunkSize)

	length, ok := lookupInt(d, FieldLength)
	if !ok || length < 0 {
		return f, fileIntegrity(d, "length must be a non-negative integer")
	}
	f.Length = length

	if v, ok := d.Lookup(FieldUploadDate); ok {
		t, ok := v.TimeValue()
		if !ok {
			return f, fileIntegrity(d, "uploadDate must be a datetime")
		}
		f.UploadDate = t
	}

	if v, ok := d.Lookup(FieldMetadata); ok && !v.IsNull() {
		meta, ok := v.DocumentValue()
		if !ok {
			return f, fileIntegrity(d, "metadata must be a document")
		}
		f.Metadata = meta
	}
	f.Filename, _ = lookupString(d, FieldFilename)
	f.ContentType, _ = lookupString(d, FieldContentType)

	f.DigestAlgorithm = digest.None
	for _, alg := range digest.All {
		if sum, ok := lookupString(d, alg.Field()); ok {
			f.ContentDigest = sum
			f.DigestAlgorithm = alg
			break
		}
	}
	return f, nil
}

func encodeChunk[ID comparable](ids IDCodec[ID], c Chunk[ID]) document.Document {
	return document.Document{
		document.E(FieldFilesID, ids.Encode(c.FilesID)),
		document.E(FieldN, document.Int32(c.N)),
		document.E(FieldData, document.Binary(c.Data)),
	}
}

func decodeChunk[ID comparable](ids IDCodec[ID], d document.Document) (Chunk[ID], error) {
	var c Chunk[ID]
	idVal, ok := d.Lookup(FieldFilesID)
	if !ok {
		return c, chunkIntegrity(d, "missing files_id")
	}
	filesID, err := ids.Decode(idVal)
	if err != nil {
		return c, chunkIntegrity(d, err.Error())
	}
	c.FilesID = filesID

	n, ok := lookupInt(d, FieldN)
	if !ok || n < 0 || n > math.MaxInt32 {
		return c, chunkIntegrity(d, "n must be a non-negative 32-bit integer")
	}
	c.N = int32(n)

	v, ok := d.Lookup(FieldData)
	if !ok {
		return c, chunkIntegrity(d, "missing binary data field")
	}
	data, ok := v.BinaryValue()
	if !ok {
		return c, chunkIntegrity(d, fmt.Sprintf("data is %s, not binary", v.Kind()))
	}
	c.Data = data
	return c, nil
}

func lookupInt(d document.Document, key string) (int64, bool) {
	v, ok := d.Lookup(key)
	if !ok {
		return 0, false
	}
	if n, ok := v.Int64Value(); ok {
		return n, true
	}
	// Some writers store sizes as doubles.
	if f, ok := v.DoubleValue(); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f), true
	}
	return 0, false
}

func lookupString(d document.Document, key string) (string, bool) {
	v, ok := d.Lookup(key)
	if !ok {
		return "", false
	}
	return v.StringValue()
}

// InvalidRecordError reports a stored document that cannot be decoded
// into its record type.
type InvalidRecordError struct {
	Kind     RecordKind
	Document string
	Reason   string
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid %s record %s: %s", e.Kind, e.Document, e.Reason)
}

func fileIntegrity(d document.Document, reason string) error {
	return &InvalidRecordError{Kind: RecordFile, Document: describe(d), Reason: reason}
}

func chunkIntegrity(d document.Document, reason string) error {
	return &InvalidRecordError{Kind: RecordChunk, Document: describe(d), Reason: reason}
}

// describe identifies a document in errors without dumping chunk payloads.
func describe(d document.Document) string {
	out := document.Document{}
	for _, key := range []string{FieldID, FieldFilesID, FieldN} {
		if v, ok := d.Lookup(key); ok {
			out = out.Append(key, v)
		}
	}
	return out.String()
}
