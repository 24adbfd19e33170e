package domain

import (
	"testing"
	"time"

	"github.com/anthanhphan/go-gridstore/pkg/digest"
	"github.com/anthanhphan/go-gridstore/pkg/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterGen struct{ next int64 }

func (c *counterGen) Next() (int64, error) {
	c.next++
	return c.next, nil
}

func TestFileCodecRoundTrip(t *testing.T) {
	ids := SnowflakeIDs{Gen: &counterGen{}}
	reg := NewRecordRegistry[int64](ids)
	codec, err := Lookup[File[int64]](reg, RecordFile)
	require.NoError(t, err)

	in := File[int64]{
		ID:              9,
		Filename:        "report.pdf",
		ContentType:     "application/pdf",
		UploadDate:      time.UnixMilli(1_700_000_000_000).UTC(),
		ChunkSize:       255 * 1024,
		Length:          1 << 20,
		Metadata:        document.Document{document.E("owner", document.String("ops"))},
		ContentDigest:   "abc123",
		DigestAlgorithm: digest.SHA256,
	}
	doc := codec.Encode(in)
	assert.Equal(t, []string{"_id", "chunkSize", "length", "uploadDate", "metadata", "filename", "contentType", "sha256"}, doc.Keys())

	out, err := codec.Decode(doc)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestFileCodecOmitsOptionalFields(t *testing.T) {
	reg := NewRecordRegistry[string](UUIDIDs{})
	codec, err := Lookup[File[string]](reg, RecordFile)
	require.NoError(t, err)

	doc := codec.Encode(File[string]{ID: "x", ChunkSize: 4, DigestAlgorithm: digest.None, ContentDigest: "ignored"})
	assert.Equal(t, []string{"_id", "chunkSize", "length", "uploadDate", "metadata"}, doc.Keys())

	out, err := codec.Decode(doc)
	require.NoError(t, err)
	assert.Equal(t, digest.None, out.DigestAlgorithm)
	assert.Empty(t, out.ContentDigest)
}

func TestChunkCodecRejectsMissingData(t *testing.T) {
	reg := NewRecordRegistry[int64](SnowflakeIDs{})
	codec, err := Lookup[Chunk[int64]](reg, RecordChunk)
	require.NoError(t, err)

	_, err = codec.Decode(document.Document{
		document.E("files_id", document.Int64(3)),
		document.E("n", document.Int32(1)),
	})
	var invalid *InvalidRecordError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, RecordChunk, invalid.Kind)
	assert.Equal(t, "{files_id: 3, n: 1}", invalid.Document)

	_, err = codec.Decode(document.Document{
		document.E("files_id", document.Int64(3)),
		document.E("n", document.Int32(1)),
		document.E("data", document.String("nope")),
	})
	assert.ErrorAs(t, err, &invalid)
}

func TestLookupTypeMismatch(t *testing.T) {
	reg := NewRecordRegistry[int64](SnowflakeIDs{})
	_, err := Lookup[File[string]](reg, RecordFile)
	assert.Error(t, err)
	_, err = Lookup[File[int64]](NewRegistry(), RecordFile)
	assert.Error(t, err)
}

func TestChunkCount(t *testing.T) {
	tests := []struct {
		length int64
		size   int32
		want   int64
	}{
		{0, 4, 0},
		{1, 4, 1},
		{4, 4, 1},
		{5, 4, 2},
		{7, 4, 2},
		{41, 4, 11},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ChunkCount(tt.length, tt.size))
	}

	f := File[int64]{Length: 7, ChunkSize: 4}
	assert.Equal(t, int64(4), f.ExpectedChunkLen(0))
	assert.Equal(t, int64(3), f.ExpectedChunkLen(1))
}

func TestIDCodecs(t *testing.T) {
	snow := SnowflakeIDs{Gen: &counterGen{}}
	id, err := snow.New()
	require.NoError(t, err)
	back, err := snow.Decode(snow.Encode(id))
	require.NoError(t, err)
	assert.Equal(t, id, back)
	parsed, err := snow.Parse(snow.Format(id))
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	_, err = snow.Decode(document.String("1"))
	assert.Error(t, err)

	uids := UUIDIDs{}
	u, err := uids.New()
	require.NoError(t, err)
	parsedU, err := uids.Parse(u)
	require.NoError(t, err)
	assert.Equal(t, u, parsedU)
	_, err = uids.Parse("not-a-uuid")
	assert.Error(t, err)
}
