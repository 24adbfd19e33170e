package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthanhphan/go-gridstore/internal/gridstore/adapter/outbound/docdb"
	"github.com/anthanhphan/go-gridstore/internal/gridstore/adapter/outbound/memkv"
	"github.com/anthanhphan/go-gridstore/internal/gridstore/domain"
	"github.com/anthanhphan/go-gridstore/internal/gridstore/port"
	"github.com/anthanhphan/go-gridstore/pkg/digest"
	"github.com/anthanhphan/go-gridstore/pkg/document"
	"github.com/anthanhphan/go-gridstore/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seqIDs hands out 1, 2, 3, ...
type seqIDs struct{ last atomic.Int64 }

func (g *seqIDs) Next() (int64, error) { return g.last.Add(1), nil }

func newTestStore(t *testing.T, db port.Database, opts Options) *Store[int64] {
	t.Helper()
	s, err := NewStore[int64](db, domain.SnowflakeIDs{Gen: &seqIDs{}}, opts)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func newMemStore(t *testing.T, opts Options) (*Store[int64], *docdb.Engine) {
	t.Helper()
	engine := docdb.New(memkv.NewWithSeed(7))
	return newTestStore(t, engine, opts), engine
}

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func mustSum(t *testing.T, alg digest.Algorithm, data []byte) string {
	t.Helper()
	sum, err := digest.Sum(alg, data)
	require.NoError(t, err)
	return sum
}

func chunkDocs(t *testing.T, db port.Database, id int64) []document.Document {
	t.Helper()
	ctx := context.Background()
	cur, err := db.Query(ctx, "fs.chunks", document.Document{document.E("files_id", document.Int64(id))},
		port.QueryOptions{Sort: document.Document{document.E("n", document.Int32(1))}})
	require.NoError(t, err)
	defer func() { _ = cur.Close(ctx) }()
	var out []document.Document
	for cur.Next(ctx) {
		out = append(out, cur.Document())
	}
	require.NoError(t, cur.Err())
	return out
}

func chunkData(t *testing.T, doc document.Document) []byte {
	t.Helper()
	v, ok := doc.Lookup("data")
	require.True(t, ok)
	data, ok := v.BinaryValue()
	require.True(t, ok)
	return data
}

// faultyDB fails selected write commands before they reach the database.
type faultyDB struct {
	port.Database
	mu   sync.Mutex
	fail func(name, collection string) error
}

func (f *faultyDB) RunWrite(ctx context.Context, cmd document.Document) (port.WriteResult, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail != nil && len(cmd) > 0 {
		coll, _ := cmd[0].Value.StringValue()
		if err := fail(cmd[0].Key, coll); err != nil {
			return port.WriteResult{}, err
		}
	}
	return f.Database.RunWrite(ctx, cmd)
}

func (f *faultyDB) setFail(fn func(name, collection string) error) {
	f.mu.Lock()
	f.fail = fn
	f.mu.Unlock()
}

var errInjected = &port.TransportError{Op: "write", Err: errors.New("injected")}

func TestStoreRoundTrip(t *testing.T) {
	const chunkSize = 16
	lengths := []int{0, 1, chunkSize - 1, chunkSize, chunkSize + 1, 10 * chunkSize, 10*chunkSize + 1}

	for _, length := range lengths {
		t.Run(fmt.Sprintf("length=%d", length), func(t *testing.T) {
			ctx := context.Background()
			store, engine := newMemStore(t, Options{ChunkSize: chunkSize})
			data := pattern(length)

			file, err := store.Save(ctx, bytes.NewReader(data), port.UploadParams{Filename: "f.bin"})
			require.NoError(t, err)
			assert.EqualValues(t, length, file.Length)
			assert.EqualValues(t, chunkSize, file.ChunkSize)
			assert.Equal(t, mustSum(t, digest.MD5, data), file.ContentDigest)

			docs := chunkDocs(t, engine, file.ID)
			require.Len(t, docs, (length+chunkSize-1)/chunkSize)
			for i, d := range docs {
				n, _ := d.Lookup("n")
				assert.Equal(t, document.KindInt32, n.Kind())
				v, _ := n.Int64Value()
				assert.EqualValues(t, i, v)
			}

			var out bytes.Buffer
			require.NoError(t, store.Read(ctx, file, &out))
			assert.Equal(t, length, out.Len())
			assert.True(t, bytes.Equal(data, out.Bytes()), "round trip differs")

			stored, err := store.GetFile(ctx, file.ID)
			require.NoError(t, err)
			assert.Equal(t, file.Length, stored.Length)
			assert.Equal(t, file.ContentDigest, stored.ContentDigest)
			assert.Equal(t, "f.bin", stored.Filename)
		})
	}
}

func TestStoreChunkLayoutExample(t *testing.T) {
	ctx := context.Background()
	store, engine := newMemStore(t, Options{ChunkSize: 4})

	file, err := store.Save(ctx, bytes.NewReader([]byte{1, 2, 3, 4, 5, 6, 7}), port.UploadParams{})
	require.NoError(t, err)
	assert.EqualValues(t, 7, file.Length)

	docs := chunkDocs(t, engine, file.ID)
	require.Len(t, docs, 2)
	assert.Equal(t, []byte{1, 2, 3, 4}, chunkData(t, docs[0]))
	assert.Equal(t, []byte{5, 6, 7}, chunkData(t, docs[1]))
}

func TestStoreDigestIndependentOfReadBuffer(t *testing.T) {
	const chunkSize = 16
	data := pattern(1000)
	want := mustSum(t, digest.MD5, data)

	for _, bufSize := range []int{5, chunkSize, 3*chunkSize + 7} {
		t.Run(fmt.Sprintf("buffer=%d", bufSize), func(t *testing.T) {
			ctx := context.Background()
			store, _ := newMemStore(t, Options{ChunkSize: chunkSize, ReadBufferSize: bufSize})

			file, err := store.Save(ctx, bytes.NewReader(data), port.UploadParams{})
			require.NoError(t, err)
			assert.Equal(t, want, file.ContentDigest)

			var out bytes.Buffer
			require.NoError(t, store.Read(ctx, file, &out))
			assert.Equal(t, data, out.Bytes())
		})
	}
}

func TestStoreDigestAlgorithms(t *testing.T) {
	data := pattern(100)
	for _, alg := range []digest.Algorithm{digest.MD5, digest.SHA256, digest.BLAKE3, digest.None} {
		t.Run(string(alg), func(t *testing.T) {
			ctx := context.Background()
			store, _ := newMemStore(t, Options{ChunkSize: 32, Digest: alg, VerifyDigest: true})

			file, err := store.Save(ctx, bytes.NewReader(data), port.UploadParams{})
			require.NoError(t, err)
			assert.Equal(t, mustSum(t, alg, data), file.ContentDigest)

			stored, err := store.GetFile(ctx, file.ID)
			require.NoError(t, err)
			assert.Equal(t, file.ContentDigest, stored.ContentDigest)

			var out bytes.Buffer
			require.NoError(t, store.Read(ctx, stored, &out))
			assert.Equal(t, data, out.Bytes())
		})
	}
}

func TestStoreOrderIndependentOfStorageOrder(t *testing.T) {
	data := pattern(50 * 8)
	for seed := uint32(1); seed <= 5; seed++ {
		ctx := context.Background()
		store := newTestStore(t, docdb.New(memkv.NewWithSeed(seed)), Options{ChunkSize: 8, ReadBufferSize: 64, ParallelChunks: 8})

		file, err := store.Save(ctx, bytes.NewReader(data), port.UploadParams{})
		require.NoError(t, err)

		var out bytes.Buffer
		require.NoError(t, store.Read(ctx, file, &out))
		assert.Equal(t, data, out.Bytes(), "seed %d", seed)
	}
}

func TestStoreSaveWithIDAndPerCallOverrides(t *testing.T) {
	ctx := context.Background()
	store, engine := newMemStore(t, Options{ChunkSize: 16})
	uploadDate := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)

	file, err := store.SaveWithID(ctx, 42, bytes.NewReader(pattern(20)), port.UploadParams{
		Filename:    "report.pdf",
		ContentType: "application/pdf",
		Metadata:    document.Document{document.E("owner", document.String("ops"))},
		UploadDate:  uploadDate,
		ChunkSize:   8,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 42, file.ID)
	assert.EqualValues(t, 8, file.ChunkSize)
	assert.Len(t, chunkDocs(t, engine, 42), 3)
	assert.Equal(t, uploadDate.Truncate(time.Millisecond), file.UploadDate)

	stored, err := store.GetFile(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", stored.ContentType)
	assert.True(t, stored.UploadDate.Equal(file.UploadDate))
	owner, ok := stored.Metadata.Lookup("owner")
	require.True(t, ok)
	assert.Equal(t, `"ops"`, owner.String())

	// Same id again collides on the files _id.
	_, err = store.SaveWithID(ctx, 42, bytes.NewReader(nil), port.UploadParams{})
	assert.ErrorIs(t, err, port.ErrRejected)
}

func TestStoreFindAndUpdateMetadata(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store, _ := newMemStore(t, Options{ChunkSize: 16})

	for i, name := range []string{"b.txt", "a.txt", "b.txt"} {
		_, err := store.Save(ctx, bytes.NewReader(pattern(i+1)), port.UploadParams{
			Filename:   name,
			UploadDate: base.Add(time.Duration(10-i) * time.Hour),
		})
		require.NoError(t, err)
	}

	cur, err := store.Find(ctx, document.Document{document.E("filename", document.String("b.txt"))}, port.FindOptions{
		Sort: document.Document{document.E("uploadDate", document.Int32(1))},
	})
	require.NoError(t, err)
	var lengths []int64
	for cur.Next(ctx) {
		lengths = append(lengths, cur.File().Length)
	}
	require.NoError(t, cur.Err())
	require.NoError(t, cur.Close(ctx))
	assert.Equal(t, []int64{3, 1}, lengths)

	require.NoError(t, store.UpdateMetadata(ctx, 1, document.Document{document.E("tag", document.String("x"))}))
	file, err := store.GetFile(ctx, 1)
	require.NoError(t, err)
	tag, ok := file.Metadata.Lookup("tag")
	require.True(t, ok)
	assert.Equal(t, `"x"`, tag.String())
	assert.EqualValues(t, 1, file.Length)

	err = store.UpdateMetadata(ctx, 999, document.Document{})
	assert.ErrorIs(t, err, port.ErrFileNotFound)
	_, err = store.GetFile(ctx, 999)
	assert.ErrorIs(t, err, port.ErrFileNotFound)
}

func TestStoreUnacknowledgedWrites(t *testing.T) {
	ctx := context.Background()
	store, _ := newMemStore(t, Options{ChunkSize: 16, WriteConcern: &wire.WriteConcern{W: 0}})

	file, err := store.Save(ctx, bytes.NewReader(pattern(40)), port.UploadParams{})
	require.NoError(t, err)

	// Nothing to count without an acknowledgment, so no not-found either.
	require.NoError(t, store.UpdateMetadata(ctx, 999, document.Document{}))

	var out bytes.Buffer
	require.NoError(t, store.Read(ctx, file, &out))
	assert.Equal(t, pattern(40), out.Bytes())
}

func TestStoreReadByID(t *testing.T) {
	ctx := context.Background()
	store, _ := newMemStore(t, Options{ChunkSize: 16})
	data := pattern(33)
	saved, err := store.Save(ctx, bytes.NewReader(data), port.UploadParams{})
	require.NoError(t, err)

	var out bytes.Buffer
	file, err := store.ReadByID(ctx, saved.ID, &out)
	require.NoError(t, err)
	assert.Equal(t, saved.Length, file.Length)
	assert.Equal(t, data, out.Bytes())

	_, err = store.ReadByID(ctx, 12345, io.Discard)
	assert.ErrorIs(t, err, port.ErrFileNotFound)
}

func TestNewStoreValidates(t *testing.T) {
	_, err := NewStore[int64](nil, domain.SnowflakeIDs{Gen: &seqIDs{}}, Options{})
	assert.Error(t, err)
	_, err = NewStore[int64](docdb.New(memkv.New()), nil, Options{})
	assert.Error(t, err)
	_, err = NewStore[int64](docdb.New(memkv.New()), domain.SnowflakeIDs{Gen: &seqIDs{}}, Options{Digest: "crc"})
	assert.Error(t, err)
}

func TestStoreWithUUIDs(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore[string](docdb.New(memkv.New()), domain.UUIDIDs{}, Options{ChunkSize: 8})
	require.NoError(t, err)
	defer store.Close()

	file, err := store.Save(ctx, bytes.NewReader(pattern(20)), port.UploadParams{})
	require.NoError(t, err)
	assert.Len(t, file.ID, 36)

	var out bytes.Buffer
	_, err = store.ReadByID(ctx, file.ID, &out)
	require.NoError(t, err)
	assert.Equal(t, pattern(20), out.Bytes())
}
