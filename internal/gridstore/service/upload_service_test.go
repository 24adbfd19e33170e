package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/anthanhphan/go-gridstore/internal/gridstore/port"
	"github.com/anthanhphan/go-gridstore/internal/gridstore/service/mocks"
	"github.com/anthanhphan/go-gridstore/pkg/document"
	"github.com/anthanhphan/go-gridstore/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// writeTo matches a write command by name and collection, and by the n
// field of its first document when n >= 0.
type writeTo struct {
	name       string
	collection string
	n          int64
}

func insertInto(collection string, n int64) writeTo {
	return writeTo{name: wire.CommandInsert, collection: collection, n: n}
}

func (m writeTo) Matches(x any) bool {
	cmd, ok := x.(document.Document)
	if !ok || len(cmd) == 0 || cmd[0].Key != m.name {
		return false
	}
	if coll, _ := cmd[0].Value.StringValue(); coll != m.collection {
		return false
	}
	if m.n < 0 {
		return true
	}
	docs, ok := cmd.Lookup("documents")
	if !ok {
		return false
	}
	items, _ := docs.ArrayValue()
	if len(items) == 0 {
		return false
	}
	first, _ := items[0].DocumentValue()
	n, ok := first.Lookup("n")
	if !ok {
		return false
	}
	got, _ := n.Int64Value()
	return got == m.n
}

func (m writeTo) String() string {
	return fmt.Sprintf("%s into %s (n=%d)", m.name, m.collection, m.n)
}

var acked = port.WriteResult{N: 1, Acknowledged: true}

// stallingReader never makes progress.
type stallingReader struct{}

func (stallingReader) Read([]byte) (int, error) { return 0, nil }

// failingReader returns data once, then fails.
type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestUploadService_WriteOrder(t *testing.T) {
	type mockSetup func(db *mocks.MockDatabase)

	tests := []struct {
		name        string
		content     []byte
		setup       mockSetup
		wantErr     bool
		errIs       error
		errContains string
	}{
		{
			name:    "chunks precede the file record",
			content: pattern(10),
			setup: func(db *mocks.MockDatabase) {
				gomock.InOrder(
					db.EXPECT().RunWrite(gomock.Any(), insertInto("fs.chunks", 0)).Return(acked, nil),
					db.EXPECT().RunWrite(gomock.Any(), insertInto("fs.chunks", 1)).Return(acked, nil),
					db.EXPECT().RunWrite(gomock.Any(), insertInto("fs.chunks", 2)).Return(acked, nil),
					db.EXPECT().RunWrite(gomock.Any(), insertInto("fs.files", -1)).Return(acked, nil),
				)
			},
		},
		{
			name:    "empty source writes only the file record",
			content: nil,
			setup: func(db *mocks.MockDatabase) {
				db.EXPECT().RunWrite(gomock.Any(), insertInto("fs.files", -1)).Return(acked, nil)
			},
		},
		{
			name:    "chunk failure stops before the file record",
			content: pattern(10),
			setup: func(db *mocks.MockDatabase) {
				db.EXPECT().RunWrite(gomock.Any(), insertInto("fs.chunks", 0)).Return(port.WriteResult{}, errInjected)
			},
			wantErr:     true,
			errIs:       port.ErrNotDispatched,
			errContains: "write chunk 0",
		},
		{
			name:    "duplicate chunk is a command error",
			content: pattern(4),
			setup: func(db *mocks.MockDatabase) {
				db.EXPECT().RunWrite(gomock.Any(), insertInto("fs.chunks", 0)).Return(port.WriteResult{
					Acknowledged: true,
					WriteErrors:  []port.WriteError{{Index: 0, Code: port.CodeDuplicateKey, Message: "dup key"}},
				}, nil)
			},
			wantErr: true,
			errIs:   port.ErrDuplicateKey,
		},
		{
			name:    "file record failure is reported",
			content: pattern(3),
			setup: func(db *mocks.MockDatabase) {
				gomock.InOrder(
					db.EXPECT().RunWrite(gomock.Any(), insertInto("fs.chunks", 0)).Return(acked, nil),
					db.EXPECT().RunWrite(gomock.Any(), insertInto("fs.files", -1)).Return(port.WriteResult{}, errInjected),
				)
			},
			wantErr:     true,
			errIs:       port.ErrNotDispatched,
			errContains: "write file record",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			db := mocks.NewMockDatabase(ctrl)
			tt.setup(db)
			store := newTestStore(t, db, Options{ChunkSize: 4, ReadBufferSize: 4})

			file, err := store.Save(context.Background(), bytes.NewReader(tt.content), port.UploadParams{Filename: "a"})
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, file)
				if tt.errIs != nil {
					assert.ErrorIs(t, err, tt.errIs)
				}
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains)
				}
				return
			}
			require.NoError(t, err)
			assert.EqualValues(t, len(tt.content), file.Length)
		})
	}
}

func TestUploadService_SourceFailures(t *testing.T) {
	sourceErr := errors.New("disk gone")

	tests := []struct {
		name  string
		src   io.Reader
		errIs error
	}{
		{name: "no progress", src: stallingReader{}, errIs: io.ErrNoProgress},
		{name: "read error after data", src: &failingReader{data: pattern(9), err: sourceErr}, errIs: sourceErr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store, _ := newMemStore(t, Options{ChunkSize: 4})

			_, err := store.SaveWithID(ctx, 7, tt.src, port.UploadParams{})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.errIs)

			_, err = store.GetFile(ctx, 7)
			assert.ErrorIs(t, err, port.ErrFileNotFound)
		})
	}
}

func TestUploadService_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store, _ := newMemStore(t, Options{ChunkSize: 4})

	_, err := store.Save(ctx, bytes.NewReader(pattern(10)), port.UploadParams{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUploadService_UnacknowledgedOverride(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	db := mocks.NewMockDatabase(ctrl)
	unacked := wire.WriteConcern{W: 0}
	var commands []document.Document
	db.EXPECT().RunWrite(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, cmd document.Document) (port.WriteResult, error) {
		commands = append(commands, cmd)
		return port.WriteResult{}, nil
	}).Times(2)

	store := newTestStore(t, db, Options{ChunkSize: 8})
	_, err := store.Save(context.Background(), bytes.NewReader(pattern(5)), port.UploadParams{WriteConcern: &unacked})
	require.NoError(t, err)

	for _, cmd := range commands {
		wcVal, ok := cmd.Lookup("writeConcern")
		require.True(t, ok)
		wc, _ := wcVal.DocumentValue()
		w, _ := wc.Lookup("w")
		n, _ := w.Int64Value()
		assert.Zero(t, n)
	}
}
