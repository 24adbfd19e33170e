package service

import (
	"bytes"
	"context"
	"testing"

	"github.com/anthanhphan/go-gridstore/internal/gridstore/port"
	"github.com/anthanhphan/go-gridstore/internal/gridstore/service/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestBootstrapService_EnsureIndexes(t *testing.T) {
	ctx := context.Background()
	store, engine := newMemStore(t, Options{ChunkSize: 4, Prefix: "media"})

	assert.False(t, store.Exists(ctx))

	created, err := store.EnsureIndexes(ctx)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, store.Exists(ctx))

	created, err = store.EnsureIndexes(ctx)
	require.NoError(t, err)
	assert.False(t, created)

	stats, err := engine.CollectionStats(ctx, "media.chunks")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.IndexCount)
	stats, err = engine.CollectionStats(ctx, "media.files")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.IndexCount)
}

func TestBootstrapService_UniqueChunkIndex(t *testing.T) {
	ctx := context.Background()
	store, _ := newMemStore(t, Options{ChunkSize: 4})
	_, err := store.EnsureIndexes(ctx)
	require.NoError(t, err)

	_, err = store.SaveWithID(ctx, 1, bytes.NewReader(pattern(6)), port.UploadParams{})
	require.NoError(t, err)

	// Chunks of the same id collide on (files_id, n) before any file record is written.
	_, err = store.SaveWithID(ctx, 1, bytes.NewReader(pattern(6)), port.UploadParams{})
	require.Error(t, err)
	assert.ErrorIs(t, err, port.ErrDuplicateKey)
	assert.Contains(t, err.Error(), "write chunk 0")
}

func TestBootstrapService_ExistsAfterUploadWithoutIndexes(t *testing.T) {
	ctx := context.Background()
	store, _ := newMemStore(t, Options{ChunkSize: 4})

	_, err := store.Save(ctx, bytes.NewReader(pattern(3)), port.UploadParams{})
	require.NoError(t, err)
	assert.True(t, store.Exists(ctx))
}

func TestBootstrapService_WithMocks(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(db *mocks.MockDatabase)
		wantCreated bool
		wantErr     bool
	}{
		{
			name: "existing collections are not an error",
			setup: func(db *mocks.MockDatabase) {
				db.EXPECT().CreateCollection(gomock.Any(), "fs.files").Return(port.ErrNamespaceExists)
				db.EXPECT().CreateCollection(gomock.Any(), "fs.chunks").Return(port.NewCommandError(port.CodeNamespaceExists, "exists"))
				db.EXPECT().EnsureIndex(gomock.Any(), "fs.chunks", chunksIndex()).Return(true, nil)
				db.EXPECT().EnsureIndex(gomock.Any(), "fs.files", filesIndex()).Return(true, nil)
			},
			wantCreated: true,
		},
		{
			name: "only one index created",
			setup: func(db *mocks.MockDatabase) {
				db.EXPECT().CreateCollection(gomock.Any(), gomock.Any()).Return(nil).Times(2)
				db.EXPECT().EnsureIndex(gomock.Any(), "fs.chunks", gomock.Any()).Return(false, nil)
				db.EXPECT().EnsureIndex(gomock.Any(), "fs.files", gomock.Any()).Return(true, nil)
			},
			wantCreated: false,
		},
		{
			name: "collection creation failure",
			setup: func(db *mocks.MockDatabase) {
				db.EXPECT().CreateCollection(gomock.Any(), "fs.files").Return(errInjected)
			},
			wantErr: true,
		},
		{
			name: "index failure",
			setup: func(db *mocks.MockDatabase) {
				db.EXPECT().CreateCollection(gomock.Any(), gomock.Any()).Return(nil).Times(2)
				db.EXPECT().EnsureIndex(gomock.Any(), "fs.chunks", gomock.Any()).
					Return(false, port.NewCommandError(port.CodeDuplicateKey, "dup"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			db := mocks.NewMockDatabase(ctrl)
			tt.setup(db)
			store := newTestStore(t, db, Options{})

			created, err := store.EnsureIndexes(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCreated, created)
		})
	}
}

func TestBootstrapService_ExistsWithMocks(t *testing.T) {
	tests := []struct {
		name  string
		setup func(db *mocks.MockDatabase)
		want  bool
	}{
		{
			name: "both initialized",
			setup: func(db *mocks.MockDatabase) {
				db.EXPECT().CollectionStats(gomock.Any(), gomock.Any()).Return(port.CollectionStats{IndexCount: 1}, nil).Times(2)
			},
			want: true,
		},
		{
			name: "chunks missing",
			setup: func(db *mocks.MockDatabase) {
				db.EXPECT().CollectionStats(gomock.Any(), "fs.files").Return(port.CollectionStats{Size: 10, IndexCount: 2}, nil)
				db.EXPECT().CollectionStats(gomock.Any(), "fs.chunks").Return(port.CollectionStats{}, port.ErrNamespaceNotFound)
			},
			want: false,
		},
		{
			name: "stats unavailable",
			setup: func(db *mocks.MockDatabase) {
				db.EXPECT().CollectionStats(gomock.Any(), "fs.files").Return(port.CollectionStats{}, errInjected)
			},
			want: false,
		},
		{
			name: "empty collection without indexes",
			setup: func(db *mocks.MockDatabase) {
				db.EXPECT().CollectionStats(gomock.Any(), "fs.files").Return(port.CollectionStats{}, nil)
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			db := mocks.NewMockDatabase(ctrl)
			tt.setup(db)
			store := newTestStore(t, db, Options{})
			assert.Equal(t, tt.want, store.Exists(context.Background()))
		})
	}
}
