package service

import (
	"context"

	"github.com/anthanhphan/go-gridstore/internal/gridstore/domain"
	"github.com/anthanhphan/go-gridstore/internal/gridstore/port"
	"github.com/anthanhphan/go-gridstore/pkg/document"
	"github.com/anthanhphan/go-gridstore/pkg/wire"
	"github.com/anthanhphan/gosdk/logger"
)

// removeService deletes a file's chunks and then its record. The two
// deletes are independent commands; matching nothing is not an error.
type removeService[ID comparable] struct {
	core *Store[ID]
}

func newRemoveService[ID comparable](core *Store[ID]) *removeService[ID] {
	return &removeService[ID]{core: core}
}

func (s *removeService[ID]) remove(ctx context.Context, id ID) (port.RemoveResult, error) {
	var result port.RemoveResult
	fileID := s.core.ids.Format(id)
	idVal := s.core.ids.Encode(id)
	wc := s.core.writeConcern(nil)

	chunksRes, err := s.core.chunks.delete(ctx, []wire.DeleteElement{{
		Filter: document.Document{document.E(domain.FieldFilesID, idVal)},
		Limit:  0,
	}}, true, wc)
	if err != nil {
		logger.Errorw("Remove chunks failed", "file_id", fileID, "error", err.Error())
		return result, err
	}
	result.ChunksDeleted = chunksRes.N

	filesRes, err := s.core.files.delete(ctx, []wire.DeleteElement{{
		Filter: document.Document{document.E(domain.FieldID, idVal)},
		Limit:  1,
	}}, true, wc)
	if err != nil {
		logger.Errorw("Remove file record failed", "file_id", fileID, "chunks_deleted", result.ChunksDeleted, "error", err.Error())
		return result, err
	}
	result.FilesDeleted = filesRes.N

	logger.Infow("File removed", "file_id", fileID, "chunks_deleted", result.ChunksDeleted, "files_deleted", result.FilesDeleted)
	return result, nil
}
