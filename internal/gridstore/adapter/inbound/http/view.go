package http_handler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthanhphan/go-gridstore/internal/gridstore/domain"
	"github.com/anthanhphan/go-gridstore/pkg/document"
)

// fileView is the JSON shape of a file record.
type fileView struct {
	ID              string          `json:"id"`
	Filename        string          `json:"filename,omitempty"`
	ContentType     string          `json:"content_type,omitempty"`
	UploadDate      time.Time       `json:"upload_date"`
	ChunkSize       int32           `json:"chunk_size"`
	Length          int64           `json:"length"`
	Chunks          int64           `json:"chunks"`
	DigestAlgorithm string          `json:"digest_algorithm,omitempty"`
	Digest          string          `json:"digest,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
}

func (s *Server[ID]) fileView(file *domain.File[ID]) (fileView, error) {
	view := fileView{
		ID:          s.ids.Format(file.ID),
		Filename:    file.Filename,
		ContentType: file.ContentType,
		UploadDate:  file.UploadDate,
		ChunkSize:   file.ChunkSize,
		Length:      file.Length,
		Chunks:      file.ChunkCount(),
		Digest:      file.ContentDigest,
	}
	if file.ContentDigest != "" {
		view.DigestAlgorithm = string(file.DigestAlgorithm)
	}
	if file.Metadata != nil {
		raw, err := document.ToJSON(file.Metadata)
		if err != nil {
			return fileView{}, fmt.Errorf("render metadata of %s: %w", view.ID, err)
		}
		view.Metadata = raw
	}
	return view, nil
}
