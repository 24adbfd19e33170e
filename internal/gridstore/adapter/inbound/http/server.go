package http_handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/anthanhphan/go-gridstore/internal/gridstore/config"
	"github.com/anthanhphan/go-gridstore/internal/gridstore/domain"
	"github.com/anthanhphan/go-gridstore/internal/gridstore/port"
	"github.com/anthanhphan/go-gridstore/pkg/document"
	sdklogger "github.com/anthanhphan/gosdk/logger"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

const (
	maxFormFieldSize = 64 * 1024
	defaultFindLimit = 100
)

type Server[ID comparable] struct {
	app   *fiber.App
	cfg   *config.Config
	store port.GridStore[ID]
	ids   domain.IDCodec[ID]
}

func NewServer[ID comparable](cfg *config.Config, store port.GridStore[ID], ids domain.IDCodec[ID]) *Server[ID] {
	app := fiber.New(fiber.Config{
		BodyLimit:             cfg.Server.BodyLimitMB * 1024 * 1024,
		StreamRequestBody:     true,
		DisableStartupMessage: true,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())

	s := &Server[ID]{
		app:   app,
		cfg:   cfg,
		store: store,
		ids:   ids,
	}

	// Routes
	s.registerRoutes()

	return s
}

func (s *Server[ID]) registerRoutes() {
	s.app.Post("/files", s.handleUpload)
	s.app.Get("/files", s.handleFind)
	s.app.Get("/files/:id", s.handleDownload)
	s.app.Delete("/files/:id", s.handleRemove)
	s.app.Get("/files/:id/metadata", s.handleMetadata)
	s.app.Put("/files/:id/metadata", s.handleUpdateMetadata)

	s.app.Post("/admin/indexes", s.handleEnsureIndexes)
	s.app.Get("/admin/exists", s.handleExists)
}

// App exposes the fiber app, mainly for app.Test in tests.
func (s *Server[ID]) App() *fiber.App { return s.app }

func (s *Server[ID]) Start() error {
	return s.app.Listen(s.cfg.Server.Addr)
}

func (s *Server[ID]) Stop(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server[ID]) sendJSONError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}

// sendStoreError maps store errors onto HTTP statuses.
func (s *Server[ID]) sendStoreError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, port.ErrFileNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, port.ErrDuplicateKey):
		status = fiber.StatusConflict
	case errors.Is(err, port.ErrRejected):
		status = fiber.StatusBadRequest
	case errors.Is(err, port.ErrNotDispatched):
		status = fiber.StatusServiceUnavailable
	case errors.Is(err, port.ErrIntegrity):
		status = fiber.StatusUnprocessableEntity
	}
	return s.sendJSONError(c, status, err.Error())
}

func (s *Server[ID]) parseID(c *fiber.Ctx) (ID, error) {
	return s.ids.Parse(c.Params("id"))
}

func (s *Server[ID]) handleUpload(c *fiber.Ctx) error {
	contentType := c.Get("Content-Type")
	if !strings.HasPrefix(contentType, "multipart/form-data") {
		return s.sendJSONError(c, fiber.StatusBadRequest, "Content-Type must be multipart/form-data")
	}

	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, "Invalid Content-Type")
	}
	boundary, ok := params["boundary"]
	if !ok {
		return s.sendJSONError(c, fiber.StatusBadRequest, "Missing boundary in Content-Type")
	}

	// Use raw request body stream
	bodyStream := c.Context().RequestBodyStream()
	if bodyStream == nil {
		bodyStream = bytes.NewReader(c.Body())
	}
	mr := multipart.NewReader(bodyStream, boundary)

	var upload port.UploadParams
	var src io.Reader

	// Form fields must precede the file part; the file is streamed.
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return s.sendJSONError(c, fiber.StatusBadRequest, fmt.Sprintf("Failed to read multipart: %v", err))
		}

		if part.FileName() != "" {
			upload.Filename = part.FileName()
			if upload.ContentType == "" {
				upload.ContentType = part.Header.Get("Content-Type")
			}
			src = part
			break
		}

		value, err := io.ReadAll(io.LimitReader(part, maxFormFieldSize))
		_ = part.Close()
		if err != nil {
			return s.sendJSONError(c, fiber.StatusBadRequest, fmt.Sprintf("Failed to read form field: %v", err))
		}
		switch part.FormName() {
		case "content_type":
			upload.ContentType = string(value)
		case "metadata":
			metadata, err := document.FromJSON(value)
			if err != nil {
				return s.sendJSONError(c, fiber.StatusBadRequest, fmt.Sprintf("Invalid metadata: %v", err))
			}
			upload.Metadata = metadata
		}
	}

	if src == nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, "Missing 'file' part")
	}

	file, err := s.store.Save(c.Context(), src, upload)
	if err != nil {
		sdklogger.Errorw("Upload failed", "file_name", upload.Filename, "error", err.Error())
		return s.sendStoreError(c, err)
	}

	view, err := s.fileView(file)
	if err != nil {
		return s.sendJSONError(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.Status(fiber.StatusCreated).JSON(view)
}

func (s *Server[ID]) handleDownload(c *fiber.Ctx) error {
	id, err := s.parseID(c)
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, err.Error())
	}

	file, err := s.store.GetFile(c.Context(), id)
	if err != nil {
		return s.sendStoreError(c, err)
	}

	offset, length, ranged, err := parseRange(c)
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, err.Error())
	}
	if offset > file.Length {
		return s.sendJSONError(c, fiber.StatusRequestedRangeNotSatisfiable, fmt.Sprintf("offset %d beyond file of %d bytes", offset, file.Length))
	}

	outFileName := s.ids.Format(id)
	if file.Filename != "" {
		outFileName = file.Filename
	}
	outContentType := "application/octet-stream"
	if file.ContentType != "" {
		outContentType = file.ContentType
	}
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", outFileName))
	c.Set("Content-Type", outContentType)

	if !ranged {
		if err := s.store.Read(c.Context(), file, c.Response().BodyWriter()); err != nil {
			return s.failDownload(c, id, err)
		}
		return nil
	}

	ds, err := s.store.OpenRangeStream(c.Context(), file, offset, length)
	if err != nil {
		return s.sendStoreError(c, err)
	}
	defer func() { _ = ds.Close() }()

	c.Status(fiber.StatusPartialContent)
	if _, err := io.Copy(c.Response().BodyWriter(), ds); err != nil {
		return s.failDownload(c, id, err)
	}
	return nil
}

// failDownload drops whatever part of the file was already buffered and
// answers with the store error instead.
func (s *Server[ID]) failDownload(c *fiber.Ctx, id ID, err error) error {
	sdklogger.Errorw("Download failed", "file_id", s.ids.Format(id), "error", err.Error())
	c.Response().ResetBody()
	c.Response().Header.Del(fiber.HeaderContentDisposition)
	return s.sendStoreError(c, err)
}

// parseRange reads the optional offset and length query parameters.
func parseRange(c *fiber.Ctx) (offset, length int64, ranged bool, err error) {
	length = -1
	if v := c.Query("offset"); v != "" {
		offset, err = strconv.ParseInt(v, 10, 64)
		if err != nil || offset < 0 {
			return 0, 0, false, fmt.Errorf("invalid offset %q", v)
		}
		ranged = true
	}
	if v := c.Query("length"); v != "" {
		length, err = strconv.ParseInt(v, 10, 64)
		if err != nil || length < 0 {
			return 0, 0, false, fmt.Errorf("invalid length %q", v)
		}
		ranged = true
	}
	return offset, length, ranged, nil
}

func (s *Server[ID]) handleMetadata(c *fiber.Ctx) error {
	id, err := s.parseID(c)
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, err.Error())
	}

	file, err := s.store.GetFile(c.Context(), id)
	if err != nil {
		sdklogger.Warnw("Metadata lookup failed", "file_id", c.Params("id"), "error", err.Error())
		return s.sendStoreError(c, err)
	}

	view, err := s.fileView(file)
	if err != nil {
		return s.sendJSONError(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(view)
}

func (s *Server[ID]) handleUpdateMetadata(c *fiber.Ctx) error {
	id, err := s.parseID(c)
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, err.Error())
	}

	metadata, err := document.FromJSON(c.Body())
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, fmt.Sprintf("Invalid metadata: %v", err))
	}

	if err := s.store.UpdateMetadata(c.Context(), id, metadata); err != nil {
		return s.sendStoreError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server[ID]) handleFind(c *fiber.Ctx) error {
	filter := document.Document{}
	if name := c.Query("filename"); name != "" {
		filter = filter.Append(domain.FieldFilename, document.String(name))
	}
	limit := c.QueryInt("limit", defaultFindLimit)
	if limit <= 0 {
		return s.sendJSONError(c, fiber.StatusBadRequest, "limit must be positive")
	}

	ctx := c.Context()
	cur, err := s.store.Find(ctx, filter, port.FindOptions{
		Sort:  document.Document{document.E(domain.FieldUploadDate, document.Int32(-1))},
		Limit: limit,
	})
	if err != nil {
		return s.sendStoreError(c, err)
	}
	defer func() { _ = cur.Close(ctx) }()

	files := make([]fileView, 0)
	for cur.Next(ctx) {
		view, err := s.fileView(cur.File())
		if err != nil {
			return s.sendJSONError(c, fiber.StatusInternalServerError, err.Error())
		}
		files = append(files, view)
	}
	if err := cur.Err(); err != nil {
		return s.sendStoreError(c, err)
	}

	return c.JSON(fiber.Map{"files": files})
}

func (s *Server[ID]) handleRemove(c *fiber.Ctx) error {
	id, err := s.parseID(c)
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, err.Error())
	}

	res, err := s.store.Remove(c.Context(), id)
	if err != nil {
		return s.sendStoreError(c, err)
	}
	return c.JSON(fiber.Map{
		"chunks_deleted": res.ChunksDeleted,
		"files_deleted":  res.FilesDeleted,
	})
}

func (s *Server[ID]) handleEnsureIndexes(c *fiber.Ctx) error {
	created, err := s.store.EnsureIndexes(c.Context())
	if err != nil {
		return s.sendStoreError(c, err)
	}
	return c.JSON(fiber.Map{"created": created})
}

func (s *Server[ID]) handleExists(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"exists": s.store.Exists(c.Context())})
}
