package http_handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/anthanhphan/go-gridstore/internal/gridstore/adapter/outbound/docdb"
	"github.com/anthanhphan/go-gridstore/internal/gridstore/adapter/outbound/memkv"
	"github.com/anthanhphan/go-gridstore/internal/gridstore/config"
	"github.com/anthanhphan/go-gridstore/internal/gridstore/domain"
	"github.com/anthanhphan/go-gridstore/internal/gridstore/service"
	"github.com/anthanhphan/go-gridstore/pkg/document"
	"github.com/anthanhphan/go-gridstore/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterIDs struct{ last atomic.Int64 }

func (g *counterIDs) Next() (int64, error) { return g.last.Add(1), nil }

func newTestServer(t *testing.T) *Server[int64] {
	t.Helper()
	s, _ := newTestServerWithEngine(t)
	return s
}

func newTestServerWithEngine(t *testing.T) (*Server[int64], *docdb.Engine) {
	t.Helper()
	ids := domain.SnowflakeIDs{Gen: &counterIDs{}}
	engine := docdb.New(memkv.New())
	store, err := service.NewStore[int64](engine, ids, service.Options{ChunkSize: 8})
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return NewServer[int64](config.DefaultConfig(), store, ids), engine
}

func multipartBody(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func do(t *testing.T, s *Server[int64], req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp, body
}

func upload(t *testing.T, s *Server[int64], fields map[string]string, filename string, content []byte) fileView {
	t.Helper()
	body, contentType := multipartBody(t, fields, filename, content)
	req := httptest.NewRequest(http.MethodPost, "/files", body)
	req.Header.Set("Content-Type", contentType)
	resp, raw := do(t, s, req)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	var view fileView
	require.NoError(t, json.Unmarshal(raw, &view))
	return view
}

func TestServer_UploadDownload(t *testing.T) {
	s := newTestServer(t)
	content := []byte("the quick brown fox jumps over the lazy dog")

	view := upload(t, s, map[string]string{
		"content_type": "text/plain",
		"metadata":     `{"owner":"ops","tags":["a","b"]}`,
	}, "fox.txt", content)
	assert.Equal(t, "fox.txt", view.Filename)
	assert.Equal(t, "text/plain", view.ContentType)
	assert.EqualValues(t, len(content), view.Length)
	assert.EqualValues(t, 6, view.Chunks)
	assert.Equal(t, "md5", view.DigestAlgorithm)
	assert.JSONEq(t, `{"owner":"ops","tags":["a","b"]}`, string(view.Metadata))

	resp, body := do(t, s, httptest.NewRequest(http.MethodGet, "/files/"+view.ID, nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, content, body)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), `"fox.txt"`)

	resp, body = do(t, s, httptest.NewRequest(http.MethodGet, "/files/"+view.ID+"?offset=4&length=11", nil))
	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "quick brown", string(body))

	resp, _ = do(t, s, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/files/%s?offset=%d", view.ID, len(content)+1), nil))
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
}

func TestServer_DownloadReportsDamagedChunks(t *testing.T) {
	s, engine := newTestServerWithEngine(t)
	view := upload(t, s, nil, "damaged.bin", []byte("0123456789abcdefghij"))
	id, err := strconv.ParseInt(view.ID, 10, 64)
	require.NoError(t, err)

	// Chunk 0 streams fine, chunk 1 has lost its payload.
	res, err := engine.RunWrite(context.Background(), wire.EncodeUpdate("fs.chunks", true, wire.Acknowledged, []wire.UpdateElement{{
		Filter: document.Document{
			document.E("files_id", document.Int64(id)),
			document.E("n", document.Int32(1)),
		},
		Update: document.Document{
			document.E("$unset", document.Doc(document.Document{document.E("data", document.String(""))})),
		},
	}}))
	require.NoError(t, err)
	require.EqualValues(t, 1, res.N)

	tests := []struct {
		name  string
		query string
	}{
		{name: "whole file", query: ""},
		{name: "range", query: "?offset=2&length=12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, s, httptest.NewRequest(http.MethodGet, "/files/"+view.ID+tt.query, nil))
			assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
			assert.Empty(t, resp.Header.Get("Content-Disposition"))

			var payload struct {
				Error string `json:"error"`
			}
			require.NoError(t, json.Unmarshal(body, &payload), string(body))
			assert.Contains(t, payload.Error, "data")
		})
	}
}

func TestServer_UploadRejectsBadRequests(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name        string
		build       func() *http.Request
		errContains string
	}{
		{
			name: "not multipart",
			build: func() *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/files", strings.NewReader("x"))
				req.Header.Set("Content-Type", "application/octet-stream")
				return req
			},
			errContains: "multipart/form-data",
		},
		{
			name: "no file part",
			build: func() *http.Request {
				body, ct := multipartBody(t, map[string]string{"content_type": "a/b"}, "", nil)
				req := httptest.NewRequest(http.MethodPost, "/files", body)
				req.Header.Set("Content-Type", ct)
				return req
			},
			errContains: "Missing 'file' part",
		},
		{
			name: "invalid metadata",
			build: func() *http.Request {
				body, ct := multipartBody(t, map[string]string{"metadata": "[1,2]"}, "a.bin", []byte("x"))
				req := httptest.NewRequest(http.MethodPost, "/files", body)
				req.Header.Set("Content-Type", ct)
				return req
			},
			errContains: "Invalid metadata",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, s, tt.build())
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, string(body), tt.errContains)
		})
	}
}

func TestServer_MetadataLifecycle(t *testing.T) {
	s := newTestServer(t)
	view := upload(t, s, nil, "a.bin", []byte("0123456789"))

	resp, body := do(t, s, httptest.NewRequest(http.MethodGet, "/files/"+view.ID+"/metadata", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got fileView
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, view.ID, got.ID)
	assert.EqualValues(t, 10, got.Length)
	assert.EqualValues(t, 2, got.Chunks)

	req := httptest.NewRequest(http.MethodPut, "/files/"+view.ID+"/metadata", strings.NewReader(`{"state":"archived"}`))
	resp, _ = do(t, s, req)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, body = do(t, s, httptest.NewRequest(http.MethodGet, "/files/"+view.ID+"/metadata", nil))
	require.NoError(t, json.Unmarshal(body, &got))
	assert.JSONEq(t, `{"state":"archived"}`, string(got.Metadata))

	req = httptest.NewRequest(http.MethodPut, "/files/999/metadata", strings.NewReader(`{}`))
	resp, _ = do(t, s, req)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, s, httptest.NewRequest(http.MethodGet, "/files/not-a-number/metadata", nil))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_FindAndRemove(t *testing.T) {
	s := newTestServer(t)
	first := upload(t, s, nil, "report.pdf", []byte("v1"))
	second := upload(t, s, nil, "report.pdf", []byte("version 2"))
	upload(t, s, nil, "other.pdf", []byte("x"))

	resp, body := do(t, s, httptest.NewRequest(http.MethodGet, "/files?filename=report.pdf", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var found struct {
		Files []fileView `json:"files"`
	}
	require.NoError(t, json.Unmarshal(body, &found))
	require.Len(t, found.Files, 2)
	assert.ElementsMatch(t, []string{first.ID, second.ID}, []string{found.Files[0].ID, found.Files[1].ID})

	resp, body = do(t, s, httptest.NewRequest(http.MethodDelete, "/files/"+second.ID, nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"chunks_deleted":2,"files_deleted":1}`, string(body))

	resp, body = do(t, s, httptest.NewRequest(http.MethodDelete, "/files/"+second.ID, nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"chunks_deleted":0,"files_deleted":0}`, string(body))

	resp, _ = do(t, s, httptest.NewRequest(http.MethodGet, "/files/"+second.ID, nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, s, httptest.NewRequest(http.MethodGet, "/files?limit=0", nil))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Admin(t *testing.T) {
	s := newTestServer(t)

	_, body := do(t, s, httptest.NewRequest(http.MethodGet, "/admin/exists", nil))
	assert.JSONEq(t, `{"exists":false}`, string(body))

	resp, body := do(t, s, httptest.NewRequest(http.MethodPost, "/admin/indexes", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"created":true}`, string(body))

	_, body = do(t, s, httptest.NewRequest(http.MethodPost, "/admin/indexes", nil))
	assert.JSONEq(t, `{"created":false}`, string(body))

	_, body = do(t, s, httptest.NewRequest(http.MethodGet, "/admin/exists", nil))
	assert.JSONEq(t, `{"exists":true}`, string(body))
}
