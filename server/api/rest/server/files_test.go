package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/filedepot/filedepot/common/gerror"
	"github.com/filedepot/filedepot/common/logger"
	"github.com/filedepot/filedepot/server/api/rest/documents"
	"github.com/filedepot/filedepot/server/api/rest/server"
	"github.com/filedepot/filedepot/server/services/blob"
	"github.com/filedepot/filedepot/server/services/file"
	"github.com/filedepot/filedepot/server/store/blobs"
	"github.com/filedepot/filedepot/server/store/files"
	"github.com/filedepot/filedepot/server/store/store_test"
)

type listResponse struct {
	Count    int64                   `json:"count"`
	Next     *string                 `json:"next"`
	Previous *string                 `json:"previous"`
	Results  []*documents.FileRecord `json:"results"`
}

func newTestServer(t *testing.T) *httptest.Server {
	db, cleanup, err := store_test.Connect(logger.NoOpLogFactory)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	blobStore := blobs.NewStore(db, logger.NoOpLogFactory)
	fileStore := files.NewStore(db, logger.NoOpLogFactory)
	byteStore := blob.NewLocalBlobStore(blob.LocalBlobStoreDirectory(t.TempDir()))
	fileService := file.NewFileService(db, fileStore, blobStore, byteStore, logger.NoOpLogFactory)

	mockClock := clock.NewMock()
	mockClock.Set(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	fileService.SetClock(mockClock)

	fileAPI := server.NewFileAPI(fileService, logger.NoOpLogFactory)
	router := server.NewAppAPIRouter(fileAPI, logger.NoOpLogFactory)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts
}

func uploadFile(t *testing.T, ts *httptest.Server, fileName, content string) *documents.FileRecord {
	res := postFile(t, ts, fileName, content)
	defer res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)
	doc := &documents.FileRecord{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(doc))
	return doc
}

func postFile(t *testing.T, ts *httptest.Server, fileName, content string) *http.Response {
	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	part, err := form.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	res, err := http.Post(ts.URL+"/api/v1/files", form.FormDataContentType(), body)
	require.NoError(t, err)
	return res
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	return res
}

func readErrorDocument(t *testing.T, res *http.Response) *documents.ErrorDocument {
	defer res.Body.Close()
	doc := &documents.ErrorDocument{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(doc))
	return doc
}

func TestAPIUploadAndDownload(t *testing.T) {
	ts := newTestServer(t)

	doc := uploadFile(t, ts, "hello.txt", "hello world")
	require.Equal(t, "hello.txt", doc.Name)
	require.Equal(t, int64(len("hello world")), doc.SizeBytes)
	require.Equal(t, "text/plain", doc.FileType)
	require.True(t, doc.ID.Valid())
	require.NotEmpty(t, doc.ContentHash)
	require.Contains(t, doc.DataURL, doc.ID.String())

	res, err := http.Get(doc.DataURL)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, `attachment; filename="hello.txt"`, res.Header.Get("Content-Disposition"))
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))

	// The record document is also fetchable at its own URL
	fetched := &documents.FileRecord{}
	getJSON(t, doc.URL, fetched)
	require.Equal(t, doc.ID, fetched.ID)
}

func TestAPIUploadDeduplicatesContent(t *testing.T) {
	ts := newTestServer(t)

	first := postFile(t, ts, "a.txt", "same content")
	first.Body.Close()
	require.Equal(t, http.StatusCreated, first.StatusCode)
	require.Empty(t, first.Header.Get("X-Content-Deduplicated"))

	second := postFile(t, ts, "b.txt", "same content")
	second.Body.Close()
	require.Equal(t, http.StatusCreated, second.StatusCode)
	require.Equal(t, "true", second.Header.Get("X-Content-Deduplicated"))
}

func TestAPIUploadMissingFileField(t *testing.T) {
	ts := newTestServer(t)

	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	require.NoError(t, form.WriteField("name", "not-a-file"))
	require.NoError(t, form.Close())

	res, err := http.Post(ts.URL+"/api/v1/files", form.FormDataContentType(), body)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	doc := readErrorDocument(t, res)
	require.Equal(t, gerror.ErrCodeValidationFailed, doc.Code)
}

func TestAPIListPaginationEnvelope(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 3; i++ {
		uploadFile(t, ts, fmt.Sprintf("file-%d.txt", i), fmt.Sprintf("content %d", i))
	}

	page1 := &listResponse{}
	getJSON(t, ts.URL+"/api/v1/files?page_size=2", page1)
	require.EqualValues(t, 3, page1.Count)
	require.Len(t, page1.Results, 2)
	require.NotNil(t, page1.Next)
	require.Nil(t, page1.Previous)

	page2 := &listResponse{}
	getJSON(t, *page1.Next, page2)
	require.EqualValues(t, 3, page2.Count)
	require.Len(t, page2.Results, 1)
	require.Nil(t, page2.Next)
	require.NotNil(t, page2.Previous)
}

func TestAPIListFilters(t *testing.T) {
	ts := newTestServer(t)
	uploadFile(t, ts, "invoice-january.txt", "january invoice")
	uploadFile(t, ts, "invoice-february.txt", "february invoice")
	uploadFile(t, ts, "photo.json", `{"kind":"photo"}`)

	byName := &listResponse{}
	getJSON(t, ts.URL+"/api/v1/files?filename=invoice", byName)
	require.EqualValues(t, 2, byName.Count)

	// ?search= is an alias for the filename filter
	bySearch := &listResponse{}
	getJSON(t, ts.URL+"/api/v1/files?search=february", bySearch)
	require.EqualValues(t, 1, bySearch.Count)
	require.Equal(t, "invoice-february.txt", bySearch.Results[0].Name)

	byType := &listResponse{}
	getJSON(t, ts.URL+"/api/v1/files?file_type=application/json", byType)
	require.EqualValues(t, 1, byType.Count)
	require.Equal(t, "photo.json", byType.Results[0].Name)

	// A filename filter containing a '+' must not decode to a space
	uploadFile(t, ts, "report+q1.txt", "plus sign")
	byPlus := &listResponse{}
	getJSON(t, ts.URL+"/api/v1/files?filename=report%2Bq1", byPlus)
	require.EqualValues(t, 1, byPlus.Count)
	require.Equal(t, "report+q1.txt", byPlus.Results[0].Name)

	res, err := http.Get(ts.URL + "/api/v1/files?page=bogus")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	doc := readErrorDocument(t, res)
	require.Equal(t, gerror.ErrCodeValidationFailed, doc.Code)

	// Inconsistent filters are rejected before the query runs
	res, err = http.Get(ts.URL + "/api/v1/files?min_size=100&max_size=50")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	doc = readErrorDocument(t, res)
	require.Equal(t, gerror.ErrCodeValidationFailed, doc.Code)
}

func TestAPIDownloadByteRange(t *testing.T) {
	ts := newTestServer(t)
	doc := uploadFile(t, ts, "hello.txt", "hello world")

	get := func(rangeHeader string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, doc.DataURL, nil)
		require.NoError(t, err)
		req.Header.Set("Range", rangeHeader)
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return res
	}

	res := get("bytes=6-10")
	defer res.Body.Close()
	require.Equal(t, http.StatusPartialContent, res.StatusCode)
	require.Equal(t, "bytes 6-10/11", res.Header.Get("Content-Range"))
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Equal(t, "world", string(data))

	// Open-ended ranges run to the end of the content
	res = get("bytes=6-")
	defer res.Body.Close()
	require.Equal(t, http.StatusPartialContent, res.StatusCode)
	data, err = io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Equal(t, "world", string(data))

	// A range starting past the end of the content is unsatisfiable
	res = get("bytes=99-")
	res.Body.Close()
	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, res.StatusCode)
	require.Equal(t, "bytes */11", res.Header.Get("Content-Range"))

	// Malformed range specs are ignored and the whole file is served
	res = get("bytes=banana")
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	data, err = io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
}

func TestAPIDeleteFile(t *testing.T) {
	ts := newTestServer(t)
	doc := uploadFile(t, ts, "doomed.txt", "doomed content")

	req, err := http.NewRequest(http.MethodDelete, doc.URL, nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	// Deleting again returns not found
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	errDoc := readErrorDocument(t, res)
	require.Equal(t, gerror.ErrCodeNotFound, errDoc.Code)

	// A malformed id is indistinguishable from an unknown one
	req, err = http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/files/not-a-valid-id", nil)
	require.NoError(t, err)
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestAPIStorageStatsAndFileTypes(t *testing.T) {
	ts := newTestServer(t)
	uploadFile(t, ts, "a.txt", "hello world")
	uploadFile(t, ts, "b.txt", "hello world")
	uploadFile(t, ts, "c.json", `{"k":1}`)

	stats := &documents.StorageStats{}
	getJSON(t, ts.URL+"/api/v1/files/storage_stats", stats)
	require.EqualValues(t, 2, stats.TotalFiles)
	require.EqualValues(t, 3, stats.TotalReferences)
	require.EqualValues(t, int64(len("hello world")+len(`{"k":1}`)), stats.TotalSizeBytes)
	require.EqualValues(t, int64(len("hello world")), stats.SpaceSavedBytes)
	require.NotEmpty(t, stats.TotalSizeReadable)
	require.NotEmpty(t, stats.SpaceSavedReadable)

	fileTypes := &documents.FileTypes{}
	getJSON(t, ts.URL+"/api/v1/files/file_types", fileTypes)
	require.Equal(t, []string{"application/json", "text/plain"}, fileTypes.FileTypes)
}
