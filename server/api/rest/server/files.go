package server

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/filedepot/filedepot/common/gerror"
	"github.com/filedepot/filedepot/common/logger"
	"github.com/filedepot/filedepot/common/models"
	"github.com/filedepot/filedepot/server/api/rest/documents"
	"github.com/filedepot/filedepot/server/api/rest/routes"
	"github.com/filedepot/filedepot/server/services"
)

// uploadFieldName is the multipart form field that carries the file content.
const uploadFieldName = "file"

type FileAPI struct {
	fileService services.FileService
	*APIBase
}

func NewFileAPI(
	fileService services.FileService,
	logFactory logger.LogFactory) *FileAPI {
	return &FileAPI{
		fileService: fileService,
		APIBase:     NewAPIBase(logFactory("FileAPI")),
	}
}

// Create ingests a multipart file upload. The upload is streamed out of the
// request body rather than buffered, so the size ceiling is enforced without
// reading the whole part first.
func (a *FileAPI) Create(w http.ResponseWriter, r *http.Request) {
	form, err := r.MultipartReader()
	if err != nil {
		a.Error(w, r, gerror.NewErrValidationFailed("Expected a multipart/form-data request").Wrap(err))
		return
	}
	var part *multipart.Part
	for {
		p, err := form.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			a.Error(w, r, gerror.NewErrValidationFailed("Error reading multipart request").Wrap(err))
			return
		}
		if p.FormName() == uploadFieldName {
			part = p
			break
		}
		p.Close()
	}
	if part == nil {
		a.Error(w, r, gerror.NewErrValidationFailed(fmt.Sprintf("Missing form field %q", uploadFieldName)))
		return
	}
	defer part.Close()

	file, existed, err := a.fileService.Upload(r.Context(), part.FileName(), part)
	if err != nil {
		a.Error(w, r, err)
		return
	}
	if existed {
		w.Header().Set("X-Content-Deduplicated", "true")
	}
	res := documents.MakeFileRecord(routes.RequestCtx(r), file)
	a.CreatedResource(w, r, res, nil)
}

func (a *FileAPI) Get(w http.ResponseWriter, r *http.Request) {
	fileID, err := a.FileID(r)
	if err != nil {
		a.Error(w, r, err)
		return
	}
	file, err := a.fileService.Read(r.Context(), nil, fileID)
	if err != nil {
		a.Error(w, r, err)
		return
	}
	res := documents.MakeFileRecord(routes.RequestCtx(r), file)
	a.GotResource(w, r, res)
}

func (a *FileAPI) GetData(w http.ResponseWriter, r *http.Request) {
	fileID, err := a.FileID(r)
	if err != nil {
		a.Error(w, r, err)
		return
	}

	// A single byte range is honored; anything else gets the whole file
	if start, end, ok := parseByteRange(r.Header.Get("Range")); ok {
		a.getDataRange(w, r, fileID, start, end)
		return
	}

	reader, file, err := a.fileService.GetFileData(r.Context(), fileID)
	if err != nil {
		a.Error(w, r, err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	w.Header().Set("Content-Type", file.FileType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", file.SizeBytes))
	w.Header().Set("Accept-Ranges", "bytes")
	w.WriteHeader(http.StatusOK)

	_, err = io.Copy(w, reader)
	if err != nil {
		a.Errorf("error writing file data to response body: %v", err)
	}
}

func (a *FileAPI) getDataRange(w http.ResponseWriter, r *http.Request, fileID models.FileID, start, end int64) {
	file, err := a.fileService.Read(r.Context(), nil, fileID)
	if err != nil {
		a.Error(w, r, err)
		return
	}
	if start >= file.SizeBytes {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", file.SizeBytes))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if end < 0 || end >= file.SizeBytes {
		end = file.SizeBytes - 1
	}
	length := end - start + 1
	reader, _, err := a.fileService.GetFileDataRange(r.Context(), fileID, start, length)
	if err != nil {
		a.Error(w, r, err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	w.Header().Set("Content-Type", file.FileType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", length))
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, file.SizeBytes))
	w.Header().Set("Accept-Ranges", "bytes")
	w.WriteHeader(http.StatusPartialContent)

	_, err = io.Copy(w, reader)
	if err != nil {
		a.Errorf("error writing file data to response body: %v", err)
	}
}

// parseByteRange parses a Range header of the form "bytes=start-" or
// "bytes=start-end". Suffix and multi ranges are not supported; for those
// (and malformed headers) ok is false and the caller serves the full content.
// end is -1 when the range is open-ended.
func parseByteRange(header string) (start, end int64, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, false
	}
	spec := strings.TrimPrefix(header, prefix)
	dash := strings.Index(spec, "-")
	if dash < 1 || strings.Contains(spec, ",") {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(spec[:dash], 10, 64)
	if err != nil || start < 0 {
		return 0, 0, false
	}
	if dash == len(spec)-1 {
		return start, -1, true
	}
	end, err = strconv.ParseInt(spec[dash+1:], 10, 64)
	if err != nil || end < start {
		return 0, 0, false
	}
	return start, end, true
}

func (a *FileAPI) Delete(w http.ResponseWriter, r *http.Request) {
	fileID, err := a.FileID(r)
	if err != nil {
		a.Error(w, r, err)
		return
	}
	// Surface a 404 for unknown ids; the service-level delete is idempotent
	// and would otherwise silently succeed.
	_, err = a.fileService.Read(r.Context(), nil, fileID)
	if err != nil {
		a.Error(w, r, err)
		return
	}
	err = a.fileService.Delete(r.Context(), fileID)
	if err != nil {
		a.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *FileAPI) List(w http.ResponseWriter, r *http.Request) {
	search := documents.NewFileSearchRequest()
	err := search.FromQuery(r.URL.Query())
	if err != nil {
		a.Error(w, r, err)
		return
	}
	files, count, err := a.fileService.Search(r.Context(), nil, *search.FileSearch)
	if err != nil {
		a.Error(w, r, err)
		return
	}
	link := routes.MakeFilesLink(routes.RequestCtx(r))
	docs := documents.MakeFileRecords(routes.RequestCtx(r), files)
	if docs == nil {
		docs = []*documents.FileRecord{}
	}
	res := documents.NewPaginatedResponse(link, search, search.Page, search.PageSize, count, docs)
	a.JSON(w, r, res)
}

func (a *FileAPI) GetStorageStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.fileService.Stats(r.Context(), nil)
	if err != nil {
		a.Error(w, r, err)
		return
	}
	a.JSON(w, r, documents.MakeStorageStats(stats))
}

func (a *FileAPI) GetFileTypes(w http.ResponseWriter, r *http.Request) {
	fileTypes, err := a.fileService.FileTypes(r.Context(), nil)
	if err != nil {
		a.Error(w, r, err)
		return
	}
	a.JSON(w, r, documents.MakeFileTypes(fileTypes))
}
