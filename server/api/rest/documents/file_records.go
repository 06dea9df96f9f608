package documents

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/filedepot/filedepot/common/gerror"
	"github.com/filedepot/filedepot/common/models"
	"github.com/filedepot/filedepot/server/api/rest/routes"
)

type FileRecord struct {
	baseResourceDocument

	ID models.FileID `json:"id"`
	// UploadedAt is the time the file was uploaded.
	UploadedAt models.Time `json:"uploaded_at"`
	// Name of the file as supplied by the uploader.
	Name string `json:"name"`
	// ContentHash is the hex-encoded digest of the file content.
	ContentHash string `json:"content_hash"`
	// FileType is the detected MIME type of the file content.
	FileType string `json:"file_type"`
	// SizeBytes is the size of the file content in bytes.
	SizeBytes int64 `json:"size_bytes"`

	DataURL string `json:"data_url"`
}

func MakeFileRecord(rctx routes.RequestContext, file *models.FileRecord) *FileRecord {
	return &FileRecord{
		baseResourceDocument: baseResourceDocument{
			URL: routes.MakeFileLink(rctx, file.ID),
		},

		ID:          file.ID,
		UploadedAt:  file.CreatedAt,
		Name:        file.Name,
		ContentHash: file.ContentHash,
		FileType:    file.FileType,
		SizeBytes:   file.SizeBytes,

		DataURL: routes.MakeFileDataLink(rctx, file.ID),
	}
}

func MakeFileRecords(rctx routes.RequestContext, files []*models.FileRecord) []*FileRecord {
	var docs []*FileRecord
	for _, model := range files {
		docs = append(docs, MakeFileRecord(rctx, model))
	}
	return docs
}

func (m *FileRecord) GetID() models.ResourceID {
	return m.ID.ResourceID
}

func (m *FileRecord) GetKind() models.ResourceKind {
	return models.FileResourceKind
}

func (m *FileRecord) GetCreatedAt() models.Time {
	return m.UploadedAt
}

type FileSearchRequest struct {
	*models.FileSearch
}

func NewFileSearchRequest() *FileSearchRequest {
	return &FileSearchRequest{FileSearch: &models.FileSearch{}}
}

func (d *FileSearchRequest) Bind(r *http.Request) error {
	d.Sanitize()
	err := d.Validate()
	if err != nil {
		return gerror.NewErrValidationFailed(err.Error()).Wrap(err)
	}
	return nil
}

func (d *FileSearchRequest) GetQuery() url.Values {
	values := make(url.Values)
	setIntQueryParam(values, "page", int64(d.Page))
	setIntQueryParam(values, "page_size", int64(d.PageSize))
	if d.FilenameContains != "" {
		values.Set("filename", d.FilenameContains)
	}
	if len(d.FileTypes) > 0 {
		values.Set("file_type", strings.Join(d.FileTypes, ","))
	}
	if d.MinSizeBytes != nil {
		setIntQueryParam(values, "min_size", *d.MinSizeBytes)
	}
	if d.MaxSizeBytes != nil {
		setIntQueryParam(values, "max_size", *d.MaxSizeBytes)
	}
	if d.UploadedAfter != nil {
		setIntQueryParam(values, "date_after_epoch", d.UploadedAfter.EpochMillis())
	}
	if d.UploadedBefore != nil {
		setIntQueryParam(values, "date_before_epoch", d.UploadedBefore.EpochMillis())
	}
	return values
}

func (d *FileSearchRequest) FromQuery(values url.Values) error {
	page, err := getIntQueryParam(values, "page")
	if err != nil {
		return err
	}
	if page != nil {
		d.Page = int(*page)
	}
	pageSize, err := getIntQueryParam(values, "page_size")
	if err != nil {
		return err
	}
	if pageSize != nil {
		d.PageSize = int(*pageSize)
	}
	// "search" is an alias for "filename"; both filter on a filename substring
	filename := getStringQueryParam(values, "filename")
	if filename == "" {
		filename = getStringQueryParam(values, "search")
	}
	d.FilenameContains = filename
	fileTypes := getStringQueryParam(values, "file_type")
	if fileTypes != "" {
		for _, fileType := range strings.Split(fileTypes, ",") {
			fileType = strings.TrimSpace(fileType)
			if fileType != "" {
				d.FileTypes = append(d.FileTypes, fileType)
			}
		}
	}
	d.MinSizeBytes, err = getIntQueryParam(values, "min_size")
	if err != nil {
		return err
	}
	d.MaxSizeBytes, err = getIntQueryParam(values, "max_size")
	if err != nil {
		return err
	}
	dateAfter, err := getIntQueryParam(values, "date_after_epoch")
	if err != nil {
		return err
	}
	if dateAfter != nil {
		after := models.NewTimeFromEpochMillis(*dateAfter)
		d.UploadedAfter = &after
	}
	dateBefore, err := getIntQueryParam(values, "date_before_epoch")
	if err != nil {
		return err
	}
	if dateBefore != nil {
		before := models.NewTimeFromEpochMillis(*dateBefore)
		d.UploadedBefore = &before
	}
	d.Sanitize()
	err = d.Validate()
	if err != nil {
		return gerror.NewErrValidationFailed(err.Error()).Wrap(err)
	}
	return nil
}

func (d *FileSearchRequest) ForPage(page int) PaginatedRequest {
	d.Page = page
	return d
}

// getStringQueryParam returns the first value for key; url.Values holds
// already-decoded strings so no further unescaping is needed.
func getStringQueryParam(values url.Values, key string) string {
	vals, ok := values[key]
	if !ok || len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func getIntQueryParam(values url.Values, key string) (*int64, error) {
	str := getStringQueryParam(values, key)
	if str == "" {
		return nil, nil
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return nil, gerror.NewErrValidationFailed("error decoding " + key).Wrap(err)
	}
	return &val, nil
}
