package models

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

const (
	// DefaultPageSize is the number of results returned when the caller
	// does not specify a page size.
	DefaultPageSize = 10
	// MaxPageSize caps the page size a caller can request.
	MaxPageSize = 50
)

// FileSearch describes a filtered, paginated query over file records.
// The zero value with Sanitize applied lists the first page of all files.
type FileSearch struct {
	// Page is the 1-indexed page number to return.
	Page int `json:"page"`
	// PageSize is the number of records per page.
	PageSize int `json:"page_size"`
	// FilenameContains filters to files whose name contains this
	// substring, case-insensitively.
	FilenameContains string `json:"filename_contains"`
	// FileTypes filters to files whose detected type matches any of
	// these types.
	FileTypes []string `json:"file_types"`
	// MinSizeBytes filters to files at least this large, if set.
	MinSizeBytes *int64 `json:"min_size_bytes"`
	// MaxSizeBytes filters to files at most this large, if set.
	MaxSizeBytes *int64 `json:"max_size_bytes"`
	// UploadedAfter filters to files uploaded at or after this time, if set.
	UploadedAfter *Time `json:"uploaded_after"`
	// UploadedBefore filters to files uploaded at or before this time, if set.
	UploadedBefore *Time `json:"uploaded_before"`
}

// Sanitize applies defaults and clamps the page size to the allowed range.
func (s *FileSearch) Sanitize() {
	if s.Page < 1 {
		s.Page = 1
	}
	if s.PageSize < 1 {
		s.PageSize = DefaultPageSize
	}
	if s.PageSize > MaxPageSize {
		s.PageSize = MaxPageSize
	}
}

func (s *FileSearch) Validate() error {
	var result *multierror.Error
	if s.Page < 1 {
		result = multierror.Append(result, errors.New("error page must be at least 1"))
	}
	if s.PageSize < 1 || s.PageSize > MaxPageSize {
		result = multierror.Append(result, errors.Errorf("error page size must be between 1 and %d", MaxPageSize))
	}
	if s.MinSizeBytes != nil && *s.MinSizeBytes < 0 {
		result = multierror.Append(result, errors.New("error min size must not be negative"))
	}
	if s.MaxSizeBytes != nil && *s.MaxSizeBytes < 0 {
		result = multierror.Append(result, errors.New("error max size must not be negative"))
	}
	if s.MinSizeBytes != nil && s.MaxSizeBytes != nil && *s.MinSizeBytes > *s.MaxSizeBytes {
		result = multierror.Append(result, errors.New("error min size must not exceed max size"))
	}
	if s.UploadedAfter != nil && s.UploadedBefore != nil && s.UploadedAfter.After(s.UploadedBefore.Time) {
		result = multierror.Append(result, errors.New("error uploaded after must not be later than uploaded before"))
	}
	return result.ErrorOrNil()
}
