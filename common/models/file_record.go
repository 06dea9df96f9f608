package models

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

const FileResourceKind ResourceKind = "file"

// MaxFileSizeBytes is the largest upload the engine will accept.
const MaxFileSizeBytes int64 = 10 * 1024 * 1024

type FileID struct {
	ResourceID
}

func NewFileID() FileID {
	return FileID{ResourceID: NewResourceID(FileResourceKind)}
}

func FileIDFromResourceID(id ResourceID) FileID {
	return FileID{ResourceID: id}
}

// FileRecord is a single logical upload. It is immutable once created and
// holds a reference to the blob that owns the file content; many records
// with identical content share one blob.
type FileRecord struct {
	ID FileID `json:"id" goqu:"skipupdate" db:"file_id"`
	// CreatedAt is the time the file was uploaded.
	CreatedAt Time `json:"uploaded_at" goqu:"skipupdate" db:"file_created_at"`
	// Name is the filename supplied by the uploader.
	Name string `json:"name" db:"file_name"`
	// ContentHash is the hex-encoded digest of the file content, matching
	// the content hash of the referenced blob.
	ContentHash string `json:"content_hash" db:"file_content_hash"`
	// FileType is the detected MIME type of the file content.
	FileType string `json:"file_type" db:"file_type"`
	// SizeBytes is the size of the file content in bytes.
	SizeBytes int64 `json:"size_bytes" db:"file_size_bytes"`
}

func NewFileRecord(now Time, name string, contentHash string, fileType string, sizeBytes int64) *FileRecord {
	return &FileRecord{
		ID:          NewFileID(),
		CreatedAt:   now,
		Name:        name,
		ContentHash: contentHash,
		FileType:    fileType,
		SizeBytes:   sizeBytes,
	}
}

func (m *FileRecord) GetKind() ResourceKind {
	return FileResourceKind
}

func (m *FileRecord) GetCreatedAt() Time {
	return m.CreatedAt
}

func (m *FileRecord) GetID() ResourceID {
	return m.ID.ResourceID
}

func (m *FileRecord) Validate() error {
	var result *multierror.Error
	result = validateResourceID(result, m.ID.ResourceID, FileResourceKind)
	if m.CreatedAt.IsZero() {
		result = multierror.Append(result, errors.New("error created at must be set"))
	}
	if m.Name == "" {
		result = multierror.Append(result, errors.New("error name must be set"))
	}
	if !ValidContentHash(m.ContentHash) {
		result = multierror.Append(result, errors.New("error content hash must be a hex-encoded 256-bit digest"))
	}
	if m.FileType == "" {
		result = multierror.Append(result, errors.New("error file type must be set"))
	}
	if m.SizeBytes < 0 {
		result = multierror.Append(result, errors.New("error size must not be negative"))
	}
	if m.SizeBytes > MaxFileSizeBytes {
		result = multierror.Append(result, errors.Errorf("error size must not exceed %d bytes", MaxFileSizeBytes))
	}
	return result.ErrorOrNil()
}
