package services

import (
	"context"
	"io"

	"github.com/filedepot/filedepot/common/models"
	"github.com/filedepot/filedepot/server/store"
)

// BlobStore is an interface for storing and retrieving flat file content.
// Content is write-once: a key is never overwritten once written.
type BlobStore interface {
	// PutBlob writes all data in the source reader to a blob identified by key.
	// If a blob already exists at key the call is a no-op; the existing content
	// is retained. The caller is responsible for closing the reader.
	PutBlob(ctx context.Context, key string, source io.Reader) error
	// GetBlob returns a reader positioned at the beginning of the blob identified by key.
	// The caller is responsible for closing the reader.
	GetBlob(ctx context.Context, key string) (io.ReadCloser, error)
	// GetBlobRange returns a reader positioned at the specified offset of the blob identified
	// by key, which will read up to length bytes. The caller is responsible for closing the reader.
	GetBlobRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)
	// DeleteBlob deletes a blob. Returns nil if the blob does not exist.
	DeleteBlob(ctx context.Context, key string) error
	// ListBlobs lists up to limit blobs with keys lexicographically greater than marker.
	// Returns the descriptors together with a marker to pass to the next call, or an
	// empty marker if there are no more results.
	ListBlobs(ctx context.Context, prefix string, marker string, limit int) ([]*models.BlobDescriptor, string, error)
}

type FileService interface {
	// Upload ingests the file content provided by reader under the supplied filename,
	// deduplicating it against previously stored content. It is the caller's
	// responsibility to close reader.
	// Returns the new file record and true iff the content already existed in the store.
	Upload(ctx context.Context, fileName string, reader io.Reader) (*models.FileRecord, bool, error)
	// Read an existing file record, looking it up by ID.
	Read(ctx context.Context, txOrNil *store.Tx, id models.FileID) (*models.FileRecord, error)
	// Delete removes a file record and releases its reference to the underlying blob.
	// When the last reference to a blob is released the blob and its content are
	// removed from the store. Delete is idempotent.
	Delete(ctx context.Context, id models.FileID) error
	// Search lists file records matching the supplied search, newest first.
	// Returns one page of results together with the total number of records matching
	// the search across all pages.
	Search(ctx context.Context, txOrNil *store.Tx, search models.FileSearch) ([]*models.FileRecord, int64, error)
	// FileTypes returns the sorted set of distinct file types across all file records.
	FileTypes(ctx context.Context, txOrNil *store.Tx) ([]string, error)
	// Stats summarizes deduplication effectiveness across the store.
	Stats(ctx context.Context, txOrNil *store.Tx) (*models.StorageStats, error)
	// GetFileData returns a reader to the content of a file, together with its record.
	// It is the caller's responsibility to close the reader.
	GetFileData(ctx context.Context, id models.FileID) (io.ReadCloser, *models.FileRecord, error)
	// GetFileDataRange returns a reader to length bytes of the content of a file
	// starting at offset, together with its record.
	// It is the caller's responsibility to close the reader.
	GetFileDataRange(ctx context.Context, id models.FileID, offset, length int64) (io.ReadCloser, *models.FileRecord, error)
}
