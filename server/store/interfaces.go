package store

import (
	"context"

	"github.com/filedepot/filedepot/common/models"
)

type BlobStore interface {
	// Create a new blob.
	// Returns store.ErrAlreadyExists if a blob with the same content hash already exists.
	Create(ctx context.Context, txOrNil *Tx, blob *models.Blob) error
	// FindOrCreate creates a blob if no blob with the same content hash exists,
	// otherwise it reads and returns the existing blob.
	// Returns the blob as it is in the database, and true iff a new blob was created.
	FindOrCreate(ctx context.Context, txOrNil *Tx, blob *models.Blob) (result *models.Blob, created bool, err error)
	// Read an existing blob, looking it up by ResourceID.
	// Returns gerror.ErrNotFound if the blob does not exist.
	Read(ctx context.Context, txOrNil *Tx, id models.BlobID) (*models.Blob, error)
	// ReadByContentHash reads an existing blob, looking it up by content hash.
	// Returns gerror.ErrNotFound if the blob does not exist.
	ReadByContentHash(ctx context.Context, txOrNil *Tx, contentHash string) (*models.Blob, error)
	// ReadAndLockByContentHash reads an existing blob by content hash and locks its row
	// for the duration of the enclosing transaction.
	// Returns gerror.ErrNotFound if the blob does not exist.
	ReadAndLockByContentHash(ctx context.Context, tx *Tx, contentHash string) (*models.Blob, error)
	// Update an existing blob with optimistic locking. Overrides all previous values using the supplied model.
	// Returns store.ErrOptimisticLockFailed if there is an optimistic lock mismatch.
	Update(ctx context.Context, txOrNil *Tx, blob *models.Blob) error
	// Delete permanently and idempotently deletes a blob row.
	Delete(ctx context.Context, txOrNil *Tx, id models.BlobID) error
	// Totals returns the number of blobs, the sum of blob sizes and the sum of blob
	// reference counts across the whole store.
	Totals(ctx context.Context, txOrNil *Tx) (blobCount int64, totalSizeBytes int64, totalReferences int64, err error)
}

type FileStore interface {
	// Create a new file record.
	Create(ctx context.Context, txOrNil *Tx, file *models.FileRecord) error
	// Read an existing file record, looking it up by ResourceID.
	// Returns gerror.ErrNotFound if the file record does not exist.
	Read(ctx context.Context, txOrNil *Tx, id models.FileID) (*models.FileRecord, error)
	// Delete permanently and idempotently deletes a file record.
	Delete(ctx context.Context, txOrNil *Tx, id models.FileID) error
	// Search lists file records matching the supplied search, newest first.
	// Returns one page of results together with the total number of records
	// matching the search across all pages.
	Search(ctx context.Context, txOrNil *Tx, search models.FileSearch) ([]*models.FileRecord, int64, error)
	// DistinctFileTypes returns the sorted set of distinct file types across all file records.
	DistinctFileTypes(ctx context.Context, txOrNil *Tx) ([]string, error)
	// CountByContentHash returns the number of file records referencing the given content hash.
	CountByContentHash(ctx context.Context, txOrNil *Tx, contentHash string) (int64, error)
	// Totals returns the number of file records and the sum of their logical sizes.
	Totals(ctx context.Context, txOrNil *Tx) (fileCount int64, totalSizeBytes int64, err error)
}
