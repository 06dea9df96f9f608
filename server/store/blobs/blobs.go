package blobs

import (
	"context"

	"github.com/doug-martin/goqu/v9"

	"github.com/filedepot/filedepot/common/logger"
	"github.com/filedepot/filedepot/common/models"
	"github.com/filedepot/filedepot/server/store"
)

func init() {
	_ = models.MutableResource(&models.Blob{})
	store.MustDBModel(&models.Blob{})
}

type BlobStore struct {
	table *store.ResourceTable
}

func NewStore(db *store.DB, logFactory logger.LogFactory) *BlobStore {
	return &BlobStore{
		table: store.NewResourceTable(db, logFactory, &models.Blob{}),
	}
}

// Create a new blob.
// Returns store.ErrAlreadyExists if a blob with the same content hash already exists.
func (d *BlobStore) Create(ctx context.Context, txOrNil *store.Tx, blob *models.Blob) error {
	return d.table.Create(ctx, txOrNil, blob)
}

// FindOrCreate creates a blob if no blob with the same content hash exists,
// otherwise it reads and returns the existing blob.
// Returns the blob as it is in the database, and true iff a new blob was created.
func (d *BlobStore) FindOrCreate(ctx context.Context, txOrNil *store.Tx, blob *models.Blob) (result *models.Blob, created bool, err error) {
	resource, created, err := d.table.FindOrCreate(ctx, txOrNil,
		func(ctx context.Context, tx *store.Tx) (models.Resource, error) {
			return d.ReadByContentHash(ctx, tx, blob.ContentHash)
		},
		func(ctx context.Context, tx *store.Tx) (models.Resource, error) {
			err := d.Create(ctx, tx, blob)
			if err != nil {
				return nil, err
			}
			return blob, nil
		},
	)
	if err != nil {
		return nil, false, err
	}
	return resource.(*models.Blob), created, nil
}

// Read an existing blob, looking it up by ResourceID.
// Returns gerror.ErrNotFound if the blob does not exist.
func (d *BlobStore) Read(ctx context.Context, txOrNil *store.Tx, id models.BlobID) (*models.Blob, error) {
	blob := &models.Blob{}
	return blob, d.table.ReadByID(ctx, txOrNil, id.ResourceID, blob)
}

// ReadByContentHash reads an existing blob, looking it up by content hash.
// Returns gerror.ErrNotFound if the blob does not exist.
func (d *BlobStore) ReadByContentHash(ctx context.Context, txOrNil *store.Tx, contentHash string) (*models.Blob, error) {
	blob := &models.Blob{}
	return blob, d.table.ReadWhere(ctx, txOrNil, blob, goqu.Ex{"blob_content_hash": contentHash})
}

// ReadAndLockByContentHash reads an existing blob by content hash and locks its row for
// the duration of the enclosing transaction. Other transactions cannot update or delete
// the blob until the transaction ends.
// Returns gerror.ErrNotFound if the blob does not exist.
func (d *BlobStore) ReadAndLockByContentHash(ctx context.Context, tx *store.Tx, contentHash string) (*models.Blob, error) {
	blob := &models.Blob{}
	return blob, d.table.ReadAndLockRowForUpdateWhere(ctx, tx, blob, goqu.Ex{"blob_content_hash": contentHash})
}

// Update an existing blob with optimistic locking. Overrides all previous values using the supplied model.
// Returns store.ErrOptimisticLockFailed if there is an optimistic lock mismatch.
func (d *BlobStore) Update(ctx context.Context, txOrNil *store.Tx, blob *models.Blob) error {
	return d.table.UpdateByID(ctx, txOrNil, blob)
}

// Delete permanently and idempotently deletes a blob row.
func (d *BlobStore) Delete(ctx context.Context, txOrNil *store.Tx, id models.BlobID) error {
	return d.table.DeleteByID(ctx, txOrNil, id.ResourceID)
}

// Totals returns the number of blobs, the sum of blob sizes and the sum of blob
// reference counts across the whole store.
func (d *BlobStore) Totals(ctx context.Context, txOrNil *store.Tx) (blobCount int64, totalSizeBytes int64, totalReferences int64, err error) {
	ds := d.table.Dialect().
		From(d.table.TableName()).
		Select(
			goqu.COUNT(goqu.Star()).As("blob_count"),
			goqu.COALESCE(goqu.SUM(goqu.C("blob_size_bytes")), 0).As("total_size_bytes"),
			goqu.COALESCE(goqu.SUM(goqu.C("blob_reference_count")), 0).As("total_references"),
		)
	totals := &blobTotals{}
	err = d.table.ReadIn(ctx, txOrNil, totals, ds)
	if err != nil {
		return 0, 0, 0, err
	}
	return totals.BlobCount, totals.TotalSizeBytes, totals.TotalReferences, nil
}

type blobTotals struct {
	BlobCount       int64 `db:"blob_count"`
	TotalSizeBytes  int64 `db:"total_size_bytes"`
	TotalReferences int64 `db:"total_references"`
}
