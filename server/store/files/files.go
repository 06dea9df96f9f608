package files

import (
	"context"

	"github.com/doug-martin/goqu/v9"

	"github.com/filedepot/filedepot/common/logger"
	"github.com/filedepot/filedepot/common/models"
	"github.com/filedepot/filedepot/server/store"
)

func init() {
	store.MustDBModel(&models.FileRecord{})
}

type FileStore struct {
	table *store.ResourceTable
}

func NewStore(db *store.DB, logFactory logger.LogFactory) *FileStore {
	return &FileStore{
		table: store.NewResourceTable(db, logFactory, &models.FileRecord{}),
	}
}

// Create a new file record.
func (d *FileStore) Create(ctx context.Context, txOrNil *store.Tx, file *models.FileRecord) error {
	return d.table.Create(ctx, txOrNil, file)
}

// Read an existing file record, looking it up by ResourceID.
// Returns gerror.ErrNotFound if the file record does not exist.
func (d *FileStore) Read(ctx context.Context, txOrNil *store.Tx, id models.FileID) (*models.FileRecord, error) {
	file := &models.FileRecord{}
	return file, d.table.ReadByID(ctx, txOrNil, id.ResourceID, file)
}

// Delete permanently and idempotently deletes a file record.
func (d *FileStore) Delete(ctx context.Context, txOrNil *store.Tx, id models.FileID) error {
	return d.table.DeleteByID(ctx, txOrNil, id.ResourceID)
}

// Search lists file records matching the supplied search, newest first.
// Returns one page of results together with the total number of records
// matching the search across all pages.
func (d *FileStore) Search(ctx context.Context, txOrNil *store.Tx, search models.FileSearch) ([]*models.FileRecord, int64, error) {
	where := d.makeWhere(search)

	countDS := d.table.Dialect().From(d.table.TableName()).Where(where...)
	total, err := d.table.CountIn(ctx, txOrNil, countDS)
	if err != nil {
		return nil, 0, err
	}

	listDS := d.table.Dialect().
		From(d.table.TableName()).
		Select(&models.FileRecord{}).
		Where(where...)
	var results []*models.FileRecord
	err = d.table.ListPage(ctx, txOrNil, &results, search.Page, search.PageSize, listDS)
	if err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

func (d *FileStore) makeWhere(search models.FileSearch) []goqu.Expression {
	var where []goqu.Expression
	if search.FilenameContains != "" {
		where = append(where, goqu.C("file_name").ILike("%"+search.FilenameContains+"%"))
	}
	if len(search.FileTypes) > 0 {
		where = append(where, goqu.C("file_type").In(search.FileTypes))
	}
	if search.MinSizeBytes != nil {
		where = append(where, goqu.C("file_size_bytes").Gte(*search.MinSizeBytes))
	}
	if search.MaxSizeBytes != nil {
		where = append(where, goqu.C("file_size_bytes").Lte(*search.MaxSizeBytes))
	}
	if search.UploadedAfter != nil {
		where = append(where, goqu.C("file_created_at").Gte(*search.UploadedAfter))
	}
	if search.UploadedBefore != nil {
		where = append(where, goqu.C("file_created_at").Lte(*search.UploadedBefore))
	}
	return where
}

// DistinctFileTypes returns the sorted set of distinct file types across all file records.
func (d *FileStore) DistinctFileTypes(ctx context.Context, txOrNil *store.Tx) ([]string, error) {
	ds := d.table.Dialect().
		From(d.table.TableName()).
		Select(goqu.C("file_type")).
		Distinct().
		Order(goqu.C("file_type").Asc())
	var fileTypes []string
	err := d.table.ListVals(ctx, txOrNil, &fileTypes, ds)
	if err != nil {
		return nil, err
	}
	return fileTypes, nil
}

// CountByContentHash returns the number of file records referencing the given content hash.
func (d *FileStore) CountByContentHash(ctx context.Context, txOrNil *store.Tx, contentHash string) (int64, error) {
	ds := d.table.Dialect().
		From(d.table.TableName()).
		Where(goqu.Ex{"file_content_hash": contentHash})
	return d.table.CountIn(ctx, txOrNil, ds)
}

// Totals returns the number of file records and the sum of their logical sizes.
func (d *FileStore) Totals(ctx context.Context, txOrNil *store.Tx) (fileCount int64, totalSizeBytes int64, err error) {
	ds := d.table.Dialect().
		From(d.table.TableName()).
		Select(
			goqu.COUNT(goqu.Star()).As("file_count"),
			goqu.COALESCE(goqu.SUM(goqu.C("file_size_bytes")), 0).As("total_size_bytes"),
		)
	totals := &fileTotals{}
	err = d.table.ReadIn(ctx, txOrNil, totals, ds)
	if err != nil {
		return 0, 0, err
	}
	return totals.FileCount, totals.TotalSizeBytes, nil
}

type fileTotals struct {
	FileCount      int64 `db:"file_count"`
	TotalSizeBytes int64 `db:"total_size_bytes"`
}
