package files_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/filedepot/filedepot/common/gerror"
	"github.com/filedepot/filedepot/common/logger"
	"github.com/filedepot/filedepot/common/models"
	"github.com/filedepot/filedepot/server/store"
	"github.com/filedepot/filedepot/server/store/blobs"
	"github.com/filedepot/filedepot/server/store/files"
	"github.com/filedepot/filedepot/server/store/store_test"
)

func contentHashOf(content string) string {
	digest := sha256.Sum256([]byte(content))
	return hex.EncodeToString(digest[:])
}

// seedBlob creates a blob row for contentHash so file records referencing it
// satisfy the files.file_content_hash -> blobs.blob_content_hash foreign key.
func seedBlob(t *testing.T, db *store.DB, contentHash string, sizeBytes int64) {
	t.Helper()
	now := models.NewTime(time.Now())
	key := "blobs/" + contentHash[0:2] + "/" + contentHash[2:4] + "/" + contentHash
	blob := models.NewBlob(now, models.HashTypeSHA256, contentHash, sizeBytes, key)
	err := blobs.NewStore(db, logger.NoOpLogFactory).Create(context.Background(), nil, blob)
	require.NoError(t, err)
}

func TestFileStoreCRUD(t *testing.T) {
	ctx := context.Background()

	db, cleanup, err := store_test.Connect(logger.NoOpLogFactory)
	require.NoError(t, err)
	defer cleanup()

	fileStore := files.NewStore(db, logger.NoOpLogFactory)

	now := models.NewTime(time.Now())
	record := models.NewFileRecord(now, "report.pdf", contentHashOf("report"), "application/pdf", 1024)
	seedBlob(t, db, record.ContentHash, record.SizeBytes)
	err = fileStore.Create(ctx, nil, record)
	require.NoError(t, err)

	read, err := fileStore.Read(ctx, nil, record.ID)
	require.NoError(t, err)
	require.Equal(t, record.ID, read.ID)
	require.Equal(t, "report.pdf", read.Name)
	require.Equal(t, "application/pdf", read.FileType)
	require.EqualValues(t, 1024, read.SizeBytes)
	require.Equal(t, record.ContentHash, read.ContentHash)

	count, err := fileStore.CountByContentHash(ctx, nil, record.ContentHash)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	err = fileStore.Delete(ctx, nil, record.ID)
	require.NoError(t, err)
	_, err = fileStore.Read(ctx, nil, record.ID)
	require.Error(t, err)
	require.NotNil(t, gerror.ToNotFound(err))

	// Delete is idempotent
	err = fileStore.Delete(ctx, nil, record.ID)
	require.NoError(t, err)
}

func TestFileStoreSearch(t *testing.T) {
	ctx := context.Background()

	db, cleanup, err := store_test.Connect(logger.NoOpLogFactory)
	require.NoError(t, err)
	defer cleanup()

	fileStore := files.NewStore(db, logger.NoOpLogFactory)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	seed := []struct {
		name     string
		fileType string
		size     int64
		uploaded time.Time
	}{
		{"invoice-january.pdf", "application/pdf", 1000, base},
		{"invoice-february.pdf", "application/pdf", 2000, base.Add(1 * time.Hour)},
		{"holiday-photo.png", "image/png", 5000, base.Add(2 * time.Hour)},
		{"notes.txt", "text/plain", 100, base.Add(3 * time.Hour)},
		{"Backup-Invoice.PDF", "application/pdf", 3000, base.Add(4 * time.Hour)},
	}
	for i, f := range seed {
		record := models.NewFileRecord(
			models.NewTime(f.uploaded), f.name, contentHashOf(fmt.Sprintf("content-%d", i)), f.fileType, f.size)
		seedBlob(t, db, record.ContentHash, record.SizeBytes)
		err = fileStore.Create(ctx, nil, record)
		require.NoError(t, err)
	}

	newSearch := func() models.FileSearch {
		s := models.FileSearch{}
		s.Sanitize()
		return s
	}

	t.Run("ListAllNewestFirst", func(t *testing.T) {
		results, total, err := fileStore.Search(ctx, nil, newSearch())
		require.NoError(t, err)
		require.EqualValues(t, 5, total)
		require.Len(t, results, 5)
		require.Equal(t, "Backup-Invoice.PDF", results[0].Name)
		require.Equal(t, "invoice-january.pdf", results[4].Name)
	})

	t.Run("Pagination", func(t *testing.T) {
		search := newSearch()
		search.PageSize = 2

		results, total, err := fileStore.Search(ctx, nil, search)
		require.NoError(t, err)
		require.EqualValues(t, 5, total)
		require.Len(t, results, 2)
		require.Equal(t, "Backup-Invoice.PDF", results[0].Name)

		search.Page = 3
		results, total, err = fileStore.Search(ctx, nil, search)
		require.NoError(t, err)
		require.EqualValues(t, 5, total)
		require.Len(t, results, 1)
		require.Equal(t, "invoice-january.pdf", results[0].Name)

		search.Page = 4
		results, _, err = fileStore.Search(ctx, nil, search)
		require.NoError(t, err)
		require.Len(t, results, 0)
	})

	t.Run("FilenameContainsCaseInsensitive", func(t *testing.T) {
		search := newSearch()
		search.FilenameContains = "invoice"
		results, total, err := fileStore.Search(ctx, nil, search)
		require.NoError(t, err)
		require.EqualValues(t, 3, total)
		require.Len(t, results, 3)
	})

	t.Run("FileTypesAnyOf", func(t *testing.T) {
		search := newSearch()
		search.FileTypes = []string{"image/png", "text/plain"}
		results, total, err := fileStore.Search(ctx, nil, search)
		require.NoError(t, err)
		require.EqualValues(t, 2, total)
		require.Len(t, results, 2)
	})

	t.Run("SizeRange", func(t *testing.T) {
		minSize := int64(1000)
		maxSize := int64(3000)
		search := newSearch()
		search.MinSizeBytes = &minSize
		search.MaxSizeBytes = &maxSize
		results, total, err := fileStore.Search(ctx, nil, search)
		require.NoError(t, err)
		require.EqualValues(t, 3, total)
		require.Len(t, results, 3)
		for _, r := range results {
			require.GreaterOrEqual(t, r.SizeBytes, minSize)
			require.LessOrEqual(t, r.SizeBytes, maxSize)
		}
	})

	t.Run("UploadedDateRange", func(t *testing.T) {
		after := models.NewTime(base.Add(30 * time.Minute))
		before := models.NewTime(base.Add(150 * time.Minute))
		search := newSearch()
		search.UploadedAfter = &after
		search.UploadedBefore = &before
		results, total, err := fileStore.Search(ctx, nil, search)
		require.NoError(t, err)
		require.EqualValues(t, 2, total)
		require.Len(t, results, 2)
	})

	t.Run("UploadedDateRangeBoundsAreInclusive", func(t *testing.T) {
		// Bounds equal to record timestamps exactly; both records match
		after := models.NewTime(base.Add(1 * time.Hour))  // invoice-february.pdf
		before := models.NewTime(base.Add(2 * time.Hour)) // holiday-photo.png
		search := newSearch()
		search.UploadedAfter = &after
		search.UploadedBefore = &before
		results, total, err := fileStore.Search(ctx, nil, search)
		require.NoError(t, err)
		require.EqualValues(t, 2, total)
		require.Len(t, results, 2)
		require.Equal(t, "holiday-photo.png", results[0].Name)
		require.Equal(t, "invoice-february.pdf", results[1].Name)
	})

	t.Run("CombinedFilters", func(t *testing.T) {
		minSize := int64(1500)
		search := newSearch()
		search.FilenameContains = "invoice"
		search.FileTypes = []string{"application/pdf"}
		search.MinSizeBytes = &minSize
		results, total, err := fileStore.Search(ctx, nil, search)
		require.NoError(t, err)
		require.EqualValues(t, 2, total)
		require.Len(t, results, 2)
	})

	t.Run("DistinctFileTypes", func(t *testing.T) {
		fileTypes, err := fileStore.DistinctFileTypes(ctx, nil)
		require.NoError(t, err)
		require.Equal(t, []string{"application/pdf", "image/png", "text/plain"}, fileTypes)
	})

	t.Run("Totals", func(t *testing.T) {
		fileCount, totalSizeBytes, err := fileStore.Totals(ctx, nil)
		require.NoError(t, err)
		require.EqualValues(t, 5, fileCount)
		require.EqualValues(t, 11100, totalSizeBytes)
	})
}
