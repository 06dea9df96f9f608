package file

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/filedepot/filedepot/common/gerror"
	"github.com/filedepot/filedepot/common/logger"
	"github.com/filedepot/filedepot/common/models"
	"github.com/filedepot/filedepot/server/services/blob"
	"github.com/filedepot/filedepot/server/store/blobs"
	"github.com/filedepot/filedepot/server/store/files"
	"github.com/filedepot/filedepot/server/store/store_test"
)

type fixture struct {
	service   *FileService
	blobStore *blobs.BlobStore
	fileStore *files.FileStore
	byteStore *blob.LocalBlobStore
	clock     *clock.Mock
}

func newFixture(t *testing.T) *fixture {
	db, cleanup, err := store_test.Connect(logger.NoOpLogFactory)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	blobStore := blobs.NewStore(db, logger.NoOpLogFactory)
	fileStore := files.NewStore(db, logger.NoOpLogFactory)
	byteStore := blob.NewLocalBlobStore(blob.LocalBlobStoreDirectory(t.TempDir()))
	service := NewFileService(db, fileStore, blobStore, byteStore, logger.NoOpLogFactory)

	mockClock := clock.NewMock()
	mockClock.Set(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	service.SetClock(mockClock)

	return &fixture{
		service:   service,
		blobStore: blobStore,
		fileStore: fileStore,
		byteStore: byteStore,
		clock:     mockClock,
	}
}

func (f *fixture) upload(t *testing.T, name, content string) *models.FileRecord {
	record, _, err := f.service.Upload(context.Background(), name, strings.NewReader(content))
	require.NoError(t, err)
	return record
}

func (f *fixture) stats(t *testing.T) *models.StorageStats {
	stats, err := f.service.Stats(context.Background(), nil)
	require.NoError(t, err)
	return stats
}

func contentHashOf(content string) string {
	digest := sha256.Sum256([]byte(content))
	return hex.EncodeToString(digest[:])
}

func TestUploadStoresContentAndRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	record, deduped, err := f.service.Upload(ctx, "hello.txt", strings.NewReader("hello world"))
	require.NoError(t, err)
	require.False(t, deduped)
	require.Equal(t, "hello.txt", record.Name)
	require.Equal(t, contentHashOf("hello world"), record.ContentHash)
	require.EqualValues(t, 11, record.SizeBytes)
	require.Equal(t, "text/plain", record.FileType)

	reader, read, err := f.service.GetFileData(ctx, record.ID)
	require.NoError(t, err)
	defer reader.Close()
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
	require.Equal(t, record.ID, read.ID)

	blobRow, err := f.blobStore.ReadByContentHash(ctx, nil, record.ContentHash)
	require.NoError(t, err)
	require.EqualValues(t, 1, blobRow.ReferenceCount)
	require.EqualValues(t, 11, blobRow.SizeBytes)
}

func TestUploadDeduplicatesIdenticalContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	content := "duplicated content"
	first := f.upload(t, "first.bin", content)

	second, deduped, err := f.service.Upload(ctx, "second.bin", strings.NewReader(content))
	require.NoError(t, err)
	require.True(t, deduped)
	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, first.ContentHash, second.ContentHash)

	// One blob, two references
	blobRow, err := f.blobStore.ReadByContentHash(ctx, nil, first.ContentHash)
	require.NoError(t, err)
	require.EqualValues(t, 2, blobRow.ReferenceCount)

	// Exactly one object in the byte store
	descriptors, _, err := f.byteStore.ListBlobs(ctx, "blobs/", "", 0)
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	require.EqualValues(t, len(content), descriptors[0].SizeBytes)
}

func TestUploadDifferentNamesSameContentShareBlob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	content := "same bytes different names"
	names := []string{"a.dat", "b.dat", "c.dat"}
	for _, name := range names {
		f.upload(t, name, content)
	}

	blobRow, err := f.blobStore.ReadByContentHash(ctx, nil, contentHashOf(content))
	require.NoError(t, err)
	require.EqualValues(t, 3, blobRow.ReferenceCount)

	// One distinct content, three references to it
	stats := f.stats(t)
	require.EqualValues(t, 1, stats.TotalFiles)
	require.EqualValues(t, 3, stats.TotalReferences)
	require.EqualValues(t, len(content), stats.TotalSizeBytes)
	require.EqualValues(t, 2*len(content), stats.SpaceSavedBytes)
}

func TestUploadRejectsOversizedContentWithNoTrace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	oversized := io.MultiReader(
		bytes.NewReader(bytes.Repeat([]byte{'x'}, int(models.MaxFileSizeBytes))),
		strings.NewReader("y"),
	)
	_, _, err := f.service.Upload(ctx, "huge.bin", oversized)
	require.Error(t, err)
	require.NotNil(t, gerror.ToSizeLimitExceeded(err))

	// The rejected upload must leave no trace anywhere
	stats := f.stats(t)
	require.EqualValues(t, 0, stats.TotalFiles)
	require.EqualValues(t, 0, stats.TotalReferences)
	require.EqualValues(t, 0, stats.TotalSizeBytes)

	descriptors, _, err := f.byteStore.ListBlobs(ctx, "", "", 0)
	require.NoError(t, err)
	require.Len(t, descriptors, 0)
}

func TestUploadAtSizeCeilingAccepted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	content := bytes.Repeat([]byte{'x'}, int(models.MaxFileSizeBytes))
	record, _, err := f.service.Upload(ctx, "exact.bin", bytes.NewReader(content))
	require.NoError(t, err)
	require.EqualValues(t, models.MaxFileSizeBytes, record.SizeBytes)
}

func TestUploadEmptyFilenameRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, _, err := f.service.Upload(ctx, "", strings.NewReader("content"))
	require.Error(t, err)
	require.NotNil(t, gerror.ToValidationFailed(err))
}

func TestUploadRefusesReferenceOnBlobSizeMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	content := "sized content"
	f.upload(t, "good.txt", content)

	// Corrupt the ledger's recorded size for the blob
	blobRow, err := f.blobStore.ReadByContentHash(ctx, nil, contentHashOf(content))
	require.NoError(t, err)
	blobRow.SizeBytes++
	require.NoError(t, f.blobStore.Update(ctx, nil, blobRow))

	_, _, err = f.service.Upload(ctx, "bad.txt", strings.NewReader(content))
	require.Error(t, err)
	require.NotNil(t, gerror.ToConsistencyFault(err))

	// The rejected upload must not have taken a reference
	blobRow, err = f.blobStore.ReadByContentHash(ctx, nil, contentHashOf(content))
	require.NoError(t, err)
	require.EqualValues(t, 1, blobRow.ReferenceCount)
}

func TestDeleteReleasesReferenceAndReapsLastCopy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	content := "reap me"
	first := f.upload(t, "first.txt", content)
	second := f.upload(t, "second.txt", content)

	// Releasing one reference keeps the blob alive
	err := f.service.Delete(ctx, first.ID)
	require.NoError(t, err)

	blobRow, err := f.blobStore.ReadByContentHash(ctx, nil, first.ContentHash)
	require.NoError(t, err)
	require.EqualValues(t, 1, blobRow.ReferenceCount)

	reader, _, err := f.service.GetFileData(ctx, second.ID)
	require.NoError(t, err)
	data, err := io.ReadAll(reader)
	reader.Close()
	require.NoError(t, err)
	require.Equal(t, content, string(data))

	// Releasing the last reference removes the blob row and the bytes
	err = f.service.Delete(ctx, second.ID)
	require.NoError(t, err)

	_, err = f.blobStore.ReadByContentHash(ctx, nil, first.ContentHash)
	require.Error(t, err)
	require.NotNil(t, gerror.ToNotFound(err))

	descriptors, _, err := f.byteStore.ListBlobs(ctx, "", "", 0)
	require.NoError(t, err)
	require.Len(t, descriptors, 0)

	stats := f.stats(t)
	require.EqualValues(t, 0, stats.TotalFiles)
	require.EqualValues(t, 0, stats.TotalReferences)
	require.EqualValues(t, 0, stats.TotalSizeBytes)
	require.EqualValues(t, 0, stats.SpaceSavedBytes)
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	record := f.upload(t, "once.txt", "only once")
	err := f.service.Delete(ctx, record.ID)
	require.NoError(t, err)
	err = f.service.Delete(ctx, record.ID)
	require.NoError(t, err)
	err = f.service.Delete(ctx, models.NewFileID())
	require.NoError(t, err)
}

func TestUploadAfterReapStoresContentAgain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	content := "gone and back again"
	record := f.upload(t, "gone.txt", content)
	err := f.service.Delete(ctx, record.ID)
	require.NoError(t, err)

	revived := f.upload(t, "back.txt", content)
	require.Equal(t, record.ContentHash, revived.ContentHash)

	reader, _, err := f.service.GetFileData(ctx, revived.ID)
	require.NoError(t, err)
	defer reader.Close()
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, content, string(data))
}

func TestConcurrentUploadsOfSameContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	content := "raced content"
	const uploaders = 8

	var wg sync.WaitGroup
	records := make([]*models.FileRecord, uploaders)
	errs := make([]error, uploaders)
	for i := 0; i < uploaders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			records[i], _, errs[i] = f.service.Upload(ctx, "raced.bin", strings.NewReader(content))
		}(i)
	}
	wg.Wait()

	for i := 0; i < uploaders; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, records[i])
	}

	// All uploads share one blob whose reference count equals the number of records
	blobRow, err := f.blobStore.ReadByContentHash(ctx, nil, contentHashOf(content))
	require.NoError(t, err)
	require.EqualValues(t, uploaders, blobRow.ReferenceCount)

	descriptors, _, err := f.byteStore.ListBlobs(ctx, "blobs/", "", 0)
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
}

func TestConcurrentUploadAndDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	content := "contended content"
	seed := f.upload(t, "seed.bin", content)

	var wg sync.WaitGroup
	var uploaded *models.FileRecord
	var uploadErr, deleteErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		uploaded, _, uploadErr = f.service.Upload(ctx, "racer.bin", strings.NewReader(content))
	}()
	go func() {
		defer wg.Done()
		deleteErr = f.service.Delete(ctx, seed.ID)
	}()
	wg.Wait()

	require.NoError(t, uploadErr)
	require.NoError(t, deleteErr)

	// Whatever the interleaving, the surviving record must be readable
	blobRow, err := f.blobStore.ReadByContentHash(ctx, nil, contentHashOf(content))
	require.NoError(t, err)
	require.EqualValues(t, 1, blobRow.ReferenceCount)

	reader, _, err := f.service.GetFileData(ctx, uploaded.ID)
	require.NoError(t, err)
	defer reader.Close()
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, content, string(data))
}

func TestStatsLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	content := strings.Repeat("z", 100)

	first := f.upload(t, "first.dat", content)
	stats := f.stats(t)
	require.EqualValues(t, 1, stats.TotalFiles)
	require.EqualValues(t, 1, stats.TotalReferences)
	require.EqualValues(t, 100, stats.TotalSizeBytes)
	require.EqualValues(t, 0, stats.SpaceSavedBytes)

	// The duplicate adds a reference, not a distinct file
	second := f.upload(t, "second.dat", content)
	stats = f.stats(t)
	require.EqualValues(t, 1, stats.TotalFiles)
	require.EqualValues(t, 2, stats.TotalReferences)
	require.EqualValues(t, 100, stats.TotalSizeBytes)
	require.EqualValues(t, 100, stats.SpaceSavedBytes)

	err := f.service.Delete(ctx, first.ID)
	require.NoError(t, err)
	stats = f.stats(t)
	require.EqualValues(t, 1, stats.TotalFiles)
	require.EqualValues(t, 1, stats.TotalReferences)
	require.EqualValues(t, 100, stats.TotalSizeBytes)
	require.EqualValues(t, 0, stats.SpaceSavedBytes)

	err = f.service.Delete(ctx, second.ID)
	require.NoError(t, err)
	stats = f.stats(t)
	require.EqualValues(t, 0, stats.TotalFiles)
	require.EqualValues(t, 0, stats.TotalReferences)
	require.EqualValues(t, 0, stats.TotalSizeBytes)
	require.EqualValues(t, 0, stats.SpaceSavedBytes)
}

func TestDetectFileType(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("SniffedFromMagicBytes", func(t *testing.T) {
		// Minimal PNG header
		pngHeader := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}
		record, _, err := f.service.Upload(ctx, "mislabelled.txt", bytes.NewReader(pngHeader))
		require.NoError(t, err)
		require.Equal(t, "image/png", record.FileType)
	})

	t.Run("FallbackToExtension", func(t *testing.T) {
		record, _, err := f.service.Upload(ctx, "data.json", strings.NewReader(`{"a":1}`))
		require.NoError(t, err)
		require.Equal(t, "application/json", record.FileType)
	})

	t.Run("FallbackToOctetStream", func(t *testing.T) {
		record, _, err := f.service.Upload(ctx, "mystery", strings.NewReader("\x01\x02\x03 unknowable"))
		require.NoError(t, err)
		require.Equal(t, "application/octet-stream", record.FileType)
	})
}

func TestSearchValidatesInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	minSize := int64(100)
	maxSize := int64(50)
	search := models.FileSearch{MinSizeBytes: &minSize, MaxSizeBytes: &maxSize}
	search.Sanitize()
	_, _, err := f.service.Search(ctx, nil, search)
	require.Error(t, err)
	require.NotNil(t, gerror.ToValidationFailed(err))
}

func TestGetFileDataRange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	record := f.upload(t, "ranged.txt", "hello world")

	reader, read, err := f.service.GetFileDataRange(ctx, record.ID, 6, 5)
	require.NoError(t, err)
	defer reader.Close()
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, "world", string(data))
	require.Equal(t, record.ID, read.ID)

	// A range starting beyond the end of the content is rejected
	_, _, err = f.service.GetFileDataRange(ctx, record.ID, int64(len("hello world")), 1)
	require.Error(t, err)
	require.NotNil(t, gerror.ToValidationFailed(err))
}

func TestUploadedAtUsesServiceClock(t *testing.T) {
	f := newFixture(t)

	record := f.upload(t, "timed.txt", "tick tock")
	require.Equal(t, models.NewTime(f.clock.Now()), record.CreatedAt)
}
