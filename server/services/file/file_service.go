package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/h2non/filetype"
	"github.com/pkg/errors"

	"github.com/filedepot/filedepot/common/gerror"
	"github.com/filedepot/filedepot/common/logger"
	"github.com/filedepot/filedepot/common/models"
	"github.com/filedepot/filedepot/common/util"
	"github.com/filedepot/filedepot/server/services"
	"github.com/filedepot/filedepot/server/store"
)

// maxFileNameLength is the longest filename stored on a file record. Longer
// names are truncated.
const maxFileNameLength = 255

const defaultFileType = "application/octet-stream"

type FileService struct {
	db        *store.DB
	fileStore store.FileStore
	blobStore store.BlobStore
	blobs     services.BlobStore
	hashLocks *keyMutex
	clock     clock.Clock
	logger.Log
}

func NewFileService(
	db *store.DB,
	fileStore store.FileStore,
	blobStore store.BlobStore,
	blobs services.BlobStore,
	logFactory logger.LogFactory) *FileService {

	return &FileService{
		db:        db,
		fileStore: fileStore,
		blobStore: blobStore,
		blobs:     blobs,
		hashLocks: newKeyMutex(),
		clock:     clock.New(),
		Log:       logFactory("FileService"),
	}
}

// SetClock replaces the clock used to timestamp file records. Intended for tests.
func (s *FileService) SetClock(c clock.Clock) {
	s.clock = c
}

// Read an existing file record, looking it up by ID.
func (s *FileService) Read(ctx context.Context, txOrNil *store.Tx, id models.FileID) (*models.FileRecord, error) {
	return s.fileStore.Read(ctx, txOrNil, id)
}

// Upload ingests the file content provided by reader under the supplied filename,
// deduplicating it against previously stored content. It is the caller's
// responsibility to close reader.
// Returns the new file record and true iff the content already existed in the store.
func (s *FileService) Upload(ctx context.Context, fileName string, reader io.Reader) (*models.FileRecord, bool, error) {
	if fileName == "" {
		return nil, false, gerror.NewErrValidationFailed("A filename must be supplied")
	}
	fileName = util.TruncateStringToMaxLength(fileName, maxFileNameLength)

	// Spool the content to a temporary file so we know its digest before anything
	// is committed to the blob store or the database. An upload that exceeds the
	// size ceiling is rejected here, leaving no trace.
	spool, digest, size, err := s.spoolContent(reader)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	fileType, err := s.detectFileType(spool, fileName)
	if err != nil {
		return nil, false, err
	}

	// Serialize against other uploads and deletes of the same content
	s.hashLocks.Lock(digest)
	defer s.hashLocks.Unlock(digest)

	key := makeBlobKey(digest)
	_, err = spool.Seek(0, io.SeekStart)
	if err != nil {
		return nil, false, errors.Wrap(err, "error rewinding spooled upload")
	}
	err = s.blobs.PutBlob(ctx, key, spool)
	if err != nil {
		return nil, false, gerror.NewErrStorageIO("Failed to write content to the blob store", err).IDetail("key", key)
	}

	var (
		record  *models.FileRecord
		deduped bool
	)
	err = s.db.WithTx(ctx, nil, func(tx *store.Tx) error {
		now := models.NewTime(s.clock.Now())
		newBlob := models.NewBlob(now, models.HashTypeSHA256, digest, size, key)
		blob, created, err := s.blobStore.FindOrCreate(ctx, tx, newBlob)
		if err != nil {
			return fmt.Errorf("error finding or creating blob: %w", err)
		}
		if !created {
			// Re-read with a row lock so concurrent transactions cannot both
			// observe the same reference count.
			blob, err = s.blobStore.ReadAndLockByContentHash(ctx, tx, digest)
			if err != nil {
				return fmt.Errorf("error locking blob: %w", err)
			}
			// A size mismatch on matching digests means the ledger or the
			// stored bytes are corrupt; refuse to take a reference on it.
			if blob.SizeBytes != size {
				return gerror.NewErrConsistencyFault("Stored content size does not match the uploaded content").
					IDetail("content_hash", digest).
					IDetail("blob_size_bytes", blob.SizeBytes).
					IDetail("upload_size_bytes", size)
			}
			blob.ReferenceCount++
			blob.UpdatedAt = now
			err = s.blobStore.Update(ctx, tx, blob)
			if err != nil {
				return fmt.Errorf("error incrementing blob reference count: %w", err)
			}
		}
		record = models.NewFileRecord(now, fileName, digest, fileType, size)
		err = s.fileStore.Create(ctx, tx, record)
		if err != nil {
			return fmt.Errorf("error creating file record: %w", err)
		}
		deduped = !created
		return nil
	})
	if err != nil {
		s.cleanUpOrphanedContent(ctx, digest, key)
		return nil, false, err
	}

	s.WithFields(logger.Fields{
		"file_id":      record.ID,
		"content_hash": digest,
		"size_bytes":   size,
		"deduped":      deduped,
	}).Infof("Uploaded file %q", fileName)
	return record, deduped, nil
}

// Delete removes a file record and releases its reference to the underlying blob.
// When the last reference to a blob is released the blob and its content are
// removed from the store. Delete is idempotent.
func (s *FileService) Delete(ctx context.Context, id models.FileID) error {
	record, err := s.fileStore.Read(ctx, nil, id)
	if err != nil {
		if gerror.ToNotFound(err) != nil {
			return nil
		}
		return fmt.Errorf("error reading file record: %w", err)
	}

	s.hashLocks.Lock(record.ContentHash)
	defer s.hashLocks.Unlock(record.ContentHash)

	var reapKey string
	err = s.db.WithTx(ctx, nil, func(tx *store.Tx) error {
		reapKey = ""
		// Re-read under the transaction; a concurrent delete may have won
		record, err := s.fileStore.Read(ctx, tx, id)
		if err != nil {
			if gerror.ToNotFound(err) != nil {
				return nil
			}
			return fmt.Errorf("error reading file record: %w", err)
		}
		err = s.fileStore.Delete(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("error deleting file record: %w", err)
		}
		blob, err := s.blobStore.ReadAndLockByContentHash(ctx, tx, record.ContentHash)
		if err != nil {
			if gerror.ToNotFound(err) != nil {
				return gerror.NewErrConsistencyFault("File record references a missing blob").
					IDetail("content_hash", record.ContentHash)
			}
			return fmt.Errorf("error locking blob: %w", err)
		}
		blob.ReferenceCount--
		if blob.ReferenceCount <= 0 {
			err = s.blobStore.Delete(ctx, tx, blob.ID)
			if err != nil {
				return fmt.Errorf("error deleting blob: %w", err)
			}
			reapKey = blob.StorageKey
			return nil
		}
		blob.UpdatedAt = models.NewTime(s.clock.Now())
		err = s.blobStore.Update(ctx, tx, blob)
		if err != nil {
			return fmt.Errorf("error decrementing blob reference count: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// The ledger no longer references the content; reap the bytes. The hash lock
	// is still held so a racing upload of the same content cannot observe a
	// half-deleted blob.
	if reapKey != "" {
		err = s.blobs.DeleteBlob(ctx, reapKey)
		if err != nil {
			return gerror.NewErrStorageIO("Failed to delete content from the blob store", err).IDetail("key", reapKey)
		}
		s.WithFields(logger.Fields{"content_hash": record.ContentHash, "key": reapKey}).
			Infof("Reaped unreferenced blob")
	}
	return nil
}

// Search lists file records matching the supplied search, newest first.
// Returns one page of results together with the total number of records matching
// the search across all pages.
func (s *FileService) Search(ctx context.Context, txOrNil *store.Tx, search models.FileSearch) ([]*models.FileRecord, int64, error) {
	search.Sanitize()
	err := search.Validate()
	if err != nil {
		return nil, 0, gerror.NewErrValidationFailed(err.Error()).Wrap(err)
	}
	return s.fileStore.Search(ctx, txOrNil, search)
}

// FileTypes returns the sorted set of distinct file types across all file records.
func (s *FileService) FileTypes(ctx context.Context, txOrNil *store.Tx) ([]string, error) {
	return s.fileStore.DistinctFileTypes(ctx, txOrNil)
}

// Stats summarizes deduplication effectiveness across the store. All figures are
// read in a single transaction so they are mutually consistent.
func (s *FileService) Stats(ctx context.Context, txOrNil *store.Tx) (*models.StorageStats, error) {
	var stats *models.StorageStats
	err := s.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		_, logicalSizeBytes, err := s.fileStore.Totals(ctx, tx)
		if err != nil {
			return fmt.Errorf("error totalling file records: %w", err)
		}
		blobCount, physicalSizeBytes, totalReferences, err := s.blobStore.Totals(ctx, tx)
		if err != nil {
			return fmt.Errorf("error totalling blobs: %w", err)
		}
		stats = &models.StorageStats{
			TotalFiles:      blobCount,
			TotalReferences: totalReferences,
			TotalSizeBytes:  physicalSizeBytes,
			SpaceSavedBytes: logicalSizeBytes - physicalSizeBytes,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// GetFileData returns a reader to the content of a file, together with its record.
// It is the caller's responsibility to close the reader.
func (s *FileService) GetFileData(ctx context.Context, id models.FileID) (io.ReadCloser, *models.FileRecord, error) {
	record, err := s.fileStore.Read(ctx, nil, id)
	if err != nil {
		return nil, nil, err
	}
	blob, err := s.blobStore.ReadByContentHash(ctx, nil, record.ContentHash)
	if err != nil {
		if gerror.ToNotFound(err) != nil {
			return nil, nil, gerror.NewErrConsistencyFault("File record references a missing blob").
				IDetail("content_hash", record.ContentHash)
		}
		return nil, nil, fmt.Errorf("error reading blob: %w", err)
	}
	reader, err := s.blobs.GetBlob(ctx, blob.StorageKey)
	if err != nil {
		return nil, nil, err
	}
	return reader, record, nil
}

// GetFileDataRange returns a reader to length bytes of the content of a file
// starting at offset, together with its record.
// It is the caller's responsibility to close the reader.
func (s *FileService) GetFileDataRange(ctx context.Context, id models.FileID, offset, length int64) (io.ReadCloser, *models.FileRecord, error) {
	record, err := s.fileStore.Read(ctx, nil, id)
	if err != nil {
		return nil, nil, err
	}
	if offset < 0 || length < 1 || offset >= record.SizeBytes {
		return nil, nil, gerror.NewErrValidationFailed("Requested range is outside the file content").
			IDetail("offset", offset).IDetail("length", length)
	}
	blob, err := s.blobStore.ReadByContentHash(ctx, nil, record.ContentHash)
	if err != nil {
		if gerror.ToNotFound(err) != nil {
			return nil, nil, gerror.NewErrConsistencyFault("File record references a missing blob").
				IDetail("content_hash", record.ContentHash)
		}
		return nil, nil, fmt.Errorf("error reading blob: %w", err)
	}
	reader, err := s.blobs.GetBlobRange(ctx, blob.StorageKey, offset, length)
	if err != nil {
		return nil, nil, err
	}
	return reader, record, nil
}

// spoolContent copies the upload to a temporary file while digesting and counting
// it, enforcing the size ceiling as it reads. On success the returned file is
// open and positioned at the end of the data; the caller owns it and must remove it.
func (s *FileService) spoolContent(reader io.Reader) (*os.File, string, int64, error) {
	spool, err := os.CreateTemp("", "filedepot-upload-")
	if err != nil {
		return nil, "", 0, errors.Wrap(err, "error creating spool file")
	}
	discard := func() {
		spool.Close()
		os.Remove(spool.Name())
	}

	hasher := sha256.New()
	countingReader := util.NewCountingReader(io.LimitReader(reader, models.MaxFileSizeBytes+1))
	_, err = io.Copy(spool, newHashingReader(hasher, countingReader))
	if err != nil {
		discard()
		return nil, "", 0, errors.Wrap(err, "error spooling upload")
	}
	if countingReader.Count() > uint64(models.MaxFileSizeBytes) {
		discard()
		return nil, "", 0, gerror.NewErrSizeLimitExceeded(
			fmt.Sprintf("File exceeds the maximum size of %d bytes", models.MaxFileSizeBytes))
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	return spool, digest, int64(countingReader.Count()), nil
}

// detectFileType sniffs the file type from the spooled content, falling back to
// the filename extension and then to application/octet-stream.
func (s *FileService) detectFileType(spool io.ReadSeeker, fileName string) (string, error) {
	_, err := spool.Seek(0, io.SeekStart)
	if err != nil {
		return "", errors.Wrap(err, "error seeking to beginning of spooled upload")
	}
	headerRead := 0
	header := make([]byte, 261) // magic number from https://github.com/h2non/filetype
	for headerRead < len(header) {
		n, err := spool.Read(header[headerRead:])
		headerRead += n
		if err != nil {
			if err == io.EOF {
				break
			}
			return "", errors.Wrap(err, "error reading spooled upload header")
		}
	}
	kind, err := filetype.Match(header[:headerRead])
	if err != nil {
		return "", errors.Wrap(err, "error determining file mime type")
	}
	if kind != filetype.Unknown {
		return kind.MIME.Value, nil
	}
	byExtension := mime.TypeByExtension(filepath.Ext(fileName))
	if byExtension != "" {
		// Drop any parameters e.g. "text/plain; charset=utf-8"
		if i := strings.Index(byExtension, ";"); i != -1 {
			byExtension = byExtension[:i]
		}
		return strings.TrimSpace(byExtension), nil
	}
	return defaultFileType, nil
}

// cleanUpOrphanedContent removes blob store content left behind by a failed
// upload, but only when the ledger holds no row for the digest. Must be called
// with the hash lock for digest held.
func (s *FileService) cleanUpOrphanedContent(ctx context.Context, digest, key string) {
	_, err := s.blobStore.ReadByContentHash(ctx, nil, digest)
	if err == nil {
		return // another file record owns the content
	}
	if gerror.ToNotFound(err) == nil {
		s.Errorf("Unable to check for orphaned content %q: %v", key, err)
		return
	}
	err = s.blobs.DeleteBlob(ctx, key)
	if err != nil {
		s.Errorf("Unable to clean up orphaned content %q: %v", key, err)
	}
}

// makeBlobKey makes a hash-sharded blob store key for a content digest, so that
// no single directory accumulates an unbounded number of entries.
func makeBlobKey(digest string) string {
	return fmt.Sprintf("blobs/%s/%s/%s", digest[0:2], digest[2:4], digest)
}
