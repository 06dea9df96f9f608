package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/filedepot/filedepot/common/gerror"
	"github.com/filedepot/filedepot/common/models"
)

type LocalBlobStoreDirectory string

func (l LocalBlobStoreDirectory) String() string {
	return string(l)
}

type LocalBlobStore struct {
	path string
}

func NewLocalBlobStore(path LocalBlobStoreDirectory) *LocalBlobStore {
	return &LocalBlobStore{
		path: string(path),
	}
}

// PutBlob writes all data in the source reader to a blob identified by key.
// If a blob already exists at key the call is a no-op; content is write-once
// and keyed by digest so an existing blob is guaranteed to hold the same bytes.
// The caller is responsible for closing the reader.
func (s *LocalBlobStore) PutBlob(ctx context.Context, key string, source io.Reader) error {
	err := validateKey(key)
	if err != nil {
		return err
	}
	blobPath := s.makeBlobPath(key)
	err = os.MkdirAll(filepath.Dir(blobPath), 0700)
	if err != nil {
		return errors.Wrap(err, "error making blob directory")
	}
	// O_EXCL enforces the write-once contract
	blobFile, err := os.OpenFile(blobPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return errors.Wrapf(err, "Error opening blob %s for writing", blobPath)
	}
	defer blobFile.Close()
	_, err = io.Copy(blobFile, source)
	if err != nil {
		removeErr := os.Remove(blobPath)
		if removeErr != nil {
			return errors.Wrapf(err, "Error writing data to blob %s (cleanup failed: %s)", blobPath, removeErr)
		}
		return errors.Wrapf(err, "Error writing data to blob %s", blobPath)
	}
	err = blobFile.Sync()
	if err != nil {
		return errors.Wrapf(err, "Error syncing blob %s", blobPath)
	}
	return nil
}

// GetBlob returns a reader positioned at the beginning of the blob identified by key.
// The caller is responsible for closing the reader.
func (s *LocalBlobStore) GetBlob(ctx context.Context, key string) (io.ReadCloser, error) {
	err := validateKey(key)
	if err != nil {
		return nil, err
	}
	blobPath := s.makeBlobPath(key)
	blobFile, err := os.Open(blobPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, gerror.NewErrNotFound("Not Found").Wrap(err).IDetail("key", key)
		}
		return nil, errors.Wrapf(err, "Error opening blob %s for reading", blobPath)
	}
	return blobFile, nil
}

// GetBlobRange returns a reader positioned at the specified offset of the blob identified
// by key, which will read up to length bytes. The caller is responsible for closing the reader.
func (s *LocalBlobStore) GetBlobRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	err := validateKey(key)
	if err != nil {
		return nil, err
	}
	blobPath := s.makeBlobPath(key)
	blobFile, err := os.Open(blobPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, gerror.NewErrNotFound("Not Found").Wrap(err).IDetail("key", key)
		}
		return nil, errors.Wrapf(err, "Error opening blob %s for reading", blobPath)
	}
	if offset > 0 {
		_, err = blobFile.Seek(offset, 0)
		if err != nil {
			return nil, errors.Wrapf(err, "Unable to seek blob %s to offset %v", blobPath, offset)
		}
	}
	if length > 0 {
		return NewLimitReaderCloser(blobFile, length), nil
	}
	return blobFile, nil
}

// DeleteBlob deletes a blob. Returns nil if the blob does not exist.
func (s *LocalBlobStore) DeleteBlob(ctx context.Context, key string) error {
	err := validateKey(key)
	if err != nil {
		return err
	}
	blobPath := s.makeBlobPath(key)
	err = os.Remove(blobPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("error deleting blob %s: %w", blobPath, err)
	}
	// Prune shard directories left empty by the delete; stop at the first
	// non-empty ancestor.
	dir := filepath.Dir(blobPath)
	for dir != s.path {
		err := os.Remove(dir)
		if err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
	return nil
}

// ListBlobs lists up to limit blobs with keys lexicographically greater than marker.
// Returns the descriptors together with a marker to pass to the next call, or an
// empty marker if there are no more results.
func (s *LocalBlobStore) ListBlobs(ctx context.Context, prefix string, marker string, limit int) ([]*models.BlobDescriptor, string, error) {
	// NOTE: All inputs/outputs of the blob store use forward slash separators to be
	// s3-compatible. Internally we convert to and from the local filesystem's separator.
	if strings.HasPrefix(prefix, "/") {
		return nil, "", fmt.Errorf("error blob keys cannot begin with /")
	}

	var listing []*models.BlobDescriptor
	err := filepath.Walk(s.path,
		func(path string, info os.FileInfo, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if info.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(s.path, path)
			if err != nil {
				return fmt.Errorf("error getting relative path: %w", err)
			}
			key := filepath.ToSlash(rel)
			if !strings.HasPrefix(key, prefix) || key <= marker {
				return nil
			}
			listing = append(listing, &models.BlobDescriptor{Key: key, SizeBytes: info.Size()})
			return nil
		})
	if err != nil {
		return nil, "", fmt.Errorf("error during walk: %w", err)
	}

	sort.Slice(listing, func(i, j int) bool { return listing[i].Key < listing[j].Key })

	var nextMarker string
	if limit > 0 && len(listing) > limit {
		listing = listing[:limit]
		nextMarker = listing[len(listing)-1].Key
	}
	return listing, nextMarker, nil
}

// validateKey rejects keys that could escape the blob store root.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("error blob key cannot be empty")
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("error blob keys cannot begin with /")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("error blob keys cannot contain path traversals")
	}
	return nil
}

// makeBlobPath makes a path to a blob on the local filesystem.
func (s *LocalBlobStore) makeBlobPath(key string) string {
	return filepath.Join(s.path, filepath.FromSlash(key))
}
