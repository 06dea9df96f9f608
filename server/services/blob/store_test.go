package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filedepot/filedepot/common/gerror"
	"github.com/filedepot/filedepot/common/logger"
	"github.com/filedepot/filedepot/common/util"
	"github.com/filedepot/filedepot/server/services"
)

func TestLocalStore(t *testing.T) {
	store := NewLocalBlobStore(LocalBlobStoreDirectory(t.TempDir()))
	t.Run("ListBlobs/Local", testListBlobs(store))
	t.Run("WriteOnce/Local", testWriteOnce(store))
	t.Run("DeleteMissing/Local", testDeleteMissing(store))
}

func TestS3BlobStoreIntegration(t *testing.T) {
	t.Skip("Skipping S3 blob store integration test")

	if testing.Short() {
		t.Skip("Skipping S3 blob store integration test")
	}

	logRegistry, err := logger.NewLogRegistry("")
	assert.Nil(t, err)
	logFactory := logger.MakeLogrusLogFactoryStdOut(logRegistry)
	s3, err := NewS3BlobStore(S3BlobStoreConfig{
		BucketName: "filedepot-integration-test",
		Region:     "us-west-2",
	}, logFactory)
	assert.Nil(t, err)
	t.Run("ListBlobs/S3", testListBlobs(s3))
	t.Run("WriteOnce/S3", testWriteOnce(s3))
	t.Run("DeleteMissing/S3", testDeleteMissing(s3))
}

func testListBlobs(store services.BlobStore) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := context.Background()
		skipIfAWSCredentialsNotFound(t, ctx, store)

		keys := []string{
			makeTestKey("foo/1"),
			makeTestKey("foo/2"),
			makeTestKey("foo/3"),
			makeTestKey("foo/bar/1"),
			makeTestKey("foo/bar/2"),
			makeTestKey("foo/bar/3"),
		}

		for _, key := range keys {
			err := store.PutBlob(ctx, key, bytes.NewBuffer([]byte{1}))
			require.Nil(t, err)
		}

		blobs, marker, err := store.ListBlobs(ctx, makeTestKey("foo/"), "", 2)
		require.Nil(t, err)
		require.Len(t, blobs, 2)
		require.NotEmpty(t, marker)

		blobs, marker, err = store.ListBlobs(ctx, makeTestKey("foo/"), marker, 2)
		require.Nil(t, err)
		require.Len(t, blobs, 2)
		require.NotEmpty(t, marker)

		blobs, marker, err = store.ListBlobs(ctx, makeTestKey("foo/"), marker, 2)
		require.Nil(t, err)
		require.Len(t, blobs, 2)
		require.Empty(t, marker)

		for _, key := range keys {
			err := store.DeleteBlob(ctx, key)
			require.Nil(t, err)
		}
	}
}

func testWriteOnce(store services.BlobStore) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := context.Background()
		skipIfAWSCredentialsNotFound(t, ctx, store)

		key := makeTestKey("write-once")
		err := store.PutBlob(ctx, key, bytes.NewBufferString("original"))
		require.Nil(t, err)

		// A second put against the same key must leave the original content intact
		err = store.PutBlob(ctx, key, bytes.NewBufferString("clobbered"))
		require.Nil(t, err)

		reader, err := store.GetBlob(ctx, key)
		require.Nil(t, err)
		defer reader.Close()
		data, err := io.ReadAll(reader)
		require.Nil(t, err)
		require.Equal(t, "original", string(data))

		err = store.DeleteBlob(ctx, key)
		require.Nil(t, err)
	}
}

func testDeleteMissing(store services.BlobStore) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := context.Background()
		skipIfAWSCredentialsNotFound(t, ctx, store)

		err := store.DeleteBlob(ctx, makeTestKey("does-not-exist"))
		require.Nil(t, err)

		_, err = store.GetBlob(ctx, makeTestKey("does-not-exist"))
		require.NotNil(t, err)
		require.NotNil(t, gerror.ToNotFound(err))
	}
}

var (
	keyPrefix string
	once      sync.Once
)

func makeTestKey(key string) string {
	once.Do(func() {
		timestamp := strconv.FormatInt(time.Now().UTC().Unix(), 10)
		keyPrefix = fmt.Sprintf("%s-%s/", timestamp, util.RandAlphaString(10))
	})
	return fmt.Sprintf("%s%s", keyPrefix, key)
}

func skipIfAWSCredentialsNotFound(t *testing.T, ctx context.Context, store services.BlobStore) {
	pingKey := makeTestKey("ping")
	err := store.PutBlob(ctx, pingKey, bytes.NewBuffer([]byte{1}))
	if err != nil && (strings.Contains(err.Error(), "EnvAccessKeyNotFound") ||
		strings.Contains(err.Error(), "SharedCredsLoad") ||
		strings.Contains(err.Error(), "NoCredentialProviders") ||
		strings.Contains(err.Error(), "InvalidAccessKeyId")) {
		t.Skip("Skipping S3 test as no AWS credentials found")
	}
	err = store.DeleteBlob(ctx, pingKey)
	require.Nil(t, err)
}
