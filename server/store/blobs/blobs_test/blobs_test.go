package blobs_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/filedepot/filedepot/common/gerror"
	"github.com/filedepot/filedepot/common/logger"
	"github.com/filedepot/filedepot/common/models"
	"github.com/filedepot/filedepot/server/store/blobs"
	"github.com/filedepot/filedepot/server/store/store_test"
)

func makeTestBlob(content string) *models.Blob {
	digest := sha256.Sum256([]byte(content))
	contentHash := hex.EncodeToString(digest[:])
	now := models.NewTime(time.Now())
	key := "blobs/" + contentHash[0:2] + "/" + contentHash[2:4] + "/" + contentHash
	return models.NewBlob(now, models.HashTypeSHA256, contentHash, int64(len(content)), key)
}

func TestBlobStore(t *testing.T) {
	ctx := context.Background()

	db, cleanup, err := store_test.Connect(logger.NoOpLogFactory)
	require.NoError(t, err)
	defer cleanup()

	blobStore := blobs.NewStore(db, logger.NoOpLogFactory)

	blob := makeTestBlob("hello world")
	err = blobStore.Create(ctx, nil, blob)
	require.NoError(t, err)
	require.EqualValues(t, 1, blob.ReferenceCount)

	t.Run("ReadByID", func(t *testing.T) {
		read, err := blobStore.Read(ctx, nil, blob.ID)
		require.NoError(t, err)
		require.Equal(t, blob.ID, read.ID)
		require.Equal(t, blob.ContentHash, read.ContentHash)
		require.Equal(t, blob.StorageKey, read.StorageKey)
		require.EqualValues(t, 11, read.SizeBytes)
	})

	t.Run("ReadByContentHash", func(t *testing.T) {
		read, err := blobStore.ReadByContentHash(ctx, nil, blob.ContentHash)
		require.NoError(t, err)
		require.Equal(t, blob.ID, read.ID)
	})

	t.Run("ReadMissing", func(t *testing.T) {
		missing := makeTestBlob("missing")
		_, err := blobStore.ReadByContentHash(ctx, nil, missing.ContentHash)
		require.Error(t, err)
		require.NotNil(t, gerror.ToNotFound(err))
	})

	t.Run("DuplicateContentHashRejected", func(t *testing.T) {
		dupe := makeTestBlob("hello world")
		err := blobStore.Create(ctx, nil, dupe)
		require.Error(t, err)
		require.NotNil(t, gerror.ToAlreadyExists(err))
	})

	t.Run("FindOrCreateFindsExisting", func(t *testing.T) {
		candidate := makeTestBlob("hello world")
		found, created, err := blobStore.FindOrCreate(ctx, nil, candidate)
		require.NoError(t, err)
		require.False(t, created)
		require.Equal(t, blob.ID, found.ID)
	})

	t.Run("FindOrCreateCreatesNew", func(t *testing.T) {
		candidate := makeTestBlob("something else")
		found, created, err := blobStore.FindOrCreate(ctx, nil, candidate)
		require.NoError(t, err)
		require.True(t, created)
		require.Equal(t, candidate.ID, found.ID)
	})

	t.Run("UpdateReferenceCount", func(t *testing.T) {
		read, err := blobStore.Read(ctx, nil, blob.ID)
		require.NoError(t, err)
		read.ReferenceCount++
		read.UpdatedAt = models.NewTime(time.Now())
		err = blobStore.Update(ctx, nil, read)
		require.NoError(t, err)

		again, err := blobStore.Read(ctx, nil, blob.ID)
		require.NoError(t, err)
		require.EqualValues(t, 2, again.ReferenceCount)
	})

	t.Run("OptimisticLock", func(t *testing.T) {
		first, err := blobStore.Read(ctx, nil, blob.ID)
		require.NoError(t, err)
		second, err := blobStore.Read(ctx, nil, blob.ID)
		require.NoError(t, err)

		first.ReferenceCount++
		err = blobStore.Update(ctx, nil, first)
		require.NoError(t, err)

		second.ReferenceCount++
		err = blobStore.Update(ctx, nil, second)
		require.Error(t, err)
		require.NotNil(t, gerror.ToOptimisticLockFailed(err))
	})

	t.Run("Totals", func(t *testing.T) {
		blobCount, totalSizeBytes, totalReferences, err := blobStore.Totals(ctx, nil)
		require.NoError(t, err)
		require.EqualValues(t, 2, blobCount)
		require.EqualValues(t, 11+14, totalSizeBytes)
		require.EqualValues(t, 3+1, totalReferences)
	})

	t.Run("Delete", func(t *testing.T) {
		err := blobStore.Delete(ctx, nil, blob.ID)
		require.NoError(t, err)
		_, err = blobStore.Read(ctx, nil, blob.ID)
		require.Error(t, err)
		require.NotNil(t, gerror.ToNotFound(err))

		// Delete is idempotent
		err = blobStore.Delete(ctx, nil, blob.ID)
		require.NoError(t, err)
	})
}
