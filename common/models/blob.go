package models

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

const BlobResourceKind ResourceKind = "blob"

// BlobDescriptor describes a single object in the underlying blob store.
type BlobDescriptor struct {
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes"`
}

type BlobID struct {
	ResourceID
}

func NewBlobID() BlobID {
	return BlobID{ResourceID: NewResourceID(BlobResourceKind)}
}

func BlobIDFromResourceID(id ResourceID) BlobID {
	return BlobID{ResourceID: id}
}

// Blob is a unique physical object in the content-addressable store.
// At most one Blob exists per content hash, shared by every FileRecord that
// references it; ReferenceCount tracks exactly how many such records are live.
type Blob struct {
	ID        BlobID `json:"id" goqu:"skipupdate" db:"blob_id"`
	ETag      ETag   `json:"etag" db:"blob_etag" hash:"ignore"`
	CreatedAt Time   `json:"created_at" goqu:"skipupdate" db:"blob_created_at"`
	UpdatedAt Time   `json:"updated_at" db:"blob_updated_at"`
	// HashType is the type of hashing algorithm used to digest the content.
	HashType HashType `json:"hash_type" db:"blob_hash_type"`
	// ContentHash is the hex-encoded digest of the blob content; unique across all blobs.
	ContentHash string `json:"content_hash" db:"blob_content_hash"`
	// SizeBytes is the size of the blob content in bytes.
	SizeBytes int64 `json:"size_bytes" db:"blob_size_bytes"`
	// StorageKey is the key the content is stored under in the blob store.
	StorageKey string `json:"storage_key" db:"blob_storage_key"`
	// ReferenceCount is the number of live FileRecords referencing this blob.
	ReferenceCount int64 `json:"reference_count" db:"blob_reference_count"`
}

func NewBlob(now Time, hashType HashType, contentHash string, sizeBytes int64, storageKey string) *Blob {
	return &Blob{
		ID:             NewBlobID(),
		CreatedAt:      now,
		UpdatedAt:      now,
		HashType:       hashType,
		ContentHash:    contentHash,
		SizeBytes:      sizeBytes,
		StorageKey:     storageKey,
		ReferenceCount: 1,
	}
}

func (m *Blob) GetKind() ResourceKind {
	return BlobResourceKind
}

func (m *Blob) GetCreatedAt() Time {
	return m.CreatedAt
}

func (m *Blob) GetID() ResourceID {
	return m.ID.ResourceID
}

func (m *Blob) GetUpdatedAt() Time {
	return m.UpdatedAt
}

func (m *Blob) SetUpdatedAt(t Time) {
	m.UpdatedAt = t
}

func (m *Blob) GetETag() ETag {
	return m.ETag
}

func (m *Blob) SetETag(eTag ETag) {
	m.ETag = eTag
}

func (m *Blob) Validate() error {
	var result *multierror.Error
	result = validateResourceID(result, m.ID.ResourceID, BlobResourceKind)
	if m.CreatedAt.IsZero() {
		result = multierror.Append(result, errors.New("error created at must be set"))
	}
	if m.UpdatedAt.IsZero() {
		result = multierror.Append(result, errors.New("error updated at must be set"))
	}
	if !m.HashType.Valid() {
		result = multierror.Append(result, errors.New("error hash type must be set"))
	}
	if !ValidContentHash(m.ContentHash) {
		result = multierror.Append(result, errors.New("error content hash must be a hex-encoded 256-bit digest"))
	}
	if m.SizeBytes < 0 {
		result = multierror.Append(result, errors.New("error size must not be negative"))
	}
	if m.StorageKey == "" {
		result = multierror.Append(result, errors.New("error storage key must be set"))
	}
	if m.ReferenceCount < 0 {
		result = multierror.Append(result, errors.New("error reference count must not be negative"))
	}
	return result.ErrorOrNil()
}
