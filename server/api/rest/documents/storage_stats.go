package documents

import (
	"github.com/dustin/go-humanize"

	"github.com/filedepot/filedepot/common/models"
)

// StorageStats reports deduplication effectiveness, with human-readable
// renderings of the byte counters alongside the raw values.
type StorageStats struct {
	// TotalFiles is the number of unique blobs held in storage.
	TotalFiles int64 `json:"total_files"`
	// TotalReferences is the number of file records across all blobs.
	TotalReferences int64 `json:"total_references"`
	// TotalSizeBytes is the number of bytes physically held in storage.
	TotalSizeBytes    int64  `json:"total_size_bytes"`
	TotalSizeReadable string `json:"total_size_readable"`
	// SpaceSavedBytes is the number of bytes deduplication avoided storing.
	SpaceSavedBytes    int64  `json:"space_saved_bytes"`
	SpaceSavedReadable string `json:"space_saved_readable"`
}

func MakeStorageStats(stats *models.StorageStats) *StorageStats {
	return &StorageStats{
		TotalFiles:         stats.TotalFiles,
		TotalReferences:    stats.TotalReferences,
		TotalSizeBytes:     stats.TotalSizeBytes,
		TotalSizeReadable:  humanize.IBytes(uint64(stats.TotalSizeBytes)),
		SpaceSavedBytes:    stats.SpaceSavedBytes,
		SpaceSavedReadable: humanize.IBytes(uint64(stats.SpaceSavedBytes)),
	}
}

// FileTypes lists the distinct file types observed across all file records.
type FileTypes struct {
	FileTypes []string `json:"file_types"`
}

func MakeFileTypes(fileTypes []string) *FileTypes {
	if fileTypes == nil {
		fileTypes = []string{}
	}
	return &FileTypes{FileTypes: fileTypes}
}
