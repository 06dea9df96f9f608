package models

// StorageStats summarizes deduplication effectiveness across the engine.
type StorageStats struct {
	// TotalFiles is the number of distinct file contents stored, counting
	// each blob once however many uploads reference it.
	TotalFiles int64 `json:"total_files"`
	// TotalReferences is the sum of blob reference counts; it always
	// equals the number of live file records when the ledger is consistent.
	TotalReferences int64 `json:"total_references"`
	// TotalSizeBytes is the number of bytes physically stored, counting
	// each blob once.
	TotalSizeBytes int64 `json:"total_size_bytes"`
	// SpaceSavedBytes is the number of bytes deduplication avoided
	// storing: the logical size of all files minus TotalSizeBytes.
	SpaceSavedBytes int64 `json:"space_saved_bytes"`
}
