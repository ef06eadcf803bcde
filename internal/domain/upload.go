package domain

// ChunkMetadata describes one chunk of a file transfer.
type ChunkMetadata struct {
	TransferID  string
	ChunkNumber int
	TotalChunks int
	ChunkSize   int64
	TotalSize   int64
	FileName    string
}

// UploadStatus reports the progress of a transfer after a chunk was stored.
type UploadStatus struct {
	TransferID string
	Received   int
	Total      int
	Complete   bool
	Path       string
}
