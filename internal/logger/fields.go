package logger

// Standard field keys for structured logging. Use these consistently
// so log lines aggregate cleanly across the upload and shared-memory
// paths.
const (
	// HTTP request
	KeyMethod     = "method"
	KeyPath       = "path"
	KeyStatus     = "status"
	KeyClientIP   = "client_ip"
	KeyRequestID  = "request_id"
	KeyDurationMs = "duration_ms"

	// Uploads
	KeyUploadID    = "upload_id"
	KeyUploadMode  = "upload_mode"
	KeyDataKind    = "kind"
	KeyFilename    = "filename"
	KeyChunkIndex  = "chunk_index"
	KeyTotalChunks = "total_chunks"
	KeySize        = "size"

	// Shared memory
	KeyRegion       = "shm_name"
	KeyState        = "state"
	KeyOperation    = "operation"
	KeyBytesWritten = "bytes_written"

	// Errors
	KeyError = "error"
)
