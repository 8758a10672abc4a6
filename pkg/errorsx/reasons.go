package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// ReasonConnectionStart covers provider handshake failures and rejected
	// streaming options. Non-retrying; the caller owns any retry policy.
	ReasonConnectionStart ReasonCode = "connection_start"
	ReasonProviderSend    ReasonCode = "provider_send"

	ReasonCapture           ReasonCode = "capture"
	ReasonTranscriptExtract ReasonCode = "transcript_extract"

	ReasonPersist     ReasonCode = "persist"
	ReasonStopTimeout ReasonCode = "stop_timeout"
	ReasonFileRead    ReasonCode = "file_read"

	ReasonBatchRequest ReasonCode = "batch_request"
)
