package types

// BulkSendResult is one recipient's outcome inside a bulk send. A failed
// recipient never aborts the rest of the batch.
type BulkSendResult struct {
	Number   string `json:"number"`
	Status   string `json:"status"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

const (
	BulkStatusSent   = "sent"
	BulkStatusFailed = "failed"
)
