package entity

// SyncCursor carries resumable pagination state across continuation jobs.
// It lives only in job and event payloads, never in the store.
type SyncCursor struct {
	Cursor         string `json:"cursor,omitempty"`
	BatchNumber    int    `json:"batch_number"`
	TotalProcessed int    `json:"total_processed"`
}
