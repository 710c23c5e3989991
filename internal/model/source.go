package model

import "time"

// SyncStatus is the connectivity state of a data source.
type SyncStatus string

const (
	SyncConnected    SyncStatus = "connected"
	SyncDisconnected SyncStatus = "disconnected"
	SyncDegraded     SyncStatus = "degraded"
)

// Sync log run states.
const (
	SyncRunning  = "running"
	SyncComplete = "complete"
	SyncFailed   = "failed"
)

// SyncEntry is one ingestion run recorded in the sync log.
type SyncEntry struct {
	ID          string         `json:"id"`
	Source      string         `json:"source"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	RowsSynced  int64          `json:"rows_synced"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// DataSourceStatus summarizes the sync health of one configured source.
type DataSourceStatus struct {
	Name             string     `json:"name"`
	Status           SyncStatus `json:"status"`
	LastSync         *time.Time `json:"last_sync,omitempty"`
	RecordsSynced24h int64      `json:"records_synced_24h"`
	SyncFrequency    string     `json:"sync_frequency"`
	NextSync         *time.Time `json:"next_sync,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
}

// SourceSync names a source that contributed to a lookup and when it last
// synchronized successfully.
type SourceSync struct {
	Source     string     `json:"source"`
	LastSynced *time.Time `json:"last_synced,omitempty"`
}
