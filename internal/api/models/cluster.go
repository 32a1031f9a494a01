package models

import "time"

// ClusterStatusResponse represents the cluster status response.
type ClusterStatusResponse struct {
	Mode            string     `json:"mode"`
	NodeID          string     `json:"node_id"`
	ConfigVersion   int64      `json:"config_version"`
	PrimaryURL      string     `json:"primary_url,omitempty"`
	LastSyncTime    *time.Time `json:"last_sync_time,omitempty"`
	LastSyncVersion int64      `json:"last_sync_version,omitempty"`
	LastSyncError   string     `json:"last_sync_error,omitempty"`
	NextSyncTime    *time.Time `json:"next_sync_time,omitempty"`
	SyncCount       int64      `json:"sync_count,omitempty"`
	ErrorCount      int64      `json:"error_count,omitempty"`
}
