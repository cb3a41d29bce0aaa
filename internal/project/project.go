// Package project models the Project/CodebaseSource records the sync
// pipeline operates over, and persists them as a YAML registry.
package project

import "time"

// SyncMode is how a project is kept in sync.
type SyncMode string

const (
	SyncModeManual   SyncMode = "manual"
	SyncModeRealtime SyncMode = "realtime"
	SyncModePeriodic SyncMode = "periodic"
	SyncModeVCSHook  SyncMode = "vcs-hook"
)

// SyncStatus is a project's last-known sync outcome.
type SyncStatus string

const (
	StatusNeverSynced SyncStatus = "never_synced"
	StatusSyncing     SyncStatus = "syncing"
	StatusSynced      SyncStatus = "synced"
	StatusError       SyncStatus = "error"
)

// CodebaseSource is the store-side container of chunks for exactly one
// project. It stores only the owning project's ID, never a back-reference
// to the full Project (spec.md §9: no back-reference cycle).
type CodebaseSource struct {
	ID          string    `yaml:"id" json:"id"`
	ProjectID   string    `yaml:"project_id" json:"project_id"`
	DisplayName string    `yaml:"display_name" json:"display_name"`
	TotalFiles  int       `yaml:"total_files" json:"total_files"`
	TotalChunks int       `yaml:"total_chunks" json:"total_chunks"`
	LastUpdate  time.Time `yaml:"last_update" json:"last_update"`
}

// Project is one on-disk source-code directory kept in sync.
type Project struct {
	ID               string     `yaml:"id" json:"id"`
	LocalPath        string     `yaml:"local_path" json:"local_path"`
	SyncMode         SyncMode   `yaml:"sync_mode" json:"sync_mode"`
	AutoSyncEnabled  bool       `yaml:"auto_sync_enabled" json:"auto_sync_enabled"`
	LastSyncAt       *time.Time `yaml:"last_sync_at,omitempty" json:"last_sync_at,omitempty"`
	LastAutoSyncAt   *time.Time `yaml:"last_auto_sync_at,omitempty" json:"last_auto_sync_at,omitempty"`
	LastSyncError    string     `yaml:"last_sync_error,omitempty" json:"last_sync_error,omitempty"`
	SyncStatus       SyncStatus `yaml:"sync_status" json:"sync_status"`
	CodebaseSourceID string     `yaml:"codebase_source_id,omitempty" json:"codebase_source_id,omitempty"`
	LastSyncDurationSec float64 `yaml:"last_sync_duration_seconds,omitempty" json:"last_sync_duration_seconds,omitempty"`
}
