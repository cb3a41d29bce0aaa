// Package store defines the persistence contracts the sync pipeline depends
// on (spec.md §6 "Knowledge store", "Checkpoint store", "Analytics store")
// and a SQLite-backed implementation of all three.
package store

import (
	"context"
	"time"

	"github.com/diffsec/knowsync/internal/chunk"
)

// ChunkRef is the {id, metadata} projection select_chunks_by(source)
// returns — the full chunk text/embedding is not needed for diffing.
type ChunkRef struct {
	ID       string
	Metadata chunk.Metadata
}

// KnowledgeStore is the external collaborator SyncEngine reconciles chunks
// against (spec.md §6).
type KnowledgeStore interface {
	UpsertSource(ctx context.Context, source SourceRecord) error
	DeleteSource(ctx context.Context, sourceID string) error

	InsertChunks(ctx context.Context, chunks []chunk.Chunk) error
	DeleteChunksByIDs(ctx context.Context, ids []string) error
	DeleteChunksBy(ctx context.Context, sourceID, filePath string) error

	SelectChunksBy(ctx context.Context, sourceID, filePath string) ([]chunk.Chunk, error)
	SelectChunkRefsBySource(ctx context.Context, sourceID string) ([]ChunkRef, error)

	CountUniqueFiles(ctx context.Context, sourceID string) (int, error)
	FindDuplicateChunks(ctx context.Context, sourceID string) ([]DuplicateGroup, error)
	ChunksMissingEmbedding(ctx context.Context, sourceID string) ([]ChunkRef, error)
}

// SourceRecord is the store-side row backing a project.CodebaseSource.
type SourceRecord struct {
	ID          string
	DisplayName string
}

// DuplicateGroup is a chunk_hash that appears more than once within a
// source, and the ids of every chunk that shares it.
type DuplicateGroup struct {
	ChunkHash string
	ChunkIDs  []string
}

// CheckpointStatus is a Checkpoint's lifecycle state.
type CheckpointStatus string

const (
	CheckpointActive     CheckpointStatus = "active"
	CheckpointCompleted  CheckpointStatus = "completed"
	CheckpointFailed     CheckpointStatus = "failed"
	CheckpointRolledBack CheckpointStatus = "rolled_back"
)

// Checkpoint is a recoverable snapshot of an in-progress sync job.
type Checkpoint struct {
	ID             string
	ProjectID      string
	SyncJobID      string
	FilesProcessed []string
	FilesRemaining []string
	ChunksCreated  []string
	Status         CheckpointStatus
	CreatedAt      time.Time
}

// CheckpointStore persists Checkpoint rows (spec.md §6).
type CheckpointStore interface {
	CreateCheckpoint(ctx context.Context, cp Checkpoint) error
	UpdateCheckpoint(ctx context.Context, id string, fn func(*Checkpoint)) error
	CheckpointsByProject(ctx context.Context, projectID string, status CheckpointStatus) ([]Checkpoint, error)
}

// SyncOperation is an append-only analytics row for one sync attempt.
type SyncOperation struct {
	ID            string
	ProjectID     string
	Trigger       string
	StartedAt     time.Time
	CompletedAt   *time.Time
	Status        string
	FilesCount    int
	ChunksAdded   int
	ChunksDeleted int
	DurationSec   float64
	ErrorMessage  string
}

// AnalyticsStore records SyncOperation rows (spec.md §6).
type AnalyticsStore interface {
	RecordOperation(ctx context.Context, op SyncOperation) error
}
