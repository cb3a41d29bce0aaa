// Package recovery implements the RecoveryService component of spec.md
// §4.13: checkpointing a sync job's progress, resuming unfinished jobs
// on worker start, a read-only integrity audit (orphaned chunks,
// duplicate chunk_hash values, missing embeddings), and batch cleanup
// of orphans or rollback of a checkpoint's created chunks.
package recovery

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/diffsec/knowsync/internal/project"
	"github.com/diffsec/knowsync/internal/store"
)

// batchSize is spec.md §4.13's cleanup/rollback batch size.
const batchSize = 100

// SyncFunc invokes SyncEngine for projectID restricted to files, mirroring
// queue.SyncFunc so RecoveryService doesn't need to import syncengine.
type SyncFunc func(ctx context.Context, projectID string, files []string) error

// AuditResult is the structured, read-only output of an integrity audit.
type AuditResult struct {
	Orphaned          []store.ChunkRef
	Duplicates        []store.DuplicateGroup
	MissingEmbeddings []store.ChunkRef
}

// Service implements RecoveryService.
type Service struct {
	Store     store.KnowledgeStore
	Checkpoints store.CheckpointStore
	Registry  *project.Registry
	now       func() time.Time
}

// New builds a Service.
func New(st store.KnowledgeStore, cp store.CheckpointStore, reg *project.Registry) *Service {
	return &Service{Store: st, Checkpoints: cp, Registry: reg, now: time.Now}
}

// CreateCheckpoint writes one active checkpoint row for an in-progress
// sync job.
func (s *Service) CreateCheckpoint(ctx context.Context, projectID, syncJobID string, processed, remaining, chunksCreated []string) (string, error) {
	cp := store.Checkpoint{
		ID:             uuid.NewString(),
		ProjectID:      projectID,
		SyncJobID:      syncJobID,
		FilesProcessed: processed,
		FilesRemaining: remaining,
		ChunksCreated:  chunksCreated,
		Status:         store.CheckpointActive,
		CreatedAt:      s.now(),
	}
	if err := s.Checkpoints.CreateCheckpoint(ctx, cp); err != nil {
		return "", err
	}
	return cp.ID, nil
}

// ResumeAll finds every project with an active checkpoint and resumes
// its sync via syncFn, restricted to the checkpoint's FilesRemaining.
// Intended to run once, on worker start.
func (s *Service) ResumeAll(ctx context.Context, syncFn SyncFunc) error {
	for _, p := range s.Registry.List() {
		active, err := s.Checkpoints.CheckpointsByProject(ctx, p.ID, store.CheckpointActive)
		if err != nil {
			return err
		}
		for _, cp := range active {
			if err := s.resume(ctx, cp, syncFn); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) resume(ctx context.Context, cp store.Checkpoint, syncFn SyncFunc) error {
	err := syncFn(ctx, cp.ProjectID, cp.FilesRemaining)

	status := store.CheckpointCompleted
	if err != nil {
		status = store.CheckpointFailed
	}
	return s.Checkpoints.UpdateCheckpoint(ctx, cp.ID, func(c *store.Checkpoint) {
		c.Status = status
	})
}

// Audit runs the three integrity checks for a project's source in
// parallel and returns a structured, read-only result.
func (s *Service) Audit(ctx context.Context, projectID string) (AuditResult, error) {
	p, ok := s.Registry.Get(projectID)
	if !ok {
		return AuditResult{}, os.ErrNotExist
	}
	sourceID := p.CodebaseSourceID

	type result struct {
		orphaned   []store.ChunkRef
		duplicates []store.DuplicateGroup
		missing    []store.ChunkRef
		err        error
	}

	orphanedCh := make(chan result, 1)
	duplicatesCh := make(chan result, 1)
	missingCh := make(chan result, 1)

	go func() {
		refs, err := s.Store.SelectChunkRefsBySource(ctx, sourceID)
		if err != nil {
			orphanedCh <- result{err: err}
			return
		}
		var orphaned []store.ChunkRef
		for _, ref := range refs {
			if _, statErr := os.Stat(ref.Metadata.FilePath); os.IsNotExist(statErr) {
				orphaned = append(orphaned, ref)
			}
		}
		orphanedCh <- result{orphaned: orphaned}
	}()

	go func() {
		dups, err := s.Store.FindDuplicateChunks(ctx, sourceID)
		duplicatesCh <- result{duplicates: dups, err: err}
	}()

	go func() {
		missing, err := s.Store.ChunksMissingEmbedding(ctx, sourceID)
		missingCh <- result{missing: missing, err: err}
	}()

	orphanedResult := <-orphanedCh
	duplicatesResult := <-duplicatesCh
	missingResult := <-missingCh

	for _, r := range []result{orphanedResult, duplicatesResult, missingResult} {
		if r.err != nil {
			return AuditResult{}, r.err
		}
	}

	return AuditResult{
		Orphaned:          orphanedResult.orphaned,
		Duplicates:        duplicatesResult.duplicates,
		MissingEmbeddings: missingResult.missing,
	}, nil
}

// CleanupOrphans deletes orphaned chunks in batches of 100.
func (s *Service) CleanupOrphans(ctx context.Context, orphaned []store.ChunkRef) error {
	ids := make([]string, len(orphaned))
	for i, ref := range orphaned {
		ids[i] = ref.ID
	}
	return deleteInBatches(ctx, s.Store, ids)
}

// Rollback deletes the chunks a checkpoint created, in batches of 100,
// and marks the checkpoint rolled_back.
func (s *Service) Rollback(ctx context.Context, cp store.Checkpoint) error {
	if err := deleteInBatches(ctx, s.Store, cp.ChunksCreated); err != nil {
		return err
	}
	return s.Checkpoints.UpdateCheckpoint(ctx, cp.ID, func(c *store.Checkpoint) {
		c.Status = store.CheckpointRolledBack
	})
}

func deleteInBatches(ctx context.Context, st store.KnowledgeStore, ids []string) error {
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := st.DeleteChunksByIDs(ctx, ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}
