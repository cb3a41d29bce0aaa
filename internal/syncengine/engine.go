// Package syncengine orchestrates change detection, chunk diffing, and
// store reconciliation for one project at a time (spec.md §4.8).
package syncengine

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/diffsec/knowsync/internal/chunk"
	"github.com/diffsec/knowsync/internal/circuitbreaker"
	"github.com/diffsec/knowsync/internal/classify"
	"github.com/diffsec/knowsync/internal/embedding"
	"github.com/diffsec/knowsync/internal/hashutil"
	"github.com/diffsec/knowsync/internal/parallel"
	"github.com/diffsec/knowsync/internal/project"
	"github.com/diffsec/knowsync/internal/store"
)

// excludedDirs are pruned from the recursive project scan (spec.md §4.8
// step 2).
var excludedDirs = map[string]bool{
	".git": true, "node_modules": true, "__pycache__": true, ".venv": true,
	"venv": true, "dist": true, "build": true, ".next": true, "target": true,
	".pytest_cache": true, "coverage": true, ".nyc_output": true, "vendor": true,
}

// insertBatchSize is the default "fixed-size batches" insert chunk size
// (spec.md §4.8 step 5).
const insertBatchSize = 50

// SyncStats is the per-job counter set returned by SyncProject.
type SyncStats struct {
	FilesProcessed int
	ChunksAdded    int
	ChunksModified int
	ChunksDeleted  int
	DurationSec    float64
	Errors         []string
}

// Engine orchestrates sync_project for every project, guarded per-project
// by a CircuitBreaker.
type Engine struct {
	Store     store.KnowledgeStore
	Registry  *project.Registry
	Embedder  *embedding.BatchEmbedder
	Breakers  *circuitbreaker.Registry
	ChunkOpts chunk.Options

	ParallelConfig parallel.Config

	// OnProgress, if non-nil, is forwarded to parallel.Run for both the
	// added-file and modified-file passes, so a caller (e.g. the CLI's
	// `sync --wait` progress bar) can observe per-file completion without
	// SyncProject itself taking on any rendering concern.
	OnProgress func(parallel.Progress)

	now func() time.Time
}

// New builds an Engine. A zero value for ChunkOpts/ParallelConfig falls
// back to their spec defaults.
func New(st store.KnowledgeStore, reg *project.Registry, embedder *embedding.BatchEmbedder, breakers *circuitbreaker.Registry) *Engine {
	return &Engine{
		Store:     st,
		Registry:  reg,
		Embedder:  embedder,
		Breakers:  breakers,
		ChunkOpts: chunk.DefaultOptions,
		now:       time.Now,
	}
}

// SyncProject is the public entry point (spec.md §4.8), guarded by the
// project's CircuitBreaker.
func (e *Engine) SyncProject(ctx context.Context, projectID string, changedFiles []string) (SyncStats, error) {
	breaker := e.Breakers.For(projectID)

	var stats SyncStats
	var syncErr error

	callErr := breaker.Call(func() error {
		stats, syncErr = e.runSync(ctx, projectID, changedFiles)
		return syncErr
	})
	if callErr != nil && syncErr == nil {
		// Rejected before the job ran at all (circuit open).
		return SyncStats{}, callErr
	}
	return stats, syncErr
}

func (e *Engine) runSync(ctx context.Context, projectID string, changedFiles []string) (SyncStats, error) {
	start := e.now()

	p, ok := e.Registry.Get(projectID)
	if !ok {
		return SyncStats{}, fmt.Errorf("project %s not found", projectID)
	}
	if err := e.Registry.Update(projectID, func(proj *project.Project) {
		proj.SyncStatus = project.StatusSyncing
	}); err != nil {
		return SyncStats{}, err
	}

	source, err := e.Registry.SourceForProject(projectID, filepath.Base(p.LocalPath))
	if err != nil {
		return SyncStats{}, e.fail(projectID, err)
	}
	if err := e.Store.UpsertSource(ctx, store.SourceRecord{ID: source.ID, DisplayName: source.DisplayName}); err != nil {
		return SyncStats{}, e.fail(projectID, err)
	}

	candidates, err := e.resolveCandidates(p.LocalPath, changedFiles)
	if err != nil {
		return SyncStats{}, e.fail(projectID, err)
	}

	refs, err := e.Store.SelectChunkRefsBySource(ctx, source.ID)
	if err != nil {
		return SyncStats{}, e.fail(projectID, err)
	}
	filesInStore := map[string]bool{}
	fileHashInStore := map[string]string{}
	for _, r := range refs {
		filesInStore[r.Metadata.FilePath] = true
		if _, ok := fileHashInStore[r.Metadata.FilePath]; !ok {
			fileHashInStore[r.Metadata.FilePath] = r.Metadata.FileHash
		}
	}

	deleted, added, modified := categorize(candidates, filesInStore, fileHashInStore)

	stats := SyncStats{}

	for _, path := range deleted {
		if err := e.Store.DeleteChunksBy(ctx, source.ID, path); err != nil {
			stats.Errors = append(stats.Errors, err.Error())
			continue
		}
		stats.ChunksDeleted++
		stats.FilesProcessed++
	}

	addResults := parallel.Run(ctx, added, func(ctx context.Context, path string) (any, error) {
		return e.chunkAndEmbed(ctx, p.LocalPath, path)
	}, e.ParallelConfig, e.OnProgress)

	for _, r := range addResults {
		stats.FilesProcessed++
		if !r.Success {
			stats.Errors = append(stats.Errors, classify.HandleSyncError(r.Err, r.FilePath).Error())
			continue
		}
		chunks := r.Value.([]chunk.Chunk)
		for i := range chunks {
			chunks[i].SourceID = source.ID
		}
		if err := e.insertInBatches(ctx, chunks); err != nil {
			stats.Errors = append(stats.Errors, err.Error())
			continue
		}
		stats.ChunksAdded += len(chunks)
	}

	modResults := parallel.Run(ctx, modified, func(ctx context.Context, path string) (any, error) {
		return e.chunkAndEmbed(ctx, p.LocalPath, path)
	}, e.ParallelConfig, e.OnProgress)

	for _, r := range modResults {
		stats.FilesProcessed++
		if !r.Success {
			stats.Errors = append(stats.Errors, classify.HandleSyncError(r.Err, r.FilePath).Error())
			continue
		}
		newChunks := r.Value.([]chunk.Chunk)
		for i := range newChunks {
			newChunks[i].SourceID = source.ID
		}

		existing, err := e.Store.SelectChunksBy(ctx, source.ID, r.FilePath)
		if err != nil {
			stats.Errors = append(stats.Errors, err.Error())
			continue
		}

		toAdd, toDeleteIDs := diffChunks(existing, newChunks)

		// Insert before delete: avoids a transient empty window for this
		// file when the store offers no multi-statement transaction
		// (spec.md §9 Design Notes).
		if err := e.insertInBatches(ctx, toAdd); err != nil {
			stats.Errors = append(stats.Errors, err.Error())
			continue
		}
		if err := e.Store.DeleteChunksByIDs(ctx, toDeleteIDs); err != nil {
			stats.Errors = append(stats.Errors, err.Error())
			continue
		}

		stats.ChunksModified += len(toAdd)
		stats.ChunksDeleted += len(toDeleteIDs)
	}

	stats.DurationSec = e.now().Sub(start).Seconds()

	finalStatus := project.StatusSynced
	lastErr := ""
	if len(stats.Errors) > 0 {
		finalStatus = project.StatusError
		lastErr = joinFirstN(stats.Errors, 3)
	}
	now := e.now()
	if err := e.Registry.Update(projectID, func(proj *project.Project) {
		proj.SyncStatus = finalStatus
		proj.LastSyncAt = &now
		proj.LastSyncError = lastErr
		proj.LastSyncDurationSec = stats.DurationSec
	}); err != nil {
		return stats, err
	}

	return stats, nil
}

func (e *Engine) fail(projectID string, err error) error {
	_ = e.Registry.Update(projectID, func(proj *project.Project) {
		proj.SyncStatus = project.StatusError
		proj.LastSyncError = err.Error()
	})
	return err
}

// resolveCandidates returns every file path to consider: either the
// caller-supplied changedFiles, or a fresh recursive scan pruning
// excludedDirs and recognized-extension files only.
func (e *Engine) resolveCandidates(root string, changedFiles []string) ([]string, error) {
	if changedFiles != nil {
		return changedFiles, nil
	}

	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && excludedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if chunk.LanguageForPath(path) == "unknown" {
			return nil
		}
		out = append(out, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan project directory: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// categorize splits candidates into deleted/added/modified per spec.md
// §4.8 step 3. Paths with chunks in store but no disk file are deleted;
// paths on disk with no store chunks are added; paths on disk whose
// current file_hash differs from the store's recorded one are modified.
// Unchanged files are dropped.
func categorize(candidates []string, filesInStore map[string]bool, fileHashInStore map[string]string) (deleted, added, modified []string) {
	onDisk := map[string]bool{}
	for _, path := range candidates {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		onDisk[path] = true
		if filesInStore[path] {
			diskHash, err := hashutil.File(path)
			if err != nil || diskHash != fileHashInStore[path] {
				modified = append(modified, path)
			}
		} else {
			added = append(added, path)
		}
	}
	for path := range filesInStore {
		if onDisk[path] {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			deleted = append(deleted, path)
		}
	}
	sort.Strings(deleted)
	sort.Strings(added)
	sort.Strings(modified)
	return deleted, added, modified
}

// chunkAndEmbed implements spec.md §4.8 step 5's per-file pipeline: read,
// hash, chunk, embed, assemble Chunk objects. Binary (non-UTF-8) files are
// skipped by returning an empty, error-free result.
func (e *Engine) chunkAndEmbed(ctx context.Context, root, path string) ([]chunk.Chunk, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if !utf8.Valid(raw) {
		return nil, nil
	}
	text := string(raw)

	fileHash := hashutil.String(text)
	language := chunk.LanguageForPath(path)
	bodies := chunk.Split(text, language, e.ChunkOpts)

	texts := make([]string, len(bodies))
	for i, b := range bodies {
		texts[i] = b.Text
	}

	vectors, err := e.Embedder.EmbedAll(ctx, texts)
	if err != nil {
		return nil, err
	}

	relPath, err := filepath.Rel(root, path)
	if err != nil {
		relPath = path
	}

	chunks := make([]chunk.Chunk, 0, len(bodies))
	for i, b := range bodies {
		if vectors[i] == nil {
			continue
		}
		chunks = append(chunks, chunk.Chunk{
			ID:        uuid.NewString(),
			Text:      b.Text,
			Embedding: vectors[i],
			Metadata: chunk.Metadata{
				FilePath:     path,
				RelativePath: relPath,
				FileHash:     fileHash,
				ChunkHash:    hashutil.String(b.Text),
				Language:     language,
				ChunkIndex:   i,
				StartLine:    b.StartLine,
				EndLine:      b.EndLine,
				SectionType:  b.SectionType,
				SectionName:  b.SectionName,
			},
		})
	}
	return chunks, nil
}

// diffChunks performs the chunk-level diff by chunk_hash (spec.md §4.8
// step 6, with the Open-Question resolution to use chunk_hash identity
// only, not (chunk_hash, chunk_index)).
func diffChunks(existing, candidate []chunk.Chunk) (toAdd []chunk.Chunk, toDeleteIDs []string) {
	oldHashes := map[string]string{} // chunk_hash -> id
	for _, c := range existing {
		oldHashes[c.Metadata.ChunkHash] = c.ID
	}
	newHashes := map[string]bool{}
	for _, c := range candidate {
		newHashes[c.Metadata.ChunkHash] = true
		if _, unchanged := oldHashes[c.Metadata.ChunkHash]; !unchanged {
			toAdd = append(toAdd, c)
		}
	}
	for hash, id := range oldHashes {
		if !newHashes[hash] {
			toDeleteIDs = append(toDeleteIDs, id)
		}
	}
	return toAdd, toDeleteIDs
}

func (e *Engine) insertInBatches(ctx context.Context, chunks []chunk.Chunk) error {
	for start := 0; start < len(chunks); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := e.Store.InsertChunks(ctx, chunks[start:end]); err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}
	}
	return nil
}

func joinFirstN(errs []string, n int) string {
	if len(errs) < n {
		n = len(errs)
	}
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += "; "
		}
		out += errs[i]
	}
	return out
}
