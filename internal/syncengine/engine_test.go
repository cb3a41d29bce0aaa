package syncengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/diffsec/knowsync/internal/chunk"
	"github.com/diffsec/knowsync/internal/circuitbreaker"
	"github.com/diffsec/knowsync/internal/embedding"
	"github.com/diffsec/knowsync/internal/project"
	"github.com/diffsec/knowsync/internal/ratelimit"
	"github.com/diffsec/knowsync/internal/store"
)

// fakeStore is an in-memory KnowledgeStore for exercising the engine
// without a real database.
type fakeStore struct {
	chunks map[string]chunk.Chunk // id -> chunk
}

func newFakeStore() *fakeStore { return &fakeStore{chunks: map[string]chunk.Chunk{}} }

func (f *fakeStore) UpsertSource(ctx context.Context, source store.SourceRecord) error { return nil }
func (f *fakeStore) DeleteSource(ctx context.Context, sourceID string) error           { return nil }

func (f *fakeStore) InsertChunks(ctx context.Context, chunks []chunk.Chunk) error {
	for _, c := range chunks {
		f.chunks[c.ID] = c
	}
	return nil
}

func (f *fakeStore) DeleteChunksByIDs(ctx context.Context, ids []string) error {
	for _, id := range ids {
		delete(f.chunks, id)
	}
	return nil
}

func (f *fakeStore) DeleteChunksBy(ctx context.Context, sourceID, filePath string) error {
	for id, c := range f.chunks {
		if c.SourceID == sourceID && c.Metadata.FilePath == filePath {
			delete(f.chunks, id)
		}
	}
	return nil
}

func (f *fakeStore) SelectChunksBy(ctx context.Context, sourceID, filePath string) ([]chunk.Chunk, error) {
	var out []chunk.Chunk
	for _, c := range f.chunks {
		if c.SourceID == sourceID && c.Metadata.FilePath == filePath {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) SelectChunkRefsBySource(ctx context.Context, sourceID string) ([]store.ChunkRef, error) {
	var out []store.ChunkRef
	for _, c := range f.chunks {
		if c.SourceID == sourceID {
			out = append(out, store.ChunkRef{ID: c.ID, Metadata: c.Metadata})
		}
	}
	return out, nil
}

func (f *fakeStore) CountUniqueFiles(ctx context.Context, sourceID string) (int, error) {
	files := map[string]bool{}
	for _, c := range f.chunks {
		if c.SourceID == sourceID {
			files[c.Metadata.FilePath] = true
		}
	}
	return len(files), nil
}

func (f *fakeStore) ChunksMissingEmbedding(ctx context.Context, sourceID string) ([]store.ChunkRef, error) {
	var out []store.ChunkRef
	for _, c := range f.chunks {
		if c.SourceID == sourceID && c.Embedding == nil {
			out = append(out, store.ChunkRef{ID: c.ID, Metadata: c.Metadata})
		}
	}
	return out, nil
}

func (f *fakeStore) FindDuplicateChunks(ctx context.Context, sourceID string) ([]store.DuplicateGroup, error) {
	byHash := map[string][]string{}
	for _, c := range f.chunks {
		if c.SourceID == sourceID {
			byHash[c.Metadata.ChunkHash] = append(byHash[c.Metadata.ChunkHash], c.ID)
		}
	}
	var out []store.DuplicateGroup
	for hash, ids := range byHash {
		if len(ids) > 1 {
			out = append(out, store.DuplicateGroup{ChunkHash: hash, ChunkIDs: ids})
		}
	}
	return out, nil
}

// stubProvider returns a fixed-size deterministic vector per text so tests
// don't depend on real embedding content.
type stubProvider struct{}

func (stubProvider) Name() string { return "stub" }
func (stubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 2, 3}, nil
}
func (stubProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}
func (stubProvider) Dimension() int { return 3 }
func (stubProvider) Close() error   { return nil }

func newTestEngine(t *testing.T, root string) (*Engine, *fakeStore) {
	t.Helper()
	reg, err := project.NewRegistry(filepath.Join(t.TempDir(), "registry.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Upsert(project.Project{ID: "p1", LocalPath: root, SyncStatus: project.StatusNeverSynced}); err != nil {
		t.Fatal(err)
	}

	fs := newFakeStore()
	limiter := ratelimit.New(1000, time.Minute)
	embedder := embedding.NewBatchEmbedder(stubProvider{}, limiter)
	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig)

	e := New(fs, reg, embedder, breakers)
	return e, fs
}

// TestS1FirstSyncOfTwoFileProject exercises spec scenario S1.
func TestS1FirstSyncOfTwoFileProject(t *testing.T) {
	root := t.TempDir()
	pyBody := "import os\n\ndef f(x):\n    return x + 1\n\n\n\n\n\n\n\n"
	if err := os.WriteFile(filepath.Join(root, "a.py"), []byte(pyBody), 0o644); err != nil {
		t.Fatal(err)
	}
	mdBody := "# Title\nline one\nline two\nline three"
	if err := os.WriteFile(filepath.Join(root, "b.md"), []byte(mdBody), 0o644); err != nil {
		t.Fatal(err)
	}

	e, fs := newTestEngine(t, root)
	stats, err := e.SyncProject(context.Background(), "p1", nil)
	if err != nil {
		t.Fatal(err)
	}

	if stats.FilesProcessed != 2 {
		t.Errorf("expected files_processed=2, got %d", stats.FilesProcessed)
	}
	if stats.ChunksAdded != 3 {
		t.Errorf("expected chunks_added=3, got %d", stats.ChunksAdded)
	}
	if stats.ChunksModified != 0 || stats.ChunksDeleted != 0 {
		t.Errorf("expected no modifications/deletions on first sync, got %+v", stats)
	}
	if len(fs.chunks) != 3 {
		t.Errorf("expected 3 stored chunks, got %d", len(fs.chunks))
	}
}

// TestInvariant1IdempotentUnchangedSync: a second sync with no changes
// produces {0,0,0}.
func TestInvariant1IdempotentUnchangedSync(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.py"), []byte("def f(x):\n    return x\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	e, fs := newTestEngine(t, root)
	if _, err := e.SyncProject(context.Background(), "p1", nil); err != nil {
		t.Fatal(err)
	}
	before := len(fs.chunks)

	stats, err := e.SyncProject(context.Background(), "p1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if stats.ChunksAdded != 0 || stats.ChunksModified != 0 || stats.ChunksDeleted != 0 {
		t.Errorf("expected idempotent second sync, got %+v", stats)
	}
	if len(fs.chunks) != before {
		t.Errorf("expected unchanged chunk count, got %d vs %d", len(fs.chunks), before)
	}
}

// TestS3DeleteFile exercises spec scenario S3.
func TestS3DeleteFile(t *testing.T) {
	root := t.TempDir()
	aPath := filepath.Join(root, "a.py")
	bPath := filepath.Join(root, "b.md")
	if err := os.WriteFile(aPath, []byte("def f(x):\n    return x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bPath, []byte("# Title\nhello\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	e, fs := newTestEngine(t, root)
	if _, err := e.SyncProject(context.Background(), "p1", nil); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(bPath); err != nil {
		t.Fatal(err)
	}

	stats, err := e.SyncProject(context.Background(), "p1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if stats.ChunksDeleted != 1 {
		t.Errorf("expected chunks_deleted=1, got %d", stats.ChunksDeleted)
	}
	for _, c := range fs.chunks {
		if c.Metadata.FilePath == bPath {
			t.Error("expected no remaining chunks for deleted file")
		}
	}
}

// TestInvariant2ChunkHashUniquenessPerFile.
func TestInvariant2ChunkHashUniquenessPerFile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.py"), []byte("def f(x):\n    return x\n\ndef g(y):\n    return y\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	e, fs := newTestEngine(t, root)
	if _, err := e.SyncProject(context.Background(), "p1", nil); err != nil {
		t.Fatal(err)
	}

	seen := map[string]bool{}
	for _, c := range fs.chunks {
		key := c.Metadata.FilePath + "|" + c.Metadata.ChunkHash
		if seen[key] {
			t.Fatalf("duplicate chunk_hash for %s", c.Metadata.FilePath)
		}
		seen[key] = true
	}
}
