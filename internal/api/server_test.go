package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/diffsec/knowsync/internal/chunk"
	"github.com/diffsec/knowsync/internal/circuitbreaker"
	"github.com/diffsec/knowsync/internal/embedding"
	"github.com/diffsec/knowsync/internal/project"
	"github.com/diffsec/knowsync/internal/queue"
	"github.com/diffsec/knowsync/internal/ratelimit"
	"github.com/diffsec/knowsync/internal/store"
	"github.com/diffsec/knowsync/internal/syncengine"
	"github.com/diffsec/knowsync/internal/watcher"
)

type fakeStore struct {
	mu     sync.Mutex
	chunks map[string]chunk.Chunk
}

func newFakeStore() *fakeStore { return &fakeStore{chunks: map[string]chunk.Chunk{}} }

func (f *fakeStore) UpsertSource(ctx context.Context, source store.SourceRecord) error { return nil }
func (f *fakeStore) DeleteSource(ctx context.Context, sourceID string) error           { return nil }

func (f *fakeStore) InsertChunks(ctx context.Context, chunks []chunk.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range chunks {
		f.chunks[c.ID] = c
	}
	return nil
}

func (f *fakeStore) DeleteChunksByIDs(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.chunks, id)
	}
	return nil
}

func (f *fakeStore) DeleteChunksBy(ctx context.Context, sourceID, filePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, c := range f.chunks {
		if c.SourceID == sourceID && c.Metadata.FilePath == filePath {
			delete(f.chunks, id)
		}
	}
	return nil
}

func (f *fakeStore) SelectChunksBy(ctx context.Context, sourceID, filePath string) ([]chunk.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []chunk.Chunk
	for _, c := range f.chunks {
		if c.SourceID == sourceID && c.Metadata.FilePath == filePath {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) SelectChunkRefsBySource(ctx context.Context, sourceID string) ([]store.ChunkRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.ChunkRef
	for _, c := range f.chunks {
		if c.SourceID == sourceID {
			out = append(out, store.ChunkRef{ID: c.ID, Metadata: c.Metadata})
		}
	}
	return out, nil
}

func (f *fakeStore) CountUniqueFiles(ctx context.Context, sourceID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	files := map[string]bool{}
	for _, c := range f.chunks {
		if c.SourceID == sourceID {
			files[c.Metadata.FilePath] = true
		}
	}
	return len(files), nil
}

func (f *fakeStore) FindDuplicateChunks(ctx context.Context, sourceID string) ([]store.DuplicateGroup, error) {
	return nil, nil
}

func (f *fakeStore) ChunksMissingEmbedding(ctx context.Context, sourceID string) ([]store.ChunkRef, error) {
	return nil, nil
}

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

func newTestServer(t *testing.T) (*Server, *project.Registry, *fakeStore, string) {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.py"), []byte("def f(x):\n    return x\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	reg, err := project.NewRegistry(filepath.Join(t.TempDir(), "registry.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Upsert(project.Project{ID: "p1", LocalPath: root, SyncMode: project.SyncModeManual, SyncStatus: project.StatusNeverSynced}); err != nil {
		t.Fatal(err)
	}

	fs := newFakeStore()
	limiter := ratelimit.New(1000, time.Minute)
	embedder := embedding.NewBatchEmbedder(stubProvider{}, limiter)
	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig)
	engine := syncengine.New(fs, reg, embedder, breakers)
	fw := watcher.New(watcher.Config{EventBufferSize: 64})
	sq := queue.New(queue.Config{MaxConcurrent: 3})

	s := NewServer(reg, engine, fw, sq, nil, fs)
	return s, reg, fs, root
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSyncConfigUpdatesRegistry(t *testing.T) {
	s, reg, _, root := newTestServer(t)
	h := s.Handler()

	rec := doRequest(t, h, http.MethodPut, "/projects/p1/sync/config", map[string]any{
		"sync_mode":         "realtime",
		"auto_sync_enabled": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	p, _ := reg.Get("p1")
	if p.SyncMode != project.SyncModeRealtime || !p.AutoSyncEnabled {
		t.Fatalf("expected registry updated, got %+v", p)
	}
	_ = root
}

func TestSyncConfigRejectsUnknownProject(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	h := s.Handler()
	rec := doRequest(t, h, http.MethodPut, "/projects/missing/sync/config", map[string]any{})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSyncConfigRejectsBadLocalPath(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	h := s.Handler()
	rec := doRequest(t, h, http.MethodPut, "/projects/p1/sync/config", map[string]any{"local_path": "/etc"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSyncTriggerRunsEngineAndReturnsStats(t *testing.T) {
	s, _, fs, _ := newTestServer(t)
	h := s.Handler()

	rec := doRequest(t, h, http.MethodPost, "/projects/p1/sync", map[string]any{"trigger": "manual"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var stats syncengine.SyncStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.ChunksAdded == 0 {
		t.Fatalf("expected chunks added, got %+v", stats)
	}
	if fs.chunkCountForTest() == 0 {
		t.Fatal("expected chunks actually stored")
	}
}

func (f *fakeStore) chunkCountForTest() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks)
}

func TestSyncStatusReflectsStore(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	h := s.Handler()

	doRequest(t, h, http.MethodPost, "/projects/p1/sync", map[string]any{"trigger": "manual"})

	rec := doRequest(t, h, http.MethodGet, "/projects/p1/sync/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp syncStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.SyncStatus != string(project.StatusSynced) {
		t.Fatalf("expected synced status, got %+v", resp)
	}
	if resp.Stats.TotalFiles != 1 || resp.Stats.TotalChunks == 0 {
		t.Fatalf("expected stats populated, got %+v", resp.Stats)
	}
}

func TestWatcherStartStopStatus(t *testing.T) {
	s, _, _, root := newTestServer(t)
	h := s.Handler()

	rec := doRequest(t, h, http.MethodPost, "/api/watcher/projects/p1/start", map[string]any{"local_path": root})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodGet, "/api/watcher/projects/p1/status", nil)
	var status map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if !status["is_watching"] {
		t.Fatalf("expected is_watching true, got %+v", status)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/watcher/projects/p1/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	s.Watcher.StopAll()
}

func TestWatcherHealthWithoutMonitorReportsDegraded(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	h := s.Handler()
	rec := doRequest(t, h, http.MethodGet, "/api/watcher/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"healthy":false`) {
		t.Fatalf("expected degraded snapshot, got %s", rec.Body.String())
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	h := s.Handler()
	rec := doRequest(t, h, http.MethodGet, "/projects/p1/unknown", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
