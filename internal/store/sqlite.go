package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/diffsec/knowsync/internal/chunk"
)

// SQLiteStore implements KnowledgeStore, CheckpointStore, and AnalyticsStore
// against a single SQLite file, grounded on
// ihavespoons-zrok/internal/vectordb/sqlite.go's schema-init/CRUD shape.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) the SQLite database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS sources (
	id TEXT PRIMARY KEY,
	display_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	source_id TEXT NOT NULL,
	text TEXT NOT NULL,
	embedding BLOB,
	file_path TEXT NOT NULL,
	relative_path TEXT NOT NULL,
	file_hash TEXT NOT NULL,
	chunk_hash TEXT NOT NULL,
	language TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	start_line INTEGER NOT NULL,
	end_line INTEGER NOT NULL,
	section_type TEXT,
	section_name TEXT
);

CREATE INDEX IF NOT EXISTS idx_chunks_source_file ON chunks(source_id, file_path);
CREATE INDEX IF NOT EXISTS idx_chunks_source_hash ON chunks(source_id, chunk_hash);

CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	sync_job_id TEXT NOT NULL,
	files_processed TEXT NOT NULL,
	files_remaining TEXT NOT NULL,
	chunks_created TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_project_status ON checkpoints(project_id, status);

CREATE TABLE IF NOT EXISTS sync_operations (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	trigger TEXT NOT NULL,
	started_at TEXT NOT NULL,
	completed_at TEXT,
	status TEXT NOT NULL,
	files_count INTEGER NOT NULL,
	chunks_added INTEGER NOT NULL,
	chunks_deleted INTEGER NOT NULL,
	duration_sec REAL,
	error_message TEXT
);
`

func (s *SQLiteStore) init() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// UpsertSource implements KnowledgeStore.
func (s *SQLiteStore) UpsertSource(ctx context.Context, source SourceRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (id, display_name) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET display_name = excluded.display_name`,
		source.ID, source.DisplayName)
	return err
}

// DeleteSource implements KnowledgeStore.
func (s *SQLiteStore) DeleteSource(ctx context.Context, sourceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE source_id = ?`, sourceID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, sourceID)
	return err
}

// InsertChunks implements KnowledgeStore. Chunks are inserted one
// transaction per call; callers batch (spec default 50 per insert).
func (s *SQLiteStore) InsertChunks(ctx context.Context, chunks []chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks
		(id, source_id, text, embedding, file_path, relative_path, file_hash, chunk_hash,
		 language, chunk_index, start_line, end_line, section_type, section_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range chunks {
		embBytes, err := encodeEmbedding(c.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding for chunk %s: %w", c.ID, err)
		}
		m := c.Metadata
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.SourceID, c.Text, embBytes,
			m.FilePath, m.RelativePath, m.FileHash, m.ChunkHash,
			m.Language, m.ChunkIndex, m.StartLine, m.EndLine, m.SectionType, m.SectionName,
		); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// DeleteChunksByIDs implements KnowledgeStore.
func (s *SQLiteStore) DeleteChunksByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM chunks WHERE id IN (%s)`, placeholders), args...)
	return err
}

// DeleteChunksBy implements KnowledgeStore.
func (s *SQLiteStore) DeleteChunksBy(ctx context.Context, sourceID, filePath string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE source_id = ? AND file_path = ?`, sourceID, filePath)
	return err
}

// SelectChunksBy implements KnowledgeStore.
func (s *SQLiteStore) SelectChunksBy(ctx context.Context, sourceID, filePath string) ([]chunk.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, text, embedding, file_path, relative_path, file_hash, chunk_hash,
		       language, chunk_index, start_line, end_line, section_type, section_name
		FROM chunks WHERE source_id = ? AND file_path = ?
	`, sourceID, filePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []chunk.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SelectChunkRefsBySource implements KnowledgeStore's select_chunks_by(source)
// projection: {id, metadata} only, no text/embedding.
func (s *SQLiteStore) SelectChunkRefsBySource(ctx context.Context, sourceID string) ([]ChunkRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_path, relative_path, file_hash, chunk_hash, language, chunk_index,
		       start_line, end_line, section_type, section_name
		FROM chunks WHERE source_id = ?
	`, sourceID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ChunkRef
	for rows.Next() {
		var ref ChunkRef
		var sectionType, sectionName sql.NullString
		if err := rows.Scan(&ref.ID, &ref.Metadata.FilePath, &ref.Metadata.RelativePath,
			&ref.Metadata.FileHash, &ref.Metadata.ChunkHash, &ref.Metadata.Language,
			&ref.Metadata.ChunkIndex, &ref.Metadata.StartLine, &ref.Metadata.EndLine,
			&sectionType, &sectionName); err != nil {
			return nil, err
		}
		ref.Metadata.SectionType = sectionType.String
		ref.Metadata.SectionName = sectionName.String
		out = append(out, ref)
	}
	return out, rows.Err()
}

// ChunksMissingEmbedding implements KnowledgeStore: chunks whose embedding
// column is NULL, i.e. rows inserted without an embedding vector
// (SyncEngine skips chunks whose embedding failed rather than storing them).
func (s *SQLiteStore) ChunksMissingEmbedding(ctx context.Context, sourceID string) ([]ChunkRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_path, relative_path, file_hash, chunk_hash, language, chunk_index,
		       start_line, end_line, section_type, section_name
		FROM chunks WHERE source_id = ? AND embedding IS NULL
	`, sourceID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ChunkRef
	for rows.Next() {
		var ref ChunkRef
		var sectionType, sectionName sql.NullString
		if err := rows.Scan(&ref.ID, &ref.Metadata.FilePath, &ref.Metadata.RelativePath,
			&ref.Metadata.FileHash, &ref.Metadata.ChunkHash, &ref.Metadata.Language,
			&ref.Metadata.ChunkIndex, &ref.Metadata.StartLine, &ref.Metadata.EndLine,
			&sectionType, &sectionName); err != nil {
			return nil, err
		}
		ref.Metadata.SectionType = sectionType.String
		ref.Metadata.SectionName = sectionName.String
		out = append(out, ref)
	}
	return out, rows.Err()
}

// CountUniqueFiles implements KnowledgeStore.
func (s *SQLiteStore) CountUniqueFiles(ctx context.Context, sourceID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT file_path) FROM chunks WHERE source_id = ?`, sourceID).Scan(&n)
	return n, err
}

// FindDuplicateChunks implements KnowledgeStore.
func (s *SQLiteStore) FindDuplicateChunks(ctx context.Context, sourceID string) ([]DuplicateGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_hash, id FROM chunks WHERE source_id = ?
		AND chunk_hash IN (
			SELECT chunk_hash FROM chunks WHERE source_id = ? GROUP BY chunk_hash HAVING COUNT(*) > 1
		)
		ORDER BY chunk_hash
	`, sourceID, sourceID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	groups := map[string]*DuplicateGroup{}
	var order []string
	for rows.Next() {
		var hash, id string
		if err := rows.Scan(&hash, &id); err != nil {
			return nil, err
		}
		g, ok := groups[hash]
		if !ok {
			g = &DuplicateGroup{ChunkHash: hash}
			groups[hash] = g
			order = append(order, hash)
		}
		g.ChunkIDs = append(g.ChunkIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]DuplicateGroup, 0, len(order))
	for _, hash := range order {
		out = append(out, *groups[hash])
	}
	return out, nil
}

func scanChunk(rows *sql.Rows) (chunk.Chunk, error) {
	var c chunk.Chunk
	var embBytes []byte
	var sectionType, sectionName sql.NullString

	if err := rows.Scan(&c.ID, &c.SourceID, &c.Text, &embBytes,
		&c.Metadata.FilePath, &c.Metadata.RelativePath, &c.Metadata.FileHash, &c.Metadata.ChunkHash,
		&c.Metadata.Language, &c.Metadata.ChunkIndex, &c.Metadata.StartLine, &c.Metadata.EndLine,
		&sectionType, &sectionName); err != nil {
		return chunk.Chunk{}, err
	}
	c.Metadata.SectionType = sectionType.String
	c.Metadata.SectionName = sectionName.String

	emb, err := decodeEmbedding(embBytes)
	if err != nil {
		return chunk.Chunk{}, err
	}
	c.Embedding = emb

	return c, nil
}

func encodeEmbedding(v []float32) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func decodeEmbedding(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v []float32
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// --- CheckpointStore ---

// CreateCheckpoint implements CheckpointStore.
func (s *SQLiteStore) CreateCheckpoint(ctx context.Context, cp Checkpoint) error {
	processed, err := json.Marshal(cp.FilesProcessed)
	if err != nil {
		return err
	}
	remaining, err := json.Marshal(cp.FilesRemaining)
	if err != nil {
		return err
	}
	created, err := json.Marshal(cp.ChunksCreated)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, project_id, sync_job_id, files_processed, files_remaining, chunks_created, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, cp.ID, cp.ProjectID, cp.SyncJobID, string(processed), string(remaining), string(created), string(cp.Status), cp.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// UpdateCheckpoint implements CheckpointStore: read, apply fn, write back.
func (s *SQLiteStore) UpdateCheckpoint(ctx context.Context, id string, fn func(*Checkpoint)) error {
	cp, err := s.getCheckpoint(ctx, id)
	if err != nil {
		return err
	}
	fn(&cp)

	processed, _ := json.Marshal(cp.FilesProcessed)
	remaining, _ := json.Marshal(cp.FilesRemaining)
	created, _ := json.Marshal(cp.ChunksCreated)

	_, err = s.db.ExecContext(ctx, `
		UPDATE checkpoints SET files_processed = ?, files_remaining = ?, chunks_created = ?, status = ?
		WHERE id = ?
	`, string(processed), string(remaining), string(created), string(cp.Status), id)
	return err
}

func (s *SQLiteStore) getCheckpoint(ctx context.Context, id string) (Checkpoint, error) {
	var cp Checkpoint
	var processed, remaining, created, status, createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, sync_job_id, files_processed, files_remaining, chunks_created, status, created_at
		FROM checkpoints WHERE id = ?
	`, id).Scan(&cp.ID, &cp.ProjectID, &cp.SyncJobID, &processed, &remaining, &created, &status, &createdAt)
	if err != nil {
		return Checkpoint{}, err
	}

	_ = json.Unmarshal([]byte(processed), &cp.FilesProcessed)
	_ = json.Unmarshal([]byte(remaining), &cp.FilesRemaining)
	_ = json.Unmarshal([]byte(created), &cp.ChunksCreated)
	cp.Status = CheckpointStatus(status)
	cp.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return cp, nil
}

// CheckpointsByProject implements CheckpointStore.
func (s *SQLiteStore) CheckpointsByProject(ctx context.Context, projectID string, status CheckpointStatus) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, sync_job_id, files_processed, files_remaining, chunks_created, status, created_at
		FROM checkpoints WHERE project_id = ? AND status = ?
	`, projectID, string(status))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		var processed, remaining, created, statusStr, createdAt string
		if err := rows.Scan(&cp.ID, &cp.ProjectID, &cp.SyncJobID, &processed, &remaining, &created, &statusStr, &createdAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(processed), &cp.FilesProcessed)
		_ = json.Unmarshal([]byte(remaining), &cp.FilesRemaining)
		_ = json.Unmarshal([]byte(created), &cp.ChunksCreated)
		cp.Status = CheckpointStatus(statusStr)
		cp.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, cp)
	}
	return out, rows.Err()
}

// --- AnalyticsStore ---

// RecordOperation implements AnalyticsStore.
func (s *SQLiteStore) RecordOperation(ctx context.Context, op SyncOperation) error {
	var completedAt *string
	if op.CompletedAt != nil {
		v := op.CompletedAt.UTC().Format(time.RFC3339Nano)
		completedAt = &v
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_operations
		(id, project_id, trigger, started_at, completed_at, status, files_count, chunks_added, chunks_deleted, duration_sec, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, op.ID, op.ProjectID, op.Trigger, op.StartedAt.UTC().Format(time.RFC3339Nano), completedAt,
		op.Status, op.FilesCount, op.ChunksAdded, op.ChunksDeleted, op.DurationSec, op.ErrorMessage)
	return err
}
