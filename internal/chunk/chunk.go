// Package chunk decomposes file text into semantically meaningful, bounded
// spans ("chunks") and carries the metadata the sync engine needs to diff
// and embed them.
package chunk

// Metadata describes where a chunk came from and how it was produced.
type Metadata struct {
	FilePath     string `json:"file_path"`
	RelativePath string `json:"relative_path"`
	FileHash     string `json:"file_hash"`
	ChunkHash    string `json:"chunk_hash"`
	Language     string `json:"language"`
	ChunkIndex   int    `json:"chunk_index"`
	StartLine    int    `json:"start_line"`
	EndLine      int    `json:"end_line"`
	SectionType  string `json:"section_type,omitempty"`
	SectionName  string `json:"section_name,omitempty"`
}

// Chunk is a unit of embedded content: a bounded span of file text, its
// embedding vector (nil until BatchEmbedder fills it in), and its metadata.
type Chunk struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
	Metadata  Metadata  `json:"metadata"`
}

// Body is the output of a chunking strategy before it is attached to a
// source and given an embedding: just the text and its position.
type Body struct {
	Text        string
	StartLine   int
	EndLine     int
	SectionType string
	SectionName string
}
