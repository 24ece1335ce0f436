package model

// EsChunk 定义了存储在 Elasticsearch 中的文本块文档结构。
type EsChunk struct {
	ChunkID      string    `json:"chunk_id"`
	TextContent  string    `json:"text_content"`
	Source       string    `json:"source"`
	ChunkIndex   int       `json:"chunk_index"`
	Filename     string    `json:"filename"`
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version,omitempty"`
}

// EsHit 是一次 kNN 检索命中的文本块及其得分。
type EsHit struct {
	Chunk EsChunk
	Score float64
}
