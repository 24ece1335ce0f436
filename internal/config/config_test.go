package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadIsolated(t *testing.T, yaml string) (*Config, error) {
	t.Helper()
	dir := t.TempDir()
	path := ""
	if yaml != "" {
		path = filepath.Join(dir, "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	}
	return Load(path, filepath.Join(dir, "missing.env"))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadIsolated(t, "")
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.RAG.TopK)
	assert.Equal(t, 8000, cfg.RAG.MaxContextChars)
	assert.Equal(t, "prefix", cfg.RAG.Truncation)
	assert.Equal(t, 800, cfg.Ingest.ChunkSize)
	assert.Equal(t, 200, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, "pm_docs", cfg.Ingest.CollectionName)
	assert.Equal(t, "data", cfg.Ingest.DataDir)
	assert.Equal(t, "chromem", cfg.VectorStore.Backend)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.InDelta(t, 0.2, cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, 1024, cfg.LLM.MaxTokens)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	cfg, err := loadIsolated(t, `
rag:
  top_k: 9
  truncation: block
ingest:
  chunk_size: 400
  chunk_overlap: 50
`)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.RAG.TopK)
	assert.Equal(t, "block", cfg.RAG.Truncation)
	assert.Equal(t, 400, cfg.Ingest.ChunkSize)
	assert.Equal(t, 50, cfg.Ingest.ChunkOverlap)
}

func TestLoad_LegacyEnvironmentNames(t *testing.T) {
	t.Setenv("RAG_TOP_K", "7")
	t.Setenv("CHUNK_SIZE", "1000")
	t.Setenv("INGEST_COLLECTION_NAME", "specs")

	cfg, err := loadIsolated(t, "")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.RAG.TopK)
	assert.Equal(t, 1000, cfg.Ingest.ChunkSize)
	assert.Equal(t, "specs", cfg.Ingest.CollectionName)
}

func TestLoad_RejectsOverlapNotBelowSize(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "200")
	t.Setenv("CHUNK_OVERLAP", "200")

	_, err := loadIsolated(t, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestValidate_UnknownBackends(t *testing.T) {
	cfg, err := loadIsolated(t, "")
	require.NoError(t, err)

	bad := *cfg
	bad.VectorStore.Backend = "faiss"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = *cfg
	bad.RAG.Truncation = "sentence"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = *cfg
	bad.Ingest.PDFExtractor = "tika"
	bad.Tika.ServerURL = ""
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)
}

func TestDescribe_MasksSecrets(t *testing.T) {
	cfg, err := loadIsolated(t, "")
	require.NoError(t, err)
	cfg.LLM.APIKey = "sk-secret"

	out := cfg.Describe()
	assert.Contains(t, out, "[RAG]")
	assert.Contains(t, out, "top_k = 5")
	assert.NotContains(t, out, "sk-secret")
	assert.Contains(t, out, "vector store absolute persist dir")
}
