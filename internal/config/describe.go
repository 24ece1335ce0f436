package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Describe renders the effective configuration grouped by concern, with secrets masked.
func (c *Config) Describe() string {
	var b strings.Builder
	section := func(title string, kv ...string) {
		fmt.Fprintf(&b, "[%s]\n", title)
		for i := 0; i+1 < len(kv); i += 2 {
			fmt.Fprintf(&b, "  %s = %s\n", kv[i], kv[i+1])
		}
		b.WriteString("\n")
	}

	section("LLM",
		"provider", c.LLM.Provider,
		"base_url", c.LLM.BaseURL,
		"model", c.LLM.Model,
		"temperature", fmt.Sprintf("%g", c.LLM.Temperature),
		"max_tokens", fmt.Sprintf("%d", c.LLM.MaxTokens),
		"api_key", mask(c.LLM.APIKey),
	)
	section("Embeddings / vector store",
		"embedding.provider", c.Embedding.Provider,
		"embedding.model", c.Embedding.Model,
		"vector_store.backend", c.VectorStore.Backend,
		"vector_store.persist_dir", c.VectorStore.PersistDir,
	)
	section("RAG",
		"top_k", fmt.Sprintf("%d", c.RAG.TopK),
		"max_context_chars", fmt.Sprintf("%d", c.RAG.MaxContextChars),
		"truncation", c.RAG.Truncation,
	)
	section("Ingestion / chunking",
		"data_dir", c.Ingest.DataDir,
		"collection_name", c.Ingest.CollectionName,
		"index_path", c.Ingest.IndexPath,
		"chunk_size", fmt.Sprintf("%d", c.Ingest.ChunkSize),
		"chunk_overlap", fmt.Sprintf("%d", c.Ingest.ChunkOverlap),
		"workers", fmt.Sprintf("%d", c.Ingest.Workers),
		"pdf_extractor", c.Ingest.PDFExtractor,
	)
	section("Storage",
		"database.driver", c.Database.Driver,
		"database.dsn", maskDSN(c.Database.Driver, c.Database.DSN),
		"redis.addr", orDisabled(c.Database.Redis.Addr),
		"kafka.brokers", orDisabled(c.Kafka.Brokers),
		"minio.endpoint", orDisabled(c.MinIO.Endpoint),
	)

	persist, err := filepath.Abs(c.VectorStore.PersistDir)
	if err != nil {
		persist = c.VectorStore.PersistDir
	}
	b.WriteString("[Derived paths]\n")
	fmt.Fprintf(&b, "  vector store absolute persist dir = %s\n", persist)
	return b.String()
}

func mask(secret string) string {
	if secret == "" {
		return "(unset)"
	}
	return "****"
}

func maskDSN(driver, dsn string) string {
	if driver == "mysql" {
		if at := strings.LastIndex(dsn, "@"); at >= 0 {
			return "****" + dsn[at:]
		}
	}
	return dsn
}

func orDisabled(v string) string {
	if v == "" {
		return "(disabled)"
	}
	return v
}
