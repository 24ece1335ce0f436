package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"

	"product-atlas/internal/model"
	"product-atlas/pkg/embedding"
	"product-atlas/pkg/es"
)

// ElasticStore stores chunks as dense_vector documents, one index per collection.
type ElasticStore struct {
	client      *elasticsearch.Client
	embedder    embedding.Client
	indexPrefix string
	dims        int
	model       string

	mu    sync.Mutex
	ready map[string]bool
}

// NewElasticStore wires an Elasticsearch client and an embedding client into a Store.
func NewElasticStore(client *elasticsearch.Client, embedder embedding.Client, indexPrefix string, dims int, modelVersion string) *ElasticStore {
	return &ElasticStore{
		client:      client,
		embedder:    embedder,
		indexPrefix: indexPrefix,
		dims:        dims,
		model:       modelVersion,
		ready:       make(map[string]bool),
	}
}

// IndexName maps a collection name onto a valid, lower-case index name.
func (s *ElasticStore) IndexName(collection string) string {
	return strings.ToLower(s.indexPrefix + collection)
}

func (s *ElasticStore) ensureIndex(ctx context.Context, collection string) (string, error) {
	name := s.IndexName(collection)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready[name] {
		return name, nil
	}
	if err := es.EnsureIndex(ctx, s.client, name, s.dims); err != nil {
		return "", fmt.Errorf("failed to ensure index %q: %w", name, err)
	}
	s.ready[name] = true
	return name, nil
}

func (s *ElasticStore) AddDocuments(ctx context.Context, collection string, ids, texts []string, metadatas []ChunkMetadata) error {
	metadatas, err := normalizeAdd(ids, texts, metadatas)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	index, err := s.ensureIndex(ctx, collection)
	if err != nil {
		return err
	}

	vectors, err := s.embedder.CreateEmbeddings(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed chunks: %w", err)
	}
	docs := make([]model.EsChunk, len(ids))
	for i := range ids {
		docs[i] = model.EsChunk{
			ChunkID:      ids[i],
			TextContent:  texts[i],
			Source:       metadatas[i].Source,
			ChunkIndex:   metadatas[i].ChunkIndex,
			Filename:     metadatas[i].Filename,
			Vector:       vectors[i],
			ModelVersion: s.model,
		}
	}
	return es.BulkIndex(ctx, s.client, index, docs)
}

func (s *ElasticStore) Query(ctx context.Context, collection, queryText string, k int) (*QueryResult, error) {
	if k <= 0 {
		return emptyResult(), nil
	}
	vector, err := s.embedder.CreateEmbedding(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	hits, err := es.KNNSearch(ctx, s.client, s.IndexName(collection), vector, k)
	if errors.Is(err, es.ErrIndexNotFound) {
		return emptyResult(), nil
	}
	if err != nil {
		return nil, err
	}

	docs := make([]string, 0, len(hits))
	metas := make([]ChunkMetadata, 0, len(hits))
	for _, h := range hits {
		docs = append(docs, h.Chunk.TextContent)
		metas = append(metas, ChunkMetadata{
			Source:     h.Chunk.Source,
			ChunkIndex: h.Chunk.ChunkIndex,
			Filename:   h.Chunk.Filename,
		})
	}
	return &QueryResult{Documents: [][]string{docs}, Metadatas: [][]ChunkMetadata{metas}}, nil
}

func (s *ElasticStore) DeleteBySource(ctx context.Context, collection, source string) error {
	return es.DeleteBySource(ctx, s.client, s.IndexName(collection), source)
}

func (s *ElasticStore) Sources(ctx context.Context, collection string) ([]string, error) {
	return es.Sources(ctx, s.client, s.IndexName(collection))
}

func (s *ElasticStore) Close() error {
	return nil
}
