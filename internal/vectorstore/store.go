// Package vectorstore is the boundary to the embedding + nearest-neighbour service.
package vectorstore

import (
	"context"
	"fmt"
)

// ChunkMetadata is attached to every stored chunk.
type ChunkMetadata struct {
	Source     string `json:"source"`
	ChunkIndex int    `json:"chunk_index"`
	Filename   string `json:"filename"`
}

// QueryResult mirrors the service contract: one ranked list per query text.
// Only a single query is issued at a time, so the outer slices have length 0 or 1.
type QueryResult struct {
	Documents [][]string        `json:"documents"`
	Metadatas [][]ChunkMetadata `json:"metadatas"`
}

// First returns the ranked documents and metadata of the single query, if any.
func (r *QueryResult) First() ([]string, []ChunkMetadata) {
	if r == nil || len(r.Documents) == 0 {
		return nil, nil
	}
	docs := r.Documents[0]
	var metas []ChunkMetadata
	if len(r.Metadatas) > 0 {
		metas = r.Metadatas[0]
	}
	return docs, metas
}

// Empty reports whether the query returned no documents at all.
func (r *QueryResult) Empty() bool {
	docs, _ := r.First()
	return len(docs) == 0
}

// Store adds chunk embeddings and answers similarity queries.
// Collections are created on first use.
type Store interface {
	// AddDocuments stores texts under ids. metadatas may be nil; otherwise it must match texts in length.
	AddDocuments(ctx context.Context, collection string, ids, texts []string, metadatas []ChunkMetadata) error
	// Query returns up to k chunks ordered by decreasing similarity; an empty collection yields an empty result.
	Query(ctx context.Context, collection, queryText string, k int) (*QueryResult, error)
	// DeleteBySource removes every chunk whose metadata source equals source.
	DeleteBySource(ctx context.Context, collection, source string) error
	// Sources lists the distinct metadata sources stored in collection, sorted.
	Sources(ctx context.Context, collection string) ([]string, error)
	Close() error
}

// normalizeAdd validates the parallel slices of an add call and fills in missing metadata.
func normalizeAdd(ids, texts []string, metadatas []ChunkMetadata) ([]ChunkMetadata, error) {
	if len(ids) != len(texts) {
		return nil, fmt.Errorf("ids length %d does not match texts length %d", len(ids), len(texts))
	}
	if metadatas == nil {
		metadatas = make([]ChunkMetadata, len(texts))
	}
	if len(metadatas) != len(texts) {
		return nil, fmt.Errorf("metadatas length %d does not match texts length %d", len(metadatas), len(texts))
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate id %q in add call", id)
		}
		seen[id] = struct{}{}
	}
	return metadatas, nil
}

func emptyResult() *QueryResult {
	return &QueryResult{Documents: [][]string{{}}, Metadatas: [][]ChunkMetadata{{}}}
}
