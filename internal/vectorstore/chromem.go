package vectorstore

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/philippgille/chromem-go"

	"product-atlas/pkg/log"
)

// ChromemStore keeps collections in an embedded chromem-go database.
type ChromemStore struct {
	db          *chromem.DB
	embed       chromem.EmbeddingFunc
	concurrency int
}

// NewChromemStore opens a persistent database under persistDir, or an in-memory one when persistDir is empty.
func NewChromemStore(persistDir string, compress bool, embed chromem.EmbeddingFunc, concurrency int) (*ChromemStore, error) {
	if embed == nil {
		return nil, fmt.Errorf("chromem store requires an embedding function")
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	var (
		db  *chromem.DB
		err error
	)
	if persistDir != "" {
		if err := os.MkdirAll(persistDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create vector store directory: %w", err)
		}
		db, err = chromem.NewPersistentDB(persistDir, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector DB: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}
	log.Infof("[VectorStore] chromem 向量库已就绪, persist_dir=%q", persistDir)
	return &ChromemStore{db: db, embed: embed, concurrency: concurrency}, nil
}

func (s *ChromemStore) collection(name string) (*chromem.Collection, error) {
	col, err := s.db.GetOrCreateCollection(name, nil, s.embed)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create collection %q: %w", name, err)
	}
	return col, nil
}

func (s *ChromemStore) AddDocuments(ctx context.Context, collection string, ids, texts []string, metadatas []ChunkMetadata) error {
	metadatas, err := normalizeAdd(ids, texts, metadatas)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	col, err := s.collection(collection)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(ids))
	for i := range ids {
		docs[i] = chromem.Document{
			ID:       ids[i],
			Content:  texts[i],
			Metadata: toChromemMetadata(metadatas[i]),
		}
	}
	if err := col.AddDocuments(ctx, docs, s.concurrency); err != nil {
		return fmt.Errorf("failed to add documents to collection %q: %w", collection, err)
	}
	return nil
}

func (s *ChromemStore) Query(ctx context.Context, collection, queryText string, k int) (*QueryResult, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	n := col.Count()
	if n == 0 || k <= 0 {
		return emptyResult(), nil
	}
	if k > n {
		k = n
	}

	results, err := col.Query(ctx, queryText, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %q: %w", collection, err)
	}
	docs := make([]string, 0, len(results))
	metas := make([]ChunkMetadata, 0, len(results))
	for _, r := range results {
		docs = append(docs, r.Content)
		metas = append(metas, fromChromemMetadata(r.Metadata))
	}
	return &QueryResult{Documents: [][]string{docs}, Metadatas: [][]ChunkMetadata{metas}}, nil
}

func (s *ChromemStore) DeleteBySource(ctx context.Context, collection, source string) error {
	col, err := s.collection(collection)
	if err != nil {
		return err
	}
	if col.Count() == 0 {
		return nil
	}
	if err := col.Delete(ctx, map[string]string{"source": source}, nil); err != nil {
		return fmt.Errorf("failed to delete chunks of %q: %w", source, err)
	}
	return nil
}

// Sources reads every document of the collection. chromem-go has no listing API,
// so this issues one query with n equal to the collection size, which costs one embedding call.
func (s *ChromemStore) Sources(ctx context.Context, collection string) ([]string, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	n := col.Count()
	if n == 0 {
		return nil, nil
	}
	results, err := col.Query(ctx, collection, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection %q: %w", collection, err)
	}
	seen := make(map[string]struct{})
	var sources []string
	for _, r := range results {
		src := r.Metadata["source"]
		if src == "" {
			continue
		}
		if _, dup := seen[src]; dup {
			continue
		}
		seen[src] = struct{}{}
		sources = append(sources, src)
	}
	sort.Strings(sources)
	return sources, nil
}

// Close is a no-op: the persistent DB flushes on every write.
func (s *ChromemStore) Close() error {
	return nil
}

func toChromemMetadata(m ChunkMetadata) map[string]string {
	md := map[string]string{"chunk_index": strconv.Itoa(m.ChunkIndex)}
	if m.Source != "" {
		md["source"] = m.Source
	}
	if m.Filename != "" {
		md["filename"] = m.Filename
	}
	return md
}

func fromChromemMetadata(md map[string]string) ChunkMetadata {
	idx, _ := strconv.Atoi(md["chunk_index"])
	return ChunkMetadata{
		Source:     md["source"],
		ChunkIndex: idx,
		Filename:   md["filename"],
	}
}
