// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"product-atlas/internal/vectorstore"
	"product-atlas/pkg/log"
)

// ErrNoContext 表示检索没有返回任何文档，调用方应短路而不调用 LLM。
var ErrNoContext = errors.New("no relevant context")

const blockSeparator = "\n\n---\n\n"

// Truncator cuts an assembled context down to at most limit characters.
type Truncator func(context string, limit int) string

// TruncatePrefix keeps the first limit runes.
func TruncatePrefix(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

// TruncateBlocks drops whole trailing blocks until the context fits.
// When even the first block is too long it falls back to TruncatePrefix.
func TruncateBlocks(s string, limit int) string {
	if len([]rune(s)) <= limit {
		return s
	}
	blocks := strings.Split(s, blockSeparator)
	for n := len(blocks) - 1; n > 0; n-- {
		candidate := strings.Join(blocks[:n], blockSeparator)
		if len([]rune(candidate)) <= limit {
			return candidate
		}
	}
	return TruncatePrefix(s, limit)
}

// TruncatorByName resolves the configured truncation strategy.
func TruncatorByName(name string) Truncator {
	if name == "block" {
		return TruncateBlocks
	}
	return TruncatePrefix
}

// RetrievalService 定义了检索上下文的接口。
type RetrievalService interface {
	// Retrieve 返回截断后的上下文字符串；没有任何文档时返回 ErrNoContext。
	Retrieve(ctx context.Context, query string, k int) (string, error)
}

type retrievalService struct {
	store      vectorstore.Store
	collection string
	defaultK   int
	maxChars   int
	truncate   Truncator
}

// NewRetrievalService 创建一个新的 RetrievalService 实例。
func NewRetrievalService(store vectorstore.Store, collection string, defaultK, maxChars int, truncate Truncator) RetrievalService {
	if truncate == nil {
		truncate = TruncatePrefix
	}
	return &retrievalService{
		store:      store,
		collection: collection,
		defaultK:   defaultK,
		maxChars:   maxChars,
		truncate:   truncate,
	}
}

func (s *retrievalService) Retrieve(ctx context.Context, query string, k int) (string, error) {
	if k <= 0 {
		k = s.defaultK
	}
	res, err := s.store.Query(ctx, s.collection, query, k)
	if err != nil {
		return "", fmt.Errorf("failed to query vector store: %w", err)
	}
	if res.Empty() {
		log.Debugf("[RetrievalService] 检索无结果, collection=%s", s.collection)
		return "", ErrNoContext
	}
	return s.truncate(BuildContext(res), s.maxChars), nil
}

// BuildContext 将检索结果拼接为带来源标注的上下文块。
func BuildContext(res *vectorstore.QueryResult) string {
	docs, metas := res.First()
	n := min(len(docs), len(metas))
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		d, m := docs[i], metas[i]
		source := m.Source
		if source == "" {
			source = "unknown"
		}
		parts = append(parts, fmt.Sprintf("Source: %s (chunk %d)\n%s", source, m.ChunkIndex, d))
	}
	return strings.Join(parts, blockSeparator)
}
