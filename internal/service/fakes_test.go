package service

import (
	"context"
	"errors"
	"sync"

	"product-atlas/internal/vectorstore"
	"product-atlas/pkg/llm"
)

type fakeStore struct {
	result   *vectorstore.QueryResult
	err      error
	lastK    int
	lastText string
}

func (f *fakeStore) AddDocuments(context.Context, string, []string, []string, []vectorstore.ChunkMetadata) error {
	return nil
}

func (f *fakeStore) Query(_ context.Context, _ string, text string, k int) (*vectorstore.QueryResult, error) {
	f.lastK, f.lastText = k, text
	if f.err != nil {
		return nil, f.err
	}
	if f.result == nil {
		return &vectorstore.QueryResult{Documents: [][]string{{}}, Metadatas: [][]vectorstore.ChunkMetadata{{}}}, nil
	}
	return f.result, nil
}

func (f *fakeStore) DeleteBySource(context.Context, string, string) error { return nil }
func (f *fakeStore) Sources(context.Context, string) ([]string, error)    { return nil, nil }
func (f *fakeStore) Close() error                                          { return nil }

func resultOf(docs []string, metas []vectorstore.ChunkMetadata) *vectorstore.QueryResult {
	return &vectorstore.QueryResult{Documents: [][]string{docs}, Metadatas: [][]vectorstore.ChunkMetadata{metas}}
}

type fakeLLM struct {
	mu     sync.Mutex
	answer string
	err    error
	calls  [][]llm.Message
}

func (f *fakeLLM) Chat(_ context.Context, messages []llm.Message, _ *llm.GenerationParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, messages)
	return f.answer, f.err
}

func (f *fakeLLM) StreamChat(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, onDelta llm.DeltaFunc) (string, error) {
	answer, err := f.Chat(ctx, messages, gen)
	if err != nil {
		return "", err
	}
	for _, r := range answer {
		if err := onDelta(string(r)); err != nil {
			return "", err
		}
	}
	return answer, nil
}

var errBoom = errors.New("boom")
