package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"product-atlas/internal/vectorstore"
	"product-atlas/pkg/llm"
)

func newChat(store *fakeStore, client *fakeLLM) ChatService {
	return NewChatService(NewRetrievalService(store, "pm_docs", 5, 8000, nil), client)
}

func TestAnswer_NoContextSkipsLLM(t *testing.T) {
	client := &fakeLLM{answer: "should not be used"}
	svc := newChat(&fakeStore{}, client)

	got, err := svc.Answer(context.Background(), "What is our churn?", 0)
	require.NoError(t, err)
	assert.Equal(t, NoContextAnswer, got)
	assert.Empty(t, client.calls)
}

func TestAnswer_PromptShape(t *testing.T) {
	store := &fakeStore{result: resultOf([]string{"Churn is 3%"}, []vectorstore.ChunkMetadata{{Source: "kpi.md", ChunkIndex: 1}})}
	client := &fakeLLM{answer: "- Churn: 3%"}
	svc := newChat(store, client)

	got, err := svc.Answer(context.Background(), "What is our churn?", 2)
	require.NoError(t, err)
	assert.Equal(t, "- Churn: 3%", got)

	require.Len(t, client.calls, 1)
	msgs := client.calls[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "senior Product Management copilot")
	assert.Equal(t, "user", msgs[1].Role)
	assert.Equal(t,
		"Context:\nSource: kpi.md (chunk 1)\nChurn is 3%\n\nUser question: What is our churn?\n\nAnswer:",
		msgs[1].Content)
}

func TestAnswer_LLMErrorPropagates(t *testing.T) {
	store := &fakeStore{result: resultOf([]string{"x"}, []vectorstore.ChunkMetadata{{}})}
	svc := newChat(store, &fakeLLM{err: errBoom})

	_, err := svc.Answer(context.Background(), "q", 1)
	assert.ErrorIs(t, err, errBoom)
}

func TestConverse_MessageOrder(t *testing.T) {
	store := &fakeStore{result: resultOf([]string{"Launch is in May"}, []vectorstore.ChunkMetadata{{Source: "plan.md"}})}
	client := &fakeLLM{answer: "May."}
	svc := newChat(store, client)

	history := []llm.Message{
		{Role: "user", Content: "Hi"},
		{Role: "assistant", Content: "Hello"},
	}
	got, err := svc.Converse(context.Background(), "When do we launch?", history, 0)
	require.NoError(t, err)
	assert.Equal(t, "May.", got)
	assert.Equal(t, "When do we launch?", store.lastText, "retrieval uses the current message only")

	msgs := client.calls[0]
	require.Len(t, msgs, 5)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "multi-turn conversation")
	assert.Equal(t, history, msgs[1:3])
	assert.Equal(t, "assistant", msgs[3].Role)
	assert.True(t, strings.HasPrefix(msgs[3].Content, "Here is relevant context from the user's documents for this turn:\n\n"))
	assert.Contains(t, msgs[3].Content, "Source: plan.md (chunk 0)\nLaunch is in May")
	assert.True(t, strings.HasSuffix(msgs[3].Content, "Use it to answer the user's next message."))
	assert.Equal(t, llm.Message{Role: "user", Content: "When do we launch?"}, msgs[4])
}

func TestConverse_NoContextKeepsSlot(t *testing.T) {
	client := &fakeLLM{answer: "I don't know."}
	svc := newChat(&fakeStore{}, client)

	_, err := svc.Converse(context.Background(), "Anything?", nil, 0)
	require.NoError(t, err)

	msgs := client.calls[0]
	require.Len(t, msgs, 3)
	assert.Equal(t, llm.Message{Role: "assistant", Content: "No relevant document context was found for this turn."}, msgs[1])
}

func TestConverse_StoreErrorPropagates(t *testing.T) {
	client := &fakeLLM{}
	svc := newChat(&fakeStore{err: errBoom}, client)

	_, err := svc.Converse(context.Background(), "q", nil, 0)
	assert.ErrorIs(t, err, errBoom)
	assert.Empty(t, client.calls)
}

func TestConverseStream_Deltas(t *testing.T) {
	client := &fakeLLM{answer: "ok!"}
	svc := newChat(&fakeStore{}, client)

	var deltas []string
	got, err := svc.ConverseStream(context.Background(), "q", nil, 0, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok!", got)
	assert.Equal(t, []string{"o", "k", "!"}, deltas)
}
