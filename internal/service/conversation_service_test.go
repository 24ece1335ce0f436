package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"product-atlas/internal/model"
	"product-atlas/internal/repository"
	"product-atlas/internal/vectorstore"
	"product-atlas/pkg/database"
	"product-atlas/pkg/llm"
)

func newConversationService(t *testing.T, store *fakeStore, client *fakeLLM) ConversationService {
	t.Helper()
	db, err := database.OpenDB("sqlite", filepath.Join(t.TempDir(), "atlas.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })
	return NewConversationService(
		repository.NewProjectRepository(db),
		repository.NewConversationRepository(db),
		newChat(store, client),
	)
}

func TestChat_PersistsTurnAndPassesPriorHistory(t *testing.T) {
	store := &fakeStore{result: resultOf([]string{"ctx"}, []vectorstore.ChunkMetadata{{Source: "a.md"}})}
	client := &fakeLLM{answer: "first answer"}
	svc := newConversationService(t, store, client)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, nil, "")
	require.NoError(t, err)

	turn, err := svc.Chat(ctx, conv.ID, "What is the North Star metric?", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, turn.UserMessage.OrderIndex)
	assert.Equal(t, 2, turn.AssistantMessage.OrderIndex)
	assert.Equal(t, "first answer", turn.AssistantMessage.Content)
	assert.Len(t, client.calls[0], 3, "no prior history on the first turn")

	client.answer = "second answer"
	_, err = svc.Chat(ctx, conv.ID, "And the guardrails?", 0)
	require.NoError(t, err)

	second := client.calls[1]
	require.Len(t, second, 5)
	assert.Equal(t, llm.Message{Role: "user", Content: "What is the North Star metric?"}, second[1])
	assert.Equal(t, llm.Message{Role: "assistant", Content: "first answer"}, second[2])

	msgs, err := svc.LoadMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "second answer", msgs[3].Content)

	got, err := svc.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "What is the North Star metric?", got.Title)
}

func TestChat_LLMFailureKeepsUserMessage(t *testing.T) {
	svc := newConversationService(t, &fakeStore{}, &fakeLLM{err: errBoom})
	ctx := context.Background()
	conv, err := svc.CreateConversation(ctx, nil, "")
	require.NoError(t, err)

	_, err = svc.Chat(ctx, conv.ID, "hello", 0)
	assert.ErrorIs(t, err, errBoom)

	msgs, err := svc.LoadMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
}

func TestChat_UnknownConversation(t *testing.T) {
	svc := newConversationService(t, &fakeStore{}, &fakeLLM{})

	_, err := svc.Chat(context.Background(), "missing", "hello", 0)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCreateConversation_RequiresExistingProject(t *testing.T) {
	svc := newConversationService(t, &fakeStore{}, &fakeLLM{})
	ctx := context.Background()

	missing := "missing"
	_, err := svc.CreateConversation(ctx, &missing, "")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	p, err := svc.CreateProject(ctx, "Payments", "")
	require.NoError(t, err)
	conv, err := svc.CreateConversation(ctx, &p.ID, "Refunds")
	require.NoError(t, err)

	list, err := svc.ListConversations(ctx, &p.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, conv.ID, list[0].ID)

	renamed, err := svc.RenameConversation(ctx, conv.ID, "Refund policy")
	require.NoError(t, err)
	assert.Equal(t, "Refund policy", renamed.Title)
}
