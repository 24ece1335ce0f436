package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"product-atlas/pkg/llm"
	"product-atlas/pkg/log"
)

// NoContextAnswer 是无检索结果时的固定回答，不会调用 LLM。
const NoContextAnswer = "I couldn't find any relevant context in your documents for that question."

const answerSystemPrompt = `
You are a senior Product Management copilot.
You answer using ONLY the provided context plus general PM knowledge when needed.
If the context does not contain the answer, say so explicitly.
Be concise but structured, and prefer bullet points when helpful.
`

const conversationSystemPrompt = `
You are a senior Product Management copilot.
You are in a multi-turn conversation with a PM.
Use BOTH the conversation history and the retrieved document context.
If the docs do not contain something, say so clearly.
Be concise but structured.
`

const noTurnContext = "No relevant document context was found for this turn."

// ChatService 定义了问答与多轮对话的接口。
type ChatService interface {
	// Answer 单轮问答：无上下文时直接返回 NoContextAnswer。
	Answer(ctx context.Context, question string, k int) (string, error)
	// Converse 多轮对话：history 为此前的消息，按时间先后排列，不含当前消息。
	Converse(ctx context.Context, message string, history []llm.Message, k int) (string, error)
	// ConverseStream 与 Converse 相同，但把回答分片依次交给 onDelta。
	ConverseStream(ctx context.Context, message string, history []llm.Message, k int, onDelta llm.DeltaFunc) (string, error)
}

type chatService struct {
	retrieval RetrievalService
	llmClient llm.Client
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(retrieval RetrievalService, llmClient llm.Client) ChatService {
	return &chatService{retrieval: retrieval, llmClient: llmClient}
}

func (s *chatService) Answer(ctx context.Context, question string, k int) (string, error) {
	contextText, err := s.retrieval.Retrieve(ctx, question, k)
	if errors.Is(err, ErrNoContext) {
		return NoContextAnswer, nil
	}
	if err != nil {
		return "", err
	}

	prompt := fmt.Sprintf("Context:\n%s\n\nUser question: %s\n\nAnswer:", contextText, question)
	messages := []llm.Message{
		{Role: "system", Content: answerSystemPrompt},
		{Role: "user", Content: prompt},
	}
	answer, err := s.llmClient.Chat(ctx, messages, nil)
	if err != nil {
		return "", fmt.Errorf("llm completion failed: %w", err)
	}
	return answer, nil
}

func (s *chatService) Converse(ctx context.Context, message string, history []llm.Message, k int) (string, error) {
	messages, err := s.composeMessages(ctx, message, history, k)
	if err != nil {
		return "", err
	}
	answer, err := s.llmClient.Chat(ctx, messages, nil)
	if err != nil {
		return "", fmt.Errorf("llm completion failed: %w", err)
	}
	return answer, nil
}

func (s *chatService) ConverseStream(ctx context.Context, message string, history []llm.Message, k int, onDelta llm.DeltaFunc) (string, error) {
	messages, err := s.composeMessages(ctx, message, history, k)
	if err != nil {
		return "", err
	}
	answer, err := s.llmClient.StreamChat(ctx, messages, nil, onDelta)
	if err != nil {
		return answer, fmt.Errorf("llm completion failed: %w", err)
	}
	return answer, nil
}

// composeMessages 组装 [system] + history + [携带本轮上下文的 assistant 消息] + [user]。
func (s *chatService) composeMessages(ctx context.Context, message string, history []llm.Message, k int) ([]llm.Message, error) {
	contextText, err := s.retrieval.Retrieve(ctx, message, k)
	if err != nil && !errors.Is(err, ErrNoContext) {
		return nil, err
	}

	contextBlock := noTurnContext
	if err == nil && strings.TrimSpace(contextText) != "" {
		contextBlock = "Here is relevant context from the user's documents for this turn:\n\n" +
			contextText + "\n\nUse it to answer the user's next message."
	} else {
		log.Debugf("[ChatService] 本轮无检索上下文")
	}

	messages := make([]llm.Message, 0, len(history)+3)
	messages = append(messages, llm.Message{Role: "system", Content: conversationSystemPrompt})
	messages = append(messages, history...)
	messages = append(messages,
		llm.Message{Role: "assistant", Content: contextBlock},
		llm.Message{Role: "user", Content: message},
	)
	return messages, nil
}
