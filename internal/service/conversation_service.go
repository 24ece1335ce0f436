package service

import (
	"context"
	"fmt"

	"product-atlas/internal/model"
	"product-atlas/internal/repository"
	"product-atlas/pkg/llm"
	"product-atlas/pkg/log"
)

// ChatTurn 是一次对话轮次中写入会话库的两条消息。
type ChatTurn struct {
	UserMessage      *model.Message `json:"userMessage"`
	AssistantMessage *model.Message `json:"assistantMessage"`
}

// ConversationService 定义了项目、会话与消息的业务逻辑接口。
type ConversationService interface {
	CreateProject(ctx context.Context, name, description string) (*model.Project, error)
	ListProjects(ctx context.Context) ([]model.Project, error)
	GetProject(ctx context.Context, id string) (*model.Project, error)
	UpdateProject(ctx context.Context, id, name, description string) (*model.Project, error)
	DeleteProject(ctx context.Context, id string) error

	CreateConversation(ctx context.Context, projectID *string, title string) (*model.Conversation, error)
	ListConversations(ctx context.Context, projectID *string) ([]model.Conversation, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	RenameConversation(ctx context.Context, id, title string) (*model.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error

	AppendMessage(ctx context.Context, conversationID, role, content string) (*model.Message, error)
	LoadMessages(ctx context.Context, conversationID string) ([]model.Message, error)

	// Chat 执行一轮对话：保存用户消息，基于此前历史生成回答并保存。
	Chat(ctx context.Context, conversationID, message string, k int) (*ChatTurn, error)
	// ChatStream 与 Chat 相同，但回答以分片形式交给 onDelta。
	ChatStream(ctx context.Context, conversationID, message string, k int, onDelta llm.DeltaFunc) (*ChatTurn, error)
}

type conversationService struct {
	projects      repository.ProjectRepository
	conversations repository.ConversationRepository
	chat          ChatService
}

// NewConversationService 创建一个新的 ConversationService。
func NewConversationService(projects repository.ProjectRepository, conversations repository.ConversationRepository, chat ChatService) ConversationService {
	return &conversationService{projects: projects, conversations: conversations, chat: chat}
}

func (s *conversationService) CreateProject(ctx context.Context, name, description string) (*model.Project, error) {
	return s.projects.Create(ctx, name, description)
}

func (s *conversationService) ListProjects(ctx context.Context) ([]model.Project, error) {
	return s.projects.List(ctx)
}

func (s *conversationService) GetProject(ctx context.Context, id string) (*model.Project, error) {
	return s.projects.FindByID(ctx, id)
}

func (s *conversationService) UpdateProject(ctx context.Context, id, name, description string) (*model.Project, error) {
	return s.projects.Update(ctx, id, name, description)
}

func (s *conversationService) DeleteProject(ctx context.Context, id string) error {
	return s.projects.Delete(ctx, id)
}

// CreateConversation 创建会话；指定项目时要求项目存在。
func (s *conversationService) CreateConversation(ctx context.Context, projectID *string, title string) (*model.Conversation, error) {
	if projectID != nil && *projectID == "" {
		projectID = nil
	}
	if projectID != nil {
		if _, err := s.projects.FindByID(ctx, *projectID); err != nil {
			return nil, err
		}
	}
	return s.conversations.Create(ctx, projectID, title)
}

func (s *conversationService) ListConversations(ctx context.Context, projectID *string) ([]model.Conversation, error) {
	return s.conversations.List(ctx, projectID)
}

func (s *conversationService) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	return s.conversations.FindByID(ctx, id)
}

func (s *conversationService) RenameConversation(ctx context.Context, id, title string) (*model.Conversation, error) {
	if err := s.conversations.UpdateTitle(ctx, id, title); err != nil {
		return nil, err
	}
	return s.conversations.FindByID(ctx, id)
}

func (s *conversationService) DeleteConversation(ctx context.Context, id string) error {
	return s.conversations.Delete(ctx, id)
}

func (s *conversationService) AppendMessage(ctx context.Context, conversationID, role, content string) (*model.Message, error) {
	return s.conversations.AppendMessage(ctx, conversationID, role, content)
}

// LoadMessages 按顺序返回会话消息；会话不存在时返回 repository.ErrNotFound。
func (s *conversationService) LoadMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	if _, err := s.conversations.FindByID(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.conversations.LoadMessages(ctx, conversationID)
}

func (s *conversationService) Chat(ctx context.Context, conversationID, message string, k int) (*ChatTurn, error) {
	return s.turn(ctx, conversationID, message, func(history []llm.Message) (string, error) {
		return s.chat.Converse(ctx, message, history, k)
	})
}

func (s *conversationService) ChatStream(ctx context.Context, conversationID, message string, k int, onDelta llm.DeltaFunc) (*ChatTurn, error) {
	return s.turn(ctx, conversationID, message, func(history []llm.Message) (string, error) {
		return s.chat.ConverseStream(ctx, message, history, k, onDelta)
	})
}

func (s *conversationService) turn(ctx context.Context, conversationID, message string, answer func([]llm.Message) (string, error)) (*ChatTurn, error) {
	prior, err := s.LoadMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	history := make([]llm.Message, 0, len(prior))
	for _, m := range prior {
		history = append(history, llm.Message{Role: m.Role, Content: m.Content})
	}

	userMsg, err := s.conversations.AppendMessage(ctx, conversationID, model.RoleUser, message)
	if err != nil {
		return nil, fmt.Errorf("保存用户消息失败: %w", err)
	}

	text, err := answer(history)
	if err != nil {
		return nil, err
	}

	// 回答已生成，即使请求被取消也要保存
	assistantMsg, err := s.conversations.AppendMessage(context.WithoutCancel(ctx), conversationID, model.RoleAssistant, text)
	if err != nil {
		log.Errorf("[ConversationService] 保存回答失败, conversation=%s: %v", conversationID, err)
		return nil, fmt.Errorf("保存回答失败: %w", err)
	}
	return &ChatTurn{UserMessage: userMsg, AssistantMessage: assistantMsg}, nil
}
