// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"product-atlas/internal/model"
)

// ConversationRepository 定义了会话与消息的持久化操作。
type ConversationRepository interface {
	Create(ctx context.Context, projectID *string, title string) (*model.Conversation, error)
	// List 按创建时间倒序返回会话；projectID 非 nil 时只返回该项目下的会话。
	List(ctx context.Context, projectID *string) ([]model.Conversation, error)
	FindByID(ctx context.Context, id string) (*model.Conversation, error)
	UpdateTitle(ctx context.Context, id, title string) error
	// Delete 在同一事务中删除会话及其全部消息。
	Delete(ctx context.Context, id string) error
	// AppendMessage 以会话内下一个 order_index 追加一条消息。
	AppendMessage(ctx context.Context, conversationID, role, content string) (*model.Message, error)
	// LoadMessages 按 order_index 升序返回会话的全部消息。
	LoadMessages(ctx context.Context, conversationID string) ([]model.Message, error)
}

type conversationRepository struct {
	db *gorm.DB
	// locks 为每个会话保存一把进程内互斥锁，串行化同一会话的追加。
	locks sync.Map
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) Create(ctx context.Context, projectID *string, title string) (*model.Conversation, error) {
	c := &model.Conversation{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

func (r *conversationRepository) List(ctx context.Context, projectID *string) ([]model.Conversation, error) {
	var convs []model.Conversation
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if projectID != nil && *projectID != "" {
		q = q.Where("project_id = ?", *projectID)
	}
	err := q.Find(&convs).Error
	return convs, err
}

func (r *conversationRepository) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	return findConversation(r.db.WithContext(ctx), id)
}

func findConversation(tx *gorm.DB, id string) (*model.Conversation, error) {
	var c model.Conversation
	if err := tx.Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *conversationRepository) UpdateTitle(ctx context.Context, id, title string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findConversation(tx, id); err != nil {
			return err
		}
		return tx.Model(&model.Conversation{}).Where("id = ?", id).Update("title", title).Error
	})
}

func (r *conversationRepository) Delete(ctx context.Context, id string) error {
	mu := r.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findConversation(tx, id); err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&model.Message{}).Error; err != nil {
			return fmt.Errorf("删除会话消息失败: %w", err)
		}
		return tx.Where("id = ?", id).Delete(&model.Conversation{}).Error
	})
	if err == nil {
		r.locks.Delete(id)
	}
	return err
}

func (r *conversationRepository) AppendMessage(ctx context.Context, conversationID, role, content string) (*model.Message, error) {
	if !model.ValidRole(role) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	mu := r.lockFor(conversationID)
	mu.Lock()
	defer mu.Unlock()

	var msg model.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// MySQL 下锁住会话行，跨进程的追加者也会在此串行
		q := tx
		if tx.Dialector.Name() == "mysql" {
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		conv, err := findConversation(q, conversationID)
		if err != nil {
			return err
		}

		var maxIdx int
		row := tx.Model(&model.Message{}).
			Where("conversation_id = ?", conversationID).
			Select("COALESCE(MAX(order_index), 0)").
			Row()
		if err := row.Scan(&maxIdx); err != nil {
			return fmt.Errorf("查询消息序号失败: %w", err)
		}

		msg = model.Message{
			ConversationID: conversationID,
			Role:           role,
			Content:        content,
			OrderIndex:     maxIdx + 1,
			CreatedAt:      time.Now().UTC(),
		}
		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("写入消息失败: %w", err)
		}

		if role == model.RoleUser && conv.Title == "" {
			if err := tx.Model(&model.Conversation{}).Where("id = ?", conversationID).
				Update("title", model.DeriveTitle(content)).Error; err != nil {
				return fmt.Errorf("更新会话标题失败: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *conversationRepository) LoadMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("order_index ASC").
		Find(&msgs).Error
	return msgs, err
}

func (r *conversationRepository) lockFor(id string) *sync.Mutex {
	mu, _ := r.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
