// Package model 包含了应用的数据模型定义。
package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// titleMaxRunes 为会话标题的最大字符数，超出部分以 "..." 截断。
const titleMaxRunes = 120

// Project 是一组会话的容器。删除项目不会级联删除其会话。
type Project struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name        string    `gorm:"type:varchar(255);not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
}

func (Project) TableName() string {
	return "projects"
}

// Conversation 代表一段多轮对话。ProjectID 为空表示不属于任何项目。
type Conversation struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	ProjectID *string   `gorm:"type:varchar(36);index" json:"projectId"`
	Title     string    `gorm:"type:varchar(255);not null;default:''" json:"title"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// Message 是会话中的一条消息，OrderIndex 在会话内从 1 开始严格递增。
type Message struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_conversation_order,priority:1" json:"conversationId"`
	Role           string    `gorm:"type:varchar(16);not null" json:"role"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	OrderIndex     int       `gorm:"not null;uniqueIndex:idx_conversation_order,priority:2" json:"orderIndex"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Message) TableName() string {
	return "messages"
}

// ValidRole reports whether role may be stored in the conversation log.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}

// DeriveTitle 由第一条用户消息生成会话标题：换行替换为空格，超过 120 个字符时截断并追加 "..."。
func DeriveTitle(content string) string {
	flat := strings.NewReplacer("\r\n", " ", "\n", " ").Replace(strings.TrimSpace(content))
	if utf8.RuneCountInString(flat) <= titleMaxRunes {
		return flat
	}
	return string([]rune(flat)[:titleMaxRunes]) + "..."
}
