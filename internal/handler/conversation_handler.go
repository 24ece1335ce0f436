package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"product-atlas/internal/service"
)

// ConversationHandler 处理项目、会话与消息相关的 API 请求。
type ConversationHandler struct {
	service service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

type projectRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

func (h *ConversationHandler) CreateProject(c *gin.Context) {
	var req projectRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		fail(c, http.StatusBadRequest, "name is required")
		return
	}
	p, err := h.service.CreateProject(c.Request.Context(), strings.TrimSpace(req.Name), req.Description)
	if err != nil {
		failErr(c, "ConversationHandler", err)
		return
	}
	ok(c, http.StatusCreated, "success", p)
}

func (h *ConversationHandler) ListProjects(c *gin.Context) {
	list, err := h.service.ListProjects(c.Request.Context())
	if err != nil {
		failErr(c, "ConversationHandler", err)
		return
	}
	ok(c, http.StatusOK, "success", list)
}

func (h *ConversationHandler) GetProject(c *gin.Context) {
	p, err := h.service.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, "ConversationHandler", err)
		return
	}
	ok(c, http.StatusOK, "success", p)
}

func (h *ConversationHandler) UpdateProject(c *gin.Context) {
	var req projectRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		fail(c, http.StatusBadRequest, "name is required")
		return
	}
	p, err := h.service.UpdateProject(c.Request.Context(), c.Param("id"), strings.TrimSpace(req.Name), req.Description)
	if err != nil {
		failErr(c, "ConversationHandler", err)
		return
	}
	ok(c, http.StatusOK, "success", p)
}

// DeleteProject 删除项目；其下会话保留，project_id 不会被级联清空。
func (h *ConversationHandler) DeleteProject(c *gin.Context) {
	if err := h.service.DeleteProject(c.Request.Context(), c.Param("id")); err != nil {
		failErr(c, "ConversationHandler", err)
		return
	}
	ok(c, http.StatusOK, "success", nil)
}

type conversationRequest struct {
	ProjectID *string `json:"projectId"`
	Title     string  `json:"title"`
}

func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var req conversationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	conv, err := h.service.CreateConversation(c.Request.Context(), req.ProjectID, strings.TrimSpace(req.Title))
	if err != nil {
		failErr(c, "ConversationHandler", err)
		return
	}
	ok(c, http.StatusCreated, "success", conv)
}

// ListConversations 按创建时间倒序列出会话，可用 ?project_id= 过滤。
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	var projectID *string
	if v, exists := c.GetQuery("project_id"); exists && v != "" {
		projectID = &v
	}
	list, err := h.service.ListConversations(c.Request.Context(), projectID)
	if err != nil {
		failErr(c, "ConversationHandler", err)
		return
	}
	ok(c, http.StatusOK, "success", list)
}

func (h *ConversationHandler) GetConversation(c *gin.Context) {
	conv, err := h.service.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, "ConversationHandler", err)
		return
	}
	ok(c, http.StatusOK, "success", conv)
}

type renameRequest struct {
	Title string `json:"title" binding:"required"`
}

func (h *ConversationHandler) RenameConversation(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		fail(c, http.StatusBadRequest, "title is required")
		return
	}
	conv, err := h.service.RenameConversation(c.Request.Context(), c.Param("id"), strings.TrimSpace(req.Title))
	if err != nil {
		failErr(c, "ConversationHandler", err)
		return
	}
	ok(c, http.StatusOK, "success", conv)
}

func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	if err := h.service.DeleteConversation(c.Request.Context(), c.Param("id")); err != nil {
		failErr(c, "ConversationHandler", err)
		return
	}
	ok(c, http.StatusOK, "success", nil)
}

func (h *ConversationHandler) ListMessages(c *gin.Context) {
	msgs, err := h.service.LoadMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, "ConversationHandler", err)
		return
	}
	ok(c, http.StatusOK, "success", msgs)
}

type messageRequest struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// AppendMessage 直接追加一条消息，不触发检索或生成。
func (h *ConversationHandler) AppendMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "role and content are required")
		return
	}
	msg, err := h.service.AppendMessage(c.Request.Context(), c.Param("id"), req.Role, req.Content)
	if err != nil {
		failErr(c, "ConversationHandler", err)
		return
	}
	ok(c, http.StatusCreated, "success", msg)
}

type chatRequest struct {
	Message string `json:"message" binding:"required"`
	K       int    `json:"k"`
}

// Chat 执行一次完整的会话轮次并返回写入的两条消息。
func (h *ConversationHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		fail(c, http.StatusBadRequest, "message is required")
		return
	}
	turn, err := h.service.Chat(c.Request.Context(), c.Param("id"), req.Message, req.K)
	if err != nil {
		failErr(c, "ConversationHandler", err)
		return
	}
	ok(c, http.StatusOK, "success", turn)
}
