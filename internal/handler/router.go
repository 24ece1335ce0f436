package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"product-atlas/internal/middleware"
	"product-atlas/internal/service"
)

// Services 汇总路由所需的业务服务。
type Services struct {
	Ingest        service.IngestService
	Chat          service.ChatService
	Conversations service.ConversationService
}

// NewRouter 创建 Gin 引擎并注册所有 /api/v1 路由。
func NewRouter(mode string, svcs Services) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		ok(c, http.StatusOK, "success", nil)
	})

	ingest := NewIngestHandler(svcs.Ingest, svcs.Chat)
	conv := NewConversationHandler(svcs.Conversations)
	chat := NewChatHandler(svcs.Conversations, svcs.Chat)

	apiV1 := r.Group("/api/v1")
	{
		apiV1.POST("/ingest", ingest.Ingest)
		apiV1.POST("/ask", ingest.Ask)
		apiV1.GET("/chat/ws", chat.Handle)

		projects := apiV1.Group("/projects")
		{
			projects.POST("", conv.CreateProject)
			projects.GET("", conv.ListProjects)
			projects.GET("/:id", conv.GetProject)
			projects.PUT("/:id", conv.UpdateProject)
			projects.DELETE("/:id", conv.DeleteProject)
		}

		conversations := apiV1.Group("/conversations")
		{
			conversations.POST("", conv.CreateConversation)
			conversations.GET("", conv.ListConversations)
			conversations.GET("/:id", conv.GetConversation)
			conversations.PUT("/:id", conv.RenameConversation)
			conversations.DELETE("/:id", conv.DeleteConversation)
			conversations.GET("/:id/messages", conv.ListMessages)
			conversations.POST("/:id/messages", conv.AppendMessage)
			conversations.POST("/:id/chat", conv.Chat)
		}
	}
	return r
}
