package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"product-atlas/internal/service"
)

// IngestHandler 触发文档摄取与一次性问答。
type IngestHandler struct {
	ingest service.IngestService
	chat   service.ChatService
}

func NewIngestHandler(ingest service.IngestService, chat service.ChatService) *IngestHandler {
	return &IngestHandler{ingest: ingest, chat: chat}
}

type ingestRequest struct {
	RootDir    string `json:"root_dir"`
	Collection string `json:"collection"`
}

// Ingest 同步执行摄取；?async=true 时改为投递 Kafka 任务并返回 202。
func (h *IngestHandler) Ingest(c *gin.Context) {
	var req ingestRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if c.Query("async") == "true" {
		task, err := h.ingest.Enqueue(c.Request.Context(), req.RootDir, req.Collection)
		if err != nil {
			failErr(c, "IngestHandler", err)
			return
		}
		ok(c, http.StatusAccepted, "ingest task queued", task)
		return
	}

	res, err := h.ingest.Ingest(c.Request.Context(), req.RootDir, req.Collection)
	if err != nil {
		failErr(c, "IngestHandler", err)
		return
	}
	ok(c, http.StatusOK, "success", res)
}

type askRequest struct {
	Question string `json:"question" binding:"required"`
	K        int    `json:"k"`
}

// Ask 单轮问答，不写入任何对话。
func (h *IngestHandler) Ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "question is required")
		return
	}
	answer, err := h.chat.Answer(c.Request.Context(), req.Question, req.K)
	if err != nil {
		failErr(c, "AskHandler", err)
		return
	}
	ok(c, http.StatusOK, "success", gin.H{"answer": answer})
}
