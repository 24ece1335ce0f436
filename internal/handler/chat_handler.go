package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"product-atlas/internal/service"
	"product-atlas/pkg/log"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// wsRequest 是客户端发来的一帧。type 为 "stop" 时中断当前回答。
type wsRequest struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
	K              int    `json:"k"`
}

// ChatHandler 负责处理 WebSocket 聊天连接，把回答按增量推送给客户端。
type ChatHandler struct {
	conversations service.ConversationService
	chat          service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(conversations service.ConversationService, chat service.ChatService) *ChatHandler {
	return &ChatHandler{conversations: conversations, chat: chat}
}

// wsSession 串行化同一连接上的写操作，并持有当前轮次的取消函数。
type wsSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (s *wsSession) send(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

// begin 登记一个新轮次；已有轮次在进行时返回 false。
func (s *wsSession) begin(cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return false
	}
	s.cancel = cancel
	return true
}

func (s *wsSession) end() {
	s.mu.Lock()
	s.cancel = nil
	s.mu.Unlock()
}

func (s *wsSession) stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// Handle 处理一个传入的 WebSocket 连接。
func (h *ChatHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	connCtx, cancelConn := context.WithCancel(c.Request.Context())
	defer cancelConn()
	sess := &wsSession{conn: conn}
	log.Infof("[ChatHandler] WebSocket 连接已建立: %s", c.ClientIP())

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("[ChatHandler] 从 WebSocket 读取消息失败: %v", err)
			}
			sess.stop()
			return
		}

		var req wsRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			_ = sess.send(gin.H{"type": "error", "error": "invalid frame"})
			continue
		}

		if req.Type == "stop" {
			if sess.stop() {
				_ = sess.send(gin.H{"type": "stop", "message": "响应已停止", "timestamp": time.Now().UnixMilli()})
			}
			continue
		}
		if strings.TrimSpace(req.Message) == "" {
			_ = sess.send(gin.H{"type": "error", "error": "message is required"})
			continue
		}

		turnCtx, cancelTurn := context.WithCancel(connCtx)
		if !sess.begin(cancelTurn) {
			cancelTurn()
			_ = sess.send(gin.H{"type": "error", "error": "a response is already in progress"})
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sess.end()
			defer cancelTurn()
			h.respond(turnCtx, sess, req)
		}()
	}
}

func (h *ChatHandler) respond(ctx context.Context, sess *wsSession, req wsRequest) {
	onDelta := func(delta string) error {
		return sess.send(gin.H{"type": "delta", "chunk": delta})
	}

	var (
		data interface{}
		err  error
	)
	if req.ConversationID != "" {
		data, err = h.conversations.ChatStream(ctx, req.ConversationID, req.Message, req.K, onDelta)
	} else {
		// 无会话 ID 时为临时对话，不落库
		var answer string
		answer, err = h.chat.ConverseStream(ctx, req.Message, nil, req.K, onDelta)
		data = gin.H{"answer": answer}
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Infof("[ChatHandler] 回答已被中断, conversation=%s", req.ConversationID)
			return
		}
		log.Errorf("[ChatHandler] 处理流式响应失败: %v", err)
		msg := "AI服务暂时不可用，请稍后重试"
		if statusFor(err) < http.StatusInternalServerError {
			msg = err.Error()
		}
		_ = sess.send(gin.H{"type": "error", "error": msg})
		return
	}

	_ = sess.send(gin.H{
		"type":      "completion",
		"status":    "finished",
		"data":      data,
		"timestamp": time.Now().UnixMilli(),
	})
}
