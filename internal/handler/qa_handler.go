package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/nhdandz/SmartDoc/internal/middleware"
	"github.com/nhdandz/SmartDoc/internal/service"
	"github.com/nhdandz/SmartDoc/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// QAHandler 负责问答与会话管理。
type QAHandler struct {
	qaService service.QAService
}

// NewQAHandler 创建一个新的 QAHandler 实例。
func NewQAHandler(qaService service.QAService) *QAHandler {
	return &QAHandler{qaService: qaService}
}

// Ask 处理 POST /qa/ask。
func (h *QAHandler) Ask(c *gin.Context) {
	var req service.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求体")
		return
	}
	req.OwnerID = middleware.Principal(c)

	result, err := h.qaService.Ask(c.Request.Context(), req)
	if err != nil {
		fail(c, "问答", err)
		return
	}
	success(c, "success", result)
}

type createSessionRequest struct {
	Title string `json:"title"`
}

// CreateSession 处理 POST /qa/sessions。请求体可以为空。
func (h *QAHandler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "无效的请求体")
			return
		}
	}
	conv, err := h.qaService.CreateSession(c.Request.Context(), middleware.Principal(c), req.Title)
	if err != nil {
		fail(c, "创建会话", err)
		return
	}
	success(c, "会话已创建", conv)
}

// ListSessions 处理 GET /qa/sessions。
func (h *QAHandler) ListSessions(c *gin.Context) {
	convs, err := h.qaService.ListSessions(c.Request.Context(), middleware.Principal(c))
	if err != nil {
		fail(c, "查询会话列表", err)
		return
	}
	success(c, "获取会话列表成功", convs)
}

// GetSession 处理 GET /qa/sessions/:id。
func (h *QAHandler) GetSession(c *gin.Context) {
	conv, err := h.qaService.GetSession(c.Request.Context(), c.Param("id"), middleware.Principal(c))
	if err != nil {
		fail(c, "查询会话", err)
		return
	}
	success(c, "获取会话成功", conv)
}

type rateTurnRequest struct {
	Rating int `json:"rating"`
}

// RateTurn 处理 PUT /qa/sessions/:id/turns/:turnId/rating。
func (h *QAHandler) RateTurn(c *gin.Context) {
	var req rateTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求体")
		return
	}
	err := h.qaService.RateTurn(c.Request.Context(), c.Param("id"), middleware.Principal(c), c.Param("turnId"), req.Rating)
	if err != nil {
		fail(c, "评分", err)
		return
	}
	success(c, "评分已保存", nil)
}

// Stream 处理 GET /qa/ws?token=。每条文本消息是一个 AskRequest JSON，
// 回答以 chunk 帧流式返回，最后发送携带引用的 completion 帧。
func (h *QAHandler) Stream(c *gin.Context) {
	principal := middleware.Principal(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("[QAHandler] WebSocket 升级失败: %v", err)
		return
	}
	defer conn.Close()

	log.Infof("[QAHandler] WebSocket 连接已建立, principal: %s", principal)
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("[QAHandler] 读取 WebSocket 消息失败: %v", err)
			}
			return
		}

		var req service.AskRequest
		if err := json.Unmarshal(message, &req); err != nil {
			writeFrame(conn, errorFrame("无效的消息格式"))
			continue
		}
		req.OwnerID = principal

		result, err := h.qaService.AskStream(c.Request.Context(), req, chunkWriter{conn: conn})
		if err != nil {
			log.Errorf("[QAHandler] 流式问答失败: %v", err)
			writeFrame(conn, errorFrame(wsErrorMessage(err)))
			writeFrame(conn, completionFrame("error", nil))
			continue
		}
		writeFrame(conn, completionFrame("finished", result))
	}
}

// chunkWriter 把模型输出的每个分块包装成 {"type":"chunk"} 帧。
type chunkWriter struct {
	conn *websocket.Conn
}

func (w chunkWriter) WriteMessage(messageType int, data []byte) error {
	b, err := json.Marshal(gin.H{"type": "chunk", "content": string(data)})
	if err != nil {
		return err
	}
	return w.conn.WriteMessage(messageType, b)
}

func errorFrame(message string) gin.H {
	return gin.H{"type": "error", "message": message}
}

func completionFrame(status string, result *service.AskResult) gin.H {
	now := time.Now()
	frame := gin.H{
		"type":      "completion",
		"status":    status,
		"timestamp": now.UnixMilli(),
		"date":      now.Format("2006-01-02T15:04:05"),
	}
	if result != nil {
		frame["sessionId"] = result.SessionID
		frame["turnId"] = result.Turn.ID
		frame["mode"] = result.Mode
		frame["synthesized"] = result.Synthesized
		frame["citations"] = result.Turn.Citations
	}
	return frame
}

func wsErrorMessage(err error) string {
	if statusOf(err) == http.StatusInternalServerError {
		return "服务暂时不可用，请稍后重试"
	}
	return err.Error()
}

func writeFrame(conn *websocket.Conn, frame gin.H) {
	b, _ := json.Marshal(frame)
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		log.Warnf("[QAHandler] 写入 WebSocket 帧失败: %v", err)
	}
}
