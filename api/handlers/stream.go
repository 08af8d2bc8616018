package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/casegate/dispatcher"
	"github.com/BaSui01/casegate/types"
)

// =============================================================================
// 🔌 WebSocket 会话流：一条连接对应一个会话
// =============================================================================

// StreamFrame 服务端下发的帧
type StreamFrame struct {
	Type       string             `json:"type"` // session | result | error
	ToolCallID string             `json:"tool_call_id,omitempty"`
	Result     *dispatcher.Result `json:"result,omitempty"`
	Session    *SessionView       `json:"session,omitempty"`
	Error      *ErrorInfo         `json:"error,omitempty"`
}

// StreamHandler 处理 /api/v1/sessions/stream
type StreamHandler struct {
	manager        *dispatcher.Manager
	tools          *dispatcher.Tools
	originPatterns []string
	logger         *zap.Logger
}

// NewStreamHandler 创建流处理器；originPatterns 为空时仅允许同源
func NewStreamHandler(manager *dispatcher.Manager, tools *dispatcher.Tools, originPatterns []string, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{
		manager:        manager,
		tools:          tools,
		originPatterns: originPatterns,
		logger:         logger.With(zap.String("component", "session_stream")),
	}
}

// Register 挂载路由
func (h *StreamHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/sessions/stream", h.HandleStream)
}

// HandleStream 升级连接并在其生命周期内驱动一个会话
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Open()
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	defer func() { _ = h.manager.Close(s.ID()) }()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		// Accept 已写出错误响应
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxBodyBytes)

	logger := h.logger.With(zap.String("session_id", s.ID()))
	logger.Info("stream session opened")

	err = h.serve(r.Context(), conn, s)
	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		logger.Info("stream session closed by client")
	case errors.Is(err, context.Canceled):
		logger.Info("stream session cancelled")
	case err != nil:
		logger.Warn("stream session ended", zap.Error(err))
		_ = conn.Close(websocket.StatusInternalError, "stream error")
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (h *StreamHandler) serve(ctx context.Context, conn *websocket.Conn, s *dispatcher.Session) error {
	view := viewOf(s)
	if err := wsjson.Write(ctx, conn, StreamFrame{Type: "session", Session: &view}); err != nil {
		return err
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var call types.ToolCall
		if typ != websocket.MessageText || json.Unmarshal(data, &call) != nil || call.Name == "" {
			// 无法解析的帧：回报错误并继续读取
			if err := wsjson.Write(ctx, conn, StreamFrame{
				Type:  "error",
				Error: &ErrorInfo{Code: string(types.ErrInvalidRequest), Message: "invalid tool call frame"},
			}); err != nil {
				return err
			}
			continue
		}

		res, tr := h.tools.Invoke(ctx, s, call)
		frame := StreamFrame{Type: "result", ToolCallID: call.ID}
		if tr.IsError() {
			frame.Type = "error"
			frame.Error = &ErrorInfo{Code: string(tr.Error.Code), Message: tr.Error.Message}
		} else {
			view := viewOf(s)
			frame.Result = &res
			frame.Session = &view
		}
		if err := wsjson.Write(ctx, conn, frame); err != nil {
			return err
		}
	}
}
