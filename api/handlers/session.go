package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/casegate/casestore"
	"github.com/BaSui01/casegate/dispatcher"
	"github.com/BaSui01/casegate/session"
	"github.com/BaSui01/casegate/types"
)

// =============================================================================
// 💬 会话与工具 Handler
// =============================================================================

// SessionHandler 暴露会话生命周期、工具调用与诊断接口
type SessionHandler struct {
	manager *dispatcher.Manager
	tools   *dispatcher.Tools
	repo    casestore.Repository
	logger  *zap.Logger
}

// SessionView 会话的对外视图
type SessionView struct {
	ID         string           `json:"session_id"`
	CreatedAt  time.Time        `json:"created_at"`
	LastActive time.Time        `json:"last_active"`
	State      session.Snapshot `json:"state"`
}

// InvokeResponse 工具调用结果；拒绝与降级也以 200 返回，由 result.status 区分
type InvokeResponse struct {
	Result   dispatcher.Result `json:"result"`
	Session  SessionView       `json:"session"`
	Duration string            `json:"duration"`
}

// NewSessionHandler 创建会话处理器
func NewSessionHandler(manager *dispatcher.Manager, tools *dispatcher.Tools, repo casestore.Repository, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		manager: manager,
		tools:   tools,
		repo:    repo,
		logger:  logger.With(zap.String("component", "session_handler")),
	}
}

// Register 挂载 /api/v1 路由
func (h *SessionHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/sessions", h.HandleOpen)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.HandleGet)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", h.HandleClose)
	mux.HandleFunc("POST /api/v1/sessions/{id}/tools/{name}", h.HandleInvoke)
	mux.HandleFunc("GET /api/v1/tools", h.HandleListTools)
	mux.HandleFunc("GET /api/v1/cases", h.HandleListCases)
	mux.HandleFunc("GET /api/v1/cases/{id}/history", h.HandleHistory)
}

func viewOf(s *dispatcher.Session) SessionView {
	return SessionView{
		ID:         s.ID(),
		CreatedAt:  s.CreatedAt(),
		LastActive: s.LastActive(),
		State:      s.Snapshot(),
	}
}

// HandleOpen 创建会话
func (h *SessionHandler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Open()
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteStatus(w, r, http.StatusCreated, viewOf(s))
}

// HandleGet 返回会话状态
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, viewOf(s))
}

// HandleClose 结束会话
func (h *SessionHandler) HandleClose(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Close(r.PathValue("id")); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleInvoke 以请求体作为参数调用一个工具
func (h *SessionHandler) HandleInvoke(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	// 参数按原样交给工具校验；空请求体等同 {}
	var raw json.RawMessage
	if derr := DecodeJSONBody(w, r, &raw); derr != nil {
		WriteError(w, r, derr, h.logger)
		return
	}

	res, tr := h.tools.Invoke(r.Context(), s, types.ToolCall{
		ID:        requestID(r),
		Name:      r.PathValue("name"),
		Arguments: raw,
	})
	if tr.IsError() {
		WriteError(w, r, tr.Error, h.logger)
		return
	}

	WriteSuccess(w, r, InvokeResponse{
		Result:   res,
		Session:  viewOf(s),
		Duration: tr.Duration.String(),
	})
}

// HandleListTools 返回工具定义（JSON Schema 参数）
func (h *SessionHandler) HandleListTools(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, h.tools.Schemas())
}

// HandleListCases 诊断接口：列出全部记录，预期答案已脱敏
func (h *SessionHandler) HandleListCases(w http.ResponseWriter, r *http.Request) {
	records, err := h.repo.ListAll(r.Context())
	if err != nil {
		WriteError(w, r, storeError(err, "failed to list cases"), h.logger)
		return
	}
	out := make([]*casestore.Record, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Redacted())
	}
	WriteSuccess(w, r, out)
}

// HandleHistory 返回记录的审计事件
func (h *SessionHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	events, err := h.repo.History(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, storeError(err, "failed to read case history"), h.logger)
		return
	}
	WriteSuccess(w, r, events)
}

// storeError 把仓储错误映射为 API 错误
func storeError(err error, message string) error {
	switch {
	case errors.Is(err, casestore.ErrNotFound):
		return types.NewError(types.ErrNotFound, "case not found")
	case casestore.IsPersistenceError(err):
		return types.NewError(types.ErrPersistence, message).WithCause(err).WithRetryable(true)
	default:
		return types.NewError(types.ErrInternalError, message).WithCause(err)
	}
}
