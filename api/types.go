package api

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/casegate/api/handlers"
	"github.com/BaSui01/casegate/types"
)

// =============================================================================
// 📦 REST 线上结构
// =============================================================================

// Envelope 统一响应包裹，Data 按接口解码为具体类型
// @Description 统一响应结构
type Envelope[T any] struct {
	// 是否成功
	Success bool `json:"success"`
	// 业务数据
	Data T `json:"data"`
	// 失败时的错误信息
	Error *handlers.ErrorInfo `json:"error,omitempty"`
	// 服务端时间
	Timestamp time.Time `json:"timestamp"`
	// 请求 ID（X-Request-ID）
	RequestID string `json:"request_id,omitempty"`
}

// Session 会话视图
type Session = handlers.SessionView

// Invocation 一次工具调用的结果与调用后的会话
type Invocation = handlers.InvokeResponse

// Health 健康检查结果
type Health = handlers.HealthStatus

// LoadTaskRequest load_task 参数
// @Description 按身份加载待处理记录
type LoadTaskRequest struct {
	Identity string `json:"identity" example:"John"`
}

// SubmitVerificationRequest submit_verification 参数
type SubmitVerificationRequest struct {
	Answer string `json:"answer" example:"Smith"`
}

// RecordResolutionRequest record_resolution 参数
type RecordResolutionRequest struct {
	Confirmed bool `json:"confirmed" example:"false"`
}

// APIError 服务端返回的错误
type APIError struct {
	StatusCode int
	Code       types.ErrorCode
	Message    string
	Retryable  bool
	RequestID  string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return "api: " + string(e.Code) + ": " + e.Message + " (request " + e.RequestID + ")"
	}
	return "api: " + string(e.Code) + ": " + e.Message
}

// AsTypesError 转回 *types.Error，便于 types.IsErrorCode 判断
func (e *APIError) AsTypesError() *types.Error {
	return types.NewError(e.Code, e.Message).WithHTTPStatus(e.StatusCode).WithRetryable(e.Retryable)
}

func marshalArgs(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
