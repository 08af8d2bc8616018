package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BaSui01/casegate/casestore"
	"github.com/BaSui01/casegate/internal/tlsutil"
	"github.com/BaSui01/casegate/types"
)

// Client CaseGate REST 客户端
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

// ClientOption 客户端选项
type ClientOption func(*Client)

// WithHTTPClient 替换底层 http.Client
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithToken 设置 Bearer token
func WithToken(token string) ClientOption {
	return func(cl *Client) { cl.token = token }
}

// NewClient 创建客户端，默认使用 TLS 加固的 http.Client
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api: invalid base url %q", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    tlsutil.HTTPClient(10 * time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// OpenSession POST /api/v1/sessions
func (c *Client) OpenSession(ctx context.Context) (*Session, error) {
	var env Envelope[Session]
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions", nil, &env); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

// GetSession GET /api/v1/sessions/{id}
func (c *Client) GetSession(ctx context.Context, id string) (*Session, error) {
	var env Envelope[Session]
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(id), nil, &env); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

// CloseSession DELETE /api/v1/sessions/{id}
func (c *Client) CloseSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/sessions/"+url.PathEscape(id), nil, nil)
}

// Invoke 调用一个工具；args 可为结构体、map 或 json.RawMessage
func (c *Client) Invoke(ctx context.Context, sessionID, tool string, args any) (*Invocation, error) {
	raw, err := marshalArgs(args)
	if err != nil {
		return nil, fmt.Errorf("api: encode arguments: %w", err)
	}
	var env Envelope[Invocation]
	path := "/api/v1/sessions/" + url.PathEscape(sessionID) + "/tools/" + url.PathEscape(tool)
	if err := c.do(ctx, http.MethodPost, path, raw, &env); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

// Tools GET /api/v1/tools
func (c *Client) Tools(ctx context.Context) ([]types.ToolSchema, error) {
	var env Envelope[[]types.ToolSchema]
	if err := c.do(ctx, http.MethodGet, "/api/v1/tools", nil, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// Cases GET /api/v1/cases（已脱敏）
func (c *Client) Cases(ctx context.Context) ([]*casestore.Record, error) {
	var env Envelope[[]*casestore.Record]
	if err := c.do(ctx, http.MethodGet, "/api/v1/cases", nil, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// History GET /api/v1/cases/{id}/history
func (c *Client) History(ctx context.Context, recordID string) ([]*casestore.Event, error) {
	var env Envelope[[]*casestore.Event]
	if err := c.do(ctx, http.MethodGet, "/api/v1/cases/"+url.PathEscape(recordID)+"/history", nil, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// Ready GET /ready；未就绪时同时返回结果与错误
func (c *Client) Ready(ctx context.Context) (*Health, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/ready", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api: GET /ready: %w", err)
	}
	defer resp.Body.Close()

	var health Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("api: decode /ready: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &health, &APIError{
			StatusCode: resp.StatusCode,
			Code:       types.ErrServiceUnavailable,
			Message:    "service is " + health.Status,
		}
	}
	return &health, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Code: types.ErrInternalError, Message: resp.Status}
	var env Envelope[json.RawMessage]
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&env); err == nil && env.Error != nil {
		apiErr.Code = types.ErrorCode(env.Error.Code)
		apiErr.Message = env.Error.Message
		apiErr.Retryable = env.Error.Retryable
		apiErr.RequestID = env.RequestID
	}
	return apiErr
}
