// Copyright (c) CaseGate Authors.
// Licensed under the MIT License.

/*
Package api 提供 CaseGate REST 接口的线上结构与 Go 客户端。

# 接口概览

	POST   /api/v1/sessions                     创建会话
	GET    /api/v1/sessions/{id}                会话快照
	DELETE /api/v1/sessions/{id}                结束会话
	POST   /api/v1/sessions/{id}/tools/{name}   调用调度器操作（请求体即参数）
	GET    /api/v1/sessions/stream              WebSocket：一条连接一个会话
	GET    /api/v1/tools                        工具定义（JSON Schema）
	GET    /api/v1/cases                        记录列表（预期答案脱敏）
	GET    /api/v1/cases/{id}/history           状态迁移审计
	GET    /health /ready /version              探针

被拒绝的操作（未加载任务、未核实等）仍返回 200，结果中 status 为
refused 并携带错误码；只有参数非法、会话不存在等调用层错误才返回 4xx。

# 认证

启用 JWT 时需携带：

	Authorization: Bearer <token>

token 的 sub 作为操作者写入审计事件。

# 客户端

	c, _ := api.NewClient("https://casegate.internal:8080", api.WithToken(tok))
	s, _ := c.OpenSession(ctx)
	inv, _ := c.Invoke(ctx, s.ID, "load_task", api.LoadTaskRequest{Identity: "John"})
*/
package api
