// Copyright (c) CaseGate Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 CaseGate HTTP API 的请求处理器实现。

# 概述

handlers 把 dispatcher 的会话与工具面暴露为 REST 与 WebSocket 接口，
并提供健康检查与统一的响应/错误格式。所有 Handler 均遵循标准 net/http 接口，
路由使用 Go 1.22 ServeMux 的方法与路径参数模式。

# 核心类型

  - SessionHandler:   会话生命周期、工具调用、案例诊断与审计历史
  - StreamHandler:    WebSocket 会话流，一条连接对应一个会话
  - HealthHandler:    /health、/healthz、/ready、/version
  - Response:         统一 JSON 响应结构（success + data + error + timestamp）
  - ResponseWriter:   包装 http.ResponseWriter 以捕获状态码，供中间件使用

# 约定

工具调用中的拒绝（NOT_VERIFIED、VERIFICATION_MISMATCH 等）与降级（PERSISTENCE_ERROR）
属于正常会话结果，以 200 返回并由 result.status 区分；只有参数错误、未知工具与
会话不存在才映射为 4xx。
*/
package handlers
