// Copyright (c) CaseGate Authors.
// Licensed under the MIT License.

/*
Package main 提供 CaseGate 服务端程序入口。

# 概述

cmd/casegate 基于 cobra 提供 serve、migrate、cases、simulate、health、
version 子命令。配置按 默认值 → YAML → CASEGATE_* 环境变量 加载并校验。

# 核心类型

  - Server:      API 与 Metrics 双端口，errgroup 统一生命周期
  - Middleware:  HTTP 中间件函数签名 func(http.Handler) http.Handler

# 中间件链

Recovery → RequestID → SecurityHeaders → OTelTracing → Metrics →
RequestLogger → CORS → RateLimiter（按 IP）→ JWTAuth（可选，sub 作为操作者）

# 关闭顺序

收到 SIGINT/SIGTERM 后停止 HTTP，随后结束全部会话并关闭仓储，最后刷新遥测。
*/
package main
