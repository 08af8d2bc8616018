// Copyright (c) CaseGate Authors.
// Licensed under the MIT License.

/*
Package server 管理 CaseGate 的 HTTP 监听生命周期。

# 概述

Manager 封装 net/http.Server，负责监听、可选 TLS 与优雅关闭。
casegate serve 用 APIConfig 与 MetricsConfig 从 server 配置段各创建一个 Manager，
并通过 Run 交给 errgroup 统一调度。请求 ctx 在 Shutdown 开始时取消，
WebSocket 会话流借此退出。

# 核心接口

  - Manager.Start：非阻塞启动，Addr 返回实际绑定地址（支持 ":0"）
  - Manager.Run：阻塞直到 ctx 结束或服务异常，随后调用 Shutdown
  - Manager.OnShutdown：注册关闭钩子，例如关闭会话管理器与仓储
  - Manager.ActiveConnections：net/http 仍在管理的连接数，关闭时写入日志
*/
package server
