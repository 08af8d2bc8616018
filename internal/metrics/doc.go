// Copyright (c) CaseGate Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、调度器、
仓储与数据库四个维度。

# 概述

Collector 在自己的 Registry 上通过 promauto 注册全部指标，并附带 Go
运行时与进程指标。Handler 直接暴露 /metrics。多个 Collector 互不干扰，
测试中可以重复创建。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx
  - 调度器指标：操作总数与耗时、按错误码的拒绝次数、持久化失败、
    会话阶段转换、活跃会话数
  - 仓储指标：按 backend/operation 的耗时与失败计数
  - 数据库指标：连接池活跃/空闲连接数
*/
package metrics
