// Copyright (c) CaseGate Authors.
// Licensed under the MIT License.

/*
Package types 提供 CaseGate 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 casestore、dispatcher、
api、cmd 等上层模块提供统一的类型契约，避免循环依赖。

# 核心类型

  - Error / ErrorCode: 结构化错误体系（NOT_FOUND、NOT_VERIFIED、
    VERIFICATION_MISMATCH、PERSISTENCE_ERROR 等），含 HTTP 状态码与 Retryable 标记
  - ToolSchema / ToolCall / ToolResult: 调度器操作的工具化描述与调用结果

# 主要能力

  - Context 传播：WithTraceID / WithSessionID / WithOperatorID
  - 错误工具链：AsError / IsErrorCode / GetErrorCode / IsRetryable / DefaultHTTPStatus
*/
package types
