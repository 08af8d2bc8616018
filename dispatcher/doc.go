// Copyright (c) CaseGate Authors.
// Licensed under the MIT License.

/*
Package dispatcher 实现会话任务状态机的操作门控分发。

# 概述

Dispatcher 是会话状态的唯一修改者，也是仓储的唯一写入方。五个操作
（load_task、get_challenge、submit_verification、reveal_sensitive_details、
record_resolution）都返回类型化的 Result，未找到、未验证、答案不匹配等
正常控制流不会以 Go error 的形式出现。

# 门控

  - get_challenge 需要已加载任务
  - reveal_sensitive_details 与 record_resolution 需要已验证身份
  - 会话完成后拒绝一切修改型操作（SESSION_COMPLETE），只读操作仍可用
  - 设置 MaxVerificationAttempts 后，超过次数的验证返回 VERIFICATION_LOCKED

# 持久化

record_resolution 先在会话内生效，再以独立于调用方取消的上下文写入仓储。
写入失败时返回 degraded 结果，会话仍然完成，并记录 Error 日志。

# 并发

同一 Session 上的调用由其互斥锁串行化；不同 Session 之间完全独立。
Manager 负责会话的创建、查找、关闭与空闲回收。Tools 将操作暴露为带
JSON Schema 的工具供对话前端调用。
*/
package dispatcher
