// Copyright (c) CaseGate Authors.
// Licensed under the MIT License.

/*
Package casestore 提供任务记录（case）的持久化仓储。

# 概述

Repository 是调度器唯一的持久化出口：会话加载任务时调用
FindPendingByIdentity，记录结论时调用 UpdateStatus。每个身份同一时间
最多一条 pending 记录；UpdateStatus 是从 pending 到终态的比较并交换，
记录变更与审计事件要么一起生效，要么都不生效。

# 支持的后端

  - Memory：开发与测试（默认）
  - File：单节点部署，index.json 原子替换
  - Redis：WATCH/MULTI 乐观事务
  - SQL：GORM（sqlite 纯 Go、sqlite3 cgo、postgres、mysql），单事务条件更新
  - Mongo：单文档原子更新，审计轨迹内嵌

# 主要能力

  - NewRepository：按 StoreConfig.Type 构造后端
  - WithRetry：对瞬时存储故障做指数退避重试（cenkalti/backoff）
  - Seed / SampleRecords：空库时写入示例数据，幂等
  - History：状态迁移审计轨迹
*/
package casestore
