// Copyright (c) CaseGate Authors.
// Licensed under the MIT License.

/*
Package database 为 SQL 仓储提供基于 GORM 的连接打开与连接池管理。

# 概述

Open 按方言（sqlite / sqlite3 / postgres / mysql）选择 GORM Dialector 并打开连接；
PoolManager 封装 database/sql 连接池参数、后台健康探测与事务执行。

# 核心类型

  - PoolManager：持有 GORM DB，提供 DB、Ping、Check、Health、Close
  - PoolConfig：最大空闲/打开连接数、连接生命周期与探测间隔
  - Health：连接池统计加最近一次探测结果；Engine 据此上报指标，
    Check 作为 case_store_pool 就绪检查，池被占满时返回 ErrPoolExhausted

# 事务

WithTransaction 执行单次事务；WithTransactionRetry 对死锁与序列化失败
按指数退避重试，casestore 的状态更新与记录创建都经由它执行。
*/
package database
