// Copyright (c) CaseGate Authors.
// Licensed under the MIT License.

/*
Package migration 管理 SQL 仓储（task_records / task_events）的 Schema 版本，
支持 PostgreSQL、MySQL 与 SQLite，基于 golang-migrate 实现。

# 概述

迁移文件通过 embed.FS 内嵌在 migrations/<dialect>/ 下。
除表结构外，迁移还建立“同一身份最多一条 pending 记录”的唯一约束：
PostgreSQL 与 SQLite 使用部分唯一索引，MySQL 使用生成列加唯一索引。

# 核心类型

  - Migrator / DefaultMigrator：Up/Down/DownAll/Steps/Goto/Force/Version/Status/Info
  - Config：数据库类型、golang-migrate URL、迁移表名与锁超时
  - CLI：casegate migrate 子命令的终端输出

# 使用

工厂函数 NewMigratorFromConfig 读取 config.DatabaseConfig.MigrationURL；
应用侧 DSN（file:...、user:pass@tcp(...)）会被规范化为 golang-migrate URL。
ctx 取消时，正在执行的迁移完成后停止。
*/
package migration
