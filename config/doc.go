// Package config 提供 CaseGate 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → CASEGATE_ 前缀环境变量 的顺序叠加，
// Validate 校验跨字段约束，StoreConfig 把仓储相关段落组装为
// casestore.StoreConfig。
package config
