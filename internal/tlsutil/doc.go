// Copyright (c) CaseGate Authors.
// Licensed under the MIT License.

// Package tlsutil 集中管理 CaseGate 的 TLS 设置：HTTPS 服务端证书加载、
// Redis 客户端连接以及 CLI 健康探测客户端，统一使用 TLS 1.2+ 与 AEAD 密码套件。
package tlsutil
