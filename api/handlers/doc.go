/*
Package handlers 提供 visemeflow HTTP API 的请求处理器实现。

# 概述

handlers 包实现 websocket 之外的 HTTP 端点：会话列表、提取历史、
健康检查与版本信息，以及统一的响应/错误处理。
所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - SessionHandler：/connections 与 /api/v1/sessions/{id}/chunks
  - HealthHandler：服务健康检查（/health, /healthz, /ready）
  - Response：统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo：结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码，支持 Hijack
  - HealthCheck：可插拔健康检查接口（rhubarb、注册表、数据库）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - 可扩展健康检查：RegisterCheck 注册自定义 HealthCheck 实现
*/
package handlers
