/*
包 metrics 提供基于 Prometheus 的服务指标采集能力，覆盖
HTTP、会话、口型提取、工作池与数据库几个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制。所有指标按 namespace 隔离，指标在独立的 metrics
端口以 /metrics 暴露。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、请求/响应体大小，
    按 method/path/status 分组，状态码归类为 2xx/3xx/4xx/5xx。
  - 会话指标：活跃会话 Gauge、按关闭原因计数、会话时长、
    帧数与帧大小分布。
  - 提取指标：按状态（ok/skipped/错误码）计数与耗时、
    累计音频秒数、输出口型数。
  - 工作池与注册表：worker 数、排队任务数、注册表操作计数。
  - 数据库指标：打开/空闲连接数、查询耗时。
*/
package metrics
