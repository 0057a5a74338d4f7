/*
Package main 提供 visemeflow 服务端程序入口。

# 概述

cmd/visemeflow 组装视素提取服务：加载配置、初始化日志与遥测、
确保 rhubarb 可执行文件就绪、打开可选的历史数据库与会话注册表，
然后启动 websocket/HTTP 服务与独立的 Prometheus 指标端口。

# 子命令

  - serve：启动服务，SIGINT/SIGTERM 触发优雅关闭
  - provision：仅下载并解压 rhubarb
  - stream：参考客户端，把 WAV 文件按固定时长切块推送并逐行打印回复
  - health：请求 /ready 并以退出码报告结果
  - version / help

# 中间件链

Recovery、RequestID、SecurityHeaders、RequestLogger、MetricsMiddleware、
OTelTracing、CORS、IPRateLimiter、APIKeyAuth。所有包装器基于
handlers.ResponseWriter，websocket 升级可以穿过整条链。

# 配置热重载

指定 --config 时启动 config.Reloader，日志级别与限流参数在文件变更后即时生效，
其余字段需要重启。
*/
package main
