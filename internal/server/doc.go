/*
包 server 提供 HTTP/HTTPS 服务器生命周期管理，支持非阻塞启动与优雅关闭。

# 概述

Manager 封装 net/http.Server，统一管理监听、服务、关闭与错误传播。
配置了证书与私钥时，监听器使用 tlsutil 提供的加固 TLS 配置。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与异步错误通道，
    提供 Start/Shutdown/Wait 等生命周期方法。
  - Config：监听地址、请求头超时、空闲超时、最大请求头大小、
    优雅关闭超时以及 TLS 证书路径。

# 注意

websocket 连接在升级后被接管，不受 http.Server.Shutdown 管理，
由对应的处理器负责关闭。因此默认配置不设置 ReadTimeout/WriteTimeout，
避免整连接级别的截止时间切断长连接。
*/
package server
