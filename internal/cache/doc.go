/*
包 cache 提供基于 Redis 的键值管理能力，支持连接池、健康检查、
JSON 序列化与 SCAN 遍历，是多实例共享会话注册表的存储层。

# 核心类型

  - Manager：持有 go-redis 客户端，提供 Get/Set/Delete、
    GetJSON/SetJSON/MGetJSON 以及基于 SCAN 的 Keys。
  - Config：地址、密码、连接池大小、默认 TTL、TLS 开关与
    健康检查间隔。

# 主要能力

  - 健康检查：后台定时 Ping，Close 时退出。
  - 错误语义：ErrCacheMiss / ErrClosed 哨兵错误。
*/
package cache
