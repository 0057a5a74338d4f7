/*
包 database 提供基于 GORM 的数据库连接池管理，供提取历史存储使用。

# 核心类型

  - PoolManager：持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：最大空闲/打开连接数、连接生命周期、空闲超时与
    健康检查间隔。

# 主要能力

  - 驱动选择：Open/Dialector 支持 sqlite（glebarez 纯 Go 实现）、
    postgres 与 mysql。
  - 健康检查：后台定时 PingContext 探活，OnStats 回调上报连接数。
  - 统计采集：GetStats 返回结构化的连接池运行指标。
*/
package database
