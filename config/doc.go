// Package config 提供 visemeflow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → VISEMEFLOW_ 前缀环境变量 的顺序合并。
// Reloader 监听配置文件，运行时更新日志级别与限流参数。
package config
