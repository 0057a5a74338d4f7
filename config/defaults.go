// =============================================================================
// 📦 visemeflow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/visemeflow/extractor"
	"github.com/BaSui01/visemeflow/internal/cache"
	"github.com/BaSui01/visemeflow/internal/pool"
	"github.com/BaSui01/visemeflow/lipsync"
	"github.com/BaSui01/visemeflow/provision"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Extractor: extractor.DefaultConfig(),
		Provision: provision.DefaultConfig(),
		Session:   lipsync.DefaultHandlerConfig(),
		Pool:      pool.DefaultConfig(),
		Registry:  DefaultRegistryConfig(),
		Redis:     cache.DefaultConfig(),
		Database:  DefaultDatabaseConfig(),
		History:   DefaultHistoryConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:           8080,
		MetricsPort:        9091,
		ReadHeaderTimeout:  10 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		CORSAllowedOrigins: []string{"*"},
		RateLimitRPS:       100,
		RateLimitBurst:     200,
	}
}

// DefaultRegistryConfig 返回默认注册表配置
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		Backend:   "memory",
		KeyPrefix: lipsync.DefaultKeyPrefix,
		TTL:       10 * time.Minute,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置。Driver 为空，历史记录默认关闭。
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "",
		Host:            "localhost",
		Port:            5432,
		User:            "visemeflow",
		Name:            "visemeflow",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// DefaultHistoryConfig 返回默认历史保留策略
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Retention:     72 * time.Hour,
		PruneInterval: time.Hour,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "visemeflow",
		SampleRate:   0.1,
	}
}
