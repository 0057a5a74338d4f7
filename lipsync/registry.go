package lipsync

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/visemeflow/internal/cache"
)

// ErrSessionNotFound 会话不存在或已过期
var ErrSessionNotFound = errors.New("session not found")

// Registry tracks the live sessions for the diagnostic listing.
type Registry interface {
	Put(ctx context.Context, info SessionInfo) error
	Remove(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (SessionInfo, error)
	// List 按创建时间升序返回
	List(ctx context.Context) ([]SessionInfo, error)
	Ping(ctx context.Context) error
	Name() string
}

func sortByCreated(infos []SessionInfo) {
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
}

// =============================================================================
// 🧠 内存注册表
// =============================================================================

// MemoryRegistry 单实例内存注册表
type MemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]SessionInfo
}

// NewMemoryRegistry creates an empty in-process registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{sessions: make(map[string]SessionInfo)}
}

func (m *MemoryRegistry) Put(_ context.Context, info SessionInfo) error {
	m.mu.Lock()
	m.sessions[info.ID] = info
	m.mu.Unlock()
	return nil
}

func (m *MemoryRegistry) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryRegistry) Get(_ context.Context, id string) (SessionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.sessions[id]
	if !ok {
		return SessionInfo{}, ErrSessionNotFound
	}
	return info, nil
}

func (m *MemoryRegistry) List(_ context.Context) ([]SessionInfo, error) {
	m.mu.RLock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, info := range m.sessions {
		out = append(out, info)
	}
	m.mu.RUnlock()
	sortByCreated(out)
	return out, nil
}

func (m *MemoryRegistry) Ping(context.Context) error { return nil }

func (m *MemoryRegistry) Name() string { return "memory" }

// =============================================================================
// 🔴 Redis 注册表
// =============================================================================

// DefaultKeyPrefix Redis 中会话键的前缀
const DefaultKeyPrefix = "visemeflow:sessions:"

// RedisRegistry 基于 Redis 的共享注册表。每个会话一个 JSON 键，
// 每次更新刷新 TTL，实例崩溃后遗留的会话会自然过期。
type RedisRegistry struct {
	cache    *cache.Manager
	prefix   string
	ttl      time.Duration
	instance string
	logger   *zap.Logger
}

// RedisRegistryConfig Redis 注册表配置
type RedisRegistryConfig struct {
	KeyPrefix string
	TTL       time.Duration
	// Instance 写入每条记录，标识会话所在实例
	Instance string
}

// NewRedisRegistry creates a registry on top of the cache manager.
func NewRedisRegistry(manager *cache.Manager, cfg RedisRegistryConfig, logger *zap.Logger) *RedisRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	return &RedisRegistry{
		cache:    manager,
		prefix:   cfg.KeyPrefix,
		ttl:      cfg.TTL,
		instance: cfg.Instance,
		logger:   logger.With(zap.String("component", "redis_registry")),
	}
}

func (r *RedisRegistry) key(id string) string {
	return r.prefix + id
}

func (r *RedisRegistry) Put(ctx context.Context, info SessionInfo) error {
	if info.Instance == "" {
		info.Instance = r.instance
	}
	return r.cache.SetJSON(ctx, r.key(info.ID), info, r.ttl)
}

func (r *RedisRegistry) Remove(ctx context.Context, id string) error {
	return r.cache.Delete(ctx, r.key(id))
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (SessionInfo, error) {
	var info SessionInfo
	err := r.cache.GetJSON(ctx, r.key(id), &info)
	if cache.IsCacheMiss(err) {
		return SessionInfo{}, ErrSessionNotFound
	}
	return info, err
}

func (r *RedisRegistry) List(ctx context.Context) ([]SessionInfo, error) {
	keys, err := r.cache.Keys(ctx, r.prefix+"*")
	if err != nil {
		return nil, err
	}

	out := make([]SessionInfo, 0, len(keys))
	err = r.cache.MGetJSON(ctx, keys, func(key string, raw []byte) error {
		var info SessionInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			// 单条损坏不影响整体列表
			r.logger.Warn("skipping corrupt session entry", zap.String("key", key), zap.Error(err))
			return nil
		}
		out = append(out, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByCreated(out)
	return out, nil
}

func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.cache.Ping(ctx)
}

func (r *RedisRegistry) Name() string { return "redis" }
