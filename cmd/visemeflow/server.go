package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/visemeflow/api/handlers"
	"github.com/BaSui01/visemeflow/config"
	"github.com/BaSui01/visemeflow/extractor"
	"github.com/BaSui01/visemeflow/history"
	"github.com/BaSui01/visemeflow/internal/cache"
	"github.com/BaSui01/visemeflow/internal/database"
	"github.com/BaSui01/visemeflow/internal/metrics"
	"github.com/BaSui01/visemeflow/internal/pool"
	"github.com/BaSui01/visemeflow/internal/server"
	"github.com/BaSui01/visemeflow/internal/telemetry"
	"github.com/BaSui01/visemeflow/lipsync"
	"github.com/BaSui01/visemeflow/provision"
)

// 路由
const (
	pathWebSocket   = "/ws"
	pathConnections = "/connections"
	pathChunks      = "/api/v1/sessions/{id}/chunks"
)

// 不需要 API Key 的路径
var publicPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装并持有服务的全部组件
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	level      zap.AtomicLevel

	providers *telemetry.Providers
	collector *metrics.Collector

	dbPool   *database.PoolManager
	history  *history.Store
	cache    *cache.Manager
	registry lipsync.Registry
	workers  *pool.Pool

	service   *lipsync.Service
	wsHandler *lipsync.Handler
	limiter   *IPRateLimiter
	reloader  *config.Reloader

	httpManager    *server.Manager
	metricsManager *server.Manager

	bgCancel     context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		level:      level,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 按依赖顺序初始化组件并启动监听。任一步失败都会返回错误，
// 调用方随后应调用 Shutdown 释放已创建的资源。
func (s *Server) Start(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// 1. 遥测
	providers, err := telemetry.Init(ctx, s.cfg.Telemetry, Version, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.providers = providers
	s.collector = metrics.NewCollector("visemeflow", s.logger)

	// 2. 外部工具，缺失且无法下载时拒绝启动
	binary, err := provision.New(s.cfg.Provision, s.logger).Ensure(ctx, s.cfg.Extractor.BinaryPath)
	if err != nil {
		return fmt.Errorf("provision rhubarb: %w", err)
	}
	s.cfg.Extractor.BinaryPath = binary

	// 3. 历史记录（可选）
	if err := s.initHistory(bgCtx); err != nil {
		return err
	}

	// 4. 会话注册表
	if err := s.initRegistry(); err != nil {
		return err
	}

	// 5. 提取流水线
	poolCfg := s.cfg.Pool
	poolCfg.PanicHandler = func(r any) {
		s.logger.Error("extraction task panicked", zap.Any("panic", r))
	}
	s.workers = pool.New(poolCfg)

	opts := []lipsync.Option{
		lipsync.WithRegistry(s.registry),
		lipsync.WithMetrics(s.collector),
		lipsync.WithLogger(s.logger),
		lipsync.WithMaxPendingBytes(s.cfg.Session.MaxPendingBytes),
	}
	if s.history != nil {
		opts = append(opts, lipsync.WithRecorder(s.history))
	}
	s.service = lipsync.NewService(extractor.NewRhubarb(s.cfg.Extractor, s.logger), s.workers, opts...)

	sessionCfg := s.cfg.Session
	sessionCfg.AllowedOrigins = s.cfg.Server.CORSAllowedOrigins
	s.wsHandler = lipsync.NewHandler(s.service, sessionCfg, s.logger)

	// 6. HTTP
	s.limiter = NewIPRateLimiter(s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger)
	s.goBackground(func() { s.limiter.Run(bgCtx) })

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 7. 配置热重载
	if err := s.initReloader(bgCtx); err != nil {
		return err
	}

	s.logger.Info("all servers started",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.Bool("tls", s.httpManager.TLSEnabled()),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("registry", s.registry.Name()),
		zap.Bool("history", s.history != nil),
		zap.String("rhubarb", binary),
	)
	return nil
}

func (s *Server) goBackground(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

func (s *Server) initHistory(ctx context.Context) error {
	dbCfg := s.cfg.Database
	if dbCfg.Driver == "" {
		s.logger.Info("database not configured, chunk history disabled")
		return nil
	}

	pm, err := database.Open(dbCfg.Driver, dbCfg.DSN(), dbCfg.PoolConfig(), s.logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	s.dbPool = pm
	pm.OnStats(func(st sql.DBStats) {
		s.collector.RecordDBConnections(dbCfg.Driver, st.OpenConnections, st.Idle)
	})

	store, err := history.NewStore(pm.DB(), s.logger)
	if err != nil {
		return fmt.Errorf("init history store: %w", err)
	}
	s.history = store

	retention, interval := s.cfg.History.Retention, s.cfg.History.PruneInterval
	s.goBackground(func() { store.RunRetention(ctx, retention, interval) })
	return nil
}

func (s *Server) initRegistry() error {
	switch s.cfg.Registry.Backend {
	case "", "memory":
		s.registry = lipsync.NewMemoryRegistry()
		return nil
	case "redis":
		manager, err := cache.NewManager(s.cfg.Redis, s.logger)
		if err != nil {
			return fmt.Errorf("connect registry redis: %w", err)
		}
		s.cache = manager

		instance := s.cfg.Registry.Instance
		if instance == "" {
			instance, _ = os.Hostname()
		}
		s.registry = lipsync.NewRedisRegistry(manager, lipsync.RedisRegistryConfig{
			KeyPrefix: s.cfg.Registry.KeyPrefix,
			TTL:       s.cfg.Registry.TTL,
			Instance:  instance,
		}, s.logger)
		return nil
	default:
		return fmt.Errorf("unsupported registry backend: %s", s.cfg.Registry.Backend)
	}
}

func (s *Server) initReloader(ctx context.Context) error {
	if s.configPath == "" {
		return nil
	}
	reloader, err := config.NewReloader(s.configPath, s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("init config reloader: %w", err)
	}
	reloader.OnReload(func(_, next *config.Config) {
		if err := s.level.UnmarshalText([]byte(next.Log.Level)); err != nil {
			s.logger.Warn("ignoring invalid log level", zap.String("level", next.Log.Level))
		}
		s.limiter.SetLimit(next.Server.RateLimitRPS, next.Server.RateLimitBurst)
	})
	if err := reloader.Start(ctx); err != nil {
		return fmt.Errorf("start config reloader: %w", err)
	}
	s.reloader = reloader
	return nil
}

// routes 构建业务路由
func (s *Server) routes() *http.ServeMux {
	health := handlers.NewHealthHandler(s.logger)
	health.RegisterCheck(handlers.NewBinaryCheck(s.cfg.Extractor.BinaryPath))
	health.RegisterCheck(handlers.NewPingCheck("registry", s.registry.Ping))

	var chunks handlers.ChunkLister
	if s.history != nil {
		chunks = s.history
		health.RegisterCheck(handlers.NewPingCheck("database", s.dbPool.Ping))
	}
	sessions := handlers.NewSessionHandler(s.registry, chunks, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", health.HandleHealth)
	mux.HandleFunc("/healthz", health.HandleHealthz)
	mux.HandleFunc("/ready", health.HandleReady)
	mux.HandleFunc("/readyz", health.HandleReady)
	mux.HandleFunc("/version", health.HandleVersion(Version, BuildTime, GitCommit))

	mux.Handle(pathWebSocket, s.wsHandler)
	mux.HandleFunc(pathConnections, sessions.HandleConnections)
	mux.HandleFunc("GET "+pathChunks, sessions.HandleChunks)
	return mux
}

// handler 返回带完整中间件链的 HTTP 入口
func (s *Server) handler() http.Handler {
	return Chain(s.routes(),
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		s.limiter.Middleware(),
		APIKeyAuth(s.cfg.Server.APIKeys, publicPaths, pathWebSocket, s.logger),
	)
}

// =============================================================================
// 🌐 HTTP / Metrics 服务器
// =============================================================================

func (s *Server) startHTTPServer() error {
	serverConfig := server.DefaultConfig()
	serverConfig.Addr = fmt.Sprintf(":%d", s.cfg.Server.HTTPPort)
	serverConfig.ReadHeaderTimeout = s.cfg.Server.ReadHeaderTimeout
	serverConfig.IdleTimeout = s.cfg.Server.IdleTimeout
	serverConfig.ShutdownTimeout = s.cfg.Server.ShutdownTimeout
	serverConfig.TLSCertFile = s.cfg.Server.TLSCertFile
	serverConfig.TLSKeyFile = s.cfg.Server.TLSKeyFile

	s.httpManager = server.NewManager(s.handler(), serverConfig, s.logger)
	return s.httpManager.Start()
}

func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		s.logger.Info("metrics server disabled")
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.DefaultConfig()
	serverConfig.Addr = fmt.Sprintf(":%d", s.cfg.Server.MetricsPort)
	serverConfig.ReadHeaderTimeout = s.cfg.Server.ReadHeaderTimeout
	serverConfig.ShutdownTimeout = s.cfg.Server.ShutdownTimeout

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	return s.metricsManager.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Wait 阻塞直到 ctx 结束（收到信号）或任一监听器出错
func (s *Server) Wait(ctx context.Context) error {
	var metricsErrs <-chan error
	if s.metricsManager != nil {
		metricsErrs = s.metricsManager.Errors()
	}
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
		return nil
	case err := <-s.httpManager.Errors():
		return fmt.Errorf("http server: %w", err)
	case err := <-metricsErrs:
		return fmt.Errorf("metrics server: %w", err)
	}
}

// Shutdown 优雅关闭：先并行停止监听与 websocket 会话，再释放下游资源。
// 可重复调用，也可在 Start 中途失败后调用。
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(s.shutdown)
}

func (s *Server) shutdown() {
	s.logger.Info("starting graceful shutdown")

	ctx := context.Background()
	if s.cfg.Server.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
		defer cancel()
	}

	if s.reloader != nil {
		if err := s.reloader.Stop(); err != nil {
			s.logger.Warn("config reloader stop failed", zap.Error(err))
		}
	}

	// 1. 停止接收连接并关闭现有会话
	g, gctx := errgroup.WithContext(ctx)
	if s.httpManager != nil {
		g.Go(func() error { return s.httpManager.Shutdown(gctx) })
	}
	if s.wsHandler != nil {
		g.Go(func() error { return s.wsHandler.Shutdown(gctx) })
	}
	if s.metricsManager != nil {
		g.Go(func() error { return s.metricsManager.Shutdown(gctx) })
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("listener shutdown incomplete", zap.Error(err))
	}

	// 2. 后台任务
	if s.bgCancel != nil {
		s.bgCancel()
	}
	s.wg.Wait()

	// 3. 下游资源
	if s.workers != nil {
		s.workers.Close()
	}
	var errs []error
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	if s.dbPool != nil {
		errs = append(errs, s.dbPool.Close())
	}
	errs = append(errs, s.providers.Shutdown(ctx))
	if err := errors.Join(errs...); err != nil {
		s.logger.Error("resource cleanup failed", zap.Error(err))
	}

	s.logger.Info("graceful shutdown completed")
}
