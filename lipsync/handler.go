package lipsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/visemeflow/audio"
	"github.com/BaSui01/visemeflow/internal/ctxkeys"
	"github.com/BaSui01/visemeflow/types"
)

// 查询参数名
const (
	ParamChannels    = "audio_channels"
	ParamSampleRate  = "audio_sample_rate"
	ParamSampleWidth = "audio_sample_width"
)

// HandlerConfig websocket 会话参数
type HandlerConfig struct {
	// 单帧最大字节数
	MaxFrameBytes int64 `yaml:"max_frame_bytes" env:"MAX_FRAME_BYTES"`
	// 提取失败后可保留的最大缓冲字节数，超过时丢弃（由 Service 执行）
	MaxPendingBytes int64 `yaml:"max_pending_bytes" env:"MAX_PENDING_BYTES"`
	// 两帧之间的最长等待时间
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// 单条回复的写超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 允许的 Origin 模式；包含 "*" 时不校验
	AllowedOrigins []string `yaml:"-" env:"-"`
}

// DefaultHandlerConfig returns the default session limits.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		MaxFrameBytes:   16 << 20,
		MaxPendingBytes: 64 << 20,
		IdleTimeout:     5 * time.Minute,
		WriteTimeout:    10 * time.Second,
	}
}

// Handler serves the streaming endpoint.
type Handler struct {
	svc    *Service
	cfg    HandlerConfig
	logger *zap.Logger

	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	draining bool
}

// NewHandler creates the websocket handler.
func NewHandler(svc *Service, cfg HandlerConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultHandlerConfig()
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = def.MaxFrameBytes
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &Handler{
		svc:    svc,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "ws_handler")),
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

// ParseFormat reads the audio format from the query string. Missing
// parameters take the defaults; malformed or out-of-range values fail.
func ParseFormat(r *http.Request) (audio.Format, error) {
	f := audio.DefaultFormat()
	q := r.URL.Query()

	fields := []struct {
		name string
		dst  *int
	}{
		{ParamChannels, &f.Channels},
		{ParamSampleRate, &f.SampleRate},
		{ParamSampleWidth, &f.SampleWidth},
	}
	for _, fld := range fields {
		raw := q.Get(fld.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return audio.Format{}, fmt.Errorf("%s must be an integer, got %q", fld.name, raw)
		}
		*fld.dst = v
	}

	if err := f.Validate(); err != nil {
		return audio.Format{}, err
	}
	return f, nil
}

// ServeHTTP upgrades the request and runs the session loop until the
// connection ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	format, err := ParseFormat(r)
	if err != nil {
		h.writeHTTPError(w, http.StatusBadRequest, types.NewError(types.ErrInvalidRequest, err.Error()))
		return
	}

	h.mu.Lock()
	draining := h.draining
	h.mu.Unlock()
	if draining {
		h.writeHTTPError(w, http.StatusServiceUnavailable,
			types.NewError(types.ErrServiceUnavailable, "server is shutting down"))
		return
	}

	conn, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		// Accept 已写入 HTTP 错误响应
		h.logger.Debug("websocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}
	conn.SetReadLimit(h.cfg.MaxFrameBytes)

	if !h.track(conn) {
		_ = conn.Close(websocket.StatusGoingAway, "server is shutting down")
		return
	}
	defer h.untrack(conn)

	sess := NewSession(format, r.RemoteAddr)
	ctx := ctxkeys.WithSessionID(r.Context(), sess.ID)

	h.svc.Open(ctx, sess)
	reason := h.loop(ctx, conn, sess)
	h.svc.Close(sess, reason)
}

func (h *Handler) acceptOptions() *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" {
			opts.InsecureSkipVerify = true
			return opts
		}
	}
	opts.OriginPatterns = h.cfg.AllowedOrigins
	return opts
}

// loop 读帧 → 处理 → 回复，返回会话关闭原因
func (h *Handler) loop(ctx context.Context, conn *websocket.Conn, sess *Session) string {
	for {
		readCtx, cancel := context.WithTimeout(ctx, h.cfg.IdleTimeout)
		typ, data, err := conn.Read(readCtx)
		idle := errors.Is(readCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err != nil {
			reason := h.closeReason(err, idle)
			if reason == CloseIdleTimeout {
				_ = conn.Close(websocket.StatusPolicyViolation, "idle timeout")
			}
			h.logger.Debug("session read ended",
				zap.String("session_id", sess.ID),
				zap.String("reason", reason),
				zap.Error(types.NewConnectionError("read failed", err)),
			)
			return reason
		}

		var resp Response
		if typ == websocket.MessageBinary {
			resp = h.svc.Process(ctx, sess, data)
		} else {
			resp = h.svc.Reject(sess, "text",
				types.NewError(types.ErrInvalidRequest, "expected a binary audio frame"))
		}

		if err := h.write(ctx, conn, resp); err != nil {
			h.logger.Debug("session write failed",
				zap.String("session_id", sess.ID),
				zap.Error(err),
			)
			return CloseConnectionLost
		}
	}
}

func (h *Handler) write(ctx context.Context, conn *websocket.Conn, resp Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		// 理论上不会发生：所有字段都可序列化
		payload, _ = json.Marshal(errorResponse(types.NewError(types.ErrInternalError, "failed to encode response")))
	}

	writeCtx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, payload); err != nil {
		return types.NewConnectionError("write failed", err)
	}
	return nil
}

func (h *Handler) closeReason(err error, idle bool) string {
	h.mu.Lock()
	draining := h.draining
	h.mu.Unlock()

	switch {
	case draining:
		return CloseShutdown
	case idle:
		return CloseIdleTimeout
	}

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return CloseClientClosed
	case websocket.StatusMessageTooBig:
		return CloseFrameTooLarge
	}
	// 超过读上限时库返回普通错误，并以 1009 关闭连接
	if strings.Contains(err.Error(), "read limited") {
		return CloseFrameTooLarge
	}
	return CloseConnectionLost
}

func (h *Handler) writeHTTPError(w http.ResponseWriter, status int, err *types.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse(err))
}

func (h *Handler) track(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining {
		return false
	}
	h.conns[conn] = struct{}{}
	return true
}

func (h *Handler) untrack(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
}

// ActiveSessions returns the number of open connections on this instance.
func (h *Handler) ActiveSessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Shutdown stops accepting sessions and closes the open ones. It returns
// once all sessions ended or ctx expires. http.Server.Shutdown does not
// track hijacked connections, so this must be called alongside it.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.draining = true
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	h.logger.Info("closing websocket sessions", zap.Int("count", len(conns)))
	for _, c := range conns {
		go func(c *websocket.Conn) {
			_ = c.Close(websocket.StatusGoingAway, "server is shutting down")
		}(c)
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if h.ActiveSessions() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
