package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/visemeflow/api"
	"github.com/BaSui01/visemeflow/history"
	"github.com/BaSui01/visemeflow/lipsync"
	"github.com/BaSui01/visemeflow/types"
)

// =============================================================================
// 📋 会话查询 Handler
// =============================================================================

// ChunkLister 读取会话的提取历史
type ChunkLister interface {
	ListBySession(ctx context.Context, sessionID string, limit int) ([]history.ChunkRecord, error)
}

// SessionHandler 处理会话列表与提取历史查询
type SessionHandler struct {
	registry lipsync.Registry
	history  ChunkLister
	logger   *zap.Logger
}

// NewSessionHandler 创建 SessionHandler。history 为 nil 表示未启用历史记录。
func NewSessionHandler(registry lipsync.Registry, chunks ChunkLister, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		registry: registry,
		history:  chunks,
		logger:   logger.With(zap.String("component", "session_handler")),
	}
}

// HandleConnections GET /connections
func (h *SessionHandler) HandleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}

	list, err := h.registry.List(r.Context())
	if err != nil {
		WriteError(w, types.NewError(types.ErrServiceUnavailable, "session registry unavailable").
			WithCause(err), h.logger)
		return
	}
	if list == nil {
		list = []lipsync.SessionInfo{}
	}

	WriteJSON(w, http.StatusOK, api.ConnectionsResponse{
		Connections: list,
		Registry:    h.registry.Name(),
	})
}

// HandleChunks GET /api/v1/sessions/{id}/chunks?limit=N
func (h *SessionHandler) HandleChunks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	if h.history == nil {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "chunk history is disabled", nil)
		return
	}

	id, ok := extractSessionID(r)
	if !ok {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "session id is required", h.logger)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "limit must be a positive integer", h.logger)
			return
		}
		limit = n
	}

	records, err := h.history.ListBySession(r.Context(), id, limit)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "failed to load chunk history").WithCause(err), h.logger)
		return
	}
	if len(records) == 0 {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "no chunks recorded for session", nil)
		return
	}

	WriteSuccess(w, api.ChunksResponse{SessionID: id, Chunks: records})
}

// extractSessionID 从请求中提取会话 ID（PathValue 优先，回退到路径解析）
func extractSessionID(r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if id == "" {
		// /api/v1/sessions/{id}/chunks
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) < 5 || parts[4] != "chunks" {
			return "", false
		}
		id = parts[3]
	}
	return id, id != ""
}
