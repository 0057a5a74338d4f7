package api

import (
	"github.com/BaSui01/visemeflow/history"
	"github.com/BaSui01/visemeflow/lipsync"
)

// =============================================================================
// 📋 会话查询类型
// =============================================================================

// ConnectionsResponse is the body of GET /connections.
// @Description 当前活跃会话列表
type ConnectionsResponse struct {
	// 按创建时间升序
	Connections []lipsync.SessionInfo `json:"connections"`
	// 注册表后端（memory / redis）
	Registry string `json:"registry"`
}

// ChunksResponse is the body of GET /api/v1/sessions/{id}/chunks.
// @Description 会话最近的提取记录
type ChunksResponse struct {
	SessionID string                `json:"session_id"`
	Chunks    []history.ChunkRecord `json:"chunks"`
}

// =============================================================================
// ℹ️ 版本信息
// =============================================================================

// VersionInfo is the body of GET /version.
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
	GoVersion string `json:"go_version"`
}
