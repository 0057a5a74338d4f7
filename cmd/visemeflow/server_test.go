package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/visemeflow/api"
	"github.com/BaSui01/visemeflow/config"
	"github.com/BaSui01/visemeflow/testutil"
)

// 完整装配一次服务：sqlite 历史、内存注册表、替身 rhubarb。
// Collector 注册在默认 registry 上，整个测试二进制只能启动一次 Server。
func TestServer_EndToEnd(t *testing.T) {
	fake := testutil.NewFakeRhubarb(t, testutil.RhubarbOK)

	cfg := config.DefaultConfig()
	cfg.Server.HTTPPort = 0
	cfg.Server.MetricsPort = 0
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Server.APIKeys = []string{"secret"}
	cfg.Provision.Enabled = false
	cfg.Extractor.BinaryPath = fake.Path
	cfg.Database.Driver = "sqlite"
	cfg.Database.Name = filepath.Join(t.TempDir(), "history.db")

	ctx := testutil.TestContextWithTimeout(t, 60*time.Second)
	srv := NewServer(cfg, "", zap.NewNop(), zap.NewAtomicLevel())
	require.NoError(t, srv.Start(ctx))
	t.Cleanup(srv.Shutdown)

	_, port, err := net.SplitHostPort(srv.httpManager.Addr())
	require.NoError(t, err)
	base := "http://127.0.0.1:" + port

	get := func(path string, out any) int {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
		require.NoError(t, err)
		req.Header.Set("X-API-Key", "secret")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		if out != nil {
			require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
		}
		return resp.StatusCode
	}

	// 健康检查无需 API Key
	resp, err := http.Get(base + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/connections")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// websocket 通过查询参数携带 key
	wsURL := fmt.Sprintf("ws://127.0.0.1:%s/ws?api_key=secret&audio_sample_rate=8000", port)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	format := streamFormat
	require.NoError(t, conn.Write(ctx, websocket.MessageBinary, testutil.Silence(format, time.Second)))
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var reply streamReply
	require.NoError(t, json.Unmarshal(data, &reply))
	require.Empty(t, reply.Error)
	require.NotNil(t, reply.Metadata)
	assert.InDelta(t, 1.0, reply.Metadata.Duration, 0.01)

	var conns api.ConnectionsResponse
	require.Equal(t, http.StatusOK, get("/connections", &conns))
	require.Len(t, conns.Connections, 1)
	assert.Equal(t, "memory", conns.Registry)
	sessionID := conns.Connections[0].ID

	var chunks struct {
		Success bool               `json:"success"`
		Data    api.ChunksResponse `json:"data"`
	}
	require.Equal(t, http.StatusOK, get("/api/v1/sessions/"+sessionID+"/chunks", &chunks))
	assert.True(t, chunks.Success)
	require.Len(t, chunks.Data.Chunks, 1)
	assert.Equal(t, "ok", chunks.Data.Chunks[0].Status)
	assert.NotEmpty(t, chunks.Data.Chunks[0].MouthCues)

	// 关闭时活跃会话收到 going away
	srv.Shutdown()
	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))

	_, err = http.Get(base + "/healthz")
	assert.Error(t, err, "listener should be closed")
}
