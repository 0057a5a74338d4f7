package testutil

import (
	"bytes"
	"time"

	"github.com/BaSui01/visemeflow/audio"
)

// =============================================================================
// 🔊 音频测试数据
// =============================================================================

// Silence 返回指定时长的静音 PCM（按块对齐截断）
func Silence(f audio.Format, d time.Duration) []byte {
	return make([]byte, f.BytesInDuration(d))
}

// WAV 将 PCM 封装为 WAV 字节，失败时 panic
func WAV(pcm []byte, f audio.Format) []byte {
	var buf bytes.Buffer
	if err := audio.EncodeWAV(&buf, pcm, f); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
