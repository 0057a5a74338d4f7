package lipsync

import (
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/visemeflow/audio"
)

// Session 单个 websocket 连接的流状态。
// 所有字段只由会话自己的读循环访问，无需加锁。
type Session struct {
	ID         string
	CreatedAt  time.Time
	RemoteAddr string
	Format     audio.Format

	pending []byte
	offset  float64
	seq     int64

	frames   int64
	bytes    int64
	chunksOK int64
	failures int64
}

// NewSession creates a session with a fresh ID.
func NewSession(format audio.Format, remoteAddr string) *Session {
	return &Session{
		ID:         uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
		RemoteAddr: remoteAddr,
		Format:     format,
	}
}

// Offset returns the cumulative duration in seconds reported so far.
func (s *Session) Offset() float64 {
	return s.offset
}

// Pending returns the number of buffered bytes not yet reported.
func (s *Session) Pending() int {
	return len(s.pending)
}

// Seq returns the number of frames processed.
func (s *Session) Seq() int64 {
	return s.seq
}

// append 追加帧并返回本次提取的输入（对齐前缀）
func (s *Session) append(frame []byte) []byte {
	s.seq++
	s.frames++
	s.bytes += int64(len(frame))
	s.pending = append(s.pending, frame...)
	return s.pending[:s.Format.Aligned(len(s.pending))]
}

// commit 提取成功后丢弃已消费的 n 字节并推进偏移量
func (s *Session) commit(n int, duration float64) {
	s.consume(n)
	s.offset += duration
	s.chunksOK++
}

// discard 丢弃前 n 字节（对齐输入），按其时长推进偏移量，返回丢弃的秒数。
// 不足一帧的尾部保留。
func (s *Session) discard(n int) float64 {
	s.consume(n)
	dropped := s.Format.Seconds(n)
	s.offset += dropped
	return dropped
}

// consume 移除前 n 字节，尾部复制到新数组以释放旧缓冲
func (s *Session) consume(n int) {
	rest := len(s.pending) - n
	if rest == 0 {
		s.pending = nil
		return
	}
	tail := make([]byte, rest)
	copy(tail, s.pending[n:])
	s.pending = tail
}

// fail 记录失败，缓冲区保持不变
func (s *Session) fail() {
	s.failures++
}

// release 释放缓冲区
func (s *Session) release() {
	s.pending = nil
}

// Info returns the listing snapshot of the session.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:         s.ID,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  time.Now().UTC(),
		RemoteAddr: s.RemoteAddr,
		Format:     s.Format.String(),
		Offset:     s.offset,
		Frames:     s.frames,
		Bytes:      s.bytes,
		Pending:    len(s.pending),
		Chunks:     s.chunksOK,
		Failures:   s.failures,
	}
}

// SessionInfo 注册表中保存的会话快照
type SessionInfo struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	RemoteAddr string    `json:"remoteAddr,omitempty"`
	Format     string    `json:"format"`
	Offset     float64   `json:"offset"`
	Frames     int64     `json:"frames"`
	Bytes      int64     `json:"bytes"`
	Pending    int       `json:"pendingBytes"`
	Chunks     int64     `json:"chunks"`
	Failures   int64     `json:"failures"`
	Instance   string    `json:"instance,omitempty"`
}
