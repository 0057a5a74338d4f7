// Package history 持久化每个音频块的提取记录，用于排查会话问题。
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/visemeflow/viseme"
)

// 记录状态
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// ChunkRecord 一次提取的结果记录
type ChunkRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"size:36;index:idx_chunk_session_seq,priority:1;not null" json:"session_id"`
	Seq       int64     `gorm:"index:idx_chunk_session_seq,priority:2" json:"seq"`
	Bytes     int       `json:"bytes"`
	Offset    float64   `json:"offset"`
	Duration  float64   `json:"duration"`
	CueCount  int       `json:"cue_count"`
	Cues      string    `gorm:"type:text" json:"-"`
	Status    string    `gorm:"size:16;index" json:"status"`
	ErrorCode string    `gorm:"size:64" json:"error_code,omitempty"`
	Error     string    `gorm:"type:text" json:"error,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	// MouthCues 由 Cues 解码，仅用于 API 输出
	MouthCues []viseme.MouthCue `gorm:"-" json:"mouth_cues,omitempty"`
}

// TableName 表名
func (ChunkRecord) TableName() string {
	return "chunk_records"
}

// SetCues 编码口型序列
func (r *ChunkRecord) SetCues(cues []viseme.MouthCue) error {
	if len(cues) == 0 {
		r.Cues = ""
		r.CueCount = 0
		return nil
	}
	data, err := json.Marshal(cues)
	if err != nil {
		return err
	}
	r.Cues = string(data)
	r.CueCount = len(cues)
	return nil
}

func (r *ChunkRecord) decodeCues() error {
	if r.Cues == "" {
		r.MouthCues = nil
		return nil
	}
	return json.Unmarshal([]byte(r.Cues), &r.MouthCues)
}

// Recorder 记录提取结果
type Recorder interface {
	Record(ctx context.Context, rec *ChunkRecord) error
}

// Store 基于 GORM 的记录存储
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// ErrDisabled 历史存储未启用
var ErrDisabled = errors.New("history store disabled")

// NewStore 创建存储并自动迁移表结构
func NewStore(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&ChunkRecord{}); err != nil {
		return nil, fmt.Errorf("migrate chunk records: %w", err)
	}
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "history")),
	}, nil
}

// Record 写入一条记录
func (s *Store) Record(ctx context.Context, rec *ChunkRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("record chunk: %w", err)
	}
	return nil
}

// ListBySession 返回会话最近的 limit 条记录，按序号升序
func (s *Store) ListBySession(ctx context.Context, sessionID string, limit int) ([]ChunkRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var records []ChunkRecord
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}

	// 倒序查询取最近的，再翻转为时间顺序
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	for i := range records {
		if err := records[i].decodeCues(); err != nil {
			s.logger.Warn("corrupt cue payload",
				zap.String("session_id", sessionID),
				zap.Int64("seq", records[i].Seq),
				zap.Error(err),
			)
		}
	}
	return records, nil
}

// Prune 删除早于 before 的记录，返回删除条数
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&ChunkRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune chunks: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info("pruned chunk records", zap.Int64("deleted", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// RunRetention 按 interval 周期删除超过 retention 的记录，直到 ctx 结束
func (s *Store) RunRetention(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Prune(ctx, time.Now().Add(-retention)); err != nil && ctx.Err() == nil {
				s.logger.Error("retention sweep failed", zap.Error(err))
			}
		}
	}
}
