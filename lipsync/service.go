package lipsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/visemeflow/extractor"
	"github.com/BaSui01/visemeflow/history"
	"github.com/BaSui01/visemeflow/internal/metrics"
	"github.com/BaSui01/visemeflow/internal/pool"
	"github.com/BaSui01/visemeflow/types"
	"github.com/BaSui01/visemeflow/viseme"
)

// 会话关闭原因
const (
	CloseClientClosed   = "client_closed"
	CloseIdleTimeout    = "idle_timeout"
	CloseFrameTooLarge  = "frame_too_large"
	CloseConnectionLost = "connection_error"
	CloseShutdown       = "shutdown"
)

// 附属写操作（注册表、历史）的超时
const sideEffectTimeout = 2 * time.Second

// Service 处理会话帧：提取、平移、记录
type Service struct {
	extractor extractor.Extractor
	pool      *pool.Pool
	registry  Registry
	recorder  history.Recorder
	metrics   *metrics.Collector
	logger    *zap.Logger

	maxPending int64
}

// Option configures a Service.
type Option func(*Service)

// WithRegistry sets the session registry. Defaults to a MemoryRegistry.
func WithRegistry(r Registry) Option {
	return func(s *Service) { s.registry = r }
}

// WithRecorder enables per-chunk history.
func WithRecorder(r history.Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Service) { s.metrics = c }
}

// WithMaxPendingBytes caps the audio a session may keep buffered after
// failed extractions. Non-positive values disable the cap.
func WithMaxPendingBytes(n int64) Option {
	return func(s *Service) { s.maxPending = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates the session service.
func NewService(ex extractor.Extractor, p *pool.Pool, opts ...Option) *Service {
	s := &Service{
		extractor: ex,
		pool:      p,
		registry:  NewMemoryRegistry(),
		logger:    zap.NewNop(),

		maxPending: DefaultHandlerConfig().MaxPendingBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "lipsync"))
	return s
}

// Registry returns the session registry.
func (s *Service) Registry() Registry {
	return s.registry
}

// Open registers a new session.
func (s *Service) Open(ctx context.Context, sess *Session) {
	s.putInfo(ctx, sess)
	if s.metrics != nil {
		s.metrics.SessionOpened()
	}
	s.logger.Info("session opened",
		zap.String("session_id", sess.ID),
		zap.String("remote_addr", sess.RemoteAddr),
		zap.Stringer("format", sess.Format),
	)
}

// Close releases the session buffer and unregisters it.
func (s *Service) Close(sess *Session, reason string) {
	pending := sess.Pending()
	sess.release()

	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	err := s.registry.Remove(ctx, sess.ID)
	s.recordRegistry("remove", err)

	lifetime := time.Since(sess.CreatedAt)
	if s.metrics != nil {
		s.metrics.SessionClosed(reason, lifetime)
	}
	s.logger.Info("session closed",
		zap.String("session_id", sess.ID),
		zap.String("reason", reason),
		zap.Int64("frames", sess.frames),
		zap.Float64("offset", sess.offset),
		zap.Int("discarded_bytes", pending),
		zap.Duration("lifetime", lifetime),
	)
}

// Process handles one binary frame. Per-chunk failures are returned as
// error responses; the session stays usable.
func (s *Service) Process(ctx context.Context, sess *Session, frame []byte) Response {
	if s.metrics != nil {
		s.metrics.RecordFrame("binary", len(frame))
	}

	input := sess.append(frame)
	seq := sess.seq
	offset := sess.offset

	if len(input) == 0 {
		if s.metrics != nil {
			s.metrics.RecordExtraction("skipped", 0, 0, 0)
		}
		s.putInfo(ctx, sess)
		return emptyResponse()
	}

	start := time.Now()
	var result *viseme.Result
	err := s.pool.SubmitWait(ctx, func(ctx context.Context) error {
		var exErr error
		result, exErr = s.extractor.Extract(ctx, extractor.Request{
			Audio:  input,
			Format: sess.Format,
			Offset: offset,
		})
		return exErr
	})
	latency := time.Since(start)
	s.recordPool()

	if err != nil {
		tErr := classify(err)
		sess.fail()

		// 连续失败时缓冲区持续增长；超过上限后丢弃对齐部分，偏移量按丢弃时长推进
		if s.maxPending > 0 && int64(sess.Pending()) > s.maxPending {
			dropped := sess.discard(len(input))
			tErr = types.NewError(tErr.Code,
				fmt.Sprintf("%s; discarded %.3fs of buffered audio", tErr.Message, dropped)).
				WithCause(err).WithRetryable(tErr.Retryable)
			s.logger.Warn("buffered audio discarded",
				zap.String("session_id", sess.ID),
				zap.Int64("seq", seq),
				zap.Int("discarded_bytes", len(input)),
				zap.Float64("discarded_seconds", dropped),
				zap.Int64("max_pending_bytes", s.maxPending),
			)
		}

		s.logger.Warn("extraction failed",
			zap.String("session_id", sess.ID),
			zap.Int64("seq", seq),
			zap.Int("buffer_bytes", len(input)),
			zap.Stringer("format", sess.Format),
			zap.String("code", string(tErr.Code)),
			zap.Error(err),
		)
		if s.metrics != nil {
			s.metrics.RecordExtraction(string(tErr.Code), latency, 0, 0)
		}
		s.record(ctx, &history.ChunkRecord{
			SessionID: sess.ID,
			Seq:       seq,
			Bytes:     len(input),
			Offset:    offset,
			Status:    history.StatusError,
			ErrorCode: string(tErr.Code),
			Error:     tErr.Error(),
			LatencyMS: latency.Milliseconds(),
		}, nil)
		s.putInfo(ctx, sess)
		return errorResponse(tErr)
	}

	sess.commit(len(input), result.Metadata.Duration)

	s.logger.Debug("extraction completed",
		zap.String("session_id", sess.ID),
		zap.Int64("seq", seq),
		zap.Int("buffer_bytes", len(input)),
		zap.Float64("offset", offset),
		zap.Float64("duration", result.Metadata.Duration),
		zap.Int("cues", len(result.MouthCues)),
		zap.Duration("latency", latency),
	)
	if s.metrics != nil {
		s.metrics.RecordExtraction("ok", latency, result.Metadata.Duration, len(result.MouthCues))
	}
	s.record(ctx, &history.ChunkRecord{
		SessionID: sess.ID,
		Seq:       seq,
		Bytes:     len(input),
		Offset:    offset,
		Duration:  result.Metadata.Duration,
		Status:    history.StatusOK,
		LatencyMS: latency.Milliseconds(),
	}, result.MouthCues)
	s.putInfo(ctx, sess)

	return Response{Result: result}
}

// Reject builds the reply for a frame that cannot be processed, such as a
// text frame. The session state is not touched.
func (s *Service) Reject(sess *Session, frameType string, err *types.Error) Response {
	if s.metrics != nil {
		s.metrics.RecordFrame(frameType, 0)
	}
	s.logger.Warn("frame rejected",
		zap.String("session_id", sess.ID),
		zap.String("frame_type", frameType),
		zap.String("code", string(err.Code)),
	)
	return errorResponse(err)
}

// classify 将任意错误归入错误码体系
func classify(err error) *types.Error {
	if tErr, ok := types.AsError(err); ok {
		return tErr
	}
	switch {
	case errors.Is(err, pool.ErrPoolClosed), errors.Is(err, pool.ErrTaskTimeout):
		return types.NewError(types.ErrServiceUnavailable, "extraction capacity exhausted").
			WithCause(err).WithRetryable(true)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return types.NewError(types.ErrServiceUnavailable, "extraction cancelled").WithCause(err)
	default:
		return types.NewError(types.ErrInternalError, err.Error()).WithCause(err)
	}
}

func (s *Service) putInfo(ctx context.Context, sess *Session) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	err := s.registry.Put(ctx, sess.Info())
	s.recordRegistry("put", err)
}

func (s *Service) recordRegistry(op string, err error) {
	if s.metrics != nil {
		s.metrics.RecordRegistryOp(s.registry.Name(), op, err)
	}
	if err != nil {
		s.logger.Warn("session registry update failed",
			zap.String("registry", s.registry.Name()),
			zap.String("operation", op),
			zap.Error(err),
		)
	}
}

func (s *Service) record(ctx context.Context, rec *history.ChunkRecord, cues []viseme.MouthCue) {
	if s.recorder == nil {
		return
	}
	if err := rec.SetCues(cues); err != nil {
		s.logger.Warn("encode cues for history", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	start := time.Now()
	err := s.recorder.Record(ctx, rec)
	if s.metrics != nil {
		s.metrics.RecordDBQuery("history", "insert", time.Since(start))
	}
	if err != nil {
		s.logger.Warn("history record failed",
			zap.String("session_id", rec.SessionID),
			zap.Int64("seq", rec.Seq),
			zap.Error(err),
		)
	}
}

func (s *Service) recordPool() {
	if s.metrics == nil {
		return
	}
	st := s.pool.Stats()
	s.metrics.RecordPool(st.Workers, st.Active, st.Queued)
}
