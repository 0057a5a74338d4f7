package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/visemeflow/audio"
	"github.com/BaSui01/visemeflow/types"
	"github.com/BaSui01/visemeflow/viseme"
)

const (
	inputFile  = "input.wav"
	outputFile = "cues.json"

	// 进程被杀后等待输出管道关闭的上限
	waitDelay = time.Second
	// 日志中 stdout/stderr 的截断长度
	maxLoggedOutput = 2048
)

// Request 单次提取的输入
type Request struct {
	Audio  []byte
	Format audio.Format
	// Offset 会话内此前已报告的累计时长（秒），加到每个口型的起止时间上
	Offset float64
}

// Extractor turns a block of PCM audio into a viseme timeline.
type Extractor interface {
	Extract(ctx context.Context, req Request) (*viseme.Result, error)
}

// Config configures the rhubarb invoker.
type Config struct {
	BinaryPath string        `yaml:"binary_path" env:"BINARY_PATH"`
	Recognizer string        `yaml:"recognizer" env:"RECOGNIZER"`
	Threads    int           `yaml:"threads" env:"THREADS"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`

	// WorkDir 临时目录的父目录，空表示系统临时目录
	WorkDir   string   `yaml:"work_dir" env:"WORK_DIR"`
	ExtraArgs []string `yaml:"extra_args" env:"-"`
}

// DefaultConfig returns the stock rhubarb settings.
func DefaultConfig() Config {
	return Config{
		BinaryPath: "rhubarb_linux/rhubarb",
		Recognizer: "phonetic",
		Threads:    1,
		Timeout:    30 * time.Second,
	}
}

// Rhubarb runs the rhubarb command line tool once per request.
type Rhubarb struct {
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer

	// OTLP 导出的工具运行指标；遥测关闭时为 noop
	runDuration metric.Float64Histogram
	runs        metric.Int64Counter
}

// NewRhubarb creates a rhubarb invoker. Zero config fields fall back to
// DefaultConfig.
func NewRhubarb(cfg Config, logger *zap.Logger) *Rhubarb {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = def.BinaryPath
	}
	if cfg.Recognizer == "" {
		cfg.Recognizer = def.Recognizer
	}
	if cfg.Threads <= 0 {
		cfg.Threads = def.Threads
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	r := &Rhubarb{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "rhubarb")),
		tracer: otel.Tracer("github.com/BaSui01/visemeflow/extractor"),
	}

	meter := otel.Meter("github.com/BaSui01/visemeflow/extractor")
	var err error
	if r.runDuration, err = meter.Float64Histogram("rhubarb.run.duration",
		metric.WithDescription("Wall time of one rhubarb invocation"),
		metric.WithUnit("s"),
	); err != nil {
		r.logger.Warn("create rhubarb duration histogram", zap.Error(err))
	}
	if r.runs, err = meter.Int64Counter("rhubarb.runs",
		metric.WithDescription("rhubarb invocations by result"),
	); err != nil {
		r.logger.Warn("create rhubarb run counter", zap.Error(err))
	}
	return r
}

// observeRun 记录一次工具运行；instrument 创建失败时跳过
func (r *Rhubarb) observeRun(ctx context.Context, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		if code := types.GetErrorCode(err); code != "" {
			result = string(code)
		}
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	if r.runDuration != nil {
		r.runDuration.Record(ctx, elapsed.Seconds(), attrs)
	}
	if r.runs != nil {
		r.runs.Add(ctx, 1, attrs)
	}
}

// BinaryPath returns the executable the invoker runs.
func (r *Rhubarb) BinaryPath() string {
	return r.cfg.BinaryPath
}

// Args returns the command line for the given input and output paths.
func (r *Rhubarb) Args(input, output string) []string {
	args := []string{
		"-f", "json",
		"-o", output,
		input,
		"-r", r.cfg.Recognizer,
		"--threads", strconv.Itoa(r.cfg.Threads),
	}
	return append(args, r.cfg.ExtraArgs...)
}

// Extract writes req.Audio to a scratch WAV file, runs rhubarb on it and
// returns the translated cues shifted by req.Offset.
func (r *Rhubarb) Extract(ctx context.Context, req Request) (result *viseme.Result, err error) {
	ctx, span := r.tracer.Start(ctx, "rhubarb.extract", trace.WithAttributes(
		attribute.Int("audio.bytes", len(req.Audio)),
		attribute.Int("audio.channels", req.Format.Channels),
		attribute.Int("audio.sample_rate", req.Format.SampleRate),
		attribute.Int("audio.sample_width", req.Format.SampleWidth),
		attribute.Float64("offset", req.Offset),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Float64("duration", result.Metadata.Duration))
		}
		span.End()
	}()

	dir, err := os.MkdirTemp(r.cfg.WorkDir, "visemeflow-")
	if err != nil {
		return nil, types.NewSerializationError("failed to create scratch directory", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			r.logger.Warn("failed to remove scratch directory", zap.String("dir", dir), zap.Error(rmErr))
		}
	}()

	input := filepath.Join(dir, inputFile)
	output := filepath.Join(dir, outputFile)

	if err := audio.WriteWAVFile(input, req.Audio, req.Format); err != nil {
		return nil, err
	}

	runStart := time.Now()
	runErr := r.run(ctx, input, output)
	r.observeRun(ctx, time.Since(runStart), runErr)
	if runErr != nil {
		return nil, runErr
	}

	raw, err := readOutput(output)
	if err != nil {
		return nil, err
	}

	cues, err := viseme.Translate(raw.MouthCues, req.Offset)
	if err != nil {
		return nil, err
	}

	return &viseme.Result{MouthCues: cues, Metadata: raw.Metadata}, nil
}

func (r *Rhubarb) run(ctx context.Context, input, output string) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.cfg.BinaryPath, r.Args(input, output)...)
	cmd.Dir = filepath.Dir(input)
	cmd.WaitDelay = waitDelay

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	r.logger.Debug("rhubarb finished",
		zap.String("binary", r.cfg.BinaryPath),
		zap.Duration("elapsed", elapsed),
		zap.String("stdout", truncate(stdoutBuf.String())),
		zap.String("stderr", truncate(stderrBuf.String())),
	)

	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return types.NewToolExecutionError(
			fmt.Sprintf("rhubarb timed out after %s", r.cfg.Timeout), err)
	case ctx.Err() != nil:
		return types.NewToolExecutionError("rhubarb cancelled", ctx.Err())
	case errors.As(err, &exitErr):
		return types.NewToolExecutionError(
			fmt.Sprintf("rhubarb exited with status %d: %s", exitErr.ExitCode(), lastLine(stderrBuf.String())), err)
	default:
		return types.NewToolExecutionError("failed to run rhubarb", err)
	}
}

// toolOutput rhubarb -f json 的输出结构
type toolOutput struct {
	Metadata  viseme.Metadata `json:"metadata"`
	MouthCues []viseme.RawCue `json:"mouthCues"`
}

func readOutput(path string) (*toolOutput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, types.NewToolExecutionError("rhubarb produced no output file", err)
		}
		return nil, types.NewToolExecutionError("failed to read rhubarb output", err)
	}

	var out toolOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, types.NewToolExecutionError("rhubarb output is not valid JSON", err)
	}
	return &out, nil
}

// CheckBinary verifies path names an executable regular file.
func CheckBinary(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("rhubarb binary: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("rhubarb binary %s is not a regular file", path)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("rhubarb binary %s is not executable", path)
	}
	return nil
}

func truncate(s string) string {
	if len(s) <= maxLoggedOutput {
		return s
	}
	return s[:maxLoggedOutput] + "...(truncated)"
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "no stderr output"
	}
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
