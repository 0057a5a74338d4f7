package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/coder/websocket"

	"github.com/BaSui01/visemeflow/audio"
	"github.com/BaSui01/visemeflow/lipsync"
	"github.com/BaSui01/visemeflow/viseme"
)

// =============================================================================
// 🎧 stream 命令：参考客户端
// =============================================================================

// streamOptions stream 命令参数
type streamOptions struct {
	Addr    string
	File    string
	Chunk   time.Duration
	APIKey  string
	Timeout time.Duration
}

// streamReply 服务端回复，成功与错误两种形状合一
type streamReply struct {
	MouthCues []viseme.MouthCue `json:"mouthCues"`
	Metadata  *viseme.Metadata  `json:"metadata,omitempty"`
	Error     string            `json:"error,omitempty"`
	Code      string            `json:"code,omitempty"`
}

// streamSummary 一次推送的统计
type streamSummary struct {
	Chunks   int
	Errors   int
	Cues     int
	Duration float64
}

func runStream(args []string) error {
	fs := flag.NewFlagSet("stream", flag.ExitOnError)
	opts := streamOptions{}
	fs.StringVar(&opts.Addr, "addr", "ws://localhost:8080/ws", "Server websocket URL")
	fs.StringVar(&opts.File, "file", "", "WAV file to stream")
	fs.DurationVar(&opts.Chunk, "chunk", time.Second, "Audio duration per frame")
	fs.StringVar(&opts.APIKey, "api-key", os.Getenv("VISEMEFLOW_API_KEY"), "API key sent as X-API-Key")
	fs.DurationVar(&opts.Timeout, "timeout", time.Minute, "Per-reply timeout")
	_ = fs.Parse(args)

	if opts.File == "" {
		return errors.New("--file is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sum, err := streamFile(ctx, opts, os.Stdout)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "chunks=%d errors=%d cues=%d duration=%.3fs\n",
		sum.Chunks, sum.Errors, sum.Cues, sum.Duration)
	return nil
}

// streamFile 读取 WAV，按 opts.Chunk 切块逐帧发送，每条回复以一行 JSON 写入 out
func streamFile(ctx context.Context, opts streamOptions, out io.Writer) (streamSummary, error) {
	var sum streamSummary

	pcm, format, err := audio.ReadWAVFile(opts.File)
	if err != nil {
		return sum, err
	}
	chunkBytes := format.BytesInDuration(opts.Chunk)
	if chunkBytes <= 0 {
		return sum, fmt.Errorf("chunk %s is shorter than one audio frame", opts.Chunk)
	}

	target, err := streamURL(opts.Addr, format)
	if err != nil {
		return sum, err
	}

	dialOpts := &websocket.DialOptions{HTTPHeader: http.Header{}}
	if opts.APIKey != "" {
		dialOpts.HTTPHeader.Set("X-API-Key", opts.APIKey)
	}
	conn, _, err := websocket.Dial(ctx, target, dialOpts)
	if err != nil {
		return sum, fmt.Errorf("dial %s: %w", opts.Addr, err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}

	enc := json.NewEncoder(out)
	for start := 0; start < len(pcm); start += chunkBytes {
		end := min(start+chunkBytes, len(pcm))
		reply, err := exchangeChunk(ctx, conn, pcm[start:end], timeout)
		if err != nil {
			return sum, fmt.Errorf("chunk %d: %w", sum.Chunks, err)
		}

		sum.Chunks++
		if reply.Error != "" {
			sum.Errors++
		} else {
			sum.Cues += len(reply.MouthCues)
			if reply.Metadata != nil {
				sum.Duration += reply.Metadata.Duration
			}
		}
		if err := enc.Encode(reply); err != nil {
			return sum, err
		}
	}

	return sum, conn.Close(websocket.StatusNormalClosure, "done")
}

func exchangeChunk(ctx context.Context, conn *websocket.Conn, chunk []byte, timeout time.Duration) (streamReply, error) {
	var reply streamReply

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
		return reply, fmt.Errorf("send: %w", err)
	}
	typ, data, err := conn.Read(ctx)
	if err != nil {
		return reply, fmt.Errorf("receive: %w", err)
	}
	if typ != websocket.MessageText {
		return reply, fmt.Errorf("unexpected %s reply", typ)
	}
	if err := json.Unmarshal(data, &reply); err != nil {
		return reply, fmt.Errorf("decode reply: %w", err)
	}
	return reply, nil
}

// streamURL 把音频格式编码进查询参数
func streamURL(addr string, f audio.Format) (string, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("invalid addr: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set(lipsync.ParamChannels, strconv.Itoa(f.Channels))
	q.Set(lipsync.ParamSampleRate, strconv.Itoa(f.SampleRate))
	q.Set(lipsync.ParamSampleWidth, strconv.Itoa(f.SampleWidth))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
