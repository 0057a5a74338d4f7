package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// =============================================================================
// 🎭 Rhubarb 替身
// =============================================================================

// RhubarbMode 控制替身脚本的行为
type RhubarbMode string

const (
	// RhubarbOK 按输入 WAV 的时长输出两段口型 (X, B)
	RhubarbOK RhubarbMode = "ok"
	// RhubarbFail 写 stderr 并以非零状态退出
	RhubarbFail RhubarbMode = "fail"
	// RhubarbNoOutput 正常退出但不写输出文件
	RhubarbNoOutput RhubarbMode = "no-output"
	// RhubarbBadJSON 输出无法解析的 JSON
	RhubarbBadJSON RhubarbMode = "bad-json"
	// RhubarbUnknownShape 输出含未知口型符号 "Z" 的结果
	RhubarbUnknownShape RhubarbMode = "unknown-shape"
	// RhubarbSlow 休眠 5 秒后按 ok 处理
	RhubarbSlow RhubarbMode = "slow"
)

// FakeRhubarb 是写入临时目录的可执行替身
type FakeRhubarb struct {
	Path     string
	callsLog string
}

// Calls 返回替身被调用的参数行（每次调用一行）
func (f *FakeRhubarb) Calls() []string {
	data, err := os.ReadFile(f.callsLog)
	if err != nil {
		return nil
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	return lines
}

// NewFakeRhubarb 生成一个与 rhubarb 命令行兼容的 shell 脚本。
// 脚本解析 "-o <out>" 与位置参数 WAV 路径，时长由 WAV 头中的 byte rate 计算。
func NewFakeRhubarb(t *testing.T, mode RhubarbMode) *FakeRhubarb {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake rhubarb requires /bin/sh")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "rhubarb")
	callsLog := filepath.Join(dir, "calls.log")

	script := fmt.Sprintf(fakeRhubarbScript, callsLog, string(mode))
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake rhubarb: %v", err)
	}
	return &FakeRhubarb{Path: path, callsLog: callsLog}
}

const fakeRhubarbScript = `#!/bin/sh
echo "$@" >> %q
mode=%q
out=""
in=""
while [ $# -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift 2 ;;
    -f|-r|--threads|--recognizer|--exportFormat) shift 2 ;;
    -*) shift ;;
    *) in="$1"; shift ;;
  esac
done

case "$mode" in
  fail) echo "Error processing file $in" >&2; exit 1 ;;
  no-output) exit 0 ;;
  bad-json) printf '{"mouthCues": [' > "$out"; exit 0 ;;
  slow) sleep 5 ;;
esac

size=$(wc -c < "$in")
rate=$(od -An -t u4 -j 28 -N 4 "$in" | tr -d ' ')
dur=$(awk -v n="$size" -v r="$rate" 'BEGIN { printf "%%.2f", (n - 44) / r }')
half=$(awk -v d="$dur" 'BEGIN { printf "%%.2f", d / 2 }')
second="B"
if [ "$mode" = "unknown-shape" ]; then second="Z"; fi

cat > "$out" <<JSON
{
  "metadata": {
    "soundFile": "$in",
    "duration": $dur
  },
  "mouthCues": [
    { "start": 0.00, "end": $half, "value": "X" },
    { "start": $half, "end": $dur, "value": "$second" }
  ]
}
JSON
`
