/*
Package extractor 把一段 PCM 音频交给外部 rhubarb 工具，解析其 JSON 输出，
并转换成带会话偏移量的数字口型序列。

# 调用流程

每次调用使用独立的临时目录，写入 input.wav，执行

	rhubarb -f json -o <dir>/cues.json <dir>/input.wav -r phonetic --threads 1

进程非零退出、超时、无法启动、缺少输出文件或输出不是合法 JSON 时返回
TOOL_EXECUTION_ERROR；输出中出现未知口型符号时返回 UNKNOWN_SHAPE_SYMBOL。
临时目录在任何返回路径上都会被删除。
*/
package extractor
