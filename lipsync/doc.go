/*
Package lipsync 实现 websocket 口型会话：接收原始 PCM 二进制帧，
逐帧调用提取器，并按会话累计时长平移后以 JSON 返回口型序列。

# 会话模型

每个连接对应一个 Session，仅由其读循环 goroutine 修改。
帧追加到待处理缓冲区；每次提取取缓冲区中按块对齐的前缀：

  - 成功：丢弃已消费字节（不足一个采样帧的尾部保留），
    偏移量增加工具报告的时长；
  - 失败：缓冲区保持不变，下一帧的提取覆盖未报告的字节，
    同一段音频不会被报告两次。

对齐后为空（0 字节帧或仅有半个采样）时直接返回空口型序列，
时长为 0，不调用外部工具。

# 并发

提取在有界工作池中执行，会话读循环等待结果后再读取下一帧，
因此同一会话内严格顺序，不同会话互不影响。

# 注册表

Registry 维护当前活跃会话列表，供 /connections 诊断接口使用。
MemoryRegistry 为单实例默认实现；RedisRegistry 让负载均衡后的
多个实例共享同一份列表。
*/
package lipsync
