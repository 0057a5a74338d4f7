/*
Package testutil 提供 visemeflow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout，自动注册 Cleanup 防止泄漏
  - 断言工具: AssertErrorCode 校验 types.Error 错误码
  - 异步断言: AssertEventuallyTrue
  - Rhubarb 替身: NewFakeRhubarb 生成与真实命令行兼容的 shell 脚本，
    支持成功、失败、无输出、坏 JSON、未知口型与慢速几种模式
  - 音频数据: Silence / WAV 构造 PCM 与 WAV 测试数据

# 使用示例

	fake := testutil.NewFakeRhubarb(t, testutil.RhubarbOK)
	ex := extractor.NewRhubarb(extractor.Config{BinaryPath: fake.Path}, zap.NewNop())
	pcm := testutil.Silence(audio.DefaultFormat(), time.Second)
*/
package testutil
