/*
Package types 提供 visemeflow 的全局共享类型定义。

types 是最底层的公共包，不依赖任何内部包。目前只承载结构化错误体系：

  - Error / ErrorCode：错误码、HTTP 状态码、Retryable 标记
  - 常用构造函数：NewSerializationError / NewToolExecutionError /
    NewUnknownShapeError / NewConnectionError
  - 错误工具链：AsError / IsErrorCode / IsRetryable / GetErrorCode
*/
package types
