package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the service.
type ErrorCode string

// Extraction pipeline error codes
const (
	ErrSerialization      ErrorCode = "SERIALIZATION_ERROR"
	ErrToolExecution      ErrorCode = "TOOL_EXECUTION_ERROR"
	ErrUnknownShapeSymbol ErrorCode = "UNKNOWN_SHAPE_SYMBOL"
	ErrConnection         ErrorCode = "CONNECTION_ERROR"
)

// Generic error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// =============================================================================
// 🧱 常用错误构造
// =============================================================================

// NewSerializationError 波形文件写入失败（磁盘、权限、非法格式参数）
func NewSerializationError(message string, cause error) *Error {
	return NewError(ErrSerialization, message).WithCause(cause).WithRetryable(true)
}

// NewToolExecutionError 外部提取工具执行失败（非零退出、超时、缺少输出文件）
func NewToolExecutionError(message string, cause error) *Error {
	return NewError(ErrToolExecution, message).WithCause(cause).WithRetryable(true)
}

// NewUnknownShapeError 工具输出了映射表之外的口型符号
func NewUnknownShapeError(symbol string) *Error {
	return NewError(ErrUnknownShapeSymbol, fmt.Sprintf("unknown mouth shape symbol %q", symbol))
}

// NewConnectionError 传输层断开
func NewConnectionError(message string, cause error) *Error {
	return NewError(ErrConnection, message).WithCause(cause)
}

// =============================================================================
// 🔍 错误工具链
// =============================================================================

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode reports whether any *Error in the chain carries code.
func IsErrorCode(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}
