package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// EmbeddingError 嵌入错误类型
type EmbeddingError struct {
	Code    int    // 错误码
	Status  int    // 后端返回的HTTP状态码，0表示没有响应
	Message string // 错误消息
}

// Error 实现error接口
func (e EmbeddingError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("embedding error (code=%d, status=%d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("embedding error (code=%d): %s", e.Code, e.Message)
}

// 错误码常量
const (
	ErrCodeInvalidAPIKey     = 1001 // 无效的API密钥
	ErrCodeInvalidRequest    = 1002 // 无效的请求
	ErrCodeNetworkError      = 1003 // 网络连接错误
	ErrCodeRateLimited       = 1004 // 请求频率超限
	ErrCodeServerError       = 1005 // 服务器错误
	ErrCodeTimeout           = 1006 // 请求超时
	ErrCodeEmptyInput        = 1007 // 输入为空
	ErrCodeMalformedResponse = 1008 // 响应格式错误
)

// 常用错误
var (
	ErrEmptyText = EmbeddingError{Code: ErrCodeEmptyInput, Message: "input text cannot be empty"}
)

// NewEmbeddingError 创建新的嵌入错误
func NewEmbeddingError(code int, format string, args ...interface{}) EmbeddingError {
	return EmbeddingError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsCode 判断错误是否为指定错误码的嵌入错误
func IsCode(err error, code int) bool {
	var e EmbeddingError
	return errors.As(err, &e) && e.Code == code
}

// statusError 将HTTP状态码映射为嵌入错误
func statusError(status int, message string) EmbeddingError {
	code := ErrCodeServerError
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = ErrCodeInvalidAPIKey
	case status == http.StatusTooManyRequests:
		code = ErrCodeRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		code = ErrCodeTimeout
	case status >= 400 && status < 500:
		code = ErrCodeInvalidRequest
	}
	return EmbeddingError{Code: code, Status: status, Message: message}
}

// transportError 将传输层错误转换为嵌入错误
func transportError(err error) error {
	var e EmbeddingError
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return EmbeddingError{Code: ErrCodeTimeout, Message: err.Error()}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return EmbeddingError{Code: ErrCodeNetworkError, Message: err.Error()}
}

// retryable 限流、服务端错误、网络错误和超时可以重试
func retryable(err error) bool {
	var e EmbeddingError
	if !errors.As(err, &e) {
		return false
	}
	switch e.Code {
	case ErrCodeRateLimited, ErrCodeServerError, ErrCodeNetworkError, ErrCodeTimeout:
		return true
	}
	return false
}
