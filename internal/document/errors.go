package document

import "fmt"

// ConfigError 配置错误
// 分块参数非法、缺少集合名、未知的提供商等编程错误
type ConfigError struct {
	Field   string // 出错的配置项
	Message string // 错误描述
}

// Error 实现error接口
func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config error: " + e.Message
	}
	return fmt.Sprintf("config error (%s): %s", e.Field, e.Message)
}

// NewConfigError 创建配置错误
func NewConfigError(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// LoaderError 加载器未能产出文档
type LoaderError struct {
	Source string // 文件路径或链接
	Err    error  // 底层错误
}

// Error 实现error接口
func (e *LoaderError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Source, e.Err)
}

// Unwrap 返回底层错误
func (e *LoaderError) Unwrap() error {
	return e.Err
}

func newLoaderError(source string, err error) *LoaderError {
	return &LoaderError{Source: source, Err: err}
}
