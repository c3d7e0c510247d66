package models

import "errors"

var (
	// ErrSourceNotFound 导入记录不存在
	ErrSourceNotFound = errors.New("source not found")

	// ErrInvalidSourceStatus 无效的导入状态
	ErrInvalidSourceStatus = errors.New("invalid source status")
)
