package vectordb

import (
	"errors"
	"fmt"
)

// ErrorKind 存储错误类别
type ErrorKind string

const (
	KindAlreadyExists     ErrorKind = "already exists"
	KindNotFound          ErrorKind = "not found"
	KindDimensionMismatch ErrorKind = "dimension mismatch"
	KindInvalidArgument   ErrorKind = "invalid argument"
	KindBackend           ErrorKind = "backend error"
)

// StoreError 向量存储错误
type StoreError struct {
	Op         string    // 操作名称
	Kind       ErrorKind // 错误类别
	Collection string    // 集合名称
	Err        error     // 底层错误
}

// Error 实现error接口
func (e *StoreError) Error() string {
	msg := "vectordb " + e.Op
	if e.Collection != "" {
		msg += " " + e.Collection
	}
	msg += ": " + string(e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap 返回底层错误
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewError 创建存储错误
func NewError(op string, kind ErrorKind, collection string, err error) *StoreError {
	return &StoreError{Op: op, Kind: kind, Collection: collection, Err: err}
}

// Errorf 使用格式化消息创建存储错误
func Errorf(op string, kind ErrorKind, collection string, format string, args ...interface{}) *StoreError {
	return NewError(op, kind, collection, fmt.Errorf(format, args...))
}

// Wrap 将后端错误包装为Backend类别，已经是StoreError的原样返回
func Wrap(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return NewError(op, KindBackend, collection, err)
}

// KindOf 返回错误类别，非存储错误返回空字符串
func KindOf(err error) ErrorKind {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsAlreadyExists 集合已存在
func IsAlreadyExists(err error) bool {
	return KindOf(err) == KindAlreadyExists
}

// IsNotFound 集合不存在
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// CollectionNotFound 集合不存在错误
func CollectionNotFound(op, collection string) error {
	return Errorf(op, KindNotFound, collection, "collection does not exist")
}

// CollectionExists 集合已存在时的错误，维度不同返回DimensionMismatch
func CollectionExists(collection string, existing, requested int) error {
	if existing != requested {
		return Errorf("ensure", KindDimensionMismatch, collection, "collection has dimension %d, requested %d", existing, requested)
	}
	return Errorf("ensure", KindAlreadyExists, collection, "collection already exists")
}
