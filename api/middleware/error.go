package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/fyerfyer/lang-data/api/model"
	"github.com/fyerfyer/lang-data/internal/document"
	"github.com/fyerfyer/lang-data/internal/embedding"
	"github.com/fyerfyer/lang-data/internal/models"
	"github.com/fyerfyer/lang-data/internal/vectordb"
	"github.com/fyerfyer/lang-data/pkg/storage"
	"github.com/fyerfyer/lang-data/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// 定义应用中的错误类型常量
const (
	ErrorTypeValidation  = "VALIDATION_ERROR"  // 输入验证错误
	ErrorTypeNotFound    = "NOT_FOUND_ERROR"   // 资源不存在错误
	ErrorTypeConflict    = "CONFLICT_ERROR"    // 资源已存在
	ErrorTypeRateLimited = "RATE_LIMITED"      // 上游限流
	ErrorTypeUnavailable = "UNAVAILABLE_ERROR" // 功能未启用
	ErrorTypeInternal    = "INTERNAL_ERROR"    // 内部服务器错误
)

// AppError 应用错误结构体
type AppError struct {
	Type    string // 错误类型
	Message string // 错误消息
	Details string // 详细错误信息
	Code    int    // HTTP状态码
}

// Error 实现error接口的方法
func (e AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewValidationError 创建输入验证错误
func NewValidationError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeValidation,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusBadRequest,
	}
}

// NewNotFoundError 创建资源不存在错误
func NewNotFoundError(message string) AppError {
	return AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
		Code:    http.StatusNotFound,
	}
}

// NewConflictError 创建资源冲突错误
func NewConflictError(message string) AppError {
	return AppError{
		Type:    ErrorTypeConflict,
		Message: message,
		Code:    http.StatusConflict,
	}
}

// NewUnavailableError 创建功能不可用错误
func NewUnavailableError(message string) AppError {
	return AppError{
		Type:    ErrorTypeUnavailable,
		Message: message,
		Code:    http.StatusServiceUnavailable,
	}
}

// NewInternalError 创建内部服务器错误
func NewInternalError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusInternalServerError,
	}
}

// MapError 将领域错误映射为应用错误
func MapError(err error) AppError {
	var appErr AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var appErrPtr *AppError
	if errors.As(err, &appErrPtr) {
		return *appErrPtr
	}

	var cfgErr *document.ConfigError
	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &cfgErr):
		return NewValidationError(cfgErr.Error())
	case errors.As(err, &validationErrs):
		return NewValidationError("invalid request", validationErrs.Error())
	case vectordb.IsNotFound(err),
		errors.Is(err, models.ErrSourceNotFound),
		errors.Is(err, taskqueue.ErrTaskNotFound),
		errors.Is(err, storage.ErrNotFound):
		return NewNotFoundError(err.Error())
	case vectordb.KindOf(err) == vectordb.KindInvalidArgument,
		vectordb.KindOf(err) == vectordb.KindDimensionMismatch:
		return NewValidationError(err.Error())
	case vectordb.IsAlreadyExists(err):
		return NewConflictError(err.Error())
	case embedding.IsCode(err, embedding.ErrCodeRateLimited):
		return AppError{
			Type:    ErrorTypeRateLimited,
			Message: "embedding provider rate limit exceeded",
			Details: err.Error(),
			Code:    http.StatusTooManyRequests,
		}
	default:
		return NewInternalError("internal server error", err.Error())
	}
}

// ErrorMiddleware 统一错误处理中间件
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 捕获 panic
		defer func() {
			if err := recover(); err != nil {
				log.WithFields(logrus.Fields{
					"error": err,
					"stack": string(debug.Stack()),
					"path":  c.Request.URL.Path,
				}).Error("Panic recovered in API request")

				errorResponse := model.NewErrorResponse(
					http.StatusInternalServerError,
					"An unexpected error occurred",
				)
				if gin.Mode() == gin.DebugMode {
					errorResponse.Message = fmt.Sprintf("Panic: %v", err)
				}
				errorResponse.TraceID = traceIDOf(c)
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse)
			}
		}()

		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		// 取最后一个错误进行处理
		err := c.Errors.Last().Err
		appErr := MapError(err)
		traceID := traceIDOf(c)

		entry := log.WithFields(logrus.Fields{
			"error_type": appErr.Type,
			"trace_id":   traceID,
			"path":       c.Request.URL.Path,
		}).WithError(err)
		if appErr.Code >= http.StatusInternalServerError {
			entry.Error(appErr.Message)
		} else {
			entry.Warn(appErr.Message)
		}

		errResp := model.NewErrorResponse(appErr.Code, appErr.Message)
		if appErr.Details != "" && (appErr.Code < http.StatusInternalServerError || gin.Mode() == gin.DebugMode) {
			errResp.Message = appErr.Message + ": " + appErr.Details
		}
		errResp.TraceID = traceID

		if !c.Writer.Written() {
			c.JSON(appErr.Code, errResp)
		}
		c.Abort()
	}
}

// HandleError 在处理器中使用的错误处理辅助函数
func HandleError(c *gin.Context, err error) {
	_ = c.Error(err)
}
