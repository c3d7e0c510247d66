package middleware

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// TraceIDKey 追踪ID在gin上下文中的键
	TraceIDKey = "TraceID"
	// TraceIDHeader 追踪ID的请求头和响应头
	TraceIDHeader = "X-Trace-ID"

	// 调试日志中请求体和响应体的最大长度
	maxLoggedBody = 4 << 10
)

var log = logrus.New()

func init() {
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	log.SetLevel(logrus.InfoLevel)

	// 配置加载前的日志级别
	if lvl, err := logrus.ParseLevel(os.Getenv("LANGDATA_LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	}
}

// Logger 访问日志中间件
// 5xx记为error，4xx记为warn
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path += "?" + raw
		}

		c.Next()

		status := c.Writer.Status()
		entry := WithTrace(c, log).WithFields(logrus.Fields{
			"status_code": status,
			"latency":     time.Since(start).String(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
			"bytes":       c.Writer.Size(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			entry.Error("HTTP request")
		case status >= 400:
			entry.Warn("HTTP request")
		default:
			entry.Info("HTTP request")
		}
	}
}

// RequestBodyLog 在debug级别记录请求体，multipart上传只记录长度
func RequestBodyLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !log.IsLevelEnabled(logrus.DebugLevel) || c.Request.Body == nil {
			c.Next()
			return
		}

		entry := WithTrace(c, log).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		})
		if c.ContentType() == gin.MIMEMultipartPOSTForm {
			entry.WithField("content_length", c.Request.ContentLength).Debug("Request body")
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		if err == nil && len(body) > 0 {
			entry.WithField("body", truncate(body)).Debug("Request body")
		}
		c.Next()
	}
}

// ResponseLogger 在debug级别记录响应体
func ResponseLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !log.IsLevelEnabled(logrus.DebugLevel) {
			c.Next()
			return
		}

		writer := &responseBodyWriter{ResponseWriter: c.Writer}
		c.Writer = writer
		c.Next()

		WithTrace(c, log).WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status_code": c.Writer.Status(),
			"response":    truncate(writer.body.Bytes()),
		}).Debug("Response body")
	}
}

// responseBodyWriter 同时写入响应和缓冲区
type responseBodyWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (r *responseBodyWriter) Write(b []byte) (int, error) {
	if room := maxLoggedBody + 1 - r.body.Len(); room > 0 {
		r.body.Write(b[:min(len(b), room)])
	}
	return r.ResponseWriter.Write(b)
}

func truncate(body []byte) string {
	if len(body) > maxLoggedBody {
		return string(body[:maxLoggedBody]) + "...(truncated)"
	}
	return string(body)
}

// SetTraceID 沿用请求头中的追踪ID，没有时生成一个，并写回响应头
func SetTraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceIDHeader)
		if traceID == "" {
			traceID = generateTraceID()
		}
		c.Set(TraceIDKey, traceID)
		c.Header(TraceIDHeader, traceID)
		c.Next()
	}
}

func generateTraceID() string {
	return time.Now().Format("20060102150405") + "-" + uuid.NewString()[:8]
}

// traceIDOf 返回当前请求的追踪ID
func traceIDOf(c *gin.Context) string {
	return c.GetString(TraceIDKey)
}

// WithTrace 返回带有trace_id字段的日志条目
func WithTrace(c *gin.Context, logger *logrus.Logger) *logrus.Entry {
	if logger == nil {
		logger = log
	}
	if id := traceIDOf(c); id != "" {
		return logger.WithField("trace_id", id)
	}
	return logrus.NewEntry(logger)
}

// GetLogger 返回共享的日志记录器
// 各组件都应通过它记录日志，以便统一格式和输出
func GetLogger() *logrus.Logger {
	return log
}

// Configure 设置日志级别和输出，空值保持不变
func Configure(level string, out io.Writer) error {
	if level != "" {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return err
		}
		log.SetLevel(lvl)
	}
	if out != nil {
		log.SetOutput(out)
	}
	return nil
}
