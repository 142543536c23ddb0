package middleware

import (
	"strconv"
	"time"

	"PPHub/logger"
	"PPHub/service/metrics"
	"PPHub/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Logger 请求日志 + 耗时指标；path 取路由模板，避免基数爆炸
func Logger(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		took := time.Since(start)

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		m.HTTP(c.Request.Method, path, strconv.Itoa(status), took.Seconds())

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("took", took),
			zap.String("client", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case status >= 500:
			logger.Error("[HTTP]", fields...)
		case status >= 400:
			logger.Warn("[HTTP]", fields...)
		default:
			logger.Debug("[HTTP]", fields...)
		}
	}
}

// Recovery panic 转成 500 + CodeError
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				err := errs.ErrPanic(r)
				logger.Error("[HTTP] panic recovered", zap.String("path", c.Request.URL.Path), zap.Error(err))
				c.AbortWithStatusJSON(500, errs.ErrInternal.WithDetail("internal error"))
			}
		}()
		c.Next()
	}
}
