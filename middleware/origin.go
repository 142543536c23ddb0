package middleware

import (
	"net/http"
	"strings"

	"PPHub/tools/errs"

	"github.com/gin-gonic/gin"
)

// OriginAllowed allowed 为空时放行一切；"*" 同样放行
func OriginAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 || origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(strings.TrimRight(a, "/"), strings.TrimRight(origin, "/")) {
			return true
		}
	}
	return false
}

// Origin 浏览器跨域来源校验；只检查不调用 c.Next，可放进 MiddlewareManager
func Origin(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if !OriginAllowed(allowed, origin) {
			c.AbortWithStatusJSON(http.StatusForbidden, errs.ErrAuthRejected.WithDetail("origin not allowed: "+origin))
			return
		}
		if origin != "" && len(allowed) > 0 {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
	}
}
