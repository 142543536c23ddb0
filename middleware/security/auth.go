package security

import (
	"net/http"
	"strings"

	"PPHub/tools/errs"
	"PPHub/tools/security"

	"github.com/gin-gonic/gin"
)

// context key，后续 handler 统一用它读取
const (
	PPCtxAuthKey     = "authorization"
	PPCtxIdentityKey = "identity"

	// DefaultTokenHeader 专用令牌头，不能与 Authorization 同名
	DefaultTokenHeader = "token"
)

type Options struct {
	HeaderToken               string // 默认 "token"
	EnableAuthorizationBearer bool   // 默认 true
	EnableQueryToken          bool   // 允许 ?token=，浏览器 WebSocket 无法带头
	JWT                       security.Options
}

func DefaultOptions(jwt security.Options) *Options {
	return &Options{
		HeaderToken:               DefaultTokenHeader,
		EnableAuthorizationBearer: true,
		EnableQueryToken:          true,
		JWT:                       jwt,
	}
}

// Token 依次从自定义头、Authorization: Bearer、query 中取令牌；任一来源带 bearer 前缀都会去掉
func Token(c *gin.Context, opts *Options) string {
	var token string
	if opts.HeaderToken != "" {
		token = stripBearer(c.GetHeader(opts.HeaderToken))
	}
	if token == "" && opts.EnableAuthorizationBearer {
		if authz := strings.TrimSpace(c.GetHeader("Authorization")); hasBearer(authz) {
			token = stripBearer(authz)
		}
	}
	if token == "" && opts.EnableQueryToken {
		token = stripBearer(c.Query("token"))
	}
	return token
}

func hasBearer(v string) bool {
	return len(v) > 7 && strings.EqualFold(v[:7], "bearer ")
}

func stripBearer(v string) string {
	v = strings.TrimSpace(v)
	if hasBearer(v) {
		v = v[7:]
	}
	return strings.TrimSpace(v)
}

// Middleware 校验 JWT，成功后把 *security.Identity 写入 context
func Middleware(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := Token(c, opts)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrAuthRejected.WithDetail("missing token"))
			return
		}
		id, err := security.Verify(opts.JWT, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.AsCode(err))
			return
		}
		c.Set(PPCtxAuthKey, token)
		c.Set(PPCtxIdentityKey, id)
		c.Next()
	}
}

// IdentityOf 取 Middleware 写入的身份
func IdentityOf(c *gin.Context) (*security.Identity, bool) {
	v, ok := c.Get(PPCtxIdentityKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(*security.Identity)
	return id, ok
}
