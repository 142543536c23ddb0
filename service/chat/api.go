package chat

import (
	"net/http"
	"strings"

	"PPHub/logger"
	"PPHub/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GetHistory GET /chat/channels/:channelId/messages
func (s *Server) GetHistory(c *gin.Context) {
	ch := strings.TrimSpace(c.Param("channelId"))
	msgs, err := s.Sessions.History(c.Request.Context(), ch)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errs.AsCode(err))
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// GetMembers GET /chat/channels/:channelId/members
func (s *Server) GetMembers(c *gin.Context) {
	c.JSON(http.StatusOK, s.Hub.MembersOf(strings.TrimSpace(c.Param("channelId"))))
}

// SearchMessages GET /chat/search?query=&channelId=
// 检索存储不可用时返回空数组，不返回错误
func (s *Server) SearchMessages(c *gin.Context) {
	q := strings.TrimSpace(c.Query("query"))
	if q == "" {
		c.JSON(http.StatusBadRequest, errs.ErrInvalidPayload.WithDetail("query is required"))
		return
	}
	c.JSON(http.StatusOK, s.Search.Query(c.Request.Context(), q, strings.TrimSpace(c.Query("channelId"))))
}

// SearchHealth GET /health/search
func (s *Server) SearchHealth(c *gin.Context) {
	h := s.Search.Health(c.Request.Context())
	code := http.StatusOK
	if !h.OK() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, h)
}

// GetPresence GET /chat/presence
// 配置了 Locator 时附带 nodes：userId -> 镜像中记录的节点，查询失败的用户省略
func (s *Server) GetPresence(c *gin.Context) {
	users := s.Registry.OnlineUsers()
	resp := gin.H{"items": users}
	if s.Locator != nil {
		nodes := make(map[string]string, len(users))
		for _, u := range users {
			node, ok, err := s.Locator.Lookup(c.Request.Context(), u)
			if err != nil {
				logger.Debug("[HTTP] presence lookup", zap.String("user", u), zap.Error(err))
				continue
			}
			if ok {
				nodes[u] = node
			}
		}
		resp["nodes"] = nodes
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": s.Registry.Count(),
		"channels":    len(s.Hub.Channels()),
	})
}
