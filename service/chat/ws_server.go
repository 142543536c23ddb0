package chat

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"PPHub/logger"
	midsec "PPHub/middleware/security"
	"PPHub/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// credentialsFrom 握手身份：query 优先，其次 X-User-* 头
func (s *Server) credentialsFrom(c *gin.Context) Credentials {
	pick := func(q, h string) string {
		if v := strings.TrimSpace(c.Query(q)); v != "" {
			return v
		}
		return strings.TrimSpace(c.GetHeader(h))
	}
	return Credentials{
		UserID:   pick("userId", "X-User-Id"),
		UserName: pick("userName", "X-User-Name"),
		Token:    midsec.Token(c, s.authOpts),
	}
}

// HandleWS 鉴权 -> 升级 -> Connect -> 读循环；退出时 Disconnect
func (s *Server) HandleWS(c *gin.Context) {
	creds := s.credentialsFrom(c)
	// 升级前拒绝，保证失败的握手没有任何副作用
	id, err := s.Sessions.Authenticate(c.Request.Context(), creds)
	if err != nil {
		logger.Info("[WS] handshake rejected", zap.String("userId", creds.UserID), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, errs.AsCode(err))
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已写回 HTTP 错误
		logger.Info("[WS] upgrade failed", zap.Error(err))
		return
	}

	conn := NewWsConn(ws, s.connConf)
	h, err := s.Sessions.ConnectIdentity(s.baseCtx(), id, conn)
	if err != nil {
		logger.Warn("[WS] connect failed", zap.String("userId", creds.UserID), zap.Error(err))
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, errs.AsCode(err).Msg),
			time.Now().Add(s.connConf.WriteWait))
		_ = ws.Close()
		return
	}

	go conn.WritePump()
	s.readLoop(h, conn)
	s.Sessions.Disconnect(h.ConnID)
}

func (s *Server) readLoop(h Handle, conn *WsConn) {
	ctx, cancel := context.WithCancel(s.baseCtx())
	defer cancel()
	conn.PrepareRead()

	for {
		mt, data, err := conn.Conn.ReadMessage()
		if err != nil {
			logReadErr(h, err)
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		f, perr := ParseFrame(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Debug("[WS] bad frame", zap.String("connId", h.ConnID), zap.ByteString("sample", sample), zap.Error(perr))
			s.reply(conn, EncodeError("", perr))
			continue
		}

		out, derr := s.disp.Dispatch(&Context{Context: ctx, ConnID: h.ConnID, UserID: h.UserID}, f)
		switch {
		case f.AckID != "":
			payload, err := EncodeAck(f.AckID, out, derr)
			if err != nil {
				logger.Error("[WS] encode ack", zap.String("connId", h.ConnID), zap.Error(err))
				continue
			}
			s.reply(conn, payload)
		case derr != nil:
			s.reply(conn, EncodeError(f.Event, derr))
		}
		if errs.ErrNotConnected.Is(derr) {
			return
		}
	}
}

func (s *Server) reply(conn *WsConn, payload []byte) {
	if err := conn.Deliver(payload); err != nil {
		logger.Debug("[WS] reply dropped", zap.String("connId", conn.ConnID), zap.Error(err))
	}
}

func logReadErr(h Handle, err error) {
	var ne net.Error
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		logger.Debug("[WS] peer closed", zap.String("connId", h.ConnID), zap.String("user", h.UserID))
	case errors.As(err, &ne) && ne.Timeout():
		logger.Info("[WS] read timeout", zap.String("connId", h.ConnID), zap.String("user", h.UserID))
	default:
		logger.Info("[WS] read err", zap.String("connId", h.ConnID), zap.String("user", h.UserID), zap.Error(err))
	}
}
