package chat

import (
	"encoding/json"

	"PPHub/tools/errs"
)

// Kind 事件名，上下行共用一套
type Kind string

const (
	// client -> server
	KindJoinChannel  Kind = "join-channel"
	KindLeaveChannel Kind = "leave-channel"
	KindSendMessage  Kind = "send-message"
	KindTyping       Kind = "typing" // 上下行同名

	// server -> client
	KindConnected      Kind = "connected"
	KindChannelHistory Kind = "channel-history"
	KindNewMessage     Kind = "new-message"
	KindPresence       Kind = "presence"
	KindMemberLeft     Kind = "member-left"
	KindAck            Kind = "ack"
	KindError          Kind = "error"
)

// Event 服务端事件；Data 在广播前只编码一次
type Event struct {
	Kind    Kind
	Channel string
	Data    any
}

// Frame 线上 JSON 信封
type Frame struct {
	Event   Kind            `json:"event"`
	AckID   string          `json:"ackId,omitempty"`
	OK      *bool           `json:"ok,omitempty"` // 仅 ack
	Channel string          `json:"channelId,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *errs.CodeError `json:"error,omitempty"`
}

// ---- 上行负载 ----

type JoinPayload struct {
	ChannelID string `json:"channelId"`
}

type LeavePayload struct {
	ChannelID string `json:"channelId"`
}

type SendPayload struct {
	ChannelID string         `json:"channelId"`
	Content   string         `json:"content"`
	Type      string         `json:"type"`
	Metadata  map[string]any `json:"metadata"`
}

type TypingPayload struct {
	ChannelID string `json:"channelId"`
	IsTyping  bool   `json:"isTyping"`
}

// ---- 下行负载 ----

type PresencePayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

type TypingNotice struct {
	UserID    string `json:"userId"`
	IsTyping  bool   `json:"isTyping"`
	ChannelID string `json:"channelId"`
}

type MemberLeftNotice struct {
	UserID    string `json:"userId"`
	ChannelID string `json:"channelId"`
}

type ConnectedPayload struct {
	ConnID string `json:"connId"`
	UserID string `json:"userId"`
	Name   string `json:"userName"`
}

type JoinResult struct {
	ChannelID string `json:"channelId"`
	History   int    `json:"history"`
}
