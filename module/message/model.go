package message

import (
	"strings"
	"time"
)

const DefaultType = "text"

// Message 已提交的频道消息；创建后不可变，读取方只读使用
type Message struct {
	ID        string         `json:"id"`
	ChannelID string         `json:"channelId"`
	UserID    string         `json:"userId"`
	Content   string         `json:"content"`
	Type      string         `json:"type"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Draft 待写入的消息，ID 与时间由 Store 分配
type Draft struct {
	ChannelID string
	UserID    string
	Content   string
	Type      string
	Metadata  map[string]any
}

func (d *Draft) normalize() {
	d.ChannelID = strings.TrimSpace(d.ChannelID)
	d.UserID = strings.TrimSpace(d.UserID)
	if strings.TrimSpace(d.Type) == "" {
		d.Type = DefaultType
	}
}

// cloneMeta 深拷贝 map/slice，避免调用方改写已提交消息
func cloneMeta(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMeta(t)
	case []any:
		cp := make([]any, len(t))
		for i, x := range t {
			cp[i] = cloneValue(x)
		}
		return cp
	default:
		return v
	}
}
