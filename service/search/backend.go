package search

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"PPHub/module/message"
	"PPHub/tools/errs"
)

// Query 一次检索；ChannelID 为空表示不限频道
type Query struct {
	Term      string
	ChannelID string
	Limit     int
}

// Backend 外部可检索存储。实现只需保证 Index 对同一 id 幂等。
type Backend interface {
	Name() string
	Index(ctx context.Context, m message.Message) error
	// Search 结果按 createdAt 倒序
	Search(ctx context.Context, q Query) ([]message.Message, error)
	Ping(ctx context.Context) error
	Close() error
}

// doc 索引里的文档形态：时间存 RFC3339，排序用纳秒
type doc struct {
	ID           string         `bson:"_id" json:"id"`
	ChannelID    string         `bson:"channelId" json:"channelId"`
	UserID       string         `bson:"userId" json:"userId"`
	Content      string         `bson:"content" json:"content"`
	Type         string         `bson:"type" json:"type"`
	CreatedAt    string         `bson:"createdAt" json:"createdAt"`
	UpdatedAt    string         `bson:"updatedAt" json:"updatedAt"`
	CreatedNs    int64          `bson:"createdNs" json:"createdNs"`
	Metadata     map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
	MetadataText string         `bson:"metadataText" json:"metadataText"`
}

func toDoc(m message.Message) doc {
	return doc{
		ID:           m.ID,
		ChannelID:    m.ChannelID,
		UserID:       m.UserID,
		Content:      m.Content,
		Type:         m.Type,
		CreatedAt:    m.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:    m.UpdatedAt.UTC().Format(time.RFC3339Nano),
		CreatedNs:    m.CreatedAt.UnixNano(),
		Metadata:     m.Metadata,
		MetadataText: metadataText(m.Metadata),
	}
}

func (d doc) message() (message.Message, error) {
	created, err := time.Parse(time.RFC3339Nano, d.CreatedAt)
	if err != nil {
		return message.Message{}, errs.WrapMsg(err, "parse createdAt", "id", d.ID)
	}
	updated, err := time.Parse(time.RFC3339Nano, d.UpdatedAt)
	if err != nil {
		updated = created
	}
	return message.Message{
		ID:        d.ID,
		ChannelID: d.ChannelID,
		UserID:    d.UserID,
		Content:   d.Content,
		Type:      d.Type,
		CreatedAt: created,
		UpdatedAt: updated,
		Metadata:  d.Metadata,
	}, nil
}

// metadataText 把元数据的值按 key 顺序拍平成一段可检索文本
func metadataText(meta map[string]any) string {
	if len(meta) == 0 {
		return ""
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		flatten(&sb, meta[k])
	}
	return strings.TrimSpace(sb.String())
}

func flatten(sb *strings.Builder, v any) {
	switch t := v.(type) {
	case nil:
	case map[string]any:
		sb.WriteString(metadataText(t))
		sb.WriteByte(' ')
	case []any:
		for _, x := range t {
			flatten(sb, x)
		}
	default:
		sb.WriteString(fmt.Sprint(t))
		sb.WriteByte(' ')
	}
}

// tokens 只保留字母数字组成的词，小写去重；各后端据此拼自己的查询语法
func tokens(term string) []string {
	fields := strings.FieldsFunc(strings.ToLower(term), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

func validIdent(name string) error {
	if !identRe.MatchString(name) {
		return errs.ErrInternal.WrapMsg("invalid index name", "name", name)
	}
	return nil
}

func unavailable(backend string, err error) error {
	if err == nil {
		return nil
	}
	return errs.ErrSearchUnavailable.WrapMsg(err.Error(), "backend", backend)
}
