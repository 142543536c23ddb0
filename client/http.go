package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"PPHub/module/message"
	"PPHub/tools/errs"
)

// SearchMessages channelID 为空时全频道检索；检索不可用时服务端返回空数组
func (c *Client) SearchMessages(ctx context.Context, query, channelID string) ([]message.Message, error) {
	q := url.Values{}
	q.Set("query", query)
	if channelID != "" {
		q.Set("channelId", channelID)
	}
	var out []message.Message
	if err := c.getJSON(ctx, "/chat/search", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetChannelHistory(ctx context.Context, channelID string) ([]message.Message, error) {
	var out []message.Message
	if err := c.getJSON(ctx, "/chat/channels/"+channelID+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return errs.WrapMsg(err, "build request", "path", path)
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return errs.WrapMsg(err, "http get", "path", path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return errs.WrapMsg(err, "read body", "path", path)
	}
	if resp.StatusCode != http.StatusOK {
		var ce errs.CodeError
		if json.Unmarshal(body, &ce) == nil && ce.Code != 0 {
			return ce
		}
		return errs.New("unexpected status", "path", path, "status", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errs.WrapMsg(err, "decode body", "path", path)
	}
	return nil
}
