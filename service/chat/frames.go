package chat

import (
	"encoding/json"
	"fmt"

	"PPHub/tools/decode"
	"PPHub/tools/errs"
)

// ParseFrame 解析客户端 JSON 帧
func ParseFrame(raw []byte) (*Frame, error) {
	f := &Frame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, errs.ErrInvalidPayload.WrapMsg("unmarshal frame", "err", err)
	}
	if f.Event == "" {
		return nil, errs.ErrInvalidPayload.WrapMsg("frame has no event")
	}
	return f, nil
}

// DecodePayload 宽松解码 data 字段（"true"/1 之类也接受）
func DecodePayload[T any](f *Frame) (*T, error) {
	if f == nil || len(f.Data) == 0 || string(f.Data) == "null" {
		return nil, errs.ErrInvalidPayload.WrapMsg("missing data", "event", f.Event)
	}
	p, err := decode.JSON[T](f.Data)
	if err != nil {
		return nil, errs.ErrInvalidPayload.WrapMsg(err.Error(), "event", f.Event)
	}
	return p, nil
}

// EncodeEvent 编码一次，广播时所有接收者共享同一份字节
func EncodeEvent(ev Event) ([]byte, error) {
	f := Frame{Event: ev.Kind, Channel: ev.Channel}
	if ev.Data != nil {
		raw, err := json.Marshal(ev.Data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s data: %w", ev.Kind, err)
		}
		f.Data = raw
	}
	return json.Marshal(f)
}

// EncodeAck 回执：成功带 data，失败带 error
func EncodeAck(ackID string, data any, err error) ([]byte, error) {
	ok := err == nil
	f := Frame{Event: KindAck, AckID: ackID, OK: &ok}
	if err != nil {
		ce := errs.AsCode(err)
		f.Error = &ce
	} else if data != nil {
		raw, merr := json.Marshal(data)
		if merr != nil {
			return nil, fmt.Errorf("marshal ack data: %w", merr)
		}
		f.Data = raw
	}
	return json.Marshal(f)
}

// EncodeError 没有 ackId 的失败帧
func EncodeError(event Kind, err error) []byte {
	ce := errs.AsCode(err)
	raw, _ := json.Marshal(map[string]any{"event": string(event)})
	b, _ := json.Marshal(Frame{Event: KindError, Data: raw, Error: &ce})
	return b
}
