package chat

import (
	"context"
	"strings"

	"PPHub/tools/errs"
	"PPHub/tools/security"
)

// Credentials 握手携带的身份信息
type Credentials struct {
	UserID   string
	UserName string
	Token    string
}

type Identity struct {
	UserID string
	Name   string
}

// Authenticator 握手校验；失败返回 AuthRejected，且不得有任何副作用
type Authenticator interface {
	Authenticate(ctx context.Context, c Credentials) (Identity, error)
}

// PlainAuth 只要求 userId 存在，userName 缺省为 userId
type PlainAuth struct{}

func (PlainAuth) Authenticate(_ context.Context, c Credentials) (Identity, error) {
	uid := strings.TrimSpace(c.UserID)
	if uid == "" {
		return Identity{}, errs.ErrAuthRejected.WrapMsg("userId is required")
	}
	name := strings.TrimSpace(c.UserName)
	if name == "" {
		name = uid
	}
	return Identity{UserID: uid, Name: name}, nil
}

// JWTAuth 校验 Bearer 令牌；若同时给了 userId，必须与令牌 sub 一致
type JWTAuth struct {
	Opts security.Options
}

func (a JWTAuth) Authenticate(_ context.Context, c Credentials) (Identity, error) {
	if strings.TrimSpace(c.Token) == "" {
		return Identity{}, errs.ErrAuthRejected.WrapMsg("token is required")
	}
	id, err := security.Verify(a.Opts, c.Token)
	if err != nil {
		return Identity{}, err
	}
	if uid := strings.TrimSpace(c.UserID); uid != "" && uid != id.UserID {
		return Identity{}, errs.ErrAuthRejected.WrapMsg("userId does not match token", "userId", uid)
	}
	name := id.Name
	if name == "" {
		name = strings.TrimSpace(c.UserName)
	}
	if name == "" {
		name = id.UserID
	}
	return Identity{UserID: id.UserID, Name: name}, nil
}
