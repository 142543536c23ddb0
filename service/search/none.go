package search

import (
	"context"

	"PPHub/module/message"
	"PPHub/tools/errs"
)

// noneBackend 未配置检索存储：索引与查询一律 SearchUnavailable
type noneBackend struct{}

func NewNone() Backend { return noneBackend{} }

func (noneBackend) Name() string { return "none" }

func (noneBackend) Index(context.Context, message.Message) error {
	return errs.ErrSearchUnavailable.WrapMsg("search backend disabled")
}

func (noneBackend) Search(context.Context, Query) ([]message.Message, error) {
	return nil, errs.ErrSearchUnavailable.WrapMsg("search backend disabled")
}

func (noneBackend) Ping(context.Context) error {
	return errs.ErrSearchUnavailable.WrapMsg("search backend disabled")
}

func (noneBackend) Close() error { return nil }
