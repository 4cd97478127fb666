package client

import (
	"context"
	"time"

	"github.com/hunyxv/zresource"
)

// BeforeCall 发起调用前执行
type BeforeCall func(ctx context.Context, resource, method string)

// AfterCall 调用结束（应答、超时或失败）后执行
type AfterCall func(ctx context.Context, resource, method string, err error)

type Option func(opt *options)

type options struct {
	Identity   string           // client id
	Logger     zresource.Logger // logger
	Timeout    time.Duration    // resource 代理默认超时时间，0 表示不超时
	BeforeCall BeforeCall
	AfterCall  AfterCall
}

// WithIdentity 设置客户端id（仅用于日志）
func WithIdentity(id string) Option {
	return func(opt *options) {
		opt.Identity = id
	}
}

// WithLogger 设置 logger
func WithLogger(logger zresource.Logger) Option {
	return func(opt *options) {
		opt.Logger = logger
	}
}

// WithTimeout 设置 resource 代理默认的调用超时时间
func WithTimeout(d time.Duration) Option {
	return func(opt *options) {
		opt.Timeout = d
	}
}

func WithBeforeCall(f BeforeCall) Option {
	return func(opt *options) {
		opt.BeforeCall = f
	}
}

func WithAfterCall(f AfterCall) Option {
	return func(opt *options) {
		opt.AfterCall = f
	}
}
