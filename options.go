package zresource

import (
	"go.opentelemetry.io/otel/trace"
)

type Option func(opt *options)

type options struct {
	Logger         Logger               // logger
	WorkPoolSize   int                  // 工作池大小，<=0 表示不限制
	Multiplex      bool                 // 是否提供子通道能力
	Emitter        bool                 // 是否提供命名事件能力
	TracerProvider trace.TracerProvider // 为空时使用 otel 全局 provider
	BeforeCall     ServerBeforeCall
	AfterCall      ServerAfterCall
	Recover        ServerRecover
}

// WithLogger 设置 logger
func WithLogger(logger Logger) Option {
	return func(opt *options) {
		opt.Logger = logger
	}
}

// WithWorkPoolSize 设置工作池大小（默认无限大）
func WithWorkPoolSize(size int) Option {
	return func(opt *options) {
		opt.WorkPoolSize = size
	}
}

// WithMultiplex 开启/关闭子通道能力（默认开启）
func WithMultiplex(enable bool) Option {
	return func(opt *options) {
		opt.Multiplex = enable
	}
}

// WithEmitter 开启/关闭命名事件能力（默认开启）
func WithEmitter(enable bool) Option {
	return func(opt *options) {
		opt.Emitter = enable
	}
}

// WithTracerProvider 设置链路追踪 provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(opt *options) {
		opt.TracerProvider = tp
	}
}

func WithBeforeCall(f ServerBeforeCall) Option {
	return func(opt *options) {
		opt.BeforeCall = f
	}
}

func WithAfterCall(f ServerAfterCall) Option {
	return func(opt *options) {
		opt.AfterCall = f
	}
}

func WithRecover(f ServerRecover) Option {
	return func(opt *options) {
		opt.Recover = f
	}
}

// ResourceOption resource 注册选项
type ResourceOption func(opt *resourceOptions)

type resourceOptions struct {
	Multiplexed bool
}

// Multiplexed 是否为 resource 分配独立的子通道（默认 true）
//  为 false 时 resource 共享根通道，所有事件名加上 "name::" 前缀
func Multiplexed(multiplexed bool) ResourceOption {
	return func(opt *resourceOptions) {
		opt.Multiplexed = multiplexed
	}
}
