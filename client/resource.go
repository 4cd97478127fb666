package client

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hunyxv/zresource"
	"github.com/pkg/errors"
)

var (
	ErrNotReady      = errors.New("zresource-cli: resource not ready")
	ErrUnknownMethod = errors.New("zresource-cli: unknown method")
)

// Resource 远端 resource 的本地代理
//  握手之前没有任何 stub；握手后为每个远端操作生成一个 stub
type Resource struct {
	name        string
	multiplexed bool
	ns          string
	stream      *Stream
	sock        *Socket
	timeout     int64 // time.Duration

	mu         sync.RWMutex
	stubs      map[string]*Stub
	methods    []string
	ready      bool
	readyCh    chan struct{}
	readyFns   []func(*Resource)
	onReadyFns []func(name string, methods []string)
}

func newResource(sock *Socket, stream *Stream, name string, multiplexed bool) *Resource {
	r := &Resource{
		name:        name,
		multiplexed: multiplexed,
		ns:          zresource.Namespace(name, multiplexed),
		stream:      stream,
		sock:        sock,
		timeout:     int64(sock.opts.Timeout),
		stubs:       make(map[string]*Stub),
		readyCh:     make(chan struct{}),
	}
	// 每次通道打开都重新等待握手
	stream.OnOpen(func() {
		stream.Once(r.ns+"ready", r.handshake)
	})
	return r
}

func (r *Resource) Name() string {
	return r.name
}

func (r *Resource) Multiplexed() bool {
	return r.multiplexed
}

// Stream resource 所在的通道
func (r *Resource) Stream() *Stream {
	return r.stream
}

func (r *Resource) handshake(args zresource.Args) {
	var methods []string
	if args.Len() > 0 {
		if err := args.Decode(0, &methods); err != nil {
			r.sock.logger.Warnf("Resource|%s|handshake|%v", r.name, err)
			return
		}
	}

	r.mu.Lock()
	for _, m := range methods {
		if _, ok := r.stubs[m]; !ok {
			r.stubs[m] = newStub(r, m)
		}
	}
	r.methods = append([]string(nil), methods...)
	first := !r.ready
	r.ready = true
	fns := r.readyFns
	r.readyFns = nil
	persistent := append([]func(string, []string){}, r.onReadyFns...)
	r.mu.Unlock()

	if first {
		close(r.readyCh)
	}
	for _, fn := range fns {
		fn(r)
	}
	for _, fn := range persistent {
		fn(r.name, append([]string(nil), methods...))
	}
	r.sock.logger.Debugf("Resource|%s|ready|%v", r.name, methods)
}

// IsReady 是否已经收到握手
func (r *Resource) IsReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready
}

// Ready 握手后调用 fn 一次；已经就绪时立即调用
func (r *Resource) Ready(fn func(*Resource)) {
	r.mu.Lock()
	if !r.ready {
		r.readyFns = append(r.readyFns, fn)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	fn(r)
}

// OnReady 每次收到握手都调用 fn(name, methods)
func (r *Resource) OnReady(fn func(name string, methods []string)) {
	r.mu.Lock()
	r.onReadyFns = append(r.onReadyFns, fn)
	r.mu.Unlock()
}

// WaitReady 阻塞直到握手完成、ctx 结束或 socket 关闭
func (r *Resource) WaitReady(ctx context.Context) error {
	select {
	case <-r.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.sock.Done():
		return ErrClosed
	}
}

// Methods 最近一次握手通告的操作名
func (r *Resource) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.methods...)
}

// Stubs 当前所有 stub 的名称（有序）
func (r *Resource) Stubs() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.stubs))
	for name := range r.stubs {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Stub 按名称获取 stub，握手之前总是返回 false
func (r *Resource) Stub(name string) (*Stub, bool) {
	r.mu.RLock()
	s, ok := r.stubs[name]
	r.mu.RUnlock()
	return s, ok
}

func (r *Resource) stub(name string) (*Stub, error) {
	r.mu.RLock()
	ready := r.ready
	s, ok := r.stubs[name]
	r.mu.RUnlock()
	if !ready {
		return nil, errors.WithMessagef(ErrNotReady, "%s.%s", r.name, name)
	}
	if !ok {
		return nil, errors.WithMessagef(ErrUnknownMethod, "%s.%s", r.name, name)
	}
	return s, nil
}

// SetTimeout 设置默认超时时间，0 表示不超时
func (r *Resource) SetTimeout(d time.Duration) {
	atomic.StoreInt64(&r.timeout, int64(d))
}

func (r *Resource) Timeout() time.Duration {
	return time.Duration(atomic.LoadInt64(&r.timeout))
}

// On 订阅该 resource 的广播事件
func (r *Resource) On(event string, fn func(zresource.Args)) (off func()) {
	return r.stream.On(r.ns+event, fn)
}

// Call 调用 method 并等待应答
func (r *Resource) Call(ctx context.Context, method string, args ...interface{}) (zresource.Value, error) {
	s, err := r.stub(method)
	if err != nil {
		return nil, err
	}
	return s.Call(ctx, args...)
}

// Go 调用 method，应答、超时或失败时调用 cb
func (r *Resource) Go(method string, cb func(zresource.Value, error), args ...interface{}) {
	s, err := r.stub(method)
	if err != nil {
		cb(nil, err)
		return
	}
	s.Go(cb, args...)
}

// Notify 调用 method，不需要应答
func (r *Resource) Notify(method string, args ...interface{}) error {
	s, err := r.stub(method)
	if err != nil {
		return err
	}
	return s.Notify(args...)
}

// invoke 发送一次需要应答的调用，返回取消函数
func (r *Resource) invoke(ctx context.Context, method string, timeout time.Duration, args []interface{}, cb func(zresource.Value, error)) (cancel func(error)) {
	opts := r.sock.opts
	if opts.BeforeCall != nil {
		opts.BeforeCall(ctx, r.name, method)
	}
	if opts.AfterCall != nil {
		done := cb
		cb = func(v zresource.Value, err error) {
			opts.AfterCall(ctx, r.name, method, err)
			done(v, err)
		}
	}
	cb = settle(r.name, method, cb)

	raws, err := zresource.EncodeArgs(args...)
	if err != nil {
		cb(nil, err)
		return func(error) {}
	}
	if !r.stream.IsOpen() {
		cb(nil, ErrStreamClosed)
		return func(error) {}
	}

	ack := zresource.NewMessageID()
	call := newPendingCall(r.name, method, cb)
	r.stream.register(ack, call)
	if timeout > 0 {
		call.arm(timeout, func() {
			if c, ok := r.stream.forget(ack); ok {
				c.resolve(nil, &zresource.TimeoutError{Resource: r.name, Method: method, After: timeout})
			}
		})
	}

	p := &zresource.Pack{
		Stage:  zresource.EVENT,
		Event:  r.ns + method,
		Ack:    ack,
		Header: make(zresource.Header),
		Args:   raws,
	}
	zresource.InjectHeader(ctx, p.Header)
	if err := r.stream.send(p); err != nil {
		if c, ok := r.stream.forget(ack); ok {
			c.resolve(nil, err)
		}
	}
	return func(err error) {
		if c, ok := r.stream.forget(ack); ok {
			c.resolve(nil, err)
		}
	}
}

func (r *Resource) notify(method string, args []interface{}) error {
	raws, err := zresource.EncodeArgs(args...)
	if err != nil {
		return err
	}
	return r.stream.send(&zresource.Pack{
		Stage: zresource.EVENT,
		Event: r.ns + method,
		Args:  raws,
	})
}
