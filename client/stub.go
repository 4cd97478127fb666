package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hunyxv/utils/spinlock"
	"github.com/hunyxv/zresource"
)

// Stub 远端某个操作的本地代理
type Stub struct {
	res     *Resource
	name    string
	timeout int64 // time.Duration
}

func newStub(res *Resource, name string) *Stub {
	return &Stub{res: res, name: name}
}

func (s *Stub) Name() string {
	return s.name
}

// SetTimeout 单独设置该操作的超时时间，0 表示使用 resource 的默认值
func (s *Stub) SetTimeout(d time.Duration) {
	atomic.StoreInt64(&s.timeout, int64(d))
}

func (s *Stub) Timeout() time.Duration {
	return time.Duration(atomic.LoadInt64(&s.timeout))
}

func (s *Stub) effectiveTimeout() time.Duration {
	if d := s.Timeout(); d > 0 {
		return d
	}
	return s.res.Timeout()
}

// Notify 不需要应答的调用
func (s *Stub) Notify(args ...interface{}) error {
	return s.res.notify(s.name, args)
}

// Go 回调方式调用，cb 最多被调用一次
//
//	应答为 Sentinel 时 err 为 *zresource.RemoteError；超时时为 *zresource.TimeoutError
func (s *Stub) Go(cb func(zresource.Value, error), args ...interface{}) {
	s.res.invoke(context.Background(), s.name, s.effectiveTimeout(), args, cb)
}

// Promise 返回一个在应答、超时或失败时完成的 Promise
func (s *Stub) Promise(args ...interface{}) *Promise {
	return s.promise(context.Background(), args)
}

// Call 阻塞调用，ctx 结束时放弃等待
func (s *Stub) Call(ctx context.Context, args ...interface{}) (zresource.Value, error) {
	return s.promise(ctx, args).Await(ctx)
}

func (s *Stub) promise(ctx context.Context, args []interface{}) *Promise {
	p := &Promise{done: make(chan struct{})}
	p.cancel = s.res.invoke(ctx, s.name, s.effectiveTimeout(), args, p.settle)
	return p
}

// settle 把 Sentinel 应答转换成 RemoteError
func settle(resource, method string, cb func(zresource.Value, error)) func(zresource.Value, error) {
	return func(v zresource.Value, err error) {
		if err == nil && v.IsSentinel() {
			cb(nil, &zresource.RemoteError{Resource: resource, Method: method})
			return
		}
		cb(v, err)
	}
}

// Promise 一次调用的结果
type Promise struct {
	done   chan struct{}
	once   sync.Once
	v      zresource.Value
	err    error
	cancel func(error)
}

func (p *Promise) settle(v zresource.Value, err error) {
	p.once.Do(func() {
		p.v, p.err = v, err
		close(p.done)
	})
}

// Done 调用完成后关闭
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// Result 阻塞直到调用完成
func (p *Promise) Result() (zresource.Value, error) {
	<-p.done
	return p.v, p.err
}

// Await 等待调用完成；ctx 先结束时取消调用并返回 ctx 的错误
func (p *Promise) Await(ctx context.Context) (zresource.Value, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		p.cancel(ctx.Err())
	}
	return p.Result()
}

// pendingCall 等待应答的调用
//  应答、超时、取消三者之中只有第一个生效
type pendingCall struct {
	resource string
	method   string
	cb       func(zresource.Value, error)

	lock  sync.Locker
	done  bool
	timer *time.Timer
}

func newPendingCall(resource, method string, cb func(zresource.Value, error)) *pendingCall {
	return &pendingCall{
		resource: resource,
		method:   method,
		cb:       cb,
		lock:     spinlock.NewSpinLock(),
	}
}

func (c *pendingCall) arm(d time.Duration, onTimeout func()) {
	c.lock.Lock()
	if !c.done {
		c.timer = time.AfterFunc(d, onTimeout)
	}
	c.lock.Unlock()
}

func (c *pendingCall) reply(v zresource.Value) {
	c.resolve(v, nil)
}

func (c *pendingCall) resolve(v zresource.Value, err error) bool {
	c.lock.Lock()
	if c.done {
		c.lock.Unlock()
		return false
	}
	c.done = true
	timer := c.timer
	c.timer = nil
	c.lock.Unlock()

	if timer != nil {
		timer.Stop()
	}
	c.cb(v, err)
	return true
}
