package zresource

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// EventFunc 事件监听函数，reply 为 nil 表示对端不需要应答
type EventFunc func(ctx context.Context, args Args, reply Reply)

// Reply 应答函数，最多生效一次；以 Sentinel 应答表示执行失败
type Reply func(v interface{})

// Spark 一个远端连接在某个 channel 上的句柄
type Spark struct {
	id      string
	channel *Channel
	conn    *connection

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	events map[string]EventFunc
}

func newSpark(conn *connection, channel *Channel) *Spark {
	ctx, cancel := context.WithCancel(context.Background())
	return &Spark{
		id:      NewMessageID(),
		channel: channel,
		conn:    conn,
		ctx:     ctx,
		cancel:  cancel,
		events:  make(map[string]EventFunc),
	}
}

func (s *Spark) ID() string {
	return s.id
}

// Channel spark 所在的 channel
func (s *Spark) Channel() *Channel {
	return s.channel
}

// Context spark 断开后被取消
func (s *Spark) Context() context.Context {
	return s.ctx
}

// Done spark 断开后关闭
func (s *Spark) Done() <-chan struct{} {
	return s.ctx.Done()
}

// On 订阅来自该 spark 的事件，同名事件后注册的覆盖先注册的
func (s *Spark) On(event string, fn EventFunc) {
	s.mu.Lock()
	s.events[event] = fn
	s.mu.Unlock()
}

// Off 取消订阅
func (s *Spark) Off(event string) {
	s.mu.Lock()
	delete(s.events, event)
	s.mu.Unlock()
}

func (s *Spark) listener(event string) (EventFunc, bool) {
	s.mu.RLock()
	fn, ok := s.events[event]
	s.mu.RUnlock()
	return fn, ok
}

// Emit 向对端发送事件（不需要应答）
func (s *Spark) Emit(event string, args ...interface{}) error {
	raws, err := EncodeArgs(args...)
	if err != nil {
		return err
	}
	return s.emitRaw(event, raws)
}

func (s *Spark) emitRaw(event string, raws [][]byte) error {
	return s.write(&Pack{
		Channel: s.channel.name,
		Stage:   EVENT,
		Event:   event,
		Args:    raws,
	})
}

func (s *Spark) write(p *Pack) error {
	select {
	case <-s.ctx.Done():
		return errors.WithMessagef(ErrSparkClosed, "spark %s", s.id)
	default:
	}
	return s.conn.write(p)
}

// Close 断开 spark
//  子通道只通知对端关闭该通道；根通道上的 spark 会关闭整个连接
func (s *Spark) Close() error {
	if s.channel.name == "" {
		return s.conn.close()
	}
	if err := s.write(&Pack{Channel: s.channel.name, Stage: CLOSE}); err != nil {
		return err
	}
	s.conn.closeSpark(s.channel.name)
	return nil
}

func (s *Spark) end() {
	s.cancel()
}
