package client

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hunyxv/zresource"
	"github.com/hunyxv/zresource/transport"
	"github.com/hunyxv/zresource/transport/ws"
	"github.com/pkg/errors"
)

var (
	ErrClosed       = errors.New("zresource-cli: socket closed")
	ErrStreamClosed = errors.New("zresource-cli: stream closed by server")
	ErrAlreadyOpen  = errors.New("zresource-cli: socket already open")
)

// Socket 一条到服务端的连接
//
//	在 Open 之前声明的 resource 不会错过握手
type Socket struct {
	id     string
	conn   transport.Conn
	opts   *options
	logger zresource.Logger

	wmu sync.Mutex

	mu        sync.RWMutex
	streams   map[string]*Stream
	resources map[string]*Resource

	opened    int32
	closed    chan struct{}
	closeOnce sync.Once
	err       error
}

// NewSocket 在已建立的连接上创建 socket，调用 Open 后才开始收发
func NewSocket(conn transport.Conn, opts ...Option) *Socket {
	defopts := &options{
		Identity: "cli-" + zresource.NewMessageID(),
		Logger:   zresource.NopLogger(),
	}
	for _, f := range opts {
		f(defopts)
	}

	s := &Socket{
		id:        defopts.Identity,
		conn:      conn,
		opts:      defopts,
		logger:    defopts.Logger,
		streams:   make(map[string]*Stream),
		resources: make(map[string]*Resource),
		closed:    make(chan struct{}),
	}
	s.streams[""] = newStream(s, "")
	return s
}

// Dial 通过 websocket 连接服务端
func Dial(ctx context.Context, url string, opts ...Option) (*Socket, error) {
	conn, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	return NewSocket(conn, opts...), nil
}

func (s *Socket) ID() string {
	return s.id
}

// Root 根通道
func (s *Socket) Root() *Stream {
	st, _ := s.stream("")
	return st
}

// Channel 返回（必要时创建）子通道，socket 已打开时新通道立即打开
func (s *Socket) Channel(name string) *Stream {
	st, created := s.stream(name)
	if created && s.isOpen() {
		if err := st.open(); err != nil {
			s.logger.Warnf("Socket|%s|open channel %q|%v", s.id, name, err)
		}
	}
	return st
}

func (s *Socket) stream(name string) (*Stream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[name]
	if !ok {
		st = newStream(s, name)
		s.streams[name] = st
	}
	return st, !ok
}

func (s *Socket) lookup(name string) (*Stream, bool) {
	s.mu.RLock()
	st, ok := s.streams[name]
	s.mu.RUnlock()
	return st, ok
}

// Resource 返回名为 name 的 resource 代理，已存在时直接返回
//
//	multiplexed 为 false 时代理使用根通道和 "name::" 前缀
func (s *Socket) Resource(name string, multiplexed bool) *Resource {
	s.mu.Lock()
	if r, ok := s.resources[name]; ok {
		s.mu.Unlock()
		return r
	}
	channel := ""
	if multiplexed {
		channel = name
	}
	st, exists := s.streams[channel]
	if !exists {
		st = newStream(s, channel)
		s.streams[channel] = st
	}
	r := newResource(s, st, name, multiplexed)
	s.resources[name] = r
	s.mu.Unlock()

	if s.isOpen() {
		if !exists {
			if err := st.open(); err != nil {
				s.logger.Warnf("Socket|%s|open channel %q|%v", s.id, channel, err)
			}
		} else {
			s.logger.Warnf("Socket|%s|resource %q declared after open, handshake may be missed", s.id, name)
		}
	}
	return r
}

// Open 开始读取并打开所有已声明的通道（根通道最先）
func (s *Socket) Open() error {
	if !atomic.CompareAndSwapInt32(&s.opened, 0, 1) {
		return ErrAlreadyOpen
	}
	go s.readLoop()

	s.mu.RLock()
	names := make([]string, 0, len(s.streams))
	for name := range s.streams {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		st, _ := s.lookup(name)
		if err := st.open(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Socket) isOpen() bool {
	return atomic.LoadInt32(&s.opened) == 1
}

func (s *Socket) readLoop() {
	for {
		raw, err := s.conn.ReadMessage()
		if err != nil {
			s.shutdown(err)
			return
		}
		p, err := zresource.UnmarshalPack(raw)
		if err != nil {
			s.logger.Warnf("Socket|%s|%v", s.id, err)
			continue
		}
		st, ok := s.lookup(p.Channel)
		if !ok {
			s.logger.Debugf("Socket|%s|pack for unknown channel %q", s.id, p.Channel)
			continue
		}
		st.dispatch(p)
	}
}

func (s *Socket) write(p *zresource.Pack) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	raw, err := p.Marshal()
	if err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.conn.WriteMessage(raw)
}

// Done socket 关闭后关闭
func (s *Socket) Done() <-chan struct{} {
	return s.closed
}

// Err socket 关闭的原因
func (s *Socket) Err() error {
	select {
	case <-s.closed:
		return s.err
	default:
		return nil
	}
}

func (s *Socket) shutdown(cause error) {
	s.closeOnce.Do(func() {
		s.err = cause
		close(s.closed)
		s.conn.Close()

		s.mu.RLock()
		streams := make([]*Stream, 0, len(s.streams))
		for _, st := range s.streams {
			streams = append(streams, st)
		}
		s.mu.RUnlock()
		for _, st := range streams {
			st.end(ErrClosed)
		}
		s.logger.Debugf("Socket|%s|closed|%v", s.id, cause)
	})
}

// Close 关闭连接，所有未完成的调用以 ErrClosed 结束
func (s *Socket) Close() error {
	s.shutdown(ErrClosed)
	return nil
}
