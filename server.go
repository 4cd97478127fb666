package zresource

import (
	"sync"
	"sync/atomic"

	"github.com/hunyxv/zresource/transport"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
)

// ChannelProvider 多路复用能力：按名称提供子通道
type ChannelProvider interface {
	Channel(name string) *Channel
}

var _ ChannelProvider = (*Server)(nil)

// Server 接受连接，按 channel 分发 pack，并持有 resource 注册表
type Server struct {
	opts   *options
	logger Logger
	pool   *ants.Pool

	root     *Channel
	mu       sync.RWMutex
	channels map[string]*Channel

	registry *Registry
	emitter  *emitter

	conns     sync.Map // id : *connection
	lmu       sync.Mutex
	listeners []transport.Listener
	closed    int32
}

func NewServer(opts ...Option) (*Server, error) {
	defOpts := &options{
		Logger:    NopLogger(),
		Multiplex: true,
		Emitter:   true,
	}
	for _, f := range opts {
		f(defOpts)
	}

	pool, err := ants.NewPool(defOpts.WorkPoolSize, ants.WithNonblocking(true))
	if err != nil {
		return nil, errors.Wrap(err, "zresource: create work pool")
	}

	s := &Server{
		opts:     defOpts,
		logger:   defOpts.Logger,
		pool:     pool,
		root:     newChannel(""),
		channels: make(map[string]*Channel),
	}
	s.emitter = &emitter{logger: s.logger}

	var (
		provider ChannelProvider
		bus      EventBus
	)
	if defOpts.Multiplex {
		provider = s
	}
	if defOpts.Emitter {
		bus = s.emitter
	}
	s.registry = newRegistry(s.root, provider, bus, s.submit, defOpts)
	return s, nil
}

// Register 注册 resource，见 Registry.Register
func (s *Server) Register(name string, resource interface{}, opts ...ResourceOption) (*Resource, error) {
	return s.registry.Register(name, resource, opts...)
}

func (s *Server) Registry() *Registry {
	return s.registry
}

// Root 根通道
func (s *Server) Root() *Channel {
	return s.root
}

// Channel 返回（必要时创建）名为 name 的子通道
func (s *Server) Channel(name string) *Channel {
	if name == "" {
		return s.root
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.channels[name]
	if !ok {
		c = newChannel(name)
		s.channels[name] = c
	}
	return c
}

func (s *Server) lookupChannel(name string) (*Channel, bool) {
	if name == "" {
		return s.root, true
	}
	if !s.opts.Multiplex {
		return nil, false
	}
	s.mu.RLock()
	c, ok := s.channels[name]
	s.mu.RUnlock()
	return c, ok
}

// Serve 在 l 上接受连接，直到 l 关闭或 server 关闭
func (s *Server) Serve(l transport.Listener) error {
	if s.isClosed() {
		return ErrServerClosed
	}
	s.lmu.Lock()
	s.listeners = append(s.listeners, l)
	s.lmu.Unlock()

	s.logger.Infof("Server|Serve|%s", l.Addr())
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			return errors.Wrap(err, "zresource: accept")
		}
		s.ServeConn(conn)
	}
}

// ServeConn 为一条已建立的连接启动读循环
func (s *Server) ServeConn(conn transport.Conn) {
	c := newConnection(s, conn)
	s.conns.Store(c.id, c)
	s.submit(func() {
		c.serve()
		s.conns.Delete(c.id)
	})
}

// submit 优先使用工作池，满载时另起 goroutine
func (s *Server) submit(task func()) {
	if err := s.pool.Submit(task); err != nil {
		if !errors.Is(err, ants.ErrPoolOverload) {
			s.logger.Warnf("Server|submit|%v", err)
		}
		go task()
	}
}

func (s *Server) isClosed() bool {
	return atomic.LoadInt32(&s.closed) == 1
}

// Close 关闭所有 listener 和连接
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	s.lmu.Lock()
	for _, l := range s.listeners {
		if err := l.Close(); err != nil {
			s.logger.Warnf("Server|Close|listener %s|%v", l.Addr(), err)
		}
	}
	s.lmu.Unlock()

	s.conns.Range(func(_, value interface{}) bool {
		value.(*connection).close()
		return true
	})
	s.pool.Release()
	return nil
}
