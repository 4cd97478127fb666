package zmq

import (
	"sync"

	"github.com/hunyxv/zresource"
	"github.com/hunyxv/zresource/transport"
	zmq "github.com/pebbe/zmq4"
)

// 空消息表示对端挂断
var hangup = []byte{}

var (
	_ transport.Listener = (*Listener)(nil)
	_ transport.Conn     = (*routerConn)(nil)
	_ transport.Conn     = (*DealerConn)(nil)
)

// Listener ROUTER socket，每个 DEALER identity 对应一条连接
type Listener struct {
	endpoint string
	soc      *socket
	logger   zresource.Logger

	mu    sync.Mutex
	conns map[string]*routerConn
	queue chan transport.Conn
	done  chan struct{}
	once  sync.Once
}

// Listen 在 endpoint 上绑定 ROUTER socket，如 tcp://*:10080
func Listen(endpoint string, logger zresource.Logger) (*Listener, error) {
	if logger == nil {
		logger = zresource.NopLogger()
	}
	soc, err := newSocket("", zmq.ROUTER, endpoint, true, logger)
	if err != nil {
		return nil, err
	}
	l := &Listener{
		endpoint: endpoint,
		soc:      soc,
		logger:   logger,
		conns:    make(map[string]*routerConn),
		queue:    make(chan transport.Conn, chanCap),
		done:     make(chan struct{}),
	}
	go l.demux()
	return l, nil
}

func (l *Listener) demux() {
	defer l.Close()
	for frames := range l.soc.Recv() {
		if len(frames) != 2 {
			l.logger.Warnf("zmq|listener|%s|unexpected %d frames", l.endpoint, len(frames))
			continue
		}
		identity, payload := string(frames[0]), frames[1]

		l.mu.Lock()
		c, ok := l.conns[identity]
		if !ok {
			if len(payload) == 0 {
				l.mu.Unlock()
				continue
			}
			c = &routerConn{
				identity: identity,
				l:        l,
				inbox:    make(chan []byte, chanCap),
				done:     make(chan struct{}),
			}
			l.conns[identity] = c
		}
		l.mu.Unlock()

		if !ok {
			select {
			case l.queue <- c:
			case <-l.done:
				return
			}
		}
		if len(payload) == 0 {
			c.end()
			continue
		}
		select {
		case c.inbox <- payload:
		case <-c.done:
		}
	}
}

func (l *Listener) Accept() (transport.Conn, error) {
	select {
	case c := <-l.queue:
		return c, nil
	case <-l.done:
		return nil, transport.ErrClosed
	}
}

func (l *Listener) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.mu.Lock()
		conns := l.conns
		l.conns = make(map[string]*routerConn)
		l.mu.Unlock()
		for _, c := range conns {
			c.end()
		}
		go l.soc.Close()
	})
	return nil
}

func (l *Listener) Addr() string {
	return l.endpoint
}

func (l *Listener) remove(identity string) {
	l.mu.Lock()
	delete(l.conns, identity)
	l.mu.Unlock()
}

type routerConn struct {
	identity string
	l        *Listener
	inbox    chan []byte
	done     chan struct{}
	once     sync.Once
}

func (c *routerConn) ReadMessage() ([]byte, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.done:
		return nil, transport.ErrClosed
	}
}

func (c *routerConn) WriteMessage(msg []byte) error {
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}
	return c.l.soc.send([]byte(c.identity), msg)
}

func (c *routerConn) end() {
	c.once.Do(func() {
		close(c.done)
		c.l.remove(c.identity)
	})
}

func (c *routerConn) Close() error {
	c.l.soc.send([]byte(c.identity), hangup)
	c.end()
	return nil
}

// DealerConn 客户端一侧的 DEALER 连接
type DealerConn struct {
	soc  *socket
	once sync.Once
}

// Dial 连接到 ROUTER endpoint，如 tcp://127.0.0.1:10080
func Dial(endpoint string, logger zresource.Logger) (*DealerConn, error) {
	if logger == nil {
		logger = zresource.NopLogger()
	}
	soc, err := newSocket("cli-"+zresource.NewMessageID(), zmq.DEALER, endpoint, false, logger)
	if err != nil {
		return nil, err
	}
	return &DealerConn{soc: soc}, nil
}

func (c *DealerConn) ReadMessage() ([]byte, error) {
	for frames := range c.soc.Recv() {
		if len(frames) == 0 {
			continue
		}
		payload := frames[len(frames)-1]
		if len(payload) == 0 {
			c.Close()
			return nil, transport.ErrClosed
		}
		return payload, nil
	}
	return nil, transport.ErrClosed
}

func (c *DealerConn) WriteMessage(msg []byte) error {
	return c.soc.send(msg)
}

func (c *DealerConn) Close() error {
	c.once.Do(func() {
		c.soc.send(hangup)
		go c.soc.Close()
	})
	return nil
}
