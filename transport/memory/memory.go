// Package memory 进程内的 transport 实现，用于测试和嵌入
package memory

import (
	"sync"

	"github.com/hunyxv/zresource/transport"
	"github.com/pkg/errors"
)

const queueSize = 1024

var _ transport.Conn = (*conn)(nil)

type pipe struct {
	done chan struct{}
	once sync.Once
}

func (p *pipe) close() {
	p.once.Do(func() { close(p.done) })
}

type conn struct {
	p   *pipe
	in  <-chan []byte
	out chan<- []byte
}

// Pipe 创建一对相连的连接，任意一端关闭两端都会关闭
func Pipe() (transport.Conn, transport.Conn) {
	p := &pipe{done: make(chan struct{})}
	a2b := make(chan []byte, queueSize)
	b2a := make(chan []byte, queueSize)
	return &conn{p: p, in: b2a, out: a2b}, &conn{p: p, in: a2b, out: b2a}
}

func (c *conn) ReadMessage() ([]byte, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	case <-c.p.done:
		// 关闭前已经写入的消息仍然可以读到
		select {
		case msg := <-c.in:
			return msg, nil
		default:
			return nil, transport.ErrClosed
		}
	}
}

func (c *conn) WriteMessage(msg []byte) error {
	buf := make([]byte, len(msg))
	copy(buf, msg)
	select {
	case <-c.p.done:
		return transport.ErrClosed
	default:
	}
	select {
	case c.out <- buf:
		return nil
	case <-c.p.done:
		return transport.ErrClosed
	}
}

func (c *conn) Close() error {
	c.p.close()
	return nil
}

// Listener 进程内 listener，通过 Dial 建立连接
type Listener struct {
	name  string
	conns chan transport.Conn
	done  chan struct{}
	once  sync.Once
}

var _ transport.Listener = (*Listener)(nil)

func Listen(name string) *Listener {
	return &Listener{
		name:  name,
		conns: make(chan transport.Conn),
		done:  make(chan struct{}),
	}
}

func (l *Listener) Accept() (transport.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, transport.ErrClosed
	}
}

// Dial 建立一条到 listener 的连接，返回客户端一端
func (l *Listener) Dial() (transport.Conn, error) {
	client, server := Pipe()
	select {
	case l.conns <- server:
		return client, nil
	case <-l.done:
		return nil, errors.WithMessagef(transport.ErrClosed, "memory listener %s", l.name)
	}
}

func (l *Listener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

func (l *Listener) Addr() string {
	return "memory://" + l.name
}
