// Package gobwas 基于 gobwas/ws 的 websocket transport 实现
package gobwas

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/hunyxv/zresource/transport"
	"github.com/pkg/errors"
)

type rw struct {
	io.Reader
	io.Writer
}

var _ transport.Conn = (*Conn)(nil)

// Conn 一条 websocket 连接
type Conn struct {
	muWrite sync.Mutex
	conn    net.Conn
	rw      io.ReadWriter
	state   ws.State
}

// Dial 建立客户端连接
func Dial(ctx context.Context, url string) (*Conn, error) {
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "gobwas: dial %s", url)
	}
	var r io.Reader = conn
	if br != nil {
		// 握手时多读到的数据
		r = io.MultiReader(br, conn)
	}
	return newConn(conn, r, ws.StateClientSide), nil
}

func newConn(conn net.Conn, r io.Reader, state ws.State) *Conn {
	c := &Conn{conn: conn, state: state}
	c.rw = rw{Reader: r, Writer: c}
	return c
}

func (c *Conn) ReadMessage() ([]byte, error) {
	for {
		msg, op, err := wsutil.ReadData(c.rw, c.state)
		if err != nil {
			var closed wsutil.ClosedError
			if errors.As(err, &closed) || errors.Is(err, io.EOF) {
				return nil, transport.ErrClosed
			}
			return nil, err
		}
		if op == ws.OpBinary {
			return msg, nil
		}
	}
}

// Write 控制帧的应答也要和数据帧串行写入
func (c *Conn) Write(p []byte) (int, error) {
	c.muWrite.Lock()
	defer c.muWrite.Unlock()
	return c.conn.Write(p)
}

func (c *Conn) WriteMessage(msg []byte) error {
	c.muWrite.Lock()
	defer c.muWrite.Unlock()
	if c.state.ServerSide() {
		return wsutil.WriteServerMessage(c.conn, ws.OpBinary, msg)
	}
	return wsutil.WriteClientMessage(c.conn, ws.OpBinary, msg)
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

var (
	_ transport.Listener = (*Listener)(nil)
	_ http.Handler       = (*Listener)(nil)
)

// Listener 以 http.Handler 的形式接受 websocket 连接
type Listener struct {
	Upgrader ws.HTTPUpgrader

	addr  string
	conns chan transport.Conn
	done  chan struct{}
	once  sync.Once
}

func NewListener(addr string) *Listener {
	return &Listener{
		addr:  addr,
		conns: make(chan transport.Conn),
		done:  make(chan struct{}),
	}
}

func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, buf, _, err := l.Upgrader.Upgrade(r, w)
	if err != nil {
		return
	}
	var rd io.Reader = conn
	if buf != nil && buf.Reader.Buffered() > 0 {
		rd = io.MultiReader(buf.Reader, conn)
	}
	select {
	case l.conns <- newConn(conn, rd, ws.StateServerSide):
	case <-l.done:
		conn.Close()
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

func (l *Listener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

func (l *Listener) Addr() string {
	return l.addr
}
