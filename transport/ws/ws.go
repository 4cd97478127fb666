// Package ws 基于 gorilla/websocket 的 transport 实现
package ws

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/hunyxv/zresource/transport"
	"github.com/pkg/errors"
)

var _ transport.Conn = (*Conn)(nil)

// Conn 一条 websocket 连接，每帧一个 binary message
type Conn struct {
	muWrite sync.Mutex
	conn    *websocket.Conn
}

func NewConn(conn *websocket.Conn) *Conn {
	return &Conn{conn: conn}
}

// Dial 建立客户端连接
func Dial(ctx context.Context, url string) (*Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "ws: dial %s", url)
	}
	return NewConn(conn), nil
}

func (c *Conn) ReadMessage() ([]byte, error) {
	for {
		typ, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, transport.ErrClosed
			}
			return nil, err
		}
		if typ == websocket.BinaryMessage {
			return msg, nil
		}
	}
}

func (c *Conn) WriteMessage(msg []byte) error {
	c.muWrite.Lock()
	defer c.muWrite.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, msg)
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
	Upgrader websocket.Upgrader

	addr  string
	conns chan transport.Conn
	done  chan struct{}
	once  sync.Once
}

// NewListener addr 仅用于展示
func NewListener(addr string) *Listener {
	return &Listener{
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		addr:  addr,
		conns: make(chan transport.Conn),
		done:  make(chan struct{}),
	}
}

func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := l.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	select {
	case l.conns <- NewConn(conn):
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
