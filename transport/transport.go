// Package transport 定义 zresource 使用的双向消息连接
//  每次 ReadMessage 返回一帧完整的 pack，实现需要保证同一连接上帧的顺序
package transport

import "github.com/pkg/errors"

var ErrClosed = errors.New("transport: connection closed")

// Conn 一条双向连接
//  ReadMessage 只会被一个 goroutine 调用；WriteMessage 需要并发安全
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(msg []byte) error
	Close() error
}

// Listener 接受新连接
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() string
}
