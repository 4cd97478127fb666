package zresource

import (
	"sync"

	"github.com/hunyxv/zresource/transport"
)

var (
	defaultServer *Server
	defaultOnce   sync.Once
	defaultErr    error
)

// DefaultServer 包级默认 server，第一次调用时以 opts 创建，之后的 opts 被忽略
func DefaultServer(opts ...Option) (*Server, error) {
	defaultOnce.Do(func() {
		defaultServer, defaultErr = NewServer(opts...)
	})
	return defaultServer, defaultErr
}

// Register 在默认 server 上注册 resource
func Register(name string, resource interface{}, opts ...ResourceOption) (*Resource, error) {
	srv, err := DefaultServer()
	if err != nil {
		return nil, err
	}
	return srv.Register(name, resource, opts...)
}

// Serve 默认 server 在 l 上接受连接
func Serve(l transport.Listener) error {
	srv, err := DefaultServer()
	if err != nil {
		return err
	}
	return srv.Serve(l)
}

// Close 关闭默认 server
func Close() {
	if defaultServer == nil {
		return
	}
	defaultServer.Close()
}
