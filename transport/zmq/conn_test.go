package zmq

import (
	"testing"
	"time"

	"github.com/hunyxv/zresource/transport"
)

func TestRouterDealer(t *testing.T) {
	l, err := Listen("inproc://zresource-conn-test", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	cli, err := Dial("inproc://zresource-conn-test", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := cli.WriteMessage([]byte("ping")); err != nil {
		t.Fatal(err)
	}

	accepted := make(chan transport.Conn, 1)
	go func() {
		if c, err := l.Accept(); err == nil {
			accepted <- c
		}
	}()
	var sc transport.Conn
	select {
	case sc = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
	}

	got, err := sc.ReadMessage()
	if err != nil || string(got) != "ping" {
		t.Fatalf("got %q %v", got, err)
	}
	if err := sc.WriteMessage([]byte("pong")); err != nil {
		t.Fatal(err)
	}
	got, err = cli.ReadMessage()
	if err != nil || string(got) != "pong" {
		t.Fatalf("got %q %v", got, err)
	}

	// 服务端挂断后客户端连接结束
	sc.Close()
	closed := make(chan error, 1)
	go func() {
		_, err := cli.ReadMessage()
		closed <- err
	}()
	select {
	case err := <-closed:
		if err != transport.ErrClosed {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("hangup not delivered")
	}
	if _, err := sc.ReadMessage(); err != transport.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
