package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hunyxv/zresource/transport"
	"github.com/pkg/errors"
)

func TestConn(t *testing.T) {
	l := NewListener("test")
	srv := httptest.NewServer(l)
	defer srv.Close()
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cli, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatal(err)
	}
	defer cli.Close()

	sc, err := l.Accept()
	if err != nil {
		t.Fatal(err)
	}

	// 文本帧被忽略
	if err := cli.conn.WriteMessage(websocket.TextMessage, []byte("text")); err != nil {
		t.Fatal(err)
	}
	if err := cli.WriteMessage([]byte{0x81, 0x00}); err != nil {
		t.Fatal(err)
	}
	got, err := sc.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string([]byte{0x81, 0x00}) {
		t.Fatalf("got %x", got)
	}

	sc.WriteMessage([]byte("pong"))
	if got, _ := cli.ReadMessage(); string(got) != "pong" {
		t.Fatalf("got %q", got)
	}

	cli.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if _, err := sc.ReadMessage(); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestListenerClose(t *testing.T) {
	l := NewListener("127.0.0.1:0")
	if l.Addr() != "127.0.0.1:0" {
		t.Fatalf("addr %s", l.Addr())
	}
	l.Close()
	if _, err := l.Accept(); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
