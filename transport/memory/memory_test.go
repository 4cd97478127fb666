package memory

import (
	"bytes"
	"testing"

	"github.com/hunyxv/zresource/transport"
	"github.com/pkg/errors"
)

func TestPipe(t *testing.T) {
	a, b := Pipe()

	msg := []byte("hello")
	if err := a.WriteMessage(msg); err != nil {
		t.Fatal(err)
	}
	msg[0] = 'j' // 写入后修改不影响对端
	got, err := b.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("got %q", got)
	}

	if err := b.WriteMessage([]byte("world")); err != nil {
		t.Fatal(err)
	}
	if got, _ := a.ReadMessage(); string(got) != "world" {
		t.Fatalf("got %q", got)
	}
}

func TestPipeClose(t *testing.T) {
	a, b := Pipe()
	a.WriteMessage([]byte("1"))
	a.WriteMessage([]byte("2"))
	a.Close()

	for _, want := range []string{"1", "2"} {
		got, err := b.ReadMessage()
		if err != nil || string(got) != want {
			t.Fatalf("got %q %v, want %q", got, err, want)
		}
	}
	if _, err := b.ReadMessage(); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := b.WriteMessage([]byte("x")); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestListener(t *testing.T) {
	l := Listen("test")
	if l.Addr() != "memory://test" {
		t.Fatalf("addr %s", l.Addr())
	}

	accepted := make(chan transport.Conn, 1)
	go func() {
		c, err := l.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	cli, err := l.Dial()
	if err != nil {
		t.Fatal(err)
	}
	srv := <-accepted
	cli.WriteMessage([]byte("ping"))
	if got, _ := srv.ReadMessage(); string(got) != "ping" {
		t.Fatalf("got %q", got)
	}

	l.Close()
	l.Close()
	if _, err := l.Accept(); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := l.Dial(); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
