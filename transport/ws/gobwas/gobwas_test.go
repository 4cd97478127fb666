package gobwas

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

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

	sc, err := l.Accept()
	if err != nil {
		t.Fatal(err)
	}

	for _, msg := range []string{"a", "bb", strings.Repeat("c", 70000)} {
		if err := cli.WriteMessage([]byte(msg)); err != nil {
			t.Fatal(err)
		}
		got, err := sc.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != msg {
			t.Fatalf("got %d bytes, want %d", len(got), len(msg))
		}
	}

	if err := sc.WriteMessage([]byte("pong")); err != nil {
		t.Fatal(err)
	}
	if got, err := cli.ReadMessage(); err != nil || string(got) != "pong" {
		t.Fatalf("got %q %v", got, err)
	}

	cli.Close()
	if _, err := sc.ReadMessage(); err == nil {
		t.Fatal("expected error after peer closed")
	}
}

func TestListenerClose(t *testing.T) {
	l := NewListener("test")
	l.Close()
	if _, err := l.Accept(); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
