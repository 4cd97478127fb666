package main

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/hunyxv/zresource"
	"github.com/hunyxv/zresource/client"
	"github.com/hunyxv/zresource/transport/memory"
	flags "github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

func TestCreature(t *testing.T) {
	for _, multiplexed := range []bool{true, false} {
		srv, err := zresource.NewServer()
		if err != nil {
			t.Fatal(err)
		}
		c := NewCreature(zresource.NopLogger())
		if _, err := srv.Register("creature", c, zresource.Multiplexed(multiplexed)); err != nil {
			t.Fatal(err)
		}

		cli, s := memory.Pipe()
		srv.ServeConn(s)
		sock := client.NewSocket(cli, client.WithTimeout(time.Second))
		creature := sock.Resource("creature", multiplexed)
		if err := sock.Open(); err != nil {
			t.Fatal(err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := creature.WaitReady(ctx); err != nil {
			t.Fatal(err)
		}
		if got := creature.Stubs(); !reflect.DeepEqual(got, []string{"fetch", "message"}) {
			t.Fatalf("unexpected stubs %v", got)
		}

		v, err := creature.Call(ctx, "fetch", "bones")
		if err != nil {
			t.Fatal(err)
		}
		var s1 string
		if v.Decode(&s1); s1 != "fetched bones" {
			t.Fatalf("fetch replied %q", s1)
		}

		_, err = creature.Call(ctx, "fetch", 42)
		var remote *zresource.RemoteError
		if !errors.As(err, &remote) {
			t.Fatalf("expected RemoteError, got %v", err)
		}

		v, err = creature.Call(ctx, "message", "hi")
		if err != nil {
			t.Fatal(err)
		}
		var n int64
		if v.Decode(&n); n != 1 {
			t.Fatalf("message replied %d", n)
		}
		if err := creature.Notify("message", "again"); err != nil {
			t.Fatal(err)
		}
		deadline := time.Now().Add(2 * time.Second)
		for c.Messages() != 2 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if c.Messages() != 2 {
			t.Fatalf("messages %d", c.Messages())
		}

		cancel()
		sock.Close()
		srv.Close()
	}
}

func TestParseOptions(t *testing.T) {
	var options Options
	parser := flags.NewParser(&options, flags.None)
	if _, err := parser.ParseArgs([]string{"serve", "--bind", "127.0.0.1:9000", "--heartbeat", "1s", "--etcd", "a:2379", "--etcd", "b:2379"}); err != nil {
		t.Fatal(err)
	}
	if parser.Active.Name != "serve" {
		t.Fatalf("active %s", parser.Active.Name)
	}
	if options.Serve.Bind != "127.0.0.1:9000" || options.Serve.Heartbeat != time.Second {
		t.Fatalf("unexpected serve options %+v", options.Serve)
	}
	if !reflect.DeepEqual(options.Serve.Etcd, []string{"a:2379", "b:2379"}) {
		t.Fatalf("etcd %v", options.Serve.Etcd)
	}
	if options.LogLevel != "info" || options.Serve.Prefix != "/zresource" {
		t.Fatalf("defaults not applied: %q %q", options.LogLevel, options.Serve.Prefix)
	}

	options = Options{}
	parser = flags.NewParser(&options, flags.None)
	if _, err := parser.ParseArgs([]string{"call", "--timeout", "2s", "fetch", "bones"}); err != nil {
		t.Fatal(err)
	}
	if options.Call.Args.Method != "fetch" || !reflect.DeepEqual(options.Call.Args.Params, []string{"bones"}) {
		t.Fatalf("unexpected call args %+v", options.Call.Args)
	}
	if options.Call.Timeout != 2*time.Second {
		t.Fatalf("timeout %s", options.Call.Timeout)
	}
}

func TestResolveWithoutRegistry(t *testing.T) {
	var options Options
	options.Call.URL = "ws://127.0.0.1:9000/"
	url, err := resolve(context.Background(), options, zresource.NopLogger())
	if err != nil {
		t.Fatal(err)
	}
	if url != options.Call.URL {
		t.Fatalf("resolved %s", url)
	}
}
