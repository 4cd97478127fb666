package zresource

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/hunyxv/zresource/transport"
	"github.com/hunyxv/zresource/transport/memory"
)

type rawPeer struct {
	t    *testing.T
	conn transport.Conn
	in   chan *Pack
}

func dialRaw(t *testing.T, srv *Server) *rawPeer {
	t.Helper()
	cli, s := memory.Pipe()
	srv.ServeConn(s)
	p := &rawPeer{t: t, conn: cli, in: make(chan *Pack, 64)}
	go func() {
		defer close(p.in)
		for {
			raw, err := cli.ReadMessage()
			if err != nil {
				return
			}
			pack, err := UnmarshalPack(raw)
			if err != nil {
				t.Error(err)
				return
			}
			p.in <- pack
		}
	}()
	return p
}

func (p *rawPeer) send(pack *Pack) {
	p.t.Helper()
	raw, err := pack.Marshal()
	if err != nil {
		p.t.Fatal(err)
	}
	if err := p.conn.WriteMessage(raw); err != nil {
		p.t.Fatal(err)
	}
}

func (p *rawPeer) call(channel, event, ack string, args ...interface{}) {
	p.t.Helper()
	raws, err := EncodeArgs(args...)
	if err != nil {
		p.t.Fatal(err)
	}
	p.send(&Pack{Channel: channel, Stage: EVENT, Event: event, Ack: ack, Args: raws})
}

func (p *rawPeer) recv() *Pack {
	p.t.Helper()
	select {
	case pack, ok := <-p.in:
		if !ok {
			p.t.Fatal("connection closed")
		}
		return pack
	case <-time.After(2 * time.Second):
		p.t.Fatal("timeout waiting for pack")
	}
	return nil
}

func (p *rawPeer) expectReady(channel, event string, methods []string) {
	p.t.Helper()
	pack := p.recv()
	if pack.Stage != EVENT || pack.Channel != channel || pack.Event != event {
		p.t.Fatalf("expected handshake %q on %q, got %s %q on %q", event, channel, STAGE_NAME[pack.Stage], pack.Event, pack.Channel)
	}
	var got []string
	if err := Args(pack.Args).Decode(0, &got); err != nil {
		p.t.Fatal(err)
	}
	if !reflect.DeepEqual(got, methods) {
		p.t.Fatalf("handshake methods: got %v, want %v", got, methods)
	}
}

func (p *rawPeer) expectReply(ack string, want interface{}) {
	p.t.Helper()
	pack := p.recv()
	if pack.Stage != REPLY || pack.Ack != ack {
		p.t.Fatalf("expected reply %s, got %s %q/%q", ack, STAGE_NAME[pack.Stage], pack.Event, pack.Ack)
	}
	got, err := Args(pack.Args).Interface(0)
	if err != nil {
		p.t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		p.t.Fatalf("reply %s: got %#v, want %#v", ack, got, want)
	}
}

func fetch(ctx context.Context, spark *Spark, args Args, reply Reply) {
	var what string
	args.Decode(0, &what)
	if reply != nil {
		reply("fetched " + what)
	}
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	srv, err := NewServer(opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv
}

func TestHandshakeAndCall(t *testing.T) {
	srv := newTestServer(t)
	if _, err := srv.Register("creature", Operations{"fetch": fetch, "message": nop}); err != nil {
		t.Fatal(err)
	}

	peer := dialRaw(t, srv)
	peer.send(&Pack{Stage: OPEN})
	peer.send(&Pack{Channel: "creature", Stage: OPEN})
	peer.expectReady("creature", "ready", []string{"fetch", "message"})

	peer.call("creature", "fetch", "1", "hi")
	peer.expectReply("1", "fetched hi")
}

func TestUnknownChannel(t *testing.T) {
	srv := newTestServer(t)
	peer := dialRaw(t, srv)
	peer.send(&Pack{Channel: "nope", Stage: OPEN})
	if pack := peer.recv(); pack.Stage != CLOSE || pack.Channel != "nope" {
		t.Fatalf("expected CLOSE for unknown channel, got %+v", pack)
	}
}

func TestMultiplexDisabledClosesSubChannel(t *testing.T) {
	srv := newTestServer(t, WithMultiplex(false))
	srv.Channel("creature")
	peer := dialRaw(t, srv)
	peer.send(&Pack{Channel: "creature", Stage: OPEN})
	if pack := peer.recv(); pack.Stage != CLOSE {
		t.Fatalf("expected CLOSE, got %+v", pack)
	}
}

func TestFlatNamespace(t *testing.T) {
	srv := newTestServer(t)
	if _, err := srv.Register("a", Operations{"x": fetch}, Multiplexed(false)); err != nil {
		t.Fatal(err)
	}
	if _, err := srv.Register("b", Operations{"x": nop}, Multiplexed(false)); err != nil {
		t.Fatal(err)
	}

	peer := dialRaw(t, srv)
	peer.send(&Pack{Stage: OPEN})
	peer.expectReady("", "a::ready", []string{"x"})
	peer.expectReady("", "b::ready", []string{"x"})

	// 不带前缀的事件不会触发 a 的操作
	peer.call("", "x", "1", "lost")
	peer.call("", "a::x", "2", "found")
	peer.expectReply("2", "fetched found")
}

func TestPanicRepliesSentinel(t *testing.T) {
	var recovered error
	srv := newTestServer(t, WithRecover(func(ctx context.Context, resource, method string, err error) {
		recovered = err
	}))
	boom := func(ctx context.Context, spark *Spark, args Args, reply Reply) { panic("boom") }
	if _, err := srv.Register("r", Operations{"boom": boom, "fetch": fetch}); err != nil {
		t.Fatal(err)
	}

	peer := dialRaw(t, srv)
	peer.send(&Pack{Channel: "r", Stage: OPEN})
	peer.expectReady("r", "ready", []string{"boom", "fetch"})
	peer.call("r", "boom", "1")
	peer.expectReply("1", Sentinel)
	if recovered == nil {
		t.Fatal("recover hook not called")
	}

	// 连接仍然可用
	peer.call("r", "fetch", "2", "again")
	peer.expectReply("2", "fetched again")
}

func TestSecondReplyIgnored(t *testing.T) {
	srv := newTestServer(t)
	twice := func(ctx context.Context, spark *Spark, args Args, reply Reply) {
		reply(1)
		reply(2)
	}
	if _, err := srv.Register("r", Operations{"twice": twice, "fetch": fetch}); err != nil {
		t.Fatal(err)
	}

	peer := dialRaw(t, srv)
	peer.send(&Pack{Channel: "r", Stage: OPEN})
	peer.expectReady("r", "ready", []string{"fetch", "twice"})
	peer.call("r", "twice", "1")
	peer.expectReply("1", int8(1))
	peer.call("r", "fetch", "2", "next")
	peer.expectReply("2", "fetched next")
}

func TestFireAndForgetHasNoReply(t *testing.T) {
	srv := newTestServer(t)
	got := make(chan bool, 1)
	probe := func(ctx context.Context, spark *Spark, args Args, reply Reply) {
		got <- reply == nil
	}
	if _, err := srv.Register("r", Operations{"probe": probe}); err != nil {
		t.Fatal(err)
	}
	peer := dialRaw(t, srv)
	peer.send(&Pack{Channel: "r", Stage: OPEN})
	peer.expectReady("r", "ready", []string{"probe"})
	peer.call("r", "probe", "")

	select {
	case isNil := <-got:
		if !isNil {
			t.Fatal("fire-and-forget call received a reply function")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
}

func TestHooksAndContext(t *testing.T) {
	before := make(chan string, 1)
	after := make(chan string, 1)
	srv := newTestServer(t,
		WithBeforeCall(func(ctx context.Context, resource, method string, spark *Spark) {
			before <- resource + "/" + method
		}),
		WithAfterCall(func(ctx context.Context, resource, method string, spark *Spark) {
			after <- resource + "/" + method
		}),
	)
	who := func(ctx context.Context, spark *Spark, args Args, reply Reply) {
		s, ok := SparkFromContext(ctx)
		r, ok2 := ResourceFromContext(ctx)
		m, ok3 := MethodFromContext(ctx)
		reply(ok && ok2 && ok3 && s == spark && r.Name() == "r" && m == "who" && spark.Channel().Name() == "r")
	}
	if _, err := srv.Register("r", Operations{"who": who}); err != nil {
		t.Fatal(err)
	}
	peer := dialRaw(t, srv)
	peer.send(&Pack{Channel: "r", Stage: OPEN})
	peer.expectReady("r", "ready", []string{"who"})
	peer.call("r", "who", "1")
	peer.expectReply("1", true)

	for name, ch := range map[string]chan string{"before": before, "after": after} {
		select {
		case got := <-ch:
			if got != "r/who" {
				t.Fatalf("%s hook: %q", name, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s hook not called", name)
		}
	}
}

func waitSparks(t *testing.T, c *Channel, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("channel %q has %d sparks, want %d", c.Name(), c.Len(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcast(t *testing.T) {
	srv := newTestServer(t)
	r, err := srv.Register("creature", Operations{})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Broadcast("news", "nobody"); err != nil {
		t.Fatal(err)
	}

	peers := make([]*rawPeer, 3)
	for i := range peers {
		peers[i] = dialRaw(t, srv)
		peers[i].send(&Pack{Channel: "creature", Stage: OPEN})
		peers[i].expectReady("creature", "ready", []string{})
	}
	waitSparks(t, r.Channel(), 3)

	if err := r.Broadcast("news", "hello"); err != nil {
		t.Fatal(err)
	}
	for _, p := range peers {
		pack := p.recv()
		var s string
		if pack.Event != "news" || Args(pack.Args).Decode(0, &s) != nil || s != "hello" {
			t.Fatalf("unexpected broadcast: %+v", pack)
		}
	}
}

func TestSparkCloseAndDisconnect(t *testing.T) {
	srv := newTestServer(t)
	r, err := srv.Register("r", Operations{})
	if err != nil {
		t.Fatal(err)
	}
	gone := make(chan string, 1)
	r.Channel().OnDisconnection(func(s *Spark) { gone <- s.ID() })

	peer := dialRaw(t, srv)
	peer.send(&Pack{Channel: "r", Stage: OPEN})
	peer.expectReady("r", "ready", []string{})
	waitSparks(t, r.Channel(), 1)

	spark := r.Channel().Sparks()[0]
	if err := spark.Close(); err != nil {
		t.Fatal(err)
	}
	if pack := peer.recv(); pack.Stage != CLOSE || pack.Channel != "r" {
		t.Fatalf("expected CLOSE, got %+v", pack)
	}
	select {
	case id := <-gone:
		if id != spark.ID() {
			t.Fatalf("disconnected %s, want %s", id, spark.ID())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disconnection not fired")
	}
	select {
	case <-spark.Done():
	default:
		t.Fatal("spark context not cancelled")
	}
	if err := spark.Emit("x"); err == nil {
		t.Fatal("emit on closed spark should fail")
	}
}
