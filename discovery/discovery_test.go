package discovery

import (
	"reflect"
	"testing"

	"github.com/hunyxv/zresource"
)

func TestParseEndpoint(t *testing.T) {
	e, err := ParseEndpoint("ws://127.0.0.1:8080/zresource")
	if err != nil {
		t.Fatal(err)
	}
	if e != (Endpoint{Scheme: "ws", Host: "127.0.0.1", Port: 8080}) {
		t.Fatalf("unexpected endpoint %+v", e)
	}
	if e.String() != "ws://127.0.0.1:8080" {
		t.Fatalf("unexpected string %s", e)
	}

	if _, err := ParseEndpoint("ws://127.0.0.1"); err == nil {
		t.Fatal("expected error for missing port")
	}
}

func TestNewNode(t *testing.T) {
	srv, err := zresource.NewServer()
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()
	srv.Register("creature", zresource.Operations{})
	srv.Register("alpha", zresource.Operations{}, zresource.Multiplexed(false))

	n := NewNode("svc", Endpoint{Scheme: "ws", Host: "h", Port: 1}, srv.Registry())
	if n.NodeID == "" {
		t.Fatal("empty node id")
	}
	if !reflect.DeepEqual(n.Resources, []string{"alpha", "creature"}) {
		t.Fatalf("unexpected resources %v", n.Resources)
	}
	if !n.Provides("creature") || n.Provides("missing") {
		t.Fatal("Provides mismatch")
	}

	b, err := n.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalNode(b)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, n) {
		t.Fatalf("got %+v, want %+v", got, n)
	}
	if _, err := UnmarshalNode([]byte("{")); err == nil {
		t.Fatal("expected error")
	}
}

func TestNodes(t *testing.T) {
	ns := NewNodes()
	a := Node{ServiceName: "svc", NodeID: "a", Resources: []string{"creature"}}
	b := Node{ServiceName: "svc", NodeID: "b", Resources: []string{"creature", "alpha"}}
	for _, n := range []Node{b, a} {
		meta, _ := n.Marshal()
		if err := ns.AddOrUpdate(n.NodeID, meta); err != nil {
			t.Fatal(err)
		}
	}
	if err := ns.AddOrUpdate("c", []byte("not json")); err == nil {
		t.Fatal("expected error")
	}

	if ns.Len() != 2 {
		t.Fatalf("len %d", ns.Len())
	}
	if got := ns.Lookup("creature"); len(got) != 2 || got[0].NodeID != "a" || got[1].NodeID != "b" {
		t.Fatalf("lookup creature: %+v", got)
	}
	if got := ns.Lookup("alpha"); len(got) != 1 || got[0].NodeID != "b" {
		t.Fatalf("lookup alpha: %+v", got)
	}

	ns.Delete("b")
	if got := ns.Lookup("alpha"); len(got) != 0 {
		t.Fatalf("deleted node still found: %+v", got)
	}
	if all := ns.All(); len(all) != 1 || all[0].NodeID != "a" {
		t.Fatalf("all: %+v", all)
	}

	// 没有 nodeid 的元数据使用 key 中的 nodeid
	meta, _ := Node{ServiceName: "svc"}.Marshal()
	ns.AddOrUpdate("d", meta)
	if all := ns.All(); len(all) != 2 || all[1].NodeID != "d" {
		t.Fatalf("all: %+v", all)
	}
}

func TestKeys(t *testing.T) {
	key := joinKey("/zresource", "svc", "node-1")
	if key != "/zresource/svc/node-1" {
		t.Fatalf("key %s", key)
	}
	service, nodeid := splitKey(key)
	if service != "svc" || nodeid != "node-1" {
		t.Fatalf("split %s %s", service, nodeid)
	}
	if service, nodeid := splitKey("bad"); service != "" || nodeid != "" {
		t.Fatalf("split bad key: %s %s", service, nodeid)
	}
}

func TestConsulMeta(t *testing.T) {
	n := Node{
		ServiceName: "svc",
		NodeID:      "a",
		Endpoint:    Endpoint{Scheme: "ws", Host: "10.0.0.1", Port: 8080},
		Resources:   []string{"alpha", "creature"},
	}
	got := metaNode(nodeMeta(n), "10.0.0.1", 8080)
	if !reflect.DeepEqual(got, n) {
		t.Fatalf("got %+v, want %+v", got, n)
	}

	n.Resources = nil
	if got := metaNode(nodeMeta(n), "10.0.0.1", 8080); got.Resources != nil {
		t.Fatalf("unexpected resources %v", got.Resources)
	}
}

func TestConfigDefaults(t *testing.T) {
	rc := &RegisterConfig{}
	rc.init()
	if rc.Logger == nil || rc.HeartBeatPeriod <= 0 {
		t.Fatalf("defaults not applied: %+v", rc)
	}
	dc := &DiscoverConfig{}
	dc.init()
	if dc.Logger == nil {
		t.Fatal("logger not set")
	}
}
