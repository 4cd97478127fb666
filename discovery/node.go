// Package discovery 把 zresource 服务节点注册到 etcd / consul，并发现其他节点
package discovery

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/hunyxv/zresource"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
)

// Endpoint 节点地址
type Endpoint struct {
	Scheme string `json:"scheme"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s://%s:%d", e.Scheme, e.Host, e.Port)
}

// ParseEndpoint 解析形如 ws://127.0.0.1:8080 的地址
func ParseEndpoint(s string) (Endpoint, error) {
	u, err := url.Parse(s)
	if err != nil {
		return Endpoint{}, errors.Wrapf(err, "discovery: parse endpoint %q", s)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return Endpoint{}, errors.Wrapf(err, "discovery: endpoint %q port", s)
	}
	return Endpoint{Scheme: u.Scheme, Host: u.Hostname(), Port: port}, nil
}

// Node 节点信息
//
//	注册时使用 json 序列化，以便在注册中心查看
type Node struct {
	ServiceName string   `json:"service_name"`
	NodeID      string   `json:"nodeid"`
	Endpoint    Endpoint `json:"endpoint"`
	Resources   []string `json:"resources"` // 节点提供的 resource
}

// NewNode 根据注册表生成节点信息
func NewNode(serviceName string, endpoint Endpoint, registry *zresource.Registry) Node {
	return Node{
		ServiceName: serviceName,
		NodeID:      uuid.NewUUID().String(),
		Endpoint:    endpoint,
		Resources:   registry.Names(),
	}
}

// Provides 节点是否提供名为 resource 的 resource
func (n Node) Provides(resource string) bool {
	for _, r := range n.Resources {
		if r == resource {
			return true
		}
	}
	return false
}

func (n Node) Marshal() ([]byte, error) {
	return json.Marshal(n)
}

func UnmarshalNode(b []byte) (Node, error) {
	var n Node
	err := json.Unmarshal(b, &n)
	return n, errors.Wrap(err, "discovery: unmarshal node")
}
