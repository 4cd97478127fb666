package discovery

import (
	"sort"
	"sync"
)

var _ WatchCallback = (*Nodes)(nil)

// Nodes 已发现的节点集合
type Nodes struct {
	mu    sync.RWMutex
	nodes map[string]Node // nodeid : node
}

func NewNodes() *Nodes {
	return &Nodes{nodes: make(map[string]Node)}
}

func (ns *Nodes) AddOrUpdate(nodeid string, metadata []byte) error {
	n, err := UnmarshalNode(metadata)
	if err != nil {
		return err
	}
	if n.NodeID == "" {
		n.NodeID = nodeid
	}
	ns.mu.Lock()
	ns.nodes[nodeid] = n
	ns.mu.Unlock()
	return nil
}

func (ns *Nodes) Delete(nodeid string) {
	ns.mu.Lock()
	delete(ns.nodes, nodeid)
	ns.mu.Unlock()
}

// Lookup 返回提供 resource 的节点（按 nodeid 排序）
func (ns *Nodes) Lookup(resource string) []Node {
	ns.mu.RLock()
	var found []Node
	for _, n := range ns.nodes {
		if n.Provides(resource) {
			found = append(found, n)
		}
	}
	ns.mu.RUnlock()
	sortNodes(found)
	return found
}

// All 所有节点（按 nodeid 排序）
func (ns *Nodes) All() []Node {
	ns.mu.RLock()
	all := make([]Node, 0, len(ns.nodes))
	for _, n := range ns.nodes {
		all = append(all, n)
	}
	ns.mu.RUnlock()
	sortNodes(all)
	return all
}

func (ns *Nodes) Len() int {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return len(ns.nodes)
}

func sortNodes(nodes []Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].NodeID < nodes[j].NodeID })
}
