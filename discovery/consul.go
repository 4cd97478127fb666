package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	consulapi "github.com/hashicorp/consul/api"
	"github.com/pkg/errors"
)

const consulTag = "zresource"

type consulRegister struct {
	ctx    context.Context
	cancel context.CancelFunc

	metadata map[string]string
	cnf      *RegisterConfig
	client   *consulapi.Client
}

func newConsulClient(registries []string) (*consulapi.Client, error) {
	consulConfig := consulapi.DefaultConfig()
	if len(registries) > 0 {
		consulConfig.Address = registries[0]
	}
	return consulapi.NewClient(consulConfig)
}

// nodeMeta 节点信息 -> consul service meta
func nodeMeta(n Node) map[string]string {
	return map[string]string{
		"service_name": n.ServiceName,
		"nodeid":       n.NodeID,
		"scheme":       n.Endpoint.Scheme,
		"resources":    strings.Join(n.Resources, ","),
	}
}

// metaNode consul service -> 节点信息
func metaNode(meta map[string]string, address string, port int) Node {
	n := Node{
		ServiceName: meta["service_name"],
		NodeID:      meta["nodeid"],
		Endpoint:    Endpoint{Scheme: meta["scheme"], Host: address, Port: port},
	}
	if r := meta["resources"]; r != "" {
		n.Resources = strings.Split(r, ",")
	}
	return n
}

// NewConsulRegister consul 服务注册
func NewConsulRegister(cnf *RegisterConfig) (ServiceRegister, error) {
	cnf.init()
	consulClient, err := newConsulClient(cnf.Registries)
	if err != nil {
		return nil, errors.Wrap(err, "consul register")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &consulRegister{
		ctx:    ctx,
		cancel: cancel,

		metadata: nodeMeta(cnf.ServerInfo),
		cnf:      cnf,
		client:   consulClient,
	}, nil
}

// Register 注册节点（consul 通过 TCP 检查维持健康状态）
func (cr *consulRegister) Register() {
	host := cr.cnf.ServerInfo.Endpoint.Host
	if host == "" || host == "0.0.0.0" {
		if hosts, _ := getLocalIps(); len(hosts) > 0 {
			host = hosts[0]
		}
	}
	port := cr.cnf.ServerInfo.Endpoint.Port

	interval := strconv.Itoa(int(cr.cnf.HeartBeatPeriod/time.Second)) + "s"
	registration := &consulapi.AgentServiceRegistration{
		Kind:    consulapi.ServiceKindTypical,
		Address: host,
		Port:    port,
		Meta:    cr.metadata,
		ID:      cr.cnf.ServerInfo.NodeID,
		Name:    cr.cnf.ServerInfo.ServiceName,
		Tags:    []string{consulTag},
		Checks: consulapi.AgentServiceChecks{
			{
				Name:                           "endpoint",
				TCP:                            fmt.Sprintf("%s:%d", host, port),
				Interval:                       interval,
				Timeout:                        "3s",
				DeregisterCriticalServiceAfter: "30s",
			},
		},
	}
	if err := cr.client.Agent().ServiceRegister(registration); err != nil {
		cr.cnf.Logger.Warnf("consul register: registry fail, err: %v", err)
		return
	}
	cr.cnf.Logger.Infof("consul register: endpoint: %s register succ", cr.cnf.ServerInfo.Endpoint)
	<-cr.ctx.Done()
}

// Deregister 注销节点
func (cr *consulRegister) Deregister() {
	cr.cancel()
	if cr.cnf.ServerInfo.NodeID != "" {
		if err := cr.client.Agent().ServiceDeregister(cr.cnf.ServerInfo.NodeID); err != nil {
			cr.cnf.Logger.Warnf("consul register: deregister fail, err: %v", err)
		}
	}
}

type consulDiscover struct {
	ctx    context.Context
	cancel context.CancelFunc

	cnf    *DiscoverConfig
	client *consulapi.Client
}

// NewConsulDiscover consul 服务发现
func NewConsulDiscover(cnf *DiscoverConfig) (ServiceDiscover, error) {
	cnf.init()
	consulClient, err := newConsulClient(cnf.Registries)
	if err != nil {
		return nil, errors.Wrap(err, "consul discover")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &consulDiscover{
		ctx:    ctx,
		cancel: cancel,

		cnf:    cnf,
		client: consulClient,
	}, nil
}

// Watch 监控节点变化
func (cd *consulDiscover) Watch(callback WatchCallback) {
	var lastIndex uint64
	known := make(map[string]struct{})
	for {
		select {
		case <-cd.ctx.Done():
			return
		default:
		}

		opts := (&consulapi.QueryOptions{
			WaitIndex: lastIndex, // 同步点，这个调用将一直阻塞，直到有新的更新
		}).WithContext(cd.ctx)
		services, querymeta, err := cd.client.Health().Service(cd.cnf.ServiceName, consulTag, false, opts)
		if err != nil {
			if cd.ctx.Err() != nil {
				return
			}
			cd.cnf.Logger.Warnf("consul discover: watch fail, err: %v", err)
			time.Sleep(time.Second)
			continue
		}
		lastIndex = querymeta.LastIndex

		seen := make(map[string]struct{}, len(services))
		for _, service := range services {
			n := metaNode(service.Service.Meta, service.Service.Address, service.Service.Port)
			if n.NodeID == "" {
				continue
			}
			switch service.Checks.AggregatedStatus() {
			case consulapi.HealthPassing:
				seen[n.NodeID] = struct{}{}
				metadata, _ := n.Marshal()
				if err := callback.AddOrUpdate(n.NodeID, metadata); err != nil {
					cd.cnf.Logger.Warnf("consul discover: node: %s AddOrUpdate fail, err: %v", n.NodeID, err)
				}
			case consulapi.HealthWarning, consulapi.HealthCritical:
				callback.Delete(n.NodeID)
			}
		}
		// 已注销的节点不会再出现在结果中
		for nodeid := range known {
			if _, ok := seen[nodeid]; !ok {
				callback.Delete(nodeid)
			}
		}
		known = seen
	}
}

// Stop 停止监控
func (cd *consulDiscover) Stop() {
	cd.cancel()
}
