package discovery

import (
	"context"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
)

type zookeeperRegister struct {
	ctx    context.Context
	cancel context.CancelFunc

	metadata []byte
	cnf      *RegisterConfig
	client   *zk.Conn
	session  <-chan zk.Event
}

// NewZookeeperRegister zookeeper 服务注册：节点信息写在临时节点 {prefix}/{service}/{nodeid}
func NewZookeeperRegister(cnf *RegisterConfig) (ServiceRegister, error) {
	cnf.init()
	zkClient, session, err := zk.Connect(cnf.Registries, cnf.HeartBeatPeriod)
	if err != nil {
		return nil, errors.Wrap(err, "zookeeper register")
	}

	nodeInfo, err := cnf.ServerInfo.Marshal()
	if err != nil {
		zkClient.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &zookeeperRegister{
		ctx:    ctx,
		cancel: cancel,

		metadata: nodeInfo,
		cnf:      cnf,
		client:   zkClient,
		session:  session,
	}, nil
}

// Register 注册节点；会话重建后临时节点会丢失，需要重新创建
func (zr *zookeeperRegister) Register() {
	for {
		select {
		case <-zr.ctx.Done():
			return
		case event, ok := <-zr.session:
			if !ok {
				return
			}
			if event.State != zk.StateHasSession {
				continue
			}
			if err := zr.register(); err != nil {
				zr.cnf.Logger.Warnf("zookeeper register: path %s create fail, err: %v", zr.key(), err)
				continue
			}
			zr.cnf.Logger.Infof("zookeeper register: endpoint: %s register succ", zr.cnf.ServerInfo.Endpoint)
		}
	}
}

func (zr *zookeeperRegister) register() error {
	if err := zr.createPNode(); err != nil {
		return err
	}

	_, err := zr.client.Create(zr.key(), zr.metadata, zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if err == nil {
		return nil
	}
	if err != zk.ErrNodeExists {
		return err
	}
	_, stat, err := zr.client.Get(zr.key())
	if err != nil {
		return err
	}
	_, err = zr.client.Set(zr.key(), zr.metadata, stat.Version)
	return err
}

// createPNode 逐级创建持久父节点
func (zr *zookeeperRegister) createPNode() error {
	pathPrefix := ""
	for _, seq := range strings.Split(zr.node(), "/") {
		if len(seq) == 0 {
			continue
		}
		pathPrefix = pathPrefix + "/" + seq
		_, err := zr.client.Create(pathPrefix, nil, 0, zk.WorldACL(zk.PermAll))
		if err != nil && err != zk.ErrNodeExists {
			return err
		}
	}
	return nil
}

func (zr *zookeeperRegister) node() string {
	return joinKey(zr.cnf.ServicePrefix, zr.cnf.ServerInfo.ServiceName)
}

func (zr *zookeeperRegister) key() string {
	return joinKey(zr.cnf.ServicePrefix, zr.cnf.ServerInfo.ServiceName, zr.cnf.ServerInfo.NodeID)
}

// Deregister 注销节点
func (zr *zookeeperRegister) Deregister() {
	zr.cancel()
	if err := zr.client.Delete(zr.key(), -1); err != nil && err != zk.ErrNoNode {
		zr.cnf.Logger.Warnf("zookeeper register: path %s delete fail, err: %v", zr.key(), err)
	}
	zr.client.Close()
}

type zookeeperDiscover struct {
	ctx    context.Context
	cancel context.CancelFunc

	cnf    *DiscoverConfig
	client *zk.Conn
}

// NewZookeeperDiscover zookeeper 服务发现
func NewZookeeperDiscover(cnf *DiscoverConfig) (ServiceDiscover, error) {
	cnf.init()
	zkClient, _, err := zk.Connect(cnf.Registries, 5*time.Second)
	if err != nil {
		return nil, errors.Wrap(err, "zookeeper discover")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &zookeeperDiscover{
		ctx:    ctx,
		cancel: cancel,

		cnf:    cnf,
		client: zkClient,
	}, nil
}

// Watch 监控节点变化
//  zookeeper 的 watch 只触发一次，每次触发后重新读取子节点并与上次的结果比较
func (zd *zookeeperDiscover) Watch(callback WatchCallback) {
	known := make(map[string]int32) // nodeid : version
	for {
		children, _, eventch, err := zd.client.ChildrenW(zd.node())
		if err != nil {
			if err == zk.ErrConnectionClosed || zd.ctx.Err() != nil {
				return
			}
			zd.cnf.Logger.Warnf("zookeeper discover: watch path:%s fail, err: %v", zd.node(), err)
			select {
			case <-zd.ctx.Done():
				return
			case <-time.After(3 * time.Second):
			}
			continue
		}

		seen := make(map[string]int32, len(children))
		for _, nodeid := range children {
			data, stat, err := zd.client.Get(zd.key(nodeid))
			if err != nil {
				continue
			}
			seen[nodeid] = stat.Version
			if v, ok := known[nodeid]; ok && v == stat.Version {
				continue
			}
			if err := callback.AddOrUpdate(nodeid, data); err != nil {
				zd.cnf.Logger.Warnf("zookeeper discover: node: %s AddOrUpdate fail, err: %v", nodeid, err)
			}
		}
		for nodeid := range known {
			if _, ok := seen[nodeid]; !ok {
				callback.Delete(nodeid)
			}
		}
		known = seen

		select {
		case <-zd.ctx.Done():
			return
		case <-eventch:
		}
	}
}

func (zd *zookeeperDiscover) node() string {
	return joinKey(zd.cnf.ServicePrefix, zd.cnf.ServiceName)
}

func (zd *zookeeperDiscover) key(nodeid string) string {
	return joinKey(zd.cnf.ServicePrefix, zd.cnf.ServiceName, nodeid)
}

// Stop 停止监控
func (zd *zookeeperDiscover) Stop() {
	zd.cancel()
	zd.client.Close()
}
