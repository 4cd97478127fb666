package discovery

import (
	"context"
	"time"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const etcdOpTimeout = 5 * time.Second

type etcdRegister struct {
	ctx    context.Context
	cancel context.CancelFunc

	key    string
	value  string
	cnf    *RegisterConfig
	client *clientv3.Client
}

// NewEtcdRegister etcd 服务注册：节点信息写在 {prefix}/{service}/{nodeid}，随租约过期
func NewEtcdRegister(cnf *RegisterConfig) (ServiceRegister, error) {
	cnf.init()
	value, err := cnf.ServerInfo.Marshal()
	if err != nil {
		return nil, err
	}
	c, err := clientv3.New(clientv3.Config{Endpoints: cnf.Registries, DialTimeout: etcdOpTimeout})
	if err != nil {
		return nil, errors.Wrap(err, "etcd register")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &etcdRegister{
		ctx:    ctx,
		cancel: cancel,
		key:    joinKey(cnf.ServicePrefix, cnf.ServerInfo.ServiceName, cnf.ServerInfo.NodeID),
		value:  string(value),
		cnf:    cnf,
		client: c,
	}, nil
}

// Register 写入节点并保持租约；租约丢失后每个心跳周期重试一次
func (er *etcdRegister) Register() {
	for {
		alive, err := er.grant()
		if err != nil {
			er.cnf.Logger.Warnf("etcd register: %s: %v", er.key, err)
		} else {
			er.cnf.Logger.Infof("etcd register: endpoint: %s register succ", er.cnf.ServerInfo.Endpoint)
			for range alive {
				// KeepAlive 的应答只用来判断租约是否还活着
			}
			if er.ctx.Err() == nil {
				er.cnf.Logger.Warnf("etcd register: %s: lease lost", er.key)
			}
		}

		select {
		case <-er.ctx.Done():
			return
		case <-time.After(er.cnf.HeartBeatPeriod):
		}
	}
}

func (er *etcdRegister) grant() (<-chan *clientv3.LeaseKeepAliveResponse, error) {
	ctx, cancel := context.WithTimeout(er.ctx, etcdOpTimeout)
	defer cancel()

	ttl := int64(er.cnf.HeartBeatPeriod/time.Second) + 3
	lease, err := er.client.Grant(ctx, ttl)
	if err != nil {
		return nil, errors.Wrap(err, "grant")
	}
	if _, err := er.client.Put(ctx, er.key, er.value, clientv3.WithLease(lease.ID)); err != nil {
		return nil, errors.Wrap(err, "put")
	}
	alive, err := er.client.KeepAlive(er.ctx, lease.ID)
	return alive, errors.Wrap(err, "keepalive")
}

// Deregister 删除节点并关闭客户端
func (er *etcdRegister) Deregister() {
	er.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), etcdOpTimeout)
	defer cancel()
	if _, err := er.client.Delete(ctx, er.key); err != nil {
		er.cnf.Logger.Errorf("etcd register: key: %s deregister fail, err: %v", er.key, err)
	}
	er.client.Close()
}

type etcdDiscover struct {
	ctx    context.Context
	cancel context.CancelFunc

	prefix string
	cnf    *DiscoverConfig
	client *clientv3.Client
}

// NewEtcdDiscover etcd 服务发现
func NewEtcdDiscover(cnf *DiscoverConfig) (ServiceDiscover, error) {
	cnf.init()
	c, err := clientv3.New(clientv3.Config{Endpoints: cnf.Registries, DialTimeout: etcdOpTimeout})
	if err != nil {
		return nil, errors.Wrap(err, "etcd discover")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &etcdDiscover{
		ctx:    ctx,
		cancel: cancel,
		prefix: joinKey(cnf.ServicePrefix, cnf.ServiceName) + "/",
		cnf:    cnf,
		client: c,
	}, nil
}

// Watch 先读取当前节点，再从快照的下一个 revision 开始监听，期间的变化不会丢失
func (ed *etcdDiscover) Watch(callback WatchCallback) {
	rev, err := ed.snapshot(callback)
	if err != nil {
		ed.cnf.Logger.Warnf("etcd discover: %s: %v", ed.prefix, err)
	}

	opts := []clientv3.OpOption{clientv3.WithPrefix()}
	if rev > 0 {
		opts = append(opts, clientv3.WithRev(rev+1))
	}
	for resp := range ed.client.Watch(ed.ctx, ed.prefix, opts...) {
		if err := resp.Err(); err != nil {
			ed.cnf.Logger.Errorf("etcd discover: watch err, err: %v", err)
			continue
		}
		for _, ev := range resp.Events {
			_, nodeid := splitKey(string(ev.Kv.Key))
			if ev.Type == clientv3.EventTypeDelete {
				callback.Delete(nodeid)
				continue
			}
			if err := callback.AddOrUpdate(nodeid, ev.Kv.Value); err != nil {
				ed.cnf.Logger.Warnf("etcd discover: node: %s AddOrUpdate fail, err: %v", nodeid, err)
			}
		}
	}
}

// snapshot 读取前缀下所有节点，返回读取时的 revision
func (ed *etcdDiscover) snapshot(callback WatchCallback) (int64, error) {
	ctx, cancel := context.WithTimeout(ed.ctx, etcdOpTimeout)
	defer cancel()
	resp, err := ed.client.Get(ctx, ed.prefix, clientv3.WithPrefix())
	if err != nil {
		return 0, err
	}
	for _, kv := range resp.Kvs {
		_, nodeid := splitKey(string(kv.Key))
		if err := callback.AddOrUpdate(nodeid, kv.Value); err != nil {
			ed.cnf.Logger.Warnf("etcd discover: node: %s AddOrUpdate fail, err: %v", nodeid, err)
		}
	}
	return resp.Header.Revision, nil
}

// Stop 停止监控
func (ed *etcdDiscover) Stop() {
	ed.cancel()
	ed.client.Close()
}
