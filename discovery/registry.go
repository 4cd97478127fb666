package discovery

import (
	"time"

	"github.com/hunyxv/zresource"
)

// RegisterConfig 服务注册所需配置
type RegisterConfig struct {
	Registries      []string      // 注册中心 endpoint
	ServicePrefix   string        // 服务前缀
	HeartBeatPeriod time.Duration // 心跳间隔
	ServerInfo      Node
	Logger          zresource.Logger
}

// ServiceRegister 服务注册
type ServiceRegister interface {
	// Register 注册节点，阻塞直到 Deregister
	Register()
	// Deregister 注销节点
	Deregister()
}

// DiscoverConfig 服务发现所需配置
type DiscoverConfig struct {
	Registries    []string // 注册中心 endpoint
	ServicePrefix string   // 服务前缀
	ServiceName   string
	Logger        zresource.Logger
}

// ServiceDiscover 服务发现
type ServiceDiscover interface {
	// Watch 监控节点变化，阻塞直到 Stop
	Watch(callback WatchCallback)
	// Stop 停止监控
	Stop()
}

// WatchCallback 节点变更事件回调接口
type WatchCallback interface {
	AddOrUpdate(nodeid string, metadata []byte) error
	Delete(nodeid string)
}

func (cnf *RegisterConfig) init() {
	if cnf.Logger == nil {
		cnf.Logger = zresource.NopLogger()
	}
	if cnf.HeartBeatPeriod <= 0 {
		cnf.HeartBeatPeriod = 5 * time.Second
	}
}

func (cnf *DiscoverConfig) init() {
	if cnf.Logger == nil {
		cnf.Logger = zresource.NopLogger()
	}
}
