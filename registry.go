package zresource

import (
	"sort"
	"sync"
)

// Registry resource 注册表，名称唯一
type Registry struct {
	root     *Channel
	channels ChannelProvider // 为空表示没有多路复用能力
	bus      EventBus        // 为空表示没有命名事件能力
	submit   func(func())
	opts     *options

	mu        sync.RWMutex
	resources map[string]*Resource
}

// newRegistry 创建注册表
//  channels 或 bus 为空时，依赖对应能力的 resource 无法注册
func newRegistry(root *Channel, channels ChannelProvider, bus EventBus, submit func(func()), opts *options) *Registry {
	if opts == nil {
		opts = &options{Logger: NopLogger()}
	}
	if submit == nil {
		submit = func(task func()) { go task() }
	}
	return &Registry{
		root:      root,
		channels:  channels,
		bus:       bus,
		submit:    submit,
		opts:      opts,
		resources: make(map[string]*Resource),
	}
}

// Register 注册 resource
//  resource 可以是 Operations、Members、带有 On* 方法的对象，或返回它们之一的工厂函数 func() interface{}
//  同名 resource 已存在时直接返回已存在的实例，忽略本次的参数
func (r *Registry) Register(name string, resource interface{}, opts ...ResourceOption) (*Resource, error) {
	if name == "" {
		return nil, configErr(name, "resource name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.resources[name]; ok {
		return res, nil
	}

	ro := &resourceOptions{Multiplexed: true}
	for _, f := range opts {
		f(ro)
	}

	handlers, err := discover(name, resource)
	if err != nil {
		return nil, err
	}
	if ro.Multiplexed && r.channels == nil {
		return nil, capabilityErr(name, CapabilityMultiplex)
	}
	if r.bus == nil {
		return nil, capabilityErr(name, CapabilityEmitter)
	}

	channel := r.root
	if ro.Multiplexed {
		channel = r.channels.Channel(name)
	}
	res := newResource(name, ro.Multiplexed, channel, handlers, r)
	channel.OnConnection(res.bind)
	r.resources[name] = res
	r.opts.Logger.Infof("Registry|Register|%s|multiplexed=%v|%v", name, ro.Multiplexed, res.methods)
	return res, nil
}

// Get 按名称查找 resource
func (r *Registry) Get(name string) (*Resource, bool) {
	r.mu.RLock()
	res, ok := r.resources[name]
	r.mu.RUnlock()
	return res, ok
}

// Names 已注册的 resource 名称（有序）
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.resources))
	for name := range r.resources {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
