package zresource

import "sync"

// Channel 逻辑子通道，根通道的名称为空
//  spark 在各自的 channel 内相互隔离
type Channel struct {
	name string

	mu            sync.RWMutex
	sparks        map[string]*Spark
	connection    []func(*Spark)
	disconnection []func(*Spark)
}

func newChannel(name string) *Channel {
	return &Channel{
		name:   name,
		sparks: make(map[string]*Spark),
	}
}

func (c *Channel) Name() string {
	return c.name
}

// OnConnection 新 spark 连接到该 channel 时按注册顺序调用
//  调用完成之前 spark 不会出现在 Sparks() 中
func (c *Channel) OnConnection(fn func(*Spark)) {
	c.mu.Lock()
	c.connection = append(c.connection, fn)
	c.mu.Unlock()
}

// OnDisconnection spark 断开后调用
func (c *Channel) OnDisconnection(fn func(*Spark)) {
	c.mu.Lock()
	c.disconnection = append(c.disconnection, fn)
	c.mu.Unlock()
}

// Sparks 当前连接的 spark 快照
func (c *Channel) Sparks() []*Spark {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sparks := make([]*Spark, 0, len(c.sparks))
	for _, s := range c.sparks {
		sparks = append(sparks, s)
	}
	return sparks
}

func (c *Channel) Spark(id string) (*Spark, bool) {
	c.mu.RLock()
	s, ok := c.sparks[id]
	c.mu.RUnlock()
	return s, ok
}

func (c *Channel) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sparks)
}

func (c *Channel) connect(s *Spark) {
	c.mu.RLock()
	listeners := append([]func(*Spark){}, c.connection...)
	c.mu.RUnlock()
	for _, fn := range listeners {
		fn(s)
	}

	c.mu.Lock()
	c.sparks[s.id] = s
	c.mu.Unlock()
}

func (c *Channel) disconnect(s *Spark) {
	c.mu.Lock()
	_, ok := c.sparks[s.id]
	delete(c.sparks, s.id)
	listeners := append([]func(*Spark){}, c.disconnection...)
	c.mu.Unlock()
	s.end()
	if !ok {
		return
	}
	for _, fn := range listeners {
		fn(s)
	}
}
