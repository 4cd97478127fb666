package zresource

import (
	"sync"

	"github.com/hunyxv/zresource/transport"
)

// connection 一条传输层连接，持有其在各 channel 上的 spark
//  所有 pack 由同一个 goroutine 顺序处理
type connection struct {
	id   string
	srv  *Server
	conn transport.Conn

	wmu sync.Mutex

	mu     sync.Mutex
	sparks map[string]*Spark // channel name : spark
	once   sync.Once
}

func newConnection(srv *Server, conn transport.Conn) *connection {
	return &connection{
		id:     NewMessageID(),
		srv:    srv,
		conn:   conn,
		sparks: make(map[string]*Spark),
	}
}

func (c *connection) serve() {
	defer c.close()
	logger := c.srv.logger
	for {
		raw, err := c.conn.ReadMessage()
		if err != nil {
			logger.Debugf("connection|%s|read|%v", c.id, err)
			return
		}
		p, err := UnmarshalPack(raw)
		if err != nil {
			logger.Warnf("connection|%s|%v", c.id, err)
			continue
		}

		switch p.Stage {
		case OPEN:
			c.open(p.Channel)
		case CLOSE:
			c.closeSpark(p.Channel)
		case EVENT:
			spark, ok := c.spark(p.Channel)
			if !ok {
				logger.Debugf("connection|%s|event %q on unopened channel %q", c.id, p.Event, p.Channel)
				continue
			}
			if !c.srv.opts.Emitter {
				logger.Debugf("connection|%s|emitter disabled, drop %q", c.id, p.Event)
				continue
			}
			c.srv.emitter.dispatch(spark, p)
		case REPLY:
			logger.Debugf("connection|%s|unexpected reply %s", c.id, p.Ack)
		}
	}
}

func (c *connection) open(name string) {
	c.mu.Lock()
	_, exists := c.sparks[name]
	c.mu.Unlock()
	if exists {
		return
	}

	channel, ok := c.srv.lookupChannel(name)
	if !ok {
		c.srv.logger.Debugf("connection|%s|unknown channel %q", c.id, name)
		if err := c.write(&Pack{Channel: name, Stage: CLOSE}); err != nil {
			c.srv.logger.Warnf("connection|%s|%v", c.id, err)
		}
		return
	}

	spark := newSpark(c, channel)
	c.mu.Lock()
	c.sparks[name] = spark
	c.mu.Unlock()
	channel.connect(spark)
}

func (c *connection) spark(name string) (*Spark, bool) {
	c.mu.Lock()
	s, ok := c.sparks[name]
	c.mu.Unlock()
	return s, ok
}

func (c *connection) closeSpark(name string) {
	c.mu.Lock()
	s, ok := c.sparks[name]
	delete(c.sparks, name)
	c.mu.Unlock()
	if ok {
		s.channel.disconnect(s)
	}
}

func (c *connection) write(p *Pack) error {
	raw, err := p.Marshal()
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteMessage(raw)
}

func (c *connection) close() error {
	var err error
	c.once.Do(func() {
		err = c.conn.Close()
		c.mu.Lock()
		sparks := c.sparks
		c.sparks = make(map[string]*Spark)
		c.mu.Unlock()
		for _, s := range sparks {
			s.channel.disconnect(s)
		}
	})
	return err
}
