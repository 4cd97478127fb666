package main

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/hunyxv/zresource"
)

// Creature 示例 resource：fetch 有应答，message 单向通知
type Creature struct {
	logger   zresource.Logger
	messages int64
}

func NewCreature(logger zresource.Logger) *Creature {
	return &Creature{logger: logger}
}

// OnFetch fetch(what) -> "fetched <what>"，参数不是字符串时以 Sentinel 应答
func (c *Creature) OnFetch(ctx context.Context, spark *zresource.Spark, args zresource.Args, reply zresource.Reply) {
	var what string
	if err := args.Decode(0, &what); err != nil {
		c.logger.Warnf("creature|fetch|spark %s|%v", spark.ID(), err)
		if reply != nil {
			reply(zresource.Sentinel)
		}
		return
	}
	if reply != nil {
		reply(fmt.Sprintf("fetched %s", what))
	}
}

// OnMessage message(text)
func (c *Creature) OnMessage(ctx context.Context, spark *zresource.Spark, args zresource.Args, reply zresource.Reply) {
	var text string
	if err := args.Decode(0, &text); err != nil {
		c.logger.Warnf("creature|message|spark %s|%v", spark.ID(), err)
		return
	}
	n := atomic.AddInt64(&c.messages, 1)
	c.logger.Infof("creature|message #%d from %s: %s", n, spark.ID(), text)
	if reply != nil {
		reply(n)
	}
}

// OnReady 不会被暴露
func (c *Creature) OnReady() {}

func (c *Creature) Messages() int64 {
	return atomic.LoadInt64(&c.messages)
}
