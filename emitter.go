package zresource

import (
	"github.com/hunyxv/utils/spinlock"
	"github.com/pkg/errors"
)

// EventBus 命名事件能力：按 spark 订阅和发送事件
type EventBus interface {
	Subscribe(spark *Spark, event string, fn EventFunc)
	Emit(spark *Spark, event string, args ...interface{}) error
}

var _ EventBus = (*emitter)(nil)

type emitter struct {
	logger Logger
}

func (e *emitter) Subscribe(spark *Spark, event string, fn EventFunc) {
	spark.On(event, fn)
}

func (e *emitter) Emit(spark *Spark, event string, args ...interface{}) error {
	return spark.Emit(event, args...)
}

// dispatch 在连接的读 goroutine 中调用监听函数
func (e *emitter) dispatch(spark *Spark, p *Pack) {
	fn, ok := spark.listener(p.Event)
	if !ok {
		e.logger.Debugf("emitter|spark %s|no listener for %q", spark.id, p.Event)
		return
	}

	var reply Reply
	if p.Ack != "" {
		reply = e.replier(spark, p.Event, p.Ack)
	}
	ctx := ExtractHeader(spark.ctx, p.Header)

	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorf("emitter|spark %s|%q|%+v", spark.id, p.Event, errors.Errorf("panic: %v", r))
			if reply != nil {
				reply(Sentinel)
			}
		}
	}()
	fn(ctx, Args(p.Args), reply)
}

// replier 生成单次生效的应答函数
func (e *emitter) replier(spark *Spark, event, ack string) Reply {
	var (
		lock    = spinlock.NewSpinLock()
		replied bool
	)
	return func(v interface{}) {
		lock.Lock()
		if replied {
			lock.Unlock()
			e.logger.Warnf("emitter|spark %s|%q|ack %s already replied", spark.id, event, ack)
			return
		}
		replied = true
		lock.Unlock()

		raws, err := EncodeArgs(v)
		if err != nil {
			e.logger.Errorf("emitter|spark %s|%q|%v", spark.id, event, err)
			raws, _ = EncodeArgs(Sentinel)
		}
		err = spark.write(&Pack{
			Channel: spark.channel.name,
			Stage:   REPLY,
			Ack:     ack,
			Args:    raws,
		})
		if err != nil {
			e.logger.Warnf("emitter|spark %s|%q|reply: %v", spark.id, event, err)
		}
	}
}
