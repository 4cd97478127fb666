package zresource

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/codes"
)

// Handler 远程可调用的操作
//  reply 为 nil 表示调用方不需要应答；否则最多调用一次 reply
type Handler func(ctx context.Context, spark *Spark, args Args, reply Reply)

// Operations 显式的操作表：操作名 -> handler
type Operations map[string]Handler

// Members 按成员命名约定过滤的操作表：以 "on" 开头的成员暴露为去掉前缀后的操作
type Members map[string]Handler

var (
	handlerType = reflect.TypeOf(Handler(nil))

	// 这些成员名不会暴露
	reservedMembers = map[string]struct{}{
		"once":            {},
		"onready":         {},
		"onconnection":    {},
		"ondisconnection": {},
	}
	// 与握手/连接事件冲突的操作名
	reservedOperations = map[string]struct{}{
		"ready":         {},
		"connection":    {},
		"disconnection": {},
	}
)

// Resource 绑定到某个 channel 上的一组操作
type Resource struct {
	name        string
	multiplexed bool
	ns          string
	channel     *Channel
	methods     []string
	handlers    map[string]Handler

	bus    EventBus
	submit func(func())
	opts   *options
	logger Logger
}

func newResource(name string, multiplexed bool, channel *Channel, handlers map[string]Handler, r *Registry) *Resource {
	methods := make([]string, 0, len(handlers))
	for m := range handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return &Resource{
		name:        name,
		multiplexed: multiplexed,
		ns:          Namespace(name, multiplexed),
		channel:     channel,
		methods:     methods,
		handlers:    handlers,
		bus:         r.bus,
		submit:      r.submit,
		opts:        r.opts,
		logger:      r.opts.Logger,
	}
}

func (r *Resource) Name() string {
	return r.name
}

func (r *Resource) Multiplexed() bool {
	return r.multiplexed
}

// Namespace 事件名前缀，多路复用时为空
func (r *Resource) Namespace() string {
	return r.ns
}

func (r *Resource) Channel() *Channel {
	return r.channel
}

// Methods 暴露的操作名（有序）
func (r *Resource) Methods() []string {
	methods := make([]string, len(r.methods))
	copy(methods, r.methods)
	return methods
}

// bind 新 spark 连接到 channel 时：订阅所有操作，然后发送握手
func (r *Resource) bind(spark *Spark) {
	for _, m := range r.methods {
		r.bus.Subscribe(spark, r.ns+m, r.invoker(m, spark))
	}
	if err := r.bus.Emit(spark, r.ns+"ready", r.methods); err != nil {
		r.logger.Warnf("Resource|%s|ready|spark %s|%v", r.name, spark.id, err)
	}
}

func (r *Resource) invoker(method string, spark *Spark) EventFunc {
	h := r.handlers[method]
	return func(ctx context.Context, args Args, reply Reply) {
		ctx = withCall(ctx, r, method, spark)
		ctx, span := startSpan(ctx, r.opts.TracerProvider, r.name, method, spark)
		defer span.End()

		if reply != nil {
			origin := reply
			reply = func(v interface{}) {
				if isSentinel(v) {
					span.SetStatus(codes.Error, "sentinel reply")
				}
				origin(v)
			}
		}

		defer func() {
			if e := recover(); e != nil {
				err := errors.Errorf("zresource: %s/%s panic: %v", r.name, method, e)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				r.logger.Errorf("Resource|%s|%s|%+v", r.name, method, err)
				if r.opts.Recover != nil {
					r.opts.Recover(ctx, r.name, method, err)
				}
				if reply != nil {
					reply(Sentinel)
				}
			}
		}()

		if r.opts.BeforeCall != nil {
			r.opts.BeforeCall(ctx, r.name, method, spark)
		}
		h(ctx, spark, args, reply)
		if r.opts.AfterCall != nil {
			r.opts.AfterCall(ctx, r.name, method, spark)
		}
	}
}

// Broadcast 向 channel 上当前所有 spark 发送事件，没有 spark 时什么也不做
func (r *Resource) Broadcast(event string, args ...interface{}) error {
	raws, err := EncodeArgs(args...)
	if err != nil {
		return err
	}
	sparks := r.channel.Sparks()
	if len(sparks) == 0 {
		return nil
	}

	name := r.ns + event
	var wg sync.WaitGroup
	wg.Add(len(sparks))
	for _, s := range sparks {
		spark := s
		r.submit(func() {
			defer wg.Done()
			if err := spark.emitRaw(name, raws); err != nil {
				r.logger.Debugf("Resource|%s|broadcast %q|spark %s|%v", r.name, name, spark.id, err)
			}
		})
	}
	wg.Wait()
	return nil
}

// Send 向单个 spark 发送带命名空间的事件
func (r *Resource) Send(spark *Spark, event string, args ...interface{}) error {
	return r.bus.Emit(spark, r.ns+event, args...)
}

// discover 从资源定义中提取操作表，只在注册时调用一次
func discover(name string, resource interface{}) (map[string]Handler, error) {
	return discoverDepth(name, resource, 0)
}

func discoverDepth(name string, resource interface{}, depth int) (map[string]Handler, error) {
	handlers := make(map[string]Handler)
	switch res := resource.(type) {
	case nil:
		return handlers, nil
	case Operations:
		return fromOperations(name, res)
	case map[string]Handler:
		return fromOperations(name, res)
	case Members:
		for member, h := range res {
			if op, ok := operationName(member); ok {
				if h == nil {
					return nil, configErr(name, "member %q has nil handler", member)
				}
				handlers[op] = h
			}
		}
		return handlers, nil
	case func() interface{}:
		if depth > 0 {
			return nil, configErr(name, "factory returned another factory")
		}
		return discoverDepth(name, res(), depth+1)
	}

	rv := reflect.ValueOf(resource)
	rt := rv.Type()
	kind := rt.Kind()
	if kind == reflect.Ptr {
		if rv.IsNil() {
			return nil, configErr(name, "nil %s", rt)
		}
		kind = rt.Elem().Kind()
	}
	if kind != reflect.Struct {
		return nil, configErr(name, "unsupported resource type %s", rt)
	}

	var found bool
	for i := 0; i < rt.NumMethod(); i++ {
		m := rt.Method(i)
		if !strings.HasPrefix(m.Name, "On") || len(m.Name) == 2 {
			continue
		}
		found = true
		op, ok := operationName("on" + lowerFirst(m.Name[2:]))
		if !ok {
			continue
		}
		fn := rv.Method(i)
		if !fn.Type().ConvertibleTo(handlerType) {
			return nil, configErr(name, "method %s has signature %s, want %s", m.Name, fn.Type(), handlerType)
		}
		handlers[op] = fn.Convert(handlerType).Interface().(Handler)
	}
	if !found {
		return nil, configErr(name, "%s exposes no On* methods", rt)
	}
	return handlers, nil
}

func fromOperations(name string, ops map[string]Handler) (map[string]Handler, error) {
	handlers := make(map[string]Handler, len(ops))
	for op, h := range ops {
		if op == "" {
			return nil, configErr(name, "empty operation name")
		}
		if _, ok := reservedOperations[op]; ok {
			return nil, configErr(name, "operation name %q is reserved", op)
		}
		if h == nil {
			return nil, configErr(name, "operation %q has nil handler", op)
		}
		handlers[op] = h
	}
	return handlers, nil
}

// operationName 成员名 -> 操作名
//  以 on 开头、剩余部分非空，且不是 once/onready/onconnection/ondisconnection
func operationName(member string) (string, bool) {
	if !strings.HasPrefix(member, "on") || len(member) == 2 {
		return "", false
	}
	if _, ok := reservedMembers[member]; ok {
		return "", false
	}
	return member[2:], true
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[size:]
}
