package client

import (
	"sync"

	"github.com/hunyxv/zresource"
)

type listener struct {
	id   uint64
	fn   func(zresource.Args)
	once bool
}

// Stream 客户端一侧的通道，根通道名称为空
type Stream struct {
	name string
	sock *Socket

	mu      sync.Mutex
	seq     uint64
	events  map[string][]*listener
	acks    map[string]*pendingCall
	onOpen  []func()
	onClose []func(error)
	opened  bool
}

func newStream(sock *Socket, name string) *Stream {
	return &Stream{
		name:   name,
		sock:   sock,
		events: make(map[string][]*listener),
		acks:   make(map[string]*pendingCall),
	}
}

func (st *Stream) Name() string {
	return st.name
}

// IsOpen 是否已打开（收到服务端 CLOSE 或 socket 关闭后为 false）
func (st *Stream) IsOpen() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.opened
}

// On 订阅事件，返回取消订阅函数
func (st *Stream) On(event string, fn func(zresource.Args)) (off func()) {
	return st.listen(event, fn, false)
}

// Once 订阅事件，只触发一次
func (st *Stream) Once(event string, fn func(zresource.Args)) (off func()) {
	return st.listen(event, fn, true)
}

func (st *Stream) listen(event string, fn func(zresource.Args), once bool) func() {
	st.mu.Lock()
	st.seq++
	l := &listener{id: st.seq, fn: fn, once: once}
	st.events[event] = append(st.events[event], l)
	st.mu.Unlock()
	return func() { st.off(event, l.id) }
}

func (st *Stream) off(event string, id uint64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	ls := st.events[event]
	for i, l := range ls {
		if l.id == id {
			st.events[event] = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(st.events[event]) == 0 {
		delete(st.events, event)
	}
}

// OnOpen 每次通道打开（发送 OPEN 之前）调用
func (st *Stream) OnOpen(fn func()) {
	st.mu.Lock()
	st.onOpen = append(st.onOpen, fn)
	st.mu.Unlock()
}

// OnClose 通道被服务端关闭或 socket 关闭时调用
func (st *Stream) OnClose(fn func(error)) {
	st.mu.Lock()
	st.onClose = append(st.onClose, fn)
	st.mu.Unlock()
}

// Emit 发送不需要应答的事件
func (st *Stream) Emit(event string, args ...interface{}) error {
	raws, err := zresource.EncodeArgs(args...)
	if err != nil {
		return err
	}
	return st.send(&zresource.Pack{Stage: zresource.EVENT, Event: event, Args: raws})
}

func (st *Stream) send(p *zresource.Pack) error {
	p.Channel = st.name
	return st.sock.write(p)
}

// Reopen 重新打开被服务端关闭的通道
func (st *Stream) Reopen() error {
	if st.IsOpen() {
		return nil
	}
	return st.open()
}

func (st *Stream) open() error {
	st.mu.Lock()
	fns := append([]func(){}, st.onOpen...)
	st.opened = true
	st.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return st.send(&zresource.Pack{Stage: zresource.OPEN})
}

func (st *Stream) register(ack string, call *pendingCall) {
	st.mu.Lock()
	st.acks[ack] = call
	st.mu.Unlock()
}

// forget 删除并返回等待中的调用
func (st *Stream) forget(ack string) (*pendingCall, bool) {
	st.mu.Lock()
	call, ok := st.acks[ack]
	delete(st.acks, ack)
	st.mu.Unlock()
	return call, ok
}

func (st *Stream) pending() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.acks)
}

func (st *Stream) dispatch(p *zresource.Pack) {
	switch p.Stage {
	case zresource.EVENT:
		st.emit(p.Event, zresource.Args(p.Args))
	case zresource.REPLY:
		call, ok := st.forget(p.Ack)
		if !ok {
			st.sock.logger.Debugf("Stream|%q|late reply %s", st.name, p.Ack)
			return
		}
		var v zresource.Value
		if len(p.Args) > 0 {
			v = zresource.Value(p.Args[0])
		}
		call.reply(v)
	case zresource.CLOSE:
		st.sock.logger.Debugf("Stream|%q|closed by server", st.name)
		st.end(ErrStreamClosed)
	}
}

func (st *Stream) emit(event string, args zresource.Args) {
	st.mu.Lock()
	ls := st.events[event]
	fire := make([]*listener, len(ls))
	copy(fire, ls)
	kept := ls[:0:0]
	for _, l := range ls {
		if !l.once {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		delete(st.events, event)
	} else {
		st.events[event] = kept
	}
	st.mu.Unlock()

	for _, l := range fire {
		l.fn(args)
	}
}

// end 通道结束：未完成的调用以 err 失败
func (st *Stream) end(err error) {
	st.mu.Lock()
	wasOpen := st.opened
	st.opened = false
	acks := st.acks
	st.acks = make(map[string]*pendingCall)
	fns := append([]func(error){}, st.onClose...)
	st.mu.Unlock()

	for _, call := range acks {
		call.resolve(nil, err)
	}
	if !wasOpen {
		return
	}
	for _, fn := range fns {
		fn(err)
	}
}
