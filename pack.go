package zresource

import (
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	OPEN  = string(rune(iota + 1)) // 打开 channel（连接到某个子通道）
	CLOSE                          // 关闭 channel
	EVENT                          // 命名事件
	REPLY                          // 对带 ack 的事件的应答
)

var (
	STAGE_NAME = map[string]string{
		OPEN:  "OPEN",
		CLOSE: "CLOSE",
		EVENT: "EVENT",
		REPLY: "REPLY",
	}

	ErrInvalidPack = errors.New("zresource: invalid pack")
)

// Header 随事件传递的元信息（目前用于链路追踪）
//  实现了 propagation.TextMapCarrier
type Header map[string]string

func (h Header) Set(key, value string) {
	h[key] = value
}

func (h Header) Get(key string) string {
	return h[key]
}

func (h Header) Has(key string) bool {
	_, ok := h[key]
	return ok
}

func (h Header) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	return keys
}

// Pack 传输层上的一帧
//  Channel 为空表示根通道
type Pack struct {
	Channel string   `msgpack:"channel"`
	Stage   string   `msgpack:"stage"`
	Event   string   `msgpack:"event,omitempty"`
	Ack     string   `msgpack:"ack,omitempty"`
	Header  Header   `msgpack:"head,omitempty"`
	Args    [][]byte `msgpack:"args,omitempty"`
}

func (p *Pack) Set(key, value string) {
	if p.Header == nil {
		p.Header = make(Header)
	}
	p.Header.Set(key, value)
}

func (p *Pack) Get(key string) string {
	if p.Header == nil {
		return ""
	}
	return p.Header.Get(key)
}

func (p *Pack) Marshal() ([]byte, error) {
	return msgpack.Marshal(p)
}

// UnmarshalPack 反序列化并校验一帧
func UnmarshalPack(raw []byte) (*Pack, error) {
	var p Pack
	if err := msgpack.Unmarshal(raw, &p); err != nil {
		return nil, errors.Wrap(err, "zresource: unmarshal pack")
	}
	if _, ok := STAGE_NAME[p.Stage]; !ok {
		return nil, errors.WithMessagef(ErrInvalidPack, "unknown stage %q", p.Stage)
	}
	if p.Stage == EVENT && p.Event == "" {
		return nil, errors.WithMessage(ErrInvalidPack, "event without name")
	}
	if p.Stage == REPLY && p.Ack == "" {
		return nil, errors.WithMessage(ErrInvalidPack, "reply without ack")
	}
	return &p, nil
}

// EncodeArgs 将参数逐个序列化
func EncodeArgs(args ...interface{}) ([][]byte, error) {
	if len(args) == 0 {
		return nil, nil
	}
	raws := make([][]byte, 0, len(args))
	for i, arg := range args {
		raw, err := msgpack.Marshal(arg)
		if err != nil {
			return nil, errors.Wrapf(err, "zresource: marshal argument %d", i)
		}
		raws = append(raws, raw)
	}
	return raws, nil
}
