package zresource

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Sentinel 保留的应答值，handler 以它应答表示远端执行失败
const Sentinel = "\x00"

var (
	ErrNoSuchArg = errors.New("zresource: argument index out of range")

	sentinelRaw = func() []byte {
		raw, err := msgpack.Marshal(Sentinel)
		if err != nil {
			panic(err)
		}
		return raw
	}()
)

// Args 事件携带的参数，每个参数单独序列化
type Args [][]byte

func (a Args) Len() int {
	return len(a)
}

// Decode 将第 i 个参数反序列化到 v
func (a Args) Decode(i int, v interface{}) error {
	if i < 0 || i >= len(a) {
		return errors.WithMessagef(ErrNoSuchArg, "index %d, len %d", i, len(a))
	}
	return msgpack.Unmarshal(a[i], v)
}

// Interface 以动态类型返回第 i 个参数
func (a Args) Interface(i int) (interface{}, error) {
	var v interface{}
	err := a.Decode(i, &v)
	return v, err
}

// Value 一次调用的应答值
type Value []byte

func (v Value) Decode(dst interface{}) error {
	if len(v) == 0 {
		return errors.New("zresource: empty value")
	}
	return msgpack.Unmarshal(v, dst)
}

func (v Value) Interface() (interface{}, error) {
	var dst interface{}
	err := v.Decode(&dst)
	return dst, err
}

// IsSentinel 判断应答是否为保留的错误标记
func (v Value) IsSentinel() bool {
	return bytes.Equal(v, sentinelRaw)
}

func isSentinel(v interface{}) bool {
	s, ok := v.(string)
	return ok && s == Sentinel
}
