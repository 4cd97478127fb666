package zresource

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/pborman/uuid"
)

var origin int64

func init() {
	start, err := time.ParseInLocation("2006-01-02 15:04:05", "2021-11-17 11:47:00", time.Local)
	if err != nil {
		panic(err)
	}
	origin = start.UnixNano() / int64(time.Millisecond)
}

// NewMessageID 生成唯一 id：时间前缀 + 随机 uuid 后半段
//  用于 spark id 和应答 ack
func NewMessageID() (id string) {
	now := time.Now().UnixNano()/int64(time.Millisecond) - origin
	_uuid := uuid.NewRandom().Array()
	idPrefix := bytes.NewBuffer([]byte{})
	binary.Write(idPrefix, binary.BigEndian, now)
	var _id [27]byte
	hex.Encode(_id[:], idPrefix.Bytes()[3:])
	_id[10] = '-'
	hex.Encode(_id[11:], _uuid[8:])
	return string(_id[:])
}

// EventName 按寻址方式生成线上事件名
func EventName(ns, event string) string {
	return ns + event
}

// Namespace 非多路复用的 resource 以 "name::" 作为事件名前缀
func Namespace(name string, multiplexed bool) string {
	if multiplexed {
		return ""
	}
	return name + "::"
}
