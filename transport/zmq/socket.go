// Package zmq 基于 ZeroMQ ROUTER/DEALER 的 transport 实现
//
//	zmq socket 不是线程安全的：所有收发都在 mainLoop 所在的 goroutine 中进行，
//	其他 goroutine 的发送经由 inproc PUSH/PULL 转交
package zmq

import (
	"fmt"
	"sync"

	"github.com/hunyxv/zresource"
	"github.com/hunyxv/zresource/transport"
	zmq "github.com/pebbe/zmq4"
	"github.com/pkg/errors"
)

const chanCap = 1024

type command string

const _CLOSE = command("close") // 关闭 socket

type socket struct {
	id          string
	socket      *zmq.Socket
	recvChan    chan [][]byte
	sendChan    chan [][]byte
	commandChan chan command
	done        chan struct{}
	logger      zresource.Logger

	lock    sync.Mutex
	isClose bool
}

// newSocket bind 为 true 时绑定 endpoint，否则连接 endpoint
func newSocket(identity string, t zmq.Type, endpoint string, bind bool, logger zresource.Logger) (*socket, error) {
	soc, err := zmq.NewSocket(t)
	if err != nil {
		return nil, errors.Wrap(err, "zmq: new socket")
	}
	if identity != "" {
		if err := soc.SetIdentity(identity); err != nil {
			soc.Close()
			return nil, errors.Wrap(err, "zmq: set identity")
		}
	}
	soc.SetLinger(0)
	if bind {
		err = soc.Bind(endpoint)
	} else {
		err = soc.Connect(endpoint)
	}
	if err != nil {
		soc.Close()
		return nil, errors.Wrapf(err, "zmq: %s", endpoint)
	}

	s := &socket{
		id:          zresource.NewMessageID(),
		socket:      soc,
		recvChan:    make(chan [][]byte, chanCap),
		sendChan:    make(chan [][]byte, chanCap),
		commandChan: make(chan command),
		done:        make(chan struct{}),
		logger:      logger,
	}

	// inproc 需要先 bind 再 connect
	ready := make(chan error)
	go s.sendLoop(ready)
	if err := <-ready; err != nil {
		soc.Close()
		return nil, err
	}
	go s.mainLoop()
	return s, nil
}

func (s *socket) mainLoop() {
	defer close(s.done)
	defer close(s.recvChan)
	defer s.socket.Close()

	// 用于接收 send 消息
	localPull, err := zmq.NewSocket(zmq.PULL)
	if err != nil {
		s.logger.Errorf("zmq|%s|%v", s.id, err)
		return
	}
	defer localPull.Close()
	if err := localPull.Connect(fmt.Sprintf("inproc://local_pull_%s", s.id)); err != nil {
		s.logger.Errorf("zmq|%s|%v", s.id, err)
		return
	}

	// pipe 用于接收指令
	pipe, err := zmq.NewSocket(zmq.PAIR)
	if err != nil {
		s.logger.Errorf("zmq|%s|%v", s.id, err)
		return
	}
	defer pipe.Close()
	if err := pipe.Connect(fmt.Sprintf("inproc://local_pipe_%s", s.id)); err != nil {
		s.logger.Errorf("zmq|%s|%v", s.id, err)
		return
	}

	poller := zmq.NewPoller()
	poller.Add(s.socket, zmq.POLLIN)
	poller.Add(localPull, zmq.POLLIN)
	poller.Add(pipe, zmq.POLLIN)
	for {
		polls, err := poller.Poll(-1)
		if err != nil {
			if zmq.AsErrno(err) == zmq.ETERM {
				return
			}
			s.logger.Warnf("zmq|%s|poll|%v", s.id, err)
			continue
		}

		for _, p := range polls {
			switch soc := p.Socket; soc {
			case pipe:
				cmd, err := pipe.RecvMessage(0)
				if err != nil || command(cmd[0]) == _CLOSE {
					return
				}
			case localPull:
				msg, err := localPull.RecvMessageBytes(0)
				if err != nil {
					s.logger.Warnf("zmq|%s|local pull|%v", s.id, err)
					continue
				}
				if _, err = s.socket.SendMessage(msg); err != nil {
					s.logger.Warnf("zmq|%s|send|%v", s.id, err)
				}
			case s.socket:
				msg, err := s.socket.RecvMessageBytes(0)
				if err != nil {
					s.logger.Warnf("zmq|%s|recv|%v", s.id, err)
					continue
				}
				s.recvChan <- msg
			}
		}
	}
}

func (s *socket) sendLoop(ready chan<- error) {
	localPush, err := zmq.NewSocket(zmq.PUSH)
	if err != nil {
		ready <- errors.Wrap(err, "zmq: local push")
		return
	}
	defer localPush.Close()
	if err := localPush.Bind(fmt.Sprintf("inproc://local_pull_%s", s.id)); err != nil {
		ready <- errors.Wrap(err, "zmq: local push")
		return
	}

	pipe, err := zmq.NewSocket(zmq.PAIR)
	if err != nil {
		ready <- errors.Wrap(err, "zmq: local pipe")
		return
	}
	defer pipe.Close()
	if err := pipe.Bind(fmt.Sprintf("inproc://local_pipe_%s", s.id)); err != nil {
		ready <- errors.Wrap(err, "zmq: local pipe")
		return
	}
	close(ready)

	for {
		select {
		case cmd := <-s.commandChan:
			if cmd == _CLOSE {
				s.flush(localPush)
			}
			if _, err := pipe.SendMessage(string(cmd)); err != nil {
				s.logger.Warnf("zmq|%s|command %s|%v", s.id, cmd, err)
			}
			if cmd == _CLOSE {
				<-s.done
				return
			}
		case msg := <-s.sendChan:
			if _, err := localPush.SendMessage(msg); err != nil {
				s.logger.Warnf("zmq|%s|local push|%v", s.id, err)
			}
		}
	}
}

// flush 关闭前把已提交的消息交给 mainLoop
func (s *socket) flush(localPush *zmq.Socket) {
	for {
		select {
		case msg := <-s.sendChan:
			if _, err := localPush.SendMessage(msg); err != nil {
				s.logger.Warnf("zmq|%s|local push|%v", s.id, err)
			}
		default:
			return
		}
	}
}

// send 将多帧消息交给 mainLoop 发送
func (s *socket) send(frames ...[]byte) error {
	select {
	case <-s.done:
		return transport.ErrClosed
	default:
	}
	select {
	case s.sendChan <- frames:
		return nil
	case <-s.done:
		return transport.ErrClosed
	}
}

func (s *socket) Recv() <-chan [][]byte {
	return s.recvChan
}

// Close 关闭 socket，等待 mainLoop 退出
func (s *socket) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.isClose {
		return
	}
	s.isClose = true
	s.commandChan <- _CLOSE
	<-s.done
}
