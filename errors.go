package zresource

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

const (
	CapabilityMultiplex = "multiplex" // 子通道能力
	CapabilityEmitter   = "emitter"   // 命名事件能力
)

var (
	ErrServerClosed = errors.New("zresource: server closed")
	ErrSparkClosed  = errors.New("zresource: spark closed")
)

// ConfigurationError 注册 resource 时的配置错误，调用方需要修正配置，不会重试
type ConfigurationError struct {
	Resource   string
	Capability string // 缺失的能力，为空表示不是能力缺失
	Reason     string
}

func (e *ConfigurationError) Error() string {
	if e.Capability != "" {
		return fmt.Sprintf("zresource: resource %q: missing required `%s` capability", e.Resource, e.Capability)
	}
	return fmt.Sprintf("zresource: resource %q: %s", e.Resource, e.Reason)
}

// RemoteError 远端 handler 以 Sentinel 应答
type RemoteError struct {
	Resource string
	Method   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("zresource: %s.%s: remote error", e.Resource, e.Method)
}

// TimeoutError 在超时时间内没有收到应答
type TimeoutError struct {
	Resource string
	Method   string
	After    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("zresource: %s.%s: no reply within %s", e.Resource, e.Method, e.After)
}

func (e *TimeoutError) Timeout() bool { return true }

func configErr(resource, format string, args ...interface{}) error {
	return errors.WithStack(&ConfigurationError{Resource: resource, Reason: fmt.Sprintf(format, args...)})
}

func capabilityErr(resource, capability string) error {
	return errors.WithStack(&ConfigurationError{Resource: resource, Capability: capability})
}
