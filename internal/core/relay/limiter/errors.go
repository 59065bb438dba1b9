package limiter

import (
	"errors"
	"fmt"
)

var (
	// ErrResourceLimit 速率上限已满
	ErrResourceLimit = errors.New("limiter: resource limit")

	// ErrPacketRate 全局数据包速率超限
	ErrPacketRate = fmt.Errorf("%w: global packet rate", ErrResourceLimit)

	// ErrIPPacketRate 单 IP 数据包速率超限
	ErrIPPacketRate = fmt.Errorf("%w: per-ip packet rate", ErrResourceLimit)

	// ErrConnectionRate 全局连接速率超限
	ErrConnectionRate = fmt.Errorf("%w: global connection rate", ErrResourceLimit)

	// ErrIPConnectionRate 单 IP 连接速率超限
	ErrIPConnectionRate = fmt.Errorf("%w: per-ip connection rate", ErrResourceLimit)
)
