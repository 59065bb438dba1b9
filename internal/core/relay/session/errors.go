package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 会话不存在（可能已被维护任务回收）
	ErrNotFound = errors.New("session: not found")

	// ErrResourceLimit 会话数达到上限
	ErrResourceLimit = errors.New("session: resource limit")

	// ErrSessionLimit 全局会话数达到上限
	ErrSessionLimit = fmt.Errorf("%w: global session cap reached", ErrResourceLimit)

	// ErrClientSessionLimit 单个发起方会话数达到上限
	ErrClientSessionLimit = fmt.Errorf("%w: per-client session cap reached", ErrResourceLimit)
)
