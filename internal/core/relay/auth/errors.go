package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication 认证失败
	ErrAuthentication = errors.New("auth: authentication failed")

	// ErrSessionMismatch 包头会话 ID 与会话不符
	ErrSessionMismatch = fmt.Errorf("%w: session id mismatch", ErrAuthentication)

	// ErrUnknownDestination 目标不是会话的任一端
	ErrUnknownDestination = fmt.Errorf("%w: destination not in session", ErrAuthentication)

	// ErrStaleTimestamp 时间戳过旧
	ErrStaleTimestamp = fmt.Errorf("%w: timestamp too old", ErrAuthentication)

	// ErrFutureTimestamp 时间戳超前
	ErrFutureTimestamp = fmt.Errorf("%w: timestamp in the future", ErrAuthentication)

	// ErrInvalidToken 令牌格式错误或 MAC 不匹配
	ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrAuthentication)

	// ErrTokenExpired 令牌已过期
	ErrTokenExpired = fmt.Errorf("%w: token expired", ErrAuthentication)

	// ErrInvalidSecret 令牌密钥长度错误
	ErrInvalidSecret = errors.New("auth: secret must be 32 bytes")
)
