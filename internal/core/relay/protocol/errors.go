package protocol

import "errors"

var (
	// ErrProtocol 数据报不是可识别的入站消息
	ErrProtocol = errors.New("protocol: unrecognized message")

	// ErrSerialization 编解码失败
	ErrSerialization = errors.New("protocol: serialization error")
)
