package protocol

import (
	"encoding"
	"fmt"
)

type inboundMessage interface {
	Message
	encoding.BinaryUnmarshaler
}

// inboundDecoders 入站分类顺序
var inboundDecoders = []func() inboundMessage{
	func() inboundMessage { return new(ConnectionRequest) },
	func() inboundMessage { return new(RelayPacket) },
	func() inboundMessage { return new(Heartbeat) },
	func() inboundMessage { return new(DiscoveryQuery) },
}

// Classify 将入站数据报识别为 ConnectionRequest、RelayPacket、Heartbeat 或
// DiscoveryQuery 之一
//
// 依次尝试解码，返回第一个成功的消息。全部失败时返回 ErrProtocol，
// 其中包含最后一个解码错误。
func Classify(data []byte) (Message, error) {
	var lastErr error
	for _, newMsg := range inboundDecoders {
		msg := newMsg()
		err := msg.UnmarshalBinary(data)
		if err == nil {
			return msg, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w (%d bytes): %v", ErrProtocol, len(data), lastErr)
}

// Encode 序列化任意消息
func Encode(m Message) ([]byte, error) {
	b, err := m.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	return b, nil
}
