package protocol

import (
	"encoding"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dep2p/go-formnet/pkg/types"
)

// Version 线协议版本
const Version uint8 = 1

// MessageType 消息类型
type MessageType uint8

const (
	TypeConnectionRequest  MessageType = 1
	TypeConnectionResponse MessageType = 2
	TypeRelayPacket        MessageType = 3
	TypeHeartbeat          MessageType = 4
	TypeDiscoveryQuery     MessageType = 5
	TypeDiscoveryResponse  MessageType = 6
)

func (t MessageType) String() string {
	switch t {
	case TypeConnectionRequest:
		return "ConnectionRequest"
	case TypeConnectionResponse:
		return "ConnectionResponse"
	case TypeRelayPacket:
		return "RelayPacket"
	case TypeHeartbeat:
		return "Heartbeat"
	case TypeDiscoveryQuery:
		return "DiscoveryQuery"
	case TypeDiscoveryResponse:
		return "DiscoveryResponse"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// Message 线协议消息
type Message interface {
	encoding.BinaryMarshaler
	Type() MessageType
}

var (
	_ Message = (*ConnectionRequest)(nil)
	_ Message = (*ConnectionResponse)(nil)
	_ Message = (*RelayPacket)(nil)
	_ Message = (*Heartbeat)(nil)
	_ Message = (*DiscoveryQuery)(nil)
	_ Message = (*DiscoveryResponse)(nil)
)

// ============================================================================
//                              ConnectionRequest
// ============================================================================

// ConnectionRequest 建立会话请求
type ConnectionRequest struct {
	PeerKey   types.PeerKey
	TargetKey types.PeerKey
	Nonce     uint64
}

func (*ConnectionRequest) Type() MessageType { return TypeConnectionRequest }

// MarshalBinary 实现 encoding.BinaryMarshaler
func (m *ConnectionRequest) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, headerLen+2*types.PeerKeySize+8)
	b = appendHeader(b, TypeConnectionRequest)
	b = appendKey(b, m.PeerKey)
	b = appendKey(b, m.TargetKey)
	return binary.BigEndian.AppendUint64(b, m.Nonce), nil
}

// UnmarshalBinary 实现 encoding.BinaryUnmarshaler
func (m *ConnectionRequest) UnmarshalBinary(data []byte) error {
	r, err := newReader(data, TypeConnectionRequest)
	if err != nil {
		return err
	}
	var out ConnectionRequest
	if out.PeerKey, err = r.key(); err != nil {
		return err
	}
	if out.TargetKey, err = r.key(); err != nil {
		return err
	}
	if out.Nonce, err = r.u64(); err != nil {
		return err
	}
	if err := r.done(); err != nil {
		return err
	}
	*m = out
	return nil
}

// ============================================================================
//                              ConnectionResponse
// ============================================================================

// ConnectionStatus 会话建立结果
type ConnectionStatus uint8

const (
	StatusSuccess       ConnectionStatus = 0
	StatusRejected      ConnectionStatus = 1
	StatusResourceLimit ConnectionStatus = 2
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusRejected:
		return "Rejected"
	case StatusResourceLimit:
		return "ResourceLimit"
	default:
		return fmt.Sprintf("ConnectionStatus(%d)", uint8(s))
	}
}

// ConnectionResponse 会话建立响应
//
// Status 为 Success 时 SessionID 有效，否则 Reason 说明原因。
type ConnectionResponse struct {
	Nonce     uint64
	Status    ConnectionStatus
	SessionID types.SessionID
	Reason    string
}

func (*ConnectionResponse) Type() MessageType { return TypeConnectionResponse }

// MarshalBinary 实现 encoding.BinaryMarshaler
func (m *ConnectionResponse) MarshalBinary() ([]byte, error) {
	b := appendHeader(make([]byte, 0, 32), TypeConnectionResponse)
	b = binary.BigEndian.AppendUint64(b, m.Nonce)
	b = append(b, byte(m.Status))
	switch m.Status {
	case StatusSuccess:
		return binary.BigEndian.AppendUint64(b, uint64(m.SessionID)), nil
	case StatusRejected, StatusResourceLimit:
		return appendString(b, m.Reason, MaxReasonLen)
	default:
		return nil, fmt.Errorf("%w: unknown status %d", ErrSerialization, m.Status)
	}
}

// UnmarshalBinary 实现 encoding.BinaryUnmarshaler
func (m *ConnectionResponse) UnmarshalBinary(data []byte) error {
	r, err := newReader(data, TypeConnectionResponse)
	if err != nil {
		return err
	}
	var out ConnectionResponse
	if out.Nonce, err = r.u64(); err != nil {
		return err
	}
	status, err := r.u8()
	if err != nil {
		return err
	}
	out.Status = ConnectionStatus(status)
	switch out.Status {
	case StatusSuccess:
		id, err := r.u64()
		if err != nil {
			return err
		}
		out.SessionID = types.SessionID(id)
	case StatusRejected, StatusResourceLimit:
		if out.Reason, err = r.string(MaxReasonLen); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown status %d", ErrSerialization, status)
	}
	if err := r.done(); err != nil {
		return err
	}
	*m = out
	return nil
}

// ============================================================================
//                              RelayPacket
// ============================================================================

// PacketHeader 转发包头
type PacketHeader struct {
	// DestPeerID 接收方公钥
	DestPeerID types.PeerKey
	SessionID  types.SessionID
	// Timestamp 发送时间（Unix 毫秒）
	Timestamp uint64
}

// Time 返回时间戳对应的时间
func (h PacketHeader) Time() time.Time {
	return time.UnixMilli(int64(h.Timestamp))
}

// RelayPacket 经中继转发的数据包，Payload 原样转发
type RelayPacket struct {
	Header  PacketHeader
	Payload []byte
}

func (*RelayPacket) Type() MessageType { return TypeRelayPacket }

// MarshalBinary 实现 encoding.BinaryMarshaler
func (m *RelayPacket) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, headerLen+types.PeerKeySize+16+10+len(m.Payload))
	b = appendHeader(b, TypeRelayPacket)
	b = appendKey(b, m.Header.DestPeerID)
	b = binary.BigEndian.AppendUint64(b, uint64(m.Header.SessionID))
	b = binary.BigEndian.AppendUint64(b, m.Header.Timestamp)
	return appendBytes(b, m.Payload), nil
}

// UnmarshalBinary 实现 encoding.BinaryUnmarshaler
//
// Payload 复制出来，不引用 data。
func (m *RelayPacket) UnmarshalBinary(data []byte) error {
	r, err := newReader(data, TypeRelayPacket)
	if err != nil {
		return err
	}
	var out RelayPacket
	if out.Header.DestPeerID, err = r.key(); err != nil {
		return err
	}
	id, err := r.u64()
	if err != nil {
		return err
	}
	out.Header.SessionID = types.SessionID(id)
	if out.Header.Timestamp, err = r.u64(); err != nil {
		return err
	}
	payload, err := r.bytes(r.remaining())
	if err != nil {
		return err
	}
	if err := r.done(); err != nil {
		return err
	}
	out.Payload = append([]byte(nil), payload...)
	*m = out
	return nil
}

// ============================================================================
//                              Heartbeat
// ============================================================================

// Heartbeat 会话保活
type Heartbeat struct {
	SessionID types.SessionID
	Sequence  uint64
}

func (*Heartbeat) Type() MessageType { return TypeHeartbeat }

// MarshalBinary 实现 encoding.BinaryMarshaler
func (m *Heartbeat) MarshalBinary() ([]byte, error) {
	b := appendHeader(make([]byte, 0, headerLen+16), TypeHeartbeat)
	b = binary.BigEndian.AppendUint64(b, uint64(m.SessionID))
	return binary.BigEndian.AppendUint64(b, m.Sequence), nil
}

// UnmarshalBinary 实现 encoding.BinaryUnmarshaler
func (m *Heartbeat) UnmarshalBinary(data []byte) error {
	r, err := newReader(data, TypeHeartbeat)
	if err != nil {
		return err
	}
	id, err := r.u64()
	if err != nil {
		return err
	}
	seq, err := r.u64()
	if err != nil {
		return err
	}
	if err := r.done(); err != nil {
		return err
	}
	*m = Heartbeat{SessionID: types.SessionID(id), Sequence: seq}
	return nil
}

// ============================================================================
//                              DiscoveryQuery
// ============================================================================

// DiscoveryQuery 中继发现查询
//
// Region 为空表示不限区域。
type DiscoveryQuery struct {
	Nonce           uint64
	MinCapabilities types.Capabilities
	Region          string
}

func (*DiscoveryQuery) Type() MessageType { return TypeDiscoveryQuery }

// MarshalBinary 实现 encoding.BinaryMarshaler
func (m *DiscoveryQuery) MarshalBinary() ([]byte, error) {
	b := appendHeader(make([]byte, 0, 24+len(m.Region)), TypeDiscoveryQuery)
	b = binary.BigEndian.AppendUint64(b, m.Nonce)
	b = binary.BigEndian.AppendUint32(b, uint32(m.MinCapabilities))
	return appendOptString(b, m.Region, MaxRegionLen)
}

// UnmarshalBinary 实现 encoding.BinaryUnmarshaler
func (m *DiscoveryQuery) UnmarshalBinary(data []byte) error {
	r, err := newReader(data, TypeDiscoveryQuery)
	if err != nil {
		return err
	}
	var out DiscoveryQuery
	if out.Nonce, err = r.u64(); err != nil {
		return err
	}
	caps, err := r.u32()
	if err != nil {
		return err
	}
	out.MinCapabilities = types.Capabilities(caps)
	if out.Region, err = r.optString(MaxRegionLen); err != nil {
		return err
	}
	if err := r.done(); err != nil {
		return err
	}
	*m = out
	return nil
}

// ============================================================================
//                              DiscoveryResponse
// ============================================================================

// DiscoveryResponse 中继发现响应
type DiscoveryResponse struct {
	RequestNonce uint64
	// Timestamp 生成时间（Unix 秒）
	Timestamp     uint64
	Relays        []types.RelayNodeInfo
	MoreAvailable bool
}

func (*DiscoveryResponse) Type() MessageType { return TypeDiscoveryResponse }

// MarshalBinary 实现 encoding.BinaryMarshaler
func (m *DiscoveryResponse) MarshalBinary() ([]byte, error) {
	if len(m.Relays) > MaxRelays {
		return nil, fmt.Errorf("%w: %d relays exceeds %d", ErrSerialization, len(m.Relays), MaxRelays)
	}
	b := appendHeader(make([]byte, 0, 128), TypeDiscoveryResponse)
	b = binary.BigEndian.AppendUint64(b, m.RequestNonce)
	b = binary.BigEndian.AppendUint64(b, m.Timestamp)
	b = appendCount(b, len(m.Relays))
	var err error
	for i := range m.Relays {
		if b, err = appendRelayInfo(b, &m.Relays[i]); err != nil {
			return nil, err
		}
	}
	if m.MoreAvailable {
		return append(b, 1), nil
	}
	return append(b, 0), nil
}

// UnmarshalBinary 实现 encoding.BinaryUnmarshaler
func (m *DiscoveryResponse) UnmarshalBinary(data []byte) error {
	r, err := newReader(data, TypeDiscoveryResponse)
	if err != nil {
		return err
	}
	var out DiscoveryResponse
	if out.RequestNonce, err = r.u64(); err != nil {
		return err
	}
	if out.Timestamp, err = r.u64(); err != nil {
		return err
	}
	n, err := r.uvarint()
	if err != nil {
		return err
	}
	if n > MaxRelays {
		return fmt.Errorf("%w: %d relays exceeds %d", ErrSerialization, n, MaxRelays)
	}
	out.Relays = make([]types.RelayNodeInfo, 0, n)
	for i := uint64(0); i < n; i++ {
		info, err := readRelayInfo(r)
		if err != nil {
			return err
		}
		out.Relays = append(out.Relays, info)
	}
	if out.MoreAvailable, err = r.bool(); err != nil {
		return err
	}
	if err := r.done(); err != nil {
		return err
	}
	*m = out
	return nil
}

func appendCount(b []byte, n int) []byte {
	return appendUvarint(b, uint64(n))
}

func appendRelayInfo(b []byte, info *types.RelayNodeInfo) ([]byte, error) {
	if len(info.Endpoints) > MaxEndpoints {
		return nil, fmt.Errorf("%w: %d endpoints exceeds %d", ErrSerialization, len(info.Endpoints), MaxEndpoints)
	}
	if info.Load > 100 || info.Reliability > 100 {
		return nil, fmt.Errorf("%w: load and reliability must be within 0..100", ErrSerialization)
	}
	b = appendKey(b, info.PublicKey)
	b = appendCount(b, len(info.Endpoints))
	var err error
	for _, ep := range info.Endpoints {
		if b, err = appendString(b, ep, MaxEndpointLen); err != nil {
			return nil, err
		}
	}
	if b, err = appendOptString(b, info.Region, MaxRegionLen); err != nil {
		return nil, err
	}
	b = binary.BigEndian.AppendUint32(b, uint32(info.Capabilities))
	b = append(b, info.Load)
	b = binary.BigEndian.AppendUint32(b, info.MaxSessions)
	b = binary.BigEndian.AppendUint16(b, info.ProtocolVersion)
	return append(b, info.Reliability), nil
}

func readRelayInfo(r *reader) (types.RelayNodeInfo, error) {
	var info types.RelayNodeInfo
	var err error
	if info.PublicKey, err = r.key(); err != nil {
		return info, err
	}
	n, err := r.uvarint()
	if err != nil {
		return info, err
	}
	if n > MaxEndpoints {
		return info, fmt.Errorf("%w: %d endpoints exceeds %d", ErrSerialization, n, MaxEndpoints)
	}
	info.Endpoints = make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		ep, err := r.string(MaxEndpointLen)
		if err != nil {
			return info, err
		}
		info.Endpoints = append(info.Endpoints, ep)
	}
	if info.Region, err = r.optString(MaxRegionLen); err != nil {
		return info, err
	}
	caps, err := r.u32()
	if err != nil {
		return info, err
	}
	info.Capabilities = types.Capabilities(caps)
	if info.Load, err = r.u8(); err != nil {
		return info, err
	}
	if info.MaxSessions, err = r.u32(); err != nil {
		return info, err
	}
	if info.ProtocolVersion, err = r.u16(); err != nil {
		return info, err
	}
	if info.Reliability, err = r.u8(); err != nil {
		return info, err
	}
	if info.Load > 100 || info.Reliability > 100 {
		return info, fmt.Errorf("%w: load and reliability must be within 0..100", ErrSerialization)
	}
	return info, nil
}
