package types

import (
	"strings"
	"time"
)

// ProtocolVersion 当前中继协议版本
const ProtocolVersion uint16 = 1

// ============================================================================
//                              Capabilities - 能力位图
// ============================================================================

// Capabilities 中继能力位图
type Capabilities uint32

const (
	// CapIPv4 支持 IPv4
	CapIPv4 Capabilities = 1 << iota
	// CapIPv6 支持 IPv6
	CapIPv6
	// CapHighBandwidth 高带宽
	CapHighBandwidth
	// CapLowLatency 低延迟
	CapLowLatency
)

var capabilityNames = []struct {
	cap  Capabilities
	name string
}{
	{CapIPv4, "ipv4"},
	{CapIPv6, "ipv6"},
	{CapHighBandwidth, "high-bandwidth"},
	{CapLowLatency, "low-latency"},
}

// Satisfies c 是否包含 required 的所有位
func (c Capabilities) Satisfies(required Capabilities) bool {
	return c&required == required
}

// String 返回以 | 分隔的能力名
func (c Capabilities) String() string {
	if c == 0 {
		return "none"
	}
	var names []string
	for _, n := range capabilityNames {
		if c&n.cap != 0 {
			names = append(names, n.name)
		}
	}
	if rest := c &^ (CapIPv4 | CapIPv6 | CapHighBandwidth | CapLowLatency); rest != 0 {
		names = append(names, "unknown")
	}
	return strings.Join(names, "|")
}

// ============================================================================
//                              RelayNodeInfo - 中继通告信息
// ============================================================================

// RelayNodeInfo 中继节点对外通告的信息
type RelayNodeInfo struct {
	// PublicKey 中继公钥
	PublicKey PeerKey `json:"pubkey"`

	// Endpoints 可达地址（host:port）
	Endpoints []string `json:"endpoints"`

	// Region 区域标签，空表示未设置
	Region string `json:"region,omitempty"`

	// Capabilities 能力位图
	Capabilities Capabilities `json:"capabilities"`

	// Load 负载百分比（0..100）
	Load uint8 `json:"load"`

	// MaxSessions 最大会话数
	MaxSessions uint32 `json:"max_sessions"`

	// ProtocolVersion 协议版本
	ProtocolVersion uint16 `json:"protocol_version"`

	// Reliability 可靠性评分（0..100）
	Reliability uint8 `json:"reliability"`
}

// ============================================================================
//                              RelayStats - 中继统计
// ============================================================================

// RelayStats 中继统计快照
type RelayStats struct {
	ConnectionRequests    uint64
	SuccessfulConnections uint64
	RejectedConnections   uint64
	PacketsForwarded      uint64
	BytesForwarded        uint64
	HeartbeatsProcessed   uint64
	ExpiredSessions       uint64

	// DroppedPackets 因大小或速率被丢弃的数据包
	DroppedPackets     uint64
	AuthFailures       uint64
	ProtocolErrors     uint64
	DiscoveryResponses uint64
	STUNRequests       uint64

	ActiveSessions   int
	ActiveClients    int
	BandwidthBps     float64
	PeakBandwidthBps float64
	Uptime           time.Duration
}
