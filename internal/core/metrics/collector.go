package metrics

import (
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	"github.com/dep2p/go-formnet/pkg/types"
)

// Namespace 指标名前缀
const (
	Namespace = "formnet"
	Subsystem = "relay"
)

// StatsProvider 提供统计快照
type StatsProvider interface {
	Stats() types.RelayStats
}

// StatsProviderFunc 函数适配器
type StatsProviderFunc func() types.RelayStats

// Stats 实现 StatsProvider
func (f StatsProviderFunc) Stats() types.RelayStats { return f() }

type statDesc struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(s *types.RelayStats) float64
}

func newStat(name, help string, kind prometheus.ValueType, value func(s *types.RelayStats) float64) statDesc {
	return statDesc{
		desc:  prometheus.NewDesc(prometheus.BuildFQName(Namespace, Subsystem, name), help, nil, nil),
		kind:  kind,
		value: value,
	}
}

func counter(name, help string, value func(s *types.RelayStats) uint64) statDesc {
	return newStat(name, help, prometheus.CounterValue, func(s *types.RelayStats) float64 {
		return float64(value(s))
	})
}

func gauge(name, help string, value func(s *types.RelayStats) float64) statDesc {
	return newStat(name, help, prometheus.GaugeValue, value)
}

var relayStats = []statDesc{
	counter("connection_requests_total", "Connection requests received.",
		func(s *types.RelayStats) uint64 { return s.ConnectionRequests }),
	counter("successful_connections_total", "Connection requests that created a session.",
		func(s *types.RelayStats) uint64 { return s.SuccessfulConnections }),
	counter("rejected_connections_total", "Connection requests answered with a negative status.",
		func(s *types.RelayStats) uint64 { return s.RejectedConnections }),
	counter("packets_forwarded_total", "Relay packets forwarded to a peer.",
		func(s *types.RelayStats) uint64 { return s.PacketsForwarded }),
	counter("bytes_forwarded_total", "Payload bytes forwarded to peers.",
		func(s *types.RelayStats) uint64 { return s.BytesForwarded }),
	counter("heartbeats_processed_total", "Heartbeats that refreshed a session.",
		func(s *types.RelayStats) uint64 { return s.HeartbeatsProcessed }),
	counter("expired_sessions_total", "Sessions removed by maintenance.",
		func(s *types.RelayStats) uint64 { return s.ExpiredSessions }),
	counter("dropped_packets_total", "Datagrams dropped for size or rate.",
		func(s *types.RelayStats) uint64 { return s.DroppedPackets }),
	counter("auth_failures_total", "Relay packets that failed authentication.",
		func(s *types.RelayStats) uint64 { return s.AuthFailures }),
	counter("protocol_errors_total", "Datagrams that could not be classified or routed.",
		func(s *types.RelayStats) uint64 { return s.ProtocolErrors }),
	counter("discovery_responses_total", "Discovery queries answered.",
		func(s *types.RelayStats) uint64 { return s.DiscoveryResponses }),
	counter("stun_requests_total", "STUN binding requests answered.",
		func(s *types.RelayStats) uint64 { return s.STUNRequests }),
	gauge("active_sessions", "Sessions currently registered.",
		func(s *types.RelayStats) float64 { return float64(s.ActiveSessions) }),
	gauge("active_clients", "Distinct peers present in any session.",
		func(s *types.RelayStats) float64 { return float64(s.ActiveClients) }),
	gauge("bandwidth_bps", "Forwarding rate over the sampling window in bits per second.",
		func(s *types.RelayStats) float64 { return s.BandwidthBps }),
	gauge("peak_bandwidth_bps", "Highest sampled forwarding rate in bits per second.",
		func(s *types.RelayStats) float64 { return s.PeakBandwidthBps }),
	gauge("uptime_seconds", "Seconds since the relay started.",
		func(s *types.RelayStats) float64 { return s.Uptime.Seconds() }),
}

// ============================================================================
//                              Collector
// ============================================================================

// Collector 把 RelayStats 快照导出为 Prometheus 指标
//
// 每次 Collect 只取一次快照，同一次抓取中的指标彼此一致。
type Collector struct {
	provider StatsProvider
}

// NewCollector 创建 Collector
func NewCollector(p StatsProvider) *Collector {
	return &Collector{provider: p}
}

// Describe 实现 prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, st := range relayStats {
		ch <- st.desc
	}
}

// Collect 实现 prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.provider.Stats()
	for _, st := range relayStats {
		ch <- prometheus.MustNewConstMetric(st.desc, st.kind, st.value(&snap))
	}
}

var _ prometheus.Collector = (*Collector)(nil)

// NewRegistry 创建只包含中继指标的 Registry
func NewRegistry(p StatsProvider) *prometheus.Registry {
	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(NewCollector(p))
	return reg
}

// ============================================================================
//                              导出
// ============================================================================

// WriteText 以 Prometheus 文本格式写出所有指标
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Handler 返回 /metrics HTTP 处理器
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
