package limiter

import (
	"net/netip"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"github.com/dep2p/go-formnet/config"
	"github.com/dep2p/go-formnet/internal/util/logger"
)

var log = logger.Logger("relay.limiter")

const (
	// PacketWindow 数据包窗口
	PacketWindow = time.Second
	// ConnectionWindow 连接窗口
	ConnectionWindow = time.Minute

	// PacketIdle 单 IP 数据包条目的空闲淘汰阈值
	PacketIdle = 60 * time.Second
	// ConnectionIdle 单 IP 连接条目的空闲淘汰阈值
	ConnectionIdle = 300 * time.Second

	// signalInterval 安全信号日志的最小间隔
	signalInterval = 10 * time.Second
)

// Limiter 中继准入限流器
//
// 所有方法并发安全。
type Limiter struct {
	clock clock.Clock

	packetsByIP *ipTable
	connsByIP   *ipTable

	mu      sync.Mutex
	packets *window
	conns   *window

	packetSignal rate.Sometimes
	connSignal   rate.Sometimes
}

type options struct {
	clock     clock.Clock
	high, low int
}

// Option 限流器选项
type Option func(*options)

// WithClock 注入时钟（测试用）
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithTableBounds 设置单 IP 表的高/低水位
func WithTableBounds(high, low int) Option {
	return func(o *options) { o.high, o.low = high, low }
}

// New 根据资源限制创建限流器
func New(limits config.ResourceLimits, opts ...Option) *Limiter {
	o := options{clock: clock.New(), high: HighWater, low: LowWater}
	for _, opt := range opts {
		opt(&o)
	}
	if o.low > o.high {
		o.low = o.high
	}

	return &Limiter{
		clock:        o.clock,
		packetsByIP:  newIPTable(PacketWindow, limits.MaxPacketsPerSecondPerIP, PacketIdle, o.high, o.low),
		connsByIP:    newIPTable(ConnectionWindow, limits.MaxConnectionsPerMinutePerIP, ConnectionIdle, o.high, o.low),
		packets:      newWindow(PacketWindow, limits.MaxPacketsPerSecond),
		conns:        newWindow(ConnectionWindow, limits.MaxConnectionsPerMinute),
		packetSignal: rate.Sometimes{Interval: signalInterval},
		connSignal:   rate.Sometimes{Interval: signalInterval},
	}
}

// ============================================================================
//                              准入检查
// ============================================================================

// AllowPacketFromIP 单 IP 数据包速率检查
func (l *Limiter) AllowPacketFromIP(ip netip.Addr) error {
	ok, n := l.packetsByIP.allow(ip.Unmap(), l.clock.Now())
	l.signal(&l.packetSignal, "packet", ip, n, l.packetsByIP.limit)
	if !ok {
		return ErrIPPacketRate
	}
	return nil
}

// AllowPacket 全局数据包速率检查
func (l *Limiter) AllowPacket() error {
	if !l.allowGlobal(l.packets) {
		return ErrPacketRate
	}
	return nil
}

// AllowConnectionFromIP 单 IP 连接速率检查
func (l *Limiter) AllowConnectionFromIP(ip netip.Addr) error {
	ok, n := l.connsByIP.allow(ip.Unmap(), l.clock.Now())
	l.signal(&l.connSignal, "connection", ip, n, l.connsByIP.limit)
	if !ok {
		return ErrIPConnectionRate
	}
	return nil
}

// AllowConnection 全局连接速率检查
func (l *Limiter) AllowConnection() error {
	if !l.allowGlobal(l.conns) {
		return ErrConnectionRate
	}
	return nil
}

func (l *Limiter) allowGlobal(w *window) bool {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	ok, _ := w.allow(now)
	return ok
}

// signal 单 IP 尝试数超过上限两倍时记录安全信号
//
// 只影响可观测性，不改变准入结果。
func (l *Limiter) signal(s *rate.Sometimes, kind string, ip netip.Addr, count, limit int) {
	if limit <= 0 || count <= 2*limit {
		return
	}
	s.Do(func() {
		log.Warn("单 IP 速率超过上限两倍，疑似滥用",
			"kind", kind,
			"ip", ip.String(),
			"count", count,
			"limit", limit)
	})
}

// ============================================================================
//                              维护
// ============================================================================

// Cleanup 淘汰两张单 IP 表中的空闲条目，返回淘汰数
func (l *Limiter) Cleanup() int {
	now := l.clock.Now()
	evicted := l.packetsByIP.cleanup(now) + l.connsByIP.cleanup(now)
	if evicted > 0 {
		log.Debug("清理空闲 IP", "evicted", evicted)
	}
	return evicted
}

// TrackedIPs 返回两张单 IP 表当前的条目数
func (l *Limiter) TrackedIPs() (packets, connections int) {
	return l.packetsByIP.len(), l.connsByIP.len()
}
