package limiter

import (
	"bytes"
	"fmt"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-formnet/config"
	"github.com/dep2p/go-formnet/internal/util/logger"
)

func newTestLimiter(limits config.ResourceLimits, opts ...Option) (*Limiter, *clock.Mock) {
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(limits, append([]Option{WithClock(clk)}, opts...)...), clk
}

// ipN 返回 10.x.y.z 形式的第 n 个地址
func ipN(n int) netip.Addr {
	return netip.AddrFrom4([4]byte{10, byte(n >> 16), byte(n >> 8), byte(n)})
}

// ============================================================================
//                              滑动窗口
// ============================================================================

func TestAllowPacket_Saturation(t *testing.T) {
	const n = 5
	l, clk := newTestLimiter(config.ResourceLimits{MaxPacketsPerSecond: n})

	for i := 0; i < n; i++ {
		require.NoError(t, l.AllowPacket(), "attempt %d", i)
	}
	err := l.AllowPacket()
	assert.ErrorIs(t, err, ErrPacketRate)
	assert.ErrorIs(t, err, ErrResourceLimit)

	clk.Add(PacketWindow)
	assert.NoError(t, l.AllowPacket())
}

func TestAllowPacketFromIP_Saturation(t *testing.T) {
	const n = 3
	l, clk := newTestLimiter(config.ResourceLimits{MaxPacketsPerSecondPerIP: n})
	a := netip.MustParseAddr("198.51.100.1")
	b := netip.MustParseAddr("198.51.100.2")

	for i := 0; i < n; i++ {
		require.NoError(t, l.AllowPacketFromIP(a))
	}
	assert.ErrorIs(t, l.AllowPacketFromIP(a), ErrIPPacketRate)
	assert.NoError(t, l.AllowPacketFromIP(b), "other ips are independent")

	clk.Add(PacketWindow)
	assert.NoError(t, l.AllowPacketFromIP(a))
}

func TestAllowConnection_Saturation(t *testing.T) {
	const n = 4
	l, clk := newTestLimiter(config.ResourceLimits{
		MaxConnectionsPerMinute:      n,
		MaxConnectionsPerMinutePerIP: 2,
	})
	ip := netip.MustParseAddr("203.0.113.5")

	require.NoError(t, l.AllowConnectionFromIP(ip))
	require.NoError(t, l.AllowConnectionFromIP(ip))
	assert.ErrorIs(t, l.AllowConnectionFromIP(ip), ErrIPConnectionRate)

	for i := 0; i < n; i++ {
		require.NoError(t, l.AllowConnection())
	}
	assert.ErrorIs(t, l.AllowConnection(), ErrConnectionRate)

	clk.Add(30 * time.Second)
	assert.ErrorIs(t, l.AllowConnection(), ErrConnectionRate, "still inside the window")

	clk.Add(30 * time.Second)
	assert.NoError(t, l.AllowConnection(), "window rolled over")
	assert.NoError(t, l.AllowConnectionFromIP(ip))
}

func TestWindow_RejectedAttemptsCount(t *testing.T) {
	const n = 3
	l, clk := newTestLimiter(config.ResourceLimits{MaxPacketsPerSecond: n})

	for i := 0; i < n; i++ {
		require.NoError(t, l.AllowPacket())
	}
	clk.Add(500 * time.Millisecond)
	for i := 0; i < n; i++ {
		require.Error(t, l.AllowPacket())
	}

	// 第一批已滚出窗口，被拒绝的重试仍占满上限
	clk.Add(500 * time.Millisecond)
	assert.ErrorIs(t, l.AllowPacket(), ErrPacketRate)

	clk.Add(time.Second)
	assert.NoError(t, l.AllowPacket())
}

func TestWindow_Bounded(t *testing.T) {
	w := newWindow(time.Minute, 4)
	now := time.Now()
	for i := 0; i < 100; i++ {
		w.allow(now)
	}
	assert.Len(t, w.stamps, 2*4+1)
}

func TestUnlimited(t *testing.T) {
	l, _ := newTestLimiter(config.ResourceLimits{})
	ip := netip.MustParseAddr("192.0.2.1")
	for i := 0; i < 1000; i++ {
		require.NoError(t, l.AllowPacket())
		require.NoError(t, l.AllowPacketFromIP(ip))
		require.NoError(t, l.AllowConnection())
		require.NoError(t, l.AllowConnectionFromIP(ip))
	}
	assert.Empty(t, l.packets.stamps)
}

func TestMappedAddrsShareEntry(t *testing.T) {
	l, _ := newTestLimiter(config.ResourceLimits{MaxPacketsPerSecondPerIP: 1})
	require.NoError(t, l.AllowPacketFromIP(netip.MustParseAddr("192.0.2.1")))
	assert.Error(t, l.AllowPacketFromIP(netip.MustParseAddr("::ffff:192.0.2.1")))
}

// ============================================================================
//                              内存上界
// ============================================================================

func TestMemoryBound_ConnectionFlood(t *testing.T) {
	l, _ := newTestLimiter(config.DefaultResourceLimits())

	for i := 0; i < HighWater; i++ {
		require.NoError(t, l.AllowConnectionFromIP(ipN(i)))
	}
	_, conns := l.TrackedIPs()
	assert.Equal(t, HighWater, conns)

	// 第 10001 个 IP 触发淘汰
	require.NoError(t, l.AllowConnectionFromIP(ipN(HighWater)))
	_, conns = l.TrackedIPs()
	assert.LessOrEqual(t, conns, LowWater)

	// 持续洪泛时表不超过高水位
	for i := HighWater + 1; i < 3*HighWater; i++ {
		_ = l.AllowConnectionFromIP(ipN(i))
		if i%1000 == 0 {
			_, conns = l.TrackedIPs()
			require.LessOrEqual(t, conns, HighWater)
		}
	}
}

func TestEviction_IdleFirst(t *testing.T) {
	l, clk := newTestLimiter(config.DefaultResourceLimits(), WithTableBounds(10, 5))

	for i := 0; i < 5; i++ {
		require.NoError(t, l.AllowConnectionFromIP(ipN(i)))
	}
	clk.Add(ConnectionIdle + time.Second)
	for i := 100; i < 106; i++ {
		require.NoError(t, l.AllowConnectionFromIP(ipN(i)))
	}

	_, conns := l.TrackedIPs()
	assert.Equal(t, 5, conns)
	for i := 0; i < 5; i++ {
		assert.False(t, l.connsByIP.lru.Contains(ipN(i)), "idle ip %d evicted first", i)
	}
	assert.False(t, l.connsByIP.lru.Contains(ipN(100)), "least recently active evicted next")
	for i := 101; i < 106; i++ {
		assert.True(t, l.connsByIP.lru.Contains(ipN(i)))
	}
}

func TestEviction_RecencyFollowsActivity(t *testing.T) {
	l, clk := newTestLimiter(config.DefaultResourceLimits(), WithTableBounds(4, 2))

	for i := 0; i < 4; i++ {
		require.NoError(t, l.AllowPacketFromIP(ipN(i)))
		clk.Add(time.Millisecond)
	}
	// ipN(0) 再次活动，变为最新
	require.NoError(t, l.AllowPacketFromIP(ipN(0)))
	require.NoError(t, l.AllowPacketFromIP(ipN(4)))

	assert.True(t, l.packetsByIP.lru.Contains(ipN(0)))
	assert.True(t, l.packetsByIP.lru.Contains(ipN(4)))
	assert.Equal(t, 2, l.packetsByIP.len())
}

func TestCleanup(t *testing.T) {
	l, clk := newTestLimiter(config.DefaultResourceLimits())

	for i := 0; i < 10; i++ {
		require.NoError(t, l.AllowPacketFromIP(ipN(i)))
		require.NoError(t, l.AllowConnectionFromIP(ipN(i)))
	}

	clk.Add(PacketIdle + time.Second)
	require.NoError(t, l.AllowPacketFromIP(ipN(0)))
	assert.Equal(t, 9, l.Cleanup())

	packets, conns := l.TrackedIPs()
	assert.Equal(t, 1, packets)
	assert.Equal(t, 10, conns)

	clk.Add(ConnectionIdle)
	l.Cleanup()
	packets, conns = l.TrackedIPs()
	assert.Zero(t, packets)
	assert.Zero(t, conns)
}

// ============================================================================
//                              安全信号
// ============================================================================

func TestSecuritySignal(t *testing.T) {
	buf := &bytes.Buffer{}
	logger.SetOutput(buf)
	defer logger.SetOutput(os.Stderr)

	const n = 2
	l, _ := newTestLimiter(config.ResourceLimits{MaxPacketsPerSecondPerIP: n})
	ip := netip.MustParseAddr("198.51.100.66")

	for i := 0; i < 2*n; i++ {
		_ = l.AllowPacketFromIP(ip)
	}
	assert.NotContains(t, buf.String(), "疑似滥用")

	for i := 0; i < 10; i++ {
		assert.Error(t, l.AllowPacketFromIP(ip))
	}
	out := buf.String()
	assert.Contains(t, out, "疑似滥用")
	assert.Contains(t, out, fmt.Sprintf("ip=%s", ip))
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("疑似滥用")), "signal is throttled")
}
