package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-formnet/config"
	"github.com/dep2p/go-formnet/internal/core/metrics"
	"github.com/dep2p/go-formnet/internal/core/relay/auth"
	"github.com/dep2p/go-formnet/internal/core/relay/discovery"
	"github.com/dep2p/go-formnet/internal/core/relay/limiter"
	"github.com/dep2p/go-formnet/internal/core/relay/session"
	"github.com/dep2p/go-formnet/internal/util/logger"
	"github.com/dep2p/go-formnet/pkg/types"
)

var log = logger.Logger("relay.server")

// ============================================================================
//                              常量
// ============================================================================

const (
	// PollInterval 读截止时间，决定维护与停止检查的最大延迟
	PollInterval = 50 * time.Millisecond

	// BandwidthWindow 带宽统计窗口（秒）
	BandwidthWindow = 10

	// maxDatagram 读缓冲区大小
	maxDatagram = 65535
)

// ============================================================================
//                              Node 实现
// ============================================================================

// Node UDP 中继节点
type Node struct {
	cfg   *config.Config
	clock clock.Clock

	sessions  *session.Registry
	limiter   *limiter.Limiter
	auth      *auth.PacketAuthenticator
	tokens    *auth.TokenIssuer
	bandwidth *metrics.BandwidthMeter
	counters  counters

	pollInterval time.Duration

	// lastMaintenance 仅由套接字循环访问
	lastMaintenance time.Time

	// discMu 先于 mu 获取
	discMu sync.Mutex
	disc   atomic.Pointer[discoveryState]

	mu     sync.Mutex
	conn   *net.UDPConn
	cancel context.CancelFunc
	done   chan struct{}

	// addr 运行期间的监听地址，nil 表示未运行
	addr      atomic.Pointer[netip.AddrPort]
	startedAt atomic.Int64
}

type discoveryState struct {
	registry discovery.RelayRegistry
	service  *discovery.Service
}

// relayLister 可列出已知中继的注册表
type relayLister interface {
	Relays() []types.RelayNodeInfo
}

// Option Node 选项
type Option func(*Node)

// WithClock 注入时钟（测试用）
func WithClock(c clock.Clock) Option {
	return func(n *Node) { n.clock = c }
}

// WithPollInterval 设置读截止时间
func WithPollInterval(d time.Duration) Option {
	return func(n *Node) { n.pollInterval = d }
}

// WithTokenIssuer 使用指定的会话令牌签发器（多个节点共享密钥时使用）
func WithTokenIssuer(ti *auth.TokenIssuer) Option {
	return func(n *Node) { n.tokens = ti }
}

// New 创建中继节点
//
// 配置会先做校验。节点创建后尚未绑定套接字，需调用 Start 或 ListenAndServe。
func New(cfg *config.Config, opts ...Option) (*Node, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := &Node{
		cfg:          cfg,
		clock:        clock.New(),
		pollInterval: PollInterval,
	}
	for _, opt := range opts {
		opt(n)
	}

	limits := cfg.Limits
	n.sessions = session.NewRegistry(session.Limits{
		MaxSessions:          limits.MaxSessions,
		MaxSessionsPerClient: limits.MaxSessionsPerClient,
		Lifetime:             limits.DefaultSessionLifetime.Std(),
	}, session.WithClock(n.clock))
	n.limiter = limiter.New(limits, limiter.WithClock(n.clock))
	n.auth = auth.NewPacketAuthenticator(cfg.PacketAuth, n.clock)
	n.bandwidth = metrics.NewBandwidthMeter(BandwidthWindow, n.clock)

	if n.tokens == nil {
		ti, err := auth.NewRandomTokenIssuer(cfg.PacketAuth.TokenTTL.Std(), n.clock)
		if err != nil {
			return nil, err
		}
		n.tokens = ti
	}
	return n, nil
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 绑定 UDP 套接字并启动处理循环
//
// 绑定失败是唯一的致命错误。ctx 只用于绑定，循环的生命周期由 Stop 控制。
func (n *Node) Start(ctx context.Context) error {
	n.discMu.Lock()
	defer n.discMu.Unlock()
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn != nil {
		return ErrAlreadyStarted
	}

	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", n.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("%w: listen %s: %v", ErrIO, n.cfg.ListenAddr, err)
	}
	conn := pc.(*net.UDPConn)

	loopCtx, cancel := context.WithCancel(context.Background())
	n.conn = conn
	n.cancel = cancel
	n.done = make(chan struct{})
	now := n.clock.Now()
	local := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	n.startedAt.Store(now.UnixNano())
	n.addr.Store(&local)
	n.lastMaintenance = now

	go n.serve(loopCtx, conn, n.done)

	if st := n.disc.Load(); st != nil {
		st.service.Start()
	}

	log.Info("中继节点已启动",
		"addr", conn.LocalAddr().String(),
		"pubkey", n.cfg.PublicKey.ShortString(),
		"region", n.cfg.Region,
		"max_sessions", n.cfg.Limits.MaxSessions)
	return nil
}

// Stop 关闭套接字并等待处理循环退出
func (n *Node) Stop() error {
	n.discMu.Lock()
	defer n.discMu.Unlock()
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil {
		return nil
	}

	if st := n.disc.Load(); st != nil {
		st.service.Stop()
	}

	n.addr.Store(nil)
	n.cancel()
	err := n.conn.Close()
	<-n.done
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	if err != nil {
		err = fmt.Errorf("%w: close socket: %v", ErrIO, err)
	}

	n.conn = nil
	n.cancel = nil
	n.done = nil

	log.Info("中继节点已停止", "sessions", n.sessions.Len())
	return err
}

// ListenAndServe 启动节点并阻塞到 ctx 取消
func (n *Node) ListenAndServe(ctx context.Context) error {
	if err := n.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return n.Stop()
}

// Running 节点是否在运行
func (n *Node) Running() bool {
	return n.addr.Load() != nil
}

// LocalAddr 返回实际监听地址；未运行时返回零值
func (n *Node) LocalAddr() netip.AddrPort {
	if p := n.addr.Load(); p != nil {
		return *p
	}
	return netip.AddrPort{}
}

// Sessions 返回会话注册表
func (n *Node) Sessions() *session.Registry {
	return n.sessions
}

// ============================================================================
//                              节点信息
// ============================================================================

// Info 返回本节点对外通告的信息
func (n *Node) Info() types.RelayNodeInfo {
	return types.RelayNodeInfo{
		PublicKey:       n.cfg.PublicKey,
		Endpoints:       n.endpoints(),
		Region:          n.cfg.Region,
		Capabilities:    n.cfg.Capabilities,
		Load:            n.load(),
		MaxSessions:     uint32(n.cfg.Limits.MaxSessions), // #nosec G115 -- validated non-negative
		ProtocolVersion: types.ProtocolVersion,
		Reliability:     n.reliability(),
	}
}

// endpoints 显式配置优先；否则使用实际监听地址
func (n *Node) endpoints() []string {
	if len(n.cfg.Endpoints) > 0 {
		return n.cfg.AdvertisedEndpoints()
	}
	if addr := n.LocalAddr(); addr.IsValid() {
		return []string{addr.String()}
	}
	return n.cfg.AdvertisedEndpoints()
}

// load 活跃会话占上限的百分比，上限为 0（不限制）时为 0
func (n *Node) load() uint8 {
	max := n.cfg.Limits.MaxSessions
	if max <= 0 {
		return 0
	}
	pct := n.sessions.Len() * 100 / max
	if pct > 100 {
		pct = 100
	}
	return uint8(pct) // #nosec G115 -- clamped to 100
}

// reliability 成功建立会话的请求比例，尚无请求时为 100
func (n *Node) reliability() uint8 {
	requests := n.counters.connectionRequests.Load()
	if requests == 0 {
		return 100
	}
	ok := n.counters.successfulConnections.Load()
	return uint8(ok * 100 / requests) // #nosec G115 -- ok <= requests
}

// ============================================================================
//                              会话令牌
// ============================================================================

// IssueSessionToken 为会话签发令牌；节点未运行时返回 ErrServerClosed
func (n *Node) IssueSessionToken(id types.SessionID) (auth.Token, error) {
	if !n.Running() {
		return auth.Token{}, ErrServerClosed
	}
	s, ok := n.sessions.Get(id)
	if !ok {
		return auth.Token{}, fmt.Errorf("issue token for %s: %w", id, session.ErrNotFound)
	}
	return n.tokens.Issue(&s), nil
}

// VerifySessionToken 校验令牌
//
// 节点未运行时返回 ErrServerClosed，会话已不存在时返回 ErrNotFound。
func (n *Node) VerifySessionToken(tok auth.Token) error {
	if !n.Running() {
		return ErrServerClosed
	}
	s, ok := n.sessions.Get(tok.SessionID)
	if !ok {
		return fmt.Errorf("verify token for %s: %w", tok.SessionID, session.ErrNotFound)
	}
	return n.tokens.Verify(tok, &s)
}

// ============================================================================
//                              后台发现
// ============================================================================

// EnableDiscovery 挂接中继注册表并在节点运行期间周期刷新
//
// 重复调用会替换之前的注册表，旧任务先停止再启动新任务。
func (n *Node) EnableDiscovery(registry discovery.RelayRegistry) {
	n.discMu.Lock()
	defer n.discMu.Unlock()

	if old := n.disc.Load(); old != nil {
		old.service.Stop()
	}
	st := &discoveryState{
		registry: registry,
		service:  discovery.NewService(registry, n.cfg.Discovery.Interval.Std(), n.clock),
	}
	n.disc.Store(st)

	if n.Running() {
		st.service.Start()
	}
}

// DisableDiscovery 停止后台发现并解除注册表
func (n *Node) DisableDiscovery() {
	n.discMu.Lock()
	defer n.discMu.Unlock()

	if old := n.disc.Swap(nil); old != nil {
		old.service.Stop()
	}
}

// DiscoveryEnabled 是否挂接了中继注册表
func (n *Node) DiscoveryEnabled() bool {
	return n.disc.Load() != nil
}

// knownRelays 注册表中已知的其他中继
func (n *Node) knownRelays() []types.RelayNodeInfo {
	st := n.disc.Load()
	if st == nil {
		return nil
	}
	if l, ok := st.registry.(relayLister); ok {
		return l.Relays()
	}
	return nil
}

// ============================================================================
//                              统计
// ============================================================================

// counters 累计计数器
type counters struct {
	connectionRequests    atomic.Uint64
	successfulConnections atomic.Uint64
	rejectedConnections   atomic.Uint64
	packetsForwarded      atomic.Uint64
	bytesForwarded        atomic.Uint64
	heartbeatsProcessed   atomic.Uint64
	expiredSessions       atomic.Uint64
	droppedPackets        atomic.Uint64
	authFailures          atomic.Uint64
	protocolErrors        atomic.Uint64
	discoveryResponses    atomic.Uint64
	stunRequests          atomic.Uint64
}

// Stats 返回统计快照
func (n *Node) Stats() types.RelayStats {
	current, peak := n.bandwidth.Sample()
	c := &n.counters
	return types.RelayStats{
		ConnectionRequests:    c.connectionRequests.Load(),
		SuccessfulConnections: c.successfulConnections.Load(),
		RejectedConnections:   c.rejectedConnections.Load(),
		PacketsForwarded:      c.packetsForwarded.Load(),
		BytesForwarded:        c.bytesForwarded.Load(),
		HeartbeatsProcessed:   c.heartbeatsProcessed.Load(),
		ExpiredSessions:       c.expiredSessions.Load(),
		DroppedPackets:        c.droppedPackets.Load(),
		AuthFailures:          c.authFailures.Load(),
		ProtocolErrors:        c.protocolErrors.Load(),
		DiscoveryResponses:    c.discoveryResponses.Load(),
		STUNRequests:          c.stunRequests.Load(),
		ActiveSessions:        n.sessions.Len(),
		ActiveClients:         n.sessions.ClientCount(),
		BandwidthBps:          current,
		PeakBandwidthBps:      peak,
		Uptime:                n.uptime(),
	}
}

func (n *Node) uptime() time.Duration {
	if !n.Running() {
		return 0
	}
	return n.clock.Now().Sub(time.Unix(0, n.startedAt.Load()))
}

var _ metrics.StatsProvider = (*Node)(nil)

// isTimeout 读截止时间到期
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
