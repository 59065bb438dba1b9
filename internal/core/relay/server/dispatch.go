package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"runtime/debug"
	"time"

	"github.com/dep2p/go-formnet/internal/core/relay/auth"
	"github.com/dep2p/go-formnet/internal/core/relay/limiter"
	"github.com/dep2p/go-formnet/internal/core/relay/protocol"
	"github.com/dep2p/go-formnet/internal/core/relay/session"
	"github.com/dep2p/go-formnet/pkg/types"
)

// 拒绝原因（ConnectionResponse.Reason）
const (
	reasonInvalidTarget = "invalid target"
	reasonRateLimited   = "rate limit exceeded"
	reasonSessionLimit  = "session limit reached"
)

// ============================================================================
//                              套接字循环
// ============================================================================

// serve 独占套接字的处理循环
func (n *Node) serve(ctx context.Context, conn *net.UDPConn, done chan struct{}) {
	defer close(done)

	buf := make([]byte, maxDatagram)
	for {
		if ctx.Err() != nil {
			return
		}
		n.maybeMaintain()

		// 套接字截止时间使用墙上时钟
		_ = conn.SetReadDeadline(time.Now().Add(n.pollInterval))
		nr, from, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn("读取数据报失败", "err", fmt.Errorf("%w: %v", ErrIO, err))
			continue
		}

		from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())
		n.handleDatagram(conn, buf[:nr], from)
	}
}

// handleDatagram 处理单个数据报，panic 只影响本次迭代
func (n *Node) handleDatagram(conn *net.UDPConn, data []byte, from netip.AddrPort) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("处理数据报时发生 panic",
				"from", from.String(),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	if err := n.dispatch(conn, data, from); err != nil {
		logDispatchError(err, from)
	}
}

// logDispatchError 按错误类别选择日志级别
func logDispatchError(err error, from netip.AddrPort) {
	switch {
	case errors.Is(err, ErrDropped),
		errors.Is(err, limiter.ErrResourceLimit),
		errors.Is(err, session.ErrNotFound):
		log.Debug("数据报已丢弃", "from", from.String(), "err", err)
	case errors.Is(err, auth.ErrAuthentication),
		errors.Is(err, protocol.ErrProtocol),
		errors.Is(err, protocol.ErrSerialization):
		log.Debug("数据报无效", "from", from.String(), "err", err)
	default:
		log.Warn("处理数据报失败", "from", from.String(), "err", err)
	}
}

// dispatch 依次执行大小、速率检查，再应答 STUN 或分派中继消息
func (n *Node) dispatch(conn *net.UDPConn, data []byte, from netip.AddrPort) error {
	if len(data) > n.cfg.Limits.MaxPacketSize {
		n.counters.droppedPackets.Add(1)
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrOversized, len(data), n.cfg.Limits.MaxPacketSize)
	}
	if err := n.limiter.AllowPacketFromIP(from.Addr()); err != nil {
		n.counters.droppedPackets.Add(1)
		return err
	}
	if err := n.limiter.AllowPacket(); err != nil {
		n.counters.droppedPackets.Add(1)
		return err
	}

	// STUN 应答同样受大小与速率限制
	if n.cfg.STUN.Enabled {
		if handled, err := n.handleSTUN(conn, data, from); handled {
			return err
		}
	}

	msg, err := protocol.Classify(data)
	if err != nil {
		n.counters.protocolErrors.Add(1)
		return err
	}

	switch m := msg.(type) {
	case *protocol.ConnectionRequest:
		return n.handleConnectionRequest(conn, m, from)
	case *protocol.RelayPacket:
		return n.handleRelayPacket(conn, m, from)
	case *protocol.Heartbeat:
		return n.handleHeartbeat(m, from)
	case *protocol.DiscoveryQuery:
		return n.handleDiscoveryQuery(conn, m, from)
	default:
		n.counters.protocolErrors.Add(1)
		return fmt.Errorf("%w: unexpected %s", protocol.ErrProtocol, msg.Type())
	}
}

// reply 编码并发送消息
func (n *Node) reply(conn *net.UDPConn, to netip.AddrPort, m protocol.Message) error {
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	if _, err := conn.WriteToUDPAddrPort(b, to); err != nil {
		return fmt.Errorf("%w: send %s to %s: %v", ErrIO, m.Type(), to, err)
	}
	return nil
}

// ============================================================================
//                              ConnectionRequest
// ============================================================================

// handleConnectionRequest 准入检查后创建会话
//
// 检查顺序：目标公钥、单 IP 连接速率、全局连接速率、会话上限。
// 四项检查不是原子的，并发请求可能在检查之间改变状态。
func (n *Node) handleConnectionRequest(conn *net.UDPConn, m *protocol.ConnectionRequest, from netip.AddrPort) error {
	n.counters.connectionRequests.Add(1)

	if m.TargetKey.IsZero() {
		return n.rejectConnection(conn, from, m, protocol.StatusRejected, reasonInvalidTarget,
			fmt.Errorf("connection request from %s: zero target key", m.PeerKey.ShortString()))
	}
	if err := n.limiter.AllowConnectionFromIP(from.Addr()); err != nil {
		return n.rejectConnection(conn, from, m, protocol.StatusResourceLimit, reasonRateLimited, err)
	}
	if err := n.limiter.AllowConnection(); err != nil {
		return n.rejectConnection(conn, from, m, protocol.StatusResourceLimit, reasonRateLimited, err)
	}

	id, err := n.sessions.Create(m.PeerKey, m.TargetKey)
	if err != nil {
		return n.rejectConnection(conn, from, m, protocol.StatusResourceLimit, reasonSessionLimit, err)
	}
	if err := n.sessions.UpdateAddr(id, session.SideInitiator, from); err != nil {
		return err
	}
	n.counters.successfulConnections.Add(1)

	log.Debug("会话已建立",
		"session", id.String(),
		"initiator", m.PeerKey.ShortString(),
		"target", m.TargetKey.ShortString(),
		"from", from.String())

	return n.reply(conn, from, &protocol.ConnectionResponse{
		Nonce:     m.Nonce,
		Status:    protocol.StatusSuccess,
		SessionID: id,
	})
}

// rejectConnection 发送拒绝响应；cause 仅用于日志
func (n *Node) rejectConnection(conn *net.UDPConn, to netip.AddrPort, m *protocol.ConnectionRequest,
	status protocol.ConnectionStatus, reason string, cause error) error {
	n.counters.rejectedConnections.Add(1)

	log.Debug("拒绝连接请求",
		"initiator", m.PeerKey.ShortString(),
		"from", to.String(),
		"status", status.String(),
		"cause", cause)

	return n.reply(conn, to, &protocol.ConnectionResponse{
		Nonce:  m.Nonce,
		Status: status,
		Reason: reason,
	})
}

// ============================================================================
//                              RelayPacket
// ============================================================================

// handleRelayPacket 认证后把负载原样转发给另一端
//
// 会话可能在读取与写出之间被维护任务删除，此时返回 ErrNotFound 并丢弃。
func (n *Node) handleRelayPacket(conn *net.UDPConn, m *protocol.RelayPacket, from netip.AddrPort) error {
	id := m.Header.SessionID
	s, ok := n.sessions.Get(id)
	if !ok {
		return fmt.Errorf("relay packet for %s: %w", id, session.ErrNotFound)
	}
	if err := n.auth.Authenticate(m.Header, &s); err != nil {
		n.counters.authFailures.Add(1)
		return err
	}

	to, _ := s.SideOf(m.Header.DestPeerID)
	sender := to.Other()
	if err := n.sessions.UpdateAddr(id, sender, from); err != nil {
		return fmt.Errorf("relay packet for %s: %w", id, err)
	}

	dest := s.Addr(to)
	if !dest.IsValid() {
		n.counters.protocolErrors.Add(1)
		return fmt.Errorf("%w: session %s has no %s address", protocol.ErrProtocol, id, to)
	}

	if err := n.sessions.RecordTraffic(id, sender, len(m.Payload)); err != nil {
		return fmt.Errorf("relay packet for %s: %w", id, err)
	}
	if _, err := conn.WriteToUDPAddrPort(m.Payload, dest); err != nil {
		return fmt.Errorf("%w: forward %s to %s: %v", ErrIO, id, dest, err)
	}

	n.counters.packetsForwarded.Add(1)
	n.counters.bytesForwarded.Add(uint64(len(m.Payload)))
	n.bandwidth.Record(len(m.Payload))
	return nil
}

// ============================================================================
//                              Heartbeat
// ============================================================================

// handleHeartbeat 刷新活动时间、续期，并在目标地址未知时记录之
func (n *Node) handleHeartbeat(m *protocol.Heartbeat, from netip.AddrPort) error {
	id := m.SessionID
	if err := n.sessions.Touch(id); err != nil {
		return fmt.Errorf("heartbeat for %s: %w", id, err)
	}
	if err := n.sessions.ExtendExpiration(id, n.cfg.Limits.DefaultSessionLifetime.Std()); err != nil {
		return fmt.Errorf("heartbeat for %s: %w", id, err)
	}
	learned, err := n.sessions.LearnTargetAddr(id, from)
	if err != nil {
		return fmt.Errorf("heartbeat for %s: %w", id, err)
	}
	if learned {
		log.Debug("已记录目标方地址", "session", id.String(), "addr", from.String())
	}
	n.counters.heartbeatsProcessed.Add(1)
	return nil
}

// ============================================================================
//                              DiscoveryQuery
// ============================================================================

// matches 中继是否满足查询的能力与区域要求
//
// 区域限定的查询不匹配未设置区域的中继。
func matches(info *types.RelayNodeInfo, q *protocol.DiscoveryQuery) bool {
	if !info.Capabilities.Satisfies(q.MinCapabilities) {
		return false
	}
	return q.Region == "" || q.Region == info.Region
}

// handleDiscoveryQuery 匹配时应答本节点信息，不匹配时不应答
//
// 已挂接注册表时，附带注册表中同样匹配的其他中继。
func (n *Node) handleDiscoveryQuery(conn *net.UDPConn, m *protocol.DiscoveryQuery, from netip.AddrPort) error {
	self := n.Info()
	if !matches(&self, m) {
		return nil
	}

	relays := []types.RelayNodeInfo{self}
	more := false
	for _, info := range n.knownRelays() {
		if info.PublicKey == self.PublicKey || !matches(&info, m) {
			continue
		}
		if len(relays) == protocol.MaxRelays {
			more = true
			break
		}
		relays = append(relays, info)
	}

	resp := &protocol.DiscoveryResponse{
		RequestNonce:  m.Nonce,
		Timestamp:     uint64(n.clock.Now().Unix()), // #nosec G115 -- wall clock after 1970
		Relays:        relays,
		MoreAvailable: more,
	}
	b, err := n.fitResponse(resp)
	if err != nil {
		return err
	}
	if _, err := conn.WriteToUDPAddrPort(b, from); err != nil {
		return fmt.Errorf("%w: send discovery response to %s: %v", ErrIO, from, err)
	}
	n.counters.discoveryResponses.Add(1)
	return nil
}

// fitResponse 编码响应，超过 MaxPacketSize 时从尾部裁剪中继
//
// 本节点信息总会保留。
func (n *Node) fitResponse(resp *protocol.DiscoveryResponse) ([]byte, error) {
	for {
		b, err := protocol.Encode(resp)
		if err != nil {
			return nil, err
		}
		if len(b) <= n.cfg.Limits.MaxPacketSize || len(resp.Relays) == 1 {
			return b, nil
		}
		resp.Relays = resp.Relays[:len(resp.Relays)-1]
		resp.MoreAvailable = true
	}
}
