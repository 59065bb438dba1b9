package auth

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-formnet/config"
	"github.com/dep2p/go-formnet/internal/core/relay/protocol"
	"github.com/dep2p/go-formnet/internal/core/relay/session"
)

// PacketAuthenticator 转发包认证器
type PacketAuthenticator struct {
	maxAge        time.Duration
	maxFutureSkew time.Duration
	clock         clock.Clock
}

// NewPacketAuthenticator 根据配置创建认证器
func NewPacketAuthenticator(cfg config.PacketAuthConfig, clk clock.Clock) *PacketAuthenticator {
	if clk == nil {
		clk = clock.New()
	}
	return &PacketAuthenticator{
		maxAge:        cfg.MaxAge.Std(),
		maxFutureSkew: cfg.MaxFutureSkew.Std(),
		clock:         clk,
	}
}

// Authenticate 校验包头是否属于会话
//
// 三项全部满足才通过：会话 ID 相同；目标是会话的发起方或目标方；
// 时间戳落在 [now-maxAge, now+maxFutureSkew] 内。
func (a *PacketAuthenticator) Authenticate(hdr protocol.PacketHeader, s *session.Session) error {
	if hdr.SessionID != s.ID {
		return ErrSessionMismatch
	}
	if _, ok := s.SideOf(hdr.DestPeerID); !ok {
		return ErrUnknownDestination
	}

	now := a.clock.Now()
	ts := hdr.Time()
	if ts.Before(now.Add(-a.maxAge)) {
		return ErrStaleTimestamp
	}
	if ts.After(now.Add(a.maxFutureSkew)) {
		return ErrFutureTimestamp
	}
	return nil
}
