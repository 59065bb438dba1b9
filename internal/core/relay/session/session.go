// Package session 管理中继会话
//
// Session 是两个公钥之间经中继的逻辑连接。所有会话只存在于 Registry 中，
// 调用方拿到的是副本；任何修改都通过 Registry 的方法在锁内完成，
// 主表与发起方/目标方反向索引始终一致。
package session

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/dep2p/go-formnet/pkg/types"
)

// Side 会话的一端
type Side uint8

const (
	// SideInitiator 发起方
	SideInitiator Side = iota
	// SideTarget 目标方
	SideTarget
)

func (s Side) String() string {
	switch s {
	case SideInitiator:
		return "initiator"
	case SideTarget:
		return "target"
	default:
		return fmt.Sprintf("Side(%d)", uint8(s))
	}
}

// Other 返回另一端
func (s Side) Other() Side {
	if s == SideInitiator {
		return SideTarget
	}
	return SideInitiator
}

// Session 中继会话
type Session struct {
	ID        types.SessionID
	Initiator types.PeerKey
	Target    types.PeerKey

	CreatedAt time.Time
	// ExpiresAt 绝对截止时间，心跳续期
	ExpiresAt time.Time
	// LastActivity 最后一次心跳或转发
	LastActivity time.Time

	// InitiatorAddr 发起方最近的源地址，未知时为零值
	InitiatorAddr netip.AddrPort
	// TargetAddr 目标方最近的源地址，未知时为零值
	TargetAddr netip.AddrPort

	// 发起方 → 目标方
	PacketsToTarget uint64
	BytesToTarget   uint64

	// 目标方 → 发起方
	PacketsToInitiator uint64
	BytesToInitiator   uint64
}

// IsExpired 是否超过截止时间
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// IsInactive 是否超过 timeout 没有活动
func (s *Session) IsInactive(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastActivity) > timeout
}

// Key 返回某一端的公钥
func (s *Session) Key(side Side) types.PeerKey {
	if side == SideInitiator {
		return s.Initiator
	}
	return s.Target
}

// Addr 返回某一端的地址
func (s *Session) Addr(side Side) netip.AddrPort {
	if side == SideInitiator {
		return s.InitiatorAddr
	}
	return s.TargetAddr
}

// SideOf 返回公钥所在的一端；两端相同时按目标方处理
func (s *Session) SideOf(pk types.PeerKey) (Side, bool) {
	switch pk {
	case s.Target:
		return SideTarget, true
	case s.Initiator:
		return SideInitiator, true
	default:
		return 0, false
	}
}

func (s *Session) setAddr(side Side, addr netip.AddrPort) {
	if side == SideInitiator {
		s.InitiatorAddr = addr
	} else {
		s.TargetAddr = addr
	}
}

// recordFrom 记录由 from 一端发出的流量
func (s *Session) recordFrom(from Side, bytes int) {
	if from == SideInitiator {
		s.PacketsToTarget++
		s.BytesToTarget += uint64(bytes)
	} else {
		s.PacketsToInitiator++
		s.BytesToInitiator += uint64(bytes)
	}
}
