package session

import (
	"crypto/rand"
	"encoding/binary"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-formnet/internal/util/logger"
	"github.com/dep2p/go-formnet/pkg/types"
)

var log = logger.Logger("relay.session")

// Limits 会话注册表的容量与生命周期
type Limits struct {
	// MaxSessions 全局上限（0 = 不限制）
	MaxSessions int
	// MaxSessionsPerClient 单个发起方上限（0 = 不限制）
	MaxSessionsPerClient int
	// Lifetime 新会话的有效期
	Lifetime time.Duration
}

type idSet map[types.SessionID]struct{}

// Registry 会话注册表
//
// 持有全部会话及两个反向索引。每个方法只持锁完成一次表操作。
type Registry struct {
	limits Limits
	clock  clock.Clock

	mu          sync.RWMutex
	sessions    map[types.SessionID]*Session
	byInitiator map[types.PeerKey]idSet
	byTarget    map[types.PeerKey]idSet
}

// Option 注册表选项
type Option func(*Registry)

// WithClock 注入时钟（测试用）
func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// NewRegistry 创建会话注册表
func NewRegistry(limits Limits, opts ...Option) *Registry {
	r := &Registry{
		limits:      limits,
		clock:       clock.New(),
		sessions:    make(map[types.SessionID]*Session),
		byInitiator: make(map[types.PeerKey]idSet),
		byTarget:    make(map[types.PeerKey]idSet),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ============================================================================
//                              创建 / 删除
// ============================================================================

// Create 创建会话并返回其 ID
//
// 先检查发起方上限（ErrClientSessionLimit），再检查全局上限（ErrSessionLimit）。
func (r *Registry) Create(initiator, target types.PeerKey) (types.SessionID, error) {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.limits.MaxSessionsPerClient > 0 && len(r.byInitiator[initiator]) >= r.limits.MaxSessionsPerClient {
		return 0, ErrClientSessionLimit
	}
	if r.limits.MaxSessions > 0 && len(r.sessions) >= r.limits.MaxSessions {
		return 0, ErrSessionLimit
	}

	id := r.newIDLocked()
	r.sessions[id] = &Session{
		ID:           id,
		Initiator:    initiator,
		Target:       target,
		CreatedAt:    now,
		ExpiresAt:    now.Add(r.limits.Lifetime),
		LastActivity: now,
	}
	indexAdd(r.byInitiator, initiator, id)
	indexAdd(r.byTarget, target, id)
	return id, nil
}

// newIDLocked 生成随机 ID；0 保留，碰撞时重抽
func (r *Registry) newIDLocked() types.SessionID {
	var b [8]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		id := types.SessionID(binary.BigEndian.Uint64(b[:]))
		if _, taken := r.sessions[id]; id != 0 && !taken {
			return id
		}
	}
}

// Remove 删除会话及其索引项
func (r *Registry) Remove(id types.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return ErrNotFound
	}
	r.removeLocked(id)
	return nil
}

func (r *Registry) removeLocked(id types.SessionID) *Session {
	s := r.sessions[id]
	delete(r.sessions, id)
	indexRemove(r.byInitiator, s.Initiator, id)
	indexRemove(r.byTarget, s.Target, id)
	return s
}

// RemoveStale 删除已过期或超过 inactivity 无活动的会话，返回被删除的会话
func (r *Registry) RemoveStale(inactivity time.Duration) []Session {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Session
	for id, s := range r.sessions {
		if s.IsExpired(now) || s.IsInactive(now, inactivity) {
			removed = append(removed, *r.removeLocked(id))
		}
	}
	if len(removed) > 0 {
		log.Debug("回收会话", "count", len(removed), "remaining", len(r.sessions))
	}
	return removed
}

// ============================================================================
//                              查询
// ============================================================================

// Get 返回会话副本
func (r *Registry) Get(id types.SessionID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// FindByPubkey 返回公钥作为任一端参与的会话 ID（去重、升序）
func (r *Registry) FindByPubkey(pk types.PeerKey) []types.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]types.SessionID, 0, len(r.byInitiator[pk])+len(r.byTarget[pk]))
	for id := range r.byInitiator[pk] {
		ids = append(ids, id)
	}
	for id := range r.byTarget[pk] {
		if _, dup := r.byInitiator[pk][id]; !dup {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// CountForInitiator 返回发起方当前的会话数
func (r *Registry) CountForInitiator(pk types.PeerKey) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byInitiator[pk])
}

// Len 返回会话总数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ClientCount 返回参与任一会话的不同公钥数
func (r *Registry) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.byInitiator)
	for pk := range r.byTarget {
		if _, ok := r.byInitiator[pk]; !ok {
			n++
		}
	}
	return n
}

// Limits 返回注册表的容量配置
func (r *Registry) Limits() Limits {
	return r.limits
}

// ============================================================================
//                              修改
// ============================================================================

// update 在写锁内修改会话；会话不存在时返回 ErrNotFound
func (r *Registry) update(id types.SessionID, fn func(s *Session, now time.Time)) error {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	fn(s, now)
	return nil
}

// UpdateAddr 记录某一端的源地址并刷新活动时间
func (r *Registry) UpdateAddr(id types.SessionID, side Side, addr netip.AddrPort) error {
	return r.update(id, func(s *Session, now time.Time) {
		s.setAddr(side, addr)
		s.LastActivity = now
	})
}

// LearnTargetAddr 目标方地址未知且 addr 不是发起方地址时记录之
//
// 返回是否记录。
func (r *Registry) LearnTargetAddr(id types.SessionID, addr netip.AddrPort) (bool, error) {
	learned := false
	err := r.update(id, func(s *Session, _ time.Time) {
		if !s.TargetAddr.IsValid() && addr != s.InitiatorAddr {
			s.TargetAddr = addr
			learned = true
		}
	})
	return learned, err
}

// RecordTraffic 记录由 from 一端发出的一个数据包
func (r *Registry) RecordTraffic(id types.SessionID, from Side, bytes int) error {
	return r.update(id, func(s *Session, now time.Time) {
		s.recordFrom(from, bytes)
		s.LastActivity = now
	})
}

// ExtendExpiration 将截止时间设为 now + d
func (r *Registry) ExtendExpiration(id types.SessionID, d time.Duration) error {
	return r.update(id, func(s *Session, now time.Time) {
		s.ExpiresAt = now.Add(d)
	})
}

// Touch 刷新活动时间
func (r *Registry) Touch(id types.SessionID) error {
	return r.update(id, func(s *Session, now time.Time) {
		s.LastActivity = now
	})
}

// ============================================================================
//                              索引
// ============================================================================

func indexAdd(index map[types.PeerKey]idSet, pk types.PeerKey, id types.SessionID) {
	set, ok := index[pk]
	if !ok {
		set = make(idSet)
		index[pk] = set
	}
	set[id] = struct{}{}
}

func indexRemove(index map[types.PeerKey]idSet, pk types.PeerKey, id types.SessionID) {
	set, ok := index[pk]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(index, pk)
	}
}
