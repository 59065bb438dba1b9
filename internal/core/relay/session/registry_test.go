package session

import (
	"fmt"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-formnet/pkg/types"
)

func testLimits() Limits {
	return Limits{MaxSessions: 100, MaxSessionsPerClient: 3, Lifetime: time.Hour}
}

func newTestRegistry(t *testing.T, limits Limits) (*Registry, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewRegistry(limits, WithClock(clk)), clk
}

// checkIndexes 反向索引与主表一致
func checkIndexes(t *testing.T, r *Registry) {
	t.Helper()
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, s := range r.sessions {
		assert.Contains(t, r.byInitiator[s.Initiator], id)
		assert.Contains(t, r.byTarget[s.Target], id)
	}
	for pk, set := range r.byInitiator {
		assert.NotEmpty(t, set, "empty initiator entry for %s", pk.ShortString())
		for id := range set {
			require.Contains(t, r.sessions, id)
			assert.Equal(t, pk, r.sessions[id].Initiator)
		}
	}
	for pk, set := range r.byTarget {
		assert.NotEmpty(t, set, "empty target entry for %s", pk.ShortString())
		for id := range set {
			require.Contains(t, r.sessions, id)
			assert.Equal(t, pk, r.sessions[id].Target)
		}
	}
}

// ============================================================================
//                              创建与查询
// ============================================================================

func TestRegistry_CreateSymmetry(t *testing.T) {
	r, clk := newTestRegistry(t, testLimits())
	a, b := types.GeneratePeerKey(), types.GeneratePeerKey()

	id, err := r.Create(a, b)
	require.NoError(t, err)
	assert.NotZero(t, id)

	assert.Equal(t, []types.SessionID{id}, r.FindByPubkey(a))
	assert.Equal(t, []types.SessionID{id}, r.FindByPubkey(b))
	assert.Empty(t, r.FindByPubkey(types.GeneratePeerKey()))

	s, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, a, s.Initiator)
	assert.Equal(t, b, s.Target)
	assert.Equal(t, clk.Now(), s.CreatedAt)
	assert.Equal(t, clk.Now().Add(time.Hour), s.ExpiresAt)
	assert.False(t, s.InitiatorAddr.IsValid())
	assert.False(t, s.TargetAddr.IsValid())

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 2, r.ClientCount())
	checkIndexes(t, r)
}

func TestRegistry_FindByPubkey_Dedup(t *testing.T) {
	r, _ := newTestRegistry(t, testLimits())
	a, b := types.GeneratePeerKey(), types.GeneratePeerKey()

	self, err := r.Create(a, a)
	require.NoError(t, err)
	ab, err := r.Create(a, b)
	require.NoError(t, err)
	ba, err := r.Create(b, a)
	require.NoError(t, err)

	assert.ElementsMatch(t, []types.SessionID{self, ab, ba}, r.FindByPubkey(a))
	assert.ElementsMatch(t, []types.SessionID{ab, ba}, r.FindByPubkey(b))
	assert.Equal(t, 2, r.ClientCount())
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r, _ := newTestRegistry(t, testLimits())
	id, err := r.Create(types.GeneratePeerKey(), types.GeneratePeerKey())
	require.NoError(t, err)

	s, _ := r.Get(id)
	s.PacketsToTarget = 99

	again, _ := r.Get(id)
	assert.Zero(t, again.PacketsToTarget)
}

func TestRegistry_Caps(t *testing.T) {
	r, _ := newTestRegistry(t, Limits{MaxSessions: 4, MaxSessionsPerClient: 2, Lifetime: time.Hour})
	a := types.GeneratePeerKey()

	for i := 0; i < 2; i++ {
		_, err := r.Create(a, types.GeneratePeerKey())
		require.NoError(t, err)
	}
	_, err := r.Create(a, types.GeneratePeerKey())
	assert.ErrorIs(t, err, ErrClientSessionLimit)
	assert.ErrorIs(t, err, ErrResourceLimit)
	assert.Equal(t, 2, r.CountForInitiator(a))

	for i := 0; i < 2; i++ {
		_, err := r.Create(types.GeneratePeerKey(), types.GeneratePeerKey())
		require.NoError(t, err)
	}
	_, err = r.Create(types.GeneratePeerKey(), types.GeneratePeerKey())
	assert.ErrorIs(t, err, ErrSessionLimit)
	assert.Equal(t, 4, r.Len())
}

func TestRegistry_ClientCapCheckedBeforeGlobalCap(t *testing.T) {
	r, _ := newTestRegistry(t, Limits{MaxSessions: 2, MaxSessionsPerClient: 2, Lifetime: time.Hour})
	a := types.GeneratePeerKey()

	for i := 0; i < 2; i++ {
		_, err := r.Create(a, types.GeneratePeerKey())
		require.NoError(t, err)
	}

	// 两个上限同时已满时报告发起方上限
	_, err := r.Create(a, types.GeneratePeerKey())
	assert.ErrorIs(t, err, ErrClientSessionLimit)
	assert.NotErrorIs(t, err, ErrSessionLimit)

	_, err = r.Create(types.GeneratePeerKey(), types.GeneratePeerKey())
	assert.ErrorIs(t, err, ErrSessionLimit)
}

func TestRegistry_ZeroCapsUnlimited(t *testing.T) {
	r, _ := newTestRegistry(t, Limits{Lifetime: time.Hour})
	a := types.GeneratePeerKey()
	for i := 0; i < 50; i++ {
		_, err := r.Create(a, types.GeneratePeerKey())
		require.NoError(t, err)
	}
	assert.Equal(t, 50, r.CountForInitiator(a))
}

// ============================================================================
//                              删除与回收
// ============================================================================

func TestRegistry_Remove(t *testing.T) {
	r, _ := newTestRegistry(t, testLimits())
	a, b := types.GeneratePeerKey(), types.GeneratePeerKey()
	id1, _ := r.Create(a, b)
	id2, _ := r.Create(a, types.GeneratePeerKey())

	require.NoError(t, r.Remove(id1))
	assert.ErrorIs(t, r.Remove(id1), ErrNotFound)

	assert.Equal(t, []types.SessionID{id2}, r.FindByPubkey(a))
	assert.Empty(t, r.FindByPubkey(b))
	checkIndexes(t, r)

	require.NoError(t, r.Remove(id2))
	assert.Zero(t, r.ClientCount())
	checkIndexes(t, r)
}

func TestRegistry_RemoveStale_Inactive(t *testing.T) {
	r, clk := newTestRegistry(t, testLimits())
	a, b := types.GeneratePeerKey(), types.GeneratePeerKey()
	idle, _ := r.Create(a, b)
	busy, _ := r.Create(b, a)

	clk.Add(4 * time.Minute)
	require.NoError(t, r.Touch(busy))
	clk.Add(2 * time.Minute)

	removed := r.RemoveStale(5 * time.Minute)
	require.Len(t, removed, 1)
	assert.Equal(t, idle, removed[0].ID)

	_, ok := r.Get(idle)
	assert.False(t, ok)
	assert.Equal(t, []types.SessionID{busy}, r.FindByPubkey(a))
	assert.Equal(t, []types.SessionID{busy}, r.FindByPubkey(b))
	checkIndexes(t, r)
}

func TestRegistry_RemoveStale_Expired(t *testing.T) {
	r, clk := newTestRegistry(t, Limits{Lifetime: time.Minute})
	id, _ := r.Create(types.GeneratePeerKey(), types.GeneratePeerKey())

	// 活动不阻止过期
	clk.Add(50 * time.Second)
	require.NoError(t, r.Touch(id))
	clk.Add(20 * time.Second)

	removed := r.RemoveStale(time.Hour)
	require.Len(t, removed, 1)
	assert.Zero(t, r.Len())
	checkIndexes(t, r)
}

func TestRegistry_ExtendExpiration(t *testing.T) {
	r, clk := newTestRegistry(t, Limits{Lifetime: time.Minute})
	id, _ := r.Create(types.GeneratePeerKey(), types.GeneratePeerKey())

	clk.Add(50 * time.Second)
	require.NoError(t, r.ExtendExpiration(id, time.Minute))
	clk.Add(50 * time.Second)

	assert.Empty(t, r.RemoveStale(time.Hour))
	s, _ := r.Get(id)
	assert.Equal(t, clk.Now().Add(10*time.Second), s.ExpiresAt)
}

// ============================================================================
//                              修改
// ============================================================================

func TestRegistry_RecordTraffic_OneDirection(t *testing.T) {
	r, _ := newTestRegistry(t, testLimits())
	id, _ := r.Create(types.GeneratePeerKey(), types.GeneratePeerKey())

	require.NoError(t, r.RecordTraffic(id, SideInitiator, 100))
	require.NoError(t, r.RecordTraffic(id, SideInitiator, 50))
	require.NoError(t, r.RecordTraffic(id, SideTarget, 7))

	s, _ := r.Get(id)
	assert.Equal(t, uint64(2), s.PacketsToTarget)
	assert.Equal(t, uint64(150), s.BytesToTarget)
	assert.Equal(t, uint64(1), s.PacketsToInitiator)
	assert.Equal(t, uint64(7), s.BytesToInitiator)
}

func TestRegistry_UpdateAddr(t *testing.T) {
	r, clk := newTestRegistry(t, testLimits())
	id, _ := r.Create(types.GeneratePeerKey(), types.GeneratePeerKey())
	addr := netip.MustParseAddrPort("198.51.100.7:40000")

	clk.Add(time.Second)
	require.NoError(t, r.UpdateAddr(id, SideInitiator, addr))

	s, _ := r.Get(id)
	assert.Equal(t, addr, s.InitiatorAddr)
	assert.Equal(t, addr, s.Addr(SideInitiator))
	assert.Equal(t, clk.Now(), s.LastActivity)
}

func TestRegistry_LearnTargetAddr(t *testing.T) {
	r, _ := newTestRegistry(t, testLimits())
	id, _ := r.Create(types.GeneratePeerKey(), types.GeneratePeerKey())
	initiator := netip.MustParseAddrPort("198.51.100.7:40000")
	target := netip.MustParseAddrPort("203.0.113.9:50000")
	require.NoError(t, r.UpdateAddr(id, SideInitiator, initiator))

	learned, err := r.LearnTargetAddr(id, initiator)
	require.NoError(t, err)
	assert.False(t, learned)

	learned, err = r.LearnTargetAddr(id, target)
	require.NoError(t, err)
	assert.True(t, learned)

	learned, err = r.LearnTargetAddr(id, netip.MustParseAddrPort("203.0.113.10:1"))
	require.NoError(t, err)
	assert.False(t, learned)

	s, _ := r.Get(id)
	assert.Equal(t, target, s.TargetAddr)
}

func TestRegistry_MutateMissing(t *testing.T) {
	r, _ := newTestRegistry(t, testLimits())
	const missing = types.SessionID(12345)

	assert.ErrorIs(t, r.UpdateAddr(missing, SideTarget, netip.AddrPort{}), ErrNotFound)
	assert.ErrorIs(t, r.RecordTraffic(missing, SideTarget, 1), ErrNotFound)
	assert.ErrorIs(t, r.ExtendExpiration(missing, time.Second), ErrNotFound)
	assert.ErrorIs(t, r.Touch(missing), ErrNotFound)
	_, err := r.LearnTargetAddr(missing, netip.AddrPort{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSession_SideOf(t *testing.T) {
	a, b := types.GeneratePeerKey(), types.GeneratePeerKey()
	s := Session{Initiator: a, Target: b}

	side, ok := s.SideOf(b)
	assert.True(t, ok)
	assert.Equal(t, SideTarget, side)
	side, ok = s.SideOf(a)
	assert.True(t, ok)
	assert.Equal(t, SideInitiator, side)
	_, ok = s.SideOf(types.GeneratePeerKey())
	assert.False(t, ok)

	assert.Equal(t, SideInitiator, SideTarget.Other())
	assert.Equal(t, a, s.Key(SideInitiator))
}

// TestRegistry_Concurrent 并发创建、修改、回收，索引始终一致
func TestRegistry_Concurrent(t *testing.T) {
	r, clk := newTestRegistry(t, Limits{MaxSessions: 1000, MaxSessionsPerClient: 1000, Lifetime: time.Hour})
	peers := make([]types.PeerKey, 8)
	for i := range peers {
		peers[i] = types.GeneratePeerKey()
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id, err := r.Create(peers[w], peers[(w+i)%len(peers)])
				if err != nil {
					t.Errorf("create: %v", err)
					return
				}
				_ = r.RecordTraffic(id, SideInitiator, i)
				if i%3 == 0 {
					_ = r.Remove(id)
				}
				_ = r.FindByPubkey(peers[w])
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			r.RemoveStale(time.Hour)
		}
	}()
	wg.Wait()

	checkIndexes(t, r)

	clk.Add(2 * time.Hour)
	removed := r.RemoveStale(time.Hour)
	assert.Len(t, removed, 8*(100-34), fmt.Sprintf("remaining %d", r.Len()))
	assert.Zero(t, r.Len())
	checkIndexes(t, r)
}
