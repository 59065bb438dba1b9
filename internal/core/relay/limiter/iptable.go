package limiter

import (
	"net/netip"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const (
	// HighWater 单 IP 表超过该条目数时触发淘汰
	HighWater = 10000
	// LowWater 淘汰后最多保留的条目数
	LowWater = 5000
)

// ipTable 单 IP 滑动窗口表
//
// LRU 的新近度即最后活动时间：每次检查都通过 Get/Add 把条目移到最新端，
// 因此从最旧端向前扫描就是按空闲时长降序。
type ipTable struct {
	span  time.Duration
	limit int
	idle  time.Duration

	high, low int

	mu  sync.Mutex
	lru *simplelru.LRU[netip.Addr, *window]
}

func newIPTable(span time.Duration, limit int, idle time.Duration, high, low int) *ipTable {
	// 容量留足余量，淘汰由 evictLocked 负责
	lru, err := simplelru.NewLRU[netip.Addr, *window](2*high, nil)
	if err != nil {
		panic(err)
	}
	return &ipTable{
		span:  span,
		limit: limit,
		idle:  idle,
		high:  high,
		low:   low,
		lru:   lru,
	}
}

// allow 对 ip 做一次准入检查；返回是否准入以及窗口内的尝试数
func (t *ipTable) allow(ip netip.Addr, now time.Time) (bool, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, found := t.lru.Get(ip)
	if !found {
		w = newWindow(t.span, t.limit)
		t.lru.Add(ip, w)
	}
	ok, n := w.allow(now)
	if !found && t.lru.Len() > t.high {
		evicted := t.evictLocked(now)
		log.Debug("单 IP 表淘汰", "evicted", evicted, "remaining", t.lru.Len())
	}
	return ok, n
}

// evictLocked 先淘汰空闲条目，仍超过低水位时淘汰最久未活动的条目
func (t *ipTable) evictLocked(now time.Time) int {
	evicted := t.removeIdleLocked(now)
	for t.lru.Len() > t.low {
		t.lru.RemoveOldest()
		evicted++
	}
	return evicted
}

func (t *ipTable) removeIdleLocked(now time.Time) int {
	evicted := 0
	for {
		_, w, ok := t.lru.GetOldest()
		if !ok || !w.idle(now, t.idle) {
			return evicted
		}
		t.lru.RemoveOldest()
		evicted++
	}
}

// cleanup 淘汰空闲条目；超过高水位时一并执行低水位淘汰
func (t *ipTable) cleanup(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.lru.Len() > t.high {
		return t.evictLocked(now)
	}
	return t.removeIdleLocked(now)
}

func (t *ipTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Len()
}
