package metrics

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ============================================================================
// RateMeter - 速率计算器
// ============================================================================

// DefaultRateWindow 默认速率窗口（秒）
const DefaultRateWindow = 10

// RateMeter 速率计算器（基于滑动窗口）
//
// 使用 window 个 1 秒桶计算最近 window 秒的平均速率。
type RateMeter struct {
	clock clock.Clock

	mu       sync.RWMutex
	buckets  []int64   // 环形桶
	lastIdx  int       // 最后写入的桶索引
	lastTime time.Time // 最后一次推进桶的时间
}

// NewRateMeter 创建速率计算器；window <= 0 时使用 DefaultRateWindow
func NewRateMeter(window int, clk clock.Clock) *RateMeter {
	if window <= 0 {
		window = DefaultRateWindow
	}
	if clk == nil {
		clk = clock.New()
	}
	return &RateMeter{
		clock:    clk,
		buckets:  make([]int64, window),
		lastTime: clk.Now(),
	}
}

// advanceLocked 把桶推进到当前时刻，清空跨过的桶
func (r *RateMeter) advanceLocked(now time.Time) {
	elapsed := now.Sub(r.lastTime)
	if elapsed < time.Second {
		return
	}

	seconds := int(elapsed / time.Second)
	if seconds >= len(r.buckets) {
		// 整个窗口内没有数据
		clear(r.buckets)
		r.lastIdx = 0
	} else {
		for i := 0; i < seconds; i++ {
			r.lastIdx = (r.lastIdx + 1) % len(r.buckets)
			r.buckets[r.lastIdx] = 0
		}
	}
	r.lastTime = r.lastTime.Add(time.Duration(seconds) * time.Second)
}

// Add 添加字节数到当前桶
func (r *RateMeter) Add(bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.advanceLocked(r.clock.Now())
	r.buckets[r.lastIdx] += bytes
}

// Rate 返回窗口内的平均速率（单位/秒）
func (r *RateMeter) Rate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.advanceLocked(r.clock.Now())
	return float64(r.totalLocked()) / float64(len(r.buckets))
}

// Total 返回窗口内的总量
func (r *RateMeter) Total() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.advanceLocked(r.clock.Now())
	return r.totalLocked()
}

func (r *RateMeter) totalLocked() int64 {
	var total int64
	for _, v := range r.buckets {
		total += v
	}
	return total
}

// Reset 重置速率计算器
func (r *RateMeter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.buckets)
	r.lastIdx = 0
	r.lastTime = r.clock.Now()
}

// LastUpdate 返回最后一次推进桶的时间
func (r *RateMeter) LastUpdate() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastTime
}
