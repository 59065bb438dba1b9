package discovery

import (
	"sync"
	"time"

	"github.com/dep2p/go-formnet/config"
)

// AdaptiveTimeout 自适应查询超时
//
// 超时 = 平滑 RTT × multiplier，限制在 [min, max]。
// 平滑方式与 TCP SRTT 相同（新样本权重 1/8）；超时发生时当前值翻倍。
type AdaptiveTimeout struct {
	min, max   time.Duration
	multiplier float64

	mu      sync.Mutex
	srtt    time.Duration
	current time.Duration
}

// NewAdaptiveTimeout 根据配置创建
func NewAdaptiveTimeout(cfg config.AdaptiveTimeoutConfig) *AdaptiveTimeout {
	a := &AdaptiveTimeout{
		min:        cfg.Min.Std(),
		max:        cfg.Max.Std(),
		multiplier: cfg.Multiplier,
	}
	a.current = a.clamp(cfg.Initial.Std())
	return a
}

// Timeout 返回当前超时
func (a *AdaptiveTimeout) Timeout() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Observe 记录一次成功查询的 RTT
func (a *AdaptiveTimeout) Observe(rtt time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.srtt == 0 {
		a.srtt = rtt
	} else {
		a.srtt += (rtt - a.srtt) / 8
	}
	a.current = a.clamp(time.Duration(float64(a.srtt) * a.multiplier))
}

// Backoff 记录一次超时
func (a *AdaptiveTimeout) Backoff() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = a.clamp(2 * a.current)
}

func (a *AdaptiveTimeout) clamp(d time.Duration) time.Duration {
	if d < a.min {
		return a.min
	}
	if d > a.max {
		return a.max
	}
	return d
}
