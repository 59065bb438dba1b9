package metrics

import (
	"math"
	"sync/atomic"

	"github.com/benbjohnson/clock"
)

// BandwidthMeter 转发带宽计量
//
// 记录转发字节数，按比特/秒给出当前速率与历史峰值。
// 峰值在每次 Sample 时更新，因此由维护任务周期性采样。
type BandwidthMeter struct {
	rate *RateMeter
	peak atomic.Uint64 // math.Float64bits
}

// NewBandwidthMeter 创建带宽计量；window 为速率窗口秒数
func NewBandwidthMeter(window int, clk clock.Clock) *BandwidthMeter {
	return &BandwidthMeter{rate: NewRateMeter(window, clk)}
}

// Record 记录一次转发的字节数
func (m *BandwidthMeter) Record(bytes int) {
	m.rate.Add(int64(bytes))
}

// Sample 返回当前速率与峰值（bit/s），并更新峰值
func (m *BandwidthMeter) Sample() (current, peak float64) {
	current = m.rate.Rate() * 8
	for {
		old := m.peak.Load()
		peak = math.Float64frombits(old)
		if current <= peak {
			return current, peak
		}
		if m.peak.CompareAndSwap(old, math.Float64bits(current)) {
			return current, current
		}
	}
}

// Peak 返回已记录的峰值（bit/s）
func (m *BandwidthMeter) Peak() float64 {
	return math.Float64frombits(m.peak.Load())
}
