package config

import (
	"fmt"
	"net"
	"time"
)

// DiscoveryConfig 后台中继发现配置
type DiscoveryConfig struct {
	// Enabled 是否启动后台发现任务
	Enabled bool `json:"enabled"`

	// Interval 两轮刷新之间的间隔
	Interval Duration `json:"interval"`

	// BootstrapRelays 引导中继地址（host:port）
	BootstrapRelays []string `json:"bootstrap_relays,omitempty"`

	// StaleAfter 多久未再次发现的中继被剪除
	StaleAfter Duration `json:"stale_after"`

	// RegistryPath 中继注册表持久化目录，空表示仅内存
	RegistryPath string `json:"registry_path,omitempty"`

	// Concurrency 同时查询的引导中继数
	Concurrency int `json:"concurrency"`

	// AdaptiveTimeout 查询超时自适应参数
	AdaptiveTimeout AdaptiveTimeoutConfig `json:"adaptive_timeout"`
}

// AdaptiveTimeoutConfig 自适应查询超时
//
// 超时 = 平滑 RTT × Multiplier，限制在 [Min, Max]；尚无样本时使用 Initial。
type AdaptiveTimeoutConfig struct {
	Initial    Duration `json:"initial"`
	Min        Duration `json:"min"`
	Max        Duration `json:"max"`
	Multiplier float64  `json:"multiplier"`
}

// DefaultDiscoveryConfig 返回默认发现配置（默认关闭）
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		Enabled:     false,
		Interval:    Duration(5 * time.Minute),
		StaleAfter:  Duration(30 * time.Minute),
		Concurrency: 8,
		AdaptiveTimeout: AdaptiveTimeoutConfig{
			Initial:    Duration(2 * time.Second),
			Min:        Duration(500 * time.Millisecond),
			Max:        Duration(10 * time.Second),
			Multiplier: 3,
		},
	}
}

// Validate 校验发现配置
func (c DiscoveryConfig) Validate() error {
	if c.Interval < Duration(time.Second) {
		return fmt.Errorf("%w: discovery.interval must be at least 1s", ErrInvalidConfig)
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("%w: discovery.stale_after must be positive", ErrInvalidConfig)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: discovery.concurrency must be at least 1", ErrInvalidConfig)
	}
	for _, addr := range c.BootstrapRelays {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("%w: discovery.bootstrap_relays: %q: %v", ErrInvalidConfig, addr, err)
		}
	}
	if c.Enabled && len(c.BootstrapRelays) == 0 {
		return fmt.Errorf("%w: discovery enabled without bootstrap_relays", ErrInvalidConfig)
	}
	return c.AdaptiveTimeout.Validate()
}

// Validate 校验自适应超时参数
func (c AdaptiveTimeoutConfig) Validate() error {
	if c.Min <= 0 || c.Max < c.Min {
		return fmt.Errorf("%w: adaptive_timeout requires 0 < min <= max", ErrInvalidConfig)
	}
	if c.Initial < c.Min || c.Initial > c.Max {
		return fmt.Errorf("%w: adaptive_timeout.initial must be within [min, max]", ErrInvalidConfig)
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("%w: adaptive_timeout.multiplier must be >= 1", ErrInvalidConfig)
	}
	return nil
}
