package config

import (
	"fmt"
	"time"
)

// ResourceLimits 中继资源限制
//
// 启动时加载，运行期间不可变。计数类字段为 0 表示不限制。
type ResourceLimits struct {
	// MaxSessions 全局会话上限
	MaxSessions int `json:"max_sessions"`

	// MaxSessionsPerClient 单个发起方公钥的会话上限
	MaxSessionsPerClient int `json:"max_sessions_per_client"`

	// MaxConnectionsPerMinute 全局每分钟连接请求数
	MaxConnectionsPerMinute int `json:"max_connections_per_minute"`

	// MaxConnectionsPerMinutePerIP 单 IP 每分钟连接请求数
	MaxConnectionsPerMinutePerIP int `json:"max_connections_per_minute_per_ip"`

	// MaxPacketsPerSecond 全局每秒数据包数
	MaxPacketsPerSecond int `json:"max_packets_per_second"`

	// MaxPacketsPerSecondPerIP 单 IP 每秒数据包数
	MaxPacketsPerSecondPerIP int `json:"max_packets_per_second_per_ip"`

	// MaxPacketSize 最大数据报字节数
	MaxPacketSize int `json:"max_packet_size"`

	// SessionInactivityTimeout 无活动多久后回收会话
	SessionInactivityTimeout Duration `json:"session_inactivity_timeout"`

	// DefaultSessionLifetime 新会话及每次心跳续期的有效期
	DefaultSessionLifetime Duration `json:"default_session_lifetime"`
}

// DefaultResourceLimits 返回默认资源限制
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MaxSessions:                  10000,
		MaxSessionsPerClient:         10,
		MaxConnectionsPerMinute:      1000,
		MaxConnectionsPerMinutePerIP: 30,
		MaxPacketsPerSecond:          100000,
		MaxPacketsPerSecondPerIP:     1000,
		MaxPacketSize:                2048,
		SessionInactivityTimeout:     Duration(5 * time.Minute),
		DefaultSessionLifetime:       Duration(time.Hour),
	}
}

// Validate 校验资源限制
func (l ResourceLimits) Validate() error {
	counts := []struct {
		name  string
		value int
	}{
		{"max_sessions", l.MaxSessions},
		{"max_sessions_per_client", l.MaxSessionsPerClient},
		{"max_connections_per_minute", l.MaxConnectionsPerMinute},
		{"max_connections_per_minute_per_ip", l.MaxConnectionsPerMinutePerIP},
		{"max_packets_per_second", l.MaxPacketsPerSecond},
		{"max_packets_per_second_per_ip", l.MaxPacketsPerSecondPerIP},
	}
	for _, c := range counts {
		if c.value < 0 {
			return fmt.Errorf("%w: limits.%s must be non-negative", ErrInvalidConfig, c.name)
		}
	}
	if l.MaxPacketSize < 64 || l.MaxPacketSize > 65507 {
		return fmt.Errorf("%w: limits.max_packet_size must be within [64, 65507]", ErrInvalidConfig)
	}
	if l.SessionInactivityTimeout <= 0 {
		return fmt.Errorf("%w: limits.session_inactivity_timeout must be positive", ErrInvalidConfig)
	}
	if l.DefaultSessionLifetime <= 0 {
		return fmt.Errorf("%w: limits.default_session_lifetime must be positive", ErrInvalidConfig)
	}
	return nil
}

// PacketAuthConfig 转发包认证参数
type PacketAuthConfig struct {
	// MaxAge 包时间戳允许落后当前时间的最大值
	MaxAge Duration `json:"max_age"`

	// MaxFutureSkew 包时间戳允许超前当前时间的最大值
	MaxFutureSkew Duration `json:"max_future_skew"`

	// TokenTTL 会话令牌有效期
	TokenTTL Duration `json:"token_ttl"`
}

// DefaultPacketAuthConfig 返回默认认证参数
func DefaultPacketAuthConfig() PacketAuthConfig {
	return PacketAuthConfig{
		MaxAge:        Duration(30 * time.Second),
		MaxFutureSkew: Duration(5 * time.Second),
		TokenTTL:      Duration(time.Hour),
	}
}

// Validate 校验认证参数
func (c PacketAuthConfig) Validate() error {
	if c.MaxAge <= 0 {
		return fmt.Errorf("%w: packet_auth.max_age must be positive", ErrInvalidConfig)
	}
	if c.MaxFutureSkew < 0 {
		return fmt.Errorf("%w: packet_auth.max_future_skew must be non-negative", ErrInvalidConfig)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("%w: packet_auth.token_ttl must be positive", ErrInvalidConfig)
	}
	return nil
}
