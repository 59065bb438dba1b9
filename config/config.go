// Package config 提供中继节点的配置
//
// 配置以 JSON 文件持久化，时间字段使用 Duration（"30s" 或整数秒）。
// 公钥以十六进制字符串表示。
//
// 使用示例：
//
//	cfg := config.DefaultConfig()
//	cfg.Region = "eu-west"
//	if err := cfg.Save("/etc/formnet/relay.json"); err != nil {
//	    return err
//	}
//
//	loaded, err := config.Load("/etc/formnet/relay.json")
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/dep2p/go-formnet/pkg/types"
)

// Config 中继节点完整配置
type Config struct {
	// ListenAddr UDP 监听地址
	ListenAddr string `json:"listen_addr"`

	// PublicKey 中继公钥
	PublicKey types.PeerKey `json:"public_key"`

	// Region 区域标签，空表示不参与区域匹配
	Region string `json:"region,omitempty"`

	// Capabilities 能力位图
	Capabilities types.Capabilities `json:"capabilities"`

	// Endpoints 对外通告的地址，空时使用监听地址
	Endpoints []string `json:"endpoints,omitempty"`

	// Limits 资源限制
	Limits ResourceLimits `json:"limits"`

	// MaintenanceInterval 维护周期
	MaintenanceInterval Duration `json:"maintenance_interval"`

	// PacketAuth 转发包认证
	PacketAuth PacketAuthConfig `json:"packet_auth"`

	// Discovery 后台发现
	Discovery DiscoveryConfig `json:"discovery"`

	// Metrics 指标导出
	Metrics MetricsConfig `json:"metrics"`

	// STUN 同端口 STUN 应答
	STUN STUNConfig `json:"stun"`

	// path 最近一次加载或保存的位置
	path string
}

// MetricsConfig Prometheus 指标导出配置
type MetricsConfig struct {
	Enabled    bool   `json:"enabled"`
	ListenAddr string `json:"listen_addr"`
}

// STUNConfig STUN Binding 应答配置
type STUNConfig struct {
	Enabled bool `json:"enabled"`
}

// DefaultConfig 返回默认配置
//
// 默认公钥为全零，部署前必须配置。
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:          "0.0.0.0:51820",
		Capabilities:        types.CapIPv4,
		Limits:              DefaultResourceLimits(),
		MaintenanceInterval: Duration(30 * time.Second),
		PacketAuth:          DefaultPacketAuthConfig(),
		Discovery:           DefaultDiscoveryConfig(),
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1:9184",
		},
		STUN: STUNConfig{Enabled: true},
	}
}

// Path 返回配置文件位置（未加载/保存过时为空）
func (c *Config) Path() string {
	return c.path
}

// AdvertisedEndpoints 返回对外通告地址
func (c *Config) AdvertisedEndpoints() []string {
	if len(c.Endpoints) > 0 {
		return append([]string(nil), c.Endpoints...)
	}
	return []string{c.ListenAddr}
}

// Validate 校验整个配置
func (c *Config) Validate() error {
	if _, err := net.ResolveUDPAddr("udp", c.ListenAddr); err != nil {
		return fmt.Errorf("%w: listen_addr %q: %v", ErrInvalidConfig, c.ListenAddr, err)
	}
	if len(c.Region) > 64 {
		return fmt.Errorf("%w: region longer than 64 bytes", ErrInvalidConfig)
	}
	if len(c.Endpoints) > 16 {
		return fmt.Errorf("%w: at most 16 endpoints may be advertised", ErrInvalidConfig)
	}
	if c.MaintenanceInterval < Duration(time.Second) {
		return fmt.Errorf("%w: maintenance_interval must be at least 1s", ErrInvalidConfig)
	}
	if err := c.Limits.Validate(); err != nil {
		return err
	}
	if err := c.PacketAuth.Validate(); err != nil {
		return err
	}
	if err := c.Discovery.Validate(); err != nil {
		return err
	}
	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.ListenAddr); err != nil {
			return fmt.Errorf("%w: metrics.listen_addr: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// Load 从 JSON 文件加载配置
//
// 文件必须存在且可解析；未出现的字段保留默认值。
// 成功后 Path() 指向 path 的绝对路径。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.path = absPath(path)
	return cfg, nil
}

// Save 以 JSON 写入 path（先写临时文件再重命名）
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".relay-config-*")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("install config: %w", err)
	}

	c.path = absPath(path)
	return nil
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
