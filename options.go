package formnet

import (
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-formnet/config"
	"github.com/dep2p/go-formnet/pkg/types"
)

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	// 基础配置（WithConfig / WithConfigFile）
	config     *config.Config
	configFile string

	// 覆盖项
	listenAddr *string
	region     *string
	publicKey  *types.PeerKey
	endpoints  []string

	metrics struct {
		enable *bool
		addr   string
	}

	discovery struct {
		bootstrap    []string
		registryPath *string
	}

	// fx 相关
	fxLogger      fxevent.Logger
	userFxOptions []fx.Option
}

// WithConfig 使用已构造的配置
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return fmt.Errorf("%w: nil config", config.ErrInvalidConfig)
		}
		o.config = cfg
		return nil
	}
}

// WithConfigFile 从 JSON 文件加载配置
func WithConfigFile(path string) Option {
	return func(o *options) error {
		o.configFile = path
		return nil
	}
}

// WithListenAddr 覆盖 UDP 监听地址
func WithListenAddr(addr string) Option {
	return func(o *options) error {
		o.listenAddr = &addr
		return nil
	}
}

// WithRegion 覆盖区域标签
func WithRegion(region string) Option {
	return func(o *options) error {
		o.region = &region
		return nil
	}
}

// WithPublicKey 覆盖中继公钥
func WithPublicKey(pk types.PeerKey) Option {
	return func(o *options) error {
		if pk.IsZero() {
			return types.ErrInvalidPeerKey
		}
		o.publicKey = &pk
		return nil
	}
}

// WithEndpoints 覆盖对外通告地址
func WithEndpoints(endpoints ...string) Option {
	return func(o *options) error {
		o.endpoints = append([]string(nil), endpoints...)
		return nil
	}
}

// WithMetrics 开关指标导出；addr 为空时保留配置中的地址
func WithMetrics(enable bool, addr string) Option {
	return func(o *options) error {
		o.metrics.enable = &enable
		o.metrics.addr = addr
		return nil
	}
}

// WithBootstrapRelays 设置引导中继并启用后台发现
func WithBootstrapRelays(addrs ...string) Option {
	return func(o *options) error {
		o.discovery.bootstrap = append([]string(nil), addrs...)
		return nil
	}
}

// WithRegistryPath 设置中继注册表的持久化目录
func WithRegistryPath(path string) Option {
	return func(o *options) error {
		o.discovery.registryPath = &path
		return nil
	}
}

// WithFxLogger 设置 fx 事件日志（默认丢弃）
func WithFxLogger(logger *zap.Logger) Option {
	return func(o *options) error {
		o.fxLogger = &fxevent.ZapLogger{Logger: logger}
		return nil
	}
}

// WithFxOptions 追加自定义 fx 选项
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.userFxOptions = append(o.userFxOptions, opts...)
		return nil
	}
}

// resolve 得到最终配置：文件或显式配置为基础，覆盖项其次，最后校验
func (o *options) resolve() (*config.Config, error) {
	var cfg *config.Config
	switch {
	case o.config != nil:
		cfg = o.config
	case o.configFile != "":
		loaded, err := config.Load(o.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	default:
		cfg = config.DefaultConfig()
	}

	if o.listenAddr != nil {
		cfg.ListenAddr = *o.listenAddr
	}
	if o.region != nil {
		cfg.Region = *o.region
	}
	if o.publicKey != nil {
		cfg.PublicKey = *o.publicKey
	}
	if len(o.endpoints) > 0 {
		cfg.Endpoints = o.endpoints
	}
	if o.metrics.enable != nil {
		cfg.Metrics.Enabled = *o.metrics.enable
		if o.metrics.addr != "" {
			cfg.Metrics.ListenAddr = o.metrics.addr
		}
	}
	if len(o.discovery.bootstrap) > 0 {
		cfg.Discovery.Enabled = true
		cfg.Discovery.BootstrapRelays = o.discovery.bootstrap
	}
	if o.discovery.registryPath != nil {
		cfg.Discovery.RegistryPath = *o.discovery.registryPath
	}

	if cfg.PublicKey.IsZero() {
		cfg.PublicKey = types.GeneratePeerKey()
		log.Warn("未配置中继公钥，使用临时公钥", "pubkey", cfg.PublicKey.ShortString())
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
