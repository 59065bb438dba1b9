package formnet

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/dep2p/go-formnet/config"
	"github.com/dep2p/go-formnet/internal/core/relay/server"
	"github.com/dep2p/go-formnet/internal/util/logger"
	"github.com/dep2p/go-formnet/pkg/types"
)

var log = logger.Logger("formnet")

// stopTimeout Close 等待各组件停止的上限
const stopTimeout = 15 * time.Second

// RelayState 中继状态
type RelayState int

const (
	// StateIdle 已创建未启动
	StateIdle RelayState = iota
	// StateRunning 运行中
	StateRunning
	// StateClosed 已关闭
	StateClosed
)

// String 返回状态名
func (s RelayState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Relay formnet 中继实例
type Relay struct {
	cfg     *config.Config
	app     *fx.App
	node    *server.Node
	metrics *metricsServer

	mu    sync.Mutex
	state RelayState
}

// New 创建中继但不启动
func New(opts ...Option) (*Relay, error) {
	o := &options{}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	cfg, err := o.resolve()
	if err != nil {
		return nil, err
	}

	r := &Relay{cfg: cfg}
	r.app = buildApp(cfg, o, r)
	if err := r.app.Err(); err != nil {
		return nil, err
	}
	return r, nil
}

// Start 创建并启动中继
func Start(ctx context.Context, opts ...Option) (*Relay, error) {
	r, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if err := r.Start(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Start 启动全部组件
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StateRunning:
		return ErrAlreadyStarted
	case StateClosed:
		return ErrRelayClosed
	}
	if err := r.app.Start(ctx); err != nil {
		return err
	}
	r.state = StateRunning

	log.Info("formnet 中继已启动",
		"version", Version,
		"addr", r.node.LocalAddr().String(),
		"pubkey", r.cfg.PublicKey.ShortString(),
		"metrics", r.MetricsAddr())
	return nil
}

// Stop 停止全部组件；停止后不能再次启动
func (r *Relay) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRunning {
		r.state = StateClosed
		return nil
	}
	r.state = StateClosed
	return r.app.Stop(ctx)
}

// Close 以默认超时停止中继
func (r *Relay) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	err := r.Stop(ctx)
	return multierr.Append(err, ctx.Err())
}

// State 返回当前状态
func (r *Relay) State() RelayState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Config 返回生效的配置
func (r *Relay) Config() *config.Config {
	return r.cfg
}

// Node 返回底层中继节点
func (r *Relay) Node() *server.Node {
	return r.node
}

// Addr 返回 UDP 监听地址
func (r *Relay) Addr() netip.AddrPort {
	return r.node.LocalAddr()
}

// Info 返回对外通告的中继信息
func (r *Relay) Info() types.RelayNodeInfo {
	return r.node.Info()
}

// Stats 返回统计快照
func (r *Relay) Stats() types.RelayStats {
	return r.node.Stats()
}

// MetricsAddr 返回指标服务地址；未启用时为空
func (r *Relay) MetricsAddr() string {
	if r.metrics == nil {
		return ""
	}
	return r.metrics.Addr()
}
