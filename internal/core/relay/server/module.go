package server

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-formnet/config"
	"github.com/dep2p/go-formnet/internal/core/metrics"
	"github.com/dep2p/go-formnet/internal/core/relay/discovery"
)

// Input Node 依赖
type Input struct {
	fx.In

	Config   *config.Config
	Registry discovery.RelayRegistry `optional:"true"`
}

// Output Node 输出
type Output struct {
	fx.Out

	Node  *Node
	Stats metrics.StatsProvider
}

// ProvideNode 创建中继节点；容器中有中继注册表时启用后台发现
func ProvideNode(in Input) (Output, error) {
	n, err := New(in.Config)
	if err != nil {
		return Output{}, err
	}
	if in.Registry != nil {
		n.EnableDiscovery(in.Registry)
	}
	return Output{Node: n, Stats: n}, nil
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("relay.server",
		fx.Provide(ProvideNode),
		fx.Invoke(registerLifecycle),
	)
}

func registerLifecycle(lc fx.Lifecycle, n *Node) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// ctx 只用于绑定；循环随进程存活，直到 OnStop
			return n.Start(ctx)
		},
		OnStop: func(_ context.Context) error {
			return n.Stop()
		},
	})
}
