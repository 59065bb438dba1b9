package discovery

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-formnet/config"
	"github.com/dep2p/go-formnet/internal/core/storage/engine"
	"github.com/dep2p/go-formnet/internal/core/storage/kv"
)

// Params 注册表依赖
type Params struct {
	fx.In

	Config *config.Config
	Engine engine.Engine `optional:"true"`
}

// Result 注册表输出
type Result struct {
	fx.Out

	Registry      *Registry
	RelayRegistry RelayRegistry
}

// ProvideRegistry 创建中继注册表；有存储引擎时以 StorePrefix 持久化
func ProvideRegistry(p Params) (Result, error) {
	var opts []Option
	if p.Engine != nil {
		opts = append(opts, WithStore(kv.New(p.Engine, []byte(StorePrefix))))
	}
	r, err := NewRegistry(p.Config.PublicKey, p.Config.Discovery, opts...)
	if err != nil {
		return Result{}, err
	}
	return Result{Registry: r, RelayRegistry: r}, nil
}

// Module 返回 Fx 模块
//
// 提供 *Registry 与 RelayRegistry，中继节点据此启用后台发现。
func Module() fx.Option {
	return fx.Module("relay.discovery",
		fx.Provide(ProvideRegistry),
	)
}
