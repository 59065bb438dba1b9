package storage

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-formnet/config"
	"github.com/dep2p/go-formnet/internal/core/storage/engine"
	"github.com/dep2p/go-formnet/internal/core/storage/engine/badger"
	"github.com/dep2p/go-formnet/internal/util/logger"
)

var log = logger.Logger("storage")

// Params Storage 模块依赖参数
type Params struct {
	fx.In

	Config *config.Config `optional:"true"`
}

// Module 返回 Storage Fx 模块
//
// 提供 engine.Engine；OnStart 启动 GC，OnStop 关闭引擎。
func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(ProvideEngine),
		fx.Invoke(registerLifecycle),
	)
}

// ConfigFromUnified 从中继配置得到引擎配置
//
// discovery.registry_path 为空时使用内存模式。
func ConfigFromUnified(cfg *config.Config) *engine.Config {
	if cfg == nil || cfg.Discovery.RegistryPath == "" {
		return engine.InMemoryConfig()
	}
	return engine.DefaultConfig(cfg.Discovery.RegistryPath)
}

// ProvideEngine 创建存储引擎
func ProvideEngine(p Params) (engine.Engine, error) {
	cfg := ConfigFromUnified(p.Config)
	log.Debug("创建存储引擎", "path", cfg.Path, "inMemory", cfg.InMemory)
	return badger.New(cfg)
}

func registerLifecycle(lc fx.Lifecycle, eng engine.Engine) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := eng.Start(); err != nil {
				log.Error("存储引擎启动失败", "error", err)
				return err
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			if err := eng.Close(); err != nil {
				log.Warn("存储引擎关闭失败", "error", err)
				return err
			}
			log.Info("存储引擎已关闭")
			return nil
		},
	})
}
