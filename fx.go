package formnet

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-formnet/config"
	"github.com/dep2p/go-formnet/internal/core/metrics"
	"github.com/dep2p/go-formnet/internal/core/relay/discovery"
	"github.com/dep2p/go-formnet/internal/core/relay/server"
	"github.com/dep2p/go-formnet/internal/core/storage"
)

// ════════════════════════════════════════════════════════════════════════════
//                              Fx 装配
// ════════════════════════════════════════════════════════════════════════════

// buildApp 按配置装配组件
func buildApp(cfg *config.Config, o *options, r *Relay) *fx.App {
	modules := []fx.Option{
		fx.Supply(cfg),
	}

	// 1. 后台发现（注册表持久化依赖存储引擎）
	if cfg.Discovery.Enabled {
		modules = append(modules,
			storage.Module(),
			discovery.Module(),
		)
	}

	// 2. 中继节点
	modules = append(modules,
		server.Module(),
		fx.Populate(&r.node),
	)

	// 3. 指标导出
	if cfg.Metrics.Enabled {
		modules = append(modules,
			metrics.Module,
			fx.Provide(newMetricsServer),
			fx.Invoke(registerMetricsServer),
			fx.Populate(&r.metrics),
		)
	}

	// 4. 用户选项
	if len(o.userFxOptions) > 0 {
		modules = append(modules, o.userFxOptions...)
	}

	// 5. Fx 日志（默认丢弃，避免干扰中继日志）
	fxLogger := o.fxLogger
	if fxLogger == nil {
		fxLogger = &fxevent.ZapLogger{Logger: zap.NewNop()}
	}
	modules = append(modules, fx.WithLogger(func() fxevent.Logger { return fxLogger }))

	return fx.New(modules...)
}

// ════════════════════════════════════════════════════════════════════════════
//                              指标 HTTP 服务
// ════════════════════════════════════════════════════════════════════════════

// metricsServer 在 metrics.listen_addr 上提供 /metrics
type metricsServer struct {
	srv  *http.Server
	addr atomic.Pointer[string]
}

func newMetricsServer(cfg *config.Config, g prometheus.Gatherer) *metricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	return &metricsServer{
		srv: &http.Server{
			Addr:              cfg.Metrics.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Addr 实际监听地址；未启动时为空
func (m *metricsServer) Addr() string {
	if p := m.addr.Load(); p != nil {
		return *p
	}
	return ""
}

func registerMetricsServer(lc fx.Lifecycle, m *metricsServer) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var lc net.ListenConfig
			ln, err := lc.Listen(ctx, "tcp", m.srv.Addr)
			if err != nil {
				return err
			}
			addr := ln.Addr().String()
			m.addr.Store(&addr)

			go func() {
				if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("指标服务异常退出", "addr", addr, "error", err)
				}
			}()
			log.Info("指标服务已启动", "addr", addr)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return m.srv.Shutdown(ctx)
		},
	})
}
