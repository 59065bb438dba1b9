package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Module 是 metrics 的 Fx 模块
//
// 需要容器中存在 StatsProvider。
var Module = fx.Module("metrics",
	fx.Provide(
		fx.Annotate(
			NewRegistry,
			fx.As(new(prometheus.Gatherer)),
		),
	),
)
