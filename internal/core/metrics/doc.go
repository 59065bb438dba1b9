// Package metrics 提供中继的监控指标
//
// 两部分：
//   - RateMeter / BandwidthMeter：基于 1 秒桶的滑动速率与峰值
//   - Collector：把 types.RelayStats 快照导出为 Prometheus 指标
//
// # 快速开始
//
//	reg := metrics.NewRegistry(node)
//
//	// 文本格式
//	_ = metrics.WriteText(os.Stdout, reg)
//
//	// HTTP
//	http.Handle("/metrics", metrics.Handler(reg))
//
// # 指标
//
// 所有指标以 formnet_relay_ 为前缀；计数器以 _total 结尾，
// 其余为 gauge（活跃会话、活跃客户端、当前/峰值带宽、运行时长）。
package metrics
