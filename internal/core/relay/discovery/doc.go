// Package discovery 实现中继之间的后台发现
//
// Registry 记录已知中继。每轮刷新向所有引导中继并发发送 DiscoveryQuery，
// 网络 I/O 在锁外完成，响应在注册表写锁内合并；长期未再出现的中继被剪除。
// 配置了存储时，注册表内容写入 kv（前缀 relay/），重启后恢复。
//
// Service 在独立 goroutine 中按间隔驱动刷新与剪除。Stop 取消并等待任务退出后才返回，
// 重复 Start 不会产生第二个任务。
package discovery
