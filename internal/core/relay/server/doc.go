// Package server 实现 UDP 中继节点
//
// 节点在单个 UDP 套接字上为 NAT 后的对等方建立会话并转发数据包。
// 一个 goroutine 独占套接字循环，读操作使用 50ms 截止时间轮询，
// 因此维护任务与停止检查不会被阻塞。
//
// # 数据报处理顺序
//
//  1. 超过 MaxPacketSize 的数据报丢弃
//  2. 单 IP 包速率、全局包速率检查
//  3. STUN Binding 请求（启用时）应答 XOR-MAPPED-ADDRESS
//  4. 识别消息并分派：
//     - ConnectionRequest：准入检查后创建会话
//     - RelayPacket：认证后原样转发负载
//     - Heartbeat：刷新活动时间并续期
//     - DiscoveryQuery：能力与区域匹配时应答本节点信息
//
// 单个数据报的错误只记录日志，不会中断循环；对端只会看到
// ConnectionResponse 的拒绝状态。
//
// # 使用示例
//
//	node, err := server.New(cfg)
//	if err != nil {
//	    return err
//	}
//	if err := node.ListenAndServe(ctx); err != nil {
//	    return err
//	}
package server
