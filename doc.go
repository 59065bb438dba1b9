// Package formnet 提供 formnet UDP 中继节点的公共 API
//
// 中继帮助位于 NAT 后的对等方建立会话并转发数据包，
// 同时在同一端口应答 STUN Binding 请求与中继发现查询。
//
// # 快速开始
//
//	relay, err := formnet.Start(ctx,
//	    formnet.WithConfigFile("/etc/formnet/relay.json"),
//	    formnet.WithRegion("eu-west"),
//	)
//	if err != nil {
//	    return err
//	}
//	defer relay.Close()
//
//	fmt.Println("listening on", relay.Addr())
//
// # 组件
//
// 内部组件通过 fx 装配：
//   - relay.server：套接字循环、会话、限速与认证
//   - relay.discovery + storage：后台中继发现与注册表持久化（可选）
//   - metrics：Prometheus 指标与 HTTP 导出（可选）
package formnet
