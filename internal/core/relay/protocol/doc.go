// Package protocol 实现中继 UDP 线协议的编解码
//
// 所有消息共用一个端口，每个数据报是一条自描述消息：
//
//	type(1) | version(1) | body
//
// 整数使用大端序；变长字段带 uvarint 长度前缀；可选字符串带 0/1 存在标记。
// 消息体必须恰好消费完整个数据报，多余字节视为格式错误。
//
// # 消息类型
//
//	1 ConnectionRequest   peer(32) target(32) nonce(8)
//	2 ConnectionResponse  nonce(8) status(1) session_id(8) | reason(varstr)
//	3 RelayPacket         dest(32) session_id(8) timestamp_ms(8) payload(varbytes)
//	4 Heartbeat           session_id(8) sequence(8)
//	5 DiscoveryQuery      nonce(8) min_caps(4) region(optstr)
//	6 DiscoveryResponse   request_nonce(8) timestamp(8) relays(uvarint + info*) more(1)
//
// 入站分类（Classify）按固定顺序尝试 ConnectionRequest、RelayPacket、
// Heartbeat、DiscoveryQuery，第一个解码成功的即为结果。
package protocol
