// Package auth 实现中继数据包认证与会话令牌
//
// PacketAuthenticator 校验转发包头与会话是否匹配、时间戳是否在可接受的偏差内。
//
// TokenIssuer 签发带外校验用的会话令牌：
//
//	MAC = BLAKE3-keyed(secret, session_id ‖ initiator ‖ target ‖ issued_at)
//
// 签发时间固定在令牌内，校验时按令牌中的时间重新推导 MAC 并做常量时间比较，
// 与校验发生的时刻无关；有效期由 TTL 约束。
package auth
