// Package limiter 实现中继的准入速率限制
//
// 四个滑动窗口：全局/单 IP 的数据包窗口（1 秒）与连接窗口（60 秒）。
// 每次检查先剪除窗口外的时间戳，再与上限比较，最后无论结果如何都记录本次尝试，
// 被拒绝的尝试同样计入下一个窗口，重试风暴无法重置限流器。
//
// 单 IP 表是有界的：超过高水位时先淘汰空闲 IP，再按最近活动时间淘汰到低水位。
package limiter
