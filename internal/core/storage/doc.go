// Package storage 提供中继的持久化存储服务
//
// 基于 BadgerDB，为需要跨重启保留状态的组件提供带前缀隔离的键值存储。
//
//	┌──────────────────────────────────────┐
//	│  discovery.Registry (relay/)         │
//	└──────────────────────────────────────┘
//	                  │
//	                  ▼
//	┌──────────────────────────────────────┐
//	│  kv.Store       带前缀隔离的 KV 抽象  │
//	├──────────────────────────────────────┤
//	│  engine/badger  BadgerDB 实现         │
//	└──────────────────────────────────────┘
//
// # 键空间
//
//	前缀     | 模块                | 说明
//	---------|---------------------|----------------
//	relay/   | discovery.Registry  | 已知中继节点
//
// 未配置路径时使用内存模式，进程退出即丢失。
package storage
