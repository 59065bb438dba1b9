// Package types 定义 formnet 的公共数据结构
//
// 这是整个系统的最底层包，不依赖任何其他 formnet 内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
//
// pkg/types 定义 Go 内存结构；线上格式由 internal/core/relay/protocol 负责。
//
// # 文件组织
//
//   - keys.go  - PeerKey（32 字节公钥）、SessionID
//   - relay.go - Capabilities、RelayNodeInfo、RelayStats
package types
