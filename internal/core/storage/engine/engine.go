// Package engine 定义存储引擎接口与配置
package engine

import (
	"fmt"
	"time"
)

// Engine 键值存储引擎
type Engine interface {
	// Get 获取指定键的值；不存在时返回 ErrNotFound
	Get(key []byte) ([]byte, error)

	// Put 设置键值对
	Put(key, value []byte) error

	// Delete 删除指定键；键不存在不是错误
	Delete(key []byte) error

	// Scan 按键序遍历前缀下的键值对，fn 返回 false 时停止
	//
	// 传给 fn 的切片是副本，可以保留。
	Scan(prefix []byte, fn func(key, value []byte) bool) error

	// Start 启动后台任务（GC）
	Start() error

	// Close 停止后台任务并关闭
	Close() error
}

// Config 存储引擎配置
type Config struct {
	// Path 数据库目录；InMemory 为 true 时忽略
	Path string

	// InMemory 使用内存模式
	InMemory bool

	// SyncWrites 每次写入都同步到磁盘
	SyncWrites bool

	// GCInterval 值日志垃圾回收间隔（0 = 不启动 GC）
	GCInterval time.Duration

	// GCDiscardRatio 垃圾回收丢弃比例
	GCDiscardRatio float64
}

// DefaultConfig 返回持久化配置
func DefaultConfig(path string) *Config {
	return &Config{
		Path:           path,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig 返回内存模式配置
func InMemoryConfig() *Config {
	return &Config{InMemory: true}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}
	if c.GCInterval > 0 && (c.GCDiscardRatio <= 0 || c.GCDiscardRatio >= 1) {
		return fmt.Errorf("%w: gc discard ratio must be in (0, 1)", ErrInvalidConfig)
	}
	return nil
}
