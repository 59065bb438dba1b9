// Package kv 提供带前缀隔离的 KV 存储抽象层
//
// Store 在存储引擎之上为所有键自动添加前缀，每个组件使用独立的命名空间。
//
//	eng, _ := badger.New(engine.InMemoryConfig())
//	relays := kv.New(eng, []byte("relay/"))
//	relays.PutJSON([]byte(pubkeyHex), info) // 实际键: relay/<pubkeyHex>
package kv

import (
	"encoding/json"

	"github.com/dep2p/go-formnet/internal/core/storage/engine"
)

// Store 带前缀隔离的 KV 存储
type Store struct {
	engine engine.Engine
	prefix []byte
}

// New 创建新的 KVStore
func New(eng engine.Engine, prefix []byte) *Store {
	return &Store{
		engine: eng,
		prefix: append([]byte(nil), prefix...),
	}
}

// prefixKey 为键添加前缀
func (s *Store) prefixKey(key []byte) []byte {
	prefixed := make([]byte, len(s.prefix)+len(key))
	copy(prefixed, s.prefix)
	copy(prefixed[len(s.prefix):], key)
	return prefixed
}

// Get 获取指定键的值
func (s *Store) Get(key []byte) ([]byte, error) {
	return s.engine.Get(s.prefixKey(key))
}

// Put 设置键值对
func (s *Store) Put(key, value []byte) error {
	return s.engine.Put(s.prefixKey(key), value)
}

// Delete 删除指定键
func (s *Store) Delete(key []byte) error {
	return s.engine.Delete(s.prefixKey(key))
}

// PutJSON 序列化并存储 JSON 值
func (s *Store) PutJSON(key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Put(key, data)
}

// ForEach 按键序遍历本 Store 的所有键值对
//
// 传给 fn 的 key 已去除前缀；fn 返回 false 时停止。
func (s *Store) ForEach(fn func(key, value []byte) bool) error {
	return s.engine.Scan(s.prefix, func(key, value []byte) bool {
		return fn(key[len(s.prefix):], value)
	})
}
