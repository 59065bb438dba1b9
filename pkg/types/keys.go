package types

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// ============================================================================
//                              PeerKey - 节点公钥
// ============================================================================

// PeerKeySize 公钥长度
const PeerKeySize = 32

// ErrInvalidPeerKey 公钥格式错误
var ErrInvalidPeerKey = errors.New("invalid peer key: must be 32 bytes (64 hex characters)")

// PeerKey 节点公钥（32 字节）
//
// 中继以公钥标识会话两端，同时也是中继自身的身份。
// JSON 中以十六进制字符串表示。
type PeerKey [PeerKeySize]byte

// ZeroPeerKey 全零公钥，不是合法的会话目标
var ZeroPeerKey PeerKey

// GeneratePeerKey 生成随机公钥（用于测试和未配置身份的节点）
func GeneratePeerKey() PeerKey {
	var k PeerKey
	if _, err := rand.Read(k[:]); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return k
}

// IsZero 是否为全零公钥
func (k PeerKey) IsZero() bool {
	return k == ZeroPeerKey
}

// Bytes 返回字节切片
func (k PeerKey) Bytes() []byte {
	return k[:]
}

// String 返回完整十六进制表示
func (k PeerKey) String() string {
	return hex.EncodeToString(k[:])
}

// ShortString 返回前 8 个十六进制字符（日志用）
func (k PeerKey) ShortString() string {
	return hex.EncodeToString(k[:4])
}

// MarshalText 实现 encoding.TextMarshaler
func (k PeerKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (k *PeerKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePeerKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// PeerKeyFromBytes 从字节切片创建 PeerKey
func PeerKeyFromBytes(b []byte) (PeerKey, error) {
	var k PeerKey
	if len(b) != PeerKeySize {
		return k, ErrInvalidPeerKey
	}
	copy(k[:], b)
	return k, nil
}

// ParsePeerKey 从十六进制字符串解析 PeerKey
func ParsePeerKey(s string) (PeerKey, error) {
	if len(s) != PeerKeySize*2 {
		return ZeroPeerKey, ErrInvalidPeerKey
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return ZeroPeerKey, fmt.Errorf("%w: %v", ErrInvalidPeerKey, err)
	}
	return PeerKeyFromBytes(b)
}

// ============================================================================
//                              SessionID - 会话标识
// ============================================================================

// SessionID 中继会话 ID（随机 64 位）
type SessionID uint64

// String 返回 16 位十六进制表示
func (id SessionID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}
