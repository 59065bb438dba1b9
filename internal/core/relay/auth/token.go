package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"lukechampine.com/blake3"

	"github.com/dep2p/go-formnet/internal/core/relay/session"
	"github.com/dep2p/go-formnet/pkg/types"
)

const (
	// SecretSize 令牌密钥长度
	SecretSize = 32
	// MACSize 令牌 MAC 长度
	MACSize = 32
	// TokenSize 令牌编码长度：session_id(8) + issued_at(8) + mac(32)
	TokenSize = 8 + 8 + MACSize

	tokenDomain = "formnet-relay-session-token-v1"
)

// Token 会话令牌
type Token struct {
	SessionID types.SessionID
	// IssuedAt 签发时间，毫秒精度
	IssuedAt time.Time
	MAC      [MACSize]byte
}

// MarshalBinary 编码令牌
func (t Token) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, TokenSize)
	b = binary.BigEndian.AppendUint64(b, uint64(t.SessionID))
	b = binary.BigEndian.AppendUint64(b, uint64(t.IssuedAt.UnixMilli()))
	return append(b, t.MAC[:]...), nil
}

// UnmarshalBinary 解码令牌
func (t *Token) UnmarshalBinary(data []byte) error {
	if len(data) != TokenSize {
		return fmt.Errorf("%w: length %d", ErrInvalidToken, len(data))
	}
	t.SessionID = types.SessionID(binary.BigEndian.Uint64(data[0:8]))
	t.IssuedAt = time.UnixMilli(int64(binary.BigEndian.Uint64(data[8:16])))
	copy(t.MAC[:], data[16:])
	return nil
}

// ============================================================================
//                              签发与校验
// ============================================================================

// TokenIssuer 会话令牌签发器
type TokenIssuer struct {
	secret [SecretSize]byte
	ttl    time.Duration
	clock  clock.Clock
}

// NewTokenIssuer 用给定密钥创建签发器
func NewTokenIssuer(secret []byte, ttl time.Duration, clk clock.Clock) (*TokenIssuer, error) {
	if len(secret) != SecretSize {
		return nil, ErrInvalidSecret
	}
	if clk == nil {
		clk = clock.New()
	}
	ti := &TokenIssuer{ttl: ttl, clock: clk}
	copy(ti.secret[:], secret)
	return ti, nil
}

// NewRandomTokenIssuer 用随机密钥创建签发器；重启后旧令牌全部失效
func NewRandomTokenIssuer(ttl time.Duration, clk clock.Clock) (*TokenIssuer, error) {
	secret := make([]byte, SecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate token secret: %w", err)
	}
	return NewTokenIssuer(secret, ttl, clk)
}

// Issue 为会话签发令牌，签发时间取当前时刻
func (ti *TokenIssuer) Issue(s *session.Session) Token {
	// 截断到毫秒，与编码精度一致
	issued := time.UnixMilli(ti.clock.Now().UnixMilli())
	return Token{
		SessionID: s.ID,
		IssuedAt:  issued,
		MAC:       ti.mac(s, issued),
	}
}

// Verify 校验令牌
//
// 按令牌内的签发时间重新推导 MAC 并常量时间比较，再检查有效期。
func (ti *TokenIssuer) Verify(tok Token, s *session.Session) error {
	if tok.SessionID != s.ID {
		return ErrSessionMismatch
	}
	want := ti.mac(s, tok.IssuedAt)
	if subtle.ConstantTimeCompare(want[:], tok.MAC[:]) != 1 {
		return ErrInvalidToken
	}

	now := ti.clock.Now()
	if tok.IssuedAt.After(now) {
		return ErrFutureTimestamp
	}
	if ti.ttl > 0 && now.Sub(tok.IssuedAt) > ti.ttl {
		return ErrTokenExpired
	}
	return nil
}

func (ti *TokenIssuer) mac(s *session.Session, issued time.Time) [MACSize]byte {
	h := blake3.New(MACSize, ti.secret[:])
	h.Write([]byte(tokenDomain))

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(s.ID))
	h.Write(buf[:])
	h.Write(s.Initiator[:])
	h.Write(s.Target[:])
	binary.BigEndian.PutUint64(buf[:], uint64(issued.UnixMilli()))
	h.Write(buf[:])

	var out [MACSize]byte
	copy(out[:], h.Sum(nil))
	return out
}
