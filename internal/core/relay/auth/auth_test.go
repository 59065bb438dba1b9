package auth

import (
	"bytes"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-formnet/config"
	"github.com/dep2p/go-formnet/internal/core/relay/protocol"
	"github.com/dep2p/go-formnet/internal/core/relay/session"
	"github.com/dep2p/go-formnet/pkg/types"
)

func testSession() *session.Session {
	return &session.Session{
		ID:        types.SessionID(0xabcdef),
		Initiator: types.GeneratePeerKey(),
		Target:    types.GeneratePeerKey(),
	}
}

func newMockClock() *clock.Mock {
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return clk
}

// ============================================================================
//                              包认证
// ============================================================================

func TestAuthenticate(t *testing.T) {
	clk := newMockClock()
	a := NewPacketAuthenticator(config.DefaultPacketAuthConfig(), clk)
	s := testSession()
	now := uint64(clk.Now().UnixMilli())

	tests := []struct {
		name string
		hdr  protocol.PacketHeader
		want error
	}{
		{"to target", protocol.PacketHeader{DestPeerID: s.Target, SessionID: s.ID, Timestamp: now}, nil},
		{"to initiator", protocol.PacketHeader{DestPeerID: s.Initiator, SessionID: s.ID, Timestamp: now}, nil},
		{"wrong session", protocol.PacketHeader{DestPeerID: s.Target, SessionID: s.ID + 1, Timestamp: now}, ErrSessionMismatch},
		{"stranger", protocol.PacketHeader{DestPeerID: types.GeneratePeerKey(), SessionID: s.ID, Timestamp: now}, ErrUnknownDestination},
		{"at max age", protocol.PacketHeader{DestPeerID: s.Target, SessionID: s.ID, Timestamp: now - 30_000}, nil},
		{"too old", protocol.PacketHeader{DestPeerID: s.Target, SessionID: s.ID, Timestamp: now - 30_001}, ErrStaleTimestamp},
		{"at max skew", protocol.PacketHeader{DestPeerID: s.Target, SessionID: s.ID, Timestamp: now + 5_000}, nil},
		{"future", protocol.PacketHeader{DestPeerID: s.Target, SessionID: s.ID, Timestamp: now + 5_001}, ErrFutureTimestamp},
		{"zero timestamp", protocol.PacketHeader{DestPeerID: s.Target, SessionID: s.ID}, ErrStaleTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.Authenticate(tt.hdr, s)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrAuthentication)
		})
	}
}

func TestAuthenticate_SkewIsConfigurable(t *testing.T) {
	clk := newMockClock()
	cfg := config.PacketAuthConfig{MaxAge: config.Duration(time.Second), MaxFutureSkew: 0}
	a := NewPacketAuthenticator(cfg, clk)
	s := testSession()

	hdr := protocol.PacketHeader{DestPeerID: s.Target, SessionID: s.ID, Timestamp: uint64(clk.Now().Add(-2 * time.Second).UnixMilli())}
	assert.ErrorIs(t, a.Authenticate(hdr, s), ErrStaleTimestamp)

	hdr.Timestamp = uint64(clk.Now().Add(time.Millisecond).UnixMilli())
	assert.ErrorIs(t, a.Authenticate(hdr, s), ErrFutureTimestamp)
}

// ============================================================================
//                              会话令牌
// ============================================================================

func TestToken_VerifyAfterTimeMoves(t *testing.T) {
	clk := newMockClock()
	ti, err := NewRandomTokenIssuer(time.Hour, clk)
	require.NoError(t, err)
	s := testSession()

	tok := ti.Issue(s)
	assert.Equal(t, s.ID, tok.SessionID)

	// 签发时间固定在令牌中，之后任意时刻都能校验
	clk.Add(17*time.Minute + 333*time.Millisecond)
	assert.NoError(t, ti.Verify(tok, s))

	clk.Add(time.Hour)
	assert.ErrorIs(t, ti.Verify(tok, s), ErrTokenExpired)
}

func TestToken_Tampering(t *testing.T) {
	clk := newMockClock()
	ti, err := NewRandomTokenIssuer(time.Hour, clk)
	require.NoError(t, err)
	s := testSession()
	tok := ti.Issue(s)

	shifted := tok
	shifted.IssuedAt = tok.IssuedAt.Add(time.Millisecond)
	assert.ErrorIs(t, ti.Verify(shifted, s), ErrInvalidToken)

	flipped := tok
	flipped.MAC[0] ^= 1
	assert.ErrorIs(t, ti.Verify(flipped, s), ErrInvalidToken)

	other := *s
	other.Target = types.GeneratePeerKey()
	assert.ErrorIs(t, ti.Verify(tok, &other), ErrInvalidToken)

	moved := *s
	moved.ID++
	assert.ErrorIs(t, ti.Verify(tok, &moved), ErrSessionMismatch)
}

func TestToken_SecretBinds(t *testing.T) {
	clk := newMockClock()
	secret := bytes.Repeat([]byte{7}, SecretSize)
	a, err := NewTokenIssuer(secret, time.Hour, clk)
	require.NoError(t, err)
	b, err := NewTokenIssuer(secret, time.Hour, clk)
	require.NoError(t, err)
	c, err := NewRandomTokenIssuer(time.Hour, clk)
	require.NoError(t, err)
	s := testSession()

	tok := a.Issue(s)
	assert.NoError(t, b.Verify(tok, s), "same secret verifies")
	assert.ErrorIs(t, c.Verify(tok, s), ErrInvalidToken)

	_, err = NewTokenIssuer([]byte("short"), time.Hour, clk)
	assert.ErrorIs(t, err, ErrInvalidSecret)
}

func TestToken_Binary(t *testing.T) {
	clk := newMockClock()
	ti, err := NewRandomTokenIssuer(time.Hour, clk)
	require.NoError(t, err)
	s := testSession()
	tok := ti.Issue(s)

	data, err := tok.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, data, TokenSize)

	var decoded Token
	require.NoError(t, decoded.UnmarshalBinary(data))
	assert.Equal(t, tok.SessionID, decoded.SessionID)
	assert.True(t, tok.IssuedAt.Equal(decoded.IssuedAt))
	assert.NoError(t, ti.Verify(decoded, s))

	assert.ErrorIs(t, decoded.UnmarshalBinary(data[:TokenSize-1]), ErrInvalidToken)
}
