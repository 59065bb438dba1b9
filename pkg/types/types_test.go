package types

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerKey_ParseAndString(t *testing.T) {
	k := GeneratePeerKey()
	require.False(t, k.IsZero())

	parsed, err := ParsePeerKey(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, parsed)
	assert.Len(t, k.ShortString(), 8)
	assert.True(t, strings.HasPrefix(k.String(), k.ShortString()))
}

func TestPeerKey_ParseInvalid(t *testing.T) {
	_, err := ParsePeerKey("abc")
	assert.ErrorIs(t, err, ErrInvalidPeerKey)

	_, err = ParsePeerKey(strings.Repeat("zz", PeerKeySize))
	assert.ErrorIs(t, err, ErrInvalidPeerKey)

	_, err = PeerKeyFromBytes(make([]byte, 31))
	assert.ErrorIs(t, err, ErrInvalidPeerKey)
}

func TestPeerKey_JSON(t *testing.T) {
	info := RelayNodeInfo{
		PublicKey:    GeneratePeerKey(),
		Endpoints:    []string{"203.0.113.5:51820"},
		Capabilities: CapIPv4 | CapHighBandwidth,
	}
	data, err := json.Marshal(info)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"pubkey":"`+info.PublicKey.String()+`"`)

	var back RelayNodeInfo
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, info, back)
}

func TestCapabilities(t *testing.T) {
	c := CapIPv4 | CapLowLatency
	assert.True(t, c.Satisfies(CapIPv4))
	assert.True(t, c.Satisfies(0))
	assert.False(t, c.Satisfies(CapIPv4|CapIPv6))

	assert.Equal(t, "ipv4|low-latency", c.String())
	assert.Equal(t, "none", Capabilities(0).String())
	assert.Equal(t, "ipv6|unknown", (CapIPv6 | 1<<10).String())
}

func TestSessionID_String(t *testing.T) {
	assert.Equal(t, "00000000000000ff", SessionID(255).String())
}
