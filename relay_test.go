package formnet

import (
	"context"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-formnet/config"
	"github.com/dep2p/go-formnet/internal/core/relay/protocol"
	"github.com/dep2p/go-formnet/pkg/types"
)

func loopbackOptions(extra ...Option) []Option {
	return append([]Option{
		WithListenAddr("127.0.0.1:0"),
		WithMetrics(false, ""),
	}, extra...)
}

func TestStart_ServesConnectionRequests(t *testing.T) {
	r, err := Start(context.Background(), loopbackOptions(WithMetrics(true, "127.0.0.1:0"))...)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, StateRunning, r.State())
	require.True(t, r.Addr().IsValid())

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	req, err := protocol.Encode(&protocol.ConnectionRequest{
		PeerKey:   types.GeneratePeerKey(),
		TargetKey: types.GeneratePeerKey(),
		Nonce:     11,
	})
	require.NoError(t, err)
	_, err = conn.WriteToUDPAddrPort(req, r.Addr())
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1500)
	n, _, err := conn.ReadFromUDPAddrPort(buf)
	require.NoError(t, err)

	var resp protocol.ConnectionResponse
	require.NoError(t, resp.UnmarshalBinary(buf[:n]))
	assert.Equal(t, protocol.StatusSuccess, resp.Status)
	assert.EqualValues(t, 1, r.Stats().SuccessfulConnections)

	// 指标通过 HTTP 导出
	require.NotEmpty(t, r.MetricsAddr())
	httpResp, err := http.Get("http://" + r.MetricsAddr() + "/metrics")
	require.NoError(t, err)
	defer httpResp.Body.Close()
	body, err := io.ReadAll(httpResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "formnet_relay_successful_connections_total 1")
	assert.Contains(t, string(body), "formnet_relay_active_sessions 1")

	require.NoError(t, r.Close())
	assert.Equal(t, StateClosed, r.State())
	assert.ErrorIs(t, r.Start(context.Background()), ErrRelayClosed)
}

func TestStart_AlreadyStarted(t *testing.T) {
	r, err := Start(context.Background(), loopbackOptions()...)
	require.NoError(t, err)
	defer r.Close()

	assert.ErrorIs(t, r.Start(context.Background()), ErrAlreadyStarted)
	assert.Empty(t, r.MetricsAddr())
}

func TestNew_ConfigFileWithOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.json")
	cfg := config.DefaultConfig()
	cfg.PublicKey = types.GeneratePeerKey()
	cfg.Region = "eu-west"
	require.NoError(t, cfg.Save(path))

	r, err := New(append(loopbackOptions(), WithConfigFile(path), WithRegion("us-east"))...)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, cfg.PublicKey, r.Config().PublicKey)
	assert.Equal(t, "us-east", r.Config().Region)
	assert.Equal(t, "127.0.0.1:0", r.Config().ListenAddr)
	assert.Equal(t, StateIdle, r.State())
}

func TestNew_GeneratesEphemeralKey(t *testing.T) {
	r, err := New(loopbackOptions()...)
	require.NoError(t, err)
	defer r.Close()

	assert.False(t, r.Config().PublicKey.IsZero())
}

func TestNew_InvalidOverride(t *testing.T) {
	_, err := New(WithListenAddr("not an address"))
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = New(WithPublicKey(types.ZeroPeerKey))
	assert.ErrorIs(t, err, types.ErrInvalidPeerKey)

	_, err = New(WithConfigFile(filepath.Join(t.TempDir(), "missing.json")))
	assert.ErrorIs(t, err, config.ErrConfigNotFound)
}

func TestStart_WithBootstrapRelays(t *testing.T) {
	r, err := Start(context.Background(), loopbackOptions(
		WithBootstrapRelays("127.0.0.1:9"),
	)...)
	require.NoError(t, err)
	defer r.Close()

	assert.True(t, r.Config().Discovery.Enabled)
	assert.True(t, r.Node().DiscoveryEnabled())
}

func TestVersionInfo(t *testing.T) {
	assert.Contains(t, VersionInfo(), Version)
}
