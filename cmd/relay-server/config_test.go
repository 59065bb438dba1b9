package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	formnet "github.com/dep2p/go-formnet"
	"github.com/dep2p/go-formnet/pkg/types"
)

func TestEnvOptions(t *testing.T) {
	pk := types.GeneratePeerKey()
	t.Setenv("FORMNET_LISTEN_ADDR", "127.0.0.1:0")
	t.Setenv("FORMNET_REGION", " ap-south ")
	t.Setenv("FORMNET_PUBLIC_KEY", pk.String())
	t.Setenv("FORMNET_ENDPOINTS", "203.0.113.1:51820, 203.0.113.2:51820")
	t.Setenv("FORMNET_BOOTSTRAP_RELAYS", "198.51.100.9:51820,")
	t.Setenv("FORMNET_METRICS_ADDR", "127.0.0.1:0")

	opts, err := envOptions()
	require.NoError(t, err)

	r, err := formnet.New(opts...)
	require.NoError(t, err)
	defer r.Close()

	cfg := r.Config()
	assert.Equal(t, "127.0.0.1:0", cfg.ListenAddr)
	assert.Equal(t, "ap-south", cfg.Region)
	assert.Equal(t, pk, cfg.PublicKey)
	assert.Equal(t, []string{"203.0.113.1:51820", "203.0.113.2:51820"}, cfg.Endpoints)
	assert.True(t, cfg.Discovery.Enabled)
	assert.Equal(t, []string{"198.51.100.9:51820"}, cfg.Discovery.BootstrapRelays)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:0", cfg.Metrics.ListenAddr)
}

func TestEnvOptions_InvalidPublicKey(t *testing.T) {
	t.Setenv("FORMNET_PUBLIC_KEY", "zz")

	_, err := envOptions()
	assert.ErrorIs(t, err, types.ErrInvalidPeerKey)
}

func TestSplitAndTrim(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitAndTrim(" a ,, b ,", ","))
	assert.Empty(t, splitAndTrim("", ","))
}
