package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-formnet/config"
	"github.com/dep2p/go-formnet/internal/core/storage/engine"
)

func TestConfigFromUnified(t *testing.T) {
	assert.True(t, ConfigFromUnified(nil).InMemory)
	assert.True(t, ConfigFromUnified(config.DefaultConfig()).InMemory)

	cfg := config.DefaultConfig()
	cfg.Discovery.RegistryPath = "/var/lib/formnet/registry"
	ec := ConfigFromUnified(cfg)
	assert.False(t, ec.InMemory)
	assert.Equal(t, "/var/lib/formnet/registry", ec.Path)
}

func TestModule_Persistent(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Discovery.RegistryPath = filepath.Join(t.TempDir(), "registry")

	var eng engine.Engine
	app := fxtest.New(t,
		fx.Supply(cfg),
		Module(),
		fx.Populate(&eng),
	)
	app.RequireStart()
	require.NoError(t, eng.Put([]byte("k"), []byte("v")))
	app.RequireStop()

	_, err := eng.Get([]byte("k"))
	assert.ErrorIs(t, err, engine.ErrClosed)
}
