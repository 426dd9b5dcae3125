package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketcore/aggregator/internal/domain"
)

func TestKeyRegistryLoadsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.env")
	require.NoError(t, os.WriteFile(path, []byte("COINGECKO_API_KEY=CG-abc123\n"), 0o600))

	reg, err := NewKeyRegistry(path, DefaultValidators())
	require.NoError(t, err)

	cfg, ok := reg.Get("coingecko")
	require.True(t, ok)
	assert.Equal(t, "CG-abc123", cfg.Key)
}

func TestKeyRegistryRejectsInvalidFormatOnInitialLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.env")
	require.NoError(t, os.WriteFile(path, []byte("COINGECKO_API_KEY=not-a-valid-key\n"), 0o600))

	_, err := NewKeyRegistry(path, DefaultValidators())
	require.Error(t, err)
	assert.Equal(t, domain.ErrAuthInvalid, domain.KindOf(err))
}

func TestKeyRegistryHotReloadDropsInvalidKeyWithoutError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.env")
	require.NoError(t, os.WriteFile(path, []byte("COINGECKO_API_KEY=CG-initial\n"), 0o600))

	reg, err := NewKeyRegistry(path, DefaultValidators())
	require.NoError(t, err)

	// A hot reload with a malformed key must not fail the process or wipe
	// the registry: it logs and the provider's entry drops out, but a
	// concurrent reload attempt never returns an error to the caller.
	require.NoError(t, os.WriteFile(path, []byte("COINGECKO_API_KEY=not-a-valid-key\n"), 0o600))
	require.NoError(t, reg.reload(false))

	_, ok := reg.Get("coingecko")
	assert.False(t, ok)
}

func TestKeyRegistryEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.env")
	require.NoError(t, os.WriteFile(path, []byte("COINGECKO_API_KEY=CG-fromfile\n"), 0o600))

	t.Setenv("COINGECKO_API_KEY", "CG-fromenv")

	reg, err := NewKeyRegistry(path, DefaultValidators())
	require.NoError(t, err)

	cfg, ok := reg.Get("coingecko")
	require.True(t, ok)
	assert.Equal(t, "CG-fromenv", cfg.Key)
}

func TestKeyRegistryHotReloadOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.env")
	require.NoError(t, os.WriteFile(path, []byte("COINGECKO_API_KEY=CG-initial\n"), 0o600))

	reg, err := NewKeyRegistry(path, DefaultValidators())
	require.NoError(t, err)
	require.NoError(t, reg.WatchFile())
	defer reg.Close()

	require.NoError(t, os.WriteFile(path, []byte("COINGECKO_API_KEY=CG-updated\n"), 0o600))

	require.Eventually(t, func() bool {
		cfg, ok := reg.Get("coingecko")
		return ok && cfg.Key == "CG-updated"
	}, 2*time.Second, 20*time.Millisecond)
}
