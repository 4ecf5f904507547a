package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/Makepad-fr/tada/internal/config"
)

func load(t *testing.T, dir string) (config.Config, error) {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	v.Set("data_dir", dir)
	return config.Load(v)
}

func TestDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := load(t, dir)
	require.NoError(t, err)
	require.Equal(t, config.BackendLocal, cfg.Backend)
	require.Equal(t, "todos", cfg.Collection)
	require.Equal(t, config.KVJSON, cfg.KV)
	require.Equal(t, filepath.Join(dir, "server.db"), cfg.Server.DB)
}

func TestEnvironment(t *testing.T) {
	t.Setenv("TADA_BACKEND", "remote")
	t.Setenv("TADA_REMOTE_URL", "https://todo.example.com")
	t.Setenv("TADA_REMOTE_ANON_KEY", "anon")

	cfg, err := load(t, t.TempDir())
	require.NoError(t, err)
	require.Equal(t, config.BackendRemote, cfg.Backend)
	require.Equal(t, "https://todo.example.com", cfg.Remote.URL)
	require.Equal(t, "anon", cfg.Remote.AnonKey)
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("kv: bolt\ntheme: neon\nlog:\n  level: debug\n"), 0o600))

	cfg, err := load(t, dir)
	require.NoError(t, err)
	require.Equal(t, config.KVBolt, cfg.KV)
	require.Equal(t, "neon", cfg.Theme)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	t.Setenv("TADA_BACKEND", "remote")
	_, err := load(t, t.TempDir())
	require.True(t, config.Error.Has(err), err)

	t.Setenv("TADA_BACKEND", "carrier-pigeon")
	_, err = load(t, t.TempDir())
	require.True(t, config.Error.Has(err), err)
}
