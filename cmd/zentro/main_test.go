package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thezentroai/Zentro-AI/internal/config"
)

func resetFlags(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, env := range []string{"ZENTRO_BACKEND", "ZENTRO_MODEL", "ZENTRO_BASE_URL", "ZENTRO_LOG_DIR", "ZENTRO_DEBUG"} {
		t.Setenv(env, "")
	}
	configPath, backendName, modelName, debug, addr = "", "", "", false, ""
	t.Cleanup(func() {
		configPath, backendName, modelName, debug, addr = "", "", "", false, ""
	})
}

func TestLoadConfig_Defaults(t *testing.T) {
	resetFlags(t)

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, config.BackendGemini, cfg.Backend)
	assert.Equal(t, "gemini-2.5-flash", cfg.Model)
	assert.Equal(t, ":8080", cfg.Web.Addr)
	assert.False(t, cfg.Debug)
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	resetFlags(t)

	path := filepath.Join(t.TempDir(), "zentro.toml")
	require.NoError(t, os.WriteFile(path, []byte("backend = \"gemini\"\nmodel = \"gemini-2.5-pro\"\n"), 0644))

	configPath = path
	backendName = config.BackendOpenAI
	debug = true
	addr = "127.0.0.1:9090"

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, config.BackendOpenAI, cfg.Backend)
	assert.Equal(t, "gpt-4o-mini", cfg.Model, "switching backend resets the model")
	assert.True(t, cfg.Debug)
	assert.Equal(t, "127.0.0.1:9090", cfg.Web.Addr)
}

func TestLoadConfig_RejectsUnknownBackend(t *testing.T) {
	resetFlags(t)

	backendName = "ollama"
	_, err := loadConfig()
	assert.Error(t, err)
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["repl"])
	assert.True(t, names["serve"])
	assert.NotNil(t, serveCmd.Flags().Lookup("addr"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("backend"))
}
