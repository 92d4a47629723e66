// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME and ARENA_CONFIG at a temp dir and clears env overrides.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("USERPROFILE", dir)
	t.Setenv("ARENA_CONFIG", "")
	for _, k := range []string{"ARENA_API_KEY", "OPENAI_API_KEY", "ARENA_BASE_URL", "ARENA_FLUSH_MS", "ARENA_PORT", "ARENA_LOG_LEVEL", "ARENA_AUTH_TOKEN"} {
		t.Setenv(k, "")
	}
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

// TestConfig_ConcurrentAccess tests that Global(), SetGlobal(), and ReloadGlobal()
// can be safely called concurrently without race conditions.
// Run with: go test -race -v ./internal/config/
func TestConfig_ConcurrentAccess(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()

	var wg sync.WaitGroup

	// 50 writers using SetGlobal, 50 readers using Global
	for i := 0; i < 50; i++ {
		wg.Add(2)

		go func() {
			defer wg.Done()
			c := Default()
			c.Version = "test"
			SetGlobal(c)
		}()

		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}

	wg.Wait()
}

// TestConfig_ConcurrentReload tests concurrent ReloadGlobal and Global calls.
func TestConfig_ConcurrentReload(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()
	_ = Global()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ReloadGlobal()
		}()
	}
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

func TestConfig_SetGlobalOverwrites(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()
	_ = Global()

	custom := Default()
	custom.Version = "custom-version"
	SetGlobal(custom)

	assert.Equal(t, "custom-version", Global().Version)
}

func TestConfig_SetGlobalBeforeFirstAccess(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()

	custom := Default()
	custom.UI.Theme = "light"
	SetGlobal(custom)

	assert.Equal(t, "light", Global().UI.Theme)
}

func TestConfig_Default(t *testing.T) {
	isolate(t)
	cfg := Default()

	assert.Equal(t, "https://api.cerebras.ai/v1", cfg.API.BaseURL)
	assert.Equal(t, 50*time.Millisecond, cfg.FlushInterval())
	assert.Equal(t, 1<<20, cfg.Stream.MaxFrameBytes)
	assert.Equal(t, 60*time.Second, cfg.RequestTimeout())
	assert.Equal(t, "127.0.0.1:8790", cfg.ListenAddr())
	assert.True(t, cfg.Storage.Enabled)
	assert.Equal(t, 750*time.Millisecond, cfg.AutosaveDebounce())
	assert.True(t, strings.HasSuffix(cfg.Storage.Path, filepath.Join(".llm-arena", "workspace.db")))
	assert.False(t, cfg.API.ExtendedSampling)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad base url", func(c *Config) { c.API.BaseURL = "not a url" }, "api.base_url"},
		{"ftp scheme", func(c *Config) { c.API.BaseURL = "ftp://example.com" }, "api.base_url"},
		{"timeout too large", func(c *Config) { c.API.RequestTimeoutSecs = 10000 }, "api.request_timeout_secs"},
		{"flush too fast", func(c *Config) { c.Stream.FlushIntervalMs = 1 }, "stream.flush_interval_ms"},
		{"frame too small", func(c *Config) { c.Stream.MaxFrameBytes = 10 }, "stream.max_frame_bytes"},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"zero rate", func(c *Config) { c.Server.RateLimitPerSec = 0 }, "server.rate_limit_per_sec"},
		{"bad origin", func(c *Config) { c.Server.AllowedOrigins = []string{"example.com"} }, "server.allowed_origins"},
		{"storage without path", func(c *Config) { c.Storage.Path = " " }, "storage.path"},
		{"theme", func(c *Config) { c.UI.Theme = "neon" }, "ui.theme"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)

			var verrs ValidateErrors
			require.True(t, errors.As(err, &verrs))
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.field, verrs[0].Field)
		})
	}
}

func TestConfig_ValidateCollectsAll(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	cfg.UI.Theme = "x"
	cfg.Log.Level = "x"

	var verrs ValidateErrors
	require.True(t, errors.As(cfg.Validate(), &verrs))
	assert.Len(t, verrs, 3)
	assert.Contains(t, verrs.Error(), "server.port")
	assert.Contains(t, verrs.Error(), "; ")
}

func TestConfig_AllowedOriginsWildcard(t *testing.T) {
	cfg := Default()
	cfg.Server.AllowedOrigins = []string{"*", "http://localhost:5173"}
	assert.NoError(t, cfg.Validate())
}

func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	val, err := cfg.Get("stream.flush_interval_ms")
	require.NoError(t, err)
	assert.Equal(t, 50, val)

	require.NoError(t, cfg.Set("server.port", "9000"))
	assert.Equal(t, 9000, cfg.Server.Port)

	require.NoError(t, cfg.Set("api.base_url", "https://api.example.com/v1"))
	assert.Equal(t, "https://api.example.com/v1", cfg.API.BaseURL)

	require.NoError(t, cfg.Set("api.extended_sampling", "yes"))
	assert.True(t, cfg.API.ExtendedSampling)

	require.NoError(t, cfg.Set("server.rate_limit_per_sec", "2.5"))
	assert.Equal(t, 2.5, cfg.Server.RateLimitPerSec)

	require.NoError(t, cfg.Set("server.allowed_origins", "http://a.test, http://b.test"))
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowedOrigins)

	require.NoError(t, cfg.Set("server.rate_burst", 12))
	assert.Equal(t, 12, cfg.Server.RateBurst)

	_, err = cfg.Get("invalid.key")
	assert.Error(t, err)
	_, err = cfg.Get("")
	assert.Error(t, err)
	assert.Error(t, cfg.Set("server.port", "eighty"))
	assert.Error(t, cfg.Set("server.port.x", "1"))
}

func TestConfig_AllKeysResolve(t *testing.T) {
	cfg := Default()
	for _, key := range GetAllKeys() {
		_, err := cfg.Get(key)
		assert.NoError(t, err, key)
	}
	assert.True(t, IsSecretKey("api.api_key"))
	assert.True(t, IsSecretKey("server.auth_token"))
	assert.False(t, IsSecretKey("api.base_url"))
}

func TestConfig_Clone(t *testing.T) {
	original := Default()
	original.Server.AllowedOrigins = []string{"http://a.test"}

	clone := original.Clone()
	clone.Version = "cloned"
	clone.Server.AllowedOrigins[0] = "http://b.test"

	assert.Equal(t, CurrentVersion, original.Version)
	assert.Equal(t, "http://a.test", original.Server.AllowedOrigins[0])
}

func TestConfig_StringRedactsKey(t *testing.T) {
	cfg := Default()
	cfg.API.APIKey = "sk-very-secret"
	cfg.Server.AuthToken = "bearer-secret"

	out := cfg.String()
	assert.NotContains(t, out, "sk-very-secret")
	assert.NotContains(t, out, "bearer-secret")
	assert.Contains(t, out, "[REDACTED]")
	assert.Equal(t, "sk-very-secret", cfg.API.APIKey)
}

func TestConfig_Credentials(t *testing.T) {
	cfg := Default()
	cfg.API.APIKey = "k"
	creds := cfg.Credentials()
	assert.True(t, creds.Configured())
	assert.Equal(t, cfg.API.BaseURL+"/models", creds.Endpoint("/models"))
}

func TestConfig_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("ARENA_API_KEY", "env-key")
	t.Setenv("ARENA_BASE_URL", "https://llm.example.com/v1")
	t.Setenv("ARENA_FLUSH_MS", "80")
	t.Setenv("ARENA_PORT", "9100")
	t.Setenv("ARENA_LOG_LEVEL", "debug")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "env-key", cfg.API.APIKey)
	assert.Equal(t, "https://llm.example.com/v1", cfg.API.BaseURL)
	assert.Equal(t, 80, cfg.Stream.FlushIntervalMs)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestConfig_OpenAIKeyFallback(t *testing.T) {
	isolate(t)
	t.Setenv("OPENAI_API_KEY", "openai-key")

	cfg := Default()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, "openai-key", cfg.API.APIKey)

	cfg.API.APIKey = "file-key"
	cfg.ApplyEnvOverrides()
	assert.Equal(t, "file-key", cfg.API.APIKey, "file key wins over the fallback")
}

func TestConfig_LoadDefaultsWhenNoFile(t *testing.T) {
	isolate(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
}

func TestConfig_LoadTOMLPartial(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, ".llm-arena", "config.toml")
	writeFile(t, path, `
[api]
api_key = "toml-key"
base_url = "https://api.example.com/v1/"

[stream]
flush_interval_ms = 100
`)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "toml-key", cfg.API.APIKey)
	assert.Equal(t, "https://api.example.com/v1", cfg.API.BaseURL, "trailing slash trimmed")
	assert.Equal(t, 100, cfg.Stream.FlushIntervalMs)
	assert.Equal(t, DefaultPort, cfg.Server.Port, "unset sections keep defaults")
	assert.True(t, cfg.UI.RenderMarkdown)
}

func TestConfig_LoadJSONAndYAMLFallbacks(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ".llm-arena")

	writeFile(t, filepath.Join(dir, "config.yaml"), "server:\n  port: 9300\n")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9300, cfg.Server.Port)

	writeFile(t, filepath.Join(dir, "config.json"), `{"server":{"port":9200}}`)
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port, "JSON is preferred over YAML")
}

func TestConfig_LoadInvalidFileReportsValidation(t *testing.T) {
	home := isolate(t)
	writeFile(t, filepath.Join(home, ".llm-arena", "config.toml"), "[server]\nport = 70000\n")

	_, err := Load()
	require.Error(t, err)
	var verrs ValidateErrors
	assert.True(t, errors.As(err, &verrs))
}

func TestConfig_LoadUnparsableFallsBackToDefaults(t *testing.T) {
	home := isolate(t)
	writeFile(t, filepath.Join(home, ".llm-arena", "config.toml"), "this is = = not toml")

	cfg, err := Load()
	require.Error(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
}

func TestConfig_ArenaConfigPath(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "custom", "arena.toml")
	writeFile(t, path, "[ui]\ntheme = \"light\"\n")
	t.Setenv("ARENA_CONFIG", path)

	got, err := ConfigPathTOML()
	require.NoError(t, err)
	assert.Equal(t, path, got)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "light", cfg.UI.Theme)
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, ".llm-arena", "config.toml")

	cfg := Default()
	cfg.API.APIKey = "saved-key"
	cfg.Server.AllowedOrigins = []string{"http://localhost:5173"}
	require.NoError(t, SaveTOML(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "saved-key", loaded.API.APIKey)
	assert.Equal(t, []string{"http://localhost:5173"}, loaded.Server.AllowedOrigins)

	jsonPath := filepath.Join(home, ".llm-arena", "config.json")
	require.NoError(t, SaveJSON(cfg, jsonPath))
	loaded, err = LoadFromPath(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "saved-key", loaded.API.APIKey)
}

func TestConfig_LoadFixesPermissions(t *testing.T) {
	if os.PathSeparator != '/' {
		t.Skip("permission bits are not meaningful on this platform")
	}
	home := isolate(t)
	path := filepath.Join(home, ".llm-arena", "config.toml")
	writeFile(t, path, "[ui]\ntheme = \"dark\"\n")
	require.NoError(t, os.Chmod(path, 0644))

	_, err := LoadFromPath(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestConfig_LoadForEditIgnoresEnv(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, ".llm-arena", "config.toml")
	writeFile(t, path, "[server]\nport = 9100\n")
	t.Setenv("ARENA_API_KEY", "from-env")

	cfg, err := LoadForEdit(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Empty(t, cfg.API.APIKey)

	require.NoError(t, cfg.Set("ui.theme", "light"))
	require.NoError(t, SaveToPath(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "from-env")
}

func TestConfig_LoadForEditMissingFile(t *testing.T) {
	dir := isolate(t)
	cfg, err := LoadForEdit(filepath.Join(dir, "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Port, cfg.Server.Port)
}

func TestConfig_SaveToPathYAML(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "arena.yaml")

	cfg := Default()
	cfg.UI.SyncMode = true
	require.NoError(t, SaveToPath(cfg, path))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.True(t, loaded.UI.SyncMode)
}

func TestConfig_ActivePath(t *testing.T) {
	dir := isolate(t)

	path, err := ActivePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".llm-arena", "config.toml"), path)

	jsonPath := filepath.Join(dir, ".llm-arena", "config.json")
	writeFile(t, jsonPath, "{}")
	path, err = ActivePath()
	require.NoError(t, err)
	assert.Equal(t, jsonPath, path)
}

func TestConfig_LogFileUnsetByDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	assert.Empty(t, Default().Log.File)

	dir, err := ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "arena.log"), DefaultLogFile())
}
