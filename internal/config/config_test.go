package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoEnvOrFile(t *testing.T) {
	clearSSHEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "medium", cfg.PermissibilityLevel)
	assert.Equal(t, 131072, cfg.MaxOutputBytes)
	assert.Equal(t, 5, cfg.MaxSessions)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	clearSSHEnv(t)
	t.Setenv("MCP_SSH_PERMISSIBILITY_LEVEL", "high")
	t.Setenv("MCP_SSH_MAX_SESSIONS", "9")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "high", cfg.PermissibilityLevel)
	assert.Equal(t, 9, cfg.MaxSessions)
}

func TestLoadYAMLOverridesEnv(t *testing.T) {
	clearSSHEnv(t)
	t.Setenv("MCP_SSH_PERMISSIBILITY_LEVEL", "high")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("permissibility_level: low\nmax_sessions: 3\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "low", cfg.PermissibilityLevel, "YAML must win over env")
	assert.Equal(t, 3, cfg.MaxSessions)
}

func TestLoadMissingYAMLFileIsNotAnError(t *testing.T) {
	clearSSHEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "medium", cfg.PermissibilityLevel)
}

func TestResolveSudoSecretFallbackChain(t *testing.T) {
	cfg := Config{SudoPassword: "cfg-secret", FallbackPassword: "fallback-secret"}

	v, ok := cfg.ResolveSudoSecret("per-call-secret")
	require.True(t, ok)
	assert.Equal(t, "per-call-secret", v.Plain())

	v, ok = cfg.ResolveSudoSecret("")
	require.True(t, ok)
	assert.Equal(t, "cfg-secret", v.Plain())

	cfg.SudoPassword = ""
	v, ok = cfg.ResolveSudoSecret("")
	require.True(t, ok)
	assert.Equal(t, "fallback-secret", v.Plain())

	cfg.FallbackPassword = ""
	_, ok = cfg.ResolveSudoSecret("")
	assert.False(t, ok)
}

func TestSecretStringNeverLeaksPlaintext(t *testing.T) {
	s := Secret("super-secret")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "super-secret", s.Plain())
	assert.Equal(t, "", Secret("").String())
}

func TestPathAllowed(t *testing.T) {
	cfg := Config{AllowedPathPrefixes: []string{"/tmp", "/var/log"}}
	assert.True(t, cfg.PathAllowed("/tmp/foo.txt"))
	assert.True(t, cfg.PathAllowed("/var/log/app/out.log"))
	assert.False(t, cfg.PathAllowed("/etc/passwd"))
	assert.False(t, cfg.PathAllowed("/tmpfoo"))
}

func clearSSHEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MCP_SSH_PERMISSIBILITY_LEVEL", "MCP_SSH_MAX_OUTPUT_BYTES", "MCP_SSH_MAX_OUTPUT_LINES",
		"MCP_SSH_COMMAND_TIMEOUT", "MCP_SSH_CONNECT_TIMEOUT", "MCP_SSH_KEEPALIVE",
		"MCP_SSH_MAX_SESSIONS", "MCP_SSH_IDLE_TTL", "MCP_SSH_RATE_LIMIT_PER_MINUTE",
		"MCP_SSH_ALLOWED_PATHS", "MCP_SSH_PASSWORD", "MCP_SUDO_PASSWORD", "MCP_FALLBACK_PASSWORD",
		"MCP_SSH_INTERACTIVE", "MCP_SSH_ALLOW_HOST_KEY_TOFU", "DEBUG", "LOG_LEVEL",
		"MCP_SSH_AUDIT_DB", "MCP_SSH_AUDIT_CAPTURE_OUTPUT", "MCP_SSH_NATS_URL", "MCP_SSH_NATS_SUBJECT_PREFIX",
	} {
		t.Setenv(k, "")
	}
}
