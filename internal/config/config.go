// Package config loads the static policy and resource limits described in
// spec.md §4.A: environment variables as the base layer, an optional YAML
// file overlaid on top, both immutable once loaded. It follows the
// precedence and load shape of the teacher's internal/cli/config package.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nullstream/sshmcp/internal/errs"
)

// Secret is a memory-resident credential. Its String method always
// redacts, so an accidental fmt.Sprintf("%v", cfg) or %+v never leaks a
// password into a log line.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// Plain returns the underlying secret value. Callers must not log or
// otherwise persist the result.
func (s Secret) Plain() string { return string(s) }

// Server is one entry of the optional pre-configured host book (supplement
// #5 in SPEC_FULL.md), grounded on acolita-claude-shell-mcp's
// shell_server_list / shell_server_test tools.
type Server struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	KeyPath  string `yaml:"key_path"`
	HasSudo  bool   `yaml:"-"`
	sudoPass Secret
}

// SudoPassword returns the per-server sudo password, if configured.
func (s Server) SudoPassword() Secret { return s.sudoPass }

// Config is the immutable snapshot handed to every other component. It is
// constructed once at startup by Load and never mutated afterwards.
type Config struct {
	PermissibilityLevel string

	MaxOutputBytes    int
	MaxOutputLines    int
	CommandTimeout    time.Duration
	ConnectTimeout    time.Duration
	KeepaliveInterval time.Duration
	MaxSessions       int
	IdleTTL           time.Duration
	RateLimitPerMin   int

	PromptWindowBytes int
	PendingPromptTTL  time.Duration

	AllowedPathPrefixes []string

	SSHPassword      Secret
	SudoPassword     Secret
	FallbackPassword Secret

	InteractiveEnabled bool
	AllowHostKeyTOFU   bool // accept-and-remember unknown host keys (never MITM-silent)

	Debug    bool
	LogLevel string

	Servers map[string]Server

	AuditDBPath        string
	AuditCaptureOutput bool
	NATSURL            string
	NATSSubjectPrefix  string
}

// yamlOverlay mirrors the subset of Config keys an operator may override
// from a YAML file. YAML values take precedence over environment values
// for the same key, per spec.md §4.A.
type yamlOverlay struct {
	PermissibilityLevel string   `yaml:"permissibility_level"`
	MaxOutputBytes      int      `yaml:"max_output_bytes"`
	MaxOutputLines      int      `yaml:"max_output_lines"`
	CommandTimeoutSec   int      `yaml:"command_timeout_seconds"`
	ConnectTimeoutSec   int      `yaml:"connect_timeout_seconds"`
	KeepaliveSec        int      `yaml:"keepalive_seconds"`
	MaxSessions         int      `yaml:"max_sessions"`
	IdleTTLSec          int      `yaml:"idle_ttl_seconds"`
	RateLimitPerMinute  int      `yaml:"rate_limit_per_minute"`
	AllowedPaths        []string `yaml:"allowed_path_prefixes"`
	Interactive         *bool    `yaml:"interactive_enabled"`
	AllowHostKeyTOFU    *bool    `yaml:"allow_host_key_tofu"`
	Debug               *bool    `yaml:"debug"`
	LogLevel            string   `yaml:"log_level"`
	AuditDBPath         string   `yaml:"audit_db_path"`
	AuditCaptureOutput  *bool    `yaml:"audit_capture_output"`
	NATSURL             string   `yaml:"nats_url"`
	NATSSubjectPrefix   string   `yaml:"nats_subject_prefix"`

	Servers []struct {
		Name         string `yaml:"name"`
		Host         string `yaml:"host"`
		Port         int    `yaml:"port"`
		User         string `yaml:"user"`
		KeyPath      string `yaml:"key_path"`
		SudoPassword string `yaml:"sudo_password"`
	} `yaml:"servers"`
}

// defaults implements spec.md §4.A's documented defaults. The 5-session /
// 60s idle TTL pairing is chosen over the alternative 8h "large deployment"
// figure spec.md leaves open — see DESIGN.md.
func defaults() Config {
	home, _ := os.UserHomeDir()
	prefixes := []string{"/var/log", "/tmp", "/opt"}
	if home != "" {
		prefixes = append([]string{home}, prefixes...)
	}
	return Config{
		PermissibilityLevel: "medium",
		MaxOutputBytes:      131072,
		MaxOutputLines:      1000,
		CommandTimeout:      30 * time.Second,
		ConnectTimeout:      30 * time.Second,
		KeepaliveInterval:   30 * time.Second,
		MaxSessions:         5,
		IdleTTL:             60 * time.Second,
		RateLimitPerMin:     60,
		PromptWindowBytes:   4096,
		PendingPromptTTL:    60 * time.Second,
		AllowedPathPrefixes: prefixes,
		InteractiveEnabled:  false,
		LogLevel:            "INFO",
		Servers:             map[string]Server{},
	}
}

// Load builds a Config from the environment, then overlays yamlPath if it
// exists. A missing YAML file is not an error — it simply means the
// environment layer is authoritative.
func Load(yamlPath string) (Config, error) {
	cfg := defaults()
	applyEnv(&cfg)

	if strings.TrimSpace(yamlPath) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(yamlPath)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, errs.Wrap(errs.KindConfigError, err, "read config file")
	}

	var overlay yamlOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return Config{}, errs.Wrap(errs.KindConfigError, err, "parse config file")
	}
	applyYAML(&cfg, overlay)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("MCP_SSH_PERMISSIBILITY_LEVEL"); v != "" {
		cfg.PermissibilityLevel = v
	}
	if v, ok := envInt("MCP_SSH_MAX_OUTPUT_BYTES"); ok {
		cfg.MaxOutputBytes = v
	}
	if v, ok := envInt("MCP_SSH_MAX_OUTPUT_LINES"); ok {
		cfg.MaxOutputLines = v
	}
	if v, ok := envDuration("MCP_SSH_COMMAND_TIMEOUT"); ok {
		cfg.CommandTimeout = v
	}
	if v, ok := envDuration("MCP_SSH_CONNECT_TIMEOUT"); ok {
		cfg.ConnectTimeout = v
	}
	if v, ok := envDuration("MCP_SSH_KEEPALIVE"); ok {
		cfg.KeepaliveInterval = v
	}
	if v, ok := envInt("MCP_SSH_MAX_SESSIONS"); ok {
		cfg.MaxSessions = v
	}
	if v, ok := envDuration("MCP_SSH_IDLE_TTL"); ok {
		cfg.IdleTTL = v
	}
	if v, ok := envInt("MCP_SSH_RATE_LIMIT_PER_MINUTE"); ok {
		cfg.RateLimitPerMin = v
	}
	if v := os.Getenv("MCP_SSH_ALLOWED_PATHS"); v != "" {
		cfg.AllowedPathPrefixes = strings.Split(v, ":")
	}
	cfg.SSHPassword = Secret(os.Getenv("MCP_SSH_PASSWORD"))
	cfg.SudoPassword = Secret(os.Getenv("MCP_SUDO_PASSWORD"))
	cfg.FallbackPassword = Secret(os.Getenv("MCP_FALLBACK_PASSWORD"))
	if v := os.Getenv("MCP_SSH_INTERACTIVE"); v != "" {
		cfg.InteractiveEnabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("MCP_SSH_ALLOW_HOST_KEY_TOFU"); v != "" {
		cfg.AllowHostKeyTOFU = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("DEBUG"); v != "" {
		cfg.Debug = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MCP_SSH_AUDIT_DB"); v != "" {
		cfg.AuditDBPath = v
	}
	if v := os.Getenv("MCP_SSH_AUDIT_CAPTURE_OUTPUT"); v != "" {
		cfg.AuditCaptureOutput = strings.EqualFold(v, "true") || v == "1"
	}
	cfg.NATSURL = os.Getenv("MCP_SSH_NATS_URL")
	if v := os.Getenv("MCP_SSH_NATS_SUBJECT_PREFIX"); v != "" {
		cfg.NATSSubjectPrefix = v
	} else {
		cfg.NATSSubjectPrefix = "sshmcp"
	}
}

func applyYAML(cfg *Config, o yamlOverlay) {
	if o.PermissibilityLevel != "" {
		cfg.PermissibilityLevel = o.PermissibilityLevel
	}
	if o.MaxOutputBytes > 0 {
		cfg.MaxOutputBytes = o.MaxOutputBytes
	}
	if o.MaxOutputLines > 0 {
		cfg.MaxOutputLines = o.MaxOutputLines
	}
	if o.CommandTimeoutSec > 0 {
		cfg.CommandTimeout = time.Duration(o.CommandTimeoutSec) * time.Second
	}
	if o.ConnectTimeoutSec > 0 {
		cfg.ConnectTimeout = time.Duration(o.ConnectTimeoutSec) * time.Second
	}
	if o.KeepaliveSec > 0 {
		cfg.KeepaliveInterval = time.Duration(o.KeepaliveSec) * time.Second
	}
	if o.MaxSessions > 0 {
		cfg.MaxSessions = o.MaxSessions
	}
	if o.IdleTTLSec > 0 {
		cfg.IdleTTL = time.Duration(o.IdleTTLSec) * time.Second
	}
	if o.RateLimitPerMinute > 0 {
		cfg.RateLimitPerMin = o.RateLimitPerMinute
	}
	if len(o.AllowedPaths) > 0 {
		cfg.AllowedPathPrefixes = o.AllowedPaths
	}
	if o.Interactive != nil {
		cfg.InteractiveEnabled = *o.Interactive
	}
	if o.AllowHostKeyTOFU != nil {
		cfg.AllowHostKeyTOFU = *o.AllowHostKeyTOFU
	}
	if o.Debug != nil {
		cfg.Debug = *o.Debug
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.AuditDBPath != "" {
		cfg.AuditDBPath = o.AuditDBPath
	}
	if o.AuditCaptureOutput != nil {
		cfg.AuditCaptureOutput = *o.AuditCaptureOutput
	}
	if o.NATSURL != "" {
		cfg.NATSURL = o.NATSURL
	}
	if o.NATSSubjectPrefix != "" {
		cfg.NATSSubjectPrefix = o.NATSSubjectPrefix
	}
	if len(o.Servers) > 0 {
		cfg.Servers = make(map[string]Server, len(o.Servers))
		for _, s := range o.Servers {
			port := s.Port
			if port == 0 {
				port = 22
			}
			cfg.Servers[s.Name] = Server{
				Name:     s.Name,
				Host:     s.Host,
				Port:     port,
				User:     s.User,
				KeyPath:  s.KeyPath,
				HasSudo:  s.SudoPassword != "",
				sudoPass: Secret(s.SudoPassword),
			}
		}
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, true
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}

// PathAllowed reports whether path lies under one of the configured
// allow-prefixes, per spec.md §4.D's upload/download constraint.
func (c Config) PathAllowed(path string) bool {
	clean := filepath.Clean(path)
	for _, prefix := range c.AllowedPathPrefixes {
		p := filepath.Clean(prefix)
		if clean == p || strings.HasPrefix(clean, p+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// DefaultConfigPath mirrors the teacher's cli/config.DefaultConfigPath: a
// per-user default location, overridable via MCP_SSH_CONFIG.
func DefaultConfigPath() string {
	if v := os.Getenv("MCP_SSH_CONFIG"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "sshmcp_config.yaml"
	}
	return filepath.Join(home, ".sshmcp", "config.yaml")
}

// FallbackSudoSecret resolves the sudo secret fallback chain of spec.md
// §3's AuthMaterial: explicit per-call param → sudo_password → fallback →
// "" (caller decides whether to prompt interactively or fail).
func (c Config) ResolveSudoSecret(perCall string) (Secret, bool) {
	if perCall != "" {
		return Secret(perCall), true
	}
	if c.SudoPassword != "" {
		return c.SudoPassword, true
	}
	if c.FallbackPassword != "" {
		return c.FallbackPassword, true
	}
	return "", false
}

func (c Config) String() string {
	return fmt.Sprintf("Config{level=%s max_sessions=%d idle_ttl=%s interactive=%v}",
		c.PermissibilityLevel, c.MaxSessions, c.IdleTTL, c.InteractiveEnabled)
}
