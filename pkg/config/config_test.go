package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// clearEnv unsets every TENANTGATE_ variable for the duration of a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "TENANTGATE_") {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		defaultValue bool
		envValue     string
		want         bool
	}{
		{name: "returns true for 'true'", defaultValue: false, envValue: "true", want: true},
		{name: "returns true for '1'", defaultValue: false, envValue: "1", want: true},
		{name: "returns false for 'false'", defaultValue: true, envValue: "false", want: false},
		{name: "returns default when not set", defaultValue: true, envValue: "", want: true},
		{name: "returns true for 'TRUE' (case insensitive)", defaultValue: false, envValue: "TRUE", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.envValue)

			got := getEnvBool("TEST_BOOL", tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvInt tests the getEnvInt helper function
func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     int
	}{
		{name: "returns parsed int", envValue: "42", want: 42},
		{name: "returns default for invalid int", envValue: "invalid", want: 10},
		{name: "returns default when not set", envValue: "", want: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT", tt.envValue)

			got := getEnvInt("TEST_INT", 10)
			if got != tt.want {
				t.Errorf("getEnvInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvDuration tests the getEnvDuration helper function
func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     time.Duration
	}{
		{name: "returns parsed duration", envValue: "30s", want: 30 * time.Second},
		{name: "returns default for invalid duration", envValue: "invalid", want: 10 * time.Second},
		{name: "returns default when not set", envValue: "", want: 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.envValue)

			got := getEnvDuration("TEST_DURATION", 10*time.Second)
			if got != tt.want {
				t.Errorf("getEnvDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestParseLogLevel tests the parseLogLevel function
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  observability.LogLevel
	}{
		{"debug", observability.DebugLevel},
		{"DEBUG", observability.DebugLevel},
		{"info", observability.InfoLevel},
		{"warn", observability.WarnLevel},
		{"warning", observability.WarnLevel},
		{"error", observability.ErrorLevel},
		{"invalid", observability.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.level))
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.IdP.BaseURL)
	assert.Equal(t, "auth-service", cfg.IdP.Realm)
	assert.Equal(t, "auth-service", cfg.IdP.ClientID)
	assert.Equal(t, "master", cfg.IdP.AdminRealm)
	assert.Equal(t, "admin-cli", cfg.IdP.AdminClientID)
	assert.Equal(t, "RS256", cfg.IdP.Algorithm)
	assert.Equal(t, "http://localhost:8080/realms/auth-service", cfg.IdP.Issuer)
	assert.Equal(t, time.Hour, cfg.IdP.KeyCacheTTL)
	assert.Equal(t, AudiencePolicyLenient, cfg.IdP.AudiencePolicy)
	assert.Equal(t, "access_token", cfg.Cookies.AccessName)
	assert.Equal(t, "/v1", cfg.Cookies.RefreshPath)
	assert.Equal(t, 10*time.Second, cfg.IdP.KeyMinRefreshInterval)
	assert.Empty(t, cfg.Server.TrustedProxies)
	assert.Equal(t, 7*24*time.Hour, cfg.Orgs.InviteTTL)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TENANTGATE_IDP_URL", "https://sso.example.com/")
	t.Setenv("TENANTGATE_IDP_REALM", "acme")
	t.Setenv("TENANTGATE_IDP_AUDIENCE_POLICY", "STRICT")
	t.Setenv("TENANTGATE_LOG_LEVEL", "debug")
	t.Setenv("TENANTGATE_COOKIE_SECURE", "true")
	t.Setenv("TENANTGATE_TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.1,")
	t.Setenv("TENANTGATE_IDP_KEY_MIN_REFRESH", "30s")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.1"}, cfg.Server.TrustedProxies)
	assert.Equal(t, 30*time.Second, cfg.IdP.KeyMinRefreshInterval)

	assert.Equal(t, "https://sso.example.com/realms/acme", cfg.IdP.Issuer)
	assert.Equal(t, AudiencePolicyStrict, cfg.IdP.AudiencePolicy)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.True(t, cfg.Cookies.Secure)
}

func TestLoadConfig_FileOverlay(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "tenantgate.yaml")
	content := []byte(`
idp:
  realm: from-file
  client_id: portal
  key_cache_ttl: 15m
orgs:
  invite_ttl: 48h
observability:
  log_level: warn
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	t.Setenv("TENANTGATE_CONFIG_FILE", path)
	t.Setenv("TENANTGATE_IDP_CLIENT_ID", "from-env")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.IdP.Realm)
	assert.Equal(t, "from-env", cfg.IdP.ClientID, "env must win over file")
	assert.Equal(t, 15*time.Minute, cfg.IdP.KeyCacheTTL)
	assert.Equal(t, 48*time.Hour, cfg.Orgs.InviteTTL)
	assert.Equal(t, observability.WarnLevel, cfg.Observability.LogLevel)
	assert.Equal(t, "http://localhost:8080/realms/from-file", cfg.IdP.Issuer)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("TENANTGATE_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing port",
			mutate:  func(c *Config) { c.Server.Port = "" },
			wantErr: "server port is required",
		},
		{
			name:    "bad trusted proxy",
			mutate:  func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.0/8", "lb.internal"} },
			wantErr: "invalid trusted proxy",
		},
		{
			name:    "negative key refresh interval",
			mutate:  func(c *Config) { c.IdP.KeyMinRefreshInterval = -time.Second },
			wantErr: "key refresh interval must not be negative",
		},
		{
			name:    "bad idp url",
			mutate:  func(c *Config) { c.IdP.BaseURL = "not a url" },
			wantErr: "invalid identity provider URL",
		},
		{
			name:    "unsupported algorithm",
			mutate:  func(c *Config) { c.IdP.Algorithm = "HS256" },
			wantErr: "unsupported signing algorithm",
		},
		{
			name:    "unknown audience policy",
			mutate:  func(c *Config) { c.IdP.AudiencePolicy = "sometimes" },
			wantErr: "invalid audience policy",
		},
		{
			name:    "missing admin credentials",
			mutate:  func(c *Config) { c.IdP.AdminPassword = "" },
			wantErr: "admin credentials are required",
		},
		{
			name:    "cookie name clash",
			mutate:  func(c *Config) { c.Cookies.RefreshName = c.Cookies.AccessName },
			wantErr: "must be different",
		},
		{
			name:    "non-positive invite ttl",
			mutate:  func(c *Config) { c.Orgs.InviteTTL = 0 },
			wantErr: "invite TTL must be positive",
		},
		{
			name: "rate limit disabled ignores window",
			mutate: func(c *Config) {
				c.RateLimit.Enabled = false
				c.RateLimit.WindowDuration = 0
			},
		},
		{
			name: "otel enabled without endpoint",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelEndpoint = ""
			},
			wantErr: "OpenTelemetry endpoint is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
