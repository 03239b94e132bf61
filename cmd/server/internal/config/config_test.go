package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{}
	cfg.Server.Env = "dev"
	cfg.Server.Port = "8000"
	cfg.Data.Driver = "file"
	cfg.Data.Dir = "./data"
	cfg.Log.Level = "info"
	cfg.Log.Format = "console"
	cfg.Security.JWTSecret = "0123456789abcdef0123456789abcdef"
	cfg.Security.RoomTokenSecret = "room-secret"
	return cfg
}

func TestValidateConfigOK(t *testing.T) {
	assert.NoError(t, ValidateConfig(validConfig()))
}

func TestValidateConfigCollectsErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Security.JWTSecret = "short"
	cfg.Security.RoomTokenSecret = ""
	cfg.Server.Port = "99999"
	cfg.Data.Driver = "mysql"

	err := ValidateConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "USER_JWT_SECRET must be at least 32 characters")
	assert.Contains(t, err.Error(), "ROOM_TOKEN_SECRET is required")
	assert.Contains(t, err.Error(), "invalid PORT value")
	assert.Contains(t, err.Error(), "invalid STORE_DRIVER")
}

func TestValidateConfigPostgresNeedsDSN(t *testing.T) {
	cfg := validConfig()
	cfg.Data.Driver = "postgres"
	cfg.Data.PostgresDSN = ""
	err := ValidateConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSTGRES_DSN is required")
}

func TestValidateConfigOIDCPartial(t *testing.T) {
	cfg := validConfig()
	cfg.OIDC.IssuerURL = "https://idp.example.com"
	err := ValidateConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OIDC_CLIENT_ID and OIDC_CLIENT_SECRET are required")
}

func TestConfigFileOverridesEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9100"
session:
  waiting_timeout: 2m
  co_host_may_end: false
`), 0o644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "8000")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Session.WaitingTimeout)
	assert.False(t, cfg.Session.CoHostMayEnd)
}

func TestSessionDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Session.JoinTokenTTL)
	assert.Equal(t, time.Duration(0), cfg.Session.EmptyMeetingTimeout)
	assert.True(t, cfg.Session.CoHostMayEnd)
}
