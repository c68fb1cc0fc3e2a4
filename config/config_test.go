package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithEnvSecret(t *testing.T) {
	t.Setenv("POINTS_AUTH_JWT_SECRET", "s3cret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "points.db", cfg.Database.Path)
	assert.Equal(t, int64(10), cfg.Points.DefaultQRPoints)
	assert.Equal(t, "soft", cfg.Limits.Enforcement)
	assert.Equal(t, "jwt", cfg.Auth.Mode)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "@every 1h", cfg.Audit.Schedule)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)
}

func TestLoad_FileThenEnv(t *testing.T) {
	// GIVEN: A YAML file setting port and timezone, and an env override for the port
	// THEN: Env wins over the file, the file wins over defaults

	path := filepath.Join(t.TempDir(), "points.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
  read_timeout: 2s
limits:
  enforcement: hard
  day_boundary_timezone: UTC
auth:
  mode: header
`), 0o600))
	t.Setenv("POINTS_SERVER_PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "hard", cfg.Limits.Enforcement)
	assert.Equal(t, "header", cfg.Auth.Mode)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"jwt without secret": "auth:\n  mode: jwt\n",
		"bad enforcement":    "auth:\n  mode: header\nlimits:\n  enforcement: strict\n",
		"bad timezone":       "auth:\n  mode: header\nlimits:\n  day_boundary_timezone: Mars/Olympus\n",
		"bad auth mode":      "auth:\n  mode: magic\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "points.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
