package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", s.Server.Host)
	assert.Equal(t, 8000, s.Server.Port)
	assert.Equal(t, []string{"*"}, s.Server.AllowedOrigins)
	assert.Equal(t, int64(5<<20), s.Server.MaxUploadBytes)
	assert.Equal(t, "visionai.db", s.Database.URL)
	assert.Equal(t, 24*time.Hour, s.Auth.TokenTTL)
	assert.Equal(t, DefaultJWTSecret, s.Auth.Secret)
	assert.False(t, s.Model.RequireActive)
	assert.Equal(t, "0.0.0.0:8000", s.Server.Addr())
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://user:pw@localhost:5432/visionai")
	t.Setenv("ALLOWED_ORIGINS", "http://localhost:3000, http://127.0.0.1:5173")
	t.Setenv("ACCESS_TOKEN_TTL", "90m")
	t.Setenv("REQUIRE_ACTIVE_MODEL", "true")
	t.Setenv("JWT_SECRET", "s3cret")

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, s.Server.Port)
	assert.Equal(t, "postgres://user:pw@localhost:5432/visionai", s.Database.URL)
	assert.Equal(t, []string{"http://localhost:3000", "http://127.0.0.1:5173"}, s.Server.AllowedOrigins)
	assert.Equal(t, 90*time.Minute, s.Auth.TokenTTL)
	assert.True(t, s.Model.RequireActive)
	assert.Equal(t, "s3cret", s.Auth.Secret)
}

func TestLoadRejectsInvalidEnvironment(t *testing.T) {
	t.Setenv("PORT", "70000")
	t.Setenv("ACCESS_TOKEN_TTL", "forever")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
	assert.Contains(t, err.Error(), "ACCESS_TOKEN_TTL")
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("server:\n  port: 7001\nmodel:\n  path: /srv/models/fer.onnx\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))

	s, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 7001, s.Server.Port)
	assert.Equal(t, "/srv/models/fer.onnx", s.Model.Path)
}

func TestLoadMissingConfigFileIsNotAnError(t *testing.T) {
	_, err := Load(t.TempDir())
	require.NoError(t, err)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	env := []byte("PORT=7100\nJWT_SECRET=from-dotenv\nALLOWED_ORIGINS=http://a.test,http://b.test\nACCESS_TOKEN_TTL=2h\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), env, 0o600))
	t.Setenv("JWT_SECRET", "from-process")

	s, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 7100, s.Server.Port)
	assert.Equal(t, "from-process", s.Auth.Secret)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, s.Server.AllowedOrigins)
	assert.Equal(t, 2*time.Hour, s.Auth.TokenTTL)
}

func TestLoadRejectsInvalidDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PORT=not-a-port\n"), 0o600))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
}
