package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{EnvAPIKey, EnvIdentifier, EnvPassword, EnvConfigFile, EnvAPIURL,
		EnvLogLevel, EnvLogFile, EnvSecretsDir, EnvSecretsKey, EnvHTTPAddr, EnvTickTimeout} {
		t.Setenv(k, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	c := FromEnv()
	assert.Equal(t, DefaultConfigFile, c.ConfigFile)
	assert.Equal(t, DefaultAPIURL, c.APIURL)
	assert.Equal(t, DefaultTickTimeout, c.TickTimeout)
	assert.False(t, c.AutoLogin())
	assert.NoError(t, c.Validate())
}

func TestAutoLoginNeedsAllThree(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAPIKey, "key")
	t.Setenv(EnvIdentifier, "user")
	assert.False(t, FromEnv().AutoLogin())

	t.Setenv(EnvPassword, "pwd")
	assert.True(t, FromEnv().AutoLogin())
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	// godotenv 不覆盖已有变量，这里先删掉
	for _, k := range []string{EnvConfigFile, EnvTickTimeout} {
		require.NoError(t, os.Unsetenv(k))
	}
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("IG_CLI_CONFIG=accounts.yml\nIG_CLI_TICK_TIMEOUT=10\n"), 0o644))
	t.Cleanup(func() {
		os.Unsetenv(EnvConfigFile)
		os.Unsetenv(EnvTickTimeout)
	})

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "accounts.yml", c.ConfigFile)
	assert.Equal(t, 10*time.Second, c.TickTimeout)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	c := FromEnv()
	c.APIURL = "ftp://x"
	assert.Error(t, c.Validate())

	c = FromEnv()
	c.HTTPAddr = "nope"
	assert.Error(t, c.Validate())
	c.HTTPAddr = "127.0.0.1:8089"
	assert.NoError(t, c.Validate())

	c.SecretsKey = "abcd"
	assert.Error(t, c.Validate())
	c.SecretsDir = t.TempDir()
	assert.Error(t, c.Validate())

	c.TickTimeout = 0
	c.SecretsKey = ""
	assert.Error(t, c.Validate())
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv(EnvTickTimeout, "1500ms")
	assert.Equal(t, 1500*time.Millisecond, parseDurationEnv(EnvTickTimeout, time.Second))
	t.Setenv(EnvTickTimeout, "garbage")
	assert.Equal(t, time.Second, parseDurationEnv(EnvTickTimeout, time.Second))
}
