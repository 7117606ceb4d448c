package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Cache.BalanceTTL)
	assert.Equal(t, 30.0, cfg.Risk.DepositUSD)
	assert.Equal(t, 0.02, cfg.Risk.RiskFraction)
	assert.Equal(t, 2.0, cfg.Monitor.TrailingPct)
	assert.Equal(t, 5, cfg.Analysis.Structure.Window)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
cache:
  balance_ttl: 10s
risk:
  deposit_usd: 100
scanner:
  timeframes: ["1h", "4h"]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Cache.BalanceTTL)
	assert.Equal(t, 100.0, cfg.Risk.DepositUSD)
	assert.Equal(t, 0.02, cfg.Risk.RiskFraction)
	assert.Equal(t, []string{"1h", "4h"}, cfg.Scanner.Timeframes)
	assert.Equal(t, 14, cfg.Analysis.Technical.RSIPeriod)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("risk:\n  risk_fraction: 2\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadCredentialsFromEnv(t *testing.T) {
	t.Setenv(EnvAPIKey, "key")
	t.Setenv(EnvAPISecret, "secret")
	t.Setenv(EnvTestnet, "true")

	creds, err := LoadCredentials(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "key", creds.APIKey)
	assert.Equal(t, "secret", creds.APISecret)
	assert.True(t, creds.Testnet)
	assert.Equal(t, "env", creds.Source)
}

func TestLoadCredentialsFromFile(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvAPISecret, "")

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "config"), 0o755))
	body := `{"bybit": {"api_key": "file-key", "api_secret": "file-secret", "testnet": true}}`
	require.NoError(t, os.WriteFile(filepath.Join(root, CredentialsFile), []byte(body), 0o600))

	creds, err := LoadCredentials(root)
	require.NoError(t, err)
	assert.Equal(t, "file-key", creds.APIKey)
	assert.True(t, creds.Testnet)
	assert.Equal(t, "file", creds.Source)
}

func TestLoadCredentialsMissing(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvAPISecret, "")

	_, err := LoadCredentials(t.TempDir())
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestCredentialsStringHidesSecrets(t *testing.T) {
	c := Credentials{APIKey: "visible-key", APISecret: "very-secret", Source: "env"}
	s := c.String()
	assert.False(t, strings.Contains(s, "very-secret"))
	assert.False(t, strings.Contains(s, "visible-key"))
}
