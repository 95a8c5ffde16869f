package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
logger:
  log_level: DEBUG
backend:
  base_url: http://127.0.0.1:8000
  request_timeout: 15s
engine:
  poll_interval: 2s
db:
  connection_string: file.db
search:
  title: golang
  sites: [linkedin]
`

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func Test_Config_WhenValuesOmitted_ShouldUseDefaults(t *testing.T) {
	assert := assert.New(t)

	cfg, err := loadConfig(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(LevelDebug, cfg.Logger.LogLevel)
	assert.Equal(15*time.Second, cfg.Backend.RequestTimeout)
	assert.Equal(120*time.Second, cfg.Backend.SubmitTimeout)
	assert.Equal(2*time.Second, cfg.Engine.PollInterval)
	assert.Equal(5*time.Second, cfg.Engine.SubmitCooldown)
	assert.Equal(500*time.Millisecond, cfg.Engine.DebounceWindow)
	assert.Equal(3*time.Second, cfg.Engine.HighlightWindow)
	assert.Equal(500, cfg.Engine.SearchLimit)
	assert.True(cfg.Search.Enabled())
	assert.Equal([]string{"linkedin"}, cfg.Search.Sites)
}

func Test_Config_EnvironmentOverrideWorksCorrect(t *testing.T) {
	assert := assert.New(t)

	t.Setenv("BACKEND_URL", "http://backend:9000")
	t.Setenv("DB_CONNECTION_STRING", "override.db")
	t.Setenv("LOG_LEVEL", "ERROR")
	t.Setenv("METRICS_ADDRESS", ":9999")
	t.Setenv("BACKEND_MAX_REQUESTS_PER_SECOND", "4.5")

	cfg, err := loadConfig(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal("http://backend:9000", cfg.Backend.BaseURL)
	assert.Equal("override.db", cfg.DB.ConnectionString)
	assert.Equal(LevelError, cfg.Logger.LogLevel)
	assert.Equal(":9999", cfg.Metrics.Address)
	assert.Equal(float32(4.5), cfg.Backend.MaxRequestsPerSecond)
}

func Test_Config_WhenRequiredMissing_ShouldFail(t *testing.T) {
	_, err := loadConfig(writeConfig(t, "logger:\n  log_level: LOUD\n"))

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "DBConfig")
	assert.Contains(t, err.Error(), "LoggerConfig")
}
