package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "https://api.buildwithtrace.com", cfg.Backend.APIURL)
	assert.Equal(t, 7, cfg.Data.RetentionDays)
	assert.True(t, cfg.Sync.Enabled)
	assert.Equal(t, 30*time.Second, cfg.GetSyncInterval())
	assert.Equal(t, 200*time.Millisecond, cfg.GetConversionDebounce())
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Backend.APIURL, cfg.Backend.APIURL)
}

func TestLoadAndSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Backend.APIURL = "http://localhost:9000"
	cfg.Converter.Script = "/opt/trace/convert.py"
	cfg.Sync.Interval = "5s"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", loaded.Backend.APIURL)
	assert.Equal(t, "/opt/trace/convert.py", loaded.Converter.Script)
	assert.Equal(t, 5*time.Second, loaded.GetSyncInterval())
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	partial := "backend:\n  api_url: http://localhost:9000\n"
	require.NoError(t, os.WriteFile(path, []byte(partial), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", cfg.Backend.APIURL)
	assert.Equal(t, "https://buildwithtrace.com/login", cfg.Backend.LoginURL)
	assert.Equal(t, 7, cfg.Data.RetentionDays)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: [not a map"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRACE_API_URL", "http://localhost:7777")
	t.Setenv("TRACE_DATA_DIR", "/tmp/trace-data")
	t.Setenv("TRACE_DEBUG", "1")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:7777", cfg.Backend.APIURL)
	assert.Equal(t, "/tmp/trace-data", cfg.Data.Dir)
	assert.True(t, cfg.Logging.Debug)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestDurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend.RequestTimeout = "garbage"
	cfg.Sync.Interval = ""
	assert.Equal(t, 300*time.Second, cfg.GetRequestTimeout())
	assert.Equal(t, 30*time.Second, cfg.GetSyncInterval())
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend.APIURL = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Backend.SyncURL = ""
	assert.Error(t, cfg.Validate())
	cfg.Sync.Enabled = false
	assert.NoError(t, cfg.Validate())
}
