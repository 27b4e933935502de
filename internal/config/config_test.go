package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inDir runs the test from dir so a config.yaml there is picked up.
func inDir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
}

func load(t *testing.T) *Config {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	inDir(t, t.TempDir())

	cfg := load(t)
	assert.Equal(t, "stardog", cfg.Service)
	assert.Equal(t, 1, cfg.Parallelism)
	assert.Equal(t, "/tmp", cfg.RemoteDir)
	assert.Equal(t, "localhost:2181", cfg.ZooKeeperAddr)
	assert.Equal(t, 10*time.Minute, cfg.ActivationOffset)
	assert.Equal(t, "ext4", cfg.FSType)
	assert.Equal(t, int64(4*1024*1024*1024), cfg.MaxTotalSize)
	assert.Empty(t, cfg.Region)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	inDir(t, t.TempDir())
	t.Setenv("CLUSTEROPS_REGION", "eu-west-1")
	t.Setenv("CLUSTEROPS_PARALLELISM", "4")
	t.Setenv("CLUSTEROPS_SSH_TIMEOUT", "30s")

	cfg := load(t)
	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, 4, cfg.Parallelism)
	assert.Equal(t, 30*time.Second, cfg.SSHTimeout)
}

func TestLoad_ConfigFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(
		"service: zookeeper\nlog-format: json\nactivation-offset: 2m\n"), 0o644))
	inDir(t, dir)

	cfg := load(t)
	assert.Equal(t, "zookeeper", cfg.Service)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 2*time.Minute, cfg.ActivationOffset)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			SQLitePath:          "/tmp/c.db",
			FSMDBPath:           "/tmp/fsm",
			Service:             "stardog",
			RefreshCommand:      "/usr/local/bin/stardog-refresh",
			Parallelism:         1,
			SSHTimeout:          time.Minute,
			MaxFileSize:         1,
			MaxTotalSize:        1,
			MaxCompressionRatio: 1,
			LogFormat:           "text",
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty sqlite path", func(c *Config) { c.SQLitePath = "" }, "sqlite-path"},
		{"empty fsm path", func(c *Config) { c.FSMDBPath = "" }, "fsm-db-path"},
		{"zero parallelism", func(c *Config) { c.Parallelism = 0 }, "parallelism"},
		{"zero ssh timeout", func(c *Config) { c.SSHTimeout = 0 }, "ssh-timeout"},
		{"negative offset", func(c *Config) { c.ActivationOffset = -time.Second }, "activation-offset"},
		{"negative retries", func(c *Config) { c.FSMMaxRetries = -1 }, "fsm-max-retries"},
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }, "log-format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
