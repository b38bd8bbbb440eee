package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/core"
)

func reset() {
	current.Store(nil)
	v = nil
}

func TestInit(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
env:
  layout:
    - "S.H"
    - "..G"
  rewards:
    goal: 20
    hazard: -2.5
  limits:
    max_retries: 5
  retry_limit_policy: keep
server:
  grpc:
    port: 8081
`

	err := os.WriteFile(configFile, []byte(configContent), 0644)
	require.NoError(t, err)

	reset()
	err = Init(configFile)
	require.NoError(t, err)

	c := Get()
	assert.Equal(t, []string{"S.H", "..G"}, c.Env.Layout)
	assert.Equal(t, 20.0, c.Env.Rewards.Goal)
	assert.Equal(t, -2.5, c.Env.Rewards.Hazard)
	assert.Equal(t, 5, c.Env.Limits.MaxRetries)
	assert.Equal(t, "keep", c.Env.RetryLimitPolicy)
	assert.Equal(t, 8081, c.Server.GRPC.Port)

	// untouched keys keep defaults
	assert.Equal(t, 3, c.Env.Limits.MaxInvalidActions)
	assert.Equal(t, 3.0, c.Env.Rewards.Engaged)
	assert.Equal(t, configFile, ConfigFilePath())
}

func TestInitWithDefaults(t *testing.T) {
	reset()

	err := Init("/non/existent/path/config.yaml")
	require.NoError(t, err)

	c := Get()
	assert.Equal(t, core.DefaultLayoutRows, c.Env.Layout)
	assert.Equal(t, 10.0, c.Env.Rewards.Goal)
	assert.Equal(t, -5.0, c.Env.Rewards.Hazard)
	assert.Equal(t, 2.0, c.Env.Rewards.Issue)
	assert.Equal(t, 3.0, c.Env.Rewards.Engaged)
	assert.Equal(t, -1.0, c.Env.Rewards.InvalidMove)
	assert.Equal(t, -10.0, c.Env.Rewards.RetryLimit)
	assert.Equal(t, 3, c.Env.Limits.MaxRetries)
	assert.Equal(t, 3, c.Env.Limits.MaxInvalidActions)
	assert.Equal(t, 100, c.Env.Limits.MaxSteps)
	assert.Equal(t, "override", c.Env.RetryLimitPolicy)
	assert.Equal(t, 50051, c.Server.GRPC.Port)
	assert.Equal(t, 100, c.Server.GRPC.MaxEnvs)
	assert.Equal(t, "none", c.Experience.Persistence)
	assert.Equal(t, 100, c.Rollout.MaxStepsPerEpisode)
}

func TestEnvironmentVariables(t *testing.T) {
	reset()

	t.Setenv("DSE_ENV_LIMITS_MAX_STEPS", "250")
	t.Setenv("DSE_SERVER_GRPC_PORT", "9090")
	t.Setenv("DSE_ENV_RETRY_LIMIT_POLICY", "keep")

	err := Init("/non/existent/config.yaml")
	require.NoError(t, err)

	c := Get()
	assert.Equal(t, 250, c.Env.Limits.MaxSteps)
	assert.Equal(t, 9090, c.Server.GRPC.Port)
	assert.Equal(t, "keep", c.Env.RetryLimitPolicy)
}

func TestInitRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"LayoutWithoutGoal", "env:\n  layout: [\"S..\", \"...\"]\n"},
		{"UnknownPolicy", "env:\n  retry_limit_policy: sometimes\n"},
		{"ZeroRetries", "env:\n  limits:\n    max_retries: 0\n"},
		{"BadPort", "server:\n  grpc:\n    port: 70000\n"},
		{"BadPersistence", "experience:\n  persistence: s3\n"},
		{"BadLogFormat", "server:\n  log_format: xml\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			reset()
			err := Init(path)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "config validation failed")
		})
	}
}

func TestSet(t *testing.T) {
	reset()
	require.NoError(t, Init("/non/existent/config.yaml"))

	require.NoError(t, Set("env.limits.max_steps", 42))
	require.NoError(t, Set("server.http.addr", ":9999"))

	c := Get()
	assert.Equal(t, 42, c.Env.Limits.MaxSteps)
	assert.Equal(t, ":9999", c.Server.HTTP.Addr)
}

func TestSet_RejectsInvalidValue(t *testing.T) {
	reset()
	require.NoError(t, Init("/non/existent/config.yaml"))
	before := Get()

	err := Set("env.limits.max_retries", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_retries")
	assert.Same(t, before, Get())
	assert.Equal(t, 3, Get().Env.Limits.MaxRetries)

	// the rejected value does not poison later overrides
	require.NoError(t, Set("env.limits.max_steps", 7))
	assert.Equal(t, 7, Get().Env.Limits.MaxSteps)
}

func TestGet_ConcurrentWithReload(t *testing.T) {
	reset()
	require.NoError(t, Init("/non/existent/config.yaml"))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				c := Get()
				assert.GreaterOrEqual(t, c.Env.Limits.MaxSteps, 100)
			}
		}()
	}

	for i := 0; i < 50; i++ {
		require.NoError(t, Set("env.limits.max_steps", 100+i))
	}
	close(stop)
	wg.Wait()
	assert.Equal(t, 149, Get().Env.Limits.MaxSteps)
}

func TestLoadEnvironmentConfig(t *testing.T) {
	tmpDir := t.TempDir()

	baseConfig := filepath.Join(tmpDir, "config.yaml")
	baseContent := `
env:
  limits:
    max_steps: 100
server:
  grpc:
    port: 50051
`
	require.NoError(t, os.WriteFile(baseConfig, []byte(baseContent), 0644))

	envConfig := filepath.Join(tmpDir, "config.prod.yaml")
	envContent := `
env:
  limits:
    max_steps: 500
server:
  grpc:
    port: 8080
  log_level: "error"
`
	require.NoError(t, os.WriteFile(envConfig, []byte(envContent), 0644))

	oldWd, _ := os.Getwd()
	_ = os.Chdir(tmpDir)
	defer func() { _ = os.Chdir(oldWd) }()

	reset()
	require.NoError(t, Init(baseConfig))
	require.NoError(t, LoadEnvironmentConfig("prod"))

	c := Get()
	assert.Equal(t, 500, c.Env.Limits.MaxSteps)
	assert.Equal(t, 8080, c.Server.GRPC.Port)
	assert.Equal(t, "error", c.Server.LogLevel)

	assert.NoError(t, LoadEnvironmentConfig(""))
	assert.NoError(t, LoadEnvironmentConfig("staging"), "missing overlay is ignored")
	assert.Equal(t, baseConfig, ConfigFilePath())
}
