package main

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitchelldurbincs/DentalScannerEnv/internal/config"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/core"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/events"
)

func countLines(t *testing.T, dir string) int {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	require.NoError(t, err)

	total := 0
	for _, name := range files {
		f, err := os.Open(name)
		require.NoError(t, err)
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			total++
		}
		require.NoError(t, scanner.Err())
		f.Close()
	}
	return total
}

func TestExperiencePipeline_PersistsEveryStep(t *testing.T) {
	dir := t.TempDir()
	logger := zerolog.Nop()
	settings := env.DefaultSettings()
	bus := events.NewEventBusWithLogger(logger)

	pipeline, err := startExperiencePipeline(config.ExperienceConfig{
		BufferCapacity: 10000,
		Persistence:    "file",
		BaseDir:        dir,
		MaxFileSize:    64 * 1024 * 1024,
	}, settings.Layout, bus, logger)
	require.NoError(t, err)

	e, err := env.New(env.WithSettings(settings), env.WithPublisher(bus), env.WithLogger(logger))
	require.NoError(t, err)

	// Right/Left shuffle next to the start never terminates, so the step limit
	// ends each episode and the run spans several of them.
	const steps = 1200
	for i := 0; i < steps; i++ {
		if e.Done() {
			e.Reset()
		}
		a := core.ActionRight
		if i%2 == 1 {
			a = core.ActionLeft
		}
		_, err := e.Step(a)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, pipeline.Close(ctx))

	assert.Equal(t, int64(steps), pipeline.collector.Collected())
	assert.Equal(t, int64(0), pipeline.Evicted())
	assert.Equal(t, int64(steps), pipeline.persistence.Stats().TotalWritten)
	assert.Equal(t, steps, countLines(t, dir))
}

func TestRunServe_ListenFailureStartsNothing(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg, err := configWithDefaults(t)
	require.NoError(t, err)
	expDir := filepath.Join(t.TempDir(), "experiences")
	cfg.Experience.Persistence = "file"
	cfg.Experience.BaseDir = expDir
	cfg.Server.GRPC.Host = "127.0.0.1"
	cfg.Server.GRPC.Port = 0
	cfg.Server.HTTP.Addr = busy.Addr().String()
	cfg.Server.HTTP.Enabled = true

	err = runServe(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
	assert.NoDirExists(t, expDir)
}

func configWithDefaults(t *testing.T) (*config.Config, error) {
	t.Helper()
	if err := config.Init(filepath.Join(t.TempDir(), "missing.yaml")); err != nil {
		return nil, err
	}
	return config.Get(), nil
}
