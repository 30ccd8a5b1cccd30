package config

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xbroker"
	_ "github.com/trickstertwo/xbroker/adapter/memory"
)

const sample = `
log:
  level: debug
  lifecycle_level: warn
app:
  signals: [sigterm]
  command_line:
    env: prod
    workers: 3
broker:
  type: memory
  ack_timeout: 2s
  observer_workers: 0
  options:
    buffer_size: 64
    concurrency: 2
    redelivery_delay: 100ms
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"sigterm"}, cfg.App.Signals)
	assert.Equal(t, "prod", cfg.App.CommandLine["env"])
	assert.Equal(t, "memory", cfg.Broker.Type)
	assert.Equal(t, "json", cfg.Broker.Codec, "default kept")
	assert.Equal(t, 2*time.Second, cfg.Broker.AckTimeout)

	opts := xbroker.Options(cfg.Broker.Options)
	assert.Equal(t, 64, opts.Int("buffer_size", 0))
	assert.Equal(t, 100*time.Millisecond, opts.Duration("redelivery_delay", 0))

	assert.Equal(t, []os.Signal{syscall.SIGTERM}, cfg.App.signals())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad level", "log: {level: loud}"},
		{"bad lifecycle level", "log: {lifecycle_level: loud}"},
		{"unknown signal", "app: {signals: [SIGFOO]}"},
		{"empty type", "broker: {type: ''}"},
		{"negative ack timeout", "broker: {ack_timeout: -1s}"},
		{"pool without buffer", "broker: {observer_workers: 2, observer_buffer: 0}"},
		{"bad yaml", "broker: [1, 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	path := filepath.Join(t.TempDir(), "xbroker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.Save(path))

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Log, again.Log)
	assert.Equal(t, cfg.Broker.Type, again.Broker.Type)
	assert.Equal(t, cfg.Broker.AckTimeout, again.Broker.AckTimeout)
}

func TestBuildAndRunFromConfig(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	bus, err := cfg.Broker.Builder().Build()
	require.NoError(t, err)

	app := xbroker.New(bus, cfg.AppOptions()...)

	var got xbroker.Options
	app.OnStartup(func(_ context.Context, opts xbroker.Options) error {
		got = opts
		return nil
	})
	app.AfterStartup(func(context.Context) error {
		app.Stop()
		return nil
	})

	require.NoError(t, app.Run(context.Background(), cfg.RunOptions()...))
	assert.Equal(t, "prod", got.String("env", ""))
	assert.Equal(t, 3, got.Int("workers", 0))
	assert.Equal(t, xbroker.StateStopped, app.State())
}

func TestApplyLogLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(prev)

	LogConfig{Level: "error"}.ApplyLogLevel()
	assert.Equal(t, zerolog.ErrorLevel, zerolog.GlobalLevel())

	LogConfig{Level: "nope"}.ApplyLogLevel()
	assert.Equal(t, zerolog.ErrorLevel, zerolog.GlobalLevel())
}
