package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/sensordash/internal/config"
	"codeberg.org/mutker/sensordash/internal/errors"
	"codeberg.org/mutker/sensordash/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sensordash.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func load(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	return config.Load(args, config.WithSearchDirs(t.TempDir()))
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
endpoint = "http://sensor.local/data"
mode = "http"
interval = 500
mock = false
verbose = true
listen = ":9000"

[recorder]
backend = "sqlite"
db_path = "/tmp/samples.db"
batch_size = 10
batch_timeout = "2s"
`)
	t.Setenv("SENSORDASH_CONFIG", path)

	cfg, err := load(t)
	require.NoError(t, err)

	assert.Equal(t, "http://sensor.local/data", cfg.Endpoint)
	assert.Equal(t, "http", cfg.Mode)
	assert.Equal(t, 500, cfg.Interval)
	assert.True(t, cfg.Verbose)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, config.BackendSQLite, cfg.Recorder.Backend)
	assert.Equal(t, "/tmp/samples.db", cfg.Recorder.DBPath)
	assert.Equal(t, 10, cfg.Recorder.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Recorder.BatchTimeout)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SENSORDASH_CONFIG", "")

	cfg, err := load(t)
	require.NoError(t, err)

	assert.Equal(t, config.DefaultEndpoint, cfg.Endpoint)
	assert.Equal(t, "auto", cfg.Mode)
	assert.Equal(t, 1000, cfg.Interval)
	assert.False(t, cfg.Mock)
	assert.True(t, cfg.Autostart)
	assert.Equal(t, config.DefaultListen, cfg.Listen)
	assert.Equal(t, config.BackendNone, cfg.Recorder.Backend)
	assert.Equal(t, config.DefaultBatchSize, cfg.Recorder.BatchSize)
	assert.Equal(t, config.DefaultBatchTimeout, cfg.Recorder.BatchTimeout)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	path := writeConfig(t, `
This is not a valid TOML file
`)
	t.Setenv("SENSORDASH_CONFIG", path)

	_, err := load(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to read config file")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := config.Load([]string{"--config", filepath.Join(t.TempDir(), "absent.toml")})
	assert.Equal(t, errors.ErrReadConfig, errors.CodeOf(err))
}

func TestInvalidMode(t *testing.T) {
	path := writeConfig(t, `mode = "carrier-pigeon"`)
	t.Setenv("SENSORDASH_CONFIG", path)

	_, err := load(t)
	require.Error(t, err)
	assert.Equal(t, errors.ErrInvalidMode, errors.CodeOf(err))
}

func TestInvalidRecorderBackend(t *testing.T) {
	t.Setenv("SENSORDASH_CONFIG", "")

	_, err := load(t, "--recorder-backend", "postgres")
	assert.Equal(t, errors.ErrInvalidConfig, errors.CodeOf(err))
}

func TestInfluxRequiresBucket(t *testing.T) {
	t.Setenv("SENSORDASH_CONFIG", "")
	t.Setenv("SENSORDASH_RECORDER_INFLUX_URL", "http://influx:8086")

	_, err := load(t, "--recorder-backend", "influx")
	assert.Equal(t, errors.ErrMissingConfig, errors.CodeOf(err))
}

func TestFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `
endpoint = "ws://from-file:8080"
mock = false
`)

	cfg, err := config.Load(
		[]string{"--endpoint", "mqtt://broker/sensors", "--mock", "--debug"},
		config.WithConfigFile(path),
	)
	require.NoError(t, err)

	assert.Equal(t, "mqtt://broker/sensors", cfg.Endpoint)
	assert.True(t, cfg.Mock)
	assert.True(t, cfg.Debug)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `interval = 2000`)
	t.Setenv("SENSORDASH_CONFIG", path)
	t.Setenv("SENSORDASH_INTERVAL", "300")

	cfg, err := load(t)
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Interval)
}

func TestCustomEnvPrefix(t *testing.T) {
	t.Setenv("SENSORDASH_CONFIG", "")
	t.Setenv("DASH_MOCK", "true")

	cfg, err := config.Load(nil, config.WithEnvPrefix("DASH"), config.WithSearchDirs(t.TempDir()))
	require.NoError(t, err)
	assert.True(t, cfg.Mock)
}

func TestCameraURLDerivesEndpoint(t *testing.T) {
	t.Setenv("SENSORDASH_CONFIG", "")

	cfg, err := load(t, "--camera-url", "http://192.168.1.20:81/stream.mjpg")
	require.NoError(t, err)
	assert.Equal(t, "ws://192.168.1.20:8080", cfg.Endpoint)
}

func TestInvalidListenAddress(t *testing.T) {
	t.Setenv("SENSORDASH_CONFIG", "")

	_, err := load(t, "--listen", "nonsense")
	assert.Equal(t, errors.ErrInvalidConfig, errors.CodeOf(err))
}

func TestSessionConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.Config
		expected session.Config
	}{
		{
			name: "mock with default interval",
			cfg:  config.Config{Mock: true, Mode: "auto"},
			expected: session.Config{
				Mode:     session.ModeAuto,
				Interval: time.Second,
				UseMock:  true,
			},
		},
		{
			name: "interval raised to minimum",
			cfg:  config.Config{Endpoint: "http://x", Mode: "HTTP", Interval: 100},
			expected: session.Config{
				EndpointURL: "http://x",
				Mode:        session.ModeHTTP,
				Interval:    250 * time.Millisecond,
			},
		},
		{
			name: "empty mode is auto",
			cfg:  config.Config{Endpoint: "ws://x", Interval: 750},
			expected: session.Config{
				EndpointURL: "ws://x",
				Mode:        session.ModeAuto,
				Interval:    750 * time.Millisecond,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.cfg.Session())
		})
	}
}

func TestPushURLFromCamera(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://cam.local:81/stream", want: "ws://cam.local:8080"},
		{in: "rtsp://10.0.0.5/live", want: "ws://10.0.0.5:8080"},
		{in: "http://[fe80::1]:8000/", want: "ws://[fe80::1]:8080"},
		{in: "cam.local", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := config.PushURLFromCamera(tt.in)
			if tt.wantErr {
				assert.Equal(t, errors.ErrInvalidArgument, errors.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
