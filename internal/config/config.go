package config

import (
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/sensordash/internal/errors"
	"codeberg.org/mutker/sensordash/internal/session"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultEndpoint     = "ws://localhost:8080"
	DefaultListen       = "127.0.0.1:8090"
	DefaultDBPath       = "/var/lib/sensordash/samples.db"
	DefaultPIDFile      = "sensordash.pid"
	DefaultBatchSize    = 50
	DefaultBatchTimeout = 5 * time.Second

	cameraPushPort = "8080"
	configName     = "sensordash"
)

// RecorderConfig configures the optional sample archive.
type RecorderConfig struct {
	Backend      RecorderBackend `mapstructure:"backend"`
	DBPath       string          `mapstructure:"db_path"`
	BatchSize    int             `mapstructure:"batch_size"`
	BatchTimeout time.Duration   `mapstructure:"batch_timeout"`
	InfluxURL    string          `mapstructure:"influx_url"`
	InfluxToken  string          `mapstructure:"influx_token"`
	InfluxOrg    string          `mapstructure:"influx_org"`
	InfluxBucket string          `mapstructure:"influx_bucket"`
}

type Config struct {
	Endpoint  string         `mapstructure:"endpoint"`
	Mode      string         `mapstructure:"mode"`
	Interval  int            `mapstructure:"interval"`
	Mock      bool           `mapstructure:"mock"`
	Autostart bool           `mapstructure:"autostart"`
	Debug     bool           `mapstructure:"debug"`
	Verbose   bool           `mapstructure:"verbose"`
	Listen    string         `mapstructure:"listen"`
	WebRoot   string         `mapstructure:"web_root"`
	CameraURL string         `mapstructure:"camera_url"`
	PIDFile   string         `mapstructure:"pid_file"`
	Recorder  RecorderConfig `mapstructure:"recorder"`
}

// Load reads flags from args, then the optional TOML file, then environment
// overrides. Flags given explicitly win over everything else.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{
		envPrefix:  DefaultEnvPrefix,
		searchDirs: []string{"/etc"},
	}
	for _, opt := range opts {
		opt(&o)
	}

	fs := pflag.NewFlagSet(configName, pflag.ContinueOnError)
	configFile := fs.String("config", "", "Path to a TOML configuration file")
	fs.String("endpoint", "", "Sensor endpoint (ws://, wss://, mqtt://, mqtts://, http://, https://)")
	fs.String("mode", string(session.ModeAuto), "Transport mode: auto, ws, http or mqtt")
	fs.Int("interval", int(session.DefaultInterval/time.Millisecond), "Mock and polling interval in milliseconds")
	fs.Bool("mock", false, "Generate mock data instead of connecting to an endpoint")
	fs.Bool("autostart", true, "Start acquisition on launch")
	fs.Bool("debug", false, "Enable debugging mode")
	fs.Bool("verbose", false, "Enable verbose logging")
	fs.String("listen", DefaultListen, "Dashboard API listen address, empty to disable")
	fs.String("web-root", "", "Directory of static dashboard files")
	fs.String("camera-url", "", "Camera URL; its host is used for the default push endpoint")
	fs.String("pid-file", DefaultPIDFile, "PID file path, relative paths resolve under the temp dir")
	fs.String("recorder-backend", string(BackendNone), "Sample recorder: none, sqlite or influx")
	fs.String("recorder-db-path", DefaultDBPath, "SQLite recorder database path")

	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
	}

	v := viper.New()
	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := bindFlags(v, fs); err != nil {
		return nil, err
	}

	path := o.configPath
	if path == "" {
		path = *configFile
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if err := readConfig(v, path, o.searchDirs); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
		if cfg.CameraURL != "" {
			if derived, err := PushURLFromCamera(cfg.CameraURL); err == nil {
				cfg.Endpoint = derived
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("endpoint", "")
	v.SetDefault("mode", string(session.ModeAuto))
	v.SetDefault("interval", int(session.DefaultInterval/time.Millisecond))
	v.SetDefault("mock", false)
	v.SetDefault("autostart", true)
	v.SetDefault("debug", false)
	v.SetDefault("verbose", false)
	v.SetDefault("listen", DefaultListen)
	v.SetDefault("web_root", "")
	v.SetDefault("camera_url", "")
	v.SetDefault("pid_file", DefaultPIDFile)
	v.SetDefault("recorder.backend", string(BackendNone))
	v.SetDefault("recorder.db_path", DefaultDBPath)
	v.SetDefault("recorder.batch_size", DefaultBatchSize)
	v.SetDefault("recorder.batch_timeout", DefaultBatchTimeout)
	v.SetDefault("recorder.influx_url", "")
	v.SetDefault("recorder.influx_token", "")
	v.SetDefault("recorder.influx_org", "")
	v.SetDefault("recorder.influx_bucket", "")
}

// bindFlags maps dashed flag names onto their config keys. Only flags set on
// the command line override file and environment values.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	keys := map[string]string{
		"endpoint":         "endpoint",
		"mode":             "mode",
		"interval":         "interval",
		"mock":             "mock",
		"autostart":        "autostart",
		"debug":            "debug",
		"verbose":          "verbose",
		"listen":           "listen",
		"web-root":         "web_root",
		"camera-url":       "camera_url",
		"pid-file":         "pid_file",
		"recorder-backend": "recorder.backend",
		"recorder-db-path": "recorder.db_path",
	}

	for name, key := range keys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return errors.New().Wrap(errors.ErrBindFlags, err)
		}
	}

	return nil
}

func readConfig(v *viper.Viper, path string, dirs []string) error {
	errFactory := errors.New()
	v.SetConfigType("toml")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
		return nil
	}

	v.SetConfigName(configName)
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	return nil
}

// Validate checks the configuration values
func (c *Config) Validate() error {
	errFactory := errors.New()

	if _, err := session.ParseMode(c.Mode); err != nil {
		return err
	}

	if !c.Recorder.Backend.IsValid() {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "unknown recorder backend").
			WithData(c.Recorder.Backend.String())
	}

	switch c.Recorder.Backend {
	case BackendSQLite:
		if c.Recorder.DBPath == "" {
			return errFactory.WithMessage(errors.ErrMissingConfig, "recorder.db_path is required")
		}
	case BackendInflux:
		if c.Recorder.InfluxURL == "" || c.Recorder.InfluxBucket == "" {
			return errFactory.WithMessage(errors.ErrMissingConfig, "recorder.influx_url and recorder.influx_bucket are required")
		}
	}

	if c.Recorder.BatchSize < 1 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "recorder.batch_size must be positive").
			WithData(c.Recorder.BatchSize)
	}

	if c.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Listen); err != nil {
			return errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	return nil
}

// Session returns the acquisition settings. Validate must have passed.
func (c *Config) Session() session.Config {
	mode, _ := session.ParseMode(c.Mode)

	return session.Config{
		EndpointURL: c.Endpoint,
		Mode:        mode,
		Interval:    session.NormalizeInterval(c.Interval),
		UseMock:     c.Mock,
	}
}

// PushURLFromCamera derives the sensor push endpoint served next to a camera:
// the camera's host on port 8080 over plain WebSocket.
func PushURLFromCamera(cameraURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(cameraURL))
	if err != nil || u.Scheme == "" || u.Hostname() == "" {
		return "", errors.New().WithMessage(errors.ErrInvalidArgument, "Enter a valid camera URL first").
			WithData(cameraURL)
	}

	return "ws://" + net.JoinHostPort(u.Hostname(), cameraPushPort), nil
}
