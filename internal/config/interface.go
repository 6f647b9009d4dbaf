package config

// DefaultEnvPrefix is prepended to every environment override, e.g.
// SENSORDASH_RECORDER_BACKEND.
const DefaultEnvPrefix = "SENSORDASH"

// Option adjusts how Load finds its sources.
type Option func(*options)

type options struct {
	configPath string
	envPrefix  string
	searchDirs []string
}

// WithConfigFile specifies an explicit configuration file path. It takes
// precedence over --config and the SENSORDASH_CONFIG variable.
func WithConfigFile(path string) Option {
	return func(o *options) {
		o.configPath = path
	}
}

// WithEnvPrefix specifies a custom environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(o *options) {
		o.envPrefix = prefix
	}
}

// WithSearchDirs replaces the directories searched for sensordash.toml when
// no explicit file is given.
func WithSearchDirs(dirs ...string) Option {
	return func(o *options) {
		o.searchDirs = dirs
	}
}

// RecorderBackend selects where dispatched samples are archived.
type RecorderBackend string

const (
	BackendNone   RecorderBackend = "none"
	BackendSQLite RecorderBackend = "sqlite"
	BackendInflux RecorderBackend = "influx"
)

// IsValid returns whether the backend is known
func (b RecorderBackend) IsValid() bool {
	switch b {
	case BackendNone, BackendSQLite, BackendInflux:
		return true
	default:
		return false
	}
}

// String implements the Stringer interface
func (b RecorderBackend) String() string {
	return string(b)
}
