package metrics

import (
	"path/filepath"
	"time"

	"codeberg.org/mutker/sensordash/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm      = 0o755
	defaultDBPath       = "/var/lib/sensordash/samples.db"
	defaultBatchSize    = 50
	defaultBatchTimeout = 5 * time.Second

	// bufferFactor bounds how many batches may queue up while the store is failing.
	bufferFactor = 10
)

// Backend selects where samples are archived.
type Backend string

const (
	BackendNone   Backend = "none"
	BackendSQLite Backend = "sqlite"
	BackendInflux Backend = "influx"
)

type Config struct {
	Backend      Backend
	DBPath       string
	BackupDir    string
	BatchSize    int
	BatchTimeout time.Duration

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
}

func DefaultConfig() Config {
	return Config{
		Backend:      BackendNone, // Disabled by default
		DBPath:       defaultDBPath,
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	switch c.Backend {
	case BackendNone, "":
		return nil
	case BackendSQLite:
		if c.DBPath == "" {
			return errFactory.New(ErrInvalidDBPath)
		}
		if c.BatchSize < 1 {
			return errFactory.WithData(ErrInvalidConfig, c.BatchSize)
		}
	case BackendInflux:
		if c.InfluxURL == "" || c.InfluxBucket == "" {
			return errFactory.WithMessage(ErrInvalidConfig, "influx url and bucket are required")
		}
	default:
		return errFactory.WithData(ErrInvalidConfig, c.Backend)
	}

	return nil
}

// backupDir defaults to a backups directory next to the database.
func (c Config) backupDir() string {
	if c.BackupDir != "" {
		return c.BackupDir
	}
	return filepath.Join(filepath.Dir(c.DBPath), "backups")
}
