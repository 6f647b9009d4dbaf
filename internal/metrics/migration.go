package metrics

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"codeberg.org/mutker/sensordash/internal/errors"
	"codeberg.org/mutker/sensordash/internal/logger"
)

const backupTimeFormat = "20060102T150405Z"

// ValidateAndUpdateSchema makes db hold the current archive schema. An archive
// written under another schema version is copied to backupDir before its
// tables are rebuilt; the archive is write-only, so old rows are not carried
// over.
func ValidateAndUpdateSchema(db *sql.DB, backupDir string, log logger.Logger) error {
	version, err := GetSchemaVersion(db)
	if err != nil {
		return errors.New().Wrap(ErrSchemaValidationFailed, err)
	}

	switch version {
	case SchemaVersion:
		log.Debug().Int("version", version).Msg("Archive schema is current")
		return nil
	case 0:
		log.Debug().Msg("Creating sample archive")
	default:
		path, err := backupArchive(db, backupDir, version)
		if err != nil {
			return err
		}
		log.Warn().
			Int("found", version).
			Int("expected", SchemaVersion).
			Str("backup", path).
			Msg("Archive schema changed, previous archive backed up")
	}

	return rebuildSchema(db, log)
}

// BackupName returns the file name used for an archive of the given version.
func BackupName(version int, at time.Time) string {
	return fmt.Sprintf("samples_v%d_%s.db", version, at.UTC().Format(backupTimeFormat))
}

func backupArchive(db *sql.DB, backupDir string, version int) (string, error) {
	errFactory := errors.New()

	if err := os.MkdirAll(backupDir, defaultDirPerm); err != nil {
		return "", errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_backup_dir",
			Path:  backupDir,
			Error: err.Error(),
		})
	}

	path := filepath.Join(backupDir, BackupName(version, time.Now()))

	// VACUUM INTO cannot run inside a transaction.
	if _, err := db.Exec("VACUUM INTO ?", path); err != nil {
		return "", errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "backup",
			Path:  path,
			Error: err.Error(),
		})
	}

	return path, nil
}

// rebuildSchema drops and recreates every archive table in one transaction.
func rebuildSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			log.Debug().Err(err).Msg("Failed to roll back schema rebuild")
		}
	}()

	for _, table := range archiveTables {
		if _, err := tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			return errFactory.WithData(ErrSchemaMigrationFailed, struct {
				Table string
				Error string
			}{
				Table: table,
				Error: err.Error(),
			})
		}
	}

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	if _, err := tx.Exec(insertVersionSQL, SchemaVersion); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().Int("version", SchemaVersion).Msg("Archive schema created")

	return nil
}
