package metrics_test

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/sensordash/internal/logger"
	"codeberg.org/mutker/sensordash/internal/metrics"
	"codeberg.org/mutker/sensordash/internal/sample"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectRebuild(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec("DROP TABLE IF EXISTS samples").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DROP TABLE IF EXISTS schema_versions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_versions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_versions").
		WithArgs(metrics.SchemaVersion).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
}

func expectFreshSchema(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("schema_versions").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	expectRebuild(mock)
}

func expectClose(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`PRAGMA wal_checkpoint\(TRUNCATE\)`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()
}

func newMockRepository(t *testing.T, cfg metrics.Config) (metrics.Repository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	expectFreshSchema(mock)

	repo, err := metrics.NewRepositoryWithDB(db, cfg, logger.Nop())
	require.NoError(t, err)

	return repo, mock, db
}

func TestRepositoryFlushesOnClose(t *testing.T) {
	repo, mock, _ := newMockRepository(t, metrics.Config{BatchSize: 10, BatchTimeout: time.Hour})

	full := &sample.Sample{
		Timestamp:   1000,
		Temperature: sample.Float(21.5),
		Battery:     sample.Float(80),
		GPS:         &sample.GPS{Lat: sample.Float(28.6), Lng: sample.Float(77.2)},
		BotStatus:   sample.String("Moving"),
	}
	partial := &sample.Sample{Timestamp: 2000, Gas: sample.Float(130)}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO samples")
	prep.ExpectExec().
		WithArgs(int64(1000), 21.5, nil, nil, 80.0, 28.6, 77.2, "Moving", nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().
		WithArgs(int64(2000), nil, nil, 130.0, nil, nil, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()
	expectClose(mock)

	require.NoError(t, repo.Record(full))
	require.NoError(t, repo.Record(partial))
	require.NoError(t, repo.Close())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryFlushesFullBatch(t *testing.T) {
	repo, mock, _ := newMockRepository(t, metrics.Config{BatchSize: 2, BatchTimeout: time.Hour})

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO samples")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Record(&sample.Sample{Timestamp: 1}))
	require.NoError(t, repo.Record(&sample.Sample{Timestamp: 2}))

	require.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, 2*time.Second, 10*time.Millisecond)

	expectClose(mock)
	require.NoError(t, repo.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryStoresExtraFields(t *testing.T) {
	repo, mock, _ := newMockRepository(t, metrics.Config{BatchSize: 10, BatchTimeout: time.Hour})

	raw, err := sample.Parse([]byte(`{"timestamp":5,"humidity":40}`))
	require.NoError(t, err)
	s := sample.Normalize(raw, func() int64 { return 0 })

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO samples").ExpectExec().
		WithArgs(int64(5), nil, nil, nil, nil, nil, nil, nil, `{"humidity":40}`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	expectClose(mock)

	require.NoError(t, repo.Record(&s))
	require.NoError(t, repo.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryRollsBackFailedBatch(t *testing.T) {
	repo, mock, _ := newMockRepository(t, metrics.Config{BatchSize: 10, BatchTimeout: time.Hour})

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO samples").ExpectExec().WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()
	expectClose(mock)

	require.NoError(t, repo.Record(&sample.Sample{Timestamp: 1}))
	require.NoError(t, repo.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryKeepsCurrentSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("schema_versions").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT version").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(metrics.SchemaVersion))

	repo, err := metrics.NewRepositoryWithDB(db, metrics.Config{BatchSize: 1, BatchTimeout: time.Hour}, logger.Nop())
	require.NoError(t, err)

	expectClose(mock)
	require.NoError(t, repo.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositorySchemaFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT EXISTS").WillReturnError(sql.ErrConnDone)

	_, err = metrics.NewRepositoryWithDB(db, metrics.Config{}, logger.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema_version")
}

func TestRepositoryRetriesFailedBatch(t *testing.T) {
	repo, mock, _ := newMockRepository(t, metrics.Config{BatchSize: 1, BatchTimeout: time.Hour})

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO samples").ExpectExec().WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	require.NoError(t, repo.Record(&sample.Sample{Timestamp: 1}))
	require.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, 2*time.Second, 10*time.Millisecond)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO samples")
	prep.ExpectExec().
		WithArgs(int64(1), nil, nil, nil, nil, nil, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().
		WithArgs(int64(2), nil, nil, nil, nil, nil, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Record(&sample.Sample{Timestamp: 2}))
	require.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, 2*time.Second, 10*time.Millisecond)

	expectClose(mock)
	require.NoError(t, repo.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryRecordDoesNotWaitForSlowFlush(t *testing.T) {
	repo, mock, _ := newMockRepository(t, metrics.Config{BatchSize: 1, BatchTimeout: time.Hour})

	mock.ExpectBegin().WillDelayFor(time.Second)
	mock.ExpectPrepare("INSERT INTO samples").ExpectExec().
		WithArgs(int64(1), nil, nil, nil, nil, nil, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO samples").ExpectExec().
		WithArgs(int64(2), nil, nil, nil, nil, nil, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Record(&sample.Sample{Timestamp: 1}))
	// Let the flusher enter the delayed transaction.
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	require.NoError(t, repo.Record(&sample.Sample{Timestamp: 2}))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	require.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, 3*time.Second, 10*time.Millisecond)

	expectClose(mock)
	require.NoError(t, repo.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

// backupFile matches a VACUUM INTO target for an archive of version.
type backupFile struct {
	dir     string
	version int
}

func (b backupFile) Match(v driver.Value) bool {
	path, ok := v.(string)
	if !ok {
		return false
	}
	name := filepath.Base(path)

	return filepath.Dir(path) == b.dir &&
		strings.HasPrefix(name, fmt.Sprintf("samples_v%d_", b.version)) &&
		strings.HasSuffix(name, ".db")
}

func expectVersion(mock sqlmock.Sqlmock, version int) {
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("schema_versions").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT version").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(version))
}

func TestRepositoryBacksUpMismatchedSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "backups")
	found := metrics.SchemaVersion + 1

	expectVersion(mock, found)
	mock.ExpectExec(`VACUUM INTO \?`).
		WithArgs(backupFile{dir: dir, version: found}).
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectRebuild(mock)

	cfg := metrics.Config{BackupDir: dir, BatchSize: 1, BatchTimeout: time.Hour}
	repo, err := metrics.NewRepositoryWithDB(db, cfg, logger.Nop())
	require.NoError(t, err)
	assert.DirExists(t, dir)

	expectClose(mock)
	require.NoError(t, repo.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryKeepsArchiveWhenBackupFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectVersion(mock, metrics.SchemaVersion+1)
	mock.ExpectExec(`VACUUM INTO \?`).WillReturnError(sql.ErrConnDone)

	cfg := metrics.Config{BackupDir: t.TempDir(), BatchSize: 1, BatchTimeout: time.Hour}
	_, err = metrics.NewRepositoryWithDB(db, cfg, logger.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup")

	// No tables were dropped.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBackupName(t *testing.T) {
	at := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	assert.Equal(t, "samples_v1_20240309T140506Z.db", metrics.BackupName(1, at))
}
