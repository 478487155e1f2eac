package database

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/vehiclesim/internal/config"
	"github.com/OCAP2/vehiclesim/internal/model"
)

func TestPostgresDSN(t *testing.T) {
	dsn := PostgresDSN(config.DBConfig{
		Host: "db", Port: "5432", Username: "u", Password: "p", Database: "sim",
	})
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=sim sslmode=disable", dsn)

	dsn = PostgresDSN(config.DBConfig{Host: "db", SSLMode: "require"})
	assert.Contains(t, dsn, "sslmode=require")
}

func TestOpenSqliteInMemoryAndMigrate(t *testing.T) {
	db, err := OpenSqlite("", t.Name())
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	for _, m := range model.DatabaseModels {
		assert.True(t, db.Migrator().HasTable(m))
	}
}

func TestDumpMemoryDBToDisk(t *testing.T) {
	db, err := OpenSqlite("", t.Name())
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	require.NoError(t, db.Create(&model.Session{Name: "dump"}).Error)

	path := filepath.Join(t.TempDir(), "sub", "session.db")
	require.NoError(t, DumpMemoryDBToDisk(db, path))
	// a second dump replaces the first
	require.NoError(t, DumpMemoryDBToDisk(db, path))

	onDisk, err := OpenSqlite(path, "")
	require.NoError(t, err)
	var sessions []model.Session
	require.NoError(t, onDisk.Find(&sessions).Error)
	require.Len(t, sessions, 1)
	assert.Equal(t, "dump", sessions[0].Name)

	paths, err := BackupDBPaths(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, []string{path}, paths)
}

func TestSqliteRoundTripsTimes(t *testing.T) {
	db, err := OpenSqlite("", t.Name())
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	start := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	end := start.Add(90 * time.Minute)
	require.NoError(t, db.Create(&model.Session{Name: "timed", StartTime: start, EndTime: &end}).Error)

	var got model.Session
	require.NoError(t, db.First(&got, "name = ?", "timed").Error)
	assert.True(t, start.Equal(got.StartTime), "start %v", got.StartTime)
	require.NotNil(t, got.EndTime)
	assert.True(t, end.Equal(*got.EndTime), "end %v", *got.EndTime)
}

func TestDumpWithoutPath(t *testing.T) {
	db, err := OpenSqlite("", t.Name())
	require.NoError(t, err)
	assert.ErrorIs(t, DumpMemoryDBToDisk(db, ""), ErrNoDumpPath)
}

func TestBackupDBPathsMissingDir(t *testing.T) {
	_, err := BackupDBPaths(filepath.Join(t.TempDir(), "nope"))
	assert.True(t, os.IsNotExist(err))
}
