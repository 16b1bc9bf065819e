package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func TestNewDatabase_CreatesTables(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "library.db")

	db, err := NewDatabaseWithOptions(dbPath, Options{LogLevel: logger.Silent})
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"local_files", "upload_queue", "sync_progress"} {
		assert.True(t, db.DB.Migrator().HasTable(table), "table %s should exist", table)
	}
	assert.NoError(t, db.Ping())
}

func TestNewDatabase_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "library.db")

	db, err := NewDatabaseWithOptions(dbPath, Options{LogLevel: logger.Silent})
	require.NoError(t, err)
	require.NoError(t, db.DB.Exec(`INSERT INTO local_files (filepath, is_downloaded) VALUES ('a.epub', true)`).Error)
	require.NoError(t, db.Close())

	db, err = NewDatabaseWithOptions(dbPath, Options{LogLevel: logger.Silent})
	require.NoError(t, err)
	defer db.Close()

	var count int64
	require.NoError(t, db.DB.Table("local_files").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "a.db?"+durablePragmas, dsn("a.db"))
	assert.Equal(t, "file::memory:?cache=shared&"+durablePragmas, dsn("file::memory:?cache=shared"))
}
