package database

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T, name string, profile DatabaseProfile) *DB {
	t.Helper()
	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestBuildConnectionString(t *testing.T) {
	ledger := buildConnectionString("/tmp/ledger.db", ProfileLedger)
	assert.True(t, strings.HasPrefix(ledger, "/tmp/ledger.db?_pragma=journal_mode(WAL)"))
	assert.Contains(t, ledger, "synchronous(FULL)")
	assert.Contains(t, ledger, "foreign_keys(1)")

	std := buildConnectionString("file:test?mode=memory", ProfileStandard)
	assert.Contains(t, std, "file:test?mode=memory&_pragma=journal_mode(WAL)")
	assert.Contains(t, std, "synchronous(NORMAL)")
}

func TestMigrate_IsIdempotent(t *testing.T) {
	for _, name := range []string{NameLedger, NameConfig} {
		t.Run(name, func(t *testing.T) {
			db := newDB(t, name, ProfileStandard)
			require.NoError(t, db.Migrate())
			require.NoError(t, db.Migrate())
		})
	}

	db := newDB(t, NameLedger, ProfileLedger)
	require.NoError(t, db.Migrate())
	var count int
	require.NoError(t, db.Conn().QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('orders','fills','equity_history')",
	).Scan(&count))
	assert.Equal(t, 3, count)
}

func TestMigrate_UnknownNameSkipped(t *testing.T) {
	db := newDB(t, "scratch", ProfileCache)
	assert.NoError(t, db.Migrate())
	_, err := Schema("scratch")
	assert.Error(t, err)
}

func TestWithTransaction(t *testing.T) {
	db := newDB(t, NameConfig, ProfileStandard)
	require.NoError(t, db.Migrate())

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO settings (key, value, updated_at) VALUES ('a', '1', 0)")
		return err
	})
	require.NoError(t, err)

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO settings (key, value, updated_at) VALUES ('b', '2', 0)"); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in transaction")

	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM settings").Scan(&count))
	assert.Equal(t, 1, count)

	assert.Error(t, WithTransaction(nil, func(*sql.Tx) error { return nil }))
}

func TestHealthCheckAndBackup(t *testing.T) {
	db := newDB(t, NameLedger, ProfileLedger)
	require.NoError(t, db.Migrate())
	require.NoError(t, db.HealthCheck(context.Background()))
	require.NoError(t, db.WALCheckpoint(""))

	dest := filepath.Join(t.TempDir(), "backup", "ledger.db")
	require.NoError(t, db.BackupTo(context.Background(), dest))
	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Greater(t, stats.PageSize, int64(0))
}
