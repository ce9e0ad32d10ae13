package db

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateIsIdempotent(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(db, SQLite, nil))
	require.NoError(t, Migrate(db, SQLite, nil))

	versions, err := AppliedVersions(db)
	require.NoError(t, err)
	assert.Equal(t, []string{"000", "001"}, versions)
}

func TestMigrationEnforcesTerminalInvariants(t *testing.T) {
	db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	insert := `INSERT INTO generation_jobs
		(id, external_task_id, provider, kind, model, status, result_url, error_message, created_at, updated_at)
		VALUES (?, ?, 'dashscope', 'video', 'm', ?, ?, ?, datetime('now'), datetime('now'))`

	tests := []struct {
		name      string
		status    string
		resultURL sql.NullString
		errMsg    sql.NullString
		wantErr   bool
	}{
		{"processing clean", "processing", sql.NullString{}, sql.NullString{}, false},
		{"processing with url", "processing", sql.NullString{String: "https://x/a.mp4", Valid: true}, sql.NullString{}, true},
		{"completed with url", "completed", sql.NullString{String: "https://x/a.mp4", Valid: true}, sql.NullString{}, false},
		{"completed without url", "completed", sql.NullString{}, sql.NullString{}, true},
		{"failed with message", "failed", sql.NullString{}, sql.NullString{String: "boom", Valid: true}, false},
		{"failed with both", "failed", sql.NullString{String: "https://x", Valid: true}, sql.NullString{String: "boom", Valid: true}, true},
		{"unknown status", "queued", sql.NullString{}, sql.NullString{}, true},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := filepath.Base(t.Name())
			_, err := db.Exec(insert, id, "task-"+string(rune('a'+i)), tt.status, tt.resultURL, tt.errMsg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMigratePostgresSkipsApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// 000 always runs; it is idempotent
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO schema_migrations \(version\) VALUES \(\$1\) ON CONFLICT`).
		WithArgs("000").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM schema_migrations WHERE version = \$1\)`).
		WithArgs("001").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	require.NoError(t, Migrate(db, Postgres, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}
