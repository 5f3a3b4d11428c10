package postgresql

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewFromDB(sqlx.NewDb(db, "postgres"), logger), mock
}

func TestClient_HealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		client, mock := newMockClient(t)
		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

		assert.NoError(t, client.HealthCheck(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ping fails", func(t *testing.T) {
		client, mock := newMockClient(t)
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		err := client.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database health check failed")
	})

	t.Run("query fails", func(t *testing.T) {
		client, mock := newMockClient(t)
		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("read-only"))

		err := client.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database query health check failed")
	})
}

func TestClient_Migrate(t *testing.T) {
	fsys := fstest.MapFS{
		"002_words.up.sql":  {Data: []byte("CREATE TABLE IF NOT EXISTS b (id INT);")},
		"001_init.up.sql":   {Data: []byte("CREATE TABLE IF NOT EXISTS a (id INT);")},
		"001_init.down.sql": {Data: []byte("DROP TABLE a;")},
		"003_empty.up.sql":  {Data: []byte("  \n")},
		"README.md":         {Data: []byte("not a migration")},
	}

	t.Run("applies up files in order", func(t *testing.T) {
		client, mock := newMockClient(t)
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS a").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS b").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		require.NoError(t, client.Migrate(context.Background(), fsys))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed statement rolls back", func(t *testing.T) {
		client, mock := newMockClient(t)
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS a").WillReturnError(errors.New("syntax error"))
		mock.ExpectRollback()

		err := client.Migrate(context.Background(), fsys)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to apply migration 001_init.up.sql")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
