package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteInMemory(t *testing.T) {
	db, err := Open(context.Background(), Config{Driver: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	defer db.Close()

	assert.True(t, IsSQLite(db))
	assert.Equal(t, 1, db.DB.Stats().MaxOpenConnections)

	var one int
	require.NoError(t, db.NewSelect().ColumnExpr("1").Scan(context.Background(), &one))
	assert.Equal(t, 1, one)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"})
	assert.Error(t, err)
}

func TestOpenPostgresBadDSN(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "postgres", DSN: "::not a dsn::"})
	assert.Error(t, err)
}
