package database

import (
	"path/filepath"
	"testing"

	"github.com/fyerfyer/lang-data/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMemory(t *testing.T) {
	db, err := Open(&Config{Type: "sqlite", DSN: ":memory:"}, logrus.New())
	require.NoError(t, err)
	defer Close(db)

	assert.True(t, db.Migrator().HasTable(&models.Source{}))
}

func TestOpenCreatesDirectory(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "ledger.db")
	db, err := Open(&Config{Type: "sqlite", DSN: dsn}, nil)
	require.NoError(t, err)
	require.NoError(t, Close(db))
	assert.FileExists(t, dsn)
}

func TestOpenUnsupportedType(t *testing.T) {
	_, err := Open(&Config{Type: "oracle"}, logrus.New())
	assert.Error(t, err)
}

func TestIsMemory(t *testing.T) {
	assert.True(t, isMemory(":memory:"))
	assert.True(t, isMemory("file:ledger?mode=memory&cache=shared"))
	assert.False(t, isMemory("data/ledger.db"))
}
