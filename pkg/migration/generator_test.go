package migration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_WriteAndList(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "migrations")
	g := NewGenerator(dir)

	first, err := g.Write(&Migration{Version: "20240101120000", Name: "create_main", UpSQL: "CREATE TABLE a (id INT);\n", DownSQL: "DROP TABLE a;\n"})
	require.NoError(t, err)
	_, err = g.Write(&Migration{Version: "20230101120000", Name: "older", UpSQL: "SELECT 1;\n", DownSQL: "SELECT 1;\n"})
	require.NoError(t, err)

	up, err := os.ReadFile(first.UpPath)
	require.NoError(t, err)
	assert.Equal(t, "-- Migration: create_main\n-- Created at: 20240101120000\n\nCREATE TABLE a (id INT);\n", string(up))
	assert.Equal(t, filepath.Join(dir, "20240101120000_create_main.down.sql"), first.DownPath)

	// A lone up file is not a complete migration.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20250101120000_partial.up.sql"), nil, 0o644))

	files, err := g.ListMigrations()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "older", files[0].Name)
	assert.Equal(t, "create_main", files[1].Name)
}

func TestGenerator_ListMissingDirectory(t *testing.T) {
	files, err := NewGenerator(filepath.Join(t.TempDir(), "none")).ListMigrations()
	require.NoError(t, err)
	assert.Empty(t, files)
}
