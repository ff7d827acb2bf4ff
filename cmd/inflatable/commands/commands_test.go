package commands

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/marshallshelly/inflatable/cmd/inflatable/output"
	"github.com/marshallshelly/inflatable/pkg/mapping"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Keeper struct {
	ID   int64
	Name string
}

type Animal struct {
	ID     int64
	Name   string
	Keeper *Keeper
}

// setup writes a configuration, captures output and resets the flags.
func setup(t *testing.T, content string) *bytes.Buffer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inflatable.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	var buf bytes.Buffer
	prev := output.Writer
	output.Writer = &buf
	configFiles = []string{path}
	verbose, jsonOutput, watch = false, false, false
	planSource, migrationsDir, apply, drop = "", "", false, false
	mappings = nil
	t.Cleanup(func() {
		output.Writer = prev
		mappings = nil
	})
	return &buf
}

func zooMappings() []*mapping.Mapping {
	return []*mapping.Mapping{
		mapping.New[Keeper]("main").ID("ID", mapping.AutoIncrement()).Reference("Name").MustBuild(),
		mapping.New[Animal]("main").ID("ID", mapping.AutoIncrement()).Reference("Name").Reference("Keeper").MustBuild(),
	}
}

func sqliteConfig(t *testing.T, policy string) (string, string) {
	t.Helper()
	db := filepath.Join(t.TempDir(), "zoo.db")
	return "data_sources:\n  - name: main\n    provider: sqlite\n    connection_string: file:" + db + "\n    schema_generation: " + policy + "\n", db
}

func TestCheck(t *testing.T) {
	content := `
data_sources:
  - name: local
    provider: sqlite
    connection_string: "file::memory:"
  - name: remote
    provider: mysql
    connection_string: "root@tcp(127.0.0.1:1)/zoo"
  - name: declared
`
	t.Run("reports failures", func(t *testing.T) {
		buf := setup(t, content)
		err := runCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 of 2 data sources failed")
		assert.Contains(t, buf.String(), "local")
		assert.Contains(t, buf.String(), "remote")
		assert.NotContains(t, buf.String(), "declared")
	})

	t.Run("json", func(t *testing.T) {
		buf := setup(t, content)
		jsonOutput = true
		require.Error(t, runCheck(context.Background()))

		var statuses []SourceStatus
		require.NoError(t, json.Unmarshal(buf.Bytes(), &statuses))
		require.Len(t, statuses, 2)
		assert.Equal(t, "ok", statuses[0].Status)
		assert.Equal(t, "failed", statuses[1].Status)
		assert.NotEmpty(t, statuses[1].Error)
	})
}

func TestOptions(t *testing.T) {
	buf := setup(t, "options:\n  max_cache_size: 12\nredis:\n  addr: cache:6379\n")
	jsonOutput = true
	require.NoError(t, runOptions(context.Background()))

	var view optionsView
	require.NoError(t, json.Unmarshal(buf.Bytes(), &view))
	assert.Equal(t, 12, view.MaxCacheSize)
	assert.Equal(t, "1m0s", view.ScanFrequency)
	assert.Equal(t, "redis cache:6379", view.Backend)
}

func TestPlan(t *testing.T) {
	t.Run("without mappings", func(t *testing.T) {
		content, _ := sqliteConfig(t, "UpdateSchema")
		buf := setup(t, content)
		require.NoError(t, runPlan(context.Background()))
		assert.Contains(t, buf.String(), "No mappings registered")
	})

	t.Run("prints statements", func(t *testing.T) {
		content, _ := sqliteConfig(t, "GenerateAnalysis")
		buf := setup(t, content)
		mappings = zooMappings()
		jsonOutput = true
		require.NoError(t, runPlan(context.Background()))

		var plans []SourcePlan
		require.NoError(t, json.Unmarshal(buf.Bytes(), &plans))
		require.Len(t, plans, 1)
		assert.Equal(t, "main", plans[0].DataSource)
		assert.Equal(t, "GenerateAnalysis", plans[0].Policy)
		assert.Len(t, plans[0].Statements, 3)
		assert.False(t, plans[0].Applied)
	})

	t.Run("writes migration files", func(t *testing.T) {
		content, _ := sqliteConfig(t, "NoAnalysis")
		buf := setup(t, content)
		mappings = zooMappings()
		migrationsDir = filepath.Join(t.TempDir(), "migrations")
		require.NoError(t, runPlan(context.Background()))

		entries, err := os.ReadDir(migrationsDir)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
		assert.Contains(t, buf.String(), "Created migration")
	})

	t.Run("applies policy", func(t *testing.T) {
		content, path := sqliteConfig(t, "UpdateSchema")
		buf := setup(t, content)
		mappings = zooMappings()
		apply = true
		require.NoError(t, runPlan(context.Background()))
		assert.Contains(t, buf.String(), "Applied 3 statement(s)")

		db, err := sql.Open("sqlite", "file:"+path)
		require.NoError(t, err)
		defer db.Close()
		var n int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('keeper', 'animal')`).Scan(&n))
		assert.Equal(t, 2, n)

		// Tables are only created when missing, so applying again succeeds.
		require.NoError(t, runPlan(context.Background()))
	})

	t.Run("unknown source", func(t *testing.T) {
		content, _ := sqliteConfig(t, "NoAnalysis")
		setup(t, content)
		mappings = zooMappings()
		planSource = "other"
		assert.Error(t, runPlan(context.Background()))
	})
}
