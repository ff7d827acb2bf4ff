// Package migration realizes the physical schema of resolved mapping
// sources: it plans the DDL of a source and applies it according to the
// source's schema generation policy.
package migration

import (
	"time"

	"github.com/marshallshelly/inflatable/pkg/mapping"
)

// Migration is a pair of up and down scripts.
type Migration struct {
	Version string // Version/timestamp (e.g., "20240101120000")
	Name    string // Migration name (e.g., "create_main")
	UpSQL   string
	DownSQL string
}

// MigrationFile represents a migration file on disk.
type MigrationFile struct {
	Version  string // Version/timestamp
	Name     string // Migration name
	UpPath   string // Path to .up.sql file
	DownPath string // Path to .down.sql file
}

// Result describes what Realize did for one data source.
type Result struct {
	DataSource string
	Policy     mapping.SchemaGeneration
	Statements []string
	// Applied is set when the statements were executed.
	Applied bool
}

// GenerateVersion generates a timestamp-based version string.
// Format: YYYYMMDDHHmmss (e.g., "20240101120000")
func GenerateVersion() string {
	return time.Now().Format("20060102150405")
}

// GenerateFileName generates a migration filename.
// Format: {version}_{name}.{up|down}.sql
func GenerateFileName(version, name, direction string) string {
	return version + "_" + name + "." + direction + ".sql"
}
