package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Generator writes migration files.
type Generator struct {
	migrationsDir string
}

// NewGenerator creates a new migration file generator.
func NewGenerator(migrationsDir string) *Generator {
	return &Generator{
		migrationsDir: migrationsDir,
	}
}

// Write stores a migration as a pair of up and down files.
func (g *Generator) Write(m *Migration) (*MigrationFile, error) {
	if err := os.MkdirAll(g.migrationsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create migrations directory: %w", err)
	}
	version := m.Version
	if version == "" {
		version = GenerateVersion()
	}

	file := &MigrationFile{
		Version:  version,
		Name:     m.Name,
		UpPath:   filepath.Join(g.migrationsDir, GenerateFileName(version, m.Name, "up")),
		DownPath: filepath.Join(g.migrationsDir, GenerateFileName(version, m.Name, "down")),
	}
	header := fmt.Sprintf("-- Migration: %s\n-- Created at: %s\n\n", m.Name, version)
	if err := os.WriteFile(file.UpPath, []byte(header+m.UpSQL), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write up migration: %w", err)
	}
	if err := os.WriteFile(file.DownPath, []byte(header+m.DownSQL), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write down migration: %w", err)
	}
	return file, nil
}

// ListMigrations lists the complete migrations in the directory by version.
func (g *Generator) ListMigrations() ([]MigrationFile, error) {
	entries, err := os.ReadDir(g.migrationsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []MigrationFile{}, nil
		}
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	files := make(map[string]*MigrationFile)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		// {version}_{name}.{direction}.sql
		version, rest, ok := strings.Cut(entry.Name(), "_")
		if !ok {
			continue
		}
		path := filepath.Join(g.migrationsDir, entry.Name())
		var name string
		var up bool
		if name, ok = strings.CutSuffix(rest, ".up.sql"); ok {
			up = true
		} else if name, ok = strings.CutSuffix(rest, ".down.sql"); !ok {
			continue
		}
		f, exists := files[version]
		if !exists {
			f = &MigrationFile{Version: version, Name: name}
			files[version] = f
		}
		if up {
			f.UpPath = path
		} else {
			f.DownPath = path
		}
	}

	var out []MigrationFile
	for _, f := range files {
		if f.UpPath != "" && f.DownPath != "" {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
