package migration

import (
	"testing"

	"github.com/marshallshelly/inflatable/pkg/dialect"
	"github.com/marshallshelly/inflatable/pkg/mapping"
	"github.com/marshallshelly/inflatable/pkg/schema"
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

type Zoo struct {
	ID      int64
	Name    string
	Animals []*Animal
	Keepers []*Keeper
}

type Tag struct {
	Code  string
	Label string
}

func zooSource(t *testing.T, ds *mapping.DataSource) *schema.MappingSource {
	t.Helper()
	src, err := schema.Resolve([]*mapping.Mapping{
		mapping.New[Keeper]("main").ID("ID", mapping.AutoIncrement()).Reference("Name").MustBuild(),
		mapping.New[Animal]("main").ID("ID", mapping.AutoIncrement()).Reference("Name").Reference("Keeper").MustBuild(),
		mapping.New[Zoo]("main").
			ID("ID", mapping.AutoIncrement()).
			Reference("Name").
			ManyToOne("Animals", mapping.Cascade(true)).
			ManyToMany("Keepers").
			MustBuild(),
		mapping.New[Tag]("main").ID("Code").Reference("Label", mapping.MaxLength(40)).MustBuild(),
	}, ds)
	require.NoError(t, err)
	return src
}

func planner(t *testing.T, provider string, opts ...PlannerOptions) *Planner {
	t.Helper()
	d, err := dialect.For(provider)
	require.NoError(t, err)
	if len(opts) > 0 {
		return NewPlannerWithOptions(d, opts[0])
	}
	return NewPlanner(d)
}

func TestPlanner_Plan(t *testing.T) {
	src := zooSource(t, mapping.NewDataSource("main", 0))

	t.Run("postgres", func(t *testing.T) {
		stmts := planner(t, dialect.Postgres).Plan(src)
		assert.Equal(t, []string{
			"CREATE TABLE IF NOT EXISTS \"keeper\" (\n    \"id\" BIGSERIAL PRIMARY KEY,\n    \"name\" TEXT NOT NULL\n)",
			"CREATE TABLE IF NOT EXISTS \"animal\" (\n    \"id\" BIGSERIAL PRIMARY KEY,\n    \"name\" TEXT NOT NULL,\n    \"keeper_id\" BIGINT,\n    \"zoo_animals_id\" BIGINT\n)",
			`CREATE INDEX IF NOT EXISTS "idx_animal_keeper_id" ON "animal" ("keeper_id")`,
			`CREATE INDEX IF NOT EXISTS "idx_animal_zoo_animals_id" ON "animal" ("zoo_animals_id")`,
			"CREATE TABLE IF NOT EXISTS \"zoo\" (\n    \"id\" BIGSERIAL PRIMARY KEY,\n    \"name\" TEXT NOT NULL\n)",
			"CREATE TABLE IF NOT EXISTS \"tag\" (\n    \"code\" TEXT NOT NULL,\n    \"label\" VARCHAR(40) NOT NULL,\n    PRIMARY KEY (\"code\")\n)",
			"CREATE TABLE IF NOT EXISTS \"zoo_keepers\" (\n    \"zoo_id\" BIGINT NOT NULL,\n    \"keeper_id\" BIGINT NOT NULL,\n    PRIMARY KEY (\"zoo_id\", \"keeper_id\")\n)",
			`CREATE INDEX IF NOT EXISTS "idx_zoo_keepers_keeper_id" ON "zoo_keepers" ("keeper_id")`,
		}, stmts)
	})

	t.Run("mysql declares indexes inline", func(t *testing.T) {
		stmts := planner(t, dialect.MySQL).Plan(src)
		require.Len(t, stmts, 5)
		assert.Contains(t, stmts[1], "INDEX `idx_animal_keeper_id` (`keeper_id`)")
		assert.Contains(t, stmts[1], "`id` BIGINT AUTO_INCREMENT PRIMARY KEY")
		assert.Contains(t, stmts[4], "INDEX `idx_zoo_keepers_keeper_id` (`keeper_id`)")
	})

	t.Run("sqlite without options", func(t *testing.T) {
		stmts := planner(t, dialect.SQLite, PlannerOptions{}).Plan(src)
		require.Len(t, stmts, 5)
		assert.Equal(t, "CREATE TABLE \"keeper\" (\n    \"id\" INTEGER PRIMARY KEY AUTOINCREMENT,\n    \"name\" TEXT NOT NULL\n)", stmts[0])
		for _, s := range stmts {
			assert.NotContains(t, s, "IF NOT EXISTS")
			assert.NotContains(t, s, "INDEX")
		}
	})
}

func TestPlanner_PlanDrop(t *testing.T) {
	src := zooSource(t, mapping.NewDataSource("main", 0))
	assert.Equal(t, []string{
		`DROP TABLE IF EXISTS "zoo_keepers"`,
		`DROP TABLE IF EXISTS "tag"`,
		`DROP TABLE IF EXISTS "zoo"`,
		`DROP TABLE IF EXISTS "animal"`,
		`DROP TABLE IF EXISTS "keeper"`,
	}, planner(t, dialect.Postgres).PlanDrop(src))
}

func TestPlanner_Migration(t *testing.T) {
	src := zooSource(t, mapping.NewDataSource("main", 0))
	m := planner(t, dialect.Postgres).Migration(src, "create_main")

	assert.Equal(t, "create_main", m.Name)
	assert.Len(t, m.Version, 14)
	assert.Contains(t, m.UpSQL, "PRIMARY KEY (\"code\")\n);\n\n")
	assert.True(t, len(m.DownSQL) > 0 && m.DownSQL[len(m.DownSQL)-2:] == ";\n")
}
