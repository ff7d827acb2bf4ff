//go:build integration
// +build integration

package inflatable_test

import (
	"context"
	"testing"
	"time"

	"github.com/marshallshelly/inflatable/pkg/cache"
	"github.com/marshallshelly/inflatable/pkg/mapping"
	"github.com/marshallshelly/inflatable/pkg/migration"
	"github.com/marshallshelly/inflatable/pkg/query"
	"github.com/marshallshelly/inflatable/pkg/registry"
	"github.com/marshallshelly/inflatable/pkg/runtime"
	"github.com/marshallshelly/inflatable/pkg/session"
	"github.com/marshallshelly/inflatable/pkg/track"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Test models
type Keeper struct {
	ID   int64
	Name string
}

type Animal struct {
	track.State
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

// setupTestDB creates a PostgreSQL container and returns its connection string
func setupTestDB(t *testing.T) string {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "failed to start PostgreSQL container")
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

// setupManager realizes the zoo schema and returns a manager over it
func setupManager(t *testing.T, provider, connStr string) *session.Manager {
	ctx := context.Background()

	ds := mapping.NewDataSource("main", 0)
	ds.Provider = provider
	ds.ConnectionString = connStr
	ds.SchemaGeneration = mapping.UpdateSchema

	reg := registry.NewRegistry()
	require.NoError(t, reg.AddDataSource(ds))
	require.NoError(t, reg.Register(
		mapping.New[Keeper]("main").ID("ID", mapping.AutoIncrement()).Reference("Name").MustBuild(),
		mapping.New[Animal]("main").ID("ID", mapping.AutoIncrement()).Reference("Name").Reference("Keeper").MustBuild(),
		mapping.New[Zoo]("main").
			ID("ID", mapping.AutoIncrement()).
			Reference("Name").
			ManyToOne("Animals", mapping.Cascade(true)).
			ManyToMany("Keepers").
			MustBuild(),
	))
	sources, err := reg.Resolve()
	require.NoError(t, err)

	driver, err := runtime.Open(ctx, provider, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })
	require.NoError(t, driver.Ping(ctx))

	drivers := map[string]runtime.Driver{"main": driver}
	results, err := migration.NewRealizer().RealizeAll(ctx, sources, drivers)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Applied)

	store, err := cache.New(cache.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	m, err := session.NewManager(sources, drivers, session.WithCache(store))
	require.NoError(t, err)
	return m
}

func TestIntegration_Postgres(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	connStr := setupTestDB(t)

	for _, provider := range []string{"postgres", "pq"} {
		t.Run(provider, func(t *testing.T) {
			ctx := context.Background()
			m := setupManager(t, provider, connStr)
			s := m.NewSession()

			t.Run("save graph", func(t *testing.T) {
				keeper := &Keeper{Name: "Ann-" + provider}
				zoo := &Zoo{
					Name:    "City-" + provider,
					Animals: []*Animal{{Name: "Rex-" + provider, Keeper: keeper}},
					Keepers: []*Keeper{keeper},
				}
				require.NoError(t, s.Save(keeper, zoo))
				require.NoError(t, s.Execute(ctx))
				assert.NotZero(t, keeper.ID)
				assert.NotZero(t, zoo.ID)
				assert.NotZero(t, zoo.Animals[0].ID)
			})

			t.Run("query and lazy load", func(t *testing.T) {
				rex, err := session.First(ctx, s, query.For[*Animal]().Where(query.Eq("Name", "Rex-"+provider)))
				require.NoError(t, err)
				assert.True(t, rex.Attached())
				require.NoError(t, track.Of(rex).EnsureLoaded(ctx, rex, "Keeper"))
				require.NotNil(t, rex.Keeper)
				assert.Equal(t, "Ann-"+provider, rex.Keeper.Name)
			})

			t.Run("update changed properties", func(t *testing.T) {
				rex, err := session.First(ctx, s, query.For[*Animal]().Where(query.Eq("Name", "Rex-"+provider)))
				require.NoError(t, err)
				rex.Name = "Max-" + provider
				rex.NotifyChanged("Name")
				require.NoError(t, s.Save(rex))
				require.NoError(t, s.Execute(ctx))

				got, err := session.Find(ctx, s, query.For[*Animal]().Where(query.Like("Name", "%-"+provider)))
				require.NoError(t, err)
				require.Len(t, got, 1)
				assert.Equal(t, "Max-"+provider, got[0].Name)
			})

			t.Run("delete cascades", func(t *testing.T) {
				zoo, err := session.First(ctx, s, query.For[*Zoo]().Where(query.Eq("Name", "City-"+provider)))
				require.NoError(t, err)
				require.NoError(t, m.Load(ctx, zoo, "Animals"))
				require.Len(t, zoo.Animals, 1)
				require.NoError(t, m.Load(ctx, zoo, "Keepers"))
				require.Len(t, zoo.Keepers, 1)

				require.NoError(t, s.Delete(zoo))
				require.NoError(t, s.Execute(ctx))

				animals, err := session.Find(ctx, s, query.For[*Animal]().Where(query.Like("Name", "%-"+provider)))
				require.NoError(t, err)
				assert.Empty(t, animals)
				keepers, err := session.Find(ctx, s, query.For[*Keeper]().Where(query.Eq("Name", "Ann-"+provider)))
				require.NoError(t, err)
				assert.Len(t, keepers, 1, "keepers are only linked, not owned")
			})
		})
	}
}
