package session

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/marshallshelly/inflatable/pkg/dialect"
	"github.com/marshallshelly/inflatable/pkg/mapping"
	"github.com/marshallshelly/inflatable/pkg/runtime"
	"github.com/marshallshelly/inflatable/pkg/schema"
	"github.com/marshallshelly/inflatable/pkg/track"
	"github.com/stretchr/testify/require"
)

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

func (a *Animal) SetName(name string) {
	a.Name = name
	a.NotifyChanged("Name")
}

type Node struct {
	ID     int64
	Name   string
	Parent *Node
}

type Zoo struct {
	ID      int64
	Name    string
	Animals []*Animal
}

type AllReferencesAndID struct {
	ID        int64
	Name      string
	BoolValue bool
}

// LogLine has no identity: every stored row is a separate entity.
type LogLine struct {
	Text string
}

// Split stores one value in each of two data sources.
type Split struct {
	ID     int64
	Value1 string
	Value2 string
}

func mainSource(t *testing.T) *schema.MappingSource {
	t.Helper()
	src, err := schema.Resolve([]*mapping.Mapping{
		mapping.New[Keeper]("main").ID("ID", mapping.AutoIncrement()).Reference("Name").MustBuild(),
		mapping.New[Animal]("main").ID("ID", mapping.AutoIncrement()).Reference("Name").Reference("Keeper").MustBuild(),
		mapping.New[Node]("main").
			ID("ID", mapping.AutoIncrement()).
			Reference("Name").
			Reference("Parent", mapping.Cascade(true)).
			MustBuild(),
		mapping.New[AllReferencesAndID]("main").
			ID("ID", mapping.AutoIncrement()).
			Reference("Name").
			Reference("BoolValue").
			MustBuild(),
	}, mapping.NewDataSource("main", 0))
	require.NoError(t, err)
	return src
}

func logSource(t *testing.T) *schema.MappingSource {
	t.Helper()
	src, err := schema.Resolve([]*mapping.Mapping{
		mapping.New[LogLine]("main").Reference("Text").MustBuild(),
	}, mapping.NewDataSource("main", 0))
	require.NoError(t, err)
	return src
}

func zooSource(t *testing.T, cascade bool) *schema.MappingSource {
	t.Helper()
	src, err := schema.Resolve([]*mapping.Mapping{
		mapping.New[Keeper]("main").ID("ID", mapping.AutoIncrement()).Reference("Name").MustBuild(),
		mapping.New[Animal]("main").ID("ID", mapping.AutoIncrement()).Reference("Name").Reference("Keeper").MustBuild(),
		mapping.New[Zoo]("main").
			ID("ID", mapping.AutoIncrement()).
			Reference("Name").
			ManyToOne("Animals", mapping.Cascade(cascade)).
			MustBuild(),
	}, mapping.NewDataSource("main", 0))
	require.NoError(t, err)
	return src
}

func splitSources(t *testing.T) []*schema.MappingSource {
	t.Helper()
	one, err := schema.Resolve([]*mapping.Mapping{
		mapping.New[Split]("one").ID("ID", mapping.AutoIncrement()).Reference("Value1", mapping.Column("value1")).MustBuild(),
	}, mapping.NewDataSource("one", 0))
	require.NoError(t, err)
	two, err := schema.Resolve([]*mapping.Mapping{
		mapping.New[Split]("two").ID("ID", mapping.AutoIncrement()).Reference("Value2", mapping.Column("value2")).MustBuild(),
	}, mapping.NewDataSource("two", 1))
	require.NoError(t, err)
	return []*schema.MappingSource{two, one}
}

func mockDriver(t *testing.T) (runtime.Driver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	d, err := dialect.For(dialect.SQLite)
	require.NoError(t, err)
	return runtime.NewSQLDriver(db, d), mock
}

func newManager(t *testing.T, src *schema.MappingSource, opts ...Option) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	drv, mock := mockDriver(t)
	m, err := NewManager([]*schema.MappingSource{src}, map[string]runtime.Driver{src.Name(): drv}, opts...)
	require.NoError(t, err)
	return m, mock
}

// blockingDriver holds Acquire until released, then fails.
type blockingDriver struct {
	entered chan struct{}
	release chan struct{}
}

func newBlockingDriver() *blockingDriver {
	return &blockingDriver{entered: make(chan struct{}), release: make(chan struct{})}
}

func (d *blockingDriver) Dialect() dialect.Dialect {
	dl, _ := dialect.For(dialect.SQLite)
	return dl
}

func (d *blockingDriver) Acquire(ctx context.Context) (runtime.Conn, error) {
	close(d.entered)
	select {
	case <-d.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return nil, runtime.ErrNoConnection
}

func (d *blockingDriver) Ping(context.Context) error { return nil }

func (d *blockingDriver) Close() error { return nil }
