package builder

import (
	"reflect"
	"testing"

	"github.com/marshallshelly/inflatable/pkg/dialect"
	"github.com/marshallshelly/inflatable/pkg/mapping"
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

type Dog struct {
	Animal
	Breed string
}

type Zoo struct {
	ID      int64
	Name    string
	Animals []*Animal
	Keepers []*Keeper
}

// Visitor is not mapped.
type Visitor struct {
	Name string
}

// Note has no identity.
type Note struct {
	Text string
}

type Tag struct {
	Code  string
	Label *string
}

type Named interface {
	DisplayName() string
}

type Labelled interface {
	Label() string
}

// Person inherits Title from two mapped interfaces declaring it differently.
type Person struct {
	ID    int64
	Name  string
	Title string
}

func (p *Person) DisplayName() string { return p.Name }
func (p *Person) Label() string       { return p.Title }

func personTranslator(t *testing.T) *Translator {
	t.Helper()
	src, err := schema.Resolve([]*mapping.Mapping{
		mapping.New[Named]("main", mapping.Merge()).Reference("Title", mapping.Column("display_title")).MustBuild(),
		mapping.New[Labelled]("main", mapping.Merge()).Reference("Title", mapping.Column("label_title")).MustBuild(),
		mapping.New[Person]("main").ID("ID").Reference("Name").MustBuild(),
	}, mapping.NewDataSource("main", 0))
	require.NoError(t, err)
	d, err := dialect.For("postgres")
	require.NoError(t, err)
	return NewTranslator(src, d)
}

func zooSource(t *testing.T) *schema.MappingSource {
	t.Helper()
	src, err := schema.Resolve([]*mapping.Mapping{
		mapping.New[Keeper]("main").ID("ID", mapping.AutoIncrement()).Reference("Name").MustBuild(),
		mapping.New[Animal]("main").ID("ID", mapping.AutoIncrement()).Reference("Name").Reference("Keeper").MustBuild(),
		mapping.New[Dog]("main").Reference("Breed").MustBuild(),
		mapping.New[Zoo]("main").
			ID("ID", mapping.AutoIncrement()).
			Reference("Name").
			ManyToOne("Animals", mapping.Cascade(true)).
			ManyToMany("Keepers").
			MustBuild(),
		mapping.New[Tag]("main").ID("Code").Reference("Label").MustBuild(),
		mapping.New[Note]("main").Reference("Text").MustBuild(),
	}, mapping.NewDataSource("main", 0))
	require.NoError(t, err)
	return src
}

func newTranslator(t *testing.T, provider string) *Translator {
	t.Helper()
	d, err := dialect.For(provider)
	require.NoError(t, err)
	return NewTranslator(zooSource(t), d)
}

func typeOf(t *testing.T, tr *Translator, v any) *schema.Type {
	t.Helper()
	typ, ok := tr.Source().Type(reflect.TypeOf(v))
	require.True(t, ok)
	return typ
}

func render(t *testing.T, tr *Translator, c *Command) (string, []any) {
	t.Helper()
	sql, args, err := Render(c, tr.Dialect())
	require.NoError(t, err)
	return sql, args
}
