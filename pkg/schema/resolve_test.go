package schema

import (
	"reflect"
	"testing"

	"github.com/marshallshelly/inflatable/pkg/mapping"
	"github.com/marshallshelly/inflatable/pkg/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Animal struct {
	ID   int64
	Name string
}

type Dog struct {
	Animal
	Breed string
}

type Named interface {
	DisplayName() string
}

type Labelled interface {
	Label() string
}

type Person struct {
	ID    int64
	Code  string
	Name  string
	Title string
}

func (p *Person) DisplayName() string { return p.Name }
func (p *Person) Label() string       { return p.Title }

type Folder struct {
	ID       int64
	Name     string
	Parent   *Folder
	Children []*Folder
	Related  []*Folder
	Owner    *Person
}

type Orphan struct {
	Value string
}

type Holder struct {
	ID     int64
	Orphan *Orphan
}

func resolve(t *testing.T, ds *mapping.DataSource, ms ...*mapping.Mapping) *MappingSource {
	t.Helper()
	src, err := Resolve(ms, ds)
	require.NoError(t, err)
	return src
}

func TestResolve_Inheritance(t *testing.T) {
	src := resolve(t, mapping.NewDataSource("main", 0),
		mapping.New[Animal]("main").ID("ID", mapping.AutoIncrement()).Reference("Name").MustBuild(),
		mapping.New[Dog]("main").Reference("Breed").MustBuild(),
	)

	dog, ok := src.Type(reflect.TypeOf(&Dog{}))
	require.True(t, ok)
	assert.True(t, dog.Concrete)
	assert.Equal(t, "dog", dog.Table)
	require.Len(t, dog.IDs, 1)
	assert.Equal(t, "id", dog.IDs[0].Column)
	assert.Equal(t, []int{0, 0}, dog.IDs[0].Index)
	assert.NotNil(t, dog.Property("Name"))
	assert.NotNil(t, dog.Property("Breed"))

	animal, _ := src.Type(reflect.TypeOf(Animal{}))
	assert.Equal(t, []int{animal.Index}, dog.Parents)
	assert.Equal(t, []int{dog.Index}, animal.Children)

	concrete := src.ConcreteTypes(reflect.TypeOf(Animal{}))
	require.Len(t, concrete, 2)
	assert.Equal(t, "Animal", concrete[0].Name)
	assert.Equal(t, "Dog", concrete[1].Name)

	cols := make([]string, len(dog.Columns))
	for i, c := range dog.Columns {
		cols[i] = c.Name
	}
	assert.Equal(t, []string{"id", "breed", "name"}, cols)
}

func TestResolve_InterfaceMergeSharesIdentity(t *testing.T) {
	src := resolve(t, mapping.NewDataSource("main", 0),
		mapping.New[Named]("main", mapping.Merge()).ID("ID", mapping.AutoIncrement()).Reference("Name").MustBuild(),
		mapping.New[Person]("main").ID("ID", mapping.AutoIncrement()).Reference("Title").MustBuild(),
	)

	person, _ := src.Type(reflect.TypeOf(Person{}))
	require.Len(t, person.IDs, 1)
	assert.True(t, person.AutoIncrement())
	assert.NotNil(t, person.Property("Name"))

	named, _ := src.Type(reflect.TypeOf((*Named)(nil)).Elem())
	assert.False(t, named.Concrete)
	assert.Equal(t, reflect.TypeOf(int64(0)), named.IDs[0].Type)
	assert.Equal(t, []*Type{person}, src.ConcreteTypes(named.GoType))
}

func TestResolve_IdentityConflicts(t *testing.T) {
	tests := []struct {
		name     string
		mappings []*mapping.Mapping
	}{
		{
			name: "incompatible auto increment",
			mappings: []*mapping.Mapping{
				mapping.New[Named]("main", mapping.Merge()).ID("ID", mapping.AutoIncrement()).MustBuild(),
				mapping.New[Person]("main").ID("ID").MustBuild(),
			},
		},
		{
			name: "different identity names",
			mappings: []*mapping.Mapping{
				mapping.New[Named]("main", mapping.Merge()).ID("Code").MustBuild(),
				mapping.New[Person]("main").ID("ID").MustBuild(),
			},
		},
		{
			name: "generated composite",
			mappings: []*mapping.Mapping{
				mapping.New[Person]("main").ID("ID", mapping.AutoIncrement()).ID("Code").MustBuild(),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.mappings, mapping.NewDataSource("main", 0))
			require.Error(t, err)
			var re *runtime.ResolutionError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, "main", re.DataSource)
			assert.ErrorIs(t, err, runtime.ErrConflictingIdentity)
		})
	}
}

func TestResolve_AmbiguousProperty(t *testing.T) {
	src := resolve(t, mapping.NewDataSource("main", 0),
		mapping.New[Named]("main", mapping.Merge()).Reference("Title", mapping.Column("display_title")).MustBuild(),
		mapping.New[Labelled]("main", mapping.Merge()).Reference("Title", mapping.Column("label_title")).MustBuild(),
		mapping.New[Person]("main").ID("ID").Reference("Name").MustBuild(),
	)
	person, _ := src.Type(reflect.TypeOf(Person{}))

	_, err := person.Lookup("Title")
	assert.ErrorIs(t, err, runtime.ErrAmbiguousProperty)

	_, err = person.Lookup("Missing")
	assert.ErrorIs(t, err, runtime.ErrUnknownProperty)

	p, err := person.Lookup("Name")
	require.NoError(t, err)
	assert.Equal(t, "name", p.Column)
}

func TestResolve_OwnDeclarationWins(t *testing.T) {
	src := resolve(t, mapping.NewDataSource("main", 0),
		mapping.New[Named]("main", mapping.Merge()).Reference("Title", mapping.Column("display_title")).MustBuild(),
		mapping.New[Labelled]("main", mapping.Merge()).Reference("Title", mapping.Column("label_title")).MustBuild(),
		mapping.New[Person]("main").ID("ID").Reference("Title", mapping.Column("title")).MustBuild(),
	)
	person, _ := src.Type(reflect.TypeOf(Person{}))
	p, err := person.Lookup("Title")
	require.NoError(t, err)
	assert.Equal(t, "title", p.Column)
}

func TestResolve_Relationships(t *testing.T) {
	ds := mapping.NewDataSource("main", 0)
	ds.TablePrefix = "app_"
	src := resolve(t, ds,
		mapping.New[Person]("main").ID("ID", mapping.AutoIncrement()).Reference("Name").MustBuild(),
		mapping.New[Folder]("main").
			ID("ID", mapping.AutoIncrement()).
			Reference("Name").
			ManyToOne("Parent").
			ManyToOne("Children", mapping.Cascade(true)).
			ManyToMany("Related").
			Reference("Owner", mapping.ForeignKey("owner_ref")).
			MustBuild(),
	)
	folder, _ := src.Type(reflect.TypeOf(Folder{}))
	assert.Equal(t, "app_folder", folder.Table)

	parent := folder.Property("Parent").Relationship
	require.NotNil(t, parent)
	assert.False(t, parent.Collection)
	assert.Equal(t, []string{"parent_id"}, parent.Columns)

	children := folder.Property("Children").Relationship
	require.NotNil(t, children)
	assert.True(t, children.Cascade)
	assert.True(t, children.Collection)
	assert.Equal(t, []string{"folder_children_id"}, children.Columns)
	require.Len(t, folder.BackReferences, 1)
	assert.Equal(t, "Children", folder.BackReferences[0].Property)

	related := folder.Property("Related").Relationship
	require.NotNil(t, related)
	assert.Equal(t, "app_folder_related", related.LinkTable)
	assert.Equal(t, []string{"folder_id"}, related.OwnerColumns)
	assert.Equal(t, []string{"related_folder_id"}, related.TargetColumns)
	require.Len(t, src.LinkTables(), 1)

	owner := folder.Property("Owner").Relationship
	require.NotNil(t, owner)
	assert.Equal(t, []string{"owner_ref"}, owner.Columns)

	kinds := map[string]ColumnKind{}
	for _, c := range folder.Columns {
		kinds[c.Name] = c.Kind
	}
	assert.Equal(t, map[string]ColumnKind{
		"id":                 IDColumn,
		"name":               ScalarColumn,
		"parent_id":          ForeignKeyColumn,
		"owner_ref":          ForeignKeyColumn,
		"folder_children_id": BackReferenceColumn,
	}, kinds)
}

func TestResolve_Failures(t *testing.T) {
	ds := mapping.NewDataSource("main", 0)

	_, err := Resolve([]*mapping.Mapping{
		mapping.New[Orphan]("main").Reference("Value").MustBuild(),
		mapping.New[Holder]("main").ID("ID").Map("Orphan").MustBuild(),
	}, ds)
	assert.ErrorIs(t, err, runtime.ErrMissingIdentity)

	_, err = Resolve([]*mapping.Mapping{
		mapping.New[Holder]("main").ID("ID").Map("Orphan").MustBuild(),
	}, ds)
	assert.ErrorIs(t, err, runtime.ErrUnmappedType)

	_, err = Resolve([]*mapping.Mapping{
		mapping.New[Person]("main").ID("ID").MustBuild(),
		mapping.New[Person]("main").ID("ID").MustBuild(),
	}, ds)
	assert.Error(t, err)
}

func TestResolve_ScalarPointerIsNotRelationship(t *testing.T) {
	// Orphan is unmapped, so Holder.Orphan stays a plain reference.
	src := resolve(t, mapping.NewDataSource("main", 0),
		mapping.New[Holder]("main").ID("ID").Reference("Orphan").MustBuild(),
	)
	holder, _ := src.Type(reflect.TypeOf(Holder{}))
	assert.True(t, holder.Property("Orphan").IsScalar())
	assert.True(t, holder.Property("Orphan").Nullable)
}

func TestResolve_IgnoresOtherDataSources(t *testing.T) {
	src := resolve(t, mapping.NewDataSource("main", 0),
		mapping.New[Person]("main").ID("ID").MustBuild(),
		mapping.New[Animal]("archive").ID("ID").MustBuild(),
	)
	_, ok := src.Type(reflect.TypeOf(Animal{}))
	assert.False(t, ok)
	assert.Len(t, src.Types(), 1)
}

func TestUnderscore(t *testing.T) {
	tests := map[string]string{
		"BoolValue":    "bool_value",
		"ID":           "id",
		"ParentID":     "parent_id",
		"HTTPServer":   "http_server",
		"Name":         "name",
		"AllReference": "all_reference",
	}
	for in, want := range tests {
		assert.Equal(t, want, Underscore(in), in)
	}
}

func TestIDValuesAndIsNew(t *testing.T) {
	src := resolve(t, mapping.NewDataSource("main", 0),
		mapping.New[Animal]("main").ID("ID", mapping.AutoIncrement()).MustBuild(),
		mapping.New[Dog]("main").MustBuild(),
	)
	dog, _ := src.Type(reflect.TypeOf(Dog{}))
	d := &Dog{}
	assert.True(t, dog.IsNew(reflect.ValueOf(d)))
	d.ID = 9
	assert.False(t, dog.IsNew(reflect.ValueOf(d)))
	assert.Equal(t, []any{int64(9)}, dog.IDValues(reflect.ValueOf(d)))
}
