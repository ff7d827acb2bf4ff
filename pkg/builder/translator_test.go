package builder

import (
	"testing"

	"github.com/marshallshelly/inflatable/pkg/query"
	"github.com/marshallshelly/inflatable/pkg/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslator_Translate(t *testing.T) {
	tr := newTranslator(t, "postgres")

	tests := []struct {
		name     string
		desc     *query.Description
		union    bool
		wantSQL  []string
		wantArgs [][]any
	}{
		{
			name: "one select per concrete type",
			desc: query.For[Animal]().Where(query.Eq("Name", "Rex")).Description(),
			wantSQL: []string{
				`SELECT t0."id", t0."name", t0."keeper_id" FROM "animal" AS t0 WHERE t0."name" = $1`,
				`SELECT t0."id", t0."breed", t0."name", t0."keeper_id" FROM "dog" AS t0 WHERE t0."name" = $1`,
			},
			wantArgs: [][]any{{"Rex"}, {"Rex"}},
		},
		{
			name: "subtypes without the property are skipped",
			desc: query.For[Animal]().Where(query.Eq("Breed", "Pug")).Description(),
			wantSQL: []string{
				`SELECT t0."id", t0."breed", t0."name", t0."keeper_id" FROM "dog" AS t0 WHERE t0."breed" = $1`,
			},
			wantArgs: [][]any{{"Pug"}},
		},
		{
			name: "ordering skip and take on one statement",
			desc: query.For[Dog]().Where(query.Like("Name", "R%")).OrderBy("Name").Skip(5).Take(10).Description(),
			wantSQL: []string{
				`SELECT t0."id", t0."breed", t0."name", t0."keeper_id" FROM "dog" AS t0 WHERE t0."name" LIKE $1 ORDER BY t0."name" ASC LIMIT $2 OFFSET $3`,
			},
			wantArgs: [][]any{{"R%", 10, 5}},
		},
		{
			name:  "union statements take skip plus take rows",
			desc:  query.For[Dog]().Skip(5).Take(10).Description(),
			union: true,
			wantSQL: []string{
				`SELECT t0."id", t0."breed", t0."name", t0."keeper_id" FROM "dog" AS t0 LIMIT $1`,
			},
			wantArgs: [][]any{{15}},
		},
		{
			name: "reference compared with an entity",
			desc: query.For[Dog]().Where(query.Eq("Keeper", &Keeper{ID: 7})).Description(),
			wantSQL: []string{
				`SELECT t0."id", t0."breed", t0."name", t0."keeper_id" FROM "dog" AS t0 WHERE t0."keeper_id" = $1`,
			},
			wantArgs: [][]any{{int64(7)}},
		},
		{
			name: "reference compared with nil",
			desc: query.For[Dog]().Where(query.Eq("Keeper", nil)).Description(),
			wantSQL: []string{
				`SELECT t0."id", t0."breed", t0."name", t0."keeper_id" FROM "dog" AS t0 WHERE t0."keeper_id" IS NULL`,
			},
			wantArgs: [][]any{nil},
		},
		{
			name: "path through a reference joins",
			desc: query.For[Dog]().Where(query.Eq("Keeper.Name", "Ann")).Description(),
			wantSQL: []string{
				`SELECT t0."id", t0."breed", t0."name", t0."keeper_id" FROM "dog" AS t0 LEFT JOIN "keeper" AS t1 ON t1."id" = t0."keeper_id" WHERE t1."name" = $1`,
			},
			wantArgs: [][]any{{"Ann"}},
		},
		{
			name: "membership and logical operators",
			desc: query.For[Keeper]().Where(query.Or(query.In("ID", 1, 2), query.And(query.Ge("Name", "M"), query.IsNotNull("Name")))).Description(),
			wantSQL: []string{
				`SELECT t0."id", t0."name" FROM "keeper" AS t0 WHERE (t0."id" IN ($1, $2) OR (t0."name" >= $3 AND t0."name" IS NOT NULL))`,
			},
			wantArgs: [][]any{{1, 2, "M"}},
		},
		{
			name: "static true drops the where clause",
			desc: query.For[Keeper]().Where(query.NotIn("Name")).Description(),
			wantSQL: []string{
				`SELECT t0."id", t0."name" FROM "keeper" AS t0`,
			},
			wantArgs: [][]any{nil},
		},
		{
			name: "projection keeps the identity",
			desc: query.For[Dog]().Select("Name").Distinct().Description(),
			wantSQL: []string{
				`SELECT DISTINCT t0."id", t0."name" FROM "dog" AS t0`,
			},
			wantArgs: [][]any{nil},
		},
		{
			name:     "static false yields no statement",
			desc:     query.For[Keeper]().Where(query.In("Name")).Description(),
			wantSQL:  nil,
			wantArgs: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmds, err := tr.Translate(tt.desc, tt.union)
			require.NoError(t, err)
			require.Len(t, cmds, len(tt.wantSQL))
			for i, c := range cmds {
				assert.Equal(t, Select, c.Kind)
				assert.Equal(t, "main", c.DataSource)
				assert.Equal(t, tt.wantSQL[i], c.SQL)
				assert.Equal(t, tt.wantArgs[i], c.Args)
				require.NotNil(t, c.Shape)
				assert.Same(t, c.Type, c.Shape.Type)
			}
		})
	}
}

func TestTranslator_UnionOrderColumns(t *testing.T) {
	tr := newTranslator(t, "postgres")
	cmds, err := tr.Translate(query.For[Animal]().OrderByDescending("Keeper.Name").OrderBy("Name").Take(3).Description(), false)
	require.NoError(t, err)
	require.Len(t, cmds, 2)

	assert.Equal(t,
		`SELECT t0."id", t0."name", t0."keeper_id", t1."name" FROM "animal" AS t0 LEFT JOIN "keeper" AS t1 ON t1."id" = t0."keeper_id" ORDER BY t1."name" DESC, t0."name" ASC LIMIT $1`,
		cmds[0].SQL)
	assert.Equal(t, []any{3}, cmds[0].Args)

	shape := cmds[0].Shape
	require.Len(t, shape.Columns, 4)
	assert.Nil(t, shape.Columns[3])
	assert.Equal(t, []SortKey{{Index: 3, Descending: true}, {Index: 1}}, shape.Orders)
}

func TestTranslator_Errors(t *testing.T) {
	tr := newTranslator(t, "postgres")

	tests := []struct {
		name    string
		desc    *query.Description
		wantErr error
	}{
		{
			name:    "property absent from every subtype",
			desc:    query.For[Animal]().Where(query.Eq("Color", "red")).Description(),
			wantErr: runtime.ErrUnknownProperty,
		},
		{
			name:    "collection in a predicate",
			desc:    query.For[Zoo]().Where(query.IsNull("Animals")).Description(),
			wantErr: runtime.ErrUnsupportedPredicate,
		},
		{
			name:    "unknown property of a joined type",
			desc:    query.For[Dog]().Where(query.Eq("Keeper.Age", 3)).Description(),
			wantErr: runtime.ErrUnknownProperty,
		},
		{
			name:    "unmapped target",
			desc:    query.For[Visitor]().Description(),
			wantErr: runtime.ErrUnmappedType,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.Translate(tt.desc, false)
			require.Error(t, err)
			var te *runtime.TranslationError
			assert.ErrorAs(t, err, &te)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTranslator_AmbiguousProperty(t *testing.T) {
	tr := personTranslator(t)

	tests := []struct {
		name string
		desc *query.Description
	}{
		{name: "ordering", desc: query.For[Person]().OrderBy("Title").Description()},
		{name: "descending ordering", desc: query.For[Person]().OrderByDescending("Title").Description()},
		{name: "projection", desc: query.For[Person]().Select("Name", "Title").Description()},
		{name: "predicate", desc: query.For[Person]().Where(query.Eq("Title", "Dr")).Description()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.Translate(tt.desc, false)
			require.Error(t, err)
			var te *runtime.TranslationError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, "Title", te.Property)
			assert.ErrorIs(t, err, runtime.ErrAmbiguousProperty)
		})
	}

	cmds, err := tr.Translate(query.For[Person]().OrderBy("Name").Description(), false)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
}

func TestTranslator_DoesNotModifyDescription(t *testing.T) {
	tr := newTranslator(t, "postgres")
	desc := query.For[Animal]().Where(query.Not(query.Eq("Name", "Rex"))).Description()
	before := desc.String()

	_, err := tr.Translate(desc, false)
	require.NoError(t, err)
	assert.Equal(t, before, desc.String())
}

func TestTranslator_LoadProperty(t *testing.T) {
	tr := newTranslator(t, "postgres")
	zoo := &Zoo{ID: 3}

	cmds, err := tr.LoadProperty(zoo, "Animals")
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, LoadProperty, cmds[0].Kind)
	assert.Equal(t, `SELECT t0."id", t0."name", t0."keeper_id" FROM "animal" AS t0 WHERE t0."zoo_animals_id" = $1`, cmds[0].SQL)
	assert.Equal(t, `SELECT t0."id", t0."breed", t0."name", t0."keeper_id" FROM "dog" AS t0 WHERE t0."zoo_animals_id" = $1`, cmds[1].SQL)
	assert.Equal(t, []any{int64(3)}, cmds[1].Args)

	cmds, err = tr.LoadProperty(zoo, "Keepers")
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, `SELECT t0."id", t0."name" FROM "keeper" AS t0 INNER JOIN "zoo_keepers" AS l ON l."keeper_id" = t0."id" WHERE l."zoo_id" = $1`, cmds[0].SQL)

	_, err = tr.LoadProperty(zoo, "Name")
	assert.Error(t, err)

	_, err = tr.LoadProperty(&Zoo{}, "Animals")
	assert.ErrorIs(t, err, runtime.ErrMissingIdentity)
}

func TestTranslator_LoadData(t *testing.T) {
	tr := newTranslator(t, "mysql")

	cmds, err := tr.LoadData(typeOf(t, tr, Keeper{}).GoType, []any{int64(7)})
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, LoadData, cmds[0].Kind)
	assert.Equal(t, "SELECT t0.`id`, t0.`name` FROM `keeper` AS t0 WHERE t0.`id` = ?", cmds[0].SQL)
	assert.Equal(t, []any{int64(7)}, cmds[0].Args)

	_, err = tr.LoadData(typeOf(t, tr, Keeper{}).GoType, []any{1, 2})
	assert.ErrorIs(t, err, runtime.ErrConflictingIdentity)
}
