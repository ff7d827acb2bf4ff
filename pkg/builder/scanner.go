package builder

import (
	"bytes"
	"database/sql"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/marshallshelly/inflatable/pkg/schema"
	"github.com/marshallshelly/inflatable/pkg/track"
)

// SortKey is the position of an ordering column in a result row.
type SortKey struct {
	Index      int
	Descending bool
}

// Shape describes the rows returned by a read command.
type Shape struct {
	Type *schema.Type
	// Columns holds one entry per selected column. Entries are nil for
	// columns selected only to order the union of several statements.
	Columns []*schema.Column
	Orders  []SortKey
}

// Materialize builds a new entity from a row and returns a pointer to it.
func (s *Shape) Materialize(row []any) (any, error) {
	ptr := reflect.New(s.Type.GoType)
	if err := s.scan(ptr.Elem(), row, false); err != nil {
		return nil, err
	}
	entity := ptr.Interface()
	s.recordKeys(entity, row)
	return entity, nil
}

// Fill copies the non-null values of a row into the zero fields of an
// existing entity of the same type. It merges the columns of one entity
// stored in several data sources.
func (s *Shape) Fill(entity any, row []any) error {
	v := schema.Indirect(reflect.ValueOf(entity))
	if !v.IsValid() || v.Type() != s.Type.GoType {
		return fmt.Errorf("cannot fill %T from %s rows", entity, s.Type.Name)
	}
	if err := s.scan(v, row, true); err != nil {
		return err
	}
	s.recordKeys(entity, row)
	return nil
}

// Identity returns a key identifying the entity of a row across statements
// and data sources. It reports false when the shape selects no identity
// column, in which case every row is an entity of its own.
func (s *Shape) Identity(row []any) (string, bool) {
	var b bytes.Buffer
	b.WriteString(s.Type.GoType.String())
	var found bool
	for i, c := range s.Columns {
		if c != nil && c.Kind == schema.IDColumn {
			fmt.Fprintf(&b, "|%v", normalize(row[i]))
			found = true
		}
	}
	if !found {
		return "", false
	}
	return b.String(), true
}

func (s *Shape) scan(v reflect.Value, row []any, onlyZero bool) error {
	if len(row) != len(s.Columns) {
		return fmt.Errorf("row has %d values for %d columns", len(row), len(s.Columns))
	}
	for i, c := range s.Columns {
		if c == nil {
			continue
		}
		var index []int
		switch c.Kind {
		case schema.IDColumn:
			index = s.Type.IDs[c.Ordinal].Index
		case schema.ScalarColumn:
			index = c.Property.Index
		default:
			continue
		}
		f, ok := schema.Field(v, index, true)
		if !ok {
			return fmt.Errorf("cannot reach field for column %s", c.Name)
		}
		if onlyZero && (!f.IsZero() || row[i] == nil) {
			continue
		}
		if err := Assign(f, row[i]); err != nil {
			return fmt.Errorf("column %s: %w", c.Name, err)
		}
	}
	return nil
}

// recordKeys hands foreign keys read with a tracked entity to its state, so
// that the referenced entity can be loaded later.
func (s *Shape) recordKeys(entity any, row []any) {
	state := track.Of(entity)
	if state == nil {
		return
	}
	keys := make(map[string][]any)
	var order []string
	for i, c := range s.Columns {
		if c == nil || c.Kind != schema.ForeignKeyColumn {
			continue
		}
		name := c.Property.Name
		if _, ok := keys[name]; !ok {
			order = append(order, name)
			keys[name] = make([]any, len(c.Property.Relationship.Columns))
		}
		keys[name][c.Ordinal] = row[i]
	}
	for _, name := range order {
		key := keys[name]
		if allNil(key) {
			// Nothing to load: the reference is stored as null.
			state.MarkLoaded(name)
			continue
		}
		state.SetForeignKey(name, key)
	}
}

func allNil(values []any) bool {
	for _, v := range values {
		if v != nil {
			return false
		}
	}
	return true
}

// SetIdentity writes a generated identity into an entity.
func SetIdentity(t *schema.Type, entity any, id int64) error {
	if !t.AutoIncrement() {
		return fmt.Errorf("%s has no generated identity", t.Name)
	}
	f, ok := schema.Field(schema.Indirect(reflect.ValueOf(entity)), t.IDs[0].Index, true)
	if !ok || !f.CanSet() {
		return fmt.Errorf("cannot set identity of %T", entity)
	}
	return Assign(f, id)
}

var scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()

// Assign stores a driver value into a field, converting between the
// representations drivers and the cache codec produce.
func Assign(dst reflect.Value, src any) error {
	if src == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	if dst.CanAddr() && dst.Addr().Type().Implements(scannerType) {
		return dst.Addr().Interface().(sql.Scanner).Scan(src)
	}
	if dst.Kind() == reflect.Pointer {
		elem := reflect.New(dst.Type().Elem())
		if err := Assign(elem.Elem(), src); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	sv := reflect.ValueOf(src)
	if sv.Type().AssignableTo(dst.Type()) {
		dst.Set(sv)
		return nil
	}
	switch {
	case isNumber(sv.Kind()) && isNumber(dst.Kind()):
		dst.Set(sv.Convert(dst.Type()))
		return nil
	case dst.Kind() == reflect.Bool && isNumber(sv.Kind()):
		dst.SetBool(!sv.IsZero())
		return nil
	}

	switch s := src.(type) {
	case []byte:
		return assignText(dst, string(s), src)
	case string:
		return assignText(dst, s, src)
	}
	return fmt.Errorf("cannot assign %T to %s", src, dst.Type())
}

func assignText(dst reflect.Value, s string, src any) error {
	switch {
	case dst.Kind() == reflect.String:
		dst.SetString(s)
		return nil
	case dst.Kind() == reflect.Slice && dst.Type().Elem().Kind() == reflect.Uint8:
		dst.SetBytes([]byte(s))
		return nil
	case dst.Type() == reflect.TypeOf(time.Time{}):
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				dst.Set(reflect.ValueOf(t))
				return nil
			}
		}
	case dst.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		dst.SetBool(b)
		return nil
	case isInt(dst.Kind()):
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		dst.SetInt(n)
		return nil
	case isUint(dst.Kind()):
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return err
		}
		dst.SetUint(n)
		return nil
	case dst.Kind() == reflect.Float32 || dst.Kind() == reflect.Float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		dst.SetFloat(f)
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", src, dst.Type())
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

func isNumber(k reflect.Kind) bool {
	return isInt(k) || isUint(k) || k == reflect.Float32 || k == reflect.Float64
}

// normalize maps equal values of different numeric and text types to one
// representation.
func normalize(v any) any {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil
	}
	switch {
	case isInt(rv.Kind()):
		return rv.Int()
	case isUint(rv.Kind()):
		if u := rv.Uint(); u <= 1<<63-1 {
			return int64(u)
		}
		return rv.Uint()
	case rv.Kind() == reflect.Float32:
		return rv.Float()
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// Compare orders two column values: nulls first, then numbers, text,
// booleans and times by their natural order.
func Compare(a, b any) int {
	a, b = normalize(a), normalize(b)
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmpOrdered(x, y)
		case float64:
			return cmpOrdered(float64(x), y)
		}
	case float64:
		switch y := b.(type) {
		case float64:
			return cmpOrdered(x, y)
		case int64:
			return cmpOrdered(x, float64(y))
		}
	case string:
		if y, ok := b.(string); ok {
			return cmpOrdered(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	return cmpOrdered(fmt.Sprint(a), fmt.Sprint(b))
}

func cmpOrdered[T int64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
