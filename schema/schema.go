package schema

import (
	"fmt"
	"strings"
)

// Field is one qualified column. Qualifier is the table (or alias) name and
// may be empty.
type Field struct {
	Name      string
	Type      DataType
	Qualifier string
}

func NewField(name string, ty DataType) Field {
	return Field{Name: name, Type: ty}
}

func NewQualifiedField(qualifier, name string, ty DataType) Field {
	return Field{Name: name, Type: ty, Qualifier: qualifier}
}

// QualifiedName returns qualifier.name, or just name if not qualified.
func (self Field) QualifiedName() string {
	if self.Qualifier == "" {
		return self.Name
	}
	return self.Qualifier + "." + self.Name
}

func (self Field) String() string {
	return fmt.Sprintf("%s:%s", self.QualifiedName(), self.Type)
}

// Schema is an ordered list of fields. The position of a field is the column
// index of the matching array in every batch built from the schema.
type Schema struct {
	fields []Field
}

func NewSchema(fields ...Field) *Schema {
	f := make([]Field, len(fields))
	copy(f, fields)
	return &Schema{fields: f}
}

func Empty() *Schema {
	return &Schema{}
}

func (self *Schema) Fields() []Field {
	return self.fields
}

func (self *Schema) Len() int {
	return len(self.fields)
}

func (self *Schema) Field(idx int) Field {
	return self.fields[idx]
}

// IndexOf resolves a column. An empty qualifier matches the first field with
// that name regardless of its qualifier; a non-empty qualifier requires an
// exact (qualifier, name) match. Returns -1 when nothing matches.
func (self *Schema) IndexOf(qualifier, name string) int {
	for idx, f := range self.fields {
		if f.Name != name {
			continue
		}
		if qualifier == "" || f.Qualifier == qualifier {
			return idx
		}
	}
	return -1
}

// MatchCount returns how many fields an unqualified name matches.
func (self *Schema) MatchCount(name string) int {
	cnt := 0
	for _, f := range self.fields {
		if f.Name == name {
			cnt++
		}
	}
	return cnt
}

func (self *Schema) FieldByName(qualifier, name string) (Field, bool) {
	idx := self.IndexOf(qualifier, name)
	if idx < 0 {
		return Field{}, false
	}
	return self.fields[idx], true
}

func (self *Schema) HasField(qualifier, name string) bool {
	return self.IndexOf(qualifier, name) >= 0
}

// Join concatenates two schemas, keeping order and duplicated names.
func (self *Schema) Join(other *Schema) *Schema {
	fields := make([]Field, 0, len(self.fields)+len(other.fields))
	fields = append(fields, self.fields...)
	fields = append(fields, other.fields...)
	return &Schema{fields: fields}
}

// Merge appends every field of other whose name is not present yet.
func (self *Schema) Merge(other *Schema) *Schema {
	fields := make([]Field, 0, len(self.fields)+len(other.fields))
	fields = append(fields, self.fields...)
	for _, f := range other.fields {
		if self.IndexOf("", f.Name) < 0 {
			fields = append(fields, f)
		}
	}
	return &Schema{fields: fields}
}

// Project returns a schema holding the fields at indices, in that order.
func (self *Schema) Project(indices []int) (*Schema, error) {
	fields := make([]Field, 0, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(self.fields) {
			return nil, fmt.Errorf("project index %d out of range [0, %d)", idx, len(self.fields))
		}
		fields = append(fields, self.fields[idx])
	}
	return &Schema{fields: fields}, nil
}

// WithQualifier returns a copy of the schema with every field requalified.
func (self *Schema) WithQualifier(qualifier string) *Schema {
	fields := make([]Field, len(self.fields))
	for idx, f := range self.fields {
		f.Qualifier = qualifier
		fields[idx] = f
	}
	return &Schema{fields: fields}
}

func (self *Schema) Equal(other *Schema) bool {
	if self == other {
		return true
	}
	if self == nil || other == nil {
		return false
	}
	if len(self.fields) != len(other.fields) {
		return false
	}
	for idx, f := range self.fields {
		if f != other.fields[idx] {
			return false
		}
	}
	return true
}

func (self *Schema) String() string {
	parts := make([]string, 0, len(self.fields))
	for _, f := range self.fields {
		parts = append(parts, f.String())
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
