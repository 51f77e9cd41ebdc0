package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaLookup(t *testing.T) {
	assert := assert.New(t)

	s := NewSchema(
		NewQualifiedField("t1", "a", TypeInteger),
		NewQualifiedField("t1", "b", TypeUtf8),
		NewQualifiedField("t2", "a", TypeDouble),
	)

	assert.Equal(0, s.IndexOf("", "a"))
	assert.Equal(2, s.IndexOf("t2", "a"))
	assert.Equal(1, s.IndexOf("t1", "b"))
	assert.Equal(-1, s.IndexOf("t2", "b"))
	assert.Equal(-1, s.IndexOf("", "c"))
	assert.Equal(2, s.MatchCount("a"))

	f, ok := s.FieldByName("t2", "a")
	assert.True(ok)
	assert.Equal(TypeDouble, f.Type)
	assert.Equal("t2.a", f.QualifiedName())
}

func TestSchemaJoin(t *testing.T) {
	assert := assert.New(t)

	cases := []struct {
		l *Schema
		r *Schema
	}{
		{Empty(), Empty()},
		{NewSchema(NewField("a", TypeInteger)), Empty()},
		{
			NewSchema(NewField("a", TypeInteger), NewField("b", TypeUtf8)),
			NewSchema(NewField("a", TypeInteger), NewField("c", TypeDate)),
		},
	}

	for _, c := range cases {
		j := c.l.Join(c.r)
		assert.Equal(c.l.Len()+c.r.Len(), j.Len())
		for idx := 0; idx < c.l.Len(); idx++ {
			assert.Equal(c.l.Field(idx), j.Field(idx))
		}
		for idx := 0; idx < c.r.Len(); idx++ {
			assert.Equal(c.r.Field(idx), j.Field(c.l.Len()+idx))
		}
	}
}

func TestSchemaMergeProjectEqual(t *testing.T) {
	assert := assert.New(t)

	l := NewSchema(NewField("a", TypeInteger), NewField("b", TypeUtf8))
	r := NewSchema(NewField("b", TypeUtf8), NewField("c", TypeDouble))

	m := l.Merge(r)
	assert.Equal(3, m.Len())
	assert.Equal("c", m.Field(2).Name)

	p, err := m.Project([]int{2, 0})
	assert.Nil(err)
	assert.True(p.Equal(NewSchema(NewField("c", TypeDouble), NewField("a", TypeInteger))))
	assert.False(p.Equal(l))

	_, err = m.Project([]int{5})
	assert.NotNil(err)

	q := l.WithQualifier("x")
	assert.Equal("x", q.Field(1).Qualifier)
	assert.Equal("", l.Field(1).Qualifier)
}

func TestCoerce(t *testing.T) {
	assert := assert.New(t)

	ty, ok := Coerce(TypeInteger, TypeDouble)
	assert.True(ok)
	assert.Equal(TypeDouble, ty)

	ty, ok = Coerce(TypeInteger, TypeDecimal)
	assert.True(ok)
	assert.Equal(TypeDecimal, ty)

	ty, ok = Coerce(TypeUtf8, TypeInteger)
	assert.True(ok)
	assert.Equal(TypeInteger, ty)

	ty, ok = Coerce(TypeDate, TypeTimestampSecond)
	assert.True(ok)
	assert.Equal(TypeTimestampSecond, ty)

	_, ok = Coerce(TypeBoolean, TypeDate)
	assert.False(ok)

	ty, ok = ParseDataType("varchar(20)")
	assert.True(ok)
	assert.Equal(TypeUtf8, ty)
}
