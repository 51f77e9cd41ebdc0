package data

import (
	"strings"

	"github.com/dianpeng/colsql/schema"
)

// ScalarValue is one typed value. A nil Value is null.
type ScalarValue struct {
	Type  schema.DataType
	Value any
}

// NewScalar builds a scalar of ty, converting v. Values that cannot be
// converted become null.
func NewScalar(ty schema.DataType, v any) ScalarValue {
	if v == nil {
		return ScalarValue{Type: ty}
	}
	x, ok := Convert(ty, v)
	if !ok {
		return ScalarValue{Type: ty}
	}
	return ScalarValue{Type: ty, Value: x}
}

func NullScalar(ty schema.DataType) ScalarValue {
	return ScalarValue{Type: ty}
}

func (self ScalarValue) IsNull() bool {
	return self.Value == nil
}

func (self ScalarValue) String() string {
	return FormatValue(self.Type, self.Value)
}

// Literal renders the scalar the way it would be written in SQL text.
func (self ScalarValue) Literal() string {
	if self.Value == nil {
		return "NULL"
	}
	if self.Type == schema.TypeUtf8 || self.Type.IsTemporal() {
		return "'" + strings.ReplaceAll(FormatValue(self.Type, self.Value), "'", "''") + "'"
	}
	return FormatValue(self.Type, self.Value)
}

func (self ScalarValue) Equal(other ScalarValue) bool {
	if self.Type != other.Type {
		return false
	}
	if self.Value == nil || other.Value == nil {
		return self.Value == nil && other.Value == nil
	}
	return CompareValues(self.Value, other.Value) == 0
}
