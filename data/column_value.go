package data

import (
	"github.com/dianpeng/colsql/schema"
)

// ColumnValue is the result of evaluating a physical expression against a
// batch. It is a view and is not necessarily backed by a RecordArray.
type ColumnValue interface {
	DataType() schema.DataType
	Len() int
	Get(idx int) any
	IsNull(idx int) bool

	columnValue()
}

// ArrayColumnValue wraps existing storage.
type ArrayColumnValue struct {
	Array RecordArray
}

// ScalarColumnValue broadcasts one value to Count rows.
type ScalarColumnValue struct {
	Value ScalarValue
	Count int
}

// BooleanColumnValue is a bitmap, Nulls is nil when no row is null.
type BooleanColumnValue struct {
	Bits  []bool
	Nulls []bool
}

func NewArrayColumnValue(arr RecordArray) *ArrayColumnValue {
	return &ArrayColumnValue{Array: arr}
}

func NewScalarColumnValue(v ScalarValue, count int) *ScalarColumnValue {
	return &ScalarColumnValue{Value: v, Count: count}
}

func NewBooleanColumnValue(bits, nulls []bool) *BooleanColumnValue {
	return &BooleanColumnValue{Bits: bits, Nulls: nulls}
}

func (self *ArrayColumnValue) DataType() schema.DataType { return self.Array.DataType() }
func (self *ArrayColumnValue) Len() int                  { return self.Array.Len() }
func (self *ArrayColumnValue) Get(idx int) any           { return self.Array.Get(idx) }
func (self *ArrayColumnValue) IsNull(idx int) bool       { return self.Array.IsNull(idx) }
func (self *ArrayColumnValue) columnValue()              {}

func (self *ScalarColumnValue) DataType() schema.DataType { return self.Value.Type }
func (self *ScalarColumnValue) Len() int                  { return self.Count }
func (self *ScalarColumnValue) Get(int) any               { return self.Value.Value }
func (self *ScalarColumnValue) IsNull(int) bool           { return self.Value.IsNull() }
func (self *ScalarColumnValue) columnValue()              {}

func (self *BooleanColumnValue) DataType() schema.DataType { return schema.TypeBoolean }
func (self *BooleanColumnValue) Len() int                  { return len(self.Bits) }
func (self *BooleanColumnValue) Get(idx int) any {
	if self.IsNull(idx) {
		return nil
	}
	return self.Bits[idx]
}
func (self *BooleanColumnValue) IsNull(idx int) bool {
	return self.Nulls != nil && self.Nulls[idx]
}
func (self *BooleanColumnValue) columnValue() {}

// ToArray materializes a ColumnValue. An ArrayColumnValue returns its own
// storage, callers that mutate must copy first.
func ToArray(cv ColumnValue) RecordArray {
	switch v := cv.(type) {
	case *ArrayColumnValue:
		return v.Array
	default:
		arr := NewArray(cv.DataType())
		for idx := 0; idx < cv.Len(); idx++ {
			arr.Add(cv.Get(idx))
		}
		return arr
	}
}

// ToMask turns a boolean ColumnValue into a selection mask where null and
// false are both unselected.
func ToMask(cv ColumnValue) []bool {
	if b, ok := cv.(*BooleanColumnValue); ok && b.Nulls == nil {
		return b.Bits
	}
	mask := make([]bool, cv.Len())
	for idx := range mask {
		v, ok := cv.Get(idx).(bool)
		mask[idx] = ok && v
	}
	return mask
}
