package data

import (
	"fmt"
	"slices"
	"time"

	"github.com/dianpeng/colsql/schema"
	"github.com/shopspring/decimal"
)

// RecordArray is the storage of one column: a homogeneous, nullable,
// growable sequence of values of a single DataType.
type RecordArray interface {
	DataType() schema.DataType
	Len() int

	// Add appends v converted to the array's type. Values that cannot be
	// converted are stored as null.
	Add(v any)
	AddNull()
	Get(idx int) any
	IsNull(idx int) bool

	// Concat appends every value of other, which must share the data type.
	Concat(other RecordArray) error

	// SortIndices returns the indices [start, start+count) ordered by value
	// with a stable comparison. Nulls sort first when ascending.
	SortIndices(descending bool, start, count int) []int

	// Reorder applies perm in place: the new value at i is the old value at
	// perm[i].
	Reorder(perm []int)

	// Slice keeps only the window [offset, offset+count), truncated to the
	// array bounds.
	Slice(offset, count int)
	RemoveAt(idx int)
	FillNull(count int)

	// Take builds a new array from the values at indices; -1 yields null.
	Take(indices []int) RecordArray
	NewEmpty() RecordArray
}

type typedArray[T any] struct {
	ty     schema.DataType
	values []T
	valid  []bool
	conv   func(any) (T, bool)
	cmp    func(T, T) int
}

// NewArray creates an empty array for ty.
func NewArray(ty schema.DataType) RecordArray {
	switch ty {
	case schema.TypeBoolean:
		return newTyped(ty, ToBool, func(a, b bool) int { return CompareValues(a, b) })
	case schema.TypeInteger:
		return newTyped(ty, ToInt, func(a, b int64) int { return CompareValues(a, b) })
	case schema.TypeDouble:
		return newTyped(ty, ToFloat, func(a, b float64) int { return CompareValues(a, b) })
	case schema.TypeDecimal:
		return newTyped(ty, ToDecimal, func(a, b decimal.Decimal) int { return a.Cmp(b) })
	case schema.TypeDate,
		schema.TypeTimestampSecond,
		schema.TypeTimestampMillisecond,
		schema.TypeTimestampMicrosecond,
		schema.TypeTimestampNanosecond:
		return newTyped(ty, func(v any) (time.Time, bool) {
			x, ok := Convert(ty, v)
			if !ok {
				return time.Time{}, false
			}
			return x.(time.Time), true
		}, func(a, b time.Time) int { return a.Compare(b) })
	case schema.TypeUtf8:
		return newTyped(ty, func(v any) (string, bool) {
			if v == nil {
				return "", false
			}
			return ToString(v), true
		}, func(a, b string) int { return CompareValues(a, b) })
	default:
		// a Null typed column only ever holds nulls
		return newTyped(schema.TypeNull, func(any) (string, bool) { return "", false },
			func(a, b string) int { return 0 })
	}
}

// NewArrayFrom creates an array of ty holding values, each converted with
// the permissive Add.
func NewArrayFrom(ty schema.DataType, values ...any) RecordArray {
	arr := NewArray(ty)
	for _, v := range values {
		arr.Add(v)
	}
	return arr
}

func newTyped[T any](ty schema.DataType, conv func(any) (T, bool), cmp func(T, T) int) *typedArray[T] {
	return &typedArray[T]{
		ty:   ty,
		conv: conv,
		cmp:  cmp,
	}
}

func (self *typedArray[T]) DataType() schema.DataType {
	return self.ty
}

func (self *typedArray[T]) Len() int {
	return len(self.values)
}

func (self *typedArray[T]) Add(v any) {
	if v == nil {
		self.AddNull()
		return
	}
	if x, ok := v.(T); ok && self.ty != schema.TypeNull && !self.needsConv() {
		self.values = append(self.values, x)
		self.valid = append(self.valid, true)
		return
	}
	x, ok := self.conv(v)
	if !ok {
		self.AddNull()
		return
	}
	self.values = append(self.values, x)
	self.valid = append(self.valid, true)
}

// time values still pass through conversion so precision truncation applies
func (self *typedArray[T]) needsConv() bool {
	return self.ty.IsTemporal()
}

func (self *typedArray[T]) AddNull() {
	var zero T
	self.values = append(self.values, zero)
	self.valid = append(self.valid, false)
}

func (self *typedArray[T]) Get(idx int) any {
	if !self.valid[idx] {
		return nil
	}
	return self.values[idx]
}

func (self *typedArray[T]) IsNull(idx int) bool {
	return !self.valid[idx]
}

func (self *typedArray[T]) Concat(other RecordArray) error {
	o, ok := other.(*typedArray[T])
	if !ok || o.ty != self.ty {
		return fmt.Errorf("cannot concat %s array with %s array", self.ty, other.DataType())
	}
	self.values = append(self.values, o.values...)
	self.valid = append(self.valid, o.valid...)
	return nil
}

func (self *typedArray[T]) compareAt(a, b int) int {
	va, vb := self.valid[a], self.valid[b]
	switch {
	case !va && !vb:
		return 0
	case !va:
		return -1
	case !vb:
		return 1
	}
	return self.cmp(self.values[a], self.values[b])
}

func (self *typedArray[T]) SortIndices(descending bool, start, count int) []int {
	start = max(start, 0)
	end := min(start+count, len(self.values))
	if start >= end {
		return nil
	}
	idx := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		idx = append(idx, i)
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		if descending {
			return self.compareAt(b, a)
		}
		return self.compareAt(a, b)
	})
	return idx
}

func (self *typedArray[T]) Reorder(perm []int) {
	values := make([]T, len(perm))
	valid := make([]bool, len(perm))
	for i, p := range perm {
		values[i] = self.values[p]
		valid[i] = self.valid[p]
	}
	copy(self.values, values)
	copy(self.valid, valid)
}

func (self *typedArray[T]) Slice(offset, count int) {
	offset = min(max(offset, 0), len(self.values))
	end := min(offset+max(count, 0), len(self.values))
	self.values = self.values[offset:end:end]
	self.valid = self.valid[offset:end:end]
}

func (self *typedArray[T]) RemoveAt(idx int) {
	self.values = slices.Delete(self.values, idx, idx+1)
	self.valid = slices.Delete(self.valid, idx, idx+1)
}

func (self *typedArray[T]) FillNull(count int) {
	for i := 0; i < count; i++ {
		self.AddNull()
	}
}

func (self *typedArray[T]) Take(indices []int) RecordArray {
	out := newTyped(self.ty, self.conv, self.cmp)
	out.values = make([]T, 0, len(indices))
	out.valid = make([]bool, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(self.values) {
			out.AddNull()
			continue
		}
		out.values = append(out.values, self.values[i])
		out.valid = append(out.valid, self.valid[i])
	}
	return out
}

func (self *typedArray[T]) NewEmpty() RecordArray {
	return newTyped(self.ty, self.conv, self.cmp)
}

// InversePermutation returns q such that applying perm then q restores the
// original order.
func InversePermutation(perm []int) []int {
	inv := make([]int, len(perm))
	for i, p := range perm {
		inv[p] = i
	}
	return inv
}
