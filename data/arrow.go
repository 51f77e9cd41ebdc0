package data

import (
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/dianpeng/colsql/schema"
	"github.com/shopspring/decimal"
)

// ArrowType maps a DataType to the Arrow type it is exported as. Decimals
// export as strings, their precision varies per value.
func ArrowType(ty schema.DataType) arrow.DataType {
	switch ty {
	case schema.TypeBoolean:
		return arrow.FixedWidthTypes.Boolean
	case schema.TypeInteger:
		return arrow.PrimitiveTypes.Int64
	case schema.TypeDouble:
		return arrow.PrimitiveTypes.Float64
	case schema.TypeDate:
		return arrow.FixedWidthTypes.Date32
	case schema.TypeTimestampSecond:
		return &arrow.TimestampType{Unit: arrow.Second, TimeZone: "UTC"}
	case schema.TypeTimestampMillisecond:
		return &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: "UTC"}
	case schema.TypeTimestampMicrosecond:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
	case schema.TypeTimestampNanosecond:
		return &arrow.TimestampType{Unit: arrow.Nanosecond, TimeZone: "UTC"}
	default:
		return arrow.BinaryTypes.String
	}
}

// FromArrowType maps an Arrow type back to a DataType. Types without a
// native counterpart come back as Utf8.
func FromArrowType(ty arrow.DataType) schema.DataType {
	switch ty.ID() {
	case arrow.BOOL:
		return schema.TypeBoolean
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return schema.TypeInteger
	case arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64:
		return schema.TypeDouble
	case arrow.DECIMAL128, arrow.DECIMAL256:
		return schema.TypeDecimal
	case arrow.DATE32, arrow.DATE64:
		return schema.TypeDate
	case arrow.TIMESTAMP:
		switch ty.(*arrow.TimestampType).Unit {
		case arrow.Second:
			return schema.TypeTimestampSecond
		case arrow.Millisecond:
			return schema.TypeTimestampMillisecond
		case arrow.Microsecond:
			return schema.TypeTimestampMicrosecond
		default:
			return schema.TypeTimestampNanosecond
		}
	default:
		return schema.TypeUtf8
	}
}

// ArrowSchema converts a schema. Field names are qualified names.
func ArrowSchema(s *schema.Schema) *arrow.Schema {
	fields := make([]arrow.Field, 0, s.Len())
	for _, f := range s.Fields() {
		fields = append(fields, arrow.Field{
			Name:     f.QualifiedName(),
			Type:     ArrowType(f.Type),
			Nullable: true,
		})
	}
	return arrow.NewSchema(fields, nil)
}

// ToArrow exports the batch. The caller owns the record and must Release it.
func (self *RecordBatch) ToArrow(mem memory.Allocator) arrow.Record {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	cols := make([]arrow.Array, 0, len(self.arrays))
	for idx, arr := range self.arrays {
		cols = append(cols, exportArray(mem, self.schema.Field(idx).Type, arr))
	}
	rec := array.NewRecord(ArrowSchema(self.schema), cols, int64(self.RowCount()))
	for _, c := range cols {
		c.Release()
	}
	return rec
}

func exportArray(mem memory.Allocator, ty schema.DataType, arr RecordArray) arrow.Array {
	n := arr.Len()
	switch ty {
	case schema.TypeBoolean:
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		for idx := 0; idx < n; idx++ {
			if v, ok := arr.Get(idx).(bool); ok {
				b.Append(v)
			} else {
				b.AppendNull()
			}
		}
		return b.NewArray()
	case schema.TypeInteger:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		for idx := 0; idx < n; idx++ {
			if v, ok := arr.Get(idx).(int64); ok {
				b.Append(v)
			} else {
				b.AppendNull()
			}
		}
		return b.NewArray()
	case schema.TypeDouble:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		for idx := 0; idx < n; idx++ {
			if v, ok := arr.Get(idx).(float64); ok {
				b.Append(v)
			} else {
				b.AppendNull()
			}
		}
		return b.NewArray()
	case schema.TypeDate:
		b := array.NewDate32Builder(mem)
		defer b.Release()
		for idx := 0; idx < n; idx++ {
			if v, ok := arr.Get(idx).(time.Time); ok {
				b.Append(arrow.Date32FromTime(v))
			} else {
				b.AppendNull()
			}
		}
		return b.NewArray()
	case schema.TypeTimestampSecond,
		schema.TypeTimestampMillisecond,
		schema.TypeTimestampMicrosecond,
		schema.TypeTimestampNanosecond:
		tt := ArrowType(ty).(*arrow.TimestampType)
		b := array.NewTimestampBuilder(mem, tt)
		defer b.Release()
		for idx := 0; idx < n; idx++ {
			v, ok := arr.Get(idx).(time.Time)
			if !ok {
				b.AppendNull()
				continue
			}
			var ts int64
			switch tt.Unit {
			case arrow.Second:
				ts = v.Unix()
			case arrow.Millisecond:
				ts = v.UnixMilli()
			case arrow.Microsecond:
				ts = v.UnixMicro()
			default:
				ts = v.UnixNano()
			}
			b.Append(arrow.Timestamp(ts))
		}
		return b.NewArray()
	default:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		for idx := 0; idx < n; idx++ {
			v := arr.Get(idx)
			if v == nil {
				b.AppendNull()
				continue
			}
			b.Append(FormatValue(ty, v))
		}
		return b.NewArray()
	}
}

// ArrowValue reads row idx of an Arrow column as a value accepted by
// RecordArray.Add.
func ArrowValue(col arrow.Array, idx int) any {
	if col.IsNull(idx) {
		return nil
	}
	switch c := col.(type) {
	case *array.Boolean:
		return c.Value(idx)
	case *array.Int8:
		return int64(c.Value(idx))
	case *array.Int16:
		return int64(c.Value(idx))
	case *array.Int32:
		return int64(c.Value(idx))
	case *array.Int64:
		return c.Value(idx)
	case *array.Uint8:
		return int64(c.Value(idx))
	case *array.Uint16:
		return int64(c.Value(idx))
	case *array.Uint32:
		return int64(c.Value(idx))
	case *array.Uint64:
		return int64(c.Value(idx))
	case *array.Float32:
		return float64(c.Value(idx))
	case *array.Float64:
		return c.Value(idx)
	case *array.String:
		return c.Value(idx)
	case *array.Date32:
		return c.Value(idx).ToTime()
	case *array.Date64:
		return c.Value(idx).ToTime()
	case *array.Timestamp:
		unit := c.DataType().(*arrow.TimestampType).Unit
		return c.Value(idx).ToTime(unit).UTC()
	case *array.Decimal128:
		scale := c.DataType().(*arrow.Decimal128Type).Scale
		return decimal.NewFromBigInt(c.Value(idx).BigInt(), -scale)
	default:
		return col.ValueStr(idx)
	}
}
