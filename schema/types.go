package schema

import (
	"strings"
)

type DataType int

const (
	TypeNull DataType = iota
	TypeBoolean
	TypeInteger
	TypeDouble
	TypeDecimal
	TypeDate
	TypeTimestampSecond
	TypeTimestampMillisecond
	TypeTimestampMicrosecond
	TypeTimestampNanosecond
	TypeUtf8
)

func (self DataType) String() string {
	switch self {
	case TypeNull:
		return "Null"
	case TypeBoolean:
		return "Boolean"
	case TypeInteger:
		return "Integer"
	case TypeDouble:
		return "Double"
	case TypeDecimal:
		return "Decimal"
	case TypeDate:
		return "Date"
	case TypeTimestampSecond:
		return "Timestamp(s)"
	case TypeTimestampMillisecond:
		return "Timestamp(ms)"
	case TypeTimestampMicrosecond:
		return "Timestamp(us)"
	case TypeTimestampNanosecond:
		return "Timestamp(ns)"
	case TypeUtf8:
		return "Utf8"
	default:
		return "Unknown"
	}
}

func (self DataType) IsNumeric() bool {
	switch self {
	case TypeInteger, TypeDouble, TypeDecimal:
		return true
	default:
		return false
	}
}

func (self DataType) IsTemporal() bool {
	switch self {
	case TypeDate,
		TypeTimestampSecond,
		TypeTimestampMillisecond,
		TypeTimestampMicrosecond,
		TypeTimestampNanosecond:
		return true
	default:
		return false
	}
}

func (self DataType) IsTimestamp() bool {
	return self.IsTemporal() && self != TypeDate
}

// ParseDataType maps a SQL type name, case insensitive, to a DataType. The
// second return value is false when the name is not known.
func ParseDataType(name string) (DataType, bool) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if idx := strings.IndexByte(n, '('); idx >= 0 {
		n = strings.TrimSpace(n[:idx])
	}
	switch n {
	case "BOOL", "BOOLEAN":
		return TypeBoolean, true
	case "INT", "INT2", "INT4", "INT8", "INTEGER", "BIGINT", "SMALLINT", "TINYINT":
		return TypeInteger, true
	case "REAL", "FLOAT", "FLOAT4", "FLOAT8", "DOUBLE", "DOUBLE PRECISION":
		return TypeDouble, true
	case "NUMERIC", "DECIMAL":
		return TypeDecimal, true
	case "DATE":
		return TypeDate, true
	case "TIMESTAMP", "TIMESTAMPTZ", "DATETIME":
		return TypeTimestampMicrosecond, true
	case "TEXT", "VARCHAR", "CHAR", "STRING", "UTF8", "BPCHAR", "NAME", "CLOB":
		return TypeUtf8, true
	default:
		return TypeNull, false
	}
}

// Coerce returns the common type two operands of an arithmetic or comparison
// operator are evaluated in. The second return value is false when no
// coercion exists.
func Coerce(l, r DataType) (DataType, bool) {
	if l == r {
		return l, true
	}
	if l == TypeNull {
		return r, true
	}
	if r == TypeNull {
		return l, true
	}
	if l.IsNumeric() && r.IsNumeric() {
		if l == TypeDouble || r == TypeDouble {
			return TypeDouble, true
		}
		return TypeDecimal, true
	}
	if l.IsTemporal() && r.IsTemporal() {
		return highestTemporal(l, r), true
	}
	// strings are parsed on demand against the other operand
	if l == TypeUtf8 && r != TypeBoolean {
		return r, true
	}
	if r == TypeUtf8 && l != TypeBoolean {
		return l, true
	}
	if l == TypeUtf8 || r == TypeUtf8 {
		return TypeBoolean, true
	}
	return TypeNull, false
}

func highestTemporal(l, r DataType) DataType {
	if l > r {
		return l
	}
	return r
}
