package data

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dianpeng/colsql/schema"
	"github.com/shopspring/decimal"
)

// Values flowing through arrays and scalars use a small closed set of Go
// types: bool, int64, float64, decimal.Decimal, string and time.Time. A nil
// interface is SQL NULL.

const DateLayout = "2006-01-02"

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	DateLayout,
}

// Convert coerces an arbitrary value into the Go representation of ty. The
// conversion is permissive: anything that cannot be parsed yields ok=false,
// which callers store as null.
func Convert(ty schema.DataType, v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	switch ty {
	case schema.TypeBoolean:
		return ToBool(v)
	case schema.TypeInteger:
		return ToInt(v)
	case schema.TypeDouble:
		return ToFloat(v)
	case schema.TypeDecimal:
		return ToDecimal(v)
	case schema.TypeDate:
		t, ok := ToTime(v)
		if !ok {
			return nil, false
		}
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
	case schema.TypeTimestampSecond:
		return truncTime(v, time.Second)
	case schema.TypeTimestampMillisecond:
		return truncTime(v, time.Millisecond)
	case schema.TypeTimestampMicrosecond:
		return truncTime(v, time.Microsecond)
	case schema.TypeTimestampNanosecond:
		return ToTime(v)
	case schema.TypeUtf8:
		return ToString(v), true
	default:
		return nil, false
	}
}

func truncTime(v any, d time.Duration) (any, bool) {
	t, ok := ToTime(v)
	if !ok {
		return nil, false
	}
	return t.Truncate(d), true
}

func ToBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case int64:
		return x != 0, true
	case float64:
		return x != 0, true
	case decimal.Decimal:
		return !x.IsZero(), true
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "t", "yes", "1":
			return true, true
		case "false", "f", "no", "0":
			return false, true
		}
		return false, false
	default:
		return false, false
	}
}

func ToInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return int64(x), true
	case decimal.Decimal:
		return x.IntPart(), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.TrimSpace(x)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f), true
		}
		return 0, false
	default:
		return 0, false
	}
}

func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case decimal.Decimal:
		f, _ := x.Float64()
		return f, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func ToDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, true
	case int64:
		return decimal.NewFromInt(x), true
	case int:
		return decimal.NewFromInt(int64(x)), true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(x), true
	case bool:
		if x {
			return decimal.NewFromInt(1), true
		}
		return decimal.Zero, true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(x))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}

func ToTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
		return time.Time{}, false
	case int64:
		return time.Unix(x, 0).UTC(), true
	default:
		return time.Time{}, false
	}
}

func ToString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case decimal.Decimal:
		return x.String()
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(DateLayout)
		}
		return x.Format("2006-01-02 15:04:05.999999999")
	default:
		return fmt.Sprintf("%v", x)
	}
}

// FormatValue renders a value of type ty for display. Nulls render as NULL.
func FormatValue(ty schema.DataType, v any) string {
	if v == nil {
		return "NULL"
	}
	if t, ok := v.(time.Time); ok {
		switch ty {
		case schema.TypeDate:
			return t.Format(DateLayout)
		case schema.TypeTimestampSecond:
			return t.Format("2006-01-02 15:04:05")
		case schema.TypeTimestampMillisecond:
			return t.Format("2006-01-02 15:04:05.000")
		case schema.TypeTimestampMicrosecond:
			return t.Format("2006-01-02 15:04:05.000000")
		case schema.TypeTimestampNanosecond:
			return t.Format("2006-01-02 15:04:05.000000000")
		}
	}
	return ToString(v)
}

// CompareValues orders two non-null values of the same Go representation.
func CompareValues(a, b any) int {
	switch x := a.(type) {
	case bool:
		y := b.(bool)
		if x == y {
			return 0
		}
		if !x {
			return -1
		}
		return 1
	case int64:
		y := b.(int64)
		if x < y {
			return -1
		} else if x > y {
			return 1
		}
		return 0
	case float64:
		y := b.(float64)
		if x < y {
			return -1
		} else if x > y {
			return 1
		}
		return 0
	case decimal.Decimal:
		return x.Cmp(b.(decimal.Decimal))
	case string:
		return strings.Compare(x, b.(string))
	case time.Time:
		return x.Compare(b.(time.Time))
	default:
		return strings.Compare(ToString(a), ToString(b))
	}
}

// KeyString encodes a value into a string usable as part of a map key. Two
// values of the same type encode equally iff they are equal.
func KeyString(v any) string {
	switch x := v.(type) {
	case nil:
		return "\x00n"
	case bool:
		return "b" + strconv.FormatBool(x)
	case int64:
		return "i" + strconv.FormatInt(x, 10)
	case float64:
		return "f" + strconv.FormatFloat(x, 'g', -1, 64)
	case decimal.Decimal:
		return "d" + x.String()
	case string:
		return "s" + strconv.Quote(x)
	case time.Time:
		return "t" + strconv.FormatInt(x.UnixNano(), 10)
	default:
		return "?" + fmt.Sprintf("%v", x)
	}
}

// TypeOfValue reports the natural DataType of a Go value.
func TypeOfValue(v any) schema.DataType {
	switch v.(type) {
	case bool:
		return schema.TypeBoolean
	case int64, int:
		return schema.TypeInteger
	case float64:
		return schema.TypeDouble
	case decimal.Decimal:
		return schema.TypeDecimal
	case string:
		return schema.TypeUtf8
	case time.Time:
		return schema.TypeTimestampNanosecond
	default:
		return schema.TypeNull
	}
}
