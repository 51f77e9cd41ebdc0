package accum

import (
	"strings"

	"github.com/dianpeng/colsql/errs"
	"github.com/dianpeng/colsql/schema"
)

type AggKind int

const (
	AggCount AggKind = iota
	AggSum
	AggMin
	AggMax
	AggAvg
	AggMedian
	AggVariance
	AggVariancePop
	AggStddev
	AggStddevPop
	AggCovariance
	AggCovariancePop
)

func (self AggKind) String() string {
	switch self {
	case AggCount:
		return "count"
	case AggSum:
		return "sum"
	case AggMin:
		return "min"
	case AggMax:
		return "max"
	case AggAvg:
		return "avg"
	case AggMedian:
		return "median"
	case AggVariance:
		return "var"
	case AggVariancePop:
		return "var_pop"
	case AggStddev:
		return "stddev"
	case AggStddevPop:
		return "stddev_pop"
	case AggCovariance:
		return "covar"
	case AggCovariancePop:
		return "covar_pop"
	default:
		return "unknown"
	}
}

// ParseAggKind maps a function name, case insensitive, to its kind.
func ParseAggKind(name string) (AggKind, bool) {
	switch strings.ToLower(name) {
	case "count":
		return AggCount, true
	case "sum":
		return AggSum, true
	case "min":
		return AggMin, true
	case "max":
		return AggMax, true
	case "avg", "mean":
		return AggAvg, true
	case "median":
		return AggMedian, true
	case "var", "var_samp", "variance":
		return AggVariance, true
	case "var_pop":
		return AggVariancePop, true
	case "stddev", "stddev_samp":
		return AggStddev, true
	case "stddev_pop":
		return AggStddevPop, true
	case "covar", "covar_samp":
		return AggCovariance, true
	case "covar_pop":
		return AggCovariancePop, true
	default:
		return AggCount, false
	}
}

// ArgCount is the number of arguments the function takes.
func (self AggKind) ArgCount() int {
	switch self {
	case AggCovariance, AggCovariancePop:
		return 2
	default:
		return 1
	}
}

func numericArg(kind AggKind, ty schema.DataType) error {
	switch {
	case ty.IsNumeric(), ty == schema.TypeNull, ty == schema.TypeUtf8:
		return nil
	default:
		return errs.TypeMismatch("aggregate", "%s does not accept %s argument", kind, ty)
	}
}

func checkArgs(kind AggKind, argTypes []schema.DataType) error {
	if len(argTypes) != kind.ArgCount() {
		return errs.InvalidPlan("aggregate", "%s expects %d argument(s), got %d", kind, kind.ArgCount(), len(argTypes))
	}
	switch kind {
	case AggCount, AggMin, AggMax:
		return nil
	default:
		for _, ty := range argTypes {
			if err := numericArg(kind, ty); err != nil {
				return err
			}
		}
		return nil
	}
}

// ReturnType is the type of the finished value.
func ReturnType(kind AggKind, argTypes []schema.DataType) (schema.DataType, error) {
	if err := checkArgs(kind, argTypes); err != nil {
		return schema.TypeNull, err
	}
	switch kind {
	case AggCount:
		return schema.TypeInteger, nil
	case AggSum:
		switch argTypes[0] {
		case schema.TypeInteger, schema.TypeDecimal:
			return argTypes[0], nil
		default:
			return schema.TypeDouble, nil
		}
	case AggMin, AggMax:
		return argTypes[0], nil
	case AggAvg:
		if argTypes[0] == schema.TypeDecimal {
			return schema.TypeDecimal, nil
		}
		return schema.TypeDouble, nil
	default:
		return schema.TypeDouble, nil
	}
}

// StateFields are the partial state columns, in the order State returns
// them, named after the output field name.
func StateFields(kind AggKind, name string, argTypes []schema.DataType, distinct bool) ([]schema.Field, error) {
	ret, err := ReturnType(kind, argTypes)
	if err != nil {
		return nil, err
	}
	f := func(part string, ty schema.DataType) schema.Field {
		return schema.NewField(name+"["+part+"]", ty)
	}
	if distinct {
		return []schema.Field{f("distinct", schema.TypeUtf8)}, nil
	}
	switch kind {
	case AggCount:
		return []schema.Field{f("count", schema.TypeInteger)}, nil
	case AggSum:
		return []schema.Field{f("sum", ret)}, nil
	case AggMin:
		return []schema.Field{f("min", ret)}, nil
	case AggMax:
		return []schema.Field{f("max", ret)}, nil
	case AggAvg:
		return []schema.Field{f("count", schema.TypeInteger), f("sum", ret)}, nil
	case AggMedian:
		return []schema.Field{f("values", schema.TypeUtf8)}, nil
	case AggVariance, AggVariancePop, AggStddev, AggStddevPop:
		return []schema.Field{
			f("count", schema.TypeInteger),
			f("mean", schema.TypeDouble),
			f("m2", schema.TypeDouble),
		}, nil
	default:
		return []schema.Field{
			f("count", schema.TypeInteger),
			f("mean1", schema.TypeDouble),
			f("mean2", schema.TypeDouble),
			f("algo_const", schema.TypeDouble),
		}, nil
	}
}

// New creates a fresh accumulator.
func New(kind AggKind, argTypes []schema.DataType, distinct bool) (Accumulator, error) {
	ret, err := ReturnType(kind, argTypes)
	if err != nil {
		return nil, err
	}
	if distinct {
		if len(argTypes) != 1 {
			return nil, errs.Unsupported("aggregate", "distinct %s with %d arguments", kind, len(argTypes))
		}
		d, err := newDistinct(kind, argTypes)
		if err != nil {
			return nil, err
		}
		return d, nil
	}

	switch kind {
	case AggCount:
		return &countAcc{}, nil
	case AggSum:
		return &sumAcc{ty: ret}, nil
	case AggMin:
		return &minMaxAcc{ty: ret, max: false}, nil
	case AggMax:
		return &minMaxAcc{ty: ret, max: true}, nil
	case AggAvg:
		return &avgAcc{ty: ret}, nil
	case AggMedian:
		return &medianAcc{}, nil
	case AggVariance:
		return &varianceAcc{}, nil
	case AggVariancePop:
		return &varianceAcc{pop: true}, nil
	case AggStddev:
		return &varianceAcc{stddev: true}, nil
	case AggStddevPop:
		return &varianceAcc{pop: true, stddev: true}, nil
	case AggCovariance:
		return &covarianceAcc{}, nil
	case AggCovariancePop:
		return &covarianceAcc{pop: true}, nil
	default:
		return nil, errs.Unsupported("aggregate", "unknown aggregate kind %d", int(kind))
	}
}
