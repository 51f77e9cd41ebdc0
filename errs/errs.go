package errs

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Failure kinds. A query fails as a whole with exactly one of them, callers
// use errors.Is to tell them apart.
var (
	ErrParse        = errors.New("parse failure")
	ErrUnresolved   = errors.New("unresolved reference")
	ErrUnsupported  = errors.New("unsupported construct")
	ErrTypeMismatch = errors.New("type mismatch")
	ErrSchemaShape  = errors.New("schema shape mismatch")
	ErrInvalidPlan  = errors.New("invalid plan")
	ErrCancelled    = errors.New("query cancelled")
)

// New builds an error in the "stage(xxx): msg" shape and marks it with kind.
func New(kind error, stage string, f string, args ...interface{}) error {
	msg := fmt.Sprintf(f, args...)
	return errors.Mark(errors.Newf("stage(%s): %s", stage, msg), kind)
}

func Parse(stage string, f string, args ...interface{}) error {
	return New(ErrParse, stage, f, args...)
}

func Unresolved(stage string, f string, args ...interface{}) error {
	return New(ErrUnresolved, stage, f, args...)
}

func Unsupported(stage string, f string, args ...interface{}) error {
	return New(ErrUnsupported, stage, f, args...)
}

func TypeMismatch(stage string, f string, args ...interface{}) error {
	return New(ErrTypeMismatch, stage, f, args...)
}

func SchemaShape(stage string, f string, args ...interface{}) error {
	return New(ErrSchemaShape, stage, f, args...)
}

func InvalidPlan(stage string, f string, args ...interface{}) error {
	return New(ErrInvalidPlan, stage, f, args...)
}

// Cancelled wraps the context error observed by an operator.
func Cancelled(stage string, cause error) error {
	return errors.Mark(errors.Wrapf(cause, "stage(%s)", stage), ErrCancelled)
}

// Kind returns the failure kind err is marked with, or nil.
func Kind(err error) error {
	for _, k := range []error{
		ErrParse,
		ErrUnresolved,
		ErrUnsupported,
		ErrTypeMismatch,
		ErrSchemaShape,
		ErrInvalidPlan,
		ErrCancelled,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
