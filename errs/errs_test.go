package errs

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindMarking(t *testing.T) {
	assert := assert.New(t)

	err := Unresolved("plan", "unknown column %q", "x")
	assert.Equal(`stage(plan): unknown column "x"`, err.Error())
	assert.True(errors.Is(err, ErrUnresolved))
	assert.False(errors.Is(err, ErrParse))
	assert.Equal(ErrUnresolved, Kind(err))

	wrapped := errors.Wrap(err, "query")
	assert.Equal(ErrUnresolved, Kind(wrapped))

	assert.Nil(Kind(errors.New("plain")))
}

func TestCancelled(t *testing.T) {
	assert := assert.New(t)

	err := Cancelled("filter", context.Canceled)
	assert.True(errors.Is(err, ErrCancelled))
	assert.True(errors.Is(err, context.Canceled))
}
