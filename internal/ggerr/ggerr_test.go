package ggerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAndKindOf(t *testing.T) {
	err := New(Busy, "queue full")
	assert.True(t, Is(err, Busy))
	assert.False(t, Is(err, Invalid))

	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, Busy, kind)

	_, ok = KindOf(errors.New("plain error"))
	assert.False(t, ok)
}

func TestErrorsIsSentinel(t *testing.T) {
	err := Wrap(Remote, "update rejected", errors.New("version mismatch"))
	assert.True(t, errors.Is(err, ErrRemote))
	assert.False(t, errors.Is(err, ErrBusy))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Wrap(Failure, "artifact download", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "FAILURE")
	assert.Contains(t, err.Error(), "timeout")
}

func TestWrapWithFmt(t *testing.T) {
	err := Wrap(Parse, fmt.Sprintf("recipe %q", "foo-1.0.0.json"), errors.New("unexpected end of JSON input"))
	assert.Equal(t, Parse, err.(*Error).Kind)
}
