package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOfClassifiesTypedErrors(t *testing.T) {
	require.Equal(t, ValidationFailed, KindOf(Validationf("bad input")))
	require.Equal(t, NotFound, KindOf(NotFoundf("missing")))
	require.Equal(t, Conflict, KindOf(Conflictf("dup")))
	require.Equal(t, Unavailable, KindOf(Unavailablef("down")))
	require.Equal(t, Internal, KindOf(errors.New("plain error")))
}

func TestWrapPreservesKindAndCause(t *testing.T) {
	cause := errors.New("connection refused")
	wrapped := Wrap(Unavailable, "dial postgres", cause)
	require.Equal(t, Unavailable, KindOf(wrapped))
	require.ErrorIs(t, wrapped, cause)
}

func TestIsCancelled(t *testing.T) {
	require.True(t, IsCancelled(ErrCancelled))
	require.False(t, IsCancelled(Internalf("boom")))
}
