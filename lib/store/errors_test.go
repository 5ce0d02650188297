package store

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestErrorIsByCode(t *testing.T) {
	err := NewError(RetCDuplicateName, "extension %q is already registered", "view").WithExtension("view")
	require.ErrorIs(t, err, ErrDuplicateName)
	require.NotErrorIs(t, err, ErrInvalidOperation)

	wrapped := errors.Wrap(err, "register")
	require.ErrorIs(t, wrapped, ErrDuplicateName)
	require.Equal(t, RetCDuplicateName, CodeOf(wrapped))

	var e *Error
	require.True(t, errors.As(wrapped, &e))
	require.Equal(t, "view", e.Extension)
}

func TestErrorCause(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapError(cause, RetCInternalError, "put").WithRow("todos", "t1")
	require.ErrorIs(t, err, cause)
	require.ErrorIs(t, err, ErrInternal)
	require.Equal(t, `eKV error (code InternalError) at todos/t1: put: disk full`, err.Error())

	nested := WrapError(NewError(RetCInvalidQuery, "bad"), RetCExtensionMaintenance, "hook failed")
	require.ErrorIs(t, nested, ErrExtensionMaintenance)
	require.ErrorIs(t, nested, ErrInvalidQuery)
	require.Equal(t, RetCExtensionMaintenance, CodeOf(nested))
}

func TestCodeOf(t *testing.T) {
	require.Equal(t, RetCSuccess, CodeOf(nil))
	require.Equal(t, RetCInternalError, CodeOf(errors.New("plain")))
	require.Equal(t, "ParameterCountMismatch", RetCParameterCountMismatch.String())
}

func TestCollectionKeyOrder(t *testing.T) {
	require.True(t, CK("a", "z").Less(CK("b", "a")))
	require.True(t, CK("a", "a").Less(CK("a", "b")))
	require.Equal(t, 0, CK("a", "b").Compare(CK("a", "b")))
	require.True(t, CollectionKey{}.IsZero())
	require.Equal(t, "todos/t1", CK("todos", "t1").String())
}

func TestChangeSetHelpers(t *testing.T) {
	cs := &ChangeSet{
		Changes:    []Change{{Kind: ChangeInsert, Collection: "todos", Key: "t1"}},
		Extensions: map[string]any{"view": 1},
	}
	require.True(t, cs.Touches("todos"))
	require.False(t, cs.Touches("lists"))
	n, ok := cs.Ext("view")
	require.True(t, ok)
	require.Equal(t, 1, n)

	var none *ChangeSet
	require.False(t, none.Touches("todos"))
	_, ok = none.Ext("view")
	require.False(t, ok)

	require.Equal(t, "object|metadata", (ChangedObject | ChangedMetadata).String())
	require.Equal(t, "touch", ChangeMask(0).String())
}
